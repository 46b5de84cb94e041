package contract

import (
	"context"
	"crypto/ecdsa"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ruteri/dlt-service-federation/federation"
	"github.com/ruteri/dlt-service-federation/interfaces"
)

//go:embed federation.abi.json
var federationABIJSON string

// FederationABI is the parsed interface of the Federation contract.
var FederationABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(federationABIJSON))
	if err != nil {
		panic(err)
	}
	return parsed
}()

var (
	// ErrNoTransactOpts is returned when a transaction is attempted for a caller
	// the client holds no transactor for.
	ErrNoTransactOpts = errors.New("no authorized transactor available")

	// ErrReverted is returned when a mined transaction has a failed status.
	ErrReverted = errors.New("transaction reverted")
)

// Backend is the chain connection the client needs. Both *ethclient.Client and
// the simulated backend's client satisfy it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ethereum.TransactionReader
	BlockNumber(ctx context.Context) (uint64, error)
}

// Client implements interfaces.FederationLedger on top of a Federation
// contract deployed on an Ethereum-compatible permissioned chain.
type Client struct {
	contract *bind.BoundContract
	backend  Backend
	address  common.Address
	log      *slog.Logger

	// txMu serialises sends so that nonces are taken in order.
	txMu    sync.Mutex
	signers map[interfaces.Identity]*bind.TransactOpts

	eventsMu sync.Mutex
	events   []interfaces.Event
	// nextBlock is the first block not yet scanned for logs.
	nextBlock uint64
}

// NewClient creates a client for the Federation contract at address.
func NewClient(backend Backend, address common.Address, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		contract: bind.NewBoundContract(address, FederationABI, backend, backend, backend),
		backend:  backend,
		address:  address,
		log:      log,
		signers:  make(map[interfaces.Identity]*bind.TransactOpts),
	}
}

// AddSigner registers a key the client may send transactions with.
func (c *Client) AddSigner(key *ecdsa.PrivateKey, chainID *big.Int) (interfaces.Identity, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return interfaces.Identity{}, err
	}
	c.SetTransactOpts(auth)
	return interfaces.Identity(auth.From), nil
}

// SetTransactOpts registers a transactor for auth.From.
func (c *Client) SetTransactOpts(auth *bind.TransactOpts) {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	c.signers[interfaces.Identity(auth.From)] = auth
}

func (c *Client) wrapErr(op federation.Op, id interfaces.ServiceID, caller interfaces.Identity, err error) error {
	if kind, ok := KindForRevert(err); ok {
		return &interfaces.FederationError{Op: string(op), Kind: kind, ServiceID: id, Identity: caller}
	}
	return fmt.Errorf("%w: %s: %v", interfaces.ErrLedgerUnavailable, op, err)
}

func (c *Client) transact(ctx context.Context, op federation.Op, id interfaces.ServiceID, caller interfaces.Identity, method string, params ...any) (*interfaces.Receipt, error) {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	auth, ok := c.signers[caller]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTransactOpts, caller)
	}
	opts := *auth
	opts.Context = ctx

	tx, err := c.contract.Transact(&opts, method, params...)
	if err != nil {
		return nil, c.wrapErr(op, id, caller, err)
	}
	c.log.Debug("Sent federation transaction", "op", op, "txHash", tx.Hash(), "identity", caller)

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("%w: waiting for %s: %v", interfaces.ErrLedgerUnavailable, tx.Hash(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: %s %s", ErrReverted, op, tx.Hash())
	}
	return c.convertReceipt(receipt, caller), nil
}

func (c *Client) convertReceipt(receipt *types.Receipt, from interfaces.Identity) *interfaces.Receipt {
	out := &interfaces.Receipt{
		TxHash: interfaces.TxHash(receipt.TxHash),
		From:   from,
		Events: []interfaces.Event{},
	}
	if receipt.BlockNumber != nil {
		out.Height = receipt.BlockNumber.Uint64()
	}
	for _, lg := range receipt.Logs {
		if lg.Address != c.address {
			continue
		}
		ev, err := parseLog(&FederationABI, *lg)
		if err != nil {
			c.log.Warn("Skipping undecodable log", "txHash", receipt.TxHash, "err", err)
			continue
		}
		out.Events = append(out.Events, ev)
	}
	return out
}

func (c *Client) call(ctx context.Context, op federation.Op, id interfaces.ServiceID, caller interfaces.Identity, method string, params ...any) ([]any, error) {
	var out []any
	opts := &bind.CallOpts{Context: ctx, From: common.Address(caller)}
	if err := c.contract.Call(opts, &out, method, params...); err != nil {
		return nil, c.wrapErr(op, id, caller, err)
	}
	return out, nil
}

func invalidID(op federation.Op, id interfaces.ServiceID, caller interfaces.Identity) error {
	if err := id.Validate(); err != nil {
		return &interfaces.FederationError{Op: string(op), Kind: interfaces.ErrInvalidInput, ServiceID: id, Identity: caller, Detail: err.Error()}
	}
	return nil
}

func (c *Client) Register(ctx context.Context, caller interfaces.Identity, name string) (*interfaces.Receipt, error) {
	return c.transact(ctx, federation.OpRegister, "", caller, "addOperator", name)
}

func (c *Client) Unregister(ctx context.Context, caller interfaces.Identity) (*interfaces.Receipt, error) {
	return c.transact(ctx, federation.OpUnregister, "", caller, "removeOperator")
}

func (c *Client) Lookup(ctx context.Context, identity interfaces.Identity) (string, error) {
	out, err := c.call(ctx, "lookup", "", identity, "getOperatorName", common.Address(identity))
	if err != nil {
		return "", err
	}
	return *abi.ConvertType(out[0], new(string)).(*string), nil
}

func (c *Client) AnnounceService(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, requirements []byte, consumerEndpoint interfaces.Endpoint) (*interfaces.Receipt, error) {
	if err := invalidID(federation.OpAnnounce, id, caller); err != nil {
		return nil, err
	}
	if requirements == nil {
		requirements = []byte{}
	}
	e := consumerEndpoint
	return c.transact(ctx, federation.OpAnnounce, id, caller, "announceService",
		id.Bytes32(), requirements, e.CatalogRef, e.TopologyRef, e.DescriptorID, e.NamespaceID)
}

func (c *Client) PlaceBid(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, price uint64, providerEndpoint interfaces.Endpoint) (uint64, *interfaces.Receipt, error) {
	e := providerEndpoint
	receipt, err := c.transact(ctx, federation.OpPlaceBid, id, caller, "placeBid",
		id.Bytes32(), new(big.Int).SetUint64(price), e.CatalogRef, e.TopologyRef, e.DescriptorID, e.NamespaceID)
	if err != nil {
		return 0, nil, err
	}
	index, ok := receipt.BidIndex()
	if !ok {
		return 0, receipt, fmt.Errorf("receipt %s carries no BidPlaced event", receipt.TxHash)
	}
	return index, receipt, nil
}

func (c *Client) ChooseProvider(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, bidIndex uint64) (*interfaces.Receipt, error) {
	return c.transact(ctx, federation.OpChooseProvider, id, caller, "chooseProvider", id.Bytes32(), new(big.Int).SetUint64(bidIndex))
}

func (c *Client) UpdateEndpoint(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, asProvider bool, endpoint interfaces.Endpoint) (*interfaces.Receipt, error) {
	e := endpoint
	return c.transact(ctx, federation.OpUpdateEndpoint, id, caller, "updateEndpoint",
		id.Bytes32(), asProvider, e.CatalogRef, e.TopologyRef, e.DescriptorID, e.NamespaceID)
}

func (c *Client) MarkDeployed(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, deploymentInfo []byte) (*interfaces.Receipt, error) {
	if deploymentInfo == nil {
		deploymentInfo = []byte{}
	}
	return c.transact(ctx, federation.OpMarkDeployed, id, caller, "serviceDeployed", id.Bytes32(), deploymentInfo)
}

func (c *Client) ServiceState(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID) (interfaces.ServiceState, error) {
	out, err := c.call(ctx, "serviceState", id, caller, "getServiceState", id.Bytes32())
	if err != nil {
		return 0, err
	}
	return interfaces.ServiceState(*abi.ConvertType(out[0], new(uint8)).(*uint8)), nil
}

func (c *Client) ServiceInfo(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, asProvider bool) (*interfaces.ServiceInfo, error) {
	out, err := c.call(ctx, "serviceInfo", id, caller, "getServiceInfo", id.Bytes32(), asProvider)
	if err != nil {
		return nil, err
	}
	return &interfaces.ServiceInfo{
		ID:       interfaces.ServiceIDFromBytes32(*abi.ConvertType(out[0], new([32]byte)).(*[32]byte)),
		State:    interfaces.ServiceState(*abi.ConvertType(out[1], new(uint8)).(*uint8)),
		Creator:  interfaces.Identity(*abi.ConvertType(out[2], new(common.Address)).(*common.Address)),
		Provider: interfaces.Identity(*abi.ConvertType(out[3], new(common.Address)).(*common.Address)),
		CounterpartEndpoint: interfaces.Endpoint{
			CatalogRef:   *abi.ConvertType(out[4], new(string)).(*string),
			TopologyRef:  *abi.ConvertType(out[5], new(string)).(*string),
			DescriptorID: *abi.ConvertType(out[6], new(string)).(*string),
			NamespaceID:  *abi.ConvertType(out[7], new(string)).(*string),
		},
		Requirements: *abi.ConvertType(out[8], new([]byte)).(*[]byte),
	}, nil
}

func (c *Client) Endpoint(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, ofProvider bool) (interfaces.Endpoint, error) {
	out, err := c.call(ctx, "endpoint", id, caller, "getEndpoint", id.Bytes32(), ofProvider)
	if err != nil {
		return interfaces.Endpoint{}, err
	}
	return interfaces.Endpoint{
		CatalogRef:   *abi.ConvertType(out[0], new(string)).(*string),
		TopologyRef:  *abi.ConvertType(out[1], new(string)).(*string),
		DescriptorID: *abi.ConvertType(out[2], new(string)).(*string),
		NamespaceID:  *abi.ConvertType(out[3], new(string)).(*string),
	}, nil
}

func (c *Client) BidCount(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID) (uint64, error) {
	out, err := c.call(ctx, "bidCount", id, caller, "getBidCount", id.Bytes32())
	if err != nil {
		return 0, err
	}
	return (*abi.ConvertType(out[0], new(*big.Int)).(**big.Int)).Uint64(), nil
}

func (c *Client) Bid(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, index uint64) (*interfaces.Bid, error) {
	out, err := c.call(ctx, "bid", id, caller, "getBid", id.Bytes32(), new(big.Int).SetUint64(index))
	if err != nil {
		return nil, err
	}
	return &interfaces.Bid{
		Bidder:   interfaces.Identity(*abi.ConvertType(out[0], new(common.Address)).(*common.Address)),
		Price:    (*abi.ConvertType(out[1], new(*big.Int)).(**big.Int)).Uint64(),
		Endpoint: interfaces.EndpointDigest(*abi.ConvertType(out[2], new([32]byte)).(*[32]byte)),
	}, nil
}

func (c *Client) IsWinner(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, candidate interfaces.Identity) (bool, error) {
	out, err := c.call(ctx, "isWinner", id, caller, "isWinner", id.Bytes32(), common.Address(candidate))
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// syncEvents scans the blocks mined since the last call. The federation chain
// is a permissioned PoA network; logs are taken as final once seen.
func (c *Client) syncEvents(ctx context.Context) error {
	head, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrLedgerUnavailable, err)
	}
	if head < c.nextBlock {
		return nil
	}

	logs, err := c.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(c.nextBlock),
		ToBlock:   new(big.Int).SetUint64(head),
		Addresses: []common.Address{c.address},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrLedgerUnavailable, err)
	}

	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		ev, err := parseLog(&FederationABI, lg)
		if err != nil {
			c.log.Warn("Skipping undecodable log", "txHash", lg.TxHash, "err", err)
			continue
		}
		ev.Cursor = uint64(len(c.events)) + 1
		c.events = append(c.events, ev)
	}
	c.nextBlock = head + 1
	return nil
}

func (c *Client) Events(ctx context.Context, after uint64, limit int) ([]interfaces.Event, error) {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()

	if err := c.syncEvents(ctx); err != nil {
		return nil, err
	}
	if after >= uint64(len(c.events)) {
		return nil, nil
	}
	page := c.events[after:]
	if limit > 0 && len(page) > limit {
		page = page[:limit]
	}
	return append([]interfaces.Event(nil), page...), nil
}

func (c *Client) Height(ctx context.Context) (uint64, error) {
	height, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", interfaces.ErrLedgerUnavailable, err)
	}
	return height, nil
}

func (c *Client) Receipt(ctx context.Context, txHash interfaces.TxHash) (*interfaces.Receipt, error) {
	hash := common.Hash(txHash)
	receipt, err := c.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrTxNotFound, txHash)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrLedgerUnavailable, err)
	}

	tx, _, err := c.backend.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrLedgerUnavailable, err)
	}
	sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return nil, err
	}
	return c.convertReceipt(receipt, interfaces.Identity(sender)), nil
}

var _ interfaces.FederationLedger = (*Client)(nil)
