package clients

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/dlt-service-federation/api"
	"github.com/ruteri/dlt-service-federation/federation"
	"github.com/ruteri/dlt-service-federation/interfaces"
	"go.uber.org/atomic"
)

// ErrNoSigner is returned when a mutating call names a caller the client
// holds no key for.
var ErrNoSigner = errors.New("no signing key for caller")

// LedgerClient talks to a ledger node over HTTP. It implements
// interfaces.FederationLedger for every identity whose key it holds.
type LedgerClient struct {
	baseURL    string
	signers    map[interfaces.Identity]*ecdsa.PrivateKey
	httpClient *http.Client
	nonce      atomic.Uint64
}

// NewLedgerClient creates a client for the node at baseURL
// (e.g. "http://localhost:8545"). Queries work without keys.
func NewLedgerClient(baseURL string, timeout time.Duration, keys ...*ecdsa.PrivateKey) *LedgerClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &LedgerClient{
		baseURL:    baseURL,
		signers:    make(map[interfaces.Identity]*ecdsa.PrivateKey, len(keys)),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, key := range keys {
		c.signers[interfaces.Identity(crypto.PubkeyToAddress(key.PublicKey))] = key
	}
	c.nonce.Store(uint64(time.Now().UnixNano()))
	return c
}

// Identities lists the identities the client can sign for.
func (c *LedgerClient) Identities() []interfaces.Identity {
	ids := make([]interfaces.Identity, 0, len(c.signers))
	for id := range c.signers {
		ids = append(ids, id)
	}
	return ids
}

func (c *LedgerClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrLedgerUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", interfaces.ErrLedgerUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp api.ErrorResponse
		if jsonErr := json.Unmarshal(body, &errResp); jsonErr != nil || (errResp.Kind == "" && resp.StatusCode >= 500) {
			return fmt.Errorf("%w: ledger returned %d: %s", interfaces.ErrLedgerUnavailable, resp.StatusCode, string(body))
		}
		return errResp.Err()
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("could not parse ledger response: %w", err)
	}
	return nil
}

func (c *LedgerClient) get(ctx context.Context, caller *interfaces.Identity, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	if caller != nil {
		req.Header.Set(api.CallerHeader, caller.String())
	}
	return c.do(req, out)
}

// Submit signs tx with the caller's key and posts it.
func (c *LedgerClient) Submit(ctx context.Context, tx federation.Tx) (*api.TxResponse, error) {
	key, ok := c.signers[tx.Caller]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSigner, tx.Caller)
	}

	signed, err := api.SignTx(key, tx, c.nonce.Inc())
	if err != nil {
		return nil, err
	}
	return c.SubmitSigned(ctx, signed)
}

// SubmitSigned posts an already signed transaction. Posting the same
// envelope again returns the original receipt.
func (c *LedgerClient) SubmitSigned(ctx context.Context, signed *api.SignedTx) (*api.TxResponse, error) {
	body, err := json.Marshal(signed)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/tx", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp api.TxResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *LedgerClient) submit(ctx context.Context, tx federation.Tx) (*interfaces.Receipt, error) {
	resp, err := c.Submit(ctx, tx)
	if err != nil {
		return nil, err
	}
	return resp.Receipt, nil
}

func (c *LedgerClient) Register(ctx context.Context, caller interfaces.Identity, name string) (*interfaces.Receipt, error) {
	return c.submit(ctx, federation.Tx{Op: federation.OpRegister, Caller: caller, Name: name})
}

func (c *LedgerClient) Unregister(ctx context.Context, caller interfaces.Identity) (*interfaces.Receipt, error) {
	return c.submit(ctx, federation.Tx{Op: federation.OpUnregister, Caller: caller})
}

func (c *LedgerClient) AnnounceService(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, requirements []byte, consumerEndpoint interfaces.Endpoint) (*interfaces.Receipt, error) {
	return c.submit(ctx, federation.Tx{
		Op:           federation.OpAnnounce,
		Caller:       caller,
		ServiceID:    id,
		Requirements: requirements,
		Endpoint:     consumerEndpoint,
	})
}

func (c *LedgerClient) PlaceBid(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, price uint64, providerEndpoint interfaces.Endpoint) (uint64, *interfaces.Receipt, error) {
	resp, err := c.Submit(ctx, federation.Tx{
		Op:        federation.OpPlaceBid,
		Caller:    caller,
		ServiceID: id,
		Price:     price,
		Endpoint:  providerEndpoint,
	})
	if err != nil {
		return 0, nil, err
	}
	if resp.BidIndex == nil {
		return 0, resp.Receipt, errors.New("ledger response carries no bid index")
	}
	return *resp.BidIndex, resp.Receipt, nil
}

func (c *LedgerClient) ChooseProvider(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, bidIndex uint64) (*interfaces.Receipt, error) {
	return c.submit(ctx, federation.Tx{Op: federation.OpChooseProvider, Caller: caller, ServiceID: id, BidIndex: bidIndex})
}

func (c *LedgerClient) UpdateEndpoint(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, asProvider bool, endpoint interfaces.Endpoint) (*interfaces.Receipt, error) {
	return c.submit(ctx, federation.Tx{
		Op:         federation.OpUpdateEndpoint,
		Caller:     caller,
		ServiceID:  id,
		AsProvider: asProvider,
		Endpoint:   endpoint,
	})
}

func (c *LedgerClient) MarkDeployed(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, deploymentInfo []byte) (*interfaces.Receipt, error) {
	return c.submit(ctx, federation.Tx{Op: federation.OpMarkDeployed, Caller: caller, ServiceID: id, Info: deploymentInfo})
}

func (c *LedgerClient) Lookup(ctx context.Context, identity interfaces.Identity) (string, error) {
	var resp api.OperatorResponse
	if err := c.get(ctx, nil, "/api/v1/operators/"+identity.String(), nil, &resp); err != nil {
		return "", err
	}
	return resp.Name, nil
}

func servicePath(id interfaces.ServiceID, suffix string) string {
	return "/api/v1/services/" + url.PathEscape(string(id)) + suffix
}

func (c *LedgerClient) ServiceState(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID) (interfaces.ServiceState, error) {
	var resp api.StateResponse
	if err := c.get(ctx, &caller, servicePath(id, "/state"), nil, &resp); err != nil {
		return 0, err
	}
	return resp.State, nil
}

func (c *LedgerClient) ServiceInfo(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, asProvider bool) (*interfaces.ServiceInfo, error) {
	var resp interfaces.ServiceInfo
	query := url.Values{"as_provider": {strconv.FormatBool(asProvider)}}
	if err := c.get(ctx, &caller, servicePath(id, "/info"), query, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *LedgerClient) Endpoint(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, ofProvider bool) (interfaces.Endpoint, error) {
	var resp interfaces.Endpoint
	query := url.Values{"of_provider": {strconv.FormatBool(ofProvider)}}
	if err := c.get(ctx, &caller, servicePath(id, "/endpoint"), query, &resp); err != nil {
		return interfaces.Endpoint{}, err
	}
	return resp, nil
}

func (c *LedgerClient) BidCount(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID) (uint64, error) {
	var resp api.BidCountResponse
	if err := c.get(ctx, &caller, servicePath(id, "/bids"), nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (c *LedgerClient) Bid(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, index uint64) (*interfaces.Bid, error) {
	var resp interfaces.Bid
	if err := c.get(ctx, &caller, servicePath(id, "/bids/"+strconv.FormatUint(index, 10)), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *LedgerClient) IsWinner(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, candidate interfaces.Identity) (bool, error) {
	var resp api.WinnerResponse
	if err := c.get(ctx, &caller, servicePath(id, "/winner/"+candidate.String()), nil, &resp); err != nil {
		return false, err
	}
	return resp.Winner, nil
}

func (c *LedgerClient) Events(ctx context.Context, after uint64, limit int) ([]interfaces.Event, error) {
	query := url.Values{"after": {strconv.FormatUint(after, 10)}}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp api.EventsResponse
	if err := c.get(ctx, nil, "/api/v1/events", query, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

func (c *LedgerClient) Height(ctx context.Context) (uint64, error) {
	var resp api.HeightResponse
	if err := c.get(ctx, nil, "/api/v1/height", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Height, nil
}

func (c *LedgerClient) Receipt(ctx context.Context, txHash interfaces.TxHash) (*interfaces.Receipt, error) {
	var resp interfaces.Receipt
	if err := c.get(ctx, nil, "/api/v1/tx/"+txHash.String(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

var _ interfaces.FederationLedger = (*LedgerClient)(nil)
