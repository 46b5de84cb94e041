package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/dlt-service-federation/federation"
	"github.com/ruteri/dlt-service-federation/interfaces"
	"github.com/ruteri/dlt-service-federation/metrics"
)

type Config struct {
	Options federation.Options
	// Journal is optional. Without it the ledger lives in memory only.
	Journal Journal
	Log     *slog.Logger
}

// Local is an in-process ledger around a federation machine.
// It is safe for concurrent use.
type Local struct {
	log     *slog.Logger
	journal Journal

	mu       sync.RWMutex
	machine  *federation.Machine
	events   federation.EventLog
	height   uint64
	head     common.Hash
	receipts map[interfaces.TxHash]*interfaces.Receipt
}

// NewLocal creates a ledger and replays the journal, if any.
func NewLocal(ctx context.Context, cfg Config) (*Local, error) {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	l := &Local{
		log:      log,
		journal:  cfg.Journal,
		machine:  federation.NewMachine(cfg.Options),
		receipts: make(map[interfaces.TxHash]*interfaces.Receipt),
	}

	if l.journal != nil {
		if err := l.journal.Replay(ctx, l.replay); err != nil {
			return nil, fmt.Errorf("failed to replay journal: %w", err)
		}
		log.Info("journal replayed", "height", l.height, "head", l.head.Hex())
	}
	metrics.SetLedgerHeight(l.height)

	return l, nil
}

func (l *Local) replay(entry JournalEntry) error {
	if entry.Height != l.height+1 {
		return fmt.Errorf("%w: expected height %d, found %d", ErrJournalCorrupt, l.height+1, entry.Height)
	}
	head := chain(l.head, entry.TxHash)
	if head != entry.Head {
		return fmt.Errorf("%w: hash chain broken at height %d", ErrJournalCorrupt, entry.Height)
	}

	pending, err := l.machine.Prepare(entry.Tx)
	if err != nil {
		return fmt.Errorf("%w: height %d: %v", ErrJournalCorrupt, entry.Height, err)
	}
	l.commit(entry.TxHash, head, entry.Tx, pending)
	return nil
}

func chain(prev common.Hash, tx interfaces.TxHash) common.Hash {
	return crypto.Keccak256Hash(prev[:], tx[:])
}

// Submit orders, validates and commits tx. A zero txHash makes the ledger
// derive one from the transaction and the current head. A txHash that was
// already committed returns the stored receipt.
func (l *Local) Submit(ctx context.Context, txHash interfaces.TxHash, tx federation.Tx) (*interfaces.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if txHash == (interfaces.TxHash{}) {
		derived, err := l.deriveHash(tx)
		if err != nil {
			return nil, err
		}
		txHash = derived
	}

	if receipt, ok := l.receipts[txHash]; ok {
		l.log.Debug("duplicate transaction", "txHash", txHash, "height", receipt.Height)
		return receipt.Clone(), nil
	}

	pending, err := l.machine.Prepare(tx)
	if err != nil {
		metrics.ObserveLedgerTx(string(tx.Op), interfaces.KindName(err))
		l.log.Debug("transaction rejected", "op", tx.Op, "caller", tx.Caller, "err", err)
		return nil, err
	}

	head := chain(l.head, txHash)
	if l.journal != nil {
		err := l.journal.Append(ctx, JournalEntry{
			Height:      l.height + 1,
			TxHash:      txHash,
			Head:        head,
			Tx:          tx,
			CommittedAt: time.Now(),
		})
		if err != nil {
			metrics.ObserveLedgerTx(string(tx.Op), "unavailable")
			l.log.Error("failed to journal transaction", "txHash", txHash, "err", err)
			return nil, fmt.Errorf("%w: %v", interfaces.ErrLedgerUnavailable, err)
		}
	}

	receipt := l.commit(txHash, head, tx, pending)
	metrics.ObserveLedgerTx(string(tx.Op), "ok")
	l.log.Info("transaction committed", "op", tx.Op, "caller", tx.Caller, "serviceID", tx.ServiceID, "txHash", txHash, "height", receipt.Height)
	return receipt, nil
}

func (l *Local) deriveHash(tx federation.Tx) (interfaces.TxHash, error) {
	encoded, err := json.Marshal(tx)
	if err != nil {
		return interfaces.TxHash{}, fmt.Errorf("failed to encode transaction: %w", err)
	}
	return interfaces.TxHash(crypto.Keccak256Hash(l.head[:], encoded)), nil
}

// commit must be called with the write lock held or during replay.
func (l *Local) commit(txHash interfaces.TxHash, head common.Hash, tx federation.Tx, pending *federation.Pending) *interfaces.Receipt {
	res := pending.Commit()

	l.height++
	l.head = head

	receipt := &interfaces.Receipt{
		TxHash: txHash,
		Height: l.height,
		From:   tx.Caller,
		Events: make([]interfaces.Event, 0, len(res.Events)),
	}
	for _, ev := range res.Events {
		ev.Height = l.height
		ev.TxHash = txHash
		receipt.Events = append(receipt.Events, l.events.Append(ev))
	}
	l.receipts[txHash] = receipt

	metrics.SetLedgerHeight(l.height)
	return receipt.Clone()
}

// Head returns the hash chain head over all committed transactions.
func (l *Local) Head() common.Hash {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.head
}

func (l *Local) Close() error {
	if l.journal == nil {
		return nil
	}
	return l.journal.Close()
}

func (l *Local) Register(ctx context.Context, caller interfaces.Identity, name string) (*interfaces.Receipt, error) {
	return l.Submit(ctx, interfaces.TxHash{}, federation.Tx{Op: federation.OpRegister, Caller: caller, Name: name})
}

func (l *Local) Unregister(ctx context.Context, caller interfaces.Identity) (*interfaces.Receipt, error) {
	return l.Submit(ctx, interfaces.TxHash{}, federation.Tx{Op: federation.OpUnregister, Caller: caller})
}

func (l *Local) AnnounceService(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, requirements []byte, consumerEndpoint interfaces.Endpoint) (*interfaces.Receipt, error) {
	return l.Submit(ctx, interfaces.TxHash{}, federation.Tx{
		Op:           federation.OpAnnounce,
		Caller:       caller,
		ServiceID:    id,
		Requirements: requirements,
		Endpoint:     consumerEndpoint,
	})
}

func (l *Local) PlaceBid(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, price uint64, providerEndpoint interfaces.Endpoint) (uint64, *interfaces.Receipt, error) {
	receipt, err := l.Submit(ctx, interfaces.TxHash{}, federation.Tx{
		Op:        federation.OpPlaceBid,
		Caller:    caller,
		ServiceID: id,
		Price:     price,
		Endpoint:  providerEndpoint,
	})
	if err != nil {
		return 0, nil, err
	}
	index, _ := receipt.BidIndex()
	return index, receipt, nil
}

func (l *Local) ChooseProvider(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, bidIndex uint64) (*interfaces.Receipt, error) {
	return l.Submit(ctx, interfaces.TxHash{}, federation.Tx{Op: federation.OpChooseProvider, Caller: caller, ServiceID: id, BidIndex: bidIndex})
}

func (l *Local) UpdateEndpoint(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, asProvider bool, endpoint interfaces.Endpoint) (*interfaces.Receipt, error) {
	return l.Submit(ctx, interfaces.TxHash{}, federation.Tx{
		Op:         federation.OpUpdateEndpoint,
		Caller:     caller,
		ServiceID:  id,
		AsProvider: asProvider,
		Endpoint:   endpoint,
	})
}

func (l *Local) MarkDeployed(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, deploymentInfo []byte) (*interfaces.Receipt, error) {
	return l.Submit(ctx, interfaces.TxHash{}, federation.Tx{Op: federation.OpMarkDeployed, Caller: caller, ServiceID: id, Info: deploymentInfo})
}

func (l *Local) Lookup(ctx context.Context, identity interfaces.Identity) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.machine.Lookup(identity)
}

func (l *Local) ServiceState(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID) (interfaces.ServiceState, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.machine.ServiceState(caller, id)
}

func (l *Local) ServiceInfo(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, asProvider bool) (*interfaces.ServiceInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.machine.ServiceInfo(caller, id, asProvider)
}

func (l *Local) Endpoint(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, ofProvider bool) (interfaces.Endpoint, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.machine.Endpoint(caller, id, ofProvider)
}

func (l *Local) BidCount(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.machine.BidCount(caller, id)
}

func (l *Local) Bid(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, index uint64) (*interfaces.Bid, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.machine.Bid(caller, id, index)
}

func (l *Local) IsWinner(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, candidate interfaces.Identity) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.machine.IsWinner(caller, id, candidate)
}

func (l *Local) Events(ctx context.Context, after uint64, limit int) ([]interfaces.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.events.Since(after, limit), nil
}

func (l *Local) Height(ctx context.Context) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.height, nil
}

func (l *Local) Receipt(ctx context.Context, txHash interfaces.TxHash) (*interfaces.Receipt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	receipt, ok := l.receipts[txHash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrTxNotFound, txHash)
	}
	return receipt.Clone(), nil
}

var _ interfaces.FederationLedger = (*Local)(nil)
