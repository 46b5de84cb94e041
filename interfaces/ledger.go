package interfaces

import (
	"bytes"
	"context"
	"encoding/hex"
)

// EventKind names an observable ledger transition.
type EventKind string

const (
	EventOperatorRegistered EventKind = "OperatorRegistered"
	EventOperatorRemoved    EventKind = "OperatorRemoved"
	EventServiceAnnounced   EventKind = "ServiceAnnounced"
	EventBidPlaced          EventKind = "BidPlaced"
	EventServiceClosed      EventKind = "ServiceClosed"
	EventServiceDeployed    EventKind = "ServiceDeployed"
	EventEndpointUpdated    EventKind = "EndpointUpdated"
)

// Event is one entry of the ledger's append-only event log.
type Event struct {
	// Cursor is the position of the event in the log, starting at 1.
	Cursor uint64    `json:"cursor"`
	Height uint64    `json:"height"`
	TxHash TxHash    `json:"tx_hash"`
	Kind   EventKind `json:"kind"`

	ServiceID    ServiceID `json:"service_id,omitempty"`
	Operator     Identity  `json:"operator,omitempty"`
	Requirements []byte    `json:"requirements,omitempty"`
	// BidCount is the running number of bids after a BidPlaced event.
	BidCount uint64 `json:"bid_count,omitempty"`
}

// Clone returns a copy of e that shares no memory with it.
func (e Event) Clone() Event {
	e.Requirements = bytes.Clone(e.Requirements)
	return e
}

// TxHash identifies a committed ledger transaction.
type TxHash [32]byte

func (h TxHash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h TxHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *TxHash) UnmarshalText(text []byte) error {
	var d EndpointDigest
	if err := d.UnmarshalText(text); err != nil {
		return err
	}
	*h = TxHash(d)
	return nil
}

// Receipt confirms that a transaction was committed.
type Receipt struct {
	TxHash TxHash   `json:"tx_hash"`
	Height uint64   `json:"height"`
	From   Identity `json:"from"`
	Events []Event  `json:"events"`
}

// Clone returns a deep copy of r.
func (r *Receipt) Clone() *Receipt {
	if r == nil {
		return nil
	}
	out := *r
	out.Events = make([]Event, len(r.Events))
	for i, ev := range r.Events {
		out.Events[i] = ev.Clone()
	}
	return &out
}

// BidIndex returns the 0-based index assigned by a BidPlaced event in this receipt.
func (r *Receipt) BidIndex() (uint64, bool) {
	for _, ev := range r.Events {
		if ev.Kind == EventBidPlaced && ev.BidCount > 0 {
			return ev.BidCount - 1, true
		}
	}
	return 0, false
}

// OperatorRegistry gates all other operations.
type OperatorRegistry interface {
	Register(ctx context.Context, caller Identity, name string) (*Receipt, error)
	Unregister(ctx context.Context, caller Identity) (*Receipt, error)
	Lookup(ctx context.Context, identity Identity) (string, error)
}

// FederationContract holds the mutating federation operations. The caller is
// always explicit; implementations must authenticate it.
type FederationContract interface {
	AnnounceService(ctx context.Context, caller Identity, id ServiceID, requirements []byte, consumerEndpoint Endpoint) (*Receipt, error)
	// PlaceBid returns the 0-based bid index assigned at commit time.
	PlaceBid(ctx context.Context, caller Identity, id ServiceID, price uint64, providerEndpoint Endpoint) (uint64, *Receipt, error)
	ChooseProvider(ctx context.Context, caller Identity, id ServiceID, bidIndex uint64) (*Receipt, error)
	UpdateEndpoint(ctx context.Context, caller Identity, id ServiceID, asProvider bool, endpoint Endpoint) (*Receipt, error)
	MarkDeployed(ctx context.Context, caller Identity, id ServiceID, deploymentInfo []byte) (*Receipt, error)
}

// FederationReader holds the read-only queries.
type FederationReader interface {
	ServiceState(ctx context.Context, caller Identity, id ServiceID) (ServiceState, error)
	// ServiceInfo returns the view of the service for the caller acting as
	// provider (asProvider) or as creator.
	ServiceInfo(ctx context.Context, caller Identity, id ServiceID, asProvider bool) (*ServiceInfo, error)
	// Endpoint returns the provider (ofProvider) or consumer endpoint of a service.
	Endpoint(ctx context.Context, caller Identity, id ServiceID, ofProvider bool) (Endpoint, error)
	BidCount(ctx context.Context, caller Identity, id ServiceID) (uint64, error)
	Bid(ctx context.Context, caller Identity, id ServiceID, index uint64) (*Bid, error)
	IsWinner(ctx context.Context, caller Identity, id ServiceID, candidate Identity) (bool, error)
}

// EventSource exposes the event log for cursor-based consumption.
type EventSource interface {
	// Events returns up to limit events with Cursor > after, in order.
	Events(ctx context.Context, after uint64, limit int) ([]Event, error)
	// Height returns the latest committed height.
	Height(ctx context.Context) (uint64, error)
	// Receipt looks up a committed transaction.
	Receipt(ctx context.Context, tx TxHash) (*Receipt, error)
}

// FederationLedger is everything a coordinator needs from the ledger.
type FederationLedger interface {
	OperatorRegistry
	FederationContract
	FederationReader
	EventSource
}
