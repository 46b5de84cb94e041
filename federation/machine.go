package federation

import (
	"bytes"
	"fmt"

	"github.com/ruteri/dlt-service-federation/interfaces"
)

// Op names a mutating federation operation.
type Op string

const (
	OpRegister       Op = "register"
	OpUnregister     Op = "unregister"
	OpAnnounce       Op = "announceService"
	OpPlaceBid       Op = "placeBid"
	OpChooseProvider Op = "chooseProvider"
	OpUpdateEndpoint Op = "updateEndpoint"
	OpMarkDeployed   Op = "markDeployed"
)

// Tx is one mutating operation with its explicit caller. Only the fields the
// operation uses are set.
type Tx struct {
	Op           Op                   `json:"op"`
	Caller       interfaces.Identity  `json:"caller"`
	Name         string               `json:"name,omitempty"`
	ServiceID    interfaces.ServiceID `json:"service_id,omitempty"`
	Requirements []byte               `json:"requirements,omitempty"`
	Endpoint     interfaces.Endpoint  `json:"endpoint"`
	Price        uint64               `json:"price,omitempty"`
	BidIndex     uint64               `json:"bid_index,omitempty"`
	AsProvider   bool                 `json:"as_provider,omitempty"`
	Info         []byte               `json:"info,omitempty"`
}

// Result is what a committed Tx produced. Events carry no cursor or height;
// the ledger stamps them.
type Result struct {
	BidIndex uint64
	Events   []interfaces.Event
}

// Pending is a validated Tx. Commit applies it and cannot fail.
type Pending struct {
	apply func() Result
}

// Commit applies the validated transaction.
func (p *Pending) Commit() Result {
	return p.apply()
}

// Options tune policy decisions the protocol leaves open.
type Options struct {
	// FreezeConsumerEndpoint rejects consumer endpoint updates once the
	// service is Deployed. Updates are allowed by default.
	FreezeConsumerEndpoint bool
}

// Machine holds the federation stores and applies transactions to them.
type Machine struct {
	opts      Options
	operators operatorRegistry
	services  serviceLedger
	bids      bidPool
	endpoints endpointStore
}

// NewMachine creates a machine with empty stores.
func NewMachine(opts Options) *Machine {
	return &Machine{
		opts:      opts,
		operators: operatorRegistry{operators: make(map[interfaces.Identity]*interfaces.Operator)},
		services:  serviceLedger{services: make(map[interfaces.ServiceID]*interfaces.Service)},
		bids:      bidPool{bids: make(map[interfaces.ServiceID][]interfaces.Bid)},
		endpoints: endpointStore{records: make(map[interfaces.EndpointDigest]interfaces.Endpoint)},
	}
}

func reject(op Op, kind error, id interfaces.ServiceID, who interfaces.Identity) error {
	return &interfaces.FederationError{Op: string(op), Kind: kind, ServiceID: id, Identity: who}
}

// Prepare validates tx against the current state without modifying it.
func (m *Machine) Prepare(tx Tx) (*Pending, error) {
	switch tx.Op {
	case OpRegister:
		return m.prepareRegister(tx)
	case OpUnregister:
		return m.prepareUnregister(tx)
	case OpAnnounce:
		return m.prepareAnnounce(tx)
	case OpPlaceBid:
		return m.preparePlaceBid(tx)
	case OpChooseProvider:
		return m.prepareChooseProvider(tx)
	case OpUpdateEndpoint:
		return m.prepareUpdateEndpoint(tx)
	case OpMarkDeployed:
		return m.prepareMarkDeployed(tx)
	default:
		return nil, &interfaces.FederationError{
			Op:     string(tx.Op),
			Kind:   interfaces.ErrInvalidInput,
			Detail: fmt.Sprintf("unknown operation %q", tx.Op),
		}
	}
}

// Execute validates and commits tx in one step.
func (m *Machine) Execute(tx Tx) (Result, error) {
	pending, err := m.Prepare(tx)
	if err != nil {
		return Result{}, err
	}
	return pending.Commit(), nil
}

func (m *Machine) prepareRegister(tx Tx) (*Pending, error) {
	if m.operators.registered(tx.Caller) {
		return nil, reject(tx.Op, interfaces.ErrAlreadyRegistered, "", tx.Caller)
	}
	if tx.Name == "" || len(tx.Name) > interfaces.MaxOperatorNameLength {
		return nil, &interfaces.FederationError{
			Op:       string(tx.Op),
			Kind:     interfaces.ErrInvalidInput,
			Identity: tx.Caller,
			Detail:   fmt.Sprintf("operator name must be 1..%d bytes", interfaces.MaxOperatorNameLength),
		}
	}

	return &Pending{apply: func() Result {
		m.operators.operators[tx.Caller] = &interfaces.Operator{Identity: tx.Caller, Name: tx.Name, Registered: true}
		return Result{Events: []interfaces.Event{{Kind: interfaces.EventOperatorRegistered, Operator: tx.Caller}}}
	}}, nil
}

func (m *Machine) prepareUnregister(tx Tx) (*Pending, error) {
	if !m.operators.registered(tx.Caller) {
		return nil, reject(tx.Op, interfaces.ErrNotRegistered, "", tx.Caller)
	}

	return &Pending{apply: func() Result {
		delete(m.operators.operators, tx.Caller)
		return Result{Events: []interfaces.Event{{Kind: interfaces.EventOperatorRemoved, Operator: tx.Caller}}}
	}}, nil
}

func (m *Machine) prepareAnnounce(tx Tx) (*Pending, error) {
	if !m.operators.registered(tx.Caller) {
		return nil, reject(tx.Op, interfaces.ErrNotRegistered, tx.ServiceID, tx.Caller)
	}
	if err := tx.ServiceID.Validate(); err != nil {
		return nil, &interfaces.FederationError{Op: string(tx.Op), Kind: interfaces.ErrInvalidInput, ServiceID: tx.ServiceID, Identity: tx.Caller, Detail: err.Error()}
	}
	if _, exists := m.services.get(tx.ServiceID); exists {
		return nil, reject(tx.Op, interfaces.ErrDuplicateServiceID, tx.ServiceID, tx.Caller)
	}

	requirements := bytes.Clone(tx.Requirements)
	return &Pending{apply: func() Result {
		digest := m.endpoints.put(tx.Endpoint)
		m.services.services[tx.ServiceID] = &interfaces.Service{
			ID:               tx.ServiceID,
			Creator:          tx.Caller,
			Provider:         tx.Caller,
			ConsumerEndpoint: digest,
			Requirements:     requirements,
			State:            interfaces.StateOpen,
		}
		return Result{Events: []interfaces.Event{{
			Kind:         interfaces.EventServiceAnnounced,
			ServiceID:    tx.ServiceID,
			Operator:     tx.Caller,
			Requirements: bytes.Clone(requirements),
		}}}
	}}, nil
}

func (m *Machine) preparePlaceBid(tx Tx) (*Pending, error) {
	if !m.operators.registered(tx.Caller) {
		return nil, reject(tx.Op, interfaces.ErrNotRegistered, tx.ServiceID, tx.Caller)
	}
	svc, exists := m.services.get(tx.ServiceID)
	if !exists || svc.State != interfaces.StateOpen {
		return nil, reject(tx.Op, interfaces.ErrServiceNotOpen, tx.ServiceID, tx.Caller)
	}

	return &Pending{apply: func() Result {
		digest := m.endpoints.put(tx.Endpoint)
		count := m.bids.append(tx.ServiceID, interfaces.Bid{Bidder: tx.Caller, Price: tx.Price, Endpoint: digest})
		return Result{
			BidIndex: count - 1,
			Events: []interfaces.Event{{
				Kind:      interfaces.EventBidPlaced,
				ServiceID: tx.ServiceID,
				Operator:  tx.Caller,
				BidCount:  count,
			}},
		}
	}}, nil
}

func (m *Machine) prepareChooseProvider(tx Tx) (*Pending, error) {
	svc, exists := m.services.get(tx.ServiceID)
	if !exists {
		return nil, reject(tx.Op, interfaces.ErrServiceNotFound, tx.ServiceID, tx.Caller)
	}
	if svc.State != interfaces.StateOpen {
		return nil, reject(tx.Op, interfaces.ErrServiceNotOpen, tx.ServiceID, tx.Caller)
	}
	if svc.Creator != tx.Caller {
		return nil, reject(tx.Op, interfaces.ErrNotCreator, tx.ServiceID, tx.Caller)
	}
	bid, ok := m.bids.at(tx.ServiceID, tx.BidIndex)
	if !ok {
		return nil, &interfaces.FederationError{
			Op:        string(tx.Op),
			Kind:      interfaces.ErrBidIndexOutOfRange,
			ServiceID: tx.ServiceID,
			Identity:  tx.Caller,
			Detail:    fmt.Sprintf("index %d, %d bids", tx.BidIndex, m.bids.count(tx.ServiceID)),
		}
	}

	return &Pending{apply: func() Result {
		svc.State = interfaces.StateClosed
		svc.Provider = bid.Bidder
		svc.ProviderEndpoint = bid.Endpoint
		return Result{Events: []interfaces.Event{{
			Kind:      interfaces.EventServiceClosed,
			ServiceID: tx.ServiceID,
			Operator:  bid.Bidder,
		}}}
	}}, nil
}

func (m *Machine) prepareUpdateEndpoint(tx Tx) (*Pending, error) {
	if !m.operators.registered(tx.Caller) {
		return nil, reject(tx.Op, interfaces.ErrNotRegistered, tx.ServiceID, tx.Caller)
	}
	svc, exists := m.services.get(tx.ServiceID)
	if !exists {
		return nil, reject(tx.Op, interfaces.ErrServiceNotFound, tx.ServiceID, tx.Caller)
	}

	if tx.AsProvider {
		// Before Closed the provider field still holds the creator, so the
		// state check is what keeps the creator out of the provider slot.
		if svc.State < interfaces.StateClosed || svc.Provider != tx.Caller {
			return nil, reject(tx.Op, interfaces.ErrUnauthorized, tx.ServiceID, tx.Caller)
		}
	} else {
		if svc.Creator != tx.Caller {
			return nil, reject(tx.Op, interfaces.ErrNotCreator, tx.ServiceID, tx.Caller)
		}
		if m.opts.FreezeConsumerEndpoint && svc.State == interfaces.StateDeployed {
			return nil, reject(tx.Op, interfaces.ErrWrongState, tx.ServiceID, tx.Caller)
		}
	}

	return &Pending{apply: func() Result {
		digest := m.endpoints.put(tx.Endpoint)
		if tx.AsProvider {
			svc.ProviderEndpoint = digest
		} else {
			svc.ConsumerEndpoint = digest
		}
		return Result{Events: []interfaces.Event{{
			Kind:      interfaces.EventEndpointUpdated,
			ServiceID: tx.ServiceID,
			Operator:  tx.Caller,
		}}}
	}}, nil
}

func (m *Machine) prepareMarkDeployed(tx Tx) (*Pending, error) {
	svc, exists := m.services.get(tx.ServiceID)
	if !exists {
		return nil, reject(tx.Op, interfaces.ErrServiceNotFound, tx.ServiceID, tx.Caller)
	}
	if svc.Provider != tx.Caller {
		return nil, reject(tx.Op, interfaces.ErrUnauthorized, tx.ServiceID, tx.Caller)
	}
	if svc.State != interfaces.StateClosed {
		return nil, reject(tx.Op, interfaces.ErrWrongState, tx.ServiceID, tx.Caller)
	}

	info := bytes.Clone(tx.Info)
	return &Pending{apply: func() Result {
		svc.State = interfaces.StateDeployed
		svc.Requirements = info
		return Result{Events: []interfaces.Event{{
			Kind:      interfaces.EventServiceDeployed,
			ServiceID: tx.ServiceID,
			Operator:  tx.Caller,
		}}}
	}}, nil
}

// Register registers caller under name.
func (m *Machine) Register(caller interfaces.Identity, name string) error {
	_, err := m.Execute(Tx{Op: OpRegister, Caller: caller, Name: name})
	return err
}

// Unregister removes the caller's operator record.
func (m *Machine) Unregister(caller interfaces.Identity) error {
	_, err := m.Execute(Tx{Op: OpUnregister, Caller: caller})
	return err
}

// AnnounceService opens a new service with the caller as creator.
func (m *Machine) AnnounceService(caller interfaces.Identity, id interfaces.ServiceID, requirements []byte, endpoint interfaces.Endpoint) error {
	_, err := m.Execute(Tx{Op: OpAnnounce, Caller: caller, ServiceID: id, Requirements: requirements, Endpoint: endpoint})
	return err
}

// PlaceBid appends a bid and returns its 0-based index.
func (m *Machine) PlaceBid(caller interfaces.Identity, id interfaces.ServiceID, price uint64, endpoint interfaces.Endpoint) (uint64, error) {
	res, err := m.Execute(Tx{Op: OpPlaceBid, Caller: caller, ServiceID: id, Price: price, Endpoint: endpoint})
	return res.BidIndex, err
}

// ChooseProvider closes the service with the bidder at bidIndex as provider.
func (m *Machine) ChooseProvider(caller interfaces.Identity, id interfaces.ServiceID, bidIndex uint64) error {
	_, err := m.Execute(Tx{Op: OpChooseProvider, Caller: caller, ServiceID: id, BidIndex: bidIndex})
	return err
}

// UpdateEndpoint replaces the caller's endpoint reference on the service.
func (m *Machine) UpdateEndpoint(caller interfaces.Identity, id interfaces.ServiceID, asProvider bool, endpoint interfaces.Endpoint) error {
	_, err := m.Execute(Tx{Op: OpUpdateEndpoint, Caller: caller, ServiceID: id, AsProvider: asProvider, Endpoint: endpoint})
	return err
}

// MarkDeployed moves the service to Deployed and records info.
func (m *Machine) MarkDeployed(caller interfaces.Identity, id interfaces.ServiceID, info []byte) error {
	_, err := m.Execute(Tx{Op: OpMarkDeployed, Caller: caller, ServiceID: id, Info: info})
	return err
}
