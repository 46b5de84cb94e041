package federation

import (
	"bytes"

	"github.com/ruteri/dlt-service-federation/interfaces"
)

// Lookup returns the display name of a registered operator.
func (m *Machine) Lookup(identity interfaces.Identity) (string, error) {
	op, ok := m.operators.operators[identity]
	if !ok || !op.Registered {
		return "", reject("lookup", interfaces.ErrNotRegistered, "", identity)
	}
	return op.Name, nil
}

func (m *Machine) registeredService(op Op, caller interfaces.Identity, id interfaces.ServiceID) (*interfaces.Service, error) {
	if !m.operators.registered(caller) {
		return nil, reject(op, interfaces.ErrNotRegistered, id, caller)
	}
	svc, ok := m.services.get(id)
	if !ok {
		return nil, reject(op, interfaces.ErrServiceNotFound, id, caller)
	}
	return svc, nil
}

// ServiceState returns the lifecycle state of a service.
func (m *Machine) ServiceState(caller interfaces.Identity, id interfaces.ServiceID) (interfaces.ServiceState, error) {
	svc, err := m.registeredService("serviceState", caller, id)
	if err != nil {
		return 0, err
	}
	return svc.State, nil
}

// ServiceInfo returns the role-filtered view of a service. A provider sees
// the consumer endpoint once it has won; the creator sees the provider
// endpoint once a provider was chosen.
func (m *Machine) ServiceInfo(caller interfaces.Identity, id interfaces.ServiceID, asProvider bool) (*interfaces.ServiceInfo, error) {
	const op = "serviceInfo"
	svc, err := m.registeredService(op, caller, id)
	if err != nil {
		return nil, err
	}

	info := &interfaces.ServiceInfo{
		ID:           svc.ID,
		State:        svc.State,
		Creator:      svc.Creator,
		Provider:     svc.Provider,
		Requirements: bytes.Clone(svc.Requirements),
	}

	if asProvider {
		if svc.State < interfaces.StateClosed || svc.Provider != caller {
			return nil, reject(op, interfaces.ErrUnauthorized, id, caller)
		}
		info.CounterpartEndpoint, err = m.endpoint(op, id, svc.ConsumerEndpoint)
		if err != nil {
			return nil, err
		}
		return info, nil
	}

	if svc.Creator != caller {
		return nil, reject(op, interfaces.ErrNotCreator, id, caller)
	}
	if svc.State >= interfaces.StateClosed {
		info.CounterpartEndpoint, err = m.endpoint(op, id, svc.ProviderEndpoint)
		if err != nil {
			return nil, err
		}
	}
	return info, nil
}

// Endpoint returns the provider (ofProvider) or consumer endpoint of a
// service. Each side is visible to its owner and, once a provider was
// chosen, to the counterpart.
func (m *Machine) Endpoint(caller interfaces.Identity, id interfaces.ServiceID, ofProvider bool) (interfaces.Endpoint, error) {
	const op = "endpoint"
	svc, err := m.registeredService(op, caller, id)
	if err != nil {
		return interfaces.Endpoint{}, err
	}

	if ofProvider {
		if svc.State == interfaces.StateOpen {
			return interfaces.Endpoint{}, reject(op, interfaces.ErrWrongState, id, caller)
		}
		if caller != svc.Provider && caller != svc.Creator {
			return interfaces.Endpoint{}, reject(op, interfaces.ErrUnauthorized, id, caller)
		}
		return m.endpoint(op, id, svc.ProviderEndpoint)
	}

	switch {
	case caller == svc.Creator:
	case caller == svc.Provider && svc.State >= interfaces.StateClosed:
	default:
		return interfaces.Endpoint{}, reject(op, interfaces.ErrUnauthorized, id, caller)
	}
	return m.endpoint(op, id, svc.ConsumerEndpoint)
}

func (m *Machine) endpoint(op Op, id interfaces.ServiceID, digest interfaces.EndpointDigest) (interfaces.Endpoint, error) {
	e, ok := m.endpoints.get(digest)
	if !ok {
		return interfaces.Endpoint{}, &interfaces.FederationError{
			Op:        string(op),
			Kind:      interfaces.ErrEndpointNotFound,
			ServiceID: id,
			Detail:    digest.String(),
		}
	}
	return e, nil
}

func (m *Machine) creatorService(op Op, caller interfaces.Identity, id interfaces.ServiceID) (*interfaces.Service, error) {
	svc, ok := m.services.get(id)
	if !ok {
		return nil, reject(op, interfaces.ErrServiceNotFound, id, caller)
	}
	if svc.Creator != caller {
		return nil, reject(op, interfaces.ErrNotCreator, id, caller)
	}
	return svc, nil
}

// BidCount returns the number of bids on a service. Only the creator may ask.
func (m *Machine) BidCount(caller interfaces.Identity, id interfaces.ServiceID) (uint64, error) {
	if _, err := m.creatorService("bidCount", caller, id); err != nil {
		return 0, err
	}
	return m.bids.count(id), nil
}

// Bid returns the bid at index. Only the creator may ask.
func (m *Machine) Bid(caller interfaces.Identity, id interfaces.ServiceID, index uint64) (*interfaces.Bid, error) {
	const op = "bid"
	if _, err := m.creatorService(op, caller, id); err != nil {
		return nil, err
	}
	bid, ok := m.bids.at(id, index)
	if !ok {
		return nil, reject(op, interfaces.ErrBidIndexOutOfRange, id, caller)
	}
	return &bid, nil
}

// IsWinner reports whether candidate is the chosen provider of a closed or
// deployed service.
func (m *Machine) IsWinner(caller interfaces.Identity, id interfaces.ServiceID, candidate interfaces.Identity) (bool, error) {
	svc, err := m.registeredService("isWinner", caller, id)
	if err != nil {
		return false, err
	}
	return svc.State >= interfaces.StateClosed && svc.Provider == candidate, nil
}
