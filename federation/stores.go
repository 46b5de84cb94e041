package federation

import (
	"github.com/ruteri/dlt-service-federation/interfaces"
)

// endpointStore is content-addressed: identical tuples share one record.
type endpointStore struct {
	records map[interfaces.EndpointDigest]interfaces.Endpoint
}

func (s *endpointStore) put(e interfaces.Endpoint) interfaces.EndpointDigest {
	digest := e.Digest()
	if _, exists := s.records[digest]; !exists {
		s.records[digest] = e
	}
	return digest
}

func (s *endpointStore) get(digest interfaces.EndpointDigest) (interfaces.Endpoint, bool) {
	e, ok := s.records[digest]
	return e, ok
}

type operatorRegistry struct {
	operators map[interfaces.Identity]*interfaces.Operator
}

func (r *operatorRegistry) registered(id interfaces.Identity) bool {
	op, ok := r.operators[id]
	return ok && op.Registered
}

type serviceLedger struct {
	services map[interfaces.ServiceID]*interfaces.Service
}

func (l *serviceLedger) get(id interfaces.ServiceID) (*interfaces.Service, bool) {
	svc, ok := l.services[id]
	return svc, ok
}

// bidPool keeps bids per service in commit order. Indices never move.
type bidPool struct {
	bids map[interfaces.ServiceID][]interfaces.Bid
}

func (p *bidPool) append(id interfaces.ServiceID, bid interfaces.Bid) uint64 {
	p.bids[id] = append(p.bids[id], bid)
	return uint64(len(p.bids[id]))
}

func (p *bidPool) count(id interfaces.ServiceID) uint64 {
	return uint64(len(p.bids[id]))
}

func (p *bidPool) at(id interfaces.ServiceID, index uint64) (interfaces.Bid, bool) {
	bids := p.bids[id]
	if index >= uint64(len(bids)) {
		return interfaces.Bid{}, false
	}
	return bids[index], true
}
