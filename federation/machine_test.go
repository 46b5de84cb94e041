package federation

import (
	"testing"

	"github.com/ruteri/dlt-service-federation/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	domainA = interfaces.Identity{0x0a}
	domainB = interfaces.Identity{0x0b}
	domainC = interfaces.Identity{0x0c}
	domainD = interfaces.Identity{0x0d}

	consumerEndpoint = interfaces.Endpoint{
		CatalogRef:   "http://10.0.0.1:8000/catalog/alpine",
		TopologyRef:  "http://10.0.0.1:8000/topology/alpine",
		DescriptorID: "alpine",
		NamespaceID:  "federation-net",
	}
	providerEndpoint = interfaces.Endpoint{
		CatalogRef:   "http://10.0.0.2:8000/catalog/alpine",
		TopologyRef:  "http://10.0.0.2:8000/topology/alpine",
		DescriptorID: "alpine",
		NamespaceID:  "federation-net",
	}
)

func requireKind(t *testing.T, err error, kind error) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, kind)
	var fe *interfaces.FederationError
	assert.ErrorAs(t, err, &fe)
}

// newAnnounced returns a machine where A announced svc-1 and B is registered.
func newAnnounced(t *testing.T) *Machine {
	t.Helper()
	m := NewMachine(Options{})
	require.NoError(t, m.Register(domainA, "Domain1"))
	require.NoError(t, m.Register(domainB, "Domain2"))
	require.NoError(t, m.AnnounceService(domainA, "svc-1", []byte("service=alpine;replicas=1"), consumerEndpoint))
	return m
}

func TestRegistry(t *testing.T) {
	m := NewMachine(Options{})

	require.NoError(t, m.Register(domainA, "Domain1"))
	requireKind(t, m.Register(domainA, "Domain1"), interfaces.ErrAlreadyRegistered)

	name, err := m.Lookup(domainA)
	require.NoError(t, err)
	assert.Equal(t, "Domain1", name)

	require.NoError(t, m.Unregister(domainA))
	_, err = m.Lookup(domainA)
	requireKind(t, err, interfaces.ErrNotRegistered)
	requireKind(t, m.Unregister(domainA), interfaces.ErrNotRegistered)

	require.NoError(t, m.Register(domainA, "Domain1-again"))
	name, err = m.Lookup(domainA)
	require.NoError(t, err)
	assert.Equal(t, "Domain1-again", name)
}

func TestRegisterInvalidName(t *testing.T) {
	testCases := []struct {
		name    string
		display string
	}{
		{"empty", ""},
		{"too long", "a-domain-name-that-does-not-fit-32-bytes"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMachine(Options{})
			requireKind(t, m.Register(domainA, tc.display), interfaces.ErrInvalidInput)
			_, err := m.Lookup(domainA)
			requireKind(t, err, interfaces.ErrNotRegistered)
		})
	}
}

func TestAnnounceService(t *testing.T) {
	m := newAnnounced(t)

	err := m.AnnounceService(domainB, "svc-1", []byte("service=nginx;replicas=3"), providerEndpoint)
	requireKind(t, err, interfaces.ErrDuplicateServiceID)

	info, err := m.ServiceInfo(domainA, "svc-1", false)
	require.NoError(t, err)
	assert.Equal(t, domainA, info.Creator)
	assert.Equal(t, domainA, info.Provider, "provider defaults to creator")
	assert.Equal(t, []byte("service=alpine;replicas=1"), info.Requirements)
	assert.Equal(t, interfaces.StateOpen, info.State)
	assert.True(t, info.CounterpartEndpoint.IsZero(), "no provider endpoint while open")

	endpoint, err := m.Endpoint(domainA, "svc-1", false)
	require.NoError(t, err)
	assert.Equal(t, consumerEndpoint, endpoint)
}

func TestAnnounceServiceInvalidID(t *testing.T) {
	m := NewMachine(Options{})
	require.NoError(t, m.Register(domainA, "Domain1"))

	for _, id := range []interfaces.ServiceID{"", "service-id-that-is-longer-than-32-bytes"} {
		requireKind(t, m.AnnounceService(domainA, id, nil, consumerEndpoint), interfaces.ErrInvalidInput)
	}
	assert.Empty(t, m.services.services)
}

func TestUnregisteredCannotAnnounce(t *testing.T) {
	m := NewMachine(Options{})

	err := m.AnnounceService(domainC, "svc-c", []byte("service=alpine;replicas=1"), consumerEndpoint)
	requireKind(t, err, interfaces.ErrNotRegistered)

	var fe *interfaces.FederationError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, interfaces.ServiceID("svc-c"), fe.ServiceID)
	assert.Equal(t, domainC, fe.Identity)

	require.NoError(t, m.Register(domainA, "Domain1"))
	_, err = m.ServiceState(domainA, "svc-c")
	requireKind(t, err, interfaces.ErrServiceNotFound)
	assert.Empty(t, m.services.services)
}

func TestPlaceBidRequiresOpenService(t *testing.T) {
	m := newAnnounced(t)
	require.NoError(t, m.Register(domainD, "Domain4"))

	index, err := m.PlaceBid(domainB, "svc-1", 5, providerEndpoint)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), index)

	index, err = m.PlaceBid(domainD, "svc-1", 7, providerEndpoint)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), index)

	_, err = m.PlaceBid(domainB, "unknown", 5, providerEndpoint)
	requireKind(t, err, interfaces.ErrServiceNotOpen)
	_, err = m.BidCount(domainA, "unknown")
	requireKind(t, err, interfaces.ErrServiceNotFound)

	_, err = m.PlaceBid(domainC, "svc-1", 1, providerEndpoint)
	requireKind(t, err, interfaces.ErrNotRegistered)

	require.NoError(t, m.ChooseProvider(domainA, "svc-1", 0))
	_, err = m.PlaceBid(domainD, "svc-1", 3, providerEndpoint)
	requireKind(t, err, interfaces.ErrServiceNotOpen)
	assert.ErrorIs(t, err, interfaces.ErrWrongState)

	require.NoError(t, m.MarkDeployed(domainB, "svc-1", []byte("10.0.0.10")))
	_, err = m.PlaceBid(domainD, "svc-1", 3, providerEndpoint)
	requireKind(t, err, interfaces.ErrServiceNotOpen)

	count, err := m.BidCount(domainA, "svc-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count, "rejected bids leave the pool untouched")

	bid, err := m.Bid(domainA, "svc-1", 1)
	require.NoError(t, err)
	assert.Equal(t, domainD, bid.Bidder)
	assert.Equal(t, uint64(7), bid.Price)
}

func TestChooseProvider(t *testing.T) {
	m := newAnnounced(t)
	_, err := m.PlaceBid(domainB, "svc-1", 5, providerEndpoint)
	require.NoError(t, err)

	requireKind(t, m.ChooseProvider(domainA, "nope", 0), interfaces.ErrServiceNotFound)

	err = m.ChooseProvider(domainB, "svc-1", 0)
	requireKind(t, err, interfaces.ErrNotCreator)
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)

	requireKind(t, m.ChooseProvider(domainA, "svc-1", 1), interfaces.ErrBidIndexOutOfRange)

	state, err := m.ServiceState(domainA, "svc-1")
	require.NoError(t, err)
	assert.Equal(t, interfaces.StateOpen, state, "failed choices leave the service open")

	require.NoError(t, m.ChooseProvider(domainA, "svc-1", 0))

	for _, caller := range []interfaces.Identity{domainA, domainB} {
		err = m.ChooseProvider(caller, "svc-1", 0)
		requireKind(t, err, interfaces.ErrServiceNotOpen)
		assert.ErrorIs(t, err, interfaces.ErrWrongState, "second choice by %s", caller)
		assert.NotErrorIs(t, err, interfaces.ErrUnauthorized)
	}

	info, err := m.ServiceInfo(domainA, "svc-1", false)
	require.NoError(t, err)
	assert.Equal(t, domainB, info.Provider)
	assert.Equal(t, providerEndpoint, info.CounterpartEndpoint)
}

func TestMarkDeployed(t *testing.T) {
	m := newAnnounced(t)
	require.NoError(t, m.Register(domainD, "Domain4"))
	_, err := m.PlaceBid(domainB, "svc-1", 5, providerEndpoint)
	require.NoError(t, err)

	requireKind(t, m.MarkDeployed(domainB, "svc-1", []byte("10.0.0.10")), interfaces.ErrUnauthorized)
	requireKind(t, m.MarkDeployed(domainA, "svc-1", []byte("10.0.0.10")), interfaces.ErrWrongState)
	requireKind(t, m.MarkDeployed(domainB, "nope", nil), interfaces.ErrServiceNotFound)

	require.NoError(t, m.ChooseProvider(domainA, "svc-1", 0))
	requireKind(t, m.MarkDeployed(domainD, "svc-1", []byte("10.0.0.11")), interfaces.ErrUnauthorized)
	requireKind(t, m.MarkDeployed(domainA, "svc-1", []byte("10.0.0.11")), interfaces.ErrUnauthorized)

	require.NoError(t, m.MarkDeployed(domainB, "svc-1", []byte("10.0.0.10")))
	requireKind(t, m.MarkDeployed(domainB, "svc-1", []byte("10.0.0.12")), interfaces.ErrWrongState)

	info, err := m.ServiceInfo(domainA, "svc-1", false)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StateDeployed, info.State)
	assert.Equal(t, []byte("10.0.0.10"), info.Requirements)
}

func TestUpdateEndpoint(t *testing.T) {
	refined := interfaces.Endpoint{CatalogRef: "c", TopologyRef: "t", DescriptorID: "d", NamespaceID: "n"}

	m := newAnnounced(t)
	_, err := m.PlaceBid(domainB, "svc-1", 5, providerEndpoint)
	require.NoError(t, err)

	requireKind(t, m.UpdateEndpoint(domainC, "svc-1", false, refined), interfaces.ErrNotRegistered)
	requireKind(t, m.UpdateEndpoint(domainA, "nope", false, refined), interfaces.ErrServiceNotFound)
	requireKind(t, m.UpdateEndpoint(domainB, "svc-1", false, refined), interfaces.ErrUnauthorized)
	requireKind(t, m.UpdateEndpoint(domainA, "svc-1", true, refined), interfaces.ErrUnauthorized)
	requireKind(t, m.UpdateEndpoint(domainB, "svc-1", true, refined), interfaces.ErrUnauthorized)

	require.NoError(t, m.ChooseProvider(domainA, "svc-1", 0))
	requireKind(t, m.UpdateEndpoint(domainA, "svc-1", true, refined), interfaces.ErrUnauthorized)
	require.NoError(t, m.UpdateEndpoint(domainB, "svc-1", true, refined))

	endpoint, err := m.Endpoint(domainA, "svc-1", true)
	require.NoError(t, err)
	assert.Equal(t, refined, endpoint)

	require.NoError(t, m.MarkDeployed(domainB, "svc-1", []byte("10.0.0.10")))
	require.NoError(t, m.UpdateEndpoint(domainA, "svc-1", false, refined), "consumer may reconfigure after deployment")

	endpoint, err = m.Endpoint(domainB, "svc-1", false)
	require.NoError(t, err)
	assert.Equal(t, refined, endpoint)
}

func TestFreezeConsumerEndpoint(t *testing.T) {
	m := NewMachine(Options{FreezeConsumerEndpoint: true})
	require.NoError(t, m.Register(domainA, "Domain1"))
	require.NoError(t, m.Register(domainB, "Domain2"))
	require.NoError(t, m.AnnounceService(domainA, "svc-1", nil, consumerEndpoint))
	require.NoError(t, m.UpdateEndpoint(domainA, "svc-1", false, providerEndpoint))
	_, err := m.PlaceBid(domainB, "svc-1", 5, providerEndpoint)
	require.NoError(t, err)
	require.NoError(t, m.ChooseProvider(domainA, "svc-1", 0))
	require.NoError(t, m.MarkDeployed(domainB, "svc-1", []byte("10.0.0.10")))

	requireKind(t, m.UpdateEndpoint(domainA, "svc-1", false, consumerEndpoint), interfaces.ErrWrongState)
}

func TestQueryAccess(t *testing.T) {
	m := newAnnounced(t)
	require.NoError(t, m.Register(domainD, "Domain4"))
	_, err := m.PlaceBid(domainB, "svc-1", 5, providerEndpoint)
	require.NoError(t, err)

	_, err = m.BidCount(domainB, "svc-1")
	requireKind(t, err, interfaces.ErrNotCreator)
	_, err = m.Bid(domainB, "svc-1", 0)
	requireKind(t, err, interfaces.ErrNotCreator)
	_, err = m.Bid(domainA, "svc-1", 4)
	requireKind(t, err, interfaces.ErrBidIndexOutOfRange)

	_, err = m.ServiceState(domainC, "svc-1")
	requireKind(t, err, interfaces.ErrNotRegistered)

	_, err = m.ServiceInfo(domainB, "svc-1", true)
	requireKind(t, err, interfaces.ErrUnauthorized)
	_, err = m.ServiceInfo(domainB, "svc-1", false)
	requireKind(t, err, interfaces.ErrNotCreator)
	_, err = m.Endpoint(domainB, "svc-1", false)
	requireKind(t, err, interfaces.ErrUnauthorized)
	_, err = m.Endpoint(domainA, "svc-1", true)
	requireKind(t, err, interfaces.ErrWrongState)

	require.NoError(t, m.ChooseProvider(domainA, "svc-1", 0))

	info, err := m.ServiceInfo(domainB, "svc-1", true)
	require.NoError(t, err)
	assert.Equal(t, consumerEndpoint, info.CounterpartEndpoint)
	assert.Equal(t, []byte("service=alpine;replicas=1"), info.Requirements)

	_, err = m.ServiceInfo(domainD, "svc-1", true)
	requireKind(t, err, interfaces.ErrUnauthorized)
	_, err = m.Endpoint(domainD, "svc-1", true)
	requireKind(t, err, interfaces.ErrUnauthorized)
	_, err = m.Endpoint(domainD, "svc-1", false)
	requireKind(t, err, interfaces.ErrUnauthorized)

	endpoint, err := m.Endpoint(domainB, "svc-1", false)
	require.NoError(t, err)
	assert.Equal(t, consumerEndpoint, endpoint)
}

func TestEndpointContentAddressing(t *testing.T) {
	m := newAnnounced(t)
	_, err := m.PlaceBid(domainB, "svc-1", 5, consumerEndpoint)
	require.NoError(t, err)

	assert.Len(t, m.endpoints.records, 1, "identical tuples share one record")

	same := consumerEndpoint
	assert.Equal(t, consumerEndpoint.Digest(), same.Digest())
	assert.NotEqual(t, consumerEndpoint.Digest(), providerEndpoint.Digest())

	stored, ok := m.endpoints.get(consumerEndpoint.Digest())
	require.True(t, ok)
	assert.Equal(t, consumerEndpoint, stored)
}

func TestFederationScenario(t *testing.T) {
	m := NewMachine(Options{})

	require.NoError(t, m.Register(domainA, "Domain1"))
	require.NoError(t, m.AnnounceService(domainA, "svc-1", []byte("service=alpine;replicas=1"), consumerEndpoint))

	require.NoError(t, m.Register(domainB, "Domain2"))
	index, err := m.PlaceBid(domainB, "svc-1", 5, providerEndpoint)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), index)

	require.NoError(t, m.ChooseProvider(domainA, "svc-1", 0))

	state, err := m.ServiceState(domainA, "svc-1")
	require.NoError(t, err)
	assert.Equal(t, interfaces.StateClosed, state)

	won, err := m.IsWinner(domainA, "svc-1", domainB)
	require.NoError(t, err)
	assert.True(t, won)
	won, err = m.IsWinner(domainA, "svc-1", domainA)
	require.NoError(t, err)
	assert.False(t, won)

	require.NoError(t, m.MarkDeployed(domainB, "svc-1", []byte("10.0.0.10")))

	state, err = m.ServiceState(domainB, "svc-1")
	require.NoError(t, err)
	assert.Equal(t, interfaces.StateDeployed, state)
}

func TestIsWinnerWhileOpen(t *testing.T) {
	m := newAnnounced(t)
	won, err := m.IsWinner(domainB, "svc-1", domainA)
	require.NoError(t, err)
	assert.False(t, won, "the defaulted provider is not a winner")
}

func TestPrepareDoesNotMutate(t *testing.T) {
	m := newAnnounced(t)

	pending, err := m.Prepare(Tx{Op: OpPlaceBid, Caller: domainB, ServiceID: "svc-1", Price: 5, Endpoint: providerEndpoint})
	require.NoError(t, err)

	count, err := m.BidCount(domainA, "svc-1")
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Len(t, m.endpoints.records, 1)

	res := pending.Commit()
	assert.Equal(t, uint64(0), res.BidIndex)
	require.Len(t, res.Events, 1)
	assert.Equal(t, interfaces.EventBidPlaced, res.Events[0].Kind)
	assert.Equal(t, uint64(1), res.Events[0].BidCount)

	_, err = m.Prepare(Tx{Op: "selfDestruct", Caller: domainA})
	requireKind(t, err, interfaces.ErrInvalidInput)
}

func TestExecuteEvents(t *testing.T) {
	m := NewMachine(Options{})
	var log EventLog

	txs := []Tx{
		{Op: OpRegister, Caller: domainA, Name: "Domain1"},
		{Op: OpRegister, Caller: domainB, Name: "Domain2"},
		{Op: OpAnnounce, Caller: domainA, ServiceID: "svc-1", Requirements: []byte("service=alpine;replicas=1"), Endpoint: consumerEndpoint},
		{Op: OpPlaceBid, Caller: domainB, ServiceID: "svc-1", Price: 5, Endpoint: providerEndpoint},
		{Op: OpChooseProvider, Caller: domainA, ServiceID: "svc-1"},
		{Op: OpMarkDeployed, Caller: domainB, ServiceID: "svc-1", Info: []byte("10.0.0.10")},
		{Op: OpUnregister, Caller: domainB},
	}
	for _, tx := range txs {
		res, err := m.Execute(tx)
		require.NoError(t, err, tx.Op)
		for _, ev := range res.Events {
			log.Append(ev)
		}
	}

	events := log.Since(0, 0)
	kinds := make([]interfaces.EventKind, 0, len(events))
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Cursor)
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []interfaces.EventKind{
		interfaces.EventOperatorRegistered,
		interfaces.EventOperatorRegistered,
		interfaces.EventServiceAnnounced,
		interfaces.EventBidPlaced,
		interfaces.EventServiceClosed,
		interfaces.EventServiceDeployed,
		interfaces.EventOperatorRemoved,
	}, kinds)

	assert.Equal(t, []byte("service=alpine;replicas=1"), events[2].Requirements)
	assert.Equal(t, domainB, events[4].Operator, "closed event names the winner")

	page := log.Since(2, 2)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(3), page[0].Cursor)
	assert.Nil(t, log.Since(7, 10))
	assert.Equal(t, uint64(7), log.Len())

	// Services created by an operator that later unregistered stay readable
	// for the remaining parties.
	state, err := m.ServiceState(domainA, "svc-1")
	require.NoError(t, err)
	assert.Equal(t, interfaces.StateDeployed, state)
}
