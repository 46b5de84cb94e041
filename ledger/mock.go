package ledger

import (
	"context"

	"github.com/ruteri/dlt-service-federation/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockFederationLedger mocks the FederationLedger interface
type MockFederationLedger struct {
	mock.Mock
}

func receiptArg(args mock.Arguments, i int) *interfaces.Receipt {
	if r, ok := args.Get(i).(*interfaces.Receipt); ok {
		return r
	}
	return nil
}

// Register mocks the Register method
func (m *MockFederationLedger) Register(ctx context.Context, caller interfaces.Identity, name string) (*interfaces.Receipt, error) {
	args := m.Called(ctx, caller, name)
	return receiptArg(args, 0), args.Error(1)
}

// Unregister mocks the Unregister method
func (m *MockFederationLedger) Unregister(ctx context.Context, caller interfaces.Identity) (*interfaces.Receipt, error) {
	args := m.Called(ctx, caller)
	return receiptArg(args, 0), args.Error(1)
}

// Lookup mocks the Lookup method
func (m *MockFederationLedger) Lookup(ctx context.Context, identity interfaces.Identity) (string, error) {
	args := m.Called(ctx, identity)
	return args.String(0), args.Error(1)
}

// AnnounceService mocks the AnnounceService method
func (m *MockFederationLedger) AnnounceService(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, requirements []byte, consumerEndpoint interfaces.Endpoint) (*interfaces.Receipt, error) {
	args := m.Called(ctx, caller, id, requirements, consumerEndpoint)
	return receiptArg(args, 0), args.Error(1)
}

// PlaceBid mocks the PlaceBid method
func (m *MockFederationLedger) PlaceBid(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, price uint64, providerEndpoint interfaces.Endpoint) (uint64, *interfaces.Receipt, error) {
	args := m.Called(ctx, caller, id, price, providerEndpoint)
	return args.Get(0).(uint64), receiptArg(args, 1), args.Error(2)
}

// ChooseProvider mocks the ChooseProvider method
func (m *MockFederationLedger) ChooseProvider(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, bidIndex uint64) (*interfaces.Receipt, error) {
	args := m.Called(ctx, caller, id, bidIndex)
	return receiptArg(args, 0), args.Error(1)
}

// UpdateEndpoint mocks the UpdateEndpoint method
func (m *MockFederationLedger) UpdateEndpoint(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, asProvider bool, endpoint interfaces.Endpoint) (*interfaces.Receipt, error) {
	args := m.Called(ctx, caller, id, asProvider, endpoint)
	return receiptArg(args, 0), args.Error(1)
}

// MarkDeployed mocks the MarkDeployed method
func (m *MockFederationLedger) MarkDeployed(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, deploymentInfo []byte) (*interfaces.Receipt, error) {
	args := m.Called(ctx, caller, id, deploymentInfo)
	return receiptArg(args, 0), args.Error(1)
}

// ServiceState mocks the ServiceState method
func (m *MockFederationLedger) ServiceState(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID) (interfaces.ServiceState, error) {
	args := m.Called(ctx, caller, id)
	return args.Get(0).(interfaces.ServiceState), args.Error(1)
}

// ServiceInfo mocks the ServiceInfo method
func (m *MockFederationLedger) ServiceInfo(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, asProvider bool) (*interfaces.ServiceInfo, error) {
	args := m.Called(ctx, caller, id, asProvider)
	info, _ := args.Get(0).(*interfaces.ServiceInfo)
	return info, args.Error(1)
}

// Endpoint mocks the Endpoint method
func (m *MockFederationLedger) Endpoint(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, ofProvider bool) (interfaces.Endpoint, error) {
	args := m.Called(ctx, caller, id, ofProvider)
	return args.Get(0).(interfaces.Endpoint), args.Error(1)
}

// BidCount mocks the BidCount method
func (m *MockFederationLedger) BidCount(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID) (uint64, error) {
	args := m.Called(ctx, caller, id)
	return args.Get(0).(uint64), args.Error(1)
}

// Bid mocks the Bid method
func (m *MockFederationLedger) Bid(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, index uint64) (*interfaces.Bid, error) {
	args := m.Called(ctx, caller, id, index)
	bid, _ := args.Get(0).(*interfaces.Bid)
	return bid, args.Error(1)
}

// IsWinner mocks the IsWinner method
func (m *MockFederationLedger) IsWinner(ctx context.Context, caller interfaces.Identity, id interfaces.ServiceID, candidate interfaces.Identity) (bool, error) {
	args := m.Called(ctx, caller, id, candidate)
	return args.Bool(0), args.Error(1)
}

// Events mocks the Events method
func (m *MockFederationLedger) Events(ctx context.Context, after uint64, limit int) ([]interfaces.Event, error) {
	args := m.Called(ctx, after, limit)
	events, _ := args.Get(0).([]interfaces.Event)
	return events, args.Error(1)
}

// Height mocks the Height method
func (m *MockFederationLedger) Height(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

// Receipt mocks the Receipt method
func (m *MockFederationLedger) Receipt(ctx context.Context, tx interfaces.TxHash) (*interfaces.Receipt, error) {
	args := m.Called(ctx, tx)
	return receiptArg(args, 0), args.Error(1)
}

var _ interfaces.FederationLedger = (*MockFederationLedger)(nil)
