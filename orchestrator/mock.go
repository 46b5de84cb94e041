package orchestrator

import (
	"context"

	"github.com/ruteri/dlt-service-federation/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockDeployer mocks the Deployer interface
type MockDeployer struct {
	mock.Mock
}

// Deploy mocks the Deploy method
func (m *MockDeployer) Deploy(ctx context.Context, req interfaces.DeploymentRequest) (*interfaces.Deployment, error) {
	args := m.Called(ctx, req)
	deployment, _ := args.Get(0).(*interfaces.Deployment)
	return deployment, args.Error(1)
}

// MockConnector mocks the Connector interface
type MockConnector struct {
	mock.Mock
}

// Connect mocks the Connect method
func (m *MockConnector) Connect(ctx context.Context, local, remote interfaces.Endpoint) error {
	args := m.Called(ctx, local, remote)
	return args.Error(0)
}

var (
	_ interfaces.Deployer  = (*MockDeployer)(nil)
	_ interfaces.Connector = (*MockConnector)(nil)
)
