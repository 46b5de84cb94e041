package interfaces

import "context"

// DeploymentRequest describes the workload a provider must deploy.
type DeploymentRequest struct {
	ServiceID        ServiceID
	Service          string
	Replicas         int
	ConsumerEndpoint Endpoint
}

// Deployment is the result of a successful deployment.
type Deployment struct {
	// Address is the reachable address recorded on the ledger.
	Address string
	// Endpoint optionally refines the provider endpoint published at bid time.
	Endpoint *Endpoint
}

// Deployer deploys federated workloads in the provider domain.
type Deployer interface {
	Deploy(ctx context.Context, req DeploymentRequest) (*Deployment, error)
}

// Connector establishes overlay connectivity with a federation peer.
type Connector interface {
	Connect(ctx context.Context, local, remote Endpoint) error
}
