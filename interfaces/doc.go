// Package interfaces defines core interfaces and types for the DLT service
// federation system, separating interface definitions from implementations.
//
// The package provides interfaces for the key components of the system:
//
// # Ledger Interfaces
//
// OperatorRegistry: Registers and removes administrative domains (operators)
// keyed by their caller identity.
//
// FederationContract: The mutating half of the federation protocol. Every call
// is a ledger transaction and returns a Receipt carrying the committed height
// and the events the transaction emitted.
//
// FederationReader: Read-only queries over the service ledger, bid pool and
// endpoint store, enforcing the same role checks as the mutators.
//
// EventSource: Cursor-based consumption of the append-only event log.
//
// FederationLedger combines all of the above and is implemented by the
// in-process ledger, the HTTP ledger client and the on-chain contract client.
//
// # Collaborator Interfaces
//
// Deployer: Deploys a requested workload in the provider domain.
//
// Connector: Establishes overlay connectivity towards a federation peer.
//
// # Storage Interfaces
//
// StorageBackend: Provides content-addressed storage for archived federation
// records across multiple backend types (file, S3, IPFS, Vault).
//
// StorageBackendFactory: Creates storage backends from URI strings and manages
// multi-backend configurations for redundant storage.
//
// # Core Types
//
//   - Identity: 20-byte caller address of an operator
//   - EndpointDigest: keccak256 content address of an Endpoint
//   - ContentID: 32-byte SHA-256 hash for archive content addressing
//   - Service, Bid, Operator, ServiceInfo: ledger records
//   - FederationError: structured ledger rejection carrying its kind
package interfaces
