// Package coordinator runs the off-chain side of the federation protocol for
// one administrative domain.
//
// A Coordinator acts as a single ledger identity. As a consumer it announces
// a service, waits for bids, chooses a provider and waits for the deployment
// to be confirmed, then optionally connects its overlay to the provider. As a
// provider it watches the event log for open announcements, bids, and if
// chosen deploys the workload through a Deployer and records the deployment
// info on the ledger.
//
// The ledger is the only shared state. Transactions are resubmitted only on
// transport failures, and only after reading back whether an earlier attempt
// was committed. Every workflow ends in an Outcome carrying the per-step
// timings, which can be archived to a storage backend and exported as CSV.
package coordinator
