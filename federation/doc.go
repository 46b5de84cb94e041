// Package federation implements the ledger-side federation state machine.
//
// A Machine owns four keyed stores: the operator registry (identity to
// operator), the service ledger (id to service), the bid pool (id to ordered
// bids) and the endpoint store (content digest to endpoint). Every mutating
// operation is expressed as a Tx. Prepare validates a Tx against the current
// state without touching it; the returned Pending commits the change and can
// no longer fail. Callers that need a durable record (see package ledger)
// persist the Tx between the two steps, so a rejected or unpersisted
// transaction never leaves partial state behind.
//
// Machine is not safe for concurrent use. The ledger that owns it provides
// the total order of transactions.
//
// Lifecycle of a service:
//
//	Open ──chooseProvider──▶ Closed ──markDeployed──▶ Deployed
//
// Bids are accepted only while Open, endpoints may be exchanged while Closed,
// and Deployed is terminal.
package federation
