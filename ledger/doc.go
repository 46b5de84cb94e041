// Package ledger provides the ordering primitive the federation state machine
// runs on.
//
// Local is a single-node ledger: every mutating transaction is serialised
// behind one lock, validated by the federation machine, appended to an
// optional durable journal and only then committed. Each committed
// transaction advances the height by one and extends a keccak256 hash chain
// over the transaction hashes, so a replayed journal whose chain does not
// match is rejected. Events emitted by committed transactions are stamped
// with height and transaction hash and appended to a cursor-addressed log.
//
// Resubmitting a transaction hash that was already committed returns the
// stored receipt instead of applying it again.
package ledger
