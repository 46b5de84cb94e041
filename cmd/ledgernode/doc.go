// Package main (cmd/ledgernode) runs a single-node federation ledger.
//
// The node orders every federation transaction, validates it against the
// federation state machine and serves the result over HTTP: signed
// transaction submission, role-gated queries, the event log and transaction
// receipts. With --journal the committed transactions are kept in a SQLite
// database and replayed on start, so the hash-chained history survives
// restarts.
//
// Example usage:
//
//	ledger-node --listen-addr=0.0.0.0:8080 \
//	    --journal=/var/lib/federation/ledger.db \
//	    --metrics-addr=0.0.0.0:8090
package main
