// Package main (cmd/coordinator) runs one federation workflow for a domain.
//
// The domain is described by a YAML profile: its name, role, endpoint,
// timeouts and, depending on the role, the service requirements and bid
// target (consumer) or the price and announcement filter (provider). The
// ledger is reached either through a ledger node (--ledger-url) or through
// the Federation contract on an Ethereum-compatible chain (--contract and
// --rpc-addr). The domain orchestrator named in the profile deploys
// workloads and configures the VXLAN overlay, and the outcome is archived to
// every storage location listed under archive.
//
// The final outcome is printed as JSON on stdout.
//
// Example usage:
//
//	federation-coordinator --profile=consumer.yaml \
//	    --ledger-url=http://ledger:8080 \
//	    --key-file=/etc/federation/domain1.key
package main
