// Package main (cmd/federationctl) sends single federation operations to the
// ledger and prints the result as JSON.
//
// Every operation of the federation contract has a command: register,
// unregister, announce, bid, choose, update-endpoint and deployed submit
// transactions signed with the domain key; state, info, bids, winner, events,
// receipt and height are queries. disconnect asks the local orchestrator to
// remove the VXLAN tunnel towards a peer domain.
//
// Example usage:
//
//	federationctl --ledger-url=http://ledger:8080 --key-file=domain1.key \
//	    announce --id=service1712345678 --requirements='service=alpine;replicas=1' \
//	    --topology=consumer-net.yaml
//
//	federationctl --caller=0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed bids --id=service1712345678
package main
