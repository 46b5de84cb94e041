// Package contract implements interfaces.FederationLedger on top of the
// Federation smart contract deployed on a permissioned Ethereum network.
//
// The contract interface is embedded as federation.abi.json and bound at
// runtime with bind.NewBoundContract, so no generated bindings are needed.
// Service ids travel as bytes32 (right-padded), endpoints as four strings,
// prices and bid indices as uint256.
//
// Mutating calls are signed by one of the transactors registered with
// AddSigner or SetTransactOpts and wait until mined; the returned receipt
// carries the Federation events decoded from the transaction logs. Queries are
// eth_calls with From set to the caller, which the contract reads as
// msg.sender for its access rules.
//
// Reverts are mapped back to error kinds by KindForRevert: the contract uses
// the kind's wire name as its revert reason. Every other failure wraps
// interfaces.ErrLedgerUnavailable.
//
// Events are served from a cursor-indexed cache filled by scanning contract
// logs block by block:
//
//	client := contract.NewClient(ethClient, address, logger)
//	identity, err := client.AddSigner(key, chainID)
//	events, err := client.Events(ctx, cursor, 100)
package contract
