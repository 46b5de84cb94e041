package contract

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ruteri/dlt-service-federation/interfaces"
)

var errAnonymousLog = errors.New("log carries no event topic")

// parseLog decodes a Federation contract log into a ledger event. Cursor is
// left to the caller.
func parseLog(contractABI *abi.ABI, lg types.Log) (interfaces.Event, error) {
	if len(lg.Topics) == 0 {
		return interfaces.Event{}, errAnonymousLog
	}

	ev, err := contractABI.EventByID(lg.Topics[0])
	if err != nil {
		return interfaces.Event{}, err
	}

	fields := make(map[string]any)
	if len(lg.Data) > 0 {
		if err := contractABI.UnpackIntoMap(fields, ev.Name, lg.Data); err != nil {
			return interfaces.Event{}, fmt.Errorf("could not unpack %s: %w", ev.Name, err)
		}
	}

	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(fields, indexed, lg.Topics[1:]); err != nil {
		return interfaces.Event{}, fmt.Errorf("could not parse %s topics: %w", ev.Name, err)
	}

	out := interfaces.Event{
		Height: lg.BlockNumber,
		TxHash: interfaces.TxHash(lg.TxHash),
		Kind:   interfaces.EventKind(ev.Name),
	}
	if id, ok := fields["id"].([32]byte); ok {
		out.ServiceID = interfaces.ServiceIDFromBytes32(id)
	}
	for _, key := range []string{"operator", "creator", "bidder", "provider"} {
		if addr, ok := fields[key].(common.Address); ok {
			out.Operator = interfaces.Identity(addr)
		}
	}
	if requirements, ok := fields["requirements"].([]byte); ok {
		out.Requirements = requirements
	}
	if count, ok := fields["bidCount"].(*big.Int); ok {
		out.BidCount = count.Uint64()
	}
	return out, nil
}
