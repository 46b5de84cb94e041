package contract

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ruteri/dlt-service-federation/interfaces"
)

const revertPrefix = "execution reverted:"

// KindForRevert maps a contract revert to the error kind it names. The
// Federation contract reverts with the kind's wire name as its reason string,
// e.g. require(..., "ServiceNotOpen").
func KindForRevert(err error) (error, bool) {
	reason, ok := revertReason(err)
	if !ok {
		return nil, false
	}
	return interfaces.KindByName(reason)
}

func revertReason(err error) (string, bool) {
	if err == nil {
		return "", false
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if data, ok := dataErr.ErrorData().(string); ok {
			if raw, decErr := hexutil.Decode(data); decErr == nil {
				if reason, unpackErr := abi.UnpackRevert(raw); unpackErr == nil {
					return reason, true
				}
			}
		}
	}

	msg := err.Error()
	if i := strings.Index(msg, revertPrefix); i >= 0 {
		return strings.TrimSpace(msg[i+len(revertPrefix):]), true
	}
	return "", false
}
