package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ruteri/dlt-service-federation/interfaces"
)

// CallerHeader names the identity a query is evaluated for.
const CallerHeader = "X-Federation-Caller"

// ErrInvalidSignature is returned when a SignedTx does not verify against the
// caller it names.
var ErrInvalidSignature = errors.New("invalid transaction signature")

// TxResponse is returned for a committed transaction.
type TxResponse struct {
	Receipt *interfaces.Receipt `json:"receipt"`
	// BidIndex is set for placeBid transactions.
	BidIndex *uint64 `json:"bid_index,omitempty"`
}

type StateResponse struct {
	State interfaces.ServiceState `json:"state"`
}

type OperatorResponse struct {
	Identity interfaces.Identity `json:"identity"`
	Name     string              `json:"name"`
}

type BidCountResponse struct {
	Count uint64 `json:"count"`
}

type WinnerResponse struct {
	Winner bool `json:"winner"`
}

type HeightResponse struct {
	Height uint64 `json:"height"`
}

type EventsResponse struct {
	Events []interfaces.Event `json:"events"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Kind      string               `json:"kind,omitempty"`
	Message   string               `json:"message"`
	ServiceID interfaces.ServiceID `json:"service_id,omitempty"`
	Identity  *interfaces.Identity `json:"identity,omitempty"`
	Op        string               `json:"op,omitempty"`
}

// NewErrorResponse describes err for the wire.
func NewErrorResponse(err error) ErrorResponse {
	resp := ErrorResponse{
		Kind:    interfaces.KindName(err),
		Message: err.Error(),
	}
	var fe *interfaces.FederationError
	if errors.As(err, &fe) {
		resp.Op = fe.Op
		resp.ServiceID = fe.ServiceID
		if !fe.Identity.IsZero() {
			id := fe.Identity
			resp.Identity = &id
		}
	}
	if resp.Kind == "" && errors.Is(err, interfaces.ErrTxNotFound) {
		resp.Kind = "TxNotFound"
	}
	if resp.Kind == "" && errors.Is(err, ErrInvalidSignature) {
		resp.Kind = "InvalidSignature"
	}
	return resp
}

// Err rebuilds a typed error from the response. Known kinds come back as a
// *interfaces.FederationError.
func (r ErrorResponse) Err() error {
	switch r.Kind {
	case "TxNotFound":
		return fmt.Errorf("%w: %s", interfaces.ErrTxNotFound, r.Message)
	case "InvalidSignature":
		return fmt.Errorf("%w: %s", ErrInvalidSignature, r.Message)
	}

	kind, ok := interfaces.KindByName(r.Kind)
	if !ok {
		return errors.New(r.Message)
	}
	fe := &interfaces.FederationError{
		Op:        r.Op,
		Kind:      kind,
		ServiceID: r.ServiceID,
	}
	if r.Identity != nil {
		fe.Identity = *r.Identity
	}
	return fe
}

// StatusForError maps an error kind to an HTTP status code.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, interfaces.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrUnauthorized), errors.Is(err, interfaces.ErrNotRegistered):
		return http.StatusForbidden
	case errors.Is(err, interfaces.ErrServiceNotFound),
		errors.Is(err, interfaces.ErrEndpointNotFound),
		errors.Is(err, interfaces.ErrTxNotFound),
		errors.Is(err, interfaces.ErrBidIndexOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrWrongState),
		errors.Is(err, interfaces.ErrAlreadyRegistered),
		errors.Is(err, interfaces.ErrDuplicateServiceID):
		return http.StatusConflict
	case errors.Is(err, interfaces.ErrLedgerUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
