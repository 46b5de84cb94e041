package interfaces

import (
	"errors"
	"fmt"
	"strings"
)

// kindError is an error kind that may specialise a more general kind, so that
// errors.Is matches both.
type kindError struct {
	msg    string
	parent error
}

func (k *kindError) Error() string { return k.msg }

func (k *kindError) Is(target error) bool {
	return k.parent != nil && errors.Is(k.parent, target)
}

func newKind(msg string, parent error) error {
	return &kindError{msg: msg, parent: parent}
}

var (
	// ErrNotRegistered is returned when the caller has no registered operator.
	ErrNotRegistered = errors.New("operator not registered")

	// ErrAlreadyRegistered is returned when registering an identity twice.
	ErrAlreadyRegistered = errors.New("operator already registered")

	// ErrInvalidInput covers empty names, malformed ids and similar argument errors.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicateServiceID is returned when announcing an id that already exists.
	ErrDuplicateServiceID = errors.New("service id already exists")

	// ErrServiceNotFound is returned for unknown service ids.
	ErrServiceNotFound = errors.New("service not found")

	// ErrWrongState is returned when the service state does not allow the transition.
	ErrWrongState = errors.New("wrong service state")

	// ErrServiceNotOpen is the WrongState case for operations that need an open service.
	ErrServiceNotOpen = newKind("service not open", ErrWrongState)

	// ErrUnauthorized is returned when the caller lacks the role the operation needs.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotCreator is the Unauthorized case for creator-only operations.
	ErrNotCreator = newKind("caller is not the service creator", ErrUnauthorized)

	// ErrBidIndexOutOfRange is returned when a bid index does not exist.
	ErrBidIndexOutOfRange = errors.New("bid index out of range")

	// ErrEndpointNotFound is returned when a digest has no stored endpoint.
	ErrEndpointNotFound = errors.New("endpoint not found")
)

// ErrLedgerUnavailable marks transport-level failures. A transaction that
// failed this way may or may not have been committed.
var ErrLedgerUnavailable = errors.New("ledger unavailable")

// ErrTxNotFound is returned when a receipt is requested for an unknown transaction.
var ErrTxNotFound = errors.New("transaction not found")

var kinds = []error{
	ErrNotRegistered,
	ErrAlreadyRegistered,
	ErrInvalidInput,
	ErrDuplicateServiceID,
	ErrServiceNotFound,
	ErrServiceNotOpen,
	ErrWrongState,
	ErrNotCreator,
	ErrUnauthorized,
	ErrBidIndexOutOfRange,
	ErrEndpointNotFound,
}

// FederationError is a ledger rejection. It carries the kind and the service
// and identity involved.
type FederationError struct {
	Op        string
	Kind      error
	ServiceID ServiceID
	Identity  Identity
	Detail    string
}

func (e *FederationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.ServiceID != "" {
		fmt.Fprintf(&b, " (service %q)", string(e.ServiceID))
	}
	if !e.Identity.IsZero() {
		fmt.Fprintf(&b, " (identity %s)", e.Identity)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *FederationError) Unwrap() error {
	return e.Kind
}

// KindName returns the stable wire name of an error kind, or "" if err does
// not carry one. The most specific kind wins.
func KindName(err error) string {
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kindNames[kind]
		}
	}
	return ""
}

// KindByName is the inverse of KindName.
func KindByName(name string) (error, bool) {
	for kind, n := range kindNames {
		if n == name {
			return kind, true
		}
	}
	return nil, false
}

var kindNames = map[error]string{
	ErrNotRegistered:      "NotRegistered",
	ErrAlreadyRegistered:  "AlreadyRegistered",
	ErrInvalidInput:       "InvalidInput",
	ErrDuplicateServiceID: "DuplicateServiceId",
	ErrServiceNotFound:    "ServiceNotFound",
	ErrServiceNotOpen:     "ServiceNotOpen",
	ErrWrongState:         "WrongState",
	ErrNotCreator:         "NotCreator",
	ErrUnauthorized:       "Unauthorized",
	ErrBidIndexOutOfRange: "BidIndexOutOfRange",
	ErrEndpointNotFound:   "EndpointNotFound",
}

// IsRejection reports whether err is an authoritative ledger rejection,
// as opposed to a transport failure.
func IsRejection(err error) bool {
	var fe *FederationError
	return errors.As(err, &fe) || KindName(err) != ""
}
