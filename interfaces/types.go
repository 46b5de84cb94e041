package interfaces

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// MaxServiceIDLength bounds service ids so they fit a bytes32 contract slot.
const MaxServiceIDLength = 32

// MaxOperatorNameLength bounds operator display names for the same reason.
const MaxOperatorNameLength = 32

// Identity is the 20-byte address of a ledger caller.
type Identity [20]byte

// NewIdentityFromHex parses a 40-char hex address, with or without 0x prefix.
func NewIdentityFromHex(addr string) (Identity, error) {
	clean := strings.TrimPrefix(addr, "0x")
	if len(clean) != 40 {
		return Identity{}, errors.New("invalid identity length: hex string must be 40 characters")
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return Identity{}, fmt.Errorf("invalid hex format: %w", err)
	}

	var id Identity
	copy(id[:], raw)
	return id, nil
}

// String returns the checksummed hex form.
func (id Identity) String() string {
	return common.Address(id).Hex()
}

// IsZero reports whether the identity is unset.
func (id Identity) IsZero() bool {
	return id == Identity{}
}

func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := NewIdentityFromHex(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ServiceID is the caller-chosen key of a federated service.
type ServiceID string

// Validate checks that the id is non-empty and fits a bytes32 slot.
func (id ServiceID) Validate() error {
	if len(id) == 0 {
		return errors.New("service id is empty")
	}
	if len(id) > MaxServiceIDLength {
		return fmt.Errorf("service id longer than %d bytes", MaxServiceIDLength)
	}
	return nil
}

// Bytes32 returns the id right-padded with zeros.
func (id ServiceID) Bytes32() [32]byte {
	var out [32]byte
	copy(out[:], id)
	return out
}

// ServiceIDFromBytes32 strips the zero padding of an on-chain id.
func ServiceIDFromBytes32(raw [32]byte) ServiceID {
	return ServiceID(strings.TrimRight(string(raw[:]), "\x00"))
}

// EndpointDigest is the content address of an Endpoint record.
type EndpointDigest [32]byte

// String returns hex representation.
func (d EndpointDigest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether the digest is unset.
func (d EndpointDigest) IsZero() bool {
	return d == EndpointDigest{}
}

func (d EndpointDigest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *EndpointDigest) UnmarshalText(text []byte) error {
	clean := strings.TrimPrefix(string(text), "0x")
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return fmt.Errorf("invalid hex format: %w", err)
	}
	if len(raw) != 32 {
		return errors.New("invalid endpoint digest length")
	}
	copy(d[:], raw)
	return nil
}

// Endpoint is the connection descriptor a domain reveals to its counterpart.
// All four fields are opaque to the ledger.
type Endpoint struct {
	CatalogRef   string `json:"catalog_ref" yaml:"catalog_ref"`
	TopologyRef  string `json:"topology_ref" yaml:"topology_ref"`
	DescriptorID string `json:"descriptor_id" yaml:"descriptor_id"`
	NamespaceID  string `json:"namespace_id" yaml:"namespace_id"`
}

var endpointArguments = func() abi.Arguments {
	stringType, err := abi.NewType("string", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: stringType}, {Type: stringType}, {Type: stringType}, {Type: stringType}}
}()

// Digest computes keccak256(abi.encode(catalog, topology, descriptor, namespace)),
// the same key the on-chain contract derives for the tuple.
func (e Endpoint) Digest() EndpointDigest {
	packed, err := endpointArguments.Pack(e.CatalogRef, e.TopologyRef, e.DescriptorID, e.NamespaceID)
	if err != nil {
		// Packing plain strings cannot fail.
		panic(err)
	}
	return EndpointDigest(crypto.Keccak256Hash(packed))
}

// IsZero reports whether every field is empty.
func (e Endpoint) IsZero() bool {
	return e == Endpoint{}
}

// ServiceState is the lifecycle state of a federated service.
type ServiceState uint8

const (
	// StateOpen accepts bids.
	StateOpen ServiceState = iota
	// StateClosed has a fixed provider and accepts no more bids.
	StateClosed
	// StateDeployed is terminal and carries the final deployment info.
	StateDeployed
)

// String returns state name.
func (s ServiceState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateDeployed:
		return "deployed"
	default:
		return "unknown"
	}
}

func (s ServiceState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ServiceState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "open":
		*s = StateOpen
	case "closed":
		*s = StateClosed
	case "deployed":
		*s = StateDeployed
	default:
		return fmt.Errorf("unknown service state %q", text)
	}
	return nil
}

// Operator is a registered administrative domain.
type Operator struct {
	Identity   Identity `json:"identity"`
	Name       string   `json:"name"`
	Registered bool     `json:"registered"`
}

// Service is the ledger record of one federation request.
type Service struct {
	ID               ServiceID      `json:"id"`
	Creator          Identity       `json:"creator"`
	Provider         Identity       `json:"provider"`
	ConsumerEndpoint EndpointDigest `json:"consumer_endpoint"`
	ProviderEndpoint EndpointDigest `json:"provider_endpoint"`
	Requirements     []byte         `json:"requirements"`
	State            ServiceState   `json:"state"`
}

// Bid is one provider offer for a service. Its index in the pool is its id.
type Bid struct {
	Bidder   Identity       `json:"bidder"`
	Price    uint64         `json:"price"`
	Endpoint EndpointDigest `json:"endpoint"`
}

// ServiceInfo is the role-filtered view of a service returned to one of its
// two parties: the counterpart's endpoint plus the requirements payload, which
// holds the deployment info once the service is Deployed.
type ServiceInfo struct {
	ID                  ServiceID    `json:"id"`
	State               ServiceState `json:"state"`
	Creator             Identity     `json:"creator"`
	Provider            Identity     `json:"provider"`
	CounterpartEndpoint Endpoint     `json:"counterpart_endpoint"`
	Requirements        []byte       `json:"requirements"`
}
