package coordinator

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ruteri/dlt-service-federation/interfaces"
	"gopkg.in/yaml.v3"
)

// Role is the part a domain plays in a federation.
type Role string

const (
	RoleConsumer Role = "consumer"
	RoleProvider Role = "provider"
)

// ErrInvalidProfile is returned for profiles that cannot drive a coordinator.
var ErrInvalidProfile = errors.New("invalid domain profile")

// Config holds the timing and retry settings of a coordinator.
type Config struct {
	// Domain is the operator name registered on the ledger.
	Domain string
	// Endpoint is the domain's own endpoint, published at announce or bid time.
	Endpoint interfaces.Endpoint

	PollInterval time.Duration
	// AnnounceDeadline bounds a provider's wait for a matching announcement.
	AnnounceDeadline   time.Duration
	BidDeadline        time.Duration
	WinnerDeadline     time.Duration
	DeploymentDeadline time.Duration

	// SubmitAttempts bounds the sends of one transaction, first one included.
	SubmitAttempts int
	// SubmitBackoff is multiplied by the attempt number between sends.
	SubmitBackoff time.Duration

	// ExportDir, when set, receives the per-step CSV of every workflow.
	ExportDir string
}

// DefaultConfig returns the settings used for zero fields.
func DefaultConfig() Config {
	return Config{
		PollInterval:       time.Second,
		AnnounceDeadline:   2 * time.Minute,
		BidDeadline:        2 * time.Minute,
		WinnerDeadline:     2 * time.Minute,
		DeploymentDeadline: 5 * time.Minute,
		SubmitAttempts:     3,
		SubmitBackoff:      500 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.AnnounceDeadline <= 0 {
		c.AnnounceDeadline = d.AnnounceDeadline
	}
	if c.BidDeadline <= 0 {
		c.BidDeadline = d.BidDeadline
	}
	if c.WinnerDeadline <= 0 {
		c.WinnerDeadline = d.WinnerDeadline
	}
	if c.DeploymentDeadline <= 0 {
		c.DeploymentDeadline = d.DeploymentDeadline
	}
	if c.SubmitAttempts <= 0 {
		c.SubmitAttempts = d.SubmitAttempts
	}
	if c.SubmitBackoff <= 0 {
		c.SubmitBackoff = d.SubmitBackoff
	}
	return c
}

// OrchestratorProfile locates the domain orchestrator.
type OrchestratorProfile struct {
	URL       string `yaml:"url"`
	Interface string `yaml:"interface,omitempty"`
	SubnetID  uint8  `yaml:"subnet_id,omitempty"`
}

// Profile is the YAML description of one domain and the workflow it runs.
type Profile struct {
	Domain   string              `yaml:"domain"`
	Role     Role                `yaml:"role"`
	Endpoint interfaces.Endpoint `yaml:"endpoint"`

	// Consumer settings.
	ServiceID    string        `yaml:"service_id,omitempty"`
	Requirements *Requirements `yaml:"requirements,omitempty"`
	TargetBids   int           `yaml:"target_bids,omitempty"`
	MaxPrice     uint64        `yaml:"max_price,omitempty"`

	// Provider settings.
	Price  uint64             `yaml:"price,omitempty"`
	Filter AnnouncementFilter `yaml:"filter,omitempty"`

	Timeouts struct {
		PollInterval time.Duration `yaml:"poll_interval,omitempty"`
		Announcement time.Duration `yaml:"announcement,omitempty"`
		Bids         time.Duration `yaml:"bids,omitempty"`
		Winner       time.Duration `yaml:"winner,omitempty"`
		Deployment   time.Duration `yaml:"deployment,omitempty"`
	} `yaml:"timeouts,omitempty"`

	Submit struct {
		Attempts int           `yaml:"attempts,omitempty"`
		Backoff  time.Duration `yaml:"backoff,omitempty"`
	} `yaml:"submit,omitempty"`

	Orchestrator *OrchestratorProfile `yaml:"orchestrator,omitempty"`
	Archive      []string             `yaml:"archive,omitempty"`
	ExportDir    string               `yaml:"export_dir,omitempty"`
}

// LoadProfile reads and validates a domain profile.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes and validates a domain profile.
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the fields the profile's role needs.
func (p *Profile) Validate() error {
	if p.Domain == "" {
		return fmt.Errorf("%w: domain is required", ErrInvalidProfile)
	}
	if len(p.Domain) > interfaces.MaxOperatorNameLength {
		return fmt.Errorf("%w: domain longer than %d bytes", ErrInvalidProfile, interfaces.MaxOperatorNameLength)
	}

	switch p.Role {
	case RoleConsumer:
		if p.Requirements == nil {
			return fmt.Errorf("%w: consumer needs requirements", ErrInvalidProfile)
		}
		if err := p.Requirements.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
		}
		if p.ServiceID != "" {
			if err := interfaces.ServiceID(p.ServiceID).Validate(); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
			}
		}
		if p.TargetBids < 0 {
			return fmt.Errorf("%w: target_bids must not be negative", ErrInvalidProfile)
		}
	case RoleProvider:
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidProfile, p.Role)
	}
	return nil
}

// Config derives the coordinator settings.
func (p *Profile) Config() Config {
	return Config{
		Domain:             p.Domain,
		Endpoint:           p.Endpoint,
		PollInterval:       p.Timeouts.PollInterval,
		AnnounceDeadline:   p.Timeouts.Announcement,
		BidDeadline:        p.Timeouts.Bids,
		WinnerDeadline:     p.Timeouts.Winner,
		DeploymentDeadline: p.Timeouts.Deployment,
		SubmitAttempts:     p.Submit.Attempts,
		SubmitBackoff:      p.Submit.Backoff,
		ExportDir:          p.ExportDir,
	}.withDefaults()
}

// ConsumerRequest derives the consumer workflow input.
func (p *Profile) ConsumerRequest() ConsumerRequest {
	req := ConsumerRequest{
		ServiceID:  interfaces.ServiceID(p.ServiceID),
		TargetBids: p.TargetBids,
	}
	if p.Requirements != nil {
		req.Requirements = *p.Requirements
	}
	if p.MaxPrice > 0 {
		req.Policy = MaxPrice(p.MaxPrice, LowestPrice)
	}
	return req
}

// ProviderRequest derives the provider workflow input.
func (p *Profile) ProviderRequest() ProviderRequest {
	return ProviderRequest{
		Price:  p.Price,
		Filter: p.Filter,
	}
}
