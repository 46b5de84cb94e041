package coordinator

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
)

var requirementsPattern = regexp.MustCompile(`^service=([\w\.-]+);replicas=(\d+)$`)

// ErrInvalidRequirements is returned for payloads that are not of the form
// "service=<image>;replicas=<n>".
var ErrInvalidRequirements = errors.New("invalid service requirements")

// Requirements is the workload a consumer asks providers to run.
type Requirements struct {
	Service  string `yaml:"service"`
	Replicas int    `yaml:"replicas"`
}

// ParseRequirements parses an announcement payload.
func ParseRequirements(s string) (Requirements, error) {
	m := requirementsPattern.FindStringSubmatch(s)
	if m == nil {
		return Requirements{}, fmt.Errorf("%w: %q", ErrInvalidRequirements, s)
	}
	replicas, err := strconv.Atoi(m[2])
	if err != nil {
		return Requirements{}, fmt.Errorf("%w: replicas: %v", ErrInvalidRequirements, err)
	}
	return Requirements{Service: m[1], Replicas: replicas}, nil
}

func (r Requirements) String() string {
	return fmt.Sprintf("service=%s;replicas=%d", r.Service, r.Replicas)
}

// Validate checks that the requirements survive a round trip through
// ParseRequirements.
func (r Requirements) Validate() error {
	_, err := ParseRequirements(r.String())
	return err
}

// AnnouncementFilter selects the announcements a provider bids on.
type AnnouncementFilter struct {
	// ServiceID restricts the provider to one announcement.
	ServiceID string `yaml:"service_id,omitempty"`
	// Services lists the accepted images. Empty accepts any.
	Services []string `yaml:"services,omitempty"`
	// MaxReplicas caps the accepted replica count. Zero means no cap.
	MaxReplicas int `yaml:"max_replicas,omitempty"`
	// AcceptUnparsed lets through payloads that are not requirement strings.
	AcceptUnparsed bool `yaml:"accept_unparsed,omitempty"`
}

// Match reports whether an announcement passes the filter, and returns its
// parsed requirements when it has any.
func (f AnnouncementFilter) Match(id string, payload []byte) (Requirements, bool) {
	if f.ServiceID != "" && f.ServiceID != id {
		return Requirements{}, false
	}

	req, err := ParseRequirements(string(payload))
	if err != nil {
		return Requirements{}, f.AcceptUnparsed
	}
	if len(f.Services) > 0 && !slices.Contains(f.Services, req.Service) {
		return req, false
	}
	if f.MaxReplicas > 0 && req.Replicas > f.MaxReplicas {
		return req, false
	}
	return req, true
}
