package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/ruteri/dlt-service-federation/interfaces"
)

var (
	// ErrOrchestrator is returned when the orchestrator rejects or fails a request.
	ErrOrchestrator = errors.New("orchestrator request failed")

	// ErrDescriptorNotFound is returned when a catalog or topology reference does not resolve.
	ErrDescriptorNotFound = errors.New("descriptor not found")

	// ErrInvalidDescriptor is returned for references and documents the client cannot use.
	ErrInvalidDescriptor = errors.New("invalid descriptor")

	// ErrNoTopology is returned when an endpoint carries no topology reference.
	ErrNoTopology = errors.New("endpoint has no topology reference")
)

// Config configures the orchestrator client of one domain.
type Config struct {
	// BaseURL of the domain orchestrator, e.g. "http://localhost:9999".
	BaseURL string
	// Interface is the router interface the VXLAN tunnel is bound to.
	Interface string
	// Provider selects which side of a topology descriptor is local.
	Provider bool
	// SubnetID is the third octet of the slice of the consumer network that
	// deployed workloads are attached to.
	SubnetID uint8
	// Endpoint is the domain's own endpoint, refined after deployment.
	Endpoint interfaces.Endpoint
	Timeout  time.Duration
}

// Client talks to the domain orchestrator. It implements interfaces.Deployer
// and interfaces.Connector.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient creates a client for the orchestrator at cfg.BaseURL.
func NewClient(cfg Config, log *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Interface == "" {
		cfg.Interface = "eth0"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
}

// RouterConfig is the body of /configure_router.
type RouterConfig struct {
	LocalIP            string `json:"local_ip"`
	RemoteIP           string `json:"remote_ip"`
	Interface          string `json:"interface"`
	VNI                uint32 `json:"vni"`
	DstPort            uint16 `json:"dst_port"`
	DestinationNetwork string `json:"destination_network"`
	TunnelIP           string `json:"tunnel_ip"`
	GatewayIP          string `json:"gateway_ip"`
}

// VXLANRemoval is the body of /remove_vxlan.
type VXLANRemoval struct {
	VNI                uint32 `json:"vni"`
	DestinationNetwork string `json:"destination_network"`
}

// DeployServiceRequest is the body of /deploy_service.
type DeployServiceRequest struct {
	ServiceID string            `json:"service_id"`
	Image     string            `json:"image"`
	Replicas  int               `json:"replicas"`
	Command   string            `json:"command,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Subnet    string            `json:"subnet,omitempty"`
	IPRange   string            `json:"ip_range,omitempty"`
}

// DeployServiceResponse is returned by /deploy_service.
type DeployServiceResponse struct {
	FederatedHost string `json:"federated_host"`
	NamespaceID   string `json:"namespace_id,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Output  string `json:"output"`
}

func (c *Client) resolve(kind, ref string) (string, error) {
	if !strings.HasSuffix(ref, ".yaml") && !strings.HasSuffix(ref, ".yml") {
		return "", fmt.Errorf("%w: %s reference %q is not a YAML document", ErrInvalidDescriptor, kind, ref)
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref, nil
	}
	if c.cfg.BaseURL == "" {
		return "", fmt.Errorf("%w: relative %s reference %q without orchestrator URL", ErrInvalidDescriptor, kind, ref)
	}
	return c.cfg.BaseURL + "/" + kind + "/" + strings.TrimLeft(ref, "/"), nil
}

func (c *Client) fetchYAML(ctx context.Context, kind, ref string) ([]byte, error) {
	u, err := c.resolve(kind, ref)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s request failed: %v", ErrOrchestrator, kind, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrOrchestrator, kind, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrDescriptorNotFound, u)
	default:
		return nil, fmt.Errorf("%w: %s request failed with code %d: %s", ErrOrchestrator, kind, resp.StatusCode, string(body))
	}
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrOrchestrator, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %s: failed to read response: %v", ErrOrchestrator, path, err)
	}

	if resp.StatusCode != http.StatusOK {
		var msg messageResponse
		if jsonErr := json.Unmarshal(respBody, &msg); jsonErr == nil && msg.Error != "" {
			return fmt.Errorf("%w: %s returned %d: %s", ErrOrchestrator, path, resp.StatusCode, msg.Error)
		}
		return fmt.Errorf("%w: %s returned %d: %s", ErrOrchestrator, path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("could not parse %s response: %w", path, err)
	}
	return nil
}

// Catalog fetches a service catalog.
func (c *Client) Catalog(ctx context.Context, ref string) (*Catalog, error) {
	data, err := c.fetchYAML(ctx, "catalog", ref)
	if err != nil {
		return nil, err
	}
	return ParseCatalog(data)
}

// Topology resolves a topology reference. Inline overlay descriptors are
// expanded locally; anything else is fetched from the orchestrator.
func (c *Client) Topology(ctx context.Context, ref string) (*NetworkInfo, error) {
	if unsetRef(ref) {
		return nil, ErrNoTopology
	}
	if overlay, err := ParseOverlayEndpoint(ref); err == nil {
		info, err := overlay.NetworkInfo()
		if err != nil {
			return nil, err
		}
		return &info, nil
	}

	data, err := c.fetchYAML(ctx, "topology", ref)
	if err != nil {
		return nil, err
	}
	return ParseTopology(data)
}

// ConfigureRouter sets up a VXLAN tunnel on the domain router.
func (c *Client) ConfigureRouter(ctx context.Context, cfg RouterConfig) error {
	var resp messageResponse
	if err := c.post(ctx, "/configure_router", cfg, &resp); err != nil {
		return err
	}
	c.log.Info("router configured", "vni", cfg.VNI, "remote", cfg.RemoteIP, "network", cfg.DestinationNetwork)
	return nil
}

// RemoveVXLAN tears a tunnel down.
func (c *Client) RemoveVXLAN(ctx context.Context, removal VXLANRemoval) error {
	var resp messageResponse
	if err := c.post(ctx, "/remove_vxlan", removal, &resp); err != nil {
		return err
	}
	c.log.Info("vxlan removed", "vni", removal.VNI, "network", removal.DestinationNetwork)
	return nil
}

func (c *Client) routerConfig(ctx context.Context, local, remote interfaces.Endpoint) (RouterConfig, error) {
	localInfo, err := c.Topology(ctx, local.TopologyRef)
	if err != nil {
		return RouterConfig{}, fmt.Errorf("local topology: %w", err)
	}
	remoteInfo, err := c.Topology(ctx, remote.TopologyRef)
	if err != nil {
		return RouterConfig{}, fmt.Errorf("remote topology: %w", err)
	}

	localSite := localInfo.Site(c.cfg.Provider)
	remoteSite := remoteInfo.Site(!c.cfg.Provider)
	if remoteSite.Subnet == "" {
		return RouterConfig{}, fmt.Errorf("%w: remote topology names no subnet", ErrInvalidDescriptor)
	}

	return RouterConfig{
		LocalIP:            localSite.TunnelEndpoint,
		RemoteIP:           remoteSite.TunnelEndpoint,
		Interface:          c.cfg.Interface,
		VNI:                localInfo.VXLANID,
		DstPort:            localInfo.UDPPort,
		DestinationNetwork: remoteSite.Subnet,
		TunnelIP:           localSite.RouterEndpoint,
		GatewayIP:          remoteSite.RouterEndpoint,
	}, nil
}

// Connect configures the overlay towards the remote domain using both
// domains' topology descriptors.
func (c *Client) Connect(ctx context.Context, local, remote interfaces.Endpoint) error {
	cfg, err := c.routerConfig(ctx, local, remote)
	if err != nil {
		return err
	}
	return c.ConfigureRouter(ctx, cfg)
}

// Disconnect removes the tunnel Connect created.
func (c *Client) Disconnect(ctx context.Context, local, remote interfaces.Endpoint) error {
	cfg, err := c.routerConfig(ctx, local, remote)
	if err != nil {
		return err
	}
	return c.RemoveVXLAN(ctx, VXLANRemoval{VNI: cfg.VNI, DestinationNetwork: cfg.DestinationNetwork})
}

func (c *Client) descriptorFor(ctx context.Context, req interfaces.DeploymentRequest) (Descriptor, error) {
	desc := Descriptor{ID: string(req.ServiceID), Image: req.Service, Replicas: req.Replicas}

	ep := req.ConsumerEndpoint
	if unsetRef(ep.CatalogRef) || unsetRef(ep.DescriptorID) {
		return desc, nil
	}

	catalog, err := c.Catalog(ctx, ep.CatalogRef)
	if err != nil {
		return Descriptor{}, err
	}
	entry, ok := catalog.Lookup(ep.DescriptorID)
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q in %s", ErrDescriptorNotFound, ep.DescriptorID, ep.CatalogRef)
	}
	if entry.Replicas == 0 {
		entry.Replicas = req.Replicas
	}
	return entry, nil
}

// Deploy deploys the requested workload and attaches it to a slice of the
// consumer's network. The returned endpoint is the domain's own endpoint
// with the namespace assigned by the orchestrator.
func (c *Client) Deploy(ctx context.Context, req interfaces.DeploymentRequest) (*interfaces.Deployment, error) {
	desc, err := c.descriptorFor(ctx, req)
	if err != nil {
		return nil, err
	}
	if desc.Image == "" {
		return nil, fmt.Errorf("%w: no image to deploy for service %q", ErrInvalidDescriptor, req.ServiceID)
	}
	if desc.Replicas <= 0 {
		desc.Replicas = 1
	}

	body := DeployServiceRequest{
		ServiceID: string(req.ServiceID),
		Image:     desc.Image,
		Replicas:  desc.Replicas,
		Command:   desc.Command,
		Env:       desc.Env,
	}

	info, err := c.Topology(ctx, req.ConsumerEndpoint.TopologyRef)
	switch {
	case errors.Is(err, ErrNoTopology):
		c.log.Warn("consumer published no topology, deploying without overlay", "serviceID", req.ServiceID)
	case err != nil:
		return nil, err
	default:
		network, err := netip.ParsePrefix(info.Site(false).Subnet)
		if err != nil {
			return nil, fmt.Errorf("%w: consumer subnet: %v", ErrInvalidDescriptor, err)
		}
		subnet, err := SubnetFor(network, c.cfg.SubnetID)
		if err != nil {
			return nil, err
		}
		ipRange, err := IPRange(subnet)
		if err != nil {
			return nil, err
		}
		body.Subnet = subnet.String()
		body.IPRange = ipRange
	}

	var resp DeployServiceResponse
	if err := c.post(ctx, "/deploy_service", body, &resp); err != nil {
		return nil, err
	}
	if resp.FederatedHost == "" {
		return nil, fmt.Errorf("%w: deployment returned no federated host", ErrOrchestrator)
	}

	c.log.Info("service deployed", "serviceID", req.ServiceID, "image", desc.Image, "replicas", desc.Replicas, "host", resp.FederatedHost)

	deployment := &interfaces.Deployment{Address: resp.FederatedHost}
	if resp.NamespaceID != "" && !c.cfg.Endpoint.IsZero() {
		refined := c.cfg.Endpoint
		refined.NamespaceID = resp.NamespaceID
		deployment.Endpoint = &refined
	}
	return deployment, nil
}

var (
	_ interfaces.Deployer  = (*Client)(nil)
	_ interfaces.Connector = (*Client)(nil)
)
