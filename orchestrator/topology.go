package orchestrator

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// NetworkInfo is the overlay section of a topology descriptor. Each domain
// publishes the link from its own perspective; the subnet and router of the
// publishing side are the ones that matter.
type NetworkInfo struct {
	Protocol               string `yaml:"protocol"`
	VXLANID                uint32 `yaml:"vxlan_id"`
	UDPPort                uint16 `yaml:"udp_port"`
	ConsumerTunnelEndpoint string `yaml:"consumer_tunnel_endpoint"`
	ProviderTunnelEndpoint string `yaml:"provider_tunnel_endpoint"`
	ConsumerSubnet         string `yaml:"consumer_subnet,omitempty"`
	ConsumerRouterEndpoint string `yaml:"consumer_router_endpoint,omitempty"`
	ProviderSubnet         string `yaml:"provider_subnet,omitempty"`
	ProviderRouterEndpoint string `yaml:"provider_router_endpoint,omitempty"`
}

// Site is one end of the overlay link.
type Site struct {
	TunnelEndpoint string
	Subnet         string
	RouterEndpoint string
}

// Site returns the provider or consumer end described by the topology.
func (n NetworkInfo) Site(provider bool) Site {
	if provider {
		return Site{
			TunnelEndpoint: n.ProviderTunnelEndpoint,
			Subnet:         n.ProviderSubnet,
			RouterEndpoint: n.ProviderRouterEndpoint,
		}
	}
	return Site{
		TunnelEndpoint: n.ConsumerTunnelEndpoint,
		Subnet:         n.ConsumerSubnet,
		RouterEndpoint: n.ConsumerRouterEndpoint,
	}
}

type topologyDocument struct {
	NetworkInfo *NetworkInfo `yaml:"network_info"`
}

// ParseTopology decodes a topology descriptor.
func ParseTopology(data []byte) (*NetworkInfo, error) {
	var doc topologyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	if doc.NetworkInfo == nil {
		return nil, fmt.Errorf("%w: no network_info section", ErrInvalidDescriptor)
	}
	return doc.NetworkInfo, nil
}

// Descriptor is one deployable entry of a service catalog.
type Descriptor struct {
	ID       string            `yaml:"id"`
	Name     string            `yaml:"name,omitempty"`
	Image    string            `yaml:"image"`
	Replicas int               `yaml:"replicas,omitempty"`
	Command  string            `yaml:"command,omitempty"`
	Env      map[string]string `yaml:"env,omitempty"`
}

// Catalog is a domain's service catalog.
type Catalog struct {
	Descriptors []Descriptor `yaml:"descriptors"`
}

// ParseCatalog decodes a service catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	for i, d := range catalog.Descriptors {
		if d.ID == "" || d.Image == "" {
			return nil, fmt.Errorf("%w: catalog entry %d needs id and image", ErrInvalidDescriptor, i)
		}
	}
	return &catalog, nil
}

// Lookup finds a descriptor by id.
func (c *Catalog) Lookup(id string) (Descriptor, bool) {
	for _, d := range c.Descriptors {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}

// unsetRef reports whether an endpoint field carries no reference. Domains
// that have nothing to publish send "None".
func unsetRef(ref string) bool {
	ref = strings.TrimSpace(ref)
	return ref == "" || strings.EqualFold(ref, "none")
}
