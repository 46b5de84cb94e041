package orchestrator

import (
	"errors"
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
)

var overlayPattern = regexp.MustCompile(`^ip_address=(\d{1,3}(?:\.\d{1,3}){3});vxlan_id=(\d+);vxlan_port=(\d+);federation_net=(\d{1,3}(?:\.\d{1,3}){3}/\d+)$`)

// ErrInvalidOverlay is returned for descriptors that do not match
// "ip_address=<ip>;vxlan_id=<n>;vxlan_port=<n>;federation_net=<cidr>".
var ErrInvalidOverlay = errors.New("invalid overlay endpoint")

// OverlayEndpoint is the inline form of a VXLAN tunnel endpoint. Domains
// without a topology service publish it directly as their topology ref.
type OverlayEndpoint struct {
	IPAddress     netip.Addr
	VXLANID       uint32
	VXLANPort     uint16
	FederationNet netip.Prefix
}

// ParseOverlayEndpoint parses and validates an inline overlay descriptor.
func ParseOverlayEndpoint(s string) (OverlayEndpoint, error) {
	m := overlayPattern.FindStringSubmatch(s)
	if m == nil {
		return OverlayEndpoint{}, fmt.Errorf("%w: %q", ErrInvalidOverlay, s)
	}

	ip, err := netip.ParseAddr(m[1])
	if err != nil {
		return OverlayEndpoint{}, fmt.Errorf("%w: %v", ErrInvalidOverlay, err)
	}
	vni, err := strconv.ParseUint(m[2], 10, 24)
	if err != nil {
		return OverlayEndpoint{}, fmt.Errorf("%w: vxlan_id: %v", ErrInvalidOverlay, err)
	}
	port, err := strconv.ParseUint(m[3], 10, 16)
	if err != nil {
		return OverlayEndpoint{}, fmt.Errorf("%w: vxlan_port: %v", ErrInvalidOverlay, err)
	}
	network, err := netip.ParsePrefix(m[4])
	if err != nil {
		return OverlayEndpoint{}, fmt.Errorf("%w: %v", ErrInvalidOverlay, err)
	}

	return OverlayEndpoint{
		IPAddress:     ip,
		VXLANID:       uint32(vni),
		VXLANPort:     uint16(port),
		FederationNet: network,
	}, nil
}

// IsOverlayEndpoint reports whether s is a valid inline overlay descriptor.
func IsOverlayEndpoint(s string) bool {
	_, err := ParseOverlayEndpoint(s)
	return err == nil
}

func (o OverlayEndpoint) String() string {
	return fmt.Sprintf("ip_address=%s;vxlan_id=%d;vxlan_port=%d;federation_net=%s",
		o.IPAddress, o.VXLANID, o.VXLANPort, o.FederationNet)
}

// NetworkInfo expands the descriptor into the topology form. Both sides of
// an inline link share the federation network; the router address is its
// first host.
func (o OverlayEndpoint) NetworkInfo() (NetworkInfo, error) {
	first, _, err := HostRange(o.FederationNet)
	if err != nil {
		return NetworkInfo{}, err
	}

	info := NetworkInfo{
		Protocol:               "vxlan",
		VXLANID:                o.VXLANID,
		UDPPort:                o.VXLANPort,
		ConsumerTunnelEndpoint: o.IPAddress.String(),
		ProviderTunnelEndpoint: o.IPAddress.String(),
		ConsumerSubnet:         o.FederationNet.String(),
		ConsumerRouterEndpoint: first.String(),
		ProviderSubnet:         o.FederationNet.String(),
		ProviderRouterEndpoint: first.String(),
	}
	return info, nil
}

// SubnetFor carves the /24 of an IPv4 network whose third octet is
// identifier, e.g. SubnetFor(10.0.0.0/16, 3) is 10.0.3.0/24.
func SubnetFor(network netip.Prefix, identifier uint8) (netip.Prefix, error) {
	if !network.IsValid() || !network.Addr().Is4() {
		return netip.Prefix{}, fmt.Errorf("%w: %s is not an IPv4 network", ErrInvalidOverlay, network)
	}
	if network.Bits() > 24 {
		return netip.Prefix{}, fmt.Errorf("%w: %s is narrower than /24", ErrInvalidOverlay, network)
	}

	octets := network.Masked().Addr().As4()
	octets[2] = identifier
	sub := netip.PrefixFrom(netip.AddrFrom4(octets), 24)
	if !network.Contains(sub.Addr()) {
		return netip.Prefix{}, fmt.Errorf("%w: subnet %d lies outside %s", ErrInvalidOverlay, identifier, network)
	}
	return sub, nil
}

// HostRange returns the first and last usable host of an IPv4 network,
// skipping the network and broadcast addresses.
func HostRange(network netip.Prefix) (netip.Addr, netip.Addr, error) {
	if !network.IsValid() || !network.Addr().Is4() {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("%w: %s is not an IPv4 network", ErrInvalidOverlay, network)
	}
	if network.Bits() > 30 {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("%w: %s has no usable host range", ErrInvalidOverlay, network)
	}

	base := network.Masked().Addr().As4()
	start := uint32(base[0])<<24 | uint32(base[1])<<16 | uint32(base[2])<<8 | uint32(base[3])
	size := uint32(1) << (32 - network.Bits())

	return addrFromUint32(start + 1), addrFromUint32(start + size - 2), nil
}

// IPRange formats HostRange as "first-last".
func IPRange(network netip.Prefix) (string, error) {
	first, last, err := HostRange(network)
	if err != nil {
		return "", err
	}
	return first.String() + "-" + last.String(), nil
}

func addrFromUint32(v uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}
