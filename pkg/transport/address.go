package transport

import (
	"fmt"
	"net"
)

// PeerAddress identifies a remote peer by network address and transport type.
type PeerAddress struct {
	Addr          net.Addr
	TransportType TransportType
}

// String returns a human-readable representation of the peer address.
func (p PeerAddress) String() string {
	if p.Addr == nil {
		return fmt.Sprintf("%s:<nil>", p.TransportType)
	}
	return fmt.Sprintf("%s:%s", p.TransportType, p.Addr.String())
}

// Key returns a comparable form of the address suitable as a map key.
// Two addresses with equal keys reach the same peer.
func (p PeerAddress) Key() string {
	return p.String()
}

// Equal reports whether p and o reach the same peer.
func (p PeerAddress) Equal(o PeerAddress) bool {
	return p.Key() == o.Key()
}

// IsValid returns true if the peer address has a valid transport type and address.
func (p PeerAddress) IsValid() bool {
	return p.TransportType.IsValid() && p.Addr != nil
}

// NewUDPPeerAddress creates a PeerAddress for a UDP peer.
func NewUDPPeerAddress(addr net.Addr) PeerAddress {
	return PeerAddress{Addr: addr, TransportType: TransportTypeUDP}
}

// NewTCPPeerAddress creates a PeerAddress for a TCP peer.
func NewTCPPeerAddress(addr net.Addr) PeerAddress {
	return PeerAddress{Addr: addr, TransportType: TransportTypeTCP}
}

// ParsePeerAddress resolves "udp://host:port" or "tcp://host:port".
// A bare "host:port" defaults to UDP.
func ParsePeerAddress(s string) (PeerAddress, error) {
	network, hostport := "udp", s
	for _, scheme := range []string{"udp", "tcp"} {
		prefix := scheme + "://"
		if len(s) > len(prefix) && s[:len(prefix)] == prefix {
			network, hostport = scheme, s[len(prefix):]
		}
	}
	if network == "tcp" {
		addr, err := net.ResolveTCPAddr("tcp", hostport)
		if err != nil {
			return PeerAddress{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
		return NewTCPPeerAddress(addr), nil
	}
	addr, err := net.ResolveUDPAddr("udp", hostport)
	if err != nil {
		return PeerAddress{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return NewUDPPeerAddress(addr), nil
}
