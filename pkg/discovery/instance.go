// Package discovery advertises and resolves nodes over DNS-SD. Besides the
// address, a record carries the node's retransmission timing so a peer can
// size its retry intervals before the first message is exchanged.
package discovery

import (
	"fmt"
	"net"
	"sort"
	"strconv"

	"github.com/backkem/msglayer/pkg/fabric"
)

// Service types and domain used for registration and browsing.
const (
	ServiceUDP    = "_msglayer._udp"
	ServiceTCP    = "_msglayer._tcp"
	DefaultDomain = "local."
)

// InstanceName returns "<fabric>-<node>", each part 16 uppercase hex
// digits.
func InstanceName(compressedFabricID uint64, nodeID fabric.NodeID) string {
	return fmt.Sprintf("%016X-%016X", compressedFabricID, uint64(nodeID))
}

// ParseInstanceName reverses InstanceName.
func ParseInstanceName(name string) (uint64, fabric.NodeID, error) {
	if len(name) != 33 || name[16] != '-' {
		return 0, 0, ErrInvalidInstanceName
	}
	cfid, err := strconv.ParseUint(name[:16], 16, 64)
	if err != nil {
		return 0, 0, ErrInvalidInstanceName
	}
	nid, err := strconv.ParseUint(name[17:], 16, 64)
	if err != nil {
		return 0, 0, ErrInvalidInstanceName
	}
	return cfid, fabric.NodeID(nid), nil
}

// SortIPsByPreference returns a copy of ips ordered global IPv6 first,
// then ULA, link-local, other IPv6, IPv4, loopback, multicast.
func SortIPsByPreference(ips []net.IP) []net.IP {
	sorted := make([]net.IP, len(ips))
	copy(sorted, ips)
	sort.SliceStable(sorted, func(i, j int) bool {
		return ipPriority(sorted[i]) < ipPriority(sorted[j])
	})
	return sorted
}

func ipPriority(ip net.IP) int {
	switch {
	case ip.To16() == nil:
		return 99
	case ip.IsLoopback():
		return 80
	case ip.IsMulticast():
		return 90
	case ip.To4() != nil:
		return 50
	case isUniqueLocal(ip):
		return 1
	case ip.IsGlobalUnicast():
		return 0
	case ip.IsLinkLocalUnicast():
		return 2
	default:
		return 10
	}
}

// fc00::/7
func isUniqueLocal(ip net.IP) bool {
	ip = ip.To16()
	return ip != nil && ip.To4() == nil && ip[0]&0xfe == 0xfc
}
