// Package message implements the wire format of the secure messaging layer:
// header encoding, AEAD sealing and opening, local message counters, the
// peer replay window and length-prefixed stream framing.
//
// Nothing in this package is safe for concurrent use. Callers own a
// message counter or replay window from a single goroutine.
package message

import "fmt"

// SessionType identifies the kind of session a message belongs to.
// It is encoded in the security flags (bits 0-1).
type SessionType uint8

const (
	// SessionTypeUnicast covers authenticated and unauthenticated
	// point-to-point sessions.
	SessionTypeUnicast SessionType = 0

	// SessionTypeGroup indicates a session protected by a shared group key.
	SessionTypeGroup SessionType = 1
)

// String returns a human-readable name for the session type.
func (s SessionType) String() string {
	switch s {
	case SessionTypeUnicast:
		return "Unicast"
	case SessionTypeGroup:
		return "Group"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the session type is a defined value.
func (s SessionType) IsValid() bool {
	return s <= SessionTypeGroup
}

// ProtocolID identifies the upper-layer protocol of a message. Values above
// 0xFFFF carry a vendor prefix in the high 16 bits and are encoded with 32
// bits on the wire.
type ProtocolID uint32

// NewVendorProtocolID combines a vendor id and a protocol number.
func NewVendorProtocolID(vendor, protocol uint16) ProtocolID {
	return ProtocolID(uint32(vendor)<<16 | uint32(protocol))
}

// IsVendor reports whether the id needs the 32-bit wire encoding.
func (p ProtocolID) IsVendor() bool {
	return p > 0xFFFF
}

// Vendor returns the vendor prefix, or 0 for standard protocols.
func (p ProtocolID) Vendor() uint16 {
	return uint16(p >> 16)
}

// String formats the id as vendor:protocol in hex.
func (p ProtocolID) String() string {
	return fmt.Sprintf("%04X:%04X", p.Vendor(), uint16(p))
}
