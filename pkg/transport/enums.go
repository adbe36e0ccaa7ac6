package transport

// TransportType identifies the transport protocol used for a message.
type TransportType int

const (
	// TransportTypeUnknown is the zero value for unknown transport.
	TransportTypeUnknown TransportType = iota
	// TransportTypeUDP indicates UDP transport.
	TransportTypeUDP
	// TransportTypeTCP indicates TCP transport.
	TransportTypeTCP
	// TransportTypeBLE indicates a BLE link. No driver ships in this
	// module; the type exists so reliability settings can name it.
	TransportTypeBLE
)

// String returns the string representation of the transport type.
func (t TransportType) String() string {
	switch t {
	case TransportTypeUDP:
		return "UDP"
	case TransportTypeTCP:
		return "TCP"
	case TransportTypeBLE:
		return "BLE"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the transport type is a known valid type.
func (t TransportType) IsValid() bool {
	return t >= TransportTypeUDP && t <= TransportTypeBLE
}

// IsReliable reports whether the transport already guarantees delivery, in
// which case message-level retransmission is not needed.
func (t TransportType) IsReliable() bool {
	return t == TransportTypeTCP
}
