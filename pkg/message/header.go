package message

import (
	"encoding/binary"
)

// Header is the per-packet message header. All multi-byte fields are
// little-endian and appear on the wire in this order:
//
//	counter(32) | session id(16) | security flags(8) | [source node(64)] |
//	[destination node(64)] | message flags(8) | exchange id(16) |
//	protocol id(16|32) | message type(8) | [ack counter(32)]
type Header struct {
	// MessageCounter is unique per message for the life of the session key.
	MessageCounter uint32

	// SessionID identifies the receiver's session. Zero with
	// SessionTypeUnicast and Encrypted unset marks an unauthenticated session.
	SessionID uint16

	// SessionType indicates unicast or group session.
	SessionType SessionType

	// Encrypted indicates the payload is sealed and followed by a tag.
	Encrypted bool

	// SourcePresent indicates whether SourceNodeID is on the wire.
	SourcePresent bool
	SourceNodeID  uint64

	// DestinationPresent indicates whether DestinationNodeID is on the wire.
	// For group messages the destination carries the group id.
	DestinationPresent bool
	DestinationNodeID  uint64

	// Initiator is set on messages sent by the exchange initiator.
	Initiator bool

	// AckPresent indicates AckCounter acknowledges a received message.
	AckPresent bool

	// NeedsAck requests an acknowledgement from the receiver.
	NeedsAck bool

	// Retransmission marks a resend of an earlier message. It is excluded
	// from the authenticated data so a sealed buffer can be flagged in place.
	Retransmission bool

	ExchangeID  uint16
	ProtocolID  ProtocolID
	MessageType uint8

	// AckCounter is the counter of the message being acknowledged.
	// Valid only when AckPresent is true.
	AckCounter uint32
}

// Size returns the encoded size of the header in bytes.
func (h *Header) Size() int {
	size := MinHeaderSize
	if h.SourcePresent {
		size += NodeIDSize
	}
	if h.DestinationPresent {
		size += NodeIDSize
	}
	if h.ProtocolID.IsVendor() {
		size += 2
	}
	if h.AckPresent {
		size += 4
	}
	return size
}

// Encode serializes the header to bytes.
func (h *Header) Encode() []byte {
	buf := make([]byte, h.Size())
	h.EncodeTo(buf)
	return buf
}

// EncodeTo serializes the header into buf, which must be at least Size()
// bytes long. Returns the number of bytes written.
func (h *Header) EncodeTo(buf []byte) int {
	binary.LittleEndian.PutUint32(buf[0:4], h.MessageCounter)
	binary.LittleEndian.PutUint16(buf[4:6], h.SessionID)
	buf[securityFlagsOffset] = h.securityFlags()
	offset := securityFlagsOffset + 1

	if h.SourcePresent {
		binary.LittleEndian.PutUint64(buf[offset:], h.SourceNodeID)
		offset += NodeIDSize
	}
	if h.DestinationPresent {
		binary.LittleEndian.PutUint64(buf[offset:], h.DestinationNodeID)
		offset += NodeIDSize
	}

	buf[offset] = h.messageFlags()
	offset++

	binary.LittleEndian.PutUint16(buf[offset:], h.ExchangeID)
	offset += 2

	if h.ProtocolID.IsVendor() {
		binary.LittleEndian.PutUint32(buf[offset:], uint32(h.ProtocolID))
		offset += 4
	} else {
		binary.LittleEndian.PutUint16(buf[offset:], uint16(h.ProtocolID))
		offset += 2
	}

	buf[offset] = h.MessageType
	offset++

	if h.AckPresent {
		binary.LittleEndian.PutUint32(buf[offset:], h.AckCounter)
		offset += 4
	}

	return offset
}

func (h *Header) securityFlags() uint8 {
	flags := uint8(h.SessionType) & secFlagSessionTypeMask
	if h.Encrypted {
		flags |= secFlagEncrypted
	}
	if h.SourcePresent {
		flags |= secFlagSource
	}
	if h.DestinationPresent {
		flags |= secFlagDestination
	}
	return flags
}

func (h *Header) messageFlags() uint8 {
	var flags uint8
	if h.Initiator {
		flags |= msgFlagInitiator
	}
	if h.AckPresent {
		flags |= msgFlagAck
	}
	if h.NeedsAck {
		flags |= msgFlagNeedsAck
	}
	if h.Retransmission {
		flags |= msgFlagRetransmission
	}
	if h.ProtocolID.IsVendor() {
		flags |= msgFlagVendor
	}
	return flags
}

// Decode parses a header from data and returns the number of bytes consumed.
// No field is authenticated at this point.
func (h *Header) Decode(data []byte) (int, error) {
	if len(data) < MinHeaderSize {
		return 0, ErrMessageTooShort
	}

	h.MessageCounter = binary.LittleEndian.Uint32(data[0:4])
	h.SessionID = binary.LittleEndian.Uint16(data[4:6])

	sec := data[6]
	if sec&secFlagReserved != 0 {
		return 0, ErrReservedFlags
	}
	h.SessionType = SessionType(sec & secFlagSessionTypeMask)
	h.Encrypted = sec&secFlagEncrypted != 0
	h.SourcePresent = sec&secFlagSource != 0
	h.DestinationPresent = sec&secFlagDestination != 0
	offset := 7

	// Recheck the length now that the optional node ids are known.
	need := offset + 1 + 2 + 2 + 1
	if h.SourcePresent {
		need += NodeIDSize
	}
	if h.DestinationPresent {
		need += NodeIDSize
	}
	if len(data) < need {
		return 0, ErrMessageTooShort
	}

	h.SourceNodeID = 0
	if h.SourcePresent {
		h.SourceNodeID = binary.LittleEndian.Uint64(data[offset:])
		offset += NodeIDSize
	}
	h.DestinationNodeID = 0
	if h.DestinationPresent {
		h.DestinationNodeID = binary.LittleEndian.Uint64(data[offset:])
		offset += NodeIDSize
	}

	flags := data[offset]
	offset++
	if flags&msgFlagReserved != 0 {
		return 0, ErrReservedFlags
	}
	h.Initiator = flags&msgFlagInitiator != 0
	h.AckPresent = flags&msgFlagAck != 0
	h.NeedsAck = flags&msgFlagNeedsAck != 0
	h.Retransmission = flags&msgFlagRetransmission != 0

	h.ExchangeID = binary.LittleEndian.Uint16(data[offset:])
	offset += 2

	if flags&msgFlagVendor != 0 {
		if len(data) < offset+4+1 {
			return 0, ErrMessageTooShort
		}
		h.ProtocolID = ProtocolID(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4
		if !h.ProtocolID.IsVendor() {
			return 0, ErrReservedFlags
		}
	} else {
		h.ProtocolID = ProtocolID(binary.LittleEndian.Uint16(data[offset:]))
		offset += 2
	}

	h.MessageType = data[offset]
	offset++

	h.AckCounter = 0
	if h.AckPresent {
		if len(data) < offset+4 {
			return 0, ErrMessageTooShort
		}
		h.AckCounter = binary.LittleEndian.Uint32(data[offset:])
		offset += 4
	}

	if err := h.Validate(); err != nil {
		return 0, err
	}
	return offset, nil
}

// IsUnauthenticated reports whether the message belongs to an
// unauthenticated unicast session.
func (h *Header) IsUnauthenticated() bool {
	return h.SessionType == SessionTypeUnicast && !h.Encrypted
}

// Validate checks structural constraints on the header.
func (h *Header) Validate() error {
	if !h.SessionType.IsValid() {
		return ErrInvalidSessionType
	}
	if !h.Encrypted && h.SessionID != 0 {
		return ErrUnencryptedSession
	}
	if h.SessionType == SessionTypeGroup {
		if !h.Encrypted {
			return ErrUnencryptedGroup
		}
		if !h.SourcePresent {
			return ErrMissingSourceNodeID
		}
	}
	return nil
}

// securityFlagsOffset follows the counter and session id.
const securityFlagsOffset = 6

// messageFlagsOffset returns the offset of the message flags byte in an
// encoded buffer, derived from its security flags.
func messageFlagsOffset(buf []byte) (int, error) {
	if len(buf) < MinHeaderSize {
		return 0, ErrMessageTooShort
	}
	offset := securityFlagsOffset + 1
	if buf[securityFlagsOffset]&secFlagSource != 0 {
		offset += NodeIDSize
	}
	if buf[securityFlagsOffset]&secFlagDestination != 0 {
		offset += NodeIDSize
	}
	if len(buf) <= offset {
		return 0, ErrMessageTooShort
	}
	return offset, nil
}

// SetRetransmitFlag marks an encoded message as a retransmission in place.
// The seal stays valid because the flag is not authenticated.
func SetRetransmitFlag(buf []byte) error {
	offset, err := messageFlagsOffset(buf)
	if err != nil {
		return err
	}
	buf[offset] |= msgFlagRetransmission
	return nil
}

// authenticatedData returns a copy of an encoded header with the
// retransmission flag cleared, for use as AEAD additional data.
func authenticatedData(encoded []byte) []byte {
	aad := make([]byte, len(encoded))
	copy(aad, encoded)
	if offset, err := messageFlagsOffset(aad); err == nil {
		aad[offset] &^= msgFlagRetransmission
	}
	return aad
}
