// Package securechannel holds the control messages the messaging layer
// exchanges on its own behalf: standalone acknowledgements and status
// reports, including the report that closes a session.
package securechannel

import "github.com/backkem/msglayer/pkg/message"

// ProtocolID is the protocol identifier of the secure channel.
const ProtocolID message.ProtocolID = 0x0000

// Opcode is a secure channel message type.
type Opcode uint8

// Opcodes handled by the messaging layer. Session establishment opcodes
// belong to the handshake layer and are not listed.
const (
	OpcodeMsgCounterSyncReq  Opcode = 0x00
	OpcodeMsgCounterSyncResp Opcode = 0x01
	OpcodeStandaloneAck      Opcode = 0x10
	OpcodeStatusReport       Opcode = 0x40
)

// String returns the opcode name.
func (o Opcode) String() string {
	switch o {
	case OpcodeMsgCounterSyncReq:
		return "MsgCounterSyncReq"
	case OpcodeMsgCounterSyncResp:
		return "MsgCounterSyncResp"
	case OpcodeStandaloneAck:
		return "StandaloneAck"
	case OpcodeStatusReport:
		return "StatusReport"
	default:
		return "Unknown"
	}
}

// IsStandaloneAck reports whether a message is a standalone ack.
func IsStandaloneAck(protocol message.ProtocolID, msgType uint8) bool {
	return protocol == ProtocolID && Opcode(msgType) == OpcodeStandaloneAck
}

// IsStatusReport reports whether a message is a secure channel status report.
func IsStatusReport(protocol message.ProtocolID, msgType uint8) bool {
	return protocol == ProtocolID && Opcode(msgType) == OpcodeStatusReport
}
