package securechannel

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/backkem/msglayer/pkg/message"
)

// StatusReportMinSize is the encoded size of a report without protocol
// data: general code, protocol ID and protocol code.
const StatusReportMinSize = 8

// ErrStatusReportTooShort is returned when a status report payload is
// truncated. It wraps message.ErrMalformed.
var ErrStatusReportTooShort = fmt.Errorf("%w: status report too short", message.ErrMalformed)

// StatusReport is the payload of an OpcodeStatusReport message.
type StatusReport struct {
	GeneralCode  GeneralCode
	ProtocolID   message.ProtocolID
	ProtocolCode uint16
	ProtocolData []byte
}

// NewStatusReport creates a secure channel status report.
func NewStatusReport(general GeneralCode, code ProtocolCode) *StatusReport {
	return &StatusReport{
		GeneralCode:  general,
		ProtocolID:   ProtocolID,
		ProtocolCode: uint16(code),
	}
}

// CloseSession creates the report that tells the peer the session is gone.
func CloseSession() *StatusReport {
	return NewStatusReport(GeneralCodeSuccess, ProtocolCodeCloseSession)
}

// Busy creates a busy report asking the peer to wait waitMs milliseconds.
func Busy(waitMs uint16) *StatusReport {
	r := NewStatusReport(GeneralCodeBusy, ProtocolCodeBusy)
	r.ProtocolData = binary.LittleEndian.AppendUint16(nil, waitMs)
	return r
}

// Encode serializes the report.
func (s *StatusReport) Encode() []byte {
	buf := make([]byte, StatusReportMinSize, StatusReportMinSize+len(s.ProtocolData))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(s.GeneralCode))
	binary.LittleEndian.PutUint32(buf[2:6], uint32(s.ProtocolID))
	binary.LittleEndian.PutUint16(buf[6:8], s.ProtocolCode)
	return append(buf, s.ProtocolData...)
}

// DecodeStatusReport parses a status report payload.
func DecodeStatusReport(data []byte) (*StatusReport, error) {
	if len(data) < StatusReportMinSize {
		return nil, ErrStatusReportTooShort
	}
	s := &StatusReport{
		GeneralCode:  GeneralCode(binary.LittleEndian.Uint16(data[0:2])),
		ProtocolID:   message.ProtocolID(binary.LittleEndian.Uint32(data[2:6])),
		ProtocolCode: binary.LittleEndian.Uint16(data[6:8]),
	}
	if len(data) > StatusReportMinSize {
		s.ProtocolData = append([]byte(nil), data[StatusReportMinSize:]...)
	}
	return s, nil
}

// IsSuccess reports whether the general code is success.
func (s *StatusReport) IsSuccess() bool {
	return s.GeneralCode == GeneralCodeSuccess
}

// IsSecureChannel reports whether the protocol code is a secure channel code.
func (s *StatusReport) IsSecureChannel() bool {
	return s.ProtocolID == ProtocolID
}

// IsCloseSession reports whether this is a CloseSession report.
func (s *StatusReport) IsCloseSession() bool {
	return s.IsSecureChannel() && ProtocolCode(s.ProtocolCode) == ProtocolCodeCloseSession
}

// BusyWaitTime returns the requested wait in milliseconds, or 0 if this is
// not a busy report.
func (s *StatusReport) BusyWaitTime() uint16 {
	if s.GeneralCode != GeneralCodeBusy || !s.IsSecureChannel() || len(s.ProtocolData) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(s.ProtocolData)
}

// String returns a human-readable representation.
func (s *StatusReport) String() string {
	if s.IsSecureChannel() {
		return fmt.Sprintf("StatusReport{%s, %s}", s.GeneralCode, ProtocolCode(s.ProtocolCode))
	}
	return fmt.Sprintf("StatusReport{%s, %s, 0x%04X}", s.GeneralCode, s.ProtocolID, s.ProtocolCode)
}

// StatusError is the close reason of an exchange the peer failed with a
// status report.
type StatusError struct {
	Report *StatusReport
}

func (e *StatusError) Error() string {
	return "securechannel: peer reported " + e.Report.String()
}

// AsStatusError returns the status report carried by err, if any.
func AsStatusError(err error) (*StatusReport, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Report, true
	}
	return nil, false
}
