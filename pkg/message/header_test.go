package message

import (
	"bytes"
	"errors"
	"testing"
)

func TestHeaderEncodeLayout(t *testing.T) {
	h := Header{
		MessageCounter:     0x04030201,
		SessionID:          0x0605,
		SessionType:        SessionTypeGroup,
		Encrypted:          true,
		SourcePresent:      true,
		SourceNodeID:       0x1112131415161718,
		DestinationPresent: true,
		DestinationNodeID:  0x2122232425262728,
		Initiator:          true,
		AckPresent:         true,
		NeedsAck:           true,
		ExchangeID:         0x3231,
		ProtocolID:         NewVendorProtocolID(0xFFF1, 0x0002),
		MessageType:        0x40,
		AckCounter:         0x54535251,
	}

	want := []byte{
		0x01, 0x02, 0x03, 0x04, // counter
		0x05, 0x06, // session id
		0x1D,                                           // group | encrypted | source | destination
		0x18, 0x17, 0x16, 0x15, 0x14, 0x13, 0x12, 0x11, // source node
		0x28, 0x27, 0x26, 0x25, 0x24, 0x23, 0x22, 0x21, // destination node
		0x17,       // initiator | ack | needs-ack | vendor
		0x31, 0x32, // exchange id
		0x02, 0x00, 0xF1, 0xFF, // protocol id (32-bit)
		0x40,                   // message type
		0x51, 0x52, 0x53, 0x54, // ack counter
	}

	got := h.Encode()
	if !bytes.Equal(got, want) {
		t.Fatalf("Encode()\ngot:  %x\nwant: %x", got, want)
	}
	if h.Size() != len(want) {
		t.Errorf("Size() = %d, want %d", h.Size(), len(want))
	}

	var decoded Header
	n, err := decoded.Decode(got)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len(want) {
		t.Errorf("Decode consumed %d bytes, want %d", n, len(want))
	}
	if decoded != h {
		t.Errorf("Decode = %+v, want %+v", decoded, h)
	}
}

func TestHeaderMinimal(t *testing.T) {
	h := Header{MessageCounter: 1, SessionID: 0, ExchangeID: 7, MessageType: 0x10}
	buf := h.Encode()
	if len(buf) != MinHeaderSize {
		t.Fatalf("len = %d, want %d", len(buf), MinHeaderSize)
	}
	if !h.IsUnauthenticated() {
		t.Error("unencrypted unicast header should be unauthenticated")
	}
}

func TestHeaderDecodeErrors(t *testing.T) {
	valid := (&Header{MessageCounter: 9, SessionID: 1, Encrypted: true, ExchangeID: 3}).Encode()

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"Empty", nil, ErrMessageTooShort},
		{"Truncated", valid[:MinHeaderSize-1], ErrMessageTooShort},
		{"Reserved security bits", withByte(valid, 6, valid[6]|0x80), ErrReservedFlags},
		{"Reserved message bits", withByte(valid, 7, 0x40), ErrReservedFlags},
		{"Reserved session type", withByte(valid, 6, valid[6]|0x03), ErrInvalidSessionType},
		{"Source flag without bytes", withByte(valid, 6, valid[6]|secFlagSource), ErrMessageTooShort},
		{"Group without source", withByte(valid, 6, 0x05), ErrMissingSourceNodeID},
		{"Ack flag without counter", withByte(valid, 7, msgFlagAck), ErrMessageTooShort},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var h Header
			_, err := h.Decode(tc.data)
			if !errors.Is(err, tc.want) {
				t.Errorf("Decode err = %v, want %v", err, tc.want)
			}
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Decode err = %v, want it to wrap ErrMalformed", err)
			}
		})
	}
}

func TestSetRetransmitFlag(t *testing.T) {
	h := Header{MessageCounter: 5, SourcePresent: true, SourceNodeID: 1}
	buf := h.Encode()

	if err := SetRetransmitFlag(buf); err != nil {
		t.Fatalf("SetRetransmitFlag: %v", err)
	}
	var decoded Header
	if _, err := decoded.Decode(buf); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !decoded.Retransmission {
		t.Error("Retransmission flag not set")
	}
	if decoded.SourceNodeID != 1 {
		t.Error("flag written at the wrong offset")
	}

	if err := SetRetransmitFlag(buf[:4]); !errors.Is(err, ErrMessageTooShort) {
		t.Errorf("short buffer err = %v", err)
	}
}

func TestProtocolID(t *testing.T) {
	if ProtocolID(0x0001).IsVendor() {
		t.Error("standard protocol reported as vendor")
	}
	p := NewVendorProtocolID(0xFFF1, 0x0042)
	if !p.IsVendor() || p.Vendor() != 0xFFF1 {
		t.Errorf("vendor protocol = %v", p)
	}
	if p.String() != "FFF1:0042" {
		t.Errorf("String() = %q", p.String())
	}
}

func withByte(b []byte, i int, v byte) []byte {
	out := append([]byte(nil), b...)
	out[i] = v
	return out
}
