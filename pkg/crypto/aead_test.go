package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestBuildAEADNonce(t *testing.T) {
	tests := []struct {
		name    string
		counter uint32
		source  uint64
		want    []byte
	}{
		{
			name: "Zero values",
			want: make([]byte, NonceSize),
		},
		{
			name:    "Unicast responder direction",
			counter: 0x01020304,
			source:  1<<63 | 0x1234,
			want: []byte{
				0x04, 0x03, 0x02, 0x01, // counter (LE)
				0x34, 0x12, 0x00, 0x00, 0x00, 0x00, 0x00, 0x80, // source (LE)
			},
		},
		{
			name:    "Group sender",
			counter: 7,
			source:  0x1122334455667788,
			want: []byte{
				0x07, 0x00, 0x00, 0x00,
				0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11,
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := BuildAEADNonce(tc.counter, tc.source)
			if !bytes.Equal(got, tc.want) {
				t.Errorf("nonce = %x, want %x", got, tc.want)
			}
		})
	}
}

func TestNewAEAD(t *testing.T) {
	for _, s := range []Suite{SuiteChaCha20Poly1305, SuiteAES128GCM, SuiteAES128CCM} {
		t.Run(s.String(), func(t *testing.T) {
			key := bytes.Repeat([]byte{0xA5}, s.KeySize())
			aead, err := NewAEAD(s, key)
			if err != nil {
				t.Fatalf("NewAEAD: %v", err)
			}
			if aead.NonceSize() != s.NonceSize() {
				t.Errorf("NonceSize = %d, want %d", aead.NonceSize(), s.NonceSize())
			}
			if aead.Overhead() != TagSize {
				t.Errorf("Overhead = %d, want %d", aead.Overhead(), TagSize)
			}

			nonce := BuildAEADNonce(1, 2)
			if s == SuiteAES128CCM {
				nonce = BuildCCMNonce(0, 1, 2)
			}
			aad := []byte("header")
			sealed := aead.Seal(nil, nonce, []byte("payload"), aad)

			opened, err := aead.Open(nil, nonce, sealed, aad)
			if err != nil || string(opened) != "payload" {
				t.Fatalf("Open = %q, %v", opened, err)
			}

			sealed[0] ^= 0x01
			if _, err := aead.Open(nil, nonce, sealed, aad); err == nil {
				t.Error("tampered ciphertext opened")
			}
		})
	}
}

func TestNewAEADKeySize(t *testing.T) {
	_, err := NewAEAD(SuiteChaCha20Poly1305, make([]byte, 16))
	if !errors.Is(err, ErrInvalidKeySize) {
		t.Errorf("err = %v, want ErrInvalidKeySize", err)
	}
	if _, err := NewAEAD(Suite(7), make([]byte, 32)); !errors.Is(err, ErrUnknownSuite) {
		t.Errorf("err = %v, want ErrUnknownSuite", err)
	}
}

func TestParseSuite(t *testing.T) {
	for _, s := range []Suite{SuiteChaCha20Poly1305, SuiteAES128GCM, SuiteAES128CCM} {
		got, err := ParseSuite(s.String())
		if err != nil || got != s {
			t.Errorf("ParseSuite(%q) = %v, %v", s.String(), got, err)
		}
	}
	if _, err := ParseSuite("rot13"); !errors.Is(err, ErrUnknownSuite) {
		t.Errorf("ParseSuite(rot13) err = %v", err)
	}
}

func TestZeroize(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	Zeroize(b)
	if !bytes.Equal(b, make([]byte, 4)) {
		t.Errorf("Zeroize left %x", b)
	}
	Zeroize(nil)
}
