package crypto

import (
	"bytes"
	"errors"
	"testing"
)

var testCompressedFabricID = []byte{0x29, 0x06, 0xC9, 0x08, 0xD1, 0x15, 0xD3, 0x62}

func TestDeriveGroupKey(t *testing.T) {
	tests := []struct {
		epoch   []byte
		wantKey []byte
		wantID  uint16
	}{
		{
			epoch: []byte{
				0xa0, 0xa1, 0xa2, 0xa3, 0xa4, 0xa5, 0xa6, 0xa7,
				0xa8, 0xa9, 0xaa, 0xab, 0xac, 0xad, 0xae, 0xaf,
			},
			wantKey: []byte{
				0x1f, 0x19, 0xed, 0x3c, 0xef, 0x8a, 0x21, 0x1b,
				0xaf, 0x30, 0x6f, 0xae, 0xee, 0xe7, 0xaa, 0xc6,
			},
			wantID: 0x6c80,
		},
		{
			epoch: []byte{
				0xb0, 0xb1, 0xb2, 0xb3, 0xb4, 0xb5, 0xb6, 0xb7,
				0xb8, 0xb9, 0xba, 0xbb, 0xbc, 0xbd, 0xbe, 0xbf,
			},
			wantKey: []byte{
				0xaa, 0x97, 0x9a, 0x48, 0xbd, 0x8c, 0xdf, 0x29,
				0x3a, 0x07, 0x09, 0xb9, 0xc1, 0xeb, 0x19, 0x30,
			},
			wantID: 0x0c48,
		},
	}
	for _, tc := range tests {
		key, err := DeriveGroupKey(SuiteAES128CCM, tc.epoch, testCompressedFabricID)
		if err != nil {
			t.Fatalf("DeriveGroupKey: %v", err)
		}
		if !bytes.Equal(key, tc.wantKey) {
			t.Errorf("key = %x, want %x", key, tc.wantKey)
		}
		id, err := DeriveGroupSessionID(key)
		if err != nil || id != tc.wantID {
			t.Errorf("session id = %#04x, %v; want %#04x", id, err, tc.wantID)
		}
	}

	long, err := DeriveGroupKey(SuiteChaCha20Poly1305, tests[0].epoch, testCompressedFabricID)
	if err != nil || len(long) != SuiteChaCha20Poly1305.KeySize() {
		t.Errorf("chacha group key len %d, %v", len(long), err)
	}
}

func TestDeriveGroupKeyErrors(t *testing.T) {
	epoch := make([]byte, EpochKeySize)
	if _, err := DeriveGroupKey(SuiteAES128GCM, epoch[:15], testCompressedFabricID); !errors.Is(err, ErrInvalidEpochKey) {
		t.Errorf("short epoch key err = %v", err)
	}
	if _, err := DeriveGroupKey(SuiteAES128GCM, epoch, nil); !errors.Is(err, ErrInvalidCompressedFabricID) {
		t.Errorf("missing fabric id err = %v", err)
	}
	if _, err := DeriveGroupKey(Suite(9), epoch, testCompressedFabricID); !errors.Is(err, ErrUnknownSuite) {
		t.Errorf("unknown suite err = %v", err)
	}
	if _, err := DeriveGroupSessionID(nil); !errors.Is(err, ErrInvalidKeySize) {
		t.Errorf("empty key err = %v", err)
	}
}
