package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// AEAD parameters shared by every supported suite.
const (
	// NonceSize is the AEAD nonce length in bytes (96 bits) of every suite
	// except SuiteAES128CCM, which uses CCMNonceSize.
	NonceSize = 12

	// TagSize is the AEAD authentication tag length in bytes (128 bits).
	TagSize = 16
)

// Suite selects the AEAD construction used to protect message payloads.
type Suite uint8

const (
	// SuiteChaCha20Poly1305 uses ChaCha20-Poly1305 with a 32-byte key.
	SuiteChaCha20Poly1305 Suite = iota
	// SuiteAES128GCM uses AES-128 in GCM mode with a 16-byte key.
	SuiteAES128GCM
	// SuiteAES128CCM uses AES-128 in CCM mode with a 16-byte key and a
	// nonce that also binds the header's security flags.
	SuiteAES128CCM
)

// Errors returned while constructing ciphers.
var (
	ErrInvalidKeySize = errors.New("crypto: invalid key size for suite")
	ErrUnknownSuite   = errors.New("crypto: unknown cipher suite")
)

// String returns the suite name.
func (s Suite) String() string {
	switch s {
	case SuiteChaCha20Poly1305:
		return "chacha20-poly1305"
	case SuiteAES128GCM:
		return "aes-128-gcm"
	case SuiteAES128CCM:
		return "aes-128-ccm"
	default:
		return fmt.Sprintf("Suite(%d)", uint8(s))
	}
}

// IsValid reports whether the suite is known.
func (s Suite) IsValid() bool {
	return s <= SuiteAES128CCM
}

// KeySize returns the key length required by the suite.
func (s Suite) KeySize() int {
	switch s {
	case SuiteChaCha20Poly1305:
		return chacha20poly1305.KeySize
	case SuiteAES128GCM, SuiteAES128CCM:
		return 16
	default:
		return 0
	}
}

// NonceSize returns the nonce length the suite's AEAD expects.
func (s Suite) NonceSize() int {
	if s == SuiteAES128CCM {
		return CCMNonceSize
	}
	return NonceSize
}

// ParseSuite maps a suite name back to its value.
func ParseSuite(name string) (Suite, error) {
	switch name {
	case "", "chacha20-poly1305":
		return SuiteChaCha20Poly1305, nil
	case "aes-128-gcm":
		return SuiteAES128GCM, nil
	case "aes-128-ccm":
		return SuiteAES128CCM, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownSuite, name)
	}
}

// NewAEAD builds the AEAD for the suite using key. The returned cipher has
// a TagSize tag and a nonce of s.NonceSize() bytes.
func NewAEAD(s Suite, key []byte) (cipher.AEAD, error) {
	if !s.IsValid() {
		return nil, ErrUnknownSuite
	}
	if len(key) != s.KeySize() {
		return nil, fmt.Errorf("%w: %s wants %d bytes, got %d", ErrInvalidKeySize, s, s.KeySize(), len(key))
	}

	switch s {
	case SuiteAES128GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case SuiteAES128CCM:
		return NewAESCCM(key)
	default:
		return chacha20poly1305.New(key)
	}
}
