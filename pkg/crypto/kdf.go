package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// sessionKeysInfo is the HKDF info string for unicast session keys.
var sessionKeysInfo = []byte("SessionKeys")

// HKDFSHA256 derives key material using HKDF-SHA256 (RFC 5869).
func HKDFSHA256(inputKey, salt, info []byte, length int) ([]byte, error) {
	reader := hkdf.New(sha256.New, inputKey, salt, info)
	result := make([]byte, length)
	if _, err := io.ReadFull(reader, result); err != nil {
		return nil, err
	}
	return result, nil
}

// SessionKeys holds the two directional keys of a unicast session.
type SessionKeys struct {
	// I2R protects messages sent by the session initiator.
	I2R []byte
	// R2I protects messages sent by the session responder.
	R2I []byte
}

// DeriveSessionKeys expands a shared secret into I2R and R2I keys sized for s.
//
//	I2R || R2I = HKDF-SHA256(secret, salt, "SessionKeys", 2*KeySize)
func DeriveSessionKeys(s Suite, secret, salt []byte) (SessionKeys, error) {
	n := s.KeySize()
	if n == 0 {
		return SessionKeys{}, ErrUnknownSuite
	}
	okm, err := HKDFSHA256(secret, salt, sessionKeysInfo, 2*n)
	if err != nil {
		return SessionKeys{}, err
	}
	keys := SessionKeys{
		I2R: append([]byte(nil), okm[:n]...),
		R2I: append([]byte(nil), okm[n:]...),
	}
	Zeroize(okm)
	return keys, nil
}

// Zeroize wipes both keys.
func (k *SessionKeys) Zeroize() {
	Zeroize(k.I2R)
	Zeroize(k.R2I)
}
