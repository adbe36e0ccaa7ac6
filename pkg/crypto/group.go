package crypto

import (
	"encoding/binary"
	"errors"
)

// Group key derivation inputs.
const (
	EpochKeySize          = 16
	CompressedFabricIDSize = 8
)

var (
	groupKeyInfo     = []byte("GroupKey v1.0")
	groupKeyHashInfo = []byte("GroupKeyHash")
)

// Errors returned by group key derivation.
var (
	ErrInvalidEpochKey           = errors.New("crypto: epoch key must be 16 bytes")
	ErrInvalidCompressedFabricID = errors.New("crypto: compressed fabric id must be 8 bytes")
)

// DeriveGroupKey expands an epoch key into the operational key that every
// member of a group seals with.
//
//	GroupKey = HKDF-SHA256(epochKey, compressedFabricID, "GroupKey v1.0", KeySize)
func DeriveGroupKey(s Suite, epochKey, compressedFabricID []byte) ([]byte, error) {
	if len(epochKey) != EpochKeySize {
		return nil, ErrInvalidEpochKey
	}
	if len(compressedFabricID) != CompressedFabricIDSize {
		return nil, ErrInvalidCompressedFabricID
	}
	n := s.KeySize()
	if n == 0 {
		return nil, ErrUnknownSuite
	}
	return HKDFSHA256(epochKey, compressedFabricID, groupKeyInfo, n)
}

// DeriveGroupSessionID hashes an operational group key into the session
// id carried by the group's messages, so receivers can pick candidate keys
// without trying each one.
func DeriveGroupSessionID(groupKey []byte) (uint16, error) {
	if len(groupKey) == 0 {
		return 0, ErrInvalidKeySize
	}
	h, err := HKDFSHA256(groupKey, nil, groupKeyHashInfo, 2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(h), nil
}
