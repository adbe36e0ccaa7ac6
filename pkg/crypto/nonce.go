package crypto

import "encoding/binary"

// BuildAEADNonce constructs the 12-byte AEAD nonce.
//
// Format: MessageCounter (4 bytes LE) || Source (8 bytes LE)
//
// The source value is chosen by the caller so that (key, nonce) pairs never
// repeat: a sender node id under a shared group key, or a value that encodes
// the session id and send direction for unicast sessions.
func BuildAEADNonce(messageCounter uint32, source uint64) []byte {
	nonce := make([]byte, NonceSize)
	binary.LittleEndian.PutUint32(nonce[0:4], messageCounter)
	binary.LittleEndian.PutUint64(nonce[4:12], source)
	return nonce
}

// BuildCCMNonce constructs the 13-byte nonce of SuiteAES128CCM.
//
// Format: SecurityFlags (1 byte) || MessageCounter (4 bytes LE) || Source (8 bytes LE)
func BuildCCMNonce(securityFlags uint8, messageCounter uint32, source uint64) []byte {
	nonce := make([]byte, CCMNonceSize)
	nonce[0] = securityFlags
	binary.LittleEndian.PutUint32(nonce[1:5], messageCounter)
	binary.LittleEndian.PutUint64(nonce[5:13], source)
	return nonce
}
