package message

import (
	"crypto/cipher"
	"fmt"

	"github.com/backkem/msglayer/pkg/crypto"
)

// Frame is a decoded message: an authenticated header and its plaintext.
type Frame struct {
	Header  Header
	Payload []byte
}

// RawMessage is a parsed but not yet authenticated message.
type RawMessage struct {
	Header Header

	// HeaderBytes is the encoded header as received.
	HeaderBytes []byte

	// Body is the ciphertext followed by the tag for encrypted messages,
	// or the plaintext payload otherwise.
	Body []byte
}

// ParseMessage splits data into header and body without authenticating
// anything. The returned slices alias data.
func ParseMessage(data []byte) (*RawMessage, error) {
	raw := &RawMessage{}
	n, err := raw.Header.Decode(data)
	if err != nil {
		return nil, err
	}
	raw.HeaderBytes = data[:n]
	raw.Body = data[n:]
	if raw.Header.Encrypted && len(raw.Body) < crypto.TagSize {
		return nil, ErrMissingTag
	}
	return raw, nil
}

// Codec seals and opens message payloads under one key.
type Codec struct {
	aead    cipher.AEAD
	maxSize int
}

// NewCodec creates a codec for key under the given suite.
func NewCodec(suite crypto.Suite, key []byte) (*Codec, error) {
	aead, err := crypto.NewAEAD(suite, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &Codec{
		aead:    aead,
		maxSize: MaxUDPMessageSize,
	}, nil
}

// SetMaxMessageSize changes the largest sealed message Encode will produce.
func (c *Codec) SetMaxMessageSize(n int) {
	if n > 0 {
		c.maxSize = n
	}
}

// MaxMessageSize returns the largest sealed message Encode will produce.
func (c *Codec) MaxMessageSize() int {
	return c.maxSize
}

// Encode serializes h and seals payload after it. The nonce is built from
// the header's message counter and nonceSource, plus its security flags
// under CCM; the encoded header is the additional authenticated data.
func (c *Codec) Encode(h *Header, nonceSource uint64, payload []byte) ([]byte, error) {
	if c == nil || c.aead == nil {
		return nil, ErrInvalidKey
	}
	h.Encrypted = true
	if err := h.Validate(); err != nil {
		return nil, err
	}

	headerSize := h.Size()
	total := headerSize + len(payload) + crypto.TagSize
	if total > c.maxSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrBufferTooSmall, total, c.maxSize)
	}

	buf := make([]byte, headerSize, total)
	h.EncodeTo(buf)

	nonce := c.nonce(buf, h.MessageCounter, nonceSource)
	return c.aead.Seal(buf, nonce, payload, authenticatedData(buf)), nil
}

// Open authenticates and decrypts raw. It never touches replay state.
func (c *Codec) Open(raw *RawMessage, nonceSource uint64) ([]byte, error) {
	if c == nil || c.aead == nil {
		return nil, ErrInvalidKey
	}
	if !raw.Header.Encrypted {
		return nil, fmt.Errorf("%w: message is not encrypted", ErrAuthentication)
	}
	nonce := c.nonce(raw.HeaderBytes, raw.Header.MessageCounter, nonceSource)
	plaintext, err := c.aead.Open(nil, nonce, raw.Body, authenticatedData(raw.HeaderBytes))
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

func (c *Codec) nonce(header []byte, counter uint32, source uint64) []byte {
	if c.aead.NonceSize() == crypto.CCMNonceSize {
		return crypto.BuildCCMNonce(header[securityFlagsOffset], counter, source)
	}
	return crypto.BuildAEADNonce(counter, source)
}

// EncodeUnencrypted serializes h followed by payload with no protection.
// Only unauthenticated unicast sessions send such messages.
func EncodeUnencrypted(h *Header, payload []byte) ([]byte, error) {
	h.Encrypted = false
	h.SessionType = SessionTypeUnicast
	if err := h.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, h.Size()+len(payload))
	n := h.EncodeTo(buf)
	copy(buf[n:], payload)
	return buf, nil
}

// KeyLookup resolves the codec that protects an inbound message, usually by
// finding the session named by the header and the sender's address.
type KeyLookup interface {
	LookupCodec(h *Header) (codec *Codec, nonceSource uint64, err error)
}

// Decode parses data, resolves the key through keys and opens the payload.
// Unencrypted messages are returned without a lookup. The replay window is
// not consulted or advanced.
func Decode(data []byte, keys KeyLookup) (*Frame, error) {
	raw, err := ParseMessage(data)
	if err != nil {
		return nil, err
	}
	if !raw.Header.Encrypted {
		return &Frame{Header: raw.Header, Payload: append([]byte(nil), raw.Body...)}, nil
	}

	codec, source, err := keys.LookupCodec(&raw.Header)
	if err != nil {
		return nil, err
	}
	payload, err := codec.Open(raw, source)
	if err != nil {
		return nil, err
	}
	return &Frame{Header: raw.Header, Payload: payload}, nil
}

// UnicastNonceSource returns the nonce source for a unicast session:
// the session id in the low bits, the session type in bits 56-57 and the
// send direction in bit 63.
func UnicastNonceSource(sessionID uint16, fromResponder bool) uint64 {
	source := uint64(SessionTypeUnicast)<<56 | uint64(sessionID)
	if fromResponder {
		source |= 1 << 63
	}
	return source
}

// GroupNonceSource returns the nonce source for a group message, which is
// the sender's node id.
func GroupNonceSource(sourceNodeID uint64) uint64 {
	return sourceNodeID
}
