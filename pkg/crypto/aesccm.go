package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"errors"
)

// CCM parameters (NIST SP 800-38C) for SuiteAES128CCM.
const (
	// CCMNonceSize leaves a 2-byte length field, capping payloads at 64 KiB.
	CCMNonceSize = 13

	ccmLenSize = 15 - CCMNonceSize
)

var errCCMOpen = errors.New("crypto: ccm message authentication failed")

// ccm is AES-CCM behind the cipher.AEAD interface.
type ccm struct {
	block   cipher.Block
	tagSize int
}

// NewAESCCM returns AES-128-CCM with a 13-byte nonce and a 16-byte tag.
func NewAESCCM(key []byte) (cipher.AEAD, error) {
	return newCCM(key, TagSize)
}

func newCCM(key []byte, tagSize int) (*ccm, error) {
	if len(key) != 16 {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &ccm{block: block, tagSize: tagSize}, nil
}

func (c *ccm) NonceSize() int { return CCMNonceSize }
func (c *ccm) Overhead() int  { return c.tagSize }

// Seal appends the ciphertext and tag of plaintext to dst.
func (c *ccm) Seal(dst, nonce, plaintext, aad []byte) []byte {
	if len(nonce) != CCMNonceSize {
		panic("crypto: incorrect nonce length given to CCM")
	}
	if len(plaintext) >= 1<<(8*ccmLenSize) {
		panic("crypto: message too large for CCM")
	}

	ret, out := sliceForAppend(dst, len(plaintext)+c.tagSize)
	tag := c.mac(nonce, plaintext, aad)
	c.ctr(nonce, out[:len(plaintext)], plaintext)

	var s0 [aes.BlockSize]byte
	c.counterBlock(&s0, nonce, 0)
	c.block.Encrypt(s0[:], s0[:])
	subtle.XORBytes(out[len(plaintext):], tag[:c.tagSize], s0[:c.tagSize])
	return ret
}

// Open authenticates ciphertext and appends the plaintext to dst.
func (c *ccm) Open(dst, nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(nonce) != CCMNonceSize {
		panic("crypto: incorrect nonce length given to CCM")
	}
	if len(ciphertext) < c.tagSize {
		return nil, errCCMOpen
	}
	body := ciphertext[:len(ciphertext)-c.tagSize]
	sealedTag := ciphertext[len(ciphertext)-c.tagSize:]

	ret, out := sliceForAppend(dst, len(body))
	c.ctr(nonce, out, body)

	var s0 [aes.BlockSize]byte
	c.counterBlock(&s0, nonce, 0)
	c.block.Encrypt(s0[:], s0[:])
	tag := c.mac(nonce, out, aad)
	subtle.XORBytes(tag[:c.tagSize], tag[:c.tagSize], s0[:c.tagSize])

	if subtle.ConstantTimeCompare(tag[:c.tagSize], sealedTag) != 1 {
		clear(out)
		return nil, errCCMOpen
	}
	return ret, nil
}

// mac is the CBC-MAC over B0, the encoded aad and the plaintext.
func (c *ccm) mac(nonce, plaintext, aad []byte) [aes.BlockSize]byte {
	var x [aes.BlockSize]byte
	x[0] = byte((c.tagSize-2)/2)<<3 | byte(ccmLenSize-1)
	if len(aad) > 0 {
		x[0] |= 1 << 6
	}
	copy(x[1:], nonce)
	binary.BigEndian.PutUint16(x[aes.BlockSize-ccmLenSize:], uint16(len(plaintext)))
	c.block.Encrypt(x[:], x[:])

	if len(aad) > 0 {
		var prefix []byte
		if len(aad) < 0xFF00 {
			prefix = binary.BigEndian.AppendUint16(nil, uint16(len(aad)))
		} else {
			prefix = binary.BigEndian.AppendUint32([]byte{0xFF, 0xFE}, uint32(len(aad)))
		}
		c.absorb(&x, append(prefix, aad...))
	}
	c.absorb(&x, plaintext)
	return x
}

// absorb feeds data, zero padded to whole blocks, into the CBC-MAC state.
func (c *ccm) absorb(x *[aes.BlockSize]byte, data []byte) {
	for len(data) > 0 {
		n := min(len(data), aes.BlockSize)
		subtle.XORBytes(x[:n], x[:n], data[:n])
		c.block.Encrypt(x[:], x[:])
		data = data[n:]
	}
}

// ctr encrypts src into dst with counter blocks starting at 1.
func (c *ccm) ctr(nonce, dst, src []byte) {
	var a, ks [aes.BlockSize]byte
	for i := uint16(1); len(src) > 0; i++ {
		c.counterBlock(&a, nonce, i)
		c.block.Encrypt(ks[:], a[:])
		n := subtle.XORBytes(dst, src, ks[:])
		dst, src = dst[n:], src[n:]
	}
}

func (c *ccm) counterBlock(a *[aes.BlockSize]byte, nonce []byte, i uint16) {
	a[0] = byte(ccmLenSize - 1)
	copy(a[1:], nonce)
	binary.BigEndian.PutUint16(a[aes.BlockSize-ccmLenSize:], i)
}

func sliceForAppend(in []byte, n int) (head, tail []byte) {
	if total := len(in) + n; cap(in) >= total {
		head = in[:total]
	} else {
		head = make([]byte, total)
		copy(head, in)
	}
	tail = head[len(in):]
	return
}
