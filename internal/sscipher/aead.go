package sscipher

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/shadowsocks/go-shadowsocks2/shadowaead"
)

// maxPayload is the largest payload of one TCP frame.
const maxPayload = 0x3FFF

// Context is one direction of a TCP stream cipher. An encrypt context rejects
// Decrypt and a decrypt context rejects Encrypt.
type Context interface {
	Encrypt(dst, p []byte, maxChunk int) ([]byte, error)
	Decrypt(dst, p []byte, maxChunk int) ([]byte, error)
	Release()
}

type encryptor struct {
	cipher   shadowaead.Cipher
	out      sliceWriter
	w        io.Writer
	released bool
}

func (c *encryptor) Encrypt(dst, p []byte, maxChunk int) ([]byte, error) {
	if c.released {
		return nil, ErrReleased
	}
	c.out.b = dst
	if c.w == nil {
		salt, err := newSalt(c.cipher.SaltSize())
		if err != nil {
			return nil, err
		}
		aead, err := c.cipher.Encrypter(salt)
		if err != nil {
			return nil, fmt.Errorf("encrypter: %w", err)
		}
		c.out.b = append(c.out.b, salt...)
		c.w = shadowaead.NewWriter(&c.out, aead)
	}

	if maxChunk <= 0 || maxChunk > maxPayload {
		maxChunk = maxPayload
	}

	// Each write of at most maxPayload bytes seals exactly one frame.
	for len(p) > 0 {
		n := min(len(p), maxChunk)
		if _, err := c.w.Write(p[:n]); err != nil {
			return nil, fmt.Errorf("seal: %w", err)
		}
		p = p[n:]
	}

	dst, c.out.b = c.out.b, nil
	return dst, nil
}

func (c *encryptor) Decrypt([]byte, []byte, int) ([]byte, error) {
	return nil, ErrWrongDirection
}

func (c *encryptor) Release() {
	c.released = true
	c.w = nil
	c.out.b = nil
}

// sliceWriter appends everything written to it.
type sliceWriter struct{ b []byte }

func (s *sliceWriter) Write(p []byte) (int, error) {
	s.b = append(s.b, p...)
	return len(p), nil
}

type decryptor struct {
	cipher   shadowaead.Cipher
	aead     cipher.AEAD
	nonce    []byte
	pending  []byte
	size     int // payload length of the frame at pending, -1 until its header is opened
	released bool
}

func (c *decryptor) Encrypt([]byte, []byte, int) ([]byte, error) {
	return nil, ErrWrongDirection
}

// Decrypt appends every complete payload found in pending+p to dst. Partial
// frames stay in the context until a later call completes them.
func (c *decryptor) Decrypt(dst, p []byte, _ int) ([]byte, error) {
	if c.released {
		return nil, ErrReleased
	}
	c.pending = append(c.pending, p...)

	off := 0
	if c.aead == nil {
		saltSize := c.cipher.SaltSize()
		if len(c.pending) < saltSize {
			return dst, ErrNeedMore
		}
		aead, err := c.cipher.Decrypter(c.pending[:saltSize])
		if err != nil {
			return nil, fmt.Errorf("decrypter: %w", err)
		}
		c.aead = aead
		c.nonce = make([]byte, aead.NonceSize())
		off = saltSize
	}

	start := len(dst)
	overhead := c.aead.Overhead()
	for {
		buf := c.pending[off:]
		if c.size < 0 {
			if len(buf) < 2+overhead {
				break
			}
			var hdr [2]byte
			if _, err := c.aead.Open(hdr[:0], c.nonce, buf[:2+overhead], nil); err != nil {
				return nil, fmt.Errorf("open length: %w", err)
			}
			increment(c.nonce)
			c.size = int(binary.BigEndian.Uint16(hdr[:]) & maxPayload)
			off += 2 + overhead
			continue
		}

		if len(buf) < c.size+overhead {
			break
		}
		var err error
		dst, err = c.aead.Open(dst, c.nonce, buf[:c.size+overhead], nil)
		if err != nil {
			return nil, fmt.Errorf("open payload: %w", err)
		}
		increment(c.nonce)
		off += c.size + overhead
		c.size = -1
	}

	c.pending = append(c.pending[:0], c.pending[off:]...)
	if len(dst) == start {
		return dst, ErrNeedMore
	}
	return dst, nil
}

func (c *decryptor) Release() {
	c.released = true
	c.aead = nil
	c.nonce = nil
	c.pending = nil
}

// increment treats b as a little-endian counter.
func increment(b []byte) {
	for i := range b {
		b[i]++
		if b[i] != 0 {
			return
		}
	}
}
