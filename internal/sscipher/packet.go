package sscipher

import (
	"fmt"
	"slices"

	"github.com/shadowsocks/go-shadowsocks2/shadowaead"
)

// tagSize is the AEAD overhead of every supported method.
const tagSize = 16

// EncryptAll seals p as a single UDP packet with a fresh salt and appends it
// to dst. The packet, salt included, must fit in maxPacket when maxPacket is
// positive.
func (e *Env) EncryptAll(dst, p []byte, maxPacket int) ([]byte, error) {
	n := e.cipher.SaltSize() + len(p) + tagSize
	if maxPacket > 0 && n > maxPacket {
		return nil, fmt.Errorf("%w: %d > %d", ErrPacketTooLarge, n, maxPacket)
	}

	start := len(dst)
	dst = slices.Grow(dst, n)
	out, err := shadowaead.Pack(dst[start:start+n], p, e.cipher)
	if err != nil {
		return nil, fmt.Errorf("pack: %w", err)
	}
	return dst[:start+len(out)], nil
}

// DecryptAll opens a packet produced by EncryptAll and appends the plaintext
// to dst. A packet whose salt this process already sent is rejected with
// ErrRepeatedSalt.
func (e *Env) DecryptAll(dst, p []byte, maxPacket int) ([]byte, error) {
	if maxPacket > 0 && len(p) > maxPacket {
		return nil, fmt.Errorf("%w: %d > %d", ErrPacketTooLarge, len(p), maxPacket)
	}
	if len(p) < e.cipher.SaltSize()+tagSize {
		return nil, ErrShortPacket
	}

	start := len(dst)
	dst = slices.Grow(dst, len(p))
	out, err := shadowaead.Unpack(dst[start:start+len(p)], p, e.cipher)
	if err != nil {
		return nil, fmt.Errorf("unpack: %w", err)
	}
	return dst[:start+len(out)], nil
}
