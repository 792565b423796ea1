package buffer

import (
	"io"
)

// DefaultCapacity is the initial capacity of a Buffer and the maximum chunk
// size handed to stream cipher contexts.
const DefaultCapacity = 16 * 1024

// StreamCipher is one direction of a stateful stream cipher. Encrypt and
// Decrypt append their output to dst and return the extended slice.
type StreamCipher interface {
	Encrypt(dst, p []byte, maxChunk int) ([]byte, error)
	Decrypt(dst, p []byte, maxChunk int) ([]byte, error)
}

// PacketCipher seals and opens whole datagrams with no state carried between
// calls.
type PacketCipher interface {
	EncryptAll(dst, p []byte, maxPacket int) ([]byte, error)
	DecryptAll(dst, p []byte, maxPacket int) ([]byte, error)
}

// Buffer is a growable byte container. len(data) is the capacity and n the
// number of live bytes at the start of data.
type Buffer struct {
	data  []byte
	n     int
	spare []byte
}

// New returns an empty Buffer with DefaultCapacity.
func New() *Buffer {
	return NewSize(DefaultCapacity)
}

// NewSize returns an empty Buffer with the given capacity.
func NewSize(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{data: make([]byte, capacity)}
}

func (b *Buffer) Len() int { return b.n }

func (b *Buffer) Cap() int { return len(b.data) }

// Bytes returns the live region. The slice aliases the Buffer and is only
// valid until the next mutating call.
func (b *Buffer) Bytes() []byte { return b.data[:b.n] }

// Append copies p after the live region. When p does not fit the backing array
// is reallocated to twice len(p), or to twice the combined length when that is
// still too small.
func (b *Buffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	if need := b.n + len(p); need > len(b.data) {
		size := 2 * len(p)
		if size < need {
			size = 2 * need
		}
		b.Reallocate(size)
	}
	b.n += copy(b.data[b.n:], p)
}

// Write implements io.Writer on top of Append.
func (b *Buffer) Write(p []byte) (int, error) {
	b.Append(p)
	return len(p), nil
}

// AssignFromStart overwrites the contents with p. Length becomes len(p).
func (b *Buffer) AssignFromStart(p []byte) {
	if len(p) > len(b.data) {
		b.data = make([]byte, 2*len(p))
	}
	b.n = copy(b.data, p)
}

// DropFront discards the first n live bytes and shifts the rest to offset 0.
// Dropping more than Len bytes is a no-op.
func (b *Buffer) DropFront(n int) {
	if n < 0 || n > b.n {
		return
	}
	copy(b.data, b.data[n:b.n])
	b.n -= n
}

// Snapshot returns an owned copy of the live region.
func (b *Buffer) Snapshot() []byte {
	out := make([]byte, b.n)
	copy(out, b.data[:b.n])
	return out
}

// Clear sets the length to zero and keeps the capacity.
func (b *Buffer) Clear() { b.n = 0 }

// Reallocate resizes the backing array to capacity, truncating the live region
// if it no longer fits.
func (b *Buffer) Reallocate(capacity int) {
	if capacity < 0 {
		capacity = 0
	}
	data := make([]byte, capacity)
	b.n = copy(data, b.data[:b.n])
	b.data = data
}

// Reserve ensures at least n bytes of free space after the live region.
func (b *Buffer) Reserve(n int) {
	if len(b.data)-b.n < n {
		b.Reallocate(b.n + n)
	}
}

// Fill reads once from r into the free space after the live region, growing
// first if the Buffer is full.
func (b *Buffer) Fill(r io.Reader) (int, error) {
	if b.n == len(b.data) {
		size := 2 * len(b.data)
		if size == 0 {
			size = DefaultCapacity
		}
		b.Reallocate(size)
	}
	n, err := r.Read(b.data[b.n:])
	b.n += n
	return n, err
}

// Encrypt replaces the live region with its encryption under c, in chunks of
// at most maxChunk plaintext bytes.
func (b *Buffer) Encrypt(c StreamCipher, maxChunk int) error {
	out, err := c.Encrypt(b.scratch(), b.Bytes(), maxChunk)
	if err != nil {
		return err
	}
	b.swap(out)
	return nil
}

// Decrypt replaces the live region with whatever plaintext c can open. The
// ciphertext is always consumed: on any error, including c asking for more
// input, the Buffer is left empty and c's error is returned unchanged.
func (b *Buffer) Decrypt(c StreamCipher, maxChunk int) error {
	out, err := c.Decrypt(b.scratch(), b.Bytes(), maxChunk)
	if err != nil {
		b.Clear()
		return err
	}
	b.swap(out)
	return nil
}

// EncryptAll replaces the live region with a single sealed packet.
func (b *Buffer) EncryptAll(c PacketCipher, maxPacket int) error {
	out, err := c.EncryptAll(b.scratch(), b.Bytes(), maxPacket)
	if err != nil {
		return err
	}
	b.swap(out)
	return nil
}

// DecryptAll replaces the live region with the opened packet.
func (b *Buffer) DecryptAll(c PacketCipher, maxPacket int) error {
	out, err := c.DecryptAll(b.scratch(), b.Bytes(), maxPacket)
	if err != nil {
		return err
	}
	b.swap(out)
	return nil
}

// scratch returns an empty slice at least as large as the Buffer, so a
// cipher output swapped in never shrinks Cap.
func (b *Buffer) scratch() []byte {
	if cap(b.spare) < len(b.data) {
		b.spare = make([]byte, 0, len(b.data))
	}
	return b.spare[:0]
}

func (b *Buffer) swap(out []byte) {
	old := b.data
	b.data = out[:cap(out)]
	b.n = len(out)
	b.spare = old
}
