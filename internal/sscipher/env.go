package sscipher

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/shadowsocks/go-shadowsocks2/core"
	"github.com/shadowsocks/go-shadowsocks2/shadowaead"
)

var (
	// ErrNeedMore is returned by Decrypt when the input did not complete a
	// single frame. It is a flow-control signal, not a failure.
	ErrNeedMore = errors.New("need more data")

	ErrUnsupportedMethod = errors.New("unsupported method")
	ErrWrongDirection    = errors.New("wrong cipher direction")
	ErrReleased          = errors.New("cipher context released")
	ErrPacketTooLarge    = errors.New("packet too large")

	ErrShortPacket  = shadowaead.ErrShortPacket
	ErrRepeatedSalt = shadowaead.ErrRepeatedSalt
)

// Env is a configured cipher method and key.
type Env struct {
	method string
	cipher shadowaead.Cipher
}

// New derives the key for method from password, or decodes key when it is
// non-empty. key is base64 in either the standard or URL alphabet.
func New(password, method, key string) (*Env, error) {
	var k []byte
	if key != "" {
		var err error
		if k, err = decodeKey(key); err != nil {
			return nil, err
		}
	} else if password == "" {
		return nil, errors.New("password or key required")
	}

	ciph, err := core.PickCipher(method, k, password)
	if err != nil {
		return nil, fmt.Errorf("cipher %q: %w", method, err)
	}

	aead, ok := ciph.(shadowaead.Cipher)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}

	return &Env{method: method, cipher: aead}, nil
}

func (e *Env) Method() string { return e.method }

func (e *Env) SaltSize() int { return e.cipher.SaltSize() }

// NewContextPair returns fresh, independent encrypt and decrypt contexts.
func (e *Env) NewContextPair() (enc, dec Context) {
	return &encryptor{cipher: e.cipher}, &decryptor{cipher: e.cipher, size: -1}
}

func decodeKey(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	}
	for _, enc := range encodings {
		if k, err := enc.DecodeString(s); err == nil {
			return k, nil
		}
	}
	return nil, errors.New("invalid key: not base64")
}

func newSalt(size int) ([]byte, error) {
	salt := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("salt: %w", err)
	}
	return salt, nil
}
