// Package security provides the encryption transform the byte
// serializer applies to strings and stream payloads. It implements the
// per-object key schedule of the standard security handler with RC4 and
// AES-128-CBC ciphers. Password validation and permission handling live
// with the host application; this package only transforms bytes.
package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"crypto/rc4"
	"errors"
	"fmt"
)

// DataClass identifies the kind of payload being transformed.
type DataClass int

const (
	DataClassStream DataClass = iota
	DataClassString
)

// Handler transforms bytes belonging to one indirect object.
type Handler interface {
	Encrypt(num, gen int, data []byte, class DataClass) ([]byte, error)
	Decrypt(num, gen int, data []byte, class DataClass) ([]byte, error)
}

// Algorithm selects the cipher used by the standard handler.
type Algorithm int

const (
	RC4 Algorithm = iota
	AESV2
)

// aesSalt is appended to the key material for AES per the standard
// handler's key schedule.
var aesSalt = []byte{0x73, 0x41, 0x6C, 0x54}

type standardHandler struct {
	key    []byte
	algo   Algorithm
	strict bool
}

// HandlerBuilder assembles a standard handler.
type HandlerBuilder struct {
	key    []byte
	algo   Algorithm
	strict bool
}

// WithKey sets the file encryption key (5 to 16 bytes).
func (b *HandlerBuilder) WithKey(key []byte) *HandlerBuilder { b.key = key; return b }

// WithAlgorithm selects the cipher.
func (b *HandlerBuilder) WithAlgorithm(a Algorithm) *HandlerBuilder { b.algo = a; return b }

// WithStrict makes decryption fail on malformed AES padding instead of
// returning the unpadded block data.
func (b *HandlerBuilder) WithStrict(strict bool) *HandlerBuilder { b.strict = strict; return b }

// Build validates the configuration and returns the handler.
func (b *HandlerBuilder) Build() (Handler, error) {
	if len(b.key) < 5 || len(b.key) > 16 {
		return nil, fmt.Errorf("security: key length %d outside 5..16", len(b.key))
	}
	// The AESV2 crypt filter is defined for 128-bit keys only; the
	// per-object key derivation then always yields 16 bytes.
	if b.algo == AESV2 && len(b.key) != 16 {
		return nil, fmt.Errorf("security: AESV2 requires a 16-byte key, got %d", len(b.key))
	}
	return &standardHandler{key: b.key, algo: b.algo, strict: b.strict}, nil
}

// objectKey derives the per-object key: MD5 over the file key, the low
// three bytes of the object number, the low two bytes of the generation
// and, for AES, the sAlT marker; truncated to len(key)+5, capped at 16.
func (h *standardHandler) objectKey(num, gen int) []byte {
	m := md5.New()
	m.Write(h.key)
	m.Write([]byte{byte(num), byte(num >> 8), byte(num >> 16)})
	m.Write([]byte{byte(gen), byte(gen >> 8)})
	if h.algo == AESV2 {
		m.Write(aesSalt)
	}
	sum := m.Sum(nil)
	n := len(h.key) + 5
	if n > 16 {
		n = 16
	}
	return sum[:n]
}

func (h *standardHandler) Encrypt(num, gen int, data []byte, class DataClass) ([]byte, error) {
	key := h.objectKey(num, gen)
	switch h.algo {
	case RC4:
		return rc4Apply(key, data)
	case AESV2:
		return aesEncrypt(key, data)
	}
	return nil, fmt.Errorf("security: unsupported algorithm %d", h.algo)
}

func (h *standardHandler) Decrypt(num, gen int, data []byte, class DataClass) ([]byte, error) {
	key := h.objectKey(num, gen)
	switch h.algo {
	case RC4:
		return rc4Apply(key, data)
	case AESV2:
		return h.aesDecrypt(key, data)
	}
	return nil, fmt.Errorf("security: unsupported algorithm %d", h.algo)
}

func rc4Apply(key, data []byte) ([]byte, error) {
	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("security: %w", err)
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out, nil
}

// aesEncrypt prepends a random IV and applies PKCS#7 padding, matching
// the AESV2 crypt filter layout.
func aesEncrypt(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("security: %w", err)
	}
	pad := aes.BlockSize - len(data)%aes.BlockSize
	padded := make([]byte, len(data)+pad)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(pad)
	}
	out := make([]byte, aes.BlockSize+len(padded))
	iv := out[:aes.BlockSize]
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("security: iv: %w", err)
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return out, nil
}

func (h *standardHandler) aesDecrypt(key, data []byte) ([]byte, error) {
	if len(data) < aes.BlockSize || len(data)%aes.BlockSize != 0 {
		if h.strict {
			return nil, errors.New("security: ciphertext not block aligned")
		}
		return data, nil
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("security: %w", err)
	}
	iv, body := data[:aes.BlockSize], data[aes.BlockSize:]
	out := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, body)
	if len(out) == 0 {
		return out, nil
	}
	pad := int(out[len(out)-1])
	if pad < 1 || pad > aes.BlockSize || pad > len(out) {
		if h.strict {
			return nil, errors.New("security: malformed padding")
		}
		return out, nil
	}
	if h.strict && !bytes.Equal(out[len(out)-pad:], bytes.Repeat([]byte{byte(pad)}, pad)) {
		return nil, errors.New("security: malformed padding")
	}
	return out[:len(out)-pad], nil
}
