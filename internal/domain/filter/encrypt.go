package filter

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/kailas-cloud/docbase/internal/domain/document"
)

const (
	encryptMethod  = "xchacha20poly1305"
	encryptVersion = "1"
)

// Argon2id parameters for key derivation.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

var encryptSalt = []byte("docbase/encrypt/v1")

type sealed struct {
	Data    string `json:"data"`
	Method  string `json:"method"`
	IV      string `json:"iv"`
	Version string `json:"version"`
}

// Encrypt seals string values with XChaCha20-Poly1305 under a key derived
// from secret with Argon2id. Stored values are JSON envelopes carrying the
// ciphertext, nonce, method and version.
func Encrypt(secret string) (Filter, error) {
	if secret == "" {
		return Filter{}, errors.New("encrypt filter: empty secret")
	}
	key := argon2.IDKey([]byte(secret), encryptSalt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return Filter{}, fmt.Errorf("encrypt filter: %w", err)
	}

	encode := func(v any, _ document.Document) (any, error) {
		s, ok := v.(string)
		if !ok {
			return v, nil
		}
		nonce := make([]byte, aead.NonceSize())
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return nil, fmt.Errorf("encrypt: nonce: %w", err)
		}
		out, err := json.Marshal(sealed{
			Data:    base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, []byte(s), nil)),
			Method:  encryptMethod,
			IV:      base64.StdEncoding.EncodeToString(nonce),
			Version: encryptVersion,
		})
		if err != nil {
			return nil, fmt.Errorf("encrypt: %w", err)
		}
		return string(out), nil
	}

	decode := func(v any, _ document.Document) (any, error) {
		s, ok := v.(string)
		if !ok {
			return v, nil
		}
		var env sealed
		if err := json.Unmarshal([]byte(s), &env); err != nil || env.Method != encryptMethod {
			return v, nil
		}
		nonce, err := base64.StdEncoding.DecodeString(env.IV)
		if err != nil {
			return nil, fmt.Errorf("decrypt: nonce: %w", err)
		}
		data, err := base64.StdEncoding.DecodeString(env.Data)
		if err != nil {
			return nil, fmt.Errorf("decrypt: data: %w", err)
		}
		plain, err := aead.Open(nil, nonce, data, nil)
		if err != nil {
			return nil, fmt.Errorf("decrypt: %w", err)
		}
		return string(plain), nil
	}

	return Filter{Encode: encode, Decode: decode}, nil
}
