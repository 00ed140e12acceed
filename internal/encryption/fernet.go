// Package encryption seals credentials at rest with Fernet.
package encryption

import (
	"strings"

	"github.com/fernet/fernet-go"

	reserr "github.com/MikeSquared-Agency/Resemble/internal/errors"
)

// tokenPrefix starts every Fernet token: version byte 0x80 in URL-safe base64.
const tokenPrefix = "gAAAAA"

// Encryptor provides encrypt/decrypt operations using Fernet.
type Encryptor struct {
	key *fernet.Key
}

// NewEncryptor creates a Fernet encryptor from a URL-safe base64 32-byte key.
func NewEncryptor(keyStr string) (*Encryptor, error) {
	keyStr = strings.TrimSpace(keyStr)
	if keyStr == "" {
		return nil, reserr.New(reserr.CodeConfigInvalid, "encryption key is empty")
	}

	k, err := fernet.DecodeKey(keyStr)
	if err != nil {
		return nil, reserr.Wrap(err, reserr.CodeConfigInvalid, "decoding fernet key")
	}

	return &Encryptor{key: k}, nil
}

// GenerateKey creates a new random Fernet key.
func GenerateKey() (*fernet.Key, error) {
	k := new(fernet.Key)
	if err := k.Generate(); err != nil {
		return nil, reserr.Wrap(err, reserr.CodeConfigInvalid, "generating key")
	}
	return k, nil
}

// Encrypt encrypts plaintext and returns a Fernet token string.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	tok, err := fernet.EncryptAndSign([]byte(plaintext), e.key)
	if err != nil {
		return "", reserr.Wrap(err, reserr.CodeConfigInvalid, "encrypting")
	}
	return string(tok), nil
}

// Decrypt decrypts a Fernet token and returns the plaintext.
func (e *Encryptor) Decrypt(token string) (string, error) {
	msg := fernet.VerifyAndDecrypt([]byte(strings.TrimSpace(token)), 0, []*fernet.Key{e.key})
	if msg == nil {
		return "", reserr.New(reserr.CodeConfigInvalid, "decryption failed: invalid token or key")
	}
	return string(msg), nil
}

// IsSealed reports whether value looks like a Fernet token.
func IsSealed(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), tokenPrefix)
}

// Unseal decrypts value when it is a Fernet token and returns it unchanged
// otherwise. A sealed value without an encryptor is a configuration error.
func Unseal(e *Encryptor, value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	if e == nil {
		return "", reserr.New(reserr.CodeConfigInvalid, "value is sealed but ENCRYPTION_KEY is not set")
	}
	return e.Decrypt(value)
}
