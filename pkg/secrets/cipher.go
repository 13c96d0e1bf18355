package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	// scryptN is the CPU/memory cost parameter for scrypt key derivation (2^15).
	scryptN = 32768

	// scryptR is the block size parameter for scrypt key derivation.
	scryptR = 8

	// scryptP is the parallelization parameter for scrypt key derivation.
	scryptP = 1

	// keyLen is the derived AES key length in bytes.
	keyLen = 32

	// prefix marks ciphertext produced by this package.
	prefix = "enc:v1:"
)

// ErrNotEncrypted is returned when decrypting a value without the
// expected ciphertext prefix.
var ErrNotEncrypted = errors.New("value is not encrypted")

// Cipher encrypts credential values and token payloads at the storage
// boundary. Format: enc:v1:base64(nonce || ciphertext+tag).
type Cipher struct {
	gcm cipher.AEAD
}

// NewCipher derives a 32-byte key from the master passphrase and salt
// using scrypt and returns an AES-GCM cipher over it.
func NewCipher(masterKey, salt string) (*Cipher, error) {
	if strings.TrimSpace(masterKey) == "" {
		return nil, errors.New("master key is required")
	}
	key, err := scrypt.Key([]byte(masterKey), []byte(salt), scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &Cipher{gcm: gcm}, nil
}

// EncryptString encrypts plaintext with a random nonce.
func (c *Cipher) EncryptString(plaintext string) (string, error) {
	if c == nil || c.gcm == nil {
		return "", errors.New("cipher not initialized")
	}
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := c.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// DecryptString reverses EncryptString.
func (c *Cipher) DecryptString(value string) (string, error) {
	if c == nil || c.gcm == nil {
		return "", errors.New("cipher not initialized")
	}
	if !strings.HasPrefix(value, prefix) {
		return "", ErrNotEncrypted
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(value, prefix))
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}
	if len(raw) < c.gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce, sealed := raw[:c.gcm.NonceSize()], raw[c.gcm.NonceSize():]
	plaintext, err := c.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypting value: %w", err)
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether a stored value carries the ciphertext prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, prefix)
}
