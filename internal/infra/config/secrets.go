package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

// secretPrefix marks a config value as EncryptValue output.
const secretPrefix = "enc:"

// decryptSecrets replaces every "enc:" token in cfg with its plaintext.
func decryptSecrets(cfg *Config, passphrase string) error {
	if hasSecretPrefix(cfg.Backend.Remote.Token) {
		plain, err := DecryptValue(strings.TrimPrefix(cfg.Backend.Remote.Token, secretPrefix), passphrase)
		if err != nil {
			return fmt.Errorf("backend.remote.token: %w", err)
		}
		cfg.Backend.Remote.Token = plain
	}

	for i := range cfg.Gateway.Auth.Tokens {
		tok := &cfg.Gateway.Auth.Tokens[i]
		if !hasSecretPrefix(tok.Token) {
			continue
		}
		plain, err := DecryptValue(strings.TrimPrefix(tok.Token, secretPrefix), passphrase)
		if err != nil {
			return fmt.Errorf("gateway auth token %s: %w", tok.Name, err)
		}
		tok.Token = plain
	}
	return nil
}

// EncryptValue seals plaintext with AES-256-GCM under a key derived from
// passphrase. The result is hex(salt) + ":" + hex(nonce+ciphertext).
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(sealed), nil
}

// DecryptValue is the inverse of EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plain), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	// Argon2id, 64 MiB, 4 lanes, 32-byte key.
	key := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}
