// Package crypt provides optional artifact encryption.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"os"
	"strings"

	"github.com/riskhorizon/backupctl/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/scrypt"
)

// scrypt parameters for passphrase key derivation.
const (
	scryptN   = 1 << 15
	scryptR   = 8
	scryptP   = 1
	keyLength = 32 // AES-256
	saltSize  = 16
)

// Service defines the interface for the encryption gate.
type Service interface {
	// MaybeEncrypt wraps an artifact with authenticated encryption when a
	// passphrase is configured. Without one it is an explicit pass-through.
	// On success the plaintext file is deleted and the encrypted path
	// (artifact path plus suffix) is returned.
	MaybeEncrypt(path, passphrase string) (string, error)
	// Decrypt is the exact inverse. The ciphertext file is kept; the
	// plaintext is written next to it without the suffix.
	Decrypt(path, passphrase string) (string, error)
}

// Impl implements the crypt Service interface.
type Impl struct {
	logger zerolog.Logger
}

// New creates a new crypt service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{logger: logger}
}

// MaybeEncrypt encrypts the artifact in place when a passphrase is set.
func (s *Impl) MaybeEncrypt(path, passphrase string) (string, error) {
	if passphrase == "" {
		s.logger.Info().Str("artifact", path).Msg("encryption not configured, storing artifact unencrypted")
		return path, nil
	}

	plaintext, err := os.ReadFile(path) //nolint:gosec // path is controlled by caller
	if err != nil {
		return "", fmt.Errorf("failed to read artifact: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// File layout: salt | nonce | ciphertext+tag.
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, sealed...)

	encPath := path + models.EncryptedSuffix
	if err := os.WriteFile(encPath, out, 0o640); err != nil { //nolint:gosec // artifact directory is operator-controlled
		return "", fmt.Errorf("failed to write encrypted artifact: %w", err)
	}

	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("failed to remove plaintext artifact: %w", err)
	}

	s.logger.Info().
		Str("artifact", encPath).
		Msg("artifact encrypted")

	return encPath, nil
}

// Decrypt reverses MaybeEncrypt. A missing passphrase and an
// authentication failure surface as distinct error kinds so the restore
// orchestrator can report accurately.
func (s *Impl) Decrypt(path, passphrase string) (string, error) {
	if !strings.HasSuffix(path, models.EncryptedSuffix) {
		return path, nil
	}

	if passphrase == "" {
		return "", models.NewStepError("decrypt", models.MissingCredential,
			fmt.Errorf("artifact %s is encrypted and no passphrase is configured", path))
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is controlled by caller
	if err != nil {
		return "", fmt.Errorf("failed to read encrypted artifact: %w", err)
	}

	if len(data) < saltSize {
		return "", models.NewStepError("decrypt", models.IntegrityFailure,
			fmt.Errorf("encrypted artifact %s is truncated", path))
	}

	salt, rest := data[:saltSize], data[saltSize:]
	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	if len(rest) < gcm.NonceSize() {
		return "", models.NewStepError("decrypt", models.IntegrityFailure,
			fmt.Errorf("encrypted artifact %s is truncated", path))
	}

	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		// GCM authentication covers both a wrong passphrase and corrupt
		// ciphertext; neither may ever yield silent garbage.
		return "", models.NewStepError("decrypt", models.IntegrityFailure,
			fmt.Errorf("decryption failed (wrong passphrase or corrupt data): %w", err))
	}

	plainPath := strings.TrimSuffix(path, models.EncryptedSuffix)
	if err := os.WriteFile(plainPath, plaintext, 0o640); err != nil { //nolint:gosec // working directory is operator-controlled
		return "", fmt.Errorf("failed to write decrypted artifact: %w", err)
	}

	s.logger.Info().
		Str("artifact", plainPath).
		Msg("artifact decrypted")

	return plainPath, nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, keyLength)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return gcm, nil
}
