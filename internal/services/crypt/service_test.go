package crypt

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/riskhorizon/backupctl/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func writeArtifact(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "riskhorizon-20260826-021500.dump")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
	return path
}

func TestMaybeEncrypt_PassThroughWithoutPassphrase(t *testing.T) {
	path := writeArtifact(t, "plaintext dump")

	svc := New(testLogger())
	out, err := svc.MaybeEncrypt(path, "")

	require.NoError(t, err)
	assert.Equal(t, path, out)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "plaintext dump", string(content))
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	path := writeArtifact(t, "sensitive dump bytes")

	svc := New(testLogger())
	encPath, err := svc.MaybeEncrypt(path, "hunter2")

	require.NoError(t, err)
	assert.Equal(t, path+models.EncryptedSuffix, encPath)
	assert.NoFileExists(t, path, "plaintext must be deleted after encryption")

	encrypted, err := os.ReadFile(encPath)
	require.NoError(t, err)
	assert.NotContains(t, string(encrypted), "sensitive")

	plainPath, err := svc.Decrypt(encPath, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, path, plainPath)

	content, err := os.ReadFile(plainPath)
	require.NoError(t, err)
	assert.Equal(t, "sensitive dump bytes", string(content))

	// The ciphertext is kept; restore never consumes the stored artifact.
	assert.FileExists(t, encPath)
}

func TestDecrypt_WrongPassphraseIsIntegrityFailure(t *testing.T) {
	path := writeArtifact(t, "secret")

	svc := New(testLogger())
	encPath, err := svc.MaybeEncrypt(path, "correct horse")
	require.NoError(t, err)

	_, err = svc.Decrypt(encPath, "battery staple")
	require.Error(t, err)
	assert.Equal(t, models.IntegrityFailure, models.KindOf(err))
	assert.NoFileExists(t, path, "no plaintext may be produced from a failed decrypt")
}

func TestDecrypt_MissingPassphraseIsMissingCredential(t *testing.T) {
	path := writeArtifact(t, "secret")

	svc := New(testLogger())
	encPath, err := svc.MaybeEncrypt(path, "hunter2")
	require.NoError(t, err)

	_, err = svc.Decrypt(encPath, "")
	require.Error(t, err)
	assert.Equal(t, models.MissingCredential, models.KindOf(err))
}

func TestDecrypt_CorruptCiphertextIsIntegrityFailure(t *testing.T) {
	path := writeArtifact(t, "secret")

	svc := New(testLogger())
	encPath, err := svc.MaybeEncrypt(path, "hunter2")
	require.NoError(t, err)

	data, err := os.ReadFile(encPath)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(encPath, data, 0o640))

	_, err = svc.Decrypt(encPath, "hunter2")
	require.Error(t, err)
	assert.Equal(t, models.IntegrityFailure, models.KindOf(err))
}

func TestDecrypt_UnencryptedPathIsPassThrough(t *testing.T) {
	svc := New(testLogger())
	out, err := svc.Decrypt("/backups/files-20260826-021500.tar.gz", "anything")
	require.NoError(t, err)
	assert.Equal(t, "/backups/files-20260826-021500.tar.gz", out)
}

func TestDecrypt_TruncatedFileIsIntegrityFailure(t *testing.T) {
	encPath := filepath.Join(t.TempDir(), "short.dump"+models.EncryptedSuffix)
	require.NoError(t, os.WriteFile(encPath, []byte("tiny"), 0o640))

	svc := New(testLogger())
	_, err := svc.Decrypt(encPath, "hunter2")
	require.Error(t, err)
	assert.Equal(t, models.IntegrityFailure, models.KindOf(err))
}
