// Package seal computes artifact checksums and manages sidecar metadata.
package seal

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/riskhorizon/backupctl/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for artifact sealing.
type Service interface {
	// Seal hashes the artifact bytes as stored and writes the sidecar
	// metadata record. It never mutates the artifact and must run after
	// any compression or encryption step.
	Seal(artifactPath string, domain models.Domain, createdAt time.Time, source string) (*models.ArtifactMetadata, error)
	// Load reads a sidecar metadata record.
	Load(metadataPath string) (*models.ArtifactMetadata, error)
	// Verify recomputes the artifact checksum and compares it to the
	// sidecar record.
	Verify(artifactPath string, meta *models.ArtifactMetadata) error
}

// MetadataPath returns the sidecar path for an artifact.
func MetadataPath(artifactPath string) string {
	return artifactPath + models.MetadataSuffix
}

// Impl implements the seal Service interface.
type Impl struct {
	logger zerolog.Logger
}

// New creates a new seal service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{logger: logger}
}

// Seal writes the sidecar metadata record for an artifact.
func (s *Impl) Seal(artifactPath string, domain models.Domain, createdAt time.Time, source string) (*models.ArtifactMetadata, error) {
	checksum, size, err := hashFile(artifactPath)
	if err != nil {
		return nil, fmt.Errorf("failed to hash artifact: %w", err)
	}

	meta := &models.ArtifactMetadata{
		Domain:    domain,
		CreatedAt: createdAt,
		Source:    source,
		Checksum:  checksum,
		SizeBytes: size,
		SizeHuman: models.HumanSize(size),
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	metaPath := MetadataPath(artifactPath)
	if err := os.WriteFile(metaPath, data, 0o640); err != nil { //nolint:gosec // sidecar lives next to the artifact
		return nil, fmt.Errorf("failed to write metadata: %w", err)
	}

	s.logger.Info().
		Str("artifact", artifactPath).
		Str("checksum", checksum).
		Str("size", meta.SizeHuman).
		Msg("artifact sealed")

	return meta, nil
}

// Load reads a sidecar metadata record.
func (s *Impl) Load(metadataPath string) (*models.ArtifactMetadata, error) {
	data, err := os.ReadFile(metadataPath) //nolint:gosec // metadataPath is controlled by caller
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta models.ArtifactMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}

	return &meta, nil
}

// Verify recomputes the checksum of the artifact in its stored state and
// compares it against the sidecar record.
func (s *Impl) Verify(artifactPath string, meta *models.ArtifactMetadata) error {
	checksum, _, err := hashFile(artifactPath)
	if err != nil {
		return fmt.Errorf("failed to hash artifact: %w", err)
	}

	if checksum != meta.Checksum {
		return models.NewStepError("verify", models.IntegrityFailure,
			fmt.Errorf("checksum mismatch: artifact %s, metadata %s", checksum, meta.Checksum))
	}

	s.logger.Debug().
		Str("artifact", artifactPath).
		Str("checksum", checksum).
		Msg("artifact integrity verified")

	return nil
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path) //nolint:gosec // path is controlled by caller
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}

	return hex.EncodeToString(h.Sum(nil)), size, nil
}
