// Package store manages the local artifact tree, offsite replication, and
// retention pruning.
package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/riskhorizon/backupctl/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for artifact storage operations.
type Service interface {
	// Upload copies an artifact and its sidecar to offsite storage and
	// returns the artifact's remote key.
	Upload(ctx context.Context, artifact models.BackupArtifact, metadataPath string) (string, error)
	// Download fetches a remote object into destDir and returns the local path.
	Download(ctx context.Context, key, destDir string) (string, error)
	// ListLocal returns the domain's local artifacts, oldest first.
	ListLocal(domain models.Domain) ([]models.BackupArtifact, error)
	// ListRemote returns the domain's remote artifacts, oldest first.
	ListRemote(ctx context.Context, domain models.Domain) ([]models.RemoteObject, error)
	// PruneLocal deletes local artifacts (and sidecars) older than the
	// retention window, never touching anything created at or after
	// activeSince.
	PruneLocal(maxAgeDays int, activeSince time.Time) (*models.PruneResult, error)
	// PruneRemote mirrors the prune against offsite storage. Skipped
	// entirely when no remote target is configured.
	PruneRemote(ctx context.Context, maxAgeDays int) (*models.PruneResult, error)
	// RemoteConfigured reports whether an offsite target exists.
	RemoteConfigured() bool
}

// Impl implements the store Service interface.
type Impl struct {
	root   string
	remote ObjectStore // nil when no offsite target is configured
	logger zerolog.Logger
}

// New creates a new store service. remote may be nil.
func New(logger zerolog.Logger, root string, remote ObjectStore) *Impl {
	return &Impl{
		root:   root,
		remote: remote,
		logger: logger,
	}
}

// RemoteConfigured reports whether an offsite target exists.
func (s *Impl) RemoteConfigured() bool {
	return s.remote != nil
}

// RemoteKey builds the offsite key for an artifact: namespaced by domain
// and creation date.
func RemoteKey(artifact models.BackupArtifact) string {
	return path.Join(
		string(artifact.Domain),
		artifact.CreatedAt.UTC().Format("2006/01/02"),
		filepath.Base(artifact.Path),
	)
}

// Upload copies the artifact and its sidecar to offsite storage.
func (s *Impl) Upload(ctx context.Context, artifact models.BackupArtifact, metadataPath string) (string, error) {
	if s.remote == nil {
		return "", fmt.Errorf("no offsite target configured")
	}

	key := RemoteKey(artifact)

	if err := s.putFile(ctx, key, artifact.Path); err != nil {
		return "", fmt.Errorf("failed to upload artifact: %w", err)
	}
	if err := s.putFile(ctx, key+models.MetadataSuffix, metadataPath); err != nil {
		return "", fmt.Errorf("failed to upload metadata: %w", err)
	}

	s.logger.Info().
		Str("key", key).
		Str("artifact", artifact.Path).
		Msg("artifact uploaded to offsite storage")

	return key, nil
}

func (s *Impl) putFile(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath) //nolint:gosec // localPath is controlled by caller
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return s.remote.Put(ctx, key, f)
}

// Download fetches a remote object into destDir.
func (s *Impl) Download(ctx context.Context, key, destDir string) (string, error) {
	if s.remote == nil {
		return "", fmt.Errorf("no offsite target configured")
	}

	body, err := s.remote.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", key, err)
	}
	defer func() { _ = body.Close() }()

	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create working directory: %w", err)
	}

	localPath := filepath.Join(destDir, path.Base(key))
	out, err := os.Create(localPath) //nolint:gosec // destDir is a private working area
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", localPath, err)
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, body); err != nil {
		return "", fmt.Errorf("failed to download %s: %w", key, err)
	}

	s.logger.Info().
		Str("key", key).
		Str("local", localPath).
		Msg("artifact downloaded from offsite storage")

	return localPath, nil
}

// ListLocal returns the domain's local artifacts, oldest first. Sidecar
// files and files without an embedded timestamp are excluded.
func (s *Impl) ListLocal(domain models.Domain) ([]models.BackupArtifact, error) {
	dir := filepath.Join(s.root, string(domain))
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var artifacts []models.BackupArtifact
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), models.MetadataSuffix) {
			continue
		}
		ts, ok := models.TimestampFromName(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		artifacts = append(artifacts, models.BackupArtifact{
			Domain:     domain,
			Path:       filepath.Join(dir, entry.Name()),
			CreatedAt:  ts,
			SizeBytes:  info.Size(),
			Compressed: strings.Contains(entry.Name(), ".tar.gz"),
			Encrypted:  strings.HasSuffix(entry.Name(), models.EncryptedSuffix),
		})
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].CreatedAt.Before(artifacts[j].CreatedAt)
	})

	return artifacts, nil
}

// ListRemote returns the domain's remote artifacts, oldest first. Sidecar
// objects are excluded.
func (s *Impl) ListRemote(ctx context.Context, domain models.Domain) ([]models.RemoteObject, error) {
	if s.remote == nil {
		return nil, nil
	}

	objects, err := s.remote.List(ctx, string(domain)+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to list offsite artifacts: %w", err)
	}

	var artifacts []models.RemoteObject
	for _, obj := range objects {
		if strings.HasSuffix(obj.Key, models.MetadataSuffix) {
			continue
		}
		artifacts = append(artifacts, obj)
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].CreatedAt.Before(artifacts[j].CreatedAt)
	})

	return artifacts, nil
}

// PruneLocal deletes local artifacts older than maxAgeDays across all
// domains. Artifacts created at or after activeSince are always kept, so
// a prune running alongside a backup can never delete the active run's
// output. Running it twice in succession is a no-op the second time.
func (s *Impl) PruneLocal(maxAgeDays int, activeSince time.Time) (*models.PruneResult, error) {
	start := time.Now()
	cutoff := start.UTC().AddDate(0, 0, -maxAgeDays)
	result := &models.PruneResult{}

	for _, domain := range models.AllDomains() {
		dir := filepath.Join(s.root, string(domain))
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", dir, err)
		}

		for _, entry := range entries {
			if entry.IsDir() || strings.HasSuffix(entry.Name(), models.MetadataSuffix) {
				continue
			}
			ts, ok := models.TimestampFromName(entry.Name())
			if !ok {
				// Never delete what we cannot date.
				result.Kept++
				continue
			}
			if !ts.Before(cutoff) || !ts.Before(activeSince) {
				result.Kept++
				continue
			}

			artifactPath := filepath.Join(dir, entry.Name())
			if err := os.Remove(artifactPath); err != nil {
				return nil, fmt.Errorf("failed to delete %s: %w", artifactPath, err)
			}
			result.Deleted = append(result.Deleted, artifactPath)

			metaPath := artifactPath + models.MetadataSuffix
			if err := os.Remove(metaPath); err == nil {
				result.Deleted = append(result.Deleted, metaPath)
			}
		}

		// Orphaned sidecars past the window go too.
		entries, err = os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !strings.HasSuffix(entry.Name(), models.MetadataSuffix) {
				continue
			}
			artifactName := strings.TrimSuffix(entry.Name(), models.MetadataSuffix)
			if _, err := os.Stat(filepath.Join(dir, artifactName)); err == nil {
				continue
			}
			ts, ok := models.TimestampFromName(entry.Name())
			if !ok || !ts.Before(cutoff) || !ts.Before(activeSince) {
				continue
			}
			metaPath := filepath.Join(dir, entry.Name())
			if err := os.Remove(metaPath); err == nil {
				result.Deleted = append(result.Deleted, metaPath)
			}
		}
	}

	result.Duration = time.Since(start)

	s.logger.Info().
		Int("deleted", len(result.Deleted)).
		Int("kept", result.Kept).
		Int("max_age_days", maxAgeDays).
		Msg("local retention prune completed")

	return result, nil
}

// PruneRemote deletes remote objects whose embedded dates are past the
// retention window.
func (s *Impl) PruneRemote(ctx context.Context, maxAgeDays int) (*models.PruneResult, error) {
	start := time.Now()
	result := &models.PruneResult{}

	if s.remote == nil {
		result.Skipped = true
		s.logger.Info().Msg("no offsite target configured, skipping remote prune")
		return result, nil
	}

	cutoff := start.UTC().AddDate(0, 0, -maxAgeDays)

	objects, err := s.remote.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list offsite objects: %w", err)
	}

	for _, obj := range objects {
		ts, ok := models.TimestampFromName(path.Base(obj.Key))
		if !ok || !ts.Before(cutoff) {
			result.Kept++
			continue
		}
		if err := s.remote.Delete(ctx, obj.Key); err != nil {
			return nil, fmt.Errorf("failed to delete %s: %w", obj.Key, err)
		}
		result.Deleted = append(result.Deleted, obj.Key)
	}

	result.Duration = time.Since(start)

	s.logger.Info().
		Int("deleted", len(result.Deleted)).
		Int("kept", result.Kept).
		Int("max_age_days", maxAgeDays).
		Msg("remote retention prune completed")

	return result, nil
}
