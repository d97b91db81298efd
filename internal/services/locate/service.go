// Package locate resolves restore selectors to concrete artifacts.
package locate

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/riskhorizon/backupctl/internal/models"
	"github.com/riskhorizon/backupctl/internal/services/store"
	"github.com/rs/zerolog"
)

// Service defines the interface for backup location.
type Service interface {
	// Locate resolves a restore request to an artifact, searching local
	// storage first and falling back to offsite storage. Remote hits are
	// downloaded (artifact plus sidecar) into a temporary working area.
	Locate(ctx context.Context, req models.RestoreRequest) (*models.LocateResult, error)
}

// Impl implements the locate Service interface.
type Impl struct {
	store    store.Service
	logger   zerolog.Logger
	workRoot string
}

// New creates a new locate service. workRoot is where remote artifacts
// are downloaded; empty means the system temp directory.
func New(logger zerolog.Logger, storeSvc store.Service, workRoot string) *Impl {
	if workRoot == "" {
		workRoot = os.TempDir()
	}
	return &Impl{
		store:    storeSvc,
		logger:   logger,
		workRoot: workRoot,
	}
}

// Locate resolves the request. Explicit artifact paths bypass the search.
func (s *Impl) Locate(ctx context.Context, req models.RestoreRequest) (*models.LocateResult, error) {
	if req.ArtifactPath != "" {
		if _, err := os.Stat(req.ArtifactPath); err != nil {
			return nil, models.NewStepError("locate", models.NotFound,
				fmt.Errorf("artifact %s: %w", req.ArtifactPath, err))
		}
		return &models.LocateResult{
			ArtifactPath: req.ArtifactPath,
			MetadataPath: req.ArtifactPath + models.MetadataSuffix,
		}, nil
	}

	selector := req.Selector
	if selector == "" {
		selector = models.SelectorLatest
	}

	// Local first.
	local, err := s.store.ListLocal(req.Domain)
	if err != nil {
		return nil, err
	}
	if artifact := pickLocal(local, selector); artifact != nil {
		s.logger.Info().
			Str("domain", string(req.Domain)).
			Str("selector", selector).
			Str("artifact", artifact.Path).
			Msg("artifact located in local storage")
		return &models.LocateResult{
			ArtifactPath: artifact.Path,
			MetadataPath: artifact.Path + models.MetadataSuffix,
		}, nil
	}

	// Fall back to offsite storage.
	if !s.store.RemoteConfigured() {
		return nil, models.NewStepError("locate", models.NotFound,
			fmt.Errorf("no %s artifact matches %q and no offsite target is configured", req.Domain, selector))
	}

	remote, err := s.store.ListRemote(ctx, req.Domain)
	if err != nil {
		return nil, err
	}
	obj := pickRemote(remote, selector)
	if obj == nil {
		return nil, models.NewStepError("locate", models.NotFound,
			fmt.Errorf("no %s artifact matches %q locally or offsite", req.Domain, selector))
	}

	workDir, err := os.MkdirTemp(s.workRoot, fmt.Sprintf("restore-%s-", req.Domain))
	if err != nil {
		return nil, fmt.Errorf("failed to create working directory: %w", err)
	}

	artifactPath, err := s.store.Download(ctx, obj.Key, workDir)
	if err != nil {
		return nil, err
	}
	metadataPath, err := s.store.Download(ctx, obj.Key+models.MetadataSuffix, workDir)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("domain", string(req.Domain)).
		Str("selector", selector).
		Str("key", obj.Key).
		Msg("artifact located in offsite storage")

	return &models.LocateResult{
		ArtifactPath: artifactPath,
		MetadataPath: metadataPath,
		Remote:       true,
		RemoteKey:    obj.Key,
	}, nil
}

// pickLocal returns the newest local artifact matching the selector.
// Lists are sorted oldest first.
func pickLocal(artifacts []models.BackupArtifact, selector string) *models.BackupArtifact {
	for i := len(artifacts) - 1; i >= 0; i-- {
		if selector == models.SelectorLatest || strings.Contains(path.Base(artifacts[i].Path), selector) {
			return &artifacts[i]
		}
	}
	return nil
}

// pickRemote returns the newest remote object matching the selector.
func pickRemote(objects []models.RemoteObject, selector string) *models.RemoteObject {
	for i := len(objects) - 1; i >= 0; i-- {
		if selector == models.SelectorLatest || strings.Contains(path.Base(objects[i].Key), selector) {
			return &objects[i]
		}
	}
	return nil
}
