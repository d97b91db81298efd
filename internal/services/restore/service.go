// Package restore orchestrates the restore pipeline: locate, verify,
// decrypt, stop services, apply, restart, health-check, and roll back on
// failure where that is safe.
package restore

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/riskhorizon/backupctl/internal/models"
	"github.com/riskhorizon/backupctl/internal/services/archive"
	"github.com/riskhorizon/backupctl/internal/services/crypt"
	"github.com/riskhorizon/backupctl/internal/services/locate"
	"github.com/riskhorizon/backupctl/internal/services/postgres"
	"github.com/riskhorizon/backupctl/internal/services/seal"
	"github.com/riskhorizon/backupctl/internal/services/store"
	"github.com/riskhorizon/backupctl/internal/services/svcctl"
	"github.com/rs/zerolog"
)

// Options controls restore behavior.
type Options struct {
	// AutoConfirm skips the operator prompt. Required for scripted restores.
	AutoConfirm bool
}

// Service defines the interface for the restore orchestrator.
type Service interface {
	Restore(ctx context.Context, cfg models.Config, req models.RestoreRequest, opts Options) (*models.RestoreRun, error)
}

// Confirmer asks the operator to approve a destructive step.
type Confirmer interface {
	Confirm(prompt string) (bool, error)
}

// StdinConfirmer reads the confirmation from an input stream.
type StdinConfirmer struct {
	In  io.Reader
	Out io.Writer
}

// Confirm prompts and accepts "y"/"yes" (case-insensitive).
func (c *StdinConfirmer) Confirm(prompt string) (bool, error) {
	fmt.Fprintf(c.Out, "%s [y/N]: ", prompt)

	scanner := bufio.NewScanner(c.In)
	if !scanner.Scan() {
		return false, scanner.Err()
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes", nil
}

// Impl implements the restore Service interface.
type Impl struct {
	locateSvc   locate.Service
	sealSvc     seal.Service
	cryptSvc    crypt.Service
	archiveSvc  archive.Service
	postgresSvc postgres.Service
	svcctlSvc   svcctl.Service
	confirmer   Confirmer
	logger      zerolog.Logger
	workRoot    string
}

// New creates a new restore orchestrator. remote may be nil when no
// offsite target is configured.
func New(logger zerolog.Logger, cfg models.Config, remote store.ObjectStore) *Impl {
	storeSvc := store.New(logger, cfg.Backup.Root, remote)
	return &Impl{
		locateSvc:   locate.New(logger, storeSvc, ""),
		sealSvc:     seal.New(logger),
		cryptSvc:    crypt.New(logger),
		archiveSvc:  archive.New(logger),
		postgresSvc: postgres.New(logger),
		svcctlSvc:   svcctl.New(logger),
		confirmer:   &StdinConfirmer{In: os.Stdin, Out: os.Stderr},
		logger:      logger,
	}
}

// NewWithServices creates a new restore orchestrator with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	locateSvc locate.Service,
	sealSvc seal.Service,
	cryptSvc crypt.Service,
	archiveSvc archive.Service,
	postgresSvc postgres.Service,
	svcctlSvc svcctl.Service,
	confirmer Confirmer,
	workRoot string,
) *Impl {
	return &Impl{
		locateSvc:   locateSvc,
		sealSvc:     sealSvc,
		cryptSvc:    cryptSvc,
		archiveSvc:  archiveSvc,
		postgresSvc: postgresSvc,
		svcctlSvc:   svcctlSvc,
		confirmer:   confirmer,
		logger:      logger,
		workRoot:    workRoot,
	}
}

// Restore runs the restore pipeline for one domain.
//
//nolint:gocognit,gocyclo // the restore pipeline has many sequential steps by design
func (s *Impl) Restore(ctx context.Context, cfg models.Config, req models.RestoreRequest, opts Options) (*models.RestoreRun, error) {
	run := &models.RestoreRun{
		Domain:    req.Domain,
		State:     models.RestorePending,
		StartedAt: time.Now(),
	}

	// Missing credentials fail before anything is located or stopped.
	if req.Domain == models.DomainDatabase &&
		cfg.Postgres.SuperPassword == "" && cfg.Postgres.Password == "" {
		return run, models.NewStepError("restore", models.MissingCredential,
			fmt.Errorf("no database password configured"))
	}

	lock, err := acquireLock(cfg.Backup.Root, req.Domain)
	if err != nil {
		return run, models.NewStepError("restore", models.TransientIOFailure, err)
	}
	defer lock.Release()

	s.logger.Info().
		Str("domain", string(req.Domain)).
		Str("selector", req.Selector).
		Msg("starting restore")

	// Locate (and download if remote).
	located, err := s.locateSvc.Locate(ctx, req)
	if err != nil {
		return run, err
	}
	run.State = models.RestoreLocated
	if located.Remote {
		run.State = models.RestoreDownloaded
	}

	// Verify integrity against the artifact as stored, before any service
	// is touched. The sidecar checksum covers the bytes in their recorded
	// encryption state.
	meta, err := s.sealSvc.Load(located.MetadataPath)
	if err != nil {
		return run, models.NewStepError("verify", models.NotFound,
			fmt.Errorf("missing sidecar metadata: %w", err))
	}
	if err := s.sealSvc.Verify(located.ArtifactPath, meta); err != nil {
		return run, err
	}
	run.State = models.RestoreIntegrityVerified

	workDir, err := os.MkdirTemp(s.workRoot, fmt.Sprintf("restore-%s-", req.Domain))
	if err != nil {
		return run, models.NewStepError("restore", models.TransientIOFailure, err)
	}

	// Decrypt a working copy; the stored artifact is never consumed.
	applyPath := located.ArtifactPath
	if strings.HasSuffix(applyPath, models.EncryptedSuffix) {
		passphrase := ""
		if cfg.Encryption != nil {
			passphrase = cfg.Encryption.Passphrase
		}
		workCopy := filepath.Join(workDir, filepath.Base(applyPath))
		if err := copyFile(applyPath, workCopy); err != nil {
			return run, models.NewStepError("decrypt", models.TransientIOFailure, err)
		}
		applyPath, err = s.cryptSvc.Decrypt(workCopy, passphrase)
		if err != nil {
			return run, err
		}
		run.State = models.RestoreDecrypted
	}
	run.ArtifactPath = applyPath

	// Last exit before state is mutated.
	if !opts.AutoConfirm {
		prompt := fmt.Sprintf("Restore %s from %s? This stops %s and overwrites current data",
			req.Domain, filepath.Base(applyPath), cfg.Service.Name)
		if req.Domain == models.DomainDatabase {
			prompt = fmt.Sprintf("Restore database %s from %s? This stops %s, DROPS the database, and recreates it from the dump",
				cfg.Postgres.Database, filepath.Base(applyPath), cfg.Service.Name)
		}
		ok, err := s.confirmer.Confirm(prompt)
		if err != nil {
			return run, fmt.Errorf("confirmation failed: %w", err)
		}
		if !ok {
			s.logger.Warn().Msg("restore not confirmed, aborting before any state change")
			return run, fmt.Errorf("restore aborted by operator")
		}
	}

	// From here the operation must run to a defined end state even if the
	// caller is interrupted.
	ctx = context.WithoutCancel(ctx)

	if err := s.svcctlSvc.Stop(ctx, cfg.Service); err != nil {
		return run, models.NewStepError("stop-service", models.TransientIOFailure, err)
	}
	run.State = models.RestoreServicesStopped
	run.ServiceStopped = true

	var applyErr error
	if req.Domain == models.DomainDatabase {
		applyErr = s.applyDatabase(ctx, cfg, applyPath)
	} else {
		applyErr = s.applyDirectories(ctx, cfg, run, applyPath, workDir)
	}
	if applyErr != nil {
		run.FinishedAt = time.Now()
		return run, applyErr
	}
	run.Applied = true
	run.State = models.RestoreApplied

	if err := s.svcctlSvc.Start(ctx, cfg.Service); err != nil {
		return run, models.NewStepError("start-service", models.TransientIOFailure, err)
	}
	run.State = models.RestoreServicesRestarted

	health, err := s.svcctlSvc.WaitHealthy(ctx, cfg.Service)
	if err != nil {
		return run, models.NewStepError("health-check", models.TransientIOFailure, err)
	}
	if !health.Healthy {
		// Reported, but never an automatic rollback: undoing an applied
		// restore is an operator decision.
		run.FinishedAt = time.Now()
		s.logger.Error().
			Err(health.Error).
			Int("attempts", health.Attempts).
			Msg("service did not become healthy after restore; manual decision required")
		return run, models.NewStepError("health-check", models.TransientIOFailure, health.Error)
	}
	run.HealthCheckPassed = true
	run.State = models.RestoreHealthChecked

	run.State = models.RestoreComplete
	run.FinishedAt = time.Now()

	s.logger.Info().
		Str("domain", string(req.Domain)).
		Dur("duration", run.FinishedAt.Sub(run.StartedAt)).
		Msg("restore completed")

	return run, nil
}

// applyDatabase runs the drop/recreate/apply sequence. An apply failure
// after the drop is fatal and requires manual recovery; the service is
// left stopped because the database is gone.
func (s *Impl) applyDatabase(ctx context.Context, cfg models.Config, dumpPath string) error {
	result, err := s.postgresSvc.Restore(ctx, cfg.Postgres, dumpPath)
	if err != nil {
		s.restartAfterFailure(ctx, cfg)
		return err
	}
	if result.Error != nil {
		if result.Destructive {
			s.logger.Error().
				Err(result.Error).
				Str("database", cfg.Postgres.Database).
				Bool("destructive", true).
				Msg("DATABASE APPLY FAILED AFTER DROP: manual recovery required, service left stopped")
			return models.NewStepError("db-apply", models.DestructiveStepFailure, result.Error)
		}
		// The database was not touched yet; bring the service back.
		s.restartAfterFailure(ctx, cfg)
		return models.NewStepError("db-apply", models.TransientIOFailure, result.Error)
	}
	return nil
}

// applyDirectories snapshots the current on-disk state, extracts the
// archive, and rolls back from the snapshot automatically if extraction
// fails partway. This is the one domain with automatic rollback.
func (s *Impl) applyDirectories(ctx context.Context, cfg models.Config, run *models.RestoreRun, archivePath, workDir string) error {
	dirs := cfg.Backup.DomainDirs(run.Domain)

	snapshotPath := filepath.Join(workDir, "pre-restore-snapshot.tar.gz")
	snapshot, err := s.archiveSvc.Build(ctx, dirs, snapshotPath)
	if err != nil {
		s.restartAfterFailure(ctx, cfg)
		return models.NewStepError("snapshot", models.TransientIOFailure, err)
	}
	if snapshot.Error != nil {
		s.restartAfterFailure(ctx, cfg)
		return models.NewStepError("snapshot", models.TransientIOFailure, snapshot.Error)
	}
	run.PreRestoreSnapshot = snapshotPath

	run.State = models.RestoreDecompressed
	if err := s.archiveSvc.Extract(ctx, archivePath, cfg.Backup.RestoreRoot); err != nil {
		s.logger.Error().
			Err(err).
			Str("snapshot", snapshotPath).
			Msg("extraction failed partway, reinstating pre-restore snapshot")

		if rbErr := s.archiveSvc.Extract(ctx, snapshotPath, cfg.Backup.RestoreRoot); rbErr != nil {
			s.logger.Error().
				Err(rbErr).
				Str("snapshot", snapshotPath).
				Msg("snapshot rollback failed; snapshot retained for manual recovery")
			return models.NewStepError("rollback", models.DestructiveStepFailure,
				fmt.Errorf("extraction failed (%v) and rollback failed: %w", err, rbErr))
		}

		run.State = models.RestoreRolledBack
		s.restartAfterFailure(ctx, cfg)
		return models.NewStepError("apply", models.TransientIOFailure,
			fmt.Errorf("extraction failed, pre-restore snapshot reinstated: %w", err))
	}

	return nil
}

// restartAfterFailure makes a best-effort attempt to bring the service
// back when the failure left its data intact.
func (s *Impl) restartAfterFailure(ctx context.Context, cfg models.Config) {
	if err := s.svcctlSvc.Start(ctx, cfg.Service); err != nil {
		s.logger.Error().Err(err).Msg("failed to restart service after restore failure")
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // src is the located artifact
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst) //nolint:gosec // dst is inside the private working directory
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	_, err = io.Copy(out, in)
	return err
}
