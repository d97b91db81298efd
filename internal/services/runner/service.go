// Package runner orchestrates the backup pipeline across all domains.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/riskhorizon/backupctl/internal/models"
	"github.com/riskhorizon/backupctl/internal/services/archive"
	"github.com/riskhorizon/backupctl/internal/services/crypt"
	"github.com/riskhorizon/backupctl/internal/services/notify"
	"github.com/riskhorizon/backupctl/internal/services/postgres"
	"github.com/riskhorizon/backupctl/internal/services/seal"
	"github.com/riskhorizon/backupctl/internal/services/store"
	"github.com/rs/zerolog"
)

// Options narrows a backup run to one domain or to retention cleanup.
type Options struct {
	Only        models.Domain // empty = all domains
	CleanupOnly bool
}

// Service defines the interface for the backup orchestrator.
type Service interface {
	Run(ctx context.Context, cfg models.Config, opts Options) (*models.BackupRun, error)
}

// Impl implements the runner Service interface.
type Impl struct {
	postgresSvc postgres.Service
	archiveSvc  archive.Service
	sealSvc     seal.Service
	cryptSvc    crypt.Service
	storeSvc    store.Service
	notifySvc   notify.Service
	logger      zerolog.Logger
}

// New creates a new backup orchestrator. remote may be nil when no
// offsite target is configured.
func New(logger zerolog.Logger, cfg models.Config, remote store.ObjectStore) *Impl {
	return &Impl{
		postgresSvc: postgres.New(logger),
		archiveSvc:  archive.New(logger),
		sealSvc:     seal.New(logger),
		cryptSvc:    crypt.New(logger),
		storeSvc:    store.New(logger, cfg.Backup.Root, remote),
		notifySvc:   notify.New(logger),
		logger:      logger,
	}
}

// NewWithServices creates a new backup orchestrator with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	postgresSvc postgres.Service,
	archiveSvc archive.Service,
	sealSvc seal.Service,
	cryptSvc crypt.Service,
	storeSvc store.Service,
	notifySvc notify.Service,
) *Impl {
	return &Impl{
		postgresSvc: postgresSvc,
		archiveSvc:  archiveSvc,
		sealSvc:     sealSvc,
		cryptSvc:    cryptSvc,
		storeSvc:    storeSvc,
		notifySvc:   notifySvc,
		logger:      logger,
	}
}

// Run executes the backup pipeline: archive, encrypt, seal, and sync each
// domain in turn, then apply retention. A domain failure is recorded and
// the run continues with the next domain.
func (s *Impl) Run(ctx context.Context, cfg models.Config, opts Options) (*models.BackupRun, error) {
	run := &models.BackupRun{StartedAt: time.Now()}

	s.logger.Info().
		Str("root", cfg.Backup.Root).
		Str("host", cfg.Backup.Host).
		Msg("starting backup run")

	defer func() {
		if cfg.Notify != nil && !opts.CleanupOnly {
			s.sendNotification(ctx, cfg, run)
		}
	}()

	if !opts.CleanupOnly {
		for _, domain := range models.AllDomains() {
			result := models.DomainResult{Domain: domain, State: models.StatePending}

			if opts.Only != "" && opts.Only != domain {
				result.Skipped = true
				run.Results = append(run.Results, result)
				continue
			}

			s.runDomain(ctx, cfg, &result)
			run.Results = append(run.Results, result)

			if result.Error != nil {
				s.logger.Error().
					Err(result.Error).
					Str("domain", string(domain)).
					Str("stage", string(result.State)).
					Msg("domain backup failed, continuing with remaining domains")
			}
		}
	}

	// Retention runs after all domains were attempted. The run start time
	// guards this run's artifacts from the prune.
	if _, err := s.storeSvc.PruneLocal(cfg.Retention.MaxAgeDays, run.StartedAt); err != nil {
		s.logger.Error().Err(err).Msg("local retention prune failed")
	}
	if _, err := s.storeSvc.PruneRemote(ctx, cfg.Retention.MaxAgeDays); err != nil {
		s.logger.Error().Err(err).Msg("remote retention prune failed")
	}

	run.FinishedAt = time.Now()
	status := run.Status()

	s.logger.Info().
		Str("status", string(status)).
		Dur("duration", run.FinishedAt.Sub(run.StartedAt)).
		Msg("backup run finished")

	if status != models.StatusSuccess && !opts.CleanupOnly {
		return run, models.NewStepError("backup", models.PartialRunFailure,
			fmt.Errorf("one or more domains failed"))
	}

	return run, nil
}

// runDomain advances one domain through the pipeline, recording the last
// state it reached and the error that stopped it.
func (s *Impl) runDomain(ctx context.Context, cfg models.Config, result *models.DomainResult) {
	createdAt := time.Now().UTC()

	// Archive.
	artifactPath, source, err := s.buildArtifact(ctx, cfg, result.Domain, createdAt)
	if err != nil {
		result.Error = err
		return
	}
	result.State = models.StateArchived

	artifact := &models.BackupArtifact{
		Domain:     result.Domain,
		Path:       artifactPath,
		CreatedAt:  createdAt,
		Compressed: result.Domain != models.DomainDatabase,
	}
	result.Artifact = artifact

	// Encrypt. Sealing happens after so the checksum covers the bytes as
	// stored.
	passphrase := ""
	if cfg.Encryption != nil {
		passphrase = cfg.Encryption.Passphrase
	}
	encPath, err := s.cryptSvc.MaybeEncrypt(artifactPath, passphrase)
	if err != nil {
		result.Error = models.NewStepError("encrypt", models.KindOf(err), err)
		return
	}
	artifact.Encrypted = encPath != artifactPath
	artifact.Path = encPath
	result.State = models.StateEncrypted

	if info, err := os.Stat(encPath); err == nil {
		artifact.SizeBytes = info.Size()
	}

	// Seal.
	meta, err := s.sealSvc.Seal(encPath, result.Domain, createdAt, source)
	if err != nil {
		result.Error = models.NewStepError("seal", models.KindOf(err), err)
		return
	}
	result.Metadata = meta
	result.State = models.StateSealed

	// Offsite sync.
	if s.storeSvc.RemoteConfigured() {
		key, err := s.storeSvc.Upload(ctx, *artifact, seal.MetadataPath(encPath))
		if err != nil {
			// The local backup stays valid; the run is still reported as
			// a partial failure so the missed replication is visible.
			result.Error = models.NewStepError("upload", models.TransientIOFailure, err)
			return
		}
		result.RemoteKey = key
		result.State = models.StateSynced
	} else {
		s.logger.Info().
			Str("domain", string(result.Domain)).
			Msg("no offsite target configured, skipping upload")
	}

	result.State = models.StateDone
}

// buildArtifact produces the domain's artifact file and returns its path
// and a human-readable source description.
func (s *Impl) buildArtifact(ctx context.Context, cfg models.Config, domain models.Domain, createdAt time.Time) (string, string, error) {
	domainDir := filepath.Join(cfg.Backup.Root, string(domain))

	if domain == models.DomainDatabase {
		outputPath := filepath.Join(domainDir, postgres.GetOutputFilename(cfg.Postgres, createdAt))
		source := fmt.Sprintf("pg_dump %s@%s:%d/%s",
			cfg.Postgres.Username, cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.Database)

		dump, err := s.postgresSvc.Dump(ctx, cfg.Postgres, outputPath)
		if err != nil {
			return "", "", models.NewStepError("archive", models.KindOf(err), err)
		}
		if dump.Error != nil {
			return "", "", models.NewStepError("archive", models.TransientIOFailure, dump.Error)
		}
		return outputPath, source, nil
	}

	dirs := cfg.Backup.DomainDirs(domain)
	outputPath := filepath.Join(domainDir,
		fmt.Sprintf("%s-%s.tar.gz", domain, createdAt.Format(models.TimestampLayout)))
	source := strings.Join(dirs, ",")

	built, err := s.archiveSvc.Build(ctx, dirs, outputPath)
	if err != nil {
		return "", "", models.NewStepError("archive", models.KindOf(err), err)
	}
	if built.Error != nil {
		return "", "", models.NewStepError("archive", models.TransientIOFailure, built.Error)
	}
	return outputPath, source, nil
}

func (s *Impl) sendNotification(ctx context.Context, cfg models.Config, run *models.BackupRun) {
	report := BuildReport(cfg.Backup.Host, run)

	result, err := s.notifySvc.SendReport(ctx, *cfg.Notify, report)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to send notification")
		return
	}
	if result.Error != nil {
		// Delivery failure never changes the run's reported status.
		s.logger.Error().Err(result.Error).Msg("failed to send notification")
	}
}

// BuildReport assembles the notification payload from a finished run.
func BuildReport(host string, run *models.BackupRun) models.BackupReport {
	report := models.BackupReport{
		Status:    run.Status(),
		Host:      host,
		StartedAt: run.StartedAt,
		Duration:  run.FinishedAt.Sub(run.StartedAt),
	}
	if report.Duration < 0 {
		report.Duration = time.Since(run.StartedAt)
	}

	for _, res := range run.Results {
		if res.Skipped {
			continue
		}
		dr := models.DomainReport{
			Domain: res.Domain,
			State:  res.State,
		}
		if res.Metadata != nil {
			dr.SizeHuman = res.Metadata.SizeHuman
			dr.Checksum = res.Metadata.Checksum
		}
		dr.RemoteKey = res.RemoteKey
		if res.Error != nil {
			dr.Error = res.Error.Error()
		}
		report.Domains = append(report.Domains, dr)
	}

	return report
}
