package models

import "time"

// DomainState tracks a domain's progress through the backup pipeline.
// Each domain advances independently; a failure at any stage moves it to
// StateFailed without touching the other domains.
type DomainState string

// Backup pipeline states.
const (
	StatePending   DomainState = "pending"
	StateArchived  DomainState = "archived"
	StateEncrypted DomainState = "encrypted"
	StateSealed    DomainState = "sealed"
	StateSynced    DomainState = "synced"
	StateDone      DomainState = "done"
	StateFailed    DomainState = "failed"
)

// RunStatus is the overall outcome of one backup run.
type RunStatus string

// Run statuses.
const (
	StatusSuccess        RunStatus = "SUCCESS"
	StatusPartialFailure RunStatus = "PARTIAL_FAILURE"
)

// DomainResult records the outcome of one domain within a backup run.
type DomainResult struct {
	Domain   Domain
	State    DomainState
	Artifact *BackupArtifact
	Metadata *ArtifactMetadata
	// RemoteKey is set after a successful offsite upload.
	RemoteKey string
	// Skipped marks domains excluded by a --*-only flag.
	Skipped bool
	Error   error
}

// BackupRun is the ephemeral aggregate for one orchestration pass.
type BackupRun struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []DomainResult
}

// Status is SUCCESS only when every attempted domain reached StateDone.
func (r *BackupRun) Status() RunStatus {
	for _, res := range r.Results {
		if res.Skipped {
			continue
		}
		if res.State != StateDone {
			return StatusPartialFailure
		}
	}
	return StatusSuccess
}

// RestoreRequest selects the artifact a restore should apply.
type RestoreRequest struct {
	Domain Domain
	// Selector is "latest" or a date pattern matched against artifact
	// filenames. Ignored when ArtifactPath is set.
	Selector string
	// ArtifactPath is an explicit local artifact, bypassing the search.
	ArtifactPath string
}

// SelectorLatest picks the most recent artifact for the domain.
const SelectorLatest = "latest"

// RestoreState tracks a restore's progress. RolledBack is a terminal
// state reachable from any point after ServicesStopped.
type RestoreState string

// Restore pipeline states.
const (
	RestorePending           RestoreState = "pending"
	RestoreLocated           RestoreState = "located"
	RestoreDownloaded        RestoreState = "downloaded"
	RestoreIntegrityVerified RestoreState = "integrity_verified"
	RestoreDecrypted         RestoreState = "decrypted"
	RestoreDecompressed      RestoreState = "decompressed"
	RestoreServicesStopped   RestoreState = "services_stopped"
	RestoreApplied           RestoreState = "applied"
	RestoreServicesRestarted RestoreState = "services_restarted"
	RestoreHealthChecked     RestoreState = "health_checked"
	RestoreComplete          RestoreState = "complete"
	RestoreRolledBack        RestoreState = "rolled_back"
)

// RestoreRun is the ephemeral aggregate tracking one restore.
type RestoreRun struct {
	Domain             Domain
	State              RestoreState
	ArtifactPath       string
	PreRestoreSnapshot string
	ServiceStopped     bool
	Applied            bool
	HealthCheckPassed  bool
	StartedAt          time.Time
	FinishedAt         time.Time
}
