package models

import "time"

// DumpResult holds the result of a pg_dump operation.
type DumpResult struct {
	OutputPath string
	SizeBytes  int64
	Duration   time.Duration
	Error      error
}

// DBRestoreResult holds the result of the database apply sequence
// (terminate connections, drop, recreate, apply dump, analyze).
type DBRestoreResult struct {
	Dropped     bool
	Recreated   bool
	Applied     bool
	Analyzed    bool
	Duration    time.Duration
	Error       error
	// Destructive is true when the apply failed after the database had
	// already been dropped, leaving manual recovery as the only option.
	Destructive bool
}

// ArchiveResult holds the result of building a directory archive.
type ArchiveResult struct {
	OutputPath  string
	SizeBytes   int64
	FileCount   int
	SkippedDirs []string
	Duration    time.Duration
	Error       error
}

// PruneResult holds the result of a retention prune pass.
type PruneResult struct {
	Deleted  []string
	Kept     int
	Skipped  bool // true when no remote target is configured
	Duration time.Duration
}

// LocateResult resolves a restore request to a concrete artifact.
type LocateResult struct {
	ArtifactPath string
	MetadataPath string
	// Remote is true when the artifact was downloaded from offsite
	// storage into a temporary working area.
	Remote    bool
	RemoteKey string
}

// HealthResult holds the outcome of bounded health polling.
type HealthResult struct {
	Healthy  bool
	Attempts int
	Duration time.Duration
	Error    error
}

// NotifyResult holds the result of a notification delivery attempt.
type NotifyResult struct {
	Delivered bool
	Error     error
}

// DomainReport is the per-domain slice of a notification payload.
type DomainReport struct {
	Domain    Domain      `json:"domain"`
	State     DomainState `json:"state"`
	SizeHuman string      `json:"size,omitempty"`
	Checksum  string      `json:"checksum,omitempty"`
	RemoteKey string      `json:"remote_key,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// BackupReport is the notification payload for one backup run.
type BackupReport struct {
	Status    RunStatus      `json:"status"`
	Host      string         `json:"host"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Domains   []DomainReport `json:"domains"`
	Summary   string         `json:"summary"`
}

// RemoteObject describes one object in offsite storage.
type RemoteObject struct {
	Key       string
	SizeBytes int64
	CreatedAt time.Time // parsed from the embedded filename timestamp
}
