// Package models contains the data structures used throughout backupctl.
package models

import "time"

// Config holds the complete configuration for backup and restore runs.
// It is built once by the config parser and threaded through every
// component at construction time.
type Config struct {
	Backup     BackupSettings
	Retention  RetentionPolicy
	Postgres   PostgresConfig
	Service    ServiceConfig
	Encryption *EncryptionConfig // nil if not configured
	S3         *S3Config         // nil if not configured
	Notify     *NotifyConfig     // nil if not configured
}

// BackupSettings holds the local backup layout and the directory sets
// covered by the files and monitoring domains.
type BackupSettings struct {
	Root           string   // local backup root, partitioned by domain subdirectory
	RestoreRoot    string   // filesystem root archives are extracted under ("/" in production)
	Host           string   // reported in notifications
	FileDirs       []string // uploads, logs, configuration, TLS material
	MonitoringDirs []string // metrics and dashboard storage
}

// DomainDirs returns the directory set archived for a directory-backed
// domain. The database domain has no directory set.
func (s BackupSettings) DomainDirs(domain Domain) []string {
	switch domain {
	case DomainFiles:
		return s.FileDirs
	case DomainMonitoring:
		return s.MonitoringDirs
	default:
		return nil
	}
}

// RetentionPolicy defines the maximum age an artifact may reach before
// automatic deletion. Applied uniformly to local and offsite artifacts
// of all domains.
type RetentionPolicy struct {
	MaxAgeDays int
}

// PostgresConfig holds database connection settings. The superuser
// credential pair is used only for connection termination and
// drop/recreate during restore.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Format   string // "custom" (default) or "plain"

	SuperUsername string
	SuperPassword string
}

// ServiceConfig describes the dependent application service that must be
// stopped around a restore, and its health endpoint.
type ServiceConfig struct {
	Name           string
	Control        string // "systemctl" (default) or "docker"
	HealthURL      string
	HealthAttempts int
	HealthInterval time.Duration
}

// EncryptionConfig enables client-side artifact encryption.
type EncryptionConfig struct {
	Passphrase string
}

// S3Config holds the offsite object-storage target. Endpoint and static
// credentials are optional; when unset the default AWS chain applies.
type S3Config struct {
	Bucket          string
	Region          string
	Prefix          string
	Endpoint        string // for S3-compatible targets (MinIO etc.)
	AccessKeyID     string
	SecretAccessKey string
}

// NotifyConfig holds the notification webhook target.
type NotifyConfig struct {
	WebhookURL string
}
