package models

import (
	"fmt"
	"regexp"
	"time"
)

// Domain is one of the three backed-up data categories.
type Domain string

// Backup domains.
const (
	DomainDatabase   Domain = "database"
	DomainFiles      Domain = "files"
	DomainMonitoring Domain = "monitoring"
)

// AllDomains returns the domains in backup order.
func AllDomains() []Domain {
	return []Domain{DomainDatabase, DomainFiles, DomainMonitoring}
}

// ParseDomain converts a string into a Domain.
func ParseDomain(s string) (Domain, error) {
	switch Domain(s) {
	case DomainDatabase, DomainFiles, DomainMonitoring:
		return Domain(s), nil
	}
	return "", fmt.Errorf("unknown domain: %q", s)
}

// Artifact naming conventions. Filenames embed a UTC timestamp so the
// creation time survives uploads and downloads.
const (
	TimestampLayout = "20060102-150405"
	MetadataSuffix  = ".meta.json"
	EncryptedSuffix = ".enc"
)

var timestampRe = regexp.MustCompile(`(\d{8}-\d{6})`)

// TimestampFromName extracts the embedded creation time from an artifact
// filename. Returns false if the name carries no timestamp.
func TimestampFromName(name string) (time.Time, bool) {
	m := timestampRe.FindString(name)
	if m == "" {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(TimestampLayout, m, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// BackupArtifact is the single file produced for a domain during one
// backup run. Immutable once sealed.
type BackupArtifact struct {
	Domain     Domain
	Path       string
	CreatedAt  time.Time
	SizeBytes  int64
	Compressed bool
	Encrypted  bool
}

// ArtifactMetadata is the sidecar record written once per artifact by the
// integrity sealer. Checksum always describes the artifact bytes as
// stored, after any compression and encryption.
type ArtifactMetadata struct {
	Domain    Domain    `json:"domain"`
	CreatedAt time.Time `json:"created_at"`
	Source    string    `json:"source"`
	Checksum  string    `json:"checksum"`
	SizeBytes int64     `json:"size_bytes"`
	SizeHuman string    `json:"size_human"`
}

// HumanSize formats a byte count into a human-readable size.
func HumanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
