package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampFromName(t *testing.T) {
	ts, ok := TimestampFromName("riskhorizon-20260826-021500.dump.enc")
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 8, 26, 2, 15, 0, 0, time.UTC), ts)

	_, ok = TimestampFromName("operations.log")
	assert.False(t, ok)
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "512 B", HumanSize(512))
	assert.Equal(t, "1.0 KiB", HumanSize(1024))
	assert.Equal(t, "1.5 MiB", HumanSize(1536*1024))
}

func TestBackupRunStatus(t *testing.T) {
	run := &BackupRun{
		Results: []DomainResult{
			{Domain: DomainDatabase, State: StateDone},
			{Domain: DomainFiles, State: StateDone},
			{Domain: DomainMonitoring, State: StateDone},
		},
	}
	assert.Equal(t, StatusSuccess, run.Status())

	run.Results[0].State = StateFailed
	assert.Equal(t, StatusPartialFailure, run.Status())

	// Skipped domains do not count against the run.
	run.Results[0].State = StatePending
	run.Results[0].Skipped = true
	assert.Equal(t, StatusSuccess, run.Status())
}

func TestKindOf(t *testing.T) {
	err := NewStepError("verify", IntegrityFailure, assert.AnError)
	assert.Equal(t, IntegrityFailure, KindOf(err))
	assert.Equal(t, TransientIOFailure, KindOf(assert.AnError))
}

func TestParseDomain(t *testing.T) {
	domain, err := ParseDomain("files")
	require.NoError(t, err)
	assert.Equal(t, DomainFiles, domain)

	_, err = ParseDomain("everything")
	assert.Error(t, err)
}
