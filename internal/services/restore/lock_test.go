package restore

import (
	"testing"

	"github.com/riskhorizon/backupctl/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireLock_SecondAcquireFails(t *testing.T) {
	root := t.TempDir()

	lock, err := acquireLock(root, models.DomainDatabase)
	require.NoError(t, err)

	_, err = acquireLock(root, models.DomainDatabase)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	// Another domain is unaffected.
	other, err := acquireLock(root, models.DomainFiles)
	require.NoError(t, err)
	other.Release()

	lock.Release()

	// Released locks can be taken again.
	lock, err = acquireLock(root, models.DomainDatabase)
	require.NoError(t, err)
	lock.Release()
}
