package restore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/riskhorizon/backupctl/internal/models"
)

// domainLock is a per-domain mutual-exclusion marker. Concurrent restores
// of the same domain are unsafe (the database path drops and recreates),
// so the lock is taken with an exclusive create before any state changes.
type domainLock struct {
	path string
}

func acquireLock(root string, domain models.Domain) (*domainLock, error) {
	lockDir := filepath.Join(root, ".locks")
	if err := os.MkdirAll(lockDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	path := filepath.Join(lockDir, string(domain)+".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640) //nolint:gosec // lock lives under the backup root
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("another restore is already running for domain %s (lock: %s)", domain, path)
		}
		return nil, fmt.Errorf("failed to acquire restore lock: %w", err)
	}

	fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Close()

	return &domainLock{path: path}, nil
}

func (l *domainLock) Release() {
	_ = os.Remove(l.path)
}
