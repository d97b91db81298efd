// Package archive builds and extracts compressed directory archives.
package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/riskhorizon/backupctl/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for archive operations.
type Service interface {
	Build(ctx context.Context, dirs []string, outputPath string) (*models.ArchiveResult, error)
	Extract(ctx context.Context, archivePath, destRoot string) error
}

// Impl implements the archive Service interface.
type Impl struct {
	logger zerolog.Logger
}

// New creates a new archive service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{logger: logger}
}

// Build archives the given directories into one gzip-compressed tarball.
// Directories that do not exist are skipped with a warning; an empty
// directory set produces a valid empty archive. Entry names are stored
// relative to the filesystem root so extraction can reinstate them under
// any target root.
func (s *Impl) Build(ctx context.Context, dirs []string, outputPath string) (*models.ArchiveResult, error) {
	start := time.Now()
	result := &models.ArchiveResult{
		OutputPath: outputPath,
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o750); err != nil {
		result.Error = fmt.Errorf("failed to create output directory: %w", err)
		result.Duration = time.Since(start)
		return result, nil
	}

	out, err := os.Create(outputPath) //nolint:gosec // outputPath is controlled by caller
	if err != nil {
		result.Error = fmt.Errorf("failed to create archive: %w", err)
		result.Duration = time.Since(start)
		return result, nil
	}

	gw := gzip.NewWriter(out)
	tw := tar.NewWriter(gw)

	fileCount := 0
	buildErr := func() error {
		for _, dir := range dirs {
			info, statErr := os.Stat(dir)
			if os.IsNotExist(statErr) {
				s.logger.Warn().Str("dir", dir).Msg("directory does not exist, skipping")
				result.SkippedDirs = append(result.SkippedDirs, dir)
				continue
			}
			if statErr != nil {
				return fmt.Errorf("failed to stat %s: %w", dir, statErr)
			}
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", dir)
			}

			added, err := s.addDir(ctx, tw, dir)
			fileCount += added
			if err != nil {
				return err
			}
		}
		return nil
	}()

	if err := tw.Close(); err != nil && buildErr == nil {
		buildErr = fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := gw.Close(); err != nil && buildErr == nil {
		buildErr = fmt.Errorf("failed to finalize compression: %w", err)
	}
	if err := out.Close(); err != nil && buildErr == nil {
		buildErr = fmt.Errorf("failed to close archive: %w", err)
	}

	if buildErr != nil {
		_ = os.Remove(outputPath)
		result.Error = buildErr
		result.Duration = time.Since(start)
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	if info, err := os.Stat(outputPath); err == nil {
		result.SizeBytes = info.Size()
	}
	result.FileCount = fileCount
	result.Duration = time.Since(start)

	s.logger.Info().
		Str("output", outputPath).
		Int64("size_bytes", result.SizeBytes).
		Int("files", result.FileCount).
		Strs("skipped_dirs", result.SkippedDirs).
		Dur("duration", result.Duration).
		Msg("archive built")

	return result, nil
}

// addDir walks one directory tree into the tar writer and returns the
// number of regular files added.
func (s *Impl) addDir(ctx context.Context, tw *tar.Writer, dir string) (int, error) {
	added := 0
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Tar entry names are slash-separated and rooted at the
		// filesystem root.
		name := strings.TrimPrefix(filepath.ToSlash(path), "/")

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("failed to build header for %s: %w", path, err)
		}
		header.Name = name
		if info.IsDir() {
			header.Name += "/"
		}

		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to write header for %s: %w", path, err)
		}

		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path) //nolint:gosec // path comes from the configured directory walk
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer func() { _ = f.Close() }()

		if _, err := io.Copy(tw, f); err != nil {
			return fmt.Errorf("failed to archive %s: %w", path, err)
		}
		added++
		return nil
	})
	return added, err
}

// Extract unpacks an archive under destRoot, recreating the stored paths.
// Entries that would escape destRoot are rejected.
func (s *Impl) Extract(ctx context.Context, archivePath, destRoot string) error {
	f, err := os.Open(archivePath) //nolint:gosec // archivePath is controlled by caller
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to read compression header: %w", err)
	}
	defer func() { _ = gr.Close() }()

	tr := tar.NewReader(gr)
	extracted := 0

	// The escape check needs exactly one separator between the root and
	// the entry; cleaning "/" already ends in one.
	cleanRoot := filepath.Clean(destRoot)
	rootPrefix := cleanRoot
	if rootPrefix != string(os.PathSeparator) {
		rootPrefix += string(os.PathSeparator)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read archive entry: %w", err)
		}

		target := filepath.Join(destRoot, filepath.FromSlash(header.Name))
		if !strings.HasPrefix(target, rootPrefix) && target != cleanRoot {
			return fmt.Errorf("archive entry escapes destination: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(header.Mode)); err != nil { //nolint:gosec // mode from archive
				return fmt.Errorf("failed to create directory %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
				return fmt.Errorf("failed to create directory for %s: %w", target, err)
			}
			if err := s.extractFile(tr, target, os.FileMode(header.Mode)); err != nil { //nolint:gosec // mode from archive
				return err
			}
			extracted++
		default:
			s.logger.Debug().Str("entry", header.Name).Msg("skipping unsupported archive entry type")
		}
	}

	s.logger.Info().
		Str("archive", archivePath).
		Str("dest", destRoot).
		Int("files", extracted).
		Msg("archive extracted")

	return nil
}

func (s *Impl) extractFile(tr *tar.Reader, target string, mode os.FileMode) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode) //nolint:gosec // target checked against destRoot
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, tr); err != nil { //nolint:gosec // artifact size is bounded by what we archived
		return fmt.Errorf("failed to extract %s: %w", target, err)
	}
	return nil
}
