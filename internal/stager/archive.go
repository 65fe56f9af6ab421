package stager

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"botcloud/internal/models"

	"github.com/bodgit/sevenzip"
)

var (
	zipMagic      = []byte("PK\x03\x04")
	sevenZipMagic = []byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C}
)

// archiveEntry is the common view over zip and 7z members.
type archiveEntry struct {
	name string
	info fs.FileInfo
	open func() (io.ReadCloser, error)
}

// stageArchive wipes dir and extracts the archive into it. Nothing of the
// previous artifact survives a started extraction; a blob that is not a
// readable zip or 7z is rejected before dir is touched.
func (s *Stager) stageArchive(ctx context.Context, identity, dir string, src models.DeploymentSource) error {
	format, entries, err := openArchive(src.Archive, src.SizeBytes)
	if err != nil {
		return err
	}

	s.publish(identity, models.SeveritySystem, "Initializing %s extraction for package: %s", format, src.Name)

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to clear %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	if err := extractEntries(ctx, entries, dir); err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	s.publish(identity, models.SeveritySuccess, "%s extraction complete. Proceeding to startup...", format)
	return nil
}

// openArchive detects the format by magic bytes.
func openArchive(r io.ReaderAt, size int64) (string, []archiveEntry, error) {
	head := make([]byte, len(sevenZipMagic))
	n, _ := r.ReadAt(head, 0)
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, zipMagic):
		zr, err := zip.NewReader(r, size)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
		}
		entries := make([]archiveEntry, 0, len(zr.File))
		for _, f := range zr.File {
			entries = append(entries, archiveEntry{name: f.Name, info: f.FileInfo(), open: f.Open})
		}
		return "ZIP", entries, nil

	case bytes.HasPrefix(head, sevenZipMagic):
		zr, err := sevenzip.NewReader(r, size)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
		}
		entries := make([]archiveEntry, 0, len(zr.File))
		for _, f := range zr.File {
			entries = append(entries, archiveEntry{name: f.Name, info: f.FileInfo(), open: f.Open})
		}
		return "7Z", entries, nil
	}
	return "", nil, fmt.Errorf("%w: unsupported archive format", ErrExtractionFailed)
}

func extractEntries(ctx context.Context, entries []archiveEntry, dest string) error {
	root := filepath.Clean(dest)
	base := root + string(os.PathSeparator)

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		path := filepath.Join(dest, e.name)
		if path == root {
			continue
		}
		if !strings.HasPrefix(path, base) {
			return fmt.Errorf("illegal file path: %s", e.name)
		}

		mode := e.info.Mode()
		if mode&fs.ModeSymlink != 0 {
			continue
		}
		if e.info.IsDir() {
			if err := os.MkdirAll(path, 0755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		if err := writeEntry(e, path, mode.Perm()|0600); err != nil {
			return fmt.Errorf("%s: %w", e.name, err)
		}
	}
	return nil
}

func writeEntry(e archiveEntry, path string, perm fs.FileMode) error {
	rc, err := e.open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
