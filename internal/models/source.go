package models

import (
	"errors"
	"io"
	"regexp"
)

// SourceKind tags a DeploymentSource.
type SourceKind string

const (
	SourceVCS     SourceKind = "vcs"
	SourceArchive SourceKind = "archive"
)

var (
	ErrInvalidSource = errors.New("invalid deployment source")

	identityPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)
)

// ValidIdentity reports whether id can name a bot. Identities become
// directory names, so separators and dot-only names are rejected.
func ValidIdentity(id string) bool {
	return identityPattern.MatchString(id) && id != "." && id != ".."
}

// DeploymentSource is either a VCS URL or an archive blob.
type DeploymentSource struct {
	Kind SourceKind

	// vcs
	URL string

	// archive
	Name      string
	Archive   io.ReaderAt
	SizeBytes int64
}

func VCSSource(url string) DeploymentSource {
	return DeploymentSource{Kind: SourceVCS, URL: url}
}

func ArchiveSource(name string, r io.ReaderAt, size int64) DeploymentSource {
	return DeploymentSource{Kind: SourceArchive, Name: name, Archive: r, SizeBytes: size}
}

// Validate checks that exactly one kind is populated.
func (s DeploymentSource) Validate() error {
	switch s.Kind {
	case SourceVCS:
		if s.URL == "" || s.Archive != nil {
			return ErrInvalidSource
		}
	case SourceArchive:
		if s.Archive == nil || s.URL != "" || s.SizeBytes < 0 {
			return ErrInvalidSource
		}
	default:
		return ErrInvalidSource
	}
	return nil
}
