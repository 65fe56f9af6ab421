package stager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"botcloud/internal/logger"
	"botcloud/internal/models"

	"github.com/sirupsen/logrus"
)

var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrSourceTooLarge    = errors.New("source too large")
	ErrExtractionFailed  = errors.New("extraction failed")
)

// Publisher receives the progress lines emitted while staging.
type Publisher interface {
	Publish(identity string, sev models.Severity, message string)
}

// Stager materializes deployment sources under root/<identity>.
type Stager struct {
	root     string
	maxBytes int64
	pub      Publisher
	log      *logrus.Entry
}

// New creates a Stager. maxBytes <= 0 disables the archive size ceiling.
func New(root string, maxBytes int64, pub Publisher) *Stager {
	return &Stager{
		root:     root,
		maxBytes: maxBytes,
		pub:      pub,
		log:      logger.For("stager"),
	}
}

// Dir returns the artifact directory for identity. It may not exist.
func (s *Stager) Dir(identity string) string {
	return filepath.Join(s.root, identity)
}

// Exists reports whether a non-empty artifact is staged for identity.
func (s *Stager) Exists(identity string) bool {
	entries, err := os.ReadDir(s.Dir(identity))
	return err == nil && len(entries) > 0
}

// Remove deletes the staged artifact for identity.
func (s *Stager) Remove(identity string) error {
	return os.RemoveAll(s.Dir(identity))
}

// Validate runs the checks that must happen before any lock is taken or
// any running instance is stopped.
func (s *Stager) Validate(src models.DeploymentSource) error {
	if err := src.Validate(); err != nil {
		return err
	}
	if src.Kind == models.SourceArchive && s.maxBytes > 0 && src.SizeBytes > s.maxBytes {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d bytes", ErrSourceTooLarge, src.SizeBytes, s.maxBytes)
	}
	return nil
}

// Stage fetches or extracts src into the identity's directory and returns it.
// Errors wrap ErrSourceUnavailable, ErrSourceTooLarge or ErrExtractionFailed.
func (s *Stager) Stage(ctx context.Context, identity string, src models.DeploymentSource) (string, error) {
	if err := s.Validate(src); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return "", fmt.Errorf("failed to create deployment root: %w", err)
	}

	dir := s.Dir(identity)
	var err error
	switch src.Kind {
	case models.SourceVCS:
		err = s.stageVCS(ctx, identity, dir, src.URL)
	case models.SourceArchive:
		err = s.stageArchive(ctx, identity, dir, src)
	}
	if err != nil {
		s.log.WithField("bot", identity).WithError(err).Warn("staging failed")
		return "", err
	}
	return dir, nil
}

func (s *Stager) publish(identity string, sev models.Severity, format string, args ...interface{}) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(identity, sev, fmt.Sprintf(format, args...))
}
