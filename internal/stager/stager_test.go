package stager

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"botcloud/internal/models"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu    sync.Mutex
	lines []models.LogLine
}

func (p *recordingPublisher) Publish(identity string, sev models.Severity, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lines = append(p.lines, models.NewLogLine(identity, sev, message))
}

func (p *recordingPublisher) last() models.LogLine {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lines[len(p.lines)-1]
}

func buildZip(t *testing.T, files map[string]string) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return bytes.NewReader(buf.Bytes())
}

func archiveSource(r *bytes.Reader) models.DeploymentSource {
	return models.ArchiveSource("bot.zip", r, r.Size())
}

func TestStageArchiveOverwrite(t *testing.T) {
	pub := &recordingPublisher{}
	s := New(t.TempDir(), 0, pub)
	ctx := context.Background()

	dir, err := s.Stage(ctx, "alpha", archiveSource(buildZip(t, map[string]string{
		"index.js":     "console.log('v1')",
		"lib/old.js":   "old",
		"package.json": "{}",
	})))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "lib", "old.js"))
	assert.True(t, s.Exists("alpha"))
	assert.Equal(t, models.SeveritySuccess, pub.last().Severity)

	dir, err = s.Stage(ctx, "alpha", archiveSource(buildZip(t, map[string]string{
		"index.js": "console.log('v2')",
	})))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "index.js"))
	require.NoError(t, err)
	assert.Equal(t, "console.log('v2')", string(data))
	assert.NoFileExists(t, filepath.Join(dir, "lib", "old.js"))
	assert.NoFileExists(t, filepath.Join(dir, "package.json"))
}

func TestStageArchiveTooLarge(t *testing.T) {
	s := New(t.TempDir(), 16, nil)
	r := buildZip(t, map[string]string{"index.js": "console.log('hello world')"})

	err := s.Validate(archiveSource(r))
	assert.True(t, errors.Is(err, ErrSourceTooLarge))

	_, err = s.Stage(context.Background(), "alpha", archiveSource(r))
	assert.True(t, errors.Is(err, ErrSourceTooLarge))
	assert.False(t, s.Exists("alpha"))
}

func TestStageArchiveRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	s := New(filepath.Join(root, "deployments"), 0, nil)

	_, err := s.Stage(context.Background(), "alpha", archiveSource(buildZip(t, map[string]string{
		"../../escape.txt": "nope",
	})))
	assert.True(t, errors.Is(err, ErrExtractionFailed))
	assert.NoFileExists(t, filepath.Join(root, "escape.txt"))
	assert.False(t, s.Exists("alpha"))
}

func TestStageArchiveUnknownFormat(t *testing.T) {
	s := New(t.TempDir(), 0, nil)
	r := bytes.NewReader([]byte("definitely not an archive"))

	_, err := s.Stage(context.Background(), "alpha", archiveSource(r))
	assert.True(t, errors.Is(err, ErrExtractionFailed))
	assert.False(t, s.Exists("alpha"))
}

func TestStageUnreadableArchiveKeepsPreviousArtifact(t *testing.T) {
	s := New(t.TempDir(), 0, nil)
	ctx := context.Background()

	dir, err := s.Stage(ctx, "alpha", archiveSource(buildZip(t, map[string]string{"index.js": "v1"})))
	require.NoError(t, err)

	_, err = s.Stage(ctx, "alpha", archiveSource(bytes.NewReader([]byte("definitely not an archive"))))
	assert.True(t, errors.Is(err, ErrExtractionFailed))

	data, err := os.ReadFile(filepath.Join(dir, "index.js"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
}

func TestStageInvalidSource(t *testing.T) {
	s := New(t.TempDir(), 0, nil)
	_, err := s.Stage(context.Background(), "alpha", models.DeploymentSource{})
	assert.True(t, errors.Is(err, models.ErrInvalidSource))
}

func TestStageVCSUnavailable(t *testing.T) {
	s := New(t.TempDir(), 0, nil)
	src := models.VCSSource(filepath.Join(t.TempDir(), "missing-repo"))

	_, err := s.Stage(context.Background(), "alpha", src)
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
	assert.False(t, s.Exists("alpha"))
}

func commitFile(t *testing.T, repo *git.Repository, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(name)
	require.NoError(t, err)
	_, err = wt.Commit("update "+name, &git.CommitOptions{
		Author: &object.Signature{Name: "botcloud", Email: "test@botcloud.local", When: time.Now()},
	})
	require.NoError(t, err)
}

func TestStageVCSCloneThenPull(t *testing.T) {
	if _, err := exec.LookPath("git-upload-pack"); err != nil {
		t.Skip("git-upload-pack not available")
	}

	upstreamDir := t.TempDir()
	upstream, err := git.PlainInit(upstreamDir, false)
	require.NoError(t, err)
	commitFile(t, upstream, upstreamDir, "index.js", "v1")

	s := New(t.TempDir(), 0, nil)
	ctx := context.Background()

	dir, err := s.Stage(ctx, "alpha", models.VCSSource(upstreamDir))
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, "index.js"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))

	// already up to date counts as success
	_, err = s.Stage(ctx, "alpha", models.VCSSource(upstreamDir))
	require.NoError(t, err)

	commitFile(t, upstream, upstreamDir, "index.js", "v2")
	_, err = s.Stage(ctx, "alpha", models.VCSSource(upstreamDir))
	require.NoError(t, err)
	data, err = os.ReadFile(filepath.Join(dir, "index.js"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestStageVCSRedeployOverLocalEdits(t *testing.T) {
	if _, err := exec.LookPath("git-upload-pack"); err != nil {
		t.Skip("git-upload-pack not available")
	}

	upstreamDir := t.TempDir()
	upstream, err := git.PlainInit(upstreamDir, false)
	require.NoError(t, err)
	commitFile(t, upstream, upstreamDir, "package-lock.json", `{"lockfileVersion":1}`)
	commitFile(t, upstream, upstreamDir, "index.js", "v1")

	s := New(t.TempDir(), 0, nil)
	ctx := context.Background()

	dir, err := s.Stage(ctx, "alpha", models.VCSSource(upstreamDir))
	require.NoError(t, err)

	// the install step rewrites tracked files
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package-lock.json"), []byte(`{"lockfileVersion":3}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.js"), []byte("local edit"), 0644))

	commitFile(t, upstream, upstreamDir, "index.js", "v2")
	_, err = s.Stage(ctx, "alpha", models.VCSSource(upstreamDir))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "index.js"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
	data, err = os.ReadFile(filepath.Join(dir, "package-lock.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"lockfileVersion":1}`, string(data))

	// a dirty tree with nothing new upstream is reset too
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package-lock.json"), []byte("{}"), 0644))
	_, err = s.Stage(ctx, "alpha", models.VCSSource(upstreamDir))
	require.NoError(t, err)
	data, err = os.ReadFile(filepath.Join(dir, "package-lock.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"lockfileVersion":1}`, string(data))
}

func TestRemove(t *testing.T) {
	s := New(t.TempDir(), 0, nil)
	_, err := s.Stage(context.Background(), "alpha", archiveSource(buildZip(t, map[string]string{"a.txt": "a"})))
	require.NoError(t, err)

	require.NoError(t, s.Remove("alpha"))
	assert.False(t, s.Exists("alpha"))
	assert.NoError(t, s.Remove("alpha"))
}
