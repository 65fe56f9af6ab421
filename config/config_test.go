package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"BOTCLOUD_DATA_ROOT", "BOTCLOUD_STOP_GRACE", "BOTCLOUD_MAX_ARCHIVE_MB", "BOTCLOUD_RUN_CMD"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	Load()

	assert.Equal(t, "data", DataRoot)
	assert.Equal(t, 3*time.Second, StopGrace)
	assert.Equal(t, int64(50*1024*1024), MaxArchiveBytes)
	assert.Equal(t, []string{"npm", "start"}, RunCmd)
	assert.Equal(t, filepath.Join("data", "log", "botcloud.log"), LogFile)
}

func TestLoadFromEnv(t *testing.T) {
	root := t.TempDir()
	t.Setenv("BOTCLOUD_DATA_ROOT", root)
	t.Setenv("BOTCLOUD_STOP_GRACE", "500ms")
	t.Setenv("BOTCLOUD_MAX_ARCHIVE_MB", "2")
	t.Setenv("BOTCLOUD_HISTORY_LIMIT", "not-a-number")
	t.Setenv("BOTCLOUD_RUN_CMD", "node index.js")
	Load()

	assert.Equal(t, root, DataRoot)
	assert.Equal(t, 500*time.Millisecond, StopGrace)
	assert.Equal(t, int64(2*1024*1024), MaxArchiveBytes)
	assert.Equal(t, 1000, HistoryLimit)
	assert.Equal(t, []string{"node", "index.js"}, RunCmd)
	assert.Equal(t, filepath.Join(root, "deployments"), DeployDir)
	assert.Equal(t, filepath.Join(root, "db", "botcloud.db"), DBFile)
}
