package service

import (
	"fmt"
	"os"
	"path/filepath"

	"botcloud/internal/models"

	"gopkg.in/yaml.v3"
)

// LoadManifest reads bot.yml from dir. A missing file yields an empty
// manifest, which resolves to the configured defaults.
func LoadManifest(dir string) (*models.Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, models.ManifestFile))
	if os.IsNotExist(err) {
		return &models.Manifest{}, nil
	}
	if err != nil {
		return nil, err
	}

	var m models.Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	for _, e := range m.Env {
		if e.Name == "" {
			return nil, fmt.Errorf("%w: env entry without name", ErrInvalidManifest)
		}
	}
	return &m, nil
}

// resolveManifest fills absent commands with defaults. An explicit empty install
// list is kept and skips the install step.
func resolveManifest(m *models.Manifest, opts Options) (install, run []string) {
	install = m.Install
	if install == nil {
		install = opts.InstallCmd
	}
	run = m.Run
	if len(run) == 0 {
		run = opts.RunCmd
	}
	return install, run
}

// botEnv is the environment of every bot process.
func botEnv(base []string, identity string, m *models.Manifest) []string {
	env := make([]string, 0, len(base)+len(m.Env)+2)
	env = append(env, base...)
	env = append(env, "BOT_ID="+identity, "NODE_ENV=production")
	for _, e := range m.Env {
		env = append(env, fmt.Sprintf("%s=%s", e.Name, e.Value))
	}
	return env
}
