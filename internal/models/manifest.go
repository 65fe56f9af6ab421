package models

// ManifestFile is the optional per-bot build manifest at the artifact root.
const ManifestFile = "bot.yml"

// Manifest represents the structure of bot.yml
type Manifest struct {
	Name    string   `yaml:"name,omitempty"`
	Install []string `yaml:"install,omitempty"` // argv; absent uses the default, [] skips the install step
	Run     []string `yaml:"run,omitempty"`     // argv of the long-lived process
	Env     []EnvVar `yaml:"env,omitempty"`
}

// EnvVar definition
type EnvVar struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
	Tips  string `yaml:"tips,omitempty"`
}
