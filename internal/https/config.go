package https

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	ModeHTTP  = "http"
	ModeHTTPS = "https"

	ChallengeHTTP01 = "http-01"
	ChallengeDNS01  = "dns-01"

	letsEncryptDirectory = "https://acme-v02.api.letsencrypt.org/directory"
)

// Config HTTPS 配置（$DATA_ROOT/https.yaml）
type Config struct {
	Mode string     `yaml:"mode"` // http / https
	ACME ACMEConfig `yaml:"acme"`
}

// ACMEConfig ACME 自动证书配置
type ACMEConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Domain            string        `yaml:"domain"`
	Email             string        `yaml:"email"`
	Challenge         string        `yaml:"challenge"` // http-01 / dns-01
	HTTP              HTTPChallenge `yaml:"http"`
	DNS               DNSChallenge  `yaml:"dns"`
	Directories       []string      `yaml:"directories"`
	RetryCount        int           `yaml:"retry_count"`
	RetryDelaySeconds int           `yaml:"retry_delay_seconds"`
	RenewBeforeDays   int           `yaml:"renew_before_days"`
}

// HTTPChallenge HTTP-01 挑战配置
type HTTPChallenge struct {
	Port int `yaml:"port"`
}

// DNSChallenge DNS-01 挑战配置
type DNSChallenge struct {
	Provider    string            `yaml:"provider"`
	Credentials map[string]string `yaml:"credentials"`
}

// DefaultConfig 默认配置：纯 HTTP
func DefaultConfig() *Config {
	cfg := &Config{Mode: ModeHTTP}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig 读取配置文件，文件不存在时返回默认配置
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 设置默认值
func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeHTTP
	}
	if c.ACME.Challenge == "" {
		c.ACME.Challenge = ChallengeDNS01
	}
	if c.ACME.HTTP.Port == 0 {
		c.ACME.HTTP.Port = 80
	}
	if c.ACME.RetryCount <= 0 {
		c.ACME.RetryCount = 3
	}
	if c.ACME.RetryDelaySeconds <= 0 {
		c.ACME.RetryDelaySeconds = 5
	}
	if c.ACME.RenewBeforeDays <= 0 {
		c.ACME.RenewBeforeDays = 30
	}
	if len(c.ACME.Directories) == 0 {
		c.ACME.Directories = []string{letsEncryptDirectory}
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeHTTP, ModeHTTPS:
	default:
		return fmt.Errorf("unknown mode: %s", c.Mode)
	}
	switch c.ACME.Challenge {
	case ChallengeHTTP01, ChallengeDNS01:
	default:
		return fmt.Errorf("unknown challenge type: %s", c.ACME.Challenge)
	}
	return nil
}

// IsHTTPS 是否启用 HTTPS
func (c *Config) IsHTTPS() bool {
	return c.Mode == ModeHTTPS
}

// NeedAutoCert 是否需要自动申请证书
func (c *Config) NeedAutoCert() bool {
	return c.IsHTTPS() && c.ACME.Enabled && c.ACME.Domain != ""
}
