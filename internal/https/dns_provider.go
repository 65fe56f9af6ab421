package https

import (
	"fmt"

	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/providers/dns/alidns"
	"github.com/go-acme/lego/v4/providers/dns/cloudflare"
	"github.com/go-acme/lego/v4/providers/dns/tencentcloud"
)

// NewDNSProvider 根据 https.yaml 的 acme.dns 段创建 DNS-01 提供商
func NewDNSProvider(cfg DNSChallenge) (challenge.Provider, error) {
	creds := cfg.Credentials
	switch cfg.Provider {
	case "tencentcloud":
		if creds["secret_id"] == "" || creds["secret_key"] == "" {
			return nil, fmt.Errorf("tencentcloud requires secret_id and secret_key")
		}
		config := tencentcloud.NewDefaultConfig()
		config.SecretID = creds["secret_id"]
		config.SecretKey = creds["secret_key"]
		return tencentcloud.NewDNSProviderConfig(config)
	case "alidns":
		if creds["access_key_id"] == "" || creds["access_key_secret"] == "" {
			return nil, fmt.Errorf("alidns requires access_key_id and access_key_secret")
		}
		config := alidns.NewDefaultConfig()
		config.APIKey = creds["access_key_id"]
		config.SecretKey = creds["access_key_secret"]
		return alidns.NewDNSProviderConfig(config)
	case "cloudflare":
		if creds["api_token"] == "" {
			return nil, fmt.Errorf("cloudflare requires api_token")
		}
		config := cloudflare.NewDefaultConfig()
		config.AuthToken = creds["api_token"]
		return cloudflare.NewDNSProviderConfig(config)
	}
	return nil, fmt.Errorf("unsupported DNS provider %q (tencentcloud, alidns, cloudflare)", cfg.Provider)
}
