package https

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"botcloud/internal/logger"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/acme/autocert"
)

var ErrNoCertificate = errors.New("certificate file not found")

// CertInfo 证书信息（/api/admin/certs）
type CertInfo struct {
	Domains       []string  `json:"domain"`
	Issuer        string    `json:"issuer"`
	NotBefore     time.Time `json:"not_before"`
	NotAfter      time.Time `json:"not_after"`
	RemainingDays int       `json:"remaining_days"`
	NeedsRenewal  bool      `json:"needs_renewal"`
}

// Manager 证书管理器
type Manager struct {
	cfg      *Config
	certsDir string
	certFile string
	keyFile  string
	log      *logrus.Entry

	mu      sync.RWMutex
	cert    *tls.Certificate
	certMod time.Time

	autocert *autocert.Manager
}

// NewManager 创建证书管理器
func NewManager(cfg *Config, certsDir, certFile, keyFile string) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Manager{
		cfg:      cfg,
		certsDir: certsDir,
		certFile: certFile,
		keyFile:  keyFile,
		log:      logger.For("https"),
	}
}

// Config 返回当前配置
func (m *Manager) Config() *Config {
	return m.cfg
}

// Setup 根据配置返回 TLS 配置，HTTP 模式返回 nil
func (m *Manager) Setup(ctx context.Context) (*tls.Config, error) {
	if !m.cfg.IsHTTPS() {
		m.log.Info("Mode: HTTP")
		return nil, nil
	}
	if err := os.MkdirAll(m.certsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create certs dir: %w", err)
	}

	// 现有证书可用则直接加载
	if m.usableCert() {
		m.log.Info("Using existing certificate")
		return m.loadCertConfig()
	}

	if !m.cfg.NeedAutoCert() {
		return nil, fmt.Errorf("HTTPS enabled but no usable certificate and ACME not configured")
	}

	switch m.cfg.ACME.Challenge {
	case ChallengeHTTP01:
		return m.setupHTTP01(), nil
	case ChallengeDNS01:
		if err := m.obtainDNS01(ctx); err != nil {
			return nil, err
		}
		return m.loadCertConfig()
	}
	return nil, fmt.Errorf("unknown challenge type: %s", m.cfg.ACME.Challenge)
}

// setupHTTP01 autocert 负责申请与续签
func (m *Manager) setupHTTP01() *tls.Config {
	m.log.Infof("Setting up HTTP-01 challenge for domain: %s", m.cfg.ACME.Domain)
	m.autocert = &autocert.Manager{
		Prompt:      autocert.AcceptTOS,
		HostPolicy:  autocert.HostWhitelist(m.cfg.ACME.Domain),
		Cache:       autocert.DirCache(m.certsDir),
		Email:       m.cfg.ACME.Email,
		RenewBefore: m.renewBefore(),
	}
	return m.autocert.TLSConfig()
}

// ChallengeHandler HTTP-01 挑战处理器，非 HTTP-01 模式返回 nil
func (m *Manager) ChallengeHandler() http.Handler {
	if m.autocert == nil {
		return nil
	}
	return m.autocert.HTTPHandler(nil)
}

// ChallengeAddr HTTP-01 挑战监听地址
func (m *Manager) ChallengeAddr() string {
	return fmt.Sprintf(":%d", m.cfg.ACME.HTTP.Port)
}

func (m *Manager) renewBefore() time.Duration {
	return time.Duration(m.cfg.ACME.RenewBeforeDays) * 24 * time.Hour
}

// usableCert 证书存在、未过期且匹配配置的域名；启用 ACME 时进入续签窗口也视为不可用，
// 下次启动即重新申请
func (m *Manager) usableCert() bool {
	cert, err := m.parseCertFile()
	if err != nil {
		if !errors.Is(err, ErrNoCertificate) {
			m.log.WithError(err).Warn("failed to parse certificate")
		}
		return false
	}
	if time.Now().After(cert.NotAfter) {
		m.log.Warn("Certificate has expired")
		return false
	}
	if !m.cfg.NeedAutoCert() {
		return true
	}
	if cert.VerifyHostname(m.cfg.ACME.Domain) != nil {
		m.log.Warnf("Certificate domain mismatch: cert=%v, config=%s", cert.DNSNames, m.cfg.ACME.Domain)
		return false
	}
	if time.Until(cert.NotAfter) < m.renewBefore() {
		m.log.Info("Certificate is due for renewal")
		return false
	}
	return true
}

// parseCertFile 解析证书文件
func (m *Manager) parseCertFile() (*x509.Certificate, error) {
	certPEM, err := os.ReadFile(m.certFile)
	if os.IsNotExist(err) {
		return nil, ErrNoCertificate
	}
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM")
	}
	return x509.ParseCertificate(block.Bytes)
}

// CertInfo 获取证书信息
func (m *Manager) CertInfo() (*CertInfo, error) {
	cert, err := m.parseCertFile()
	if err != nil {
		return nil, err
	}
	remaining := time.Until(cert.NotAfter)
	return &CertInfo{
		Domains:       cert.DNSNames,
		Issuer:        cert.Issuer.CommonName,
		NotBefore:     cert.NotBefore,
		NotAfter:      cert.NotAfter,
		RemainingDays: int(remaining.Hours() / 24),
		NeedsRenewal:  remaining < m.renewBefore(),
	}, nil
}

// loadCertConfig 加载证书并返回支持热重载的 TLS 配置
func (m *Manager) loadCertConfig() (*tls.Config, error) {
	if err := m.reloadCert(); err != nil {
		return nil, err
	}
	return &tls.Config{GetCertificate: m.getCertificate}, nil
}

func (m *Manager) reloadCert() error {
	cert, err := tls.LoadX509KeyPair(m.certFile, m.keyFile)
	if err != nil {
		return fmt.Errorf("failed to load certificate: %w", err)
	}
	var mod time.Time
	if info, err := os.Stat(m.certFile); err == nil {
		mod = info.ModTime()
	}

	m.mu.Lock()
	m.cert = &cert
	m.certMod = mod
	m.mu.Unlock()
	return nil
}

func (m *Manager) getCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cert == nil {
		return nil, fmt.Errorf("no certificate loaded")
	}
	return m.cert, nil
}

// Watch 定期检查证书文件变更并热重载；HTTP-01 由 autocert 自行续签
func (m *Manager) Watch(ctx context.Context, interval time.Duration) {
	if !m.cfg.IsHTTPS() || m.autocert != nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reloadIfChanged()
		}
	}
}

func (m *Manager) reloadIfChanged() {
	info, err := os.Stat(m.certFile)
	if err != nil {
		return
	}
	m.mu.RLock()
	changed := info.ModTime().After(m.certMod)
	m.mu.RUnlock()
	if !changed {
		return
	}
	if err := m.reloadCert(); err != nil {
		m.log.WithError(err).Warn("failed to reload certificate")
		return
	}
	m.log.Info("Certificate reloaded")
}
