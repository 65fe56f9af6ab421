package https

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
)

const acmeUserFile = "acme_user.json"

// acmeUser 实现 lego 的 User 接口，持久化到 certs 目录
type acmeUser struct {
	Email        string                 `json:"email"`
	Registration *registration.Resource `json:"registration"`
	KeyPEM       string                 `json:"key_pem"`
	key          crypto.PrivateKey
}

func (u *acmeUser) GetEmail() string                        { return u.Email }
func (u *acmeUser) GetRegistration() *registration.Resource { return u.Registration }
func (u *acmeUser) GetPrivateKey() crypto.PrivateKey        { return u.key }

// obtainDNS01 通过 DNS-01 挑战申请证书并写入 certFile/keyFile
func (m *Manager) obtainDNS01(ctx context.Context) error {
	acme := m.cfg.ACME

	user, err := m.loadOrCreateUser()
	if err != nil {
		return fmt.Errorf("failed to load/create acme user: %w", err)
	}

	config := lego.NewConfig(user)
	config.CADirURL = acme.Directories[0]
	config.Certificate.KeyType = certcrypto.EC256

	client, err := lego.NewClient(config)
	if err != nil {
		return fmt.Errorf("failed to create lego client: %w", err)
	}

	provider, err := NewDNSProvider(acme.DNS)
	if err != nil {
		return err
	}
	if err := client.Challenge.SetDNS01Provider(provider); err != nil {
		return fmt.Errorf("failed to set DNS provider: %w", err)
	}

	if user.Registration == nil {
		reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return fmt.Errorf("failed to register: %w", err)
		}
		user.Registration = reg
		if err := m.saveUser(user); err != nil {
			m.log.WithError(err).Warn("failed to save acme user")
		}
	}

	m.log.Infof("Requesting certificate for %s from %s", acme.Domain, config.CADirURL)
	request := certificate.ObtainRequest{Domains: []string{acme.Domain}, Bundle: true}
	delay := time.Duration(acme.RetryDelaySeconds) * time.Second

	var cert *certificate.Resource
	for i := 0; i < acme.RetryCount; i++ {
		cert, err = client.Certificate.Obtain(request)
		if err == nil {
			break
		}
		m.log.WithError(err).Warnf("certificate request failed (attempt %d/%d)", i+1, acme.RetryCount)
		if i < acme.RetryCount-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	if err != nil {
		return fmt.Errorf("failed to obtain certificate after %d attempts: %w", acme.RetryCount, err)
	}

	if err := os.WriteFile(m.certFile, cert.Certificate, 0644); err != nil {
		return err
	}
	if err := os.WriteFile(m.keyFile, cert.PrivateKey, 0600); err != nil {
		return err
	}
	m.log.Infof("Certificate obtained for %s", acme.Domain)
	return nil
}

func (m *Manager) loadOrCreateUser() (*acmeUser, error) {
	if data, err := os.ReadFile(filepath.Join(m.certsDir, acmeUserFile)); err == nil {
		var user acmeUser
		if err := json.Unmarshal(data, &user); err == nil {
			if block, _ := pem.Decode([]byte(user.KeyPEM)); block != nil {
				if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
					user.key = key
					return &user, nil
				}
			}
		}
	}

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	keyBytes, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})

	return &acmeUser{
		Email:  m.cfg.ACME.Email,
		KeyPEM: string(keyPEM),
		key:    privateKey,
	}, nil
}

func (m *Manager) saveUser(user *acmeUser) error {
	data, err := json.MarshalIndent(user, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(m.certsDir, acmeUserFile), data, 0600)
}
