package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/cockpit/internal/config"
)

const (
	tlsCrt = "tls.crt"
	tlsKey = "tls.key"

	autoGenValidity = 5 * 365 * 24 * time.Hour
)

// SetupTLS builds the server TLS config. It returns nil when TLS is off.
// Explicit cert/key files win over the directory layout; with auto_generate
// a missing pair in the directory is created self-signed.
func SetupTLS(cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		return createTLSConfig(cfg.CertFile, cfg.KeyFile)
	}
	if cfg.Dir == "" {
		return nil, errors.New("TLS enabled but no valid certificate configuration found")
	}
	certPath := filepath.Join(cfg.Dir, tlsCrt)
	keyPath := filepath.Join(cfg.Dir, tlsKey)
	if !certificatesExist(certPath, keyPath) {
		if !cfg.AutoGenerate {
			return nil, fmt.Errorf("no certificate in %s and auto_generate is off", cfg.Dir)
		}
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create certificate directory: %w", err)
		}
		err := GenerateSelfSignedCert(CertConfig{
			CommonName:   "localhost",
			Organization: "comfyui-cockpit",
			Hosts:        []string{"localhost", "127.0.0.1", "::1"},
			NotAfter:     time.Now().Add(autoGenValidity),
			CertPath:     certPath,
			KeyPath:      keyPath,
		})
		if err != nil {
			return nil, fmt.Errorf("certificate generation failed: %w", err)
		}
	}
	return createTLSConfig(certPath, keyPath)
}

// createTLSConfig reloads the pair on every handshake so renewed
// certificates are picked up without restart.
func createTLSConfig(certPath, keyPath string) (*tls.Config, error) {
	if _, err := loadPair(certPath, keyPath); err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			return loadPair(certPath, keyPath)
		},
	}, nil
}

func loadPair(certPath, keyPath string) (*tls.Certificate, error) {
	certPEM, err := safeReadFile(filepath.Dir(certPath), certPath)
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	keyPEM, err := safeReadFile(filepath.Dir(keyPath), keyPath)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	c, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &c, nil
}

// safeReadFile reads file content safely within base directory
func safeReadFile(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	absBase, _ := filepath.Abs(baseDir)
	absFile, _ := filepath.Abs(clean)
	if !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) && absFile != absBase {
		return nil, errors.New("file path outside of allowed directory")
	}
	return os.ReadFile(clean)
}

func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}
