package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semtopo/errors"
)

// generateTestCert creates a self-signed certificate for testing
func generateTestCert(t *testing.T, cn string) (certPEM, keyPEM []byte) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Test Org"},
			CommonName:   cn,
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})
	return certPEM, keyPEM
}

// writeTestFiles writes a cert, its key and the cert again as a CA bundle.
func writeTestFiles(t *testing.T) (certFile, keyFile, caFile string) {
	t.Helper()
	dir := t.TempDir()
	certPEM, keyPEM := generateTestCert(t, "broker.local")

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	caFile = filepath.Join(dir, "ca.pem")
	require.NoError(t, os.WriteFile(certFile, certPEM, 0o644))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0o600))
	require.NoError(t, os.WriteFile(caFile, certPEM, 0o644))
	return certFile, keyFile, caFile
}

func TestLoad_Disabled(t *testing.T) {
	cfg, err := Load(Config{CertFile: "/nonexistent"})
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestLoad(t *testing.T) {
	certFile, keyFile, caFile := writeTestFiles(t)

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
		check   func(t *testing.T, c *tls.Config)
	}{
		{
			name: "system pool only",
			cfg:  Config{Enabled: true},
			check: func(t *testing.T, c *tls.Config) {
				assert.NotNil(t, c.RootCAs)
				assert.Equal(t, uint16(tls.VersionTLS12), c.MinVersion)
				assert.Empty(t, c.Certificates)
			},
		},
		{
			name: "extra CA and TLS 1.3",
			cfg:  Config{Enabled: true, CAFiles: []string{caFile}, MinVersion: "1.3", ServerName: "broker.local"},
			check: func(t *testing.T, c *tls.Config) {
				assert.Equal(t, uint16(tls.VersionTLS13), c.MinVersion)
				assert.Equal(t, "broker.local", c.ServerName)
			},
		},
		{
			name: "mutual TLS",
			cfg:  Config{Enabled: true, CertFile: certFile, KeyFile: keyFile},
			check: func(t *testing.T, c *tls.Config) {
				assert.Len(t, c.Certificates, 1)
			},
		},
		{
			name: "insecure skip verify",
			cfg:  Config{Enabled: true, InsecureSkipVerify: true},
			check: func(t *testing.T, c *tls.Config) {
				assert.True(t, c.InsecureSkipVerify)
			},
		},
		{name: "missing CA file", cfg: Config{Enabled: true, CAFiles: []string{"/nonexistent/ca.pem"}}, wantErr: true},
		{name: "CA file without PEM", cfg: Config{Enabled: true, CAFiles: []string{keyFile + ".missing"}}, wantErr: true},
		{name: "cert without key", cfg: Config{Enabled: true, CertFile: certFile}, wantErr: true},
		{name: "key does not match", cfg: Config{Enabled: true, CertFile: caFile, KeyFile: caFile}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Load(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, c)
			tt.check(t, c)
		})
	}
}

func TestLoad_InvalidPEM(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a certificate"), 0o644))

	_, err := Load(Config{Enabled: true, CAFiles: []string{bad}})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Config{CertFile: "x"}.Validate(), "disabled configs are not checked")
	assert.NoError(t, Config{Enabled: true, MinVersion: "1.3"}.Validate())

	err := Config{Enabled: true, MinVersion: "1.1"}.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	assert.Error(t, Config{Enabled: true, KeyFile: "k"}.Validate())
}

func TestParseTLSVersion(t *testing.T) {
	assert.Equal(t, uint16(tls.VersionTLS13), parseTLSVersion("1.3"))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("1.2"))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion(""))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("1.0"))
}
