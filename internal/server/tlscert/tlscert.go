// Package tlscert wires the engine's RTMPS listener to a
// hot-reloading certificate loader, replacing the teacher's hand-rolled
// stat-poll loop in rtmp_ssl.go.
package tlscert

import (
	"crypto/tls"
	"time"

	certloader "github.com/AgustinSRG/go-tls-certificate-loader"
)

// Loader watches a cert/key pair on disk and serves the current
// certificate to the TLS stack via GetCertificate.
type Loader struct {
	loader *certloader.CertificateLoader
}

// Load reads certPath/keyPath once and starts a background watcher
// that reloads them on change, checking every checkInterval.
func Load(certPath string, keyPath string, checkInterval time.Duration) (*Loader, error) {
	l, err := certloader.NewCertificateLoader(certloader.Options{
		CertPath:      certPath,
		KeyPath:       keyPath,
		CheckInterval: checkInterval,
	})
	if err != nil {
		return nil, err
	}
	l.Start()
	return &Loader{loader: l}, nil
}

// GetCertificateFunc returns the callback tls.Config.GetCertificate
// expects, always serving whatever certificate is currently loaded.
func (l *Loader) GetCertificateFunc() func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		return l.loader.GetCertificate(), nil
	}
}
