// Package tls serves the HTTP API with certificates managed by CertMagic.
package tls

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/libdns/azure"

	"github.com/jobrunner/geosource/internal/domain"
)

const readHeaderTimeout = 10 * time.Second

// Config holds TLS configuration.
type Config struct {
	Enabled  bool
	Domains  []string
	Email    string
	CacheDir string
	Staging  bool // Use Let's Encrypt staging environment
	DNS      DNSConfig
}

// DNSConfig holds Azure DNS provider configuration for DNS-01 challenges.
// Without a subscription the HTTP-01 and TLS-ALPN-01 challenges are used.
type DNSConfig struct {
	SubscriptionID    string
	ResourceGroupName string
	ClientID          string // User Assigned Managed Identity client ID (optional)
}

// Validate checks the settings needed to request certificates.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Domains) == 0 {
		return &domain.ConfigError{Field: "tls.domains", Message: "TLS enabled but no domains specified"}
	}
	if c.Email == "" {
		return &domain.ConfigError{Field: "tls.email", Message: "TLS enabled but no email specified"}
	}
	if c.DNS.SubscriptionID != "" && c.DNS.ResourceGroupName == "" {
		return &domain.ConfigError{Field: "tls.dns.resource_group_name", Message: "Azure DNS needs a resource group"}
	}
	return nil
}

// Server runs the API handler over HTTP or, when enabled, HTTPS.
type Server struct {
	config    Config
	server    *http.Server
	magic     *certmagic.Config
	logger    *slog.Logger
	tlsConfig *tls.Config
}

// NewServer creates the server. Timeouts are copied from base, whose Handler
// and Addr are used as well.
func NewServer(cfg Config, base *http.Server, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		config: cfg,
		logger: logger,
		server: &http.Server{
			Addr:              base.Addr,
			Handler:           base.Handler,
			ReadTimeout:       base.ReadTimeout,
			WriteTimeout:      base.WriteTimeout,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
	if !cfg.Enabled {
		return s, nil
	}

	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = cfg.Email
	if cfg.Staging {
		certmagic.DefaultACME.CA = certmagic.LetsEncryptStagingCA
	}
	if cfg.CacheDir != "" {
		certmagic.Default.Storage = &certmagic.FileStorage{Path: cfg.CacheDir}
	}

	if cfg.DNS.SubscriptionID != "" {
		certmagic.DefaultACME.DNS01Solver = &certmagic.DNS01Solver{
			DNSManager: certmagic.DNSManager{
				DNSProvider: &azure.Provider{
					SubscriptionId:    cfg.DNS.SubscriptionID,
					ResourceGroupName: cfg.DNS.ResourceGroupName,
					ClientId:          cfg.DNS.ClientID, // empty = system assigned managed identity
				},
			},
		}
	}

	s.magic = certmagic.NewDefault()
	s.tlsConfig = s.magic.TLSConfig()
	s.tlsConfig.NextProtos = append([]string{"h2", "http/1.1"}, s.tlsConfig.NextProtos...)
	s.server.TLSConfig = s.tlsConfig

	return s, nil
}

// ManageCertificates obtains or renews certificates for the configured domains.
func (s *Server) ManageCertificates(ctx context.Context) error {
	if s.magic == nil {
		return nil
	}

	s.logger.Info("obtaining certificates", "domains", s.config.Domains)
	if err := s.magic.ManageSync(ctx, s.config.Domains); err != nil {
		return &domain.StorageError{Operation: "manage certificates", Err: err}
	}
	s.logger.Info("certificates obtained successfully")
	return nil
}

// ListenAndServe serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) ListenAndServe() error {
	var err error
	if s.tlsConfig == nil {
		s.logger.Info("starting HTTP server (TLS disabled)", "address", s.server.Addr)
		err = s.server.ListenAndServe()
	} else {
		s.logger.Info("starting HTTPS server", "address", s.server.Addr, "domains", s.config.Domains)
		err = s.server.ListenAndServeTLS("", "")
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// TLSConfig returns the TLS configuration, nil when TLS is disabled.
func (s *Server) TLSConfig() *tls.Config {
	return s.tlsConfig
}
