// Package tls provides automatic certificate management via CertMagic.
package tls

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/caddyserver/certmagic"
	"github.com/libdns/azure"

	"github.com/stratumgis/stratum/internal/config"
)

// Configure builds a *tls.Config backed by CertMagic for the configured
// domains. Certificates are obtained through the DNS-01 challenge against
// Azure DNS and renewed in the background.
func Configure(cfg config.TLSConfig, logger *slog.Logger) (*tls.Config, error) {
	if len(cfg.Domains) == 0 {
		return nil, fmt.Errorf("TLS enabled but no domains specified")
	}
	if cfg.Email == "" {
		return nil, fmt.Errorf("TLS enabled but no email specified")
	}

	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = cfg.Email

	if cfg.Staging {
		certmagic.DefaultACME.CA = certmagic.LetsEncryptStagingCA
	}

	if cfg.CacheDir != "" {
		certmagic.Default.Storage = &certmagic.FileStorage{Path: cfg.CacheDir}
	}

	provider := &azure.Provider{
		SubscriptionId:    cfg.DNS.SubscriptionID,
		ResourceGroupName: cfg.DNS.ResourceGroupName,
		ClientId:          cfg.DNS.ClientID, // empty = system assigned managed identity
	}
	certmagic.DefaultACME.DNS01Solver = &certmagic.DNS01Solver{
		DNSManager: certmagic.DNSManager{
			DNSProvider: provider,
		},
	}

	logger.Info("TLS enabled", "domains", cfg.Domains, "staging", cfg.Staging)

	tlsConfig, err := certmagic.TLS(cfg.Domains)
	if err != nil {
		return nil, fmt.Errorf("configuring TLS: %w", err)
	}
	return tlsConfig, nil
}

// ManageCertificates pre-obtains certificates for the configured domains so
// the first TLS handshake does not pay the issuance latency.
func ManageCertificates(ctx context.Context, cfg config.TLSConfig, logger *slog.Logger) error {
	logger.Info("obtaining certificates", "domains", cfg.Domains)

	if err := certmagic.ManageSync(ctx, cfg.Domains); err != nil {
		return fmt.Errorf("managing certificates: %w", err)
	}

	logger.Info("certificates obtained")
	return nil
}
