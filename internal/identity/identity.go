// Package identity builds the configured identity backend.
package identity

import (
	"fmt"
	"net/http"

	"vn.io.arda/identity/internal/accountcache"
	"vn.io.arda/identity/internal/config"
	"vn.io.arda/identity/internal/domain"
	"vn.io.arda/identity/internal/infrastructure/crowd"
	"vn.io.arda/identity/internal/infrastructure/file"
	"vn.io.arda/identity/internal/infrastructure/keycloak"
	"vn.io.arda/identity/internal/metrics"
)

// New switches on the provider type once at startup. The returned provider additionally
// implements domain.OIDCFlow when the backend is Keycloak.
func New(cfg *config.Config, httpClient *http.Client, cache *accountcache.Cache, m *metrics.Metrics) (domain.IdentityProvider, error) {
	t, err := domain.ParseProviderType(cfg.Provider.Type)
	if err != nil {
		return nil, err
	}

	switch t {
	case domain.ProviderCrowd:
		return crowd.New(crowd.Config{
			URL:         cfg.Crowd.URL,
			AppName:     cfg.Crowd.AppName,
			AppPassword: cfg.Crowd.AppPassword,
		}, httpClient, cache, m), nil
	case domain.ProviderFile:
		p, err := file.New(cfg.Provider.FileDirectory)
		if err != nil {
			return nil, fmt.Errorf("file identity provider: %w", err)
		}
		return p, nil
	case domain.ProviderKeycloak:
		return keycloak.New(keycloak.Config{
			URL:               cfg.Keycloak.URL,
			Realm:             cfg.Keycloak.Realm,
			ClientID:          cfg.Keycloak.ClientID,
			ClientSecret:      cfg.Keycloak.ClientSecret,
			AdminClientID:     cfg.Keycloak.AdminClientID,
			AdminClientSecret: cfg.Keycloak.AdminClientSecret,
		}, httpClient, cache, m), nil
	}
	return nil, fmt.Errorf("unsupported identity provider %q", t)
}
