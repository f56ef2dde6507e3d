package aggregator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/coinhaven/swapd/pkg/secrets"
)

// Credentials holds the API access configuration for the aggregator.
// Secret format: {"api_key": "...", "base_url": "https://..."}
type Credentials struct {
	BaseURL string
	APIKey  string
}

// CredentialsResolver resolves aggregator credentials from a secrets
// provider with an in-memory TTL cache, falling back to statically
// configured values when no provider is wired (dev environments).
type CredentialsResolver struct {
	logger     *zap.Logger
	provider   secrets.Provider
	cache      *secrets.Cache[Credentials]
	secretName string
	fallback   Credentials
}

func NewCredentialsResolver(
	logger *zap.Logger,
	provider secrets.Provider,
	cache *secrets.Cache[Credentials],
	secretName string,
	fallback Credentials,
) *CredentialsResolver {
	return &CredentialsResolver{
		logger:     logger,
		provider:   provider,
		cache:      cache,
		secretName: secretName,
		fallback:   fallback,
	}
}

// Resolve returns the current aggregator credentials.
func (r *CredentialsResolver) Resolve(ctx context.Context) (Credentials, error) {
	if r.provider == nil || r.secretName == "" {
		if r.fallback.APIKey == "" {
			return Credentials{}, fmt.Errorf("no secrets provider and no static aggregator credentials configured")
		}
		return r.fallback, nil
	}

	if cached, ok := r.cache.Get(r.secretName); ok {
		return cached, nil
	}

	raw, err := r.provider.GetSecret(ctx, r.secretName)
	if err != nil {
		r.logger.Error("aggregator.resolve_credentials_failed",
			zap.String("secret", r.secretName),
			zap.Error(err))
		if r.fallback.APIKey != "" {
			return r.fallback, nil
		}
		return Credentials{}, fmt.Errorf("resolve aggregator credentials: %w", err)
	}

	creds := Credentials{
		BaseURL: raw["base_url"],
		APIKey:  raw["api_key"],
	}
	if creds.BaseURL == "" {
		creds.BaseURL = r.fallback.BaseURL
	}
	if creds.APIKey == "" {
		return Credentials{}, fmt.Errorf("secret [%s] missing api_key", r.secretName)
	}

	r.cache.Put(r.secretName, creds)
	return creds, nil
}
