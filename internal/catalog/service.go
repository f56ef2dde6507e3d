package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/coinhaven/swapd/pkg/model"
)

const currenciesCacheKey = "catalog:currencies"

// Source is the slice of the aggregator client the catalog needs.
type Source interface {
	ListCurrencies(ctx context.Context) ([]model.Currency, error)
	ListProviders(ctx context.Context) ([]model.Provider, error)
}

// Service serves read-only reference data. Currencies are cached in Redis
// with a TTL; providers are upserted into Postgres on sync and re-served
// from there, so the catalog survives aggregator outages.
type Service struct {
	logger   *zap.Logger
	source   Source
	rdb      *redis.Client
	pool     *pgxpool.Pool
	cacheTTL time.Duration
}

func NewService(logger *zap.Logger, source Source, rdb *redis.Client, pool *pgxpool.Pool, cacheTTL time.Duration) *Service {
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &Service{
		logger:   logger,
		source:   source,
		rdb:      rdb,
		pool:     pool,
		cacheTTL: cacheTTL,
	}
}

// Currencies returns the supported asset catalog, served from the Redis
// cache when fresh. A cache read failure falls through to the aggregator.
func (s *Service) Currencies(ctx context.Context) ([]model.Currency, error) {
	if s.rdb != nil {
		raw, err := s.rdb.Get(ctx, currenciesCacheKey).Bytes()
		if err == nil {
			var cached []model.Currency
			if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
				return cached, nil
			}
			s.logger.Warn("catalog.currencies_cache_corrupt", zap.Error(err))
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn("catalog.currencies_cache_read_failed", zap.Error(err))
		}
	}

	currencies, err := s.source.ListCurrencies(ctx)
	if err != nil {
		return nil, err
	}

	if s.rdb != nil {
		if raw, err := json.Marshal(currencies); err == nil {
			if err := s.rdb.Set(ctx, currenciesCacheKey, raw, s.cacheTTL).Err(); err != nil {
				s.logger.Warn("catalog.currencies_cache_write_failed", zap.Error(err))
			}
		}
	}
	return currencies, nil
}

// Providers serves the provider catalog from Postgres, syncing from the
// aggregator first when the table is empty.
func (s *Service) Providers(ctx context.Context) ([]model.Provider, error) {
	providers, err := s.loadProviders(ctx)
	if err != nil {
		return nil, err
	}
	if len(providers) > 0 {
		return providers, nil
	}
	if err := s.SyncProviders(ctx); err != nil {
		return nil, err
	}
	return s.loadProviders(ctx)
}

// SyncProviders pulls the provider catalog from the aggregator and upserts
// it into reference.providers. Called at startup and on a timer; per-row
// upsert failures are logged, not fatal.
func (s *Service) SyncProviders(ctx context.Context) error {
	providers, err := s.source.ListProviders(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	stored := 0
	for _, p := range providers {
		if err := s.upsertProvider(ctx, p, now); err != nil {
			s.logger.Warn("catalog.provider_upsert_failed",
				zap.String("provider_id", p.ProviderID),
				zap.Error(err))
			continue
		}
		stored++
	}

	s.logger.Info("catalog.provider_sync_complete",
		zap.Int("fetched", len(providers)),
		zap.Int("stored", stored))
	return nil
}

// StartSync runs SyncProviders on the given interval until the context is
// cancelled. An immediate first sync warms the table at startup.
func (s *Service) StartSync(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if err := s.SyncProviders(ctx); err != nil {
				s.logger.Warn("catalog.provider_sync_failed", zap.Error(err))
			}
			select {
			case <-ticker.C:
				continue
			case <-ctx.Done():
				s.logger.Info("catalog.provider_sync_stopped")
				return
			}
		}
	}()
}

func (s *Service) upsertProvider(ctx context.Context, p model.Provider, syncedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reference.providers
			(provider_id, name, kyc_rating, insurance_pct, eta_minutes, is_active, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (provider_id) DO UPDATE SET
			name = EXCLUDED.name,
			kyc_rating = EXCLUDED.kyc_rating,
			insurance_pct = EXCLUDED.insurance_pct,
			eta_minutes = EXCLUDED.eta_minutes,
			is_active = EXCLUDED.is_active,
			last_synced_at = EXCLUDED.last_synced_at
	`, p.ProviderID, p.Name, p.KYCRating, p.InsurancePct, p.ETAMinutes, p.IsActive, syncedAt)
	return err
}

func (s *Service) loadProviders(ctx context.Context) ([]model.Provider, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT provider_id, name, kyc_rating, insurance_pct, eta_minutes, is_active, last_synced_at
		FROM reference.providers
		WHERE is_active
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Provider
	for rows.Next() {
		var p model.Provider
		if err := rows.Scan(&p.ProviderID, &p.Name, &p.KYCRating, &p.InsurancePct,
			&p.ETAMinutes, &p.IsActive, &p.LastSyncedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
