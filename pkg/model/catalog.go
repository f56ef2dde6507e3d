package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency is read-only reference data about a supported asset, sourced
// from the aggregator catalog.
type Currency struct {
	Symbol          string          `json:"symbol"`
	Name            string          `json:"name"`
	Network         string          `json:"network"`
	LogoURL         string          `json:"logo_url,omitempty"`
	RequiresExtraID bool            `json:"requires_extra_id"`
	MinAmount       decimal.Decimal `json:"min_amount"`
	MaxAmount       decimal.Decimal `json:"max_amount"`
}

// Provider is read-only reference data about an upstream liquidity source.
type Provider struct {
	ProviderID   string          `json:"provider_id"`
	Name         string          `json:"name"`
	KYCRating    string          `json:"kyc_rating"`
	InsurancePct decimal.Decimal `json:"insurance_pct"`
	ETAMinutes   int             `json:"eta_minutes"`
	IsActive     bool            `json:"is_active"`
	LastSyncedAt time.Time       `json:"last_synced_at"`
}
