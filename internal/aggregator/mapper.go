package aggregator

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinhaven/swapd/pkg/model"
)

// quoteFromWire converts one upstream quote line into a canonical Quote
// bound to the query's pair. Quotes without a token are unusable and
// rejected here rather than poisoning the cache.
func quoteFromWire(wq wireQuote, q model.RateQuery) (model.Quote, error) {
	if wq.QuoteToken == "" {
		return model.Quote{}, fmt.Errorf("quote from %q has no token", wq.Provider)
	}

	rate, err := decimal.NewFromString(wq.Rate)
	if err != nil {
		return model.Quote{}, fmt.Errorf("bad rate %q: %w", wq.Rate, err)
	}
	amountTo, err := decimal.NewFromString(wq.AmountTo)
	if err != nil {
		return model.Quote{}, fmt.Errorf("bad amount_to %q: %w", wq.AmountTo, err)
	}

	expiresAt, err := time.Parse(time.RFC3339, wq.ExpiresAt)
	if err != nil {
		return model.Quote{}, fmt.Errorf("bad expires_at %q: %w", wq.ExpiresAt, err)
	}
	issuedAt := time.Now().UTC()
	if wq.IssuedAt != "" {
		if t, err := time.Parse(time.RFC3339, wq.IssuedAt); err == nil {
			issuedAt = t
		}
	}
	if !expiresAt.After(issuedAt) {
		return model.Quote{}, fmt.Errorf("quote from %q expires before it is issued", wq.Provider)
	}

	return model.Quote{
		Token:              wq.QuoteToken,
		FromAsset:          q.FromAsset,
		ToAsset:            q.ToAsset,
		FromNetwork:        q.FromNetwork,
		ToNetwork:          q.ToNetwork,
		Amount:             q.Amount,
		Provider:           strings.ToLower(wq.Provider),
		QuotedRate:         rate,
		QuotedOutputAmount: amountTo,
		IssuedAt:           issuedAt,
		ExpiresAt:          expiresAt,
	}, nil
}

func currencyFromWire(wc wireCurrency) model.Currency {
	return model.Currency{
		Symbol:          strings.ToLower(wc.Ticker),
		Name:            wc.Name,
		Network:         strings.ToLower(wc.Network),
		LogoURL:         wc.Image,
		RequiresExtraID: wc.Memo,
		MinAmount:       decimal.NewFromFloat(wc.Minimum),
		MaxAmount:       decimal.NewFromFloat(wc.Maximum),
	}
}

func providerFromWire(wp wireProvider) model.Provider {
	slug := strings.ReplaceAll(strings.ToLower(wp.Name), " ", "-")
	return model.Provider{
		ProviderID:   slug,
		Name:         wp.Name,
		KYCRating:    wp.Rating,
		InsurancePct: decimal.NewFromFloat(wp.Insurance),
		ETAMinutes:   int(wp.ETA),
		IsActive:     true,
	}
}
