package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OwnerAnonymous marks trades created without an authenticated session.
const OwnerAnonymous = "anonymous"

// Quote is an ephemeral, provider-specific exchange rate offer. It lives in
// the quote cache keyed by Token until it expires or is consumed into a
// Trade (exactly once).
type Quote struct {
	Token              string          `json:"quote_token"`
	FromAsset          string          `json:"from_asset"`
	ToAsset            string          `json:"to_asset"`
	FromNetwork        string          `json:"from_network"`
	ToNetwork          string          `json:"to_network"`
	Amount             decimal.Decimal `json:"amount"`
	Provider           string          `json:"provider"`
	QuotedRate         decimal.Decimal `json:"quoted_rate"`
	QuotedOutputAmount decimal.Decimal `json:"quoted_output_amount"`
	IssuedAt           time.Time       `json:"issued_at"`
	ExpiresAt          time.Time       `json:"expires_at"`
}

// Expired reports whether the quote is unusable at the given instant.
func (q Quote) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// Trade is the durable record of a user's commitment to execute one quote.
// Parameters copied from the bound quote are immutable after creation; only
// Status, LastCheckedAt and TerminalAt change, and only through the
// reconciliation path.
type Trade struct {
	TradeID            string          `json:"trade_id"`
	UpstreamTradeID    string          `json:"upstream_trade_id"`
	Owner              string          `json:"owner"`
	DepositAddress     string          `json:"deposit_address"`
	RefundAddress      string          `json:"refund_address"`
	DestinationAddress string          `json:"destination_address"`
	FromAsset          string          `json:"from_asset"`
	FromNetwork        string          `json:"from_network"`
	ToAsset            string          `json:"to_asset"`
	ToNetwork          string          `json:"to_network"`
	Amount             decimal.Decimal `json:"amount"`
	QuotedRate         decimal.Decimal `json:"quoted_rate"`
	QuotedOutputAmount decimal.Decimal `json:"quoted_output_amount"`
	Provider           string          `json:"provider"`
	Status             Status          `json:"status"`
	CreatedAt          time.Time       `json:"created_at"`
	LastCheckedAt      time.Time       `json:"last_checked_at"`
	TerminalAt         *time.Time      `json:"terminal_at,omitempty"`

	// Stale is set (never persisted) when a status refresh succeeded
	// upstream but could not be written locally, so the returned record is
	// the last known good state.
	Stale bool `json:"stale,omitempty"`
}

// RateQuery describes a rate lookup across providers.
type RateQuery struct {
	FromAsset   string          `json:"from"`
	ToAsset     string          `json:"to"`
	FromNetwork string          `json:"network_from"`
	ToNetwork   string          `json:"network_to"`
	Amount      decimal.Decimal `json:"amount"`
}

// Normalized returns a copy with case-normalized asset and network symbols.
func (q RateQuery) Normalized() RateQuery {
	q.FromAsset = strings.ToLower(strings.TrimSpace(q.FromAsset))
	q.ToAsset = strings.ToLower(strings.TrimSpace(q.ToAsset))
	q.FromNetwork = strings.ToLower(strings.TrimSpace(q.FromNetwork))
	q.ToNetwork = strings.ToLower(strings.TrimSpace(q.ToNetwork))
	return q
}

// TradeAck is the aggregator's answer to a create-trade call.
type TradeAck struct {
	UpstreamTradeID string
	DepositAddress  string
	Status          string // raw upstream vocabulary
}

// AddressVerdict is the normalized outcome of an address validation call.
type AddressVerdict struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}
