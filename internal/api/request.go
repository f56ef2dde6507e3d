package api

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CreateTradeRequest is the payload to bind a cached quote to a trade.
type CreateTradeRequest struct {
	QuoteToken         string `json:"quote_token"`
	DestinationAddress string `json:"destination_address"`
	RefundAddress      string `json:"refund_address,omitempty"`
}

func (r CreateTradeRequest) Validate() error {
	if strings.TrimSpace(r.QuoteToken) == "" {
		return fmt.Errorf("quote_token is required")
	}
	if strings.TrimSpace(r.DestinationAddress) == "" {
		return fmt.Errorf("destination_address is required")
	}
	return nil
}

// ValidateAddressRequest is the payload for the standalone address check.
type ValidateAddressRequest struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Network string `json:"network"`
}

func (r ValidateAddressRequest) Validate() error {
	if strings.TrimSpace(r.Address) == "" {
		return fmt.Errorf("address is required")
	}
	if strings.TrimSpace(r.Asset) == "" {
		return fmt.Errorf("asset is required")
	}
	if strings.TrimSpace(r.Network) == "" {
		return fmt.Errorf("network is required")
	}
	return nil
}

// parseRateQuery pulls the rate lookup parameters out of the query string.
type rateQueryParams struct {
	From        string
	To          string
	NetworkFrom string
	NetworkTo   string
	Amount      decimal.Decimal
}

func parseRateQuery(get func(key string, defaults ...string) string) (rateQueryParams, error) {
	p := rateQueryParams{
		From:        strings.TrimSpace(get("from")),
		To:          strings.TrimSpace(get("to")),
		NetworkFrom: strings.TrimSpace(get("network_from")),
		NetworkTo:   strings.TrimSpace(get("network_to")),
	}
	if p.From == "" {
		return p, fmt.Errorf("from is required")
	}
	if p.To == "" {
		return p, fmt.Errorf("to is required")
	}
	rawAmount := strings.TrimSpace(get("amount"))
	if rawAmount == "" {
		return p, fmt.Errorf("amount is required")
	}
	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		return p, fmt.Errorf("amount must be a decimal number")
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return p, fmt.Errorf("amount must be greater than 0")
	}
	p.Amount = amount
	return p, nil
}
