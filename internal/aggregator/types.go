package aggregator

// Wire types for the upstream liquidity aggregator API. Amounts travel as
// strings and are parsed into decimals by the mapper.

// ratesResponse is the answer to GET /api/rates.
type ratesResponse struct {
	Quotes []wireQuote `json:"quotes"`
}

type wireQuote struct {
	Provider   string `json:"provider"`
	QuoteToken string `json:"quote_token"`
	Rate       string `json:"rate"`
	AmountTo   string `json:"amount_to"`
	IssuedAt   string `json:"issued_at"`  // RFC 3339
	ExpiresAt  string `json:"expires_at"` // RFC 3339
}

// tradeRequest is the payload for POST /api/trades.
type tradeRequest struct {
	QuoteToken    string `json:"quote_token"`
	From          string `json:"from"`
	NetworkFrom   string `json:"network_from"`
	To            string `json:"to"`
	NetworkTo     string `json:"network_to"`
	Amount        string `json:"amount"`
	Provider      string `json:"provider"`
	Address       string `json:"address"`
	RefundAddress string `json:"refund_address,omitempty"`
}

// tradeResponse is returned by POST /api/trades and GET /api/trades/{id}.
type tradeResponse struct {
	TradeID        string `json:"trade_id"`
	Status         string `json:"status"`
	DepositAddress string `json:"address_provider"`
	AmountTo       string `json:"amount_to,omitempty"`
}

// validateRequest is the payload for POST /api/validate-address.
type validateRequest struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Network string `json:"network,omitempty"`
}

type validateResponse struct {
	Valid  *bool  `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// errorResponse is the aggregator's 4xx body.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// wireCurrency is one entry of GET /api/currencies.
type wireCurrency struct {
	Ticker  string  `json:"ticker"`
	Name    string  `json:"name"`
	Network string  `json:"network"`
	Image   string  `json:"image"`
	Memo    bool    `json:"memo"`
	Minimum float64 `json:"minimum"`
	Maximum float64 `json:"maximum"`
}

// wireProvider is one entry of GET /api/providers.
type wireProvider struct {
	Name          string  `json:"name"`
	Rating        string  `json:"rating"`
	Insurance     float64 `json:"insurance"`
	ETA           float64 `json:"eta"`
	EnabledMarkup bool    `json:"enabled_markup"`
}
