package swap

import "errors"

// Error taxonomy surfaced by the lifecycle engine. Callers match with
// errors.Is; upstream-provided reasons are wrapped around these sentinels so
// the specific kind survives while the human-readable detail is preserved.
var (
	// ErrValidationUnavailable means the address validation backend could
	// not produce a verdict. Callers must treat this as a hard block on
	// trade creation, never as a pass.
	ErrValidationUnavailable = errors.New("address validation unavailable")

	// ErrInvalidAddress means the destination address failed validation.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrNoRoute means the aggregator returned zero quotes for the pair.
	ErrNoRoute = errors.New("no route for requested pair")

	// ErrUpstreamUnavailable covers transport and protocol failures talking
	// to the aggregator, including timeouts.
	ErrUpstreamUnavailable = errors.New("aggregator unavailable")

	// ErrUpstreamRejected means the aggregator declined to create the trade.
	ErrUpstreamRejected = errors.New("aggregator rejected trade")

	// Quote cache outcomes.
	ErrQuoteNotFound    = errors.New("quote not found")
	ErrQuoteExpired     = errors.New("quote expired")
	ErrQuoteAlreadyUsed = errors.New("quote already used")

	// ErrDuplicateUpstreamID is the trade store's idempotency guard: a row
	// with the same upstream trade id already exists. The engine recovers
	// it locally; it is never surfaced to callers.
	ErrDuplicateUpstreamID = errors.New("duplicate upstream trade id")

	// ErrTradeNotFound means no trade exists for the given trade id.
	ErrTradeNotFound = errors.New("trade not found")
)
