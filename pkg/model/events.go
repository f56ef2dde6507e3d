package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the canonical wrapper for events published to NATS.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// TradeStatusChanged is emitted whenever the lifecycle engine observes and
// persists a status transition.
type TradeStatusChanged struct {
	TradeID         string    `json:"trade_id"`
	UpstreamTradeID string    `json:"upstream_trade_id"`
	Provider        string    `json:"provider"`
	From            Status    `json:"from"`
	To              Status    `json:"to"`
	At              time.Time `json:"at"`
}
