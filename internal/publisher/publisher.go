package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/coinhaven/swapd/internal/metrics"
	"github.com/coinhaven/swapd/pkg/logger"
	"github.com/coinhaven/swapd/pkg/model"
)

const (
	subjectTradeStatusChanged = "evt.swap.trade.status_changed.v1"
	eventTypeStatusChanged    = "swap.trade.status_changed"
)

// Publisher wraps a NATS connection and publishes canonical swap events.
// Publishing is best-effort: failures are logged and counted, never
// surfaced to the caller, since the trade state is already persisted.
type Publisher struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	service string
}

// New creates a Publisher with JetStream enabled.
func New(nc *nats.Conn, service string) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, js: js, service: service}, nil
}

// PublishTradeStatusChanged emits a canonical status transition event.
func (p *Publisher) PublishTradeStatusChanged(ctx context.Context, evt model.TradeStatusChanged) {
	payload, err := json.Marshal(evt)
	if err != nil {
		logger.S().Errorw("publisher.marshal_failed",
			"subject", subjectTradeStatusChanged,
			"trade_id", evt.TradeID,
			"error", err,
		)
		metrics.IncError("publisher", "marshal_failed")
		return
	}

	env := model.Envelope{
		ID:            uuid.New(),
		CorrelationID: uuid.New(),
		Topic:         subjectTradeStatusChanged,
		EventType:     eventTypeStatusChanged,
		Version:       "1.0.0",
		Timestamp:     time.Now().UTC(),
		Payload:       payload,
	}

	if err := p.publishEnvelope(subjectTradeStatusChanged, env); err != nil {
		logger.S().Errorw("publisher.publish_failed",
			"subject", subjectTradeStatusChanged,
			"trade_id", evt.TradeID,
			"from", evt.From,
			"to", evt.To,
			"error", err,
		)
		return
	}

	logger.S().Infow("publisher.publish_success",
		"subject", subjectTradeStatusChanged,
		"trade_id", evt.TradeID,
		"from", evt.From,
		"to", evt.To,
	)
}

func (p *Publisher) publishEnvelope(subject string, env model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{env.EventType},
			"correlation_id": []string{env.CorrelationID.String()},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
		},
	}

	start := time.Now()
	_, err = p.js.PublishMsg(msg)
	metrics.ObserveDuration(metrics.NATSMessageLatency, start, subject)

	if err != nil {
		metrics.IncNATSMessage(subject, "error")
		return err
	}

	metrics.IncNATSMessage(subject, "ok")
	return nil
}

func (p *Publisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		p.nc.Close()
	}
}
