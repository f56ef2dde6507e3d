package quotecache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/coinhaven/swapd/internal/metrics"
	"github.com/coinhaven/swapd/internal/swap"
	"github.com/coinhaven/swapd/pkg/model"
)

// Cache is the Redis-backed short-lived quote store. Tokens come from the
// aggregator, never generated locally. Expiry is enforced lazily at lookup
// time; the Redis TTL only bounds storage and runs a grace window past the
// logical expiry so Expired stays distinguishable from NotFound.
type Cache struct {
	rdb    *redis.Client
	logger *zap.Logger
	grace  time.Duration
}

// consumeScript is the single atomic check-and-consume step. Redis executes
// scripts serially, which makes Consume linearizable: exactly one caller per
// token observes "ok"; the rest observe the used marker.
var consumeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
  return {'used'}
end
local exp = redis.call('HGET', KEYS[1], 'exp')
if not exp then
  return {'missing'}
end
if tonumber(ARGV[1]) > tonumber(exp) then
  redis.call('DEL', KEYS[1])
  return {'expired'}
end
local data = redis.call('HGET', KEYS[1], 'data')
redis.call('DEL', KEYS[1])
redis.call('SET', KEYS[2], '1', 'EX', ARGV[2])
return {'ok', data}
`)

// New creates a quote cache. grace is how long expired/consumed tokens stay
// distinguishable from never-seen ones.
func New(rdb *redis.Client, logger *zap.Logger, grace time.Duration) *Cache {
	if grace <= 0 {
		grace = 10 * time.Minute
	}
	return &Cache{rdb: rdb, logger: logger, grace: grace}
}

func quoteKey(token string) string { return "quote:" + token }
func usedKey(token string) string  { return "quote:used:" + token }

// Put stores a quote keyed by its upstream-issued token.
func (c *Cache) Put(ctx context.Context, q model.Quote) error {
	ttl := time.Until(q.ExpiresAt) + c.grace
	if ttl <= 0 {
		return fmt.Errorf("quote %s already expired at put time", q.Token)
	}

	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal quote: %w", err)
	}

	key := quoteKey(q.Token)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data, "exp", q.ExpiresAt.UnixMilli())
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store quote: %w", err)
	}
	return nil
}

// Peek returns the quote without consuming it.
func (c *Cache) Peek(ctx context.Context, token string) (*model.Quote, error) {
	used, err := c.rdb.Exists(ctx, usedKey(token)).Result()
	if err != nil {
		return nil, fmt.Errorf("quote cache lookup: %w", err)
	}
	if used == 1 {
		return nil, swap.ErrQuoteAlreadyUsed
	}

	fields, err := c.rdb.HGetAll(ctx, quoteKey(token)).Result()
	if err != nil {
		return nil, fmt.Errorf("quote cache lookup: %w", err)
	}
	if len(fields) == 0 {
		return nil, swap.ErrQuoteNotFound
	}

	expMilli, err := strconv.ParseInt(fields["exp"], 10, 64)
	if err == nil && time.Now().UnixMilli() > expMilli {
		return nil, swap.ErrQuoteExpired
	}

	var q model.Quote
	if err := json.Unmarshal([]byte(fields["data"]), &q); err != nil {
		return nil, fmt.Errorf("decode cached quote: %w", err)
	}
	return &q, nil
}

// Consume atomically removes and returns the quote. Exactly one concurrent
// caller per token succeeds; every other caller gets ErrQuoteAlreadyUsed.
func (c *Cache) Consume(ctx context.Context, token string) (*model.Quote, error) {
	res, err := consumeScript.Run(ctx, c.rdb,
		[]string{quoteKey(token), usedKey(token)},
		time.Now().UnixMilli(),
		int(c.grace.Seconds()),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("quote consume: %w", err)
	}

	parts, ok := res.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("quote consume: unexpected script result %v", res)
	}

	switch parts[0] {
	case "ok":
		metrics.QuoteConsumeTotal.WithLabelValues("ok").Inc()
		var q model.Quote
		data, _ := parts[1].(string)
		if err := json.Unmarshal([]byte(data), &q); err != nil {
			return nil, fmt.Errorf("decode consumed quote: %w", err)
		}
		return &q, nil
	case "used":
		metrics.QuoteConsumeTotal.WithLabelValues("already_used").Inc()
		return nil, swap.ErrQuoteAlreadyUsed
	case "expired":
		metrics.QuoteConsumeTotal.WithLabelValues("expired").Inc()
		return nil, swap.ErrQuoteExpired
	case "missing":
		metrics.QuoteConsumeTotal.WithLabelValues("not_found").Inc()
		return nil, swap.ErrQuoteNotFound
	default:
		return nil, fmt.Errorf("quote consume: unknown outcome %v", parts[0])
	}
}
