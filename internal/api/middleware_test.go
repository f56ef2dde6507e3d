package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newLimitedApp(t *testing.T, max int, window time.Duration) (*fiber.App, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	app := fiber.New()
	app.Use(NewRateLimiter(zap.NewNop(), rdb, RateLimitConfig{MaxRequests: max, Window: window}))
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })
	return app, mr
}

func TestRateLimiterBlocksOverBudget(t *testing.T) {
	app, _ := newLimitedApp(t, 3, time.Minute)

	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
}

func TestRateLimiterWindowResets(t *testing.T) {
	app, mr := newLimitedApp(t, 1, time.Minute)

	req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodGet, "/ping", nil)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)

	mr.FastForward(2 * time.Minute)

	req, _ = http.NewRequest(http.MethodGet, "/ping", nil)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRateLimiterFailsOpen(t *testing.T) {
	app, mr := newLimitedApp(t, 1, time.Minute)
	mr.Close()

	req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
