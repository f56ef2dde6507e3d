package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// HealthChecker is implemented by the trade store.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RegisterRoutes mounts the swap API, health and metrics endpoints.
// rateLimit may be nil to disable inbound limiting (tests).
func RegisterRoutes(app *fiber.App, h *Handler, rateLimit fiber.Handler,
	rdb *redis.Client, store HealthChecker, nc *nats.Conn,
) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/health", func(c *fiber.Ctx) error {
		checks := map[string]string{
			"redis": "ok",
			"store": "ok",
			"nats":  "ok",
		}
		status := "ok"
		code := fiber.StatusOK
		degrade := func(name string, detail string) {
			checks[name] = detail
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}

		healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if rdb != nil {
			if err := rdb.Ping(healthCtx).Err(); err != nil {
				degrade("redis", err.Error())
			}
		}
		if store != nil {
			if err := store.HealthCheck(healthCtx); err != nil {
				degrade("store", err.Error())
			}
		}
		if nc != nil {
			if !nc.IsConnected() {
				degrade("nats", "disconnected")
			} else if err := nc.FlushTimeout(1 * time.Second); err != nil {
				degrade("nats", err.Error())
			}
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	})

	grp := app.Group("/swap")
	if rateLimit != nil {
		grp.Use(rateLimit)
	}

	// Static routes before the :tradeId wildcard.
	grp.Get("/rates", h.GetRates)
	grp.Get("/currencies", h.Currencies)
	grp.Get("/providers", h.Providers)
	grp.Post("/create", h.CreateTrade)
	grp.Post("/validate", h.ValidateAddress)
	grp.Get("/:tradeId", h.GetStatus)
}
