package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/coinhaven/swapd/pkg/model"
)

// headerUserID is set by the auth gateway in front of this service. Absent
// means an anonymous session.
const headerUserID = "X-User-ID"

// SwapService is the slice of the lifecycle engine the handlers need.
type SwapService interface {
	GetRates(ctx context.Context, query model.RateQuery) ([]model.Quote, error)
	CreateTrade(ctx context.Context, token, destAddr, refundAddr, owner string) (*model.Trade, error)
	GetStatus(ctx context.Context, tradeID string) (*model.Trade, error)
	ValidateAddress(ctx context.Context, address, asset, network string) (model.AddressVerdict, error)
}

// CatalogService serves read-only reference data.
type CatalogService interface {
	Currencies(ctx context.Context) ([]model.Currency, error)
	Providers(ctx context.Context) ([]model.Provider, error)
}

// Handler translates HTTP requests into engine calls. No business logic
// lives here: parse, call, map errors.
type Handler struct {
	logger  *zap.Logger
	service SwapService
	catalog CatalogService
}

func NewHandler(logger *zap.Logger, service SwapService, catalog CatalogService) *Handler {
	return &Handler{logger: logger, service: service, catalog: catalog}
}

// GetRates handles GET /swap/rates.
func (h *Handler) GetRates(c *fiber.Ctx) error {
	params, err := parseRateQuery(c.Query)
	if err != nil {
		return badRequest(c, err)
	}

	quotes, err := h.service.GetRates(c.Context(), model.RateQuery{
		FromAsset:   params.From,
		ToAsset:     params.To,
		FromNetwork: params.NetworkFrom,
		ToNetwork:   params.NetworkTo,
		Amount:      params.Amount,
	})
	if err != nil {
		h.logger.Warn("api.get_rates.failed",
			zap.String("from", params.From),
			zap.String("to", params.To),
			zap.Error(err))
		return errorJSON(c, err)
	}

	return c.JSON(fiber.Map{"quotes": quotes})
}

// CreateTrade handles POST /swap/create.
func (h *Handler) CreateTrade(c *fiber.Ctx) error {
	var req CreateTradeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err)
	}

	owner := c.Get(headerUserID)

	trade, err := h.service.CreateTrade(c.Context(), req.QuoteToken, req.DestinationAddress, req.RefundAddress, owner)
	if err != nil {
		h.logger.Warn("api.create_trade.failed",
			zap.String("quote_token", req.QuoteToken),
			zap.Error(err))
		return errorJSON(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(trade)
}

// GetStatus handles GET /swap/:tradeId.
func (h *Handler) GetStatus(c *fiber.Ctx) error {
	tradeID := c.Params("tradeId")

	trade, err := h.service.GetStatus(c.Context(), tradeID)
	if err != nil {
		h.logger.Warn("api.get_status.failed",
			zap.String("trade_id", tradeID),
			zap.Error(err))
		return errorJSON(c, err)
	}

	return c.JSON(trade)
}

// ValidateAddress handles POST /swap/validate.
func (h *Handler) ValidateAddress(c *fiber.Ctx) error {
	var req ValidateAddressRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err)
	}

	verdict, err := h.service.ValidateAddress(c.Context(), req.Address, req.Asset, req.Network)
	if err != nil {
		h.logger.Warn("api.validate_address.failed",
			zap.String("asset", req.Asset),
			zap.String("network", req.Network),
			zap.Error(err))
		return errorJSON(c, err)
	}

	return c.JSON(verdict)
}

// Currencies handles GET /swap/currencies.
func (h *Handler) Currencies(c *fiber.Ctx) error {
	currencies, err := h.catalog.Currencies(c.Context())
	if err != nil {
		h.logger.Warn("api.currencies.failed", zap.Error(err))
		return errorJSON(c, err)
	}
	return c.JSON(fiber.Map{"currencies": currencies})
}

// Providers handles GET /swap/providers.
func (h *Handler) Providers(c *fiber.Ctx) error {
	providers, err := h.catalog.Providers(c.Context())
	if err != nil {
		h.logger.Warn("api.providers.failed", zap.Error(err))
		return errorJSON(c, err)
	}
	return c.JSON(fiber.Map{"providers": providers})
}
