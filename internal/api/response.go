package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/coinhaven/swapd/internal/swap"
)

// errorBody is the uniform error shape: the kind is machine-matchable, the
// error string carries the human-readable detail (upstream reasons included).
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// kindOf maps the error taxonomy to a stable machine-readable kind and an
// HTTP status. Unrecognized errors stay a generic 500 without leaking
// internals.
func kindOf(err error) (int, string) {
	switch {
	case errors.Is(err, swap.ErrInvalidAddress):
		return fiber.StatusBadRequest, "invalid_address"
	case errors.Is(err, swap.ErrNoRoute):
		return fiber.StatusNotFound, "no_route"
	case errors.Is(err, swap.ErrQuoteNotFound):
		return fiber.StatusNotFound, "quote_not_found"
	case errors.Is(err, swap.ErrQuoteExpired):
		return fiber.StatusGone, "quote_expired"
	case errors.Is(err, swap.ErrQuoteAlreadyUsed):
		return fiber.StatusConflict, "quote_already_used"
	case errors.Is(err, swap.ErrTradeNotFound):
		return fiber.StatusNotFound, "trade_not_found"
	case errors.Is(err, swap.ErrUpstreamRejected):
		return fiber.StatusUnprocessableEntity, "upstream_rejected"
	case errors.Is(err, swap.ErrValidationUnavailable):
		return fiber.StatusServiceUnavailable, "validation_unavailable"
	case errors.Is(err, swap.ErrUpstreamUnavailable):
		return fiber.StatusBadGateway, "upstream_unavailable"
	default:
		return fiber.StatusInternalServerError, "internal"
	}
}

func errorJSON(c *fiber.Ctx, err error) error {
	code, kind := kindOf(err)
	body := errorBody{Error: err.Error(), Kind: kind}
	if code == fiber.StatusInternalServerError {
		body.Error = "internal error"
	}
	return c.Status(code).JSON(body)
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(errorBody{Error: err.Error(), Kind: "bad_request"})
}
