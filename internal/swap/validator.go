package swap

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/coinhaven/swapd/pkg/model"
)

// AddressChecker is the slice of the aggregator contract the validator needs.
type AddressChecker interface {
	ValidateAddress(ctx context.Context, address, asset, network string) (*model.AddressVerdict, error)
}

// Validator normalizes the aggregator's address validation into a verdict.
// It holds no coin-specific logic of its own: per-asset address formats are
// the aggregator's concern. Unavailability is a hard error, never a pass.
type Validator struct {
	logger  *zap.Logger
	checker AddressChecker
}

func NewValidator(logger *zap.Logger, checker AddressChecker) *Validator {
	return &Validator{logger: logger, checker: checker}
}

// Validate checks an address for the asset/network. Safe to call repeatedly
// with the same input. Returns ErrValidationUnavailable when the backend
// cannot produce a verdict.
func (v *Validator) Validate(ctx context.Context, address, asset, network string) (model.AddressVerdict, error) {
	if address == "" {
		return model.AddressVerdict{Valid: false, Reason: "address is empty"}, nil
	}

	verdict, err := v.checker.ValidateAddress(ctx, address, asset, network)
	if err != nil {
		v.logger.Warn("validator.backend_failed",
			zap.String("asset", asset),
			zap.String("network", network),
			zap.Error(err))
		if errors.Is(err, ErrValidationUnavailable) {
			return model.AddressVerdict{}, err
		}
		return model.AddressVerdict{}, fmt.Errorf("%w: %v", ErrValidationUnavailable, err)
	}
	return *verdict, nil
}
