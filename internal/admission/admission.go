// Package admission is the pre-flight gate between a submission and the
// expensive work: it prices a duration in credits and compares against the
// account balance before downloads or transcription begin.
package admission

import (
	"context"
	"errors"
	"fmt"
	"math"

	"mediascribe/internal/ledger"
)

// Pricing: 10 credits per started minute, 10 minimum.
const (
	creditsPerMinute = 10
	minimumCredits   = 10
)

var ErrInsufficientCredits = errors.New("insufficient credits")

// DenialError carries the numbers the user-facing message needs.
type DenialError struct {
	Required  int64
	Available int64
}

func (e *DenialError) Error() string {
	return fmt.Sprintf("insufficient credits: need %d, have %d", e.Required, e.Available)
}

func (e *DenialError) Unwrap() error { return ErrInsufficientCredits }

// EstimateCost prices a media duration. Deterministic and non-decreasing in
// duration; any non-positive or unknown duration still costs the minimum.
func EstimateCost(durationSeconds float64) int64 {
	if durationSeconds <= 0 {
		return minimumCredits
	}
	minutes := int64(math.Ceil(durationSeconds / 60))
	cost := minutes * creditsPerMinute
	if cost < minimumCredits {
		cost = minimumCredits
	}
	return cost
}

// Controller runs read-only balance checks. It never reserves or charges.
type Controller struct {
	ledger ledger.Ledger
}

func NewController(l ledger.Ledger) *Controller {
	return &Controller{ledger: l}
}

// Check denies with a DenialError when the account cannot cover the required
// credits. A denial triggers zero side effects by construction: the caller
// has not downloaded or transcribed anything yet.
func (c *Controller) Check(ctx context.Context, accountID string, required int64) (available int64, err error) {
	available, err = c.ledger.Balance(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("balance check: %w", err)
	}
	if available < required {
		return available, &DenialError{Required: required, Available: available}
	}
	return available, nil
}
