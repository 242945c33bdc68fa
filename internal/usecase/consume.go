package usecase

import (
	"context"
	"fmt"

	"code-redemption-platform/internal/domain"
)

// consumeOnce runs the shared one-way transition shape used by both the PIN
// and serial state machines: attempt the atomic conditional flip first, and
// only when zero rows matched run the diagnosis read to tell the caller why.
// Flipping before diagnosing is what closes the check-then-act race; among
// N concurrent callers exactly one observes matched=1.
func consumeOnce(ctx context.Context, flip func(ctx context.Context) (int64, error), diagnose func(ctx context.Context) error) error {
	matched, err := flip(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStorage, err)
	}
	if matched == 1 {
		return nil
	}
	return diagnose(ctx)
}
