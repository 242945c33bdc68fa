package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"code-redemption-platform/internal/domain/ports/repository"
)

// ExpirySweeper periodically deactivates unconsumed codes whose expiry has
// passed. Deactivation only flips is_active; consumed state is never
// touched, so the sweep cannot race a redemption into a lost update.
type ExpirySweeper struct {
	interval time.Duration
	codes    repository.CodeRepository
	log      *zerolog.Logger
}

func NewExpirySweeper(interval time.Duration, codes repository.CodeRepository, logger *zerolog.Logger) *ExpirySweeper {
	l := logger.With().Str("component", "ExpirySweeper").Logger()
	return &ExpirySweeper{interval: interval, codes: codes, log: &l}
}

func (w *ExpirySweeper) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("starting expiry sweeper")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping expiry sweeper")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.codes.DeactivateExpired(ctx, repository.NoTX, time.Now().UTC())
			if err != nil {
				w.log.Error().Err(err).Msg("expiry sweep failed")
				continue
			}
			if n > 0 {
				w.log.Info().Int64("count", n).Msg("expired codes deactivated")
			}
		}
	}
}
