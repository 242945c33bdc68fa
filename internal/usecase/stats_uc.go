package usecase

import (
	"context"

	"code-redemption-platform/internal/domain/model"
	"code-redemption-platform/internal/domain/ports/repository"
)

// CodeStats is the admin dashboard summary.
type CodeStats struct {
	TotalPins       int `json:"total_pins"`
	RedeemedPins    int `json:"redeemed_pins"`
	ProcessedPins   int `json:"processed_pins"`
	TotalSerials    int `json:"total_serials"`
	VerifiedSerials int `json:"verified_serials"`
}

// StatsUseCase aggregates reporting counts. It sits on the reporting surface
// only; the numbers may lag writes when served through the stats cache.
type StatsUseCase struct {
	codes repository.CodeRepository
}

func NewStatsUseCase(codes repository.CodeRepository) *StatsUseCase {
	return &StatsUseCase{codes: codes}
}

func (uc *StatsUseCase) Totals(ctx context.Context) (*CodeStats, error) {
	tr := true
	var stats CodeStats
	var err error

	count := func(f repository.ListFilter) (int, error) {
		return uc.codes.CountWhere(ctx, repository.NoTX, f)
	}
	if stats.TotalPins, err = count(repository.ListFilter{Kind: model.KindPin}); err != nil {
		return nil, err
	}
	if stats.RedeemedPins, err = count(repository.ListFilter{Kind: model.KindPin, Used: &tr}); err != nil {
		return nil, err
	}
	if stats.ProcessedPins, err = count(repository.ListFilter{Kind: model.KindPin, Processed: &tr}); err != nil {
		return nil, err
	}
	if stats.TotalSerials, err = count(repository.ListFilter{Kind: model.KindSerial}); err != nil {
		return nil, err
	}
	if stats.VerifiedSerials, err = count(repository.ListFilter{Kind: model.KindSerial, Used: &tr}); err != nil {
		return nil, err
	}
	return &stats, nil
}

// List pages through codes for the admin console.
func (uc *StatsUseCase) List(ctx context.Context, f repository.ListFilter, offset, limit int) ([]*model.Code, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return uc.codes.FindWhere(ctx, repository.NoTX, f, offset, limit)
}
