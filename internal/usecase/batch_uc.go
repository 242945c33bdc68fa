package usecase

import (
	"context"
	"time"

	"code-redemption-platform/internal/domain"
	"code-redemption-platform/internal/domain/model"
	"code-redemption-platform/internal/domain/ports/repository"
)

// MaxBatchSize bounds a single bulk processing run to keep the lock and
// contention scope small.
const MaxBatchSize = 100

// BatchResult reports exactly what a bulk run did. ProcessedCount of zero is
// a normal outcome of double submission, not an error.
type BatchResult struct {
	ProcessedCount int
	ProcessedAt    time.Time
	Processed      []*model.Code
}

// BatchUseCase applies the admin confirmation to a set of redeemed PINs in
// one bulk conditional update. Idempotent: re-invoking with the same id set
// only affects the remaining unprocessed subset.
type BatchUseCase struct {
	codes repository.CodeRepository
}

func NewBatchUseCase(codes repository.CodeRepository) *BatchUseCase {
	return &BatchUseCase{codes: codes}
}

// ProcessBatch marks every id in the set that satisfies
// used AND NOT processed, then reads back the rows stamped by this run.
func (uc *BatchUseCase) ProcessBatch(ctx context.Context, ids []string, adminID string) (*BatchResult, error) {
	if len(ids) == 0 {
		return nil, domain.ErrInvalidArgument
	}
	if len(ids) > MaxBatchSize {
		return nil, domain.ErrBatchTooLarge
	}

	// Truncate to microseconds so the read-back equality matches the
	// timestamp precision Postgres stores.
	info := model.ProcessedInfo{
		AdminID:     adminID,
		ProcessedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	matched, err := uc.codes.MarkProcessedBatch(ctx, repository.NoTX, ids, info)
	if err != nil {
		return nil, err
	}
	result := &BatchResult{ProcessedCount: int(matched), ProcessedAt: info.ProcessedAt}
	if matched == 0 {
		return result, nil
	}
	processed, err := uc.codes.FindProcessedAt(ctx, repository.NoTX, adminID, info.ProcessedAt)
	if err != nil {
		return nil, err
	}
	result.Processed = processed
	return result, nil
}
