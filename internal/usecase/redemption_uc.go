package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"

	"code-redemption-platform/internal/domain"
	"code-redemption-platform/internal/domain/model"
	"code-redemption-platform/internal/domain/ports/repository"
)

// RedemptionActor identifies the end user consuming a PIN.
type RedemptionActor struct {
	Name       string
	ExternalID string
}

// RedemptionUseCase drives the PIN lifecycle: issued -> used -> processed.
// Every transition is a single atomic conditional update at the storage
// layer; the use case never takes in-process locks because the same logical
// record may be mutated from other service instances.
type RedemptionUseCase struct {
	codes repository.CodeRepository
	tm    repository.TransactionManager
}

func NewRedemptionUseCase(codes repository.CodeRepository, tm repository.TransactionManager) *RedemptionUseCase {
	return &RedemptionUseCase{codes: codes, tm: tm}
}

// Redeem consumes a PIN on behalf of an actor. Format validation is pure and
// precedes any storage call. Of N concurrent callers exactly one succeeds;
// the rest get ErrAlreadyRedeemed.
func (uc *RedemptionUseCase) Redeem(ctx context.Context, value string, actor RedemptionActor) (*model.Code, error) {
	if err := model.ValidatePinValue(value); err != nil {
		return nil, err
	}

	info := model.RedemptionInfo{
		ActorName:  actor.Name,
		ActorID:    actor.ExternalID,
		RedeemedAt: time.Now().UTC(),
	}
	err := consumeOnce(ctx,
		func(ctx context.Context) (int64, error) {
			return uc.codes.MarkRedeemed(ctx, repository.NoTX, value, info)
		},
		func(ctx context.Context) error {
			code, err := uc.codes.FindByValue(ctx, repository.NoTX, value)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return domain.ErrNotFound
				}
				return err
			}
			if code.Used {
				return domain.ErrAlreadyRedeemed
			}
			// Row exists and is unredeemed yet the flip matched nothing:
			// a transient storage fault.
			return domain.ErrStorage
		},
	)
	if err != nil {
		return nil, err
	}
	return uc.codes.FindByValue(ctx, repository.NoTX, value)
}

// Process applies the admin-side confirmation to a single redeemed PIN,
// gated on used AND NOT processed.
func (uc *RedemptionUseCase) Process(ctx context.Context, id, adminID string) (*model.Code, error) {
	info := model.ProcessedInfo{AdminID: adminID, ProcessedAt: time.Now().UTC()}
	err := consumeOnce(ctx,
		func(ctx context.Context) (int64, error) {
			return uc.codes.MarkProcessed(ctx, repository.NoTX, id, info)
		},
		func(ctx context.Context) error {
			code, err := uc.codes.FindByID(ctx, repository.NoTX, id)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return domain.ErrNotFound
				}
				return err
			}
			switch {
			case !code.Used:
				return domain.ErrNotYetUsed
			case code.Processed:
				return domain.ErrAlreadyProcessed
			}
			return domain.ErrStorage
		},
	)
	if err != nil {
		return nil, err
	}
	return uc.codes.FindByID(ctx, repository.NoTX, id)
}

// DeleteUnused bulk-deletes codes that were never consumed. Any used code in
// the requested set blocks the whole batch with the offending ids
// enumerated: consumed state must never silently disappear. The check and
// the delete share one transaction so a concurrent redemption cannot slip
// between them.
func (uc *RedemptionUseCase) DeleteUnused(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, domain.ErrInvalidArgument
	}
	var deleted int64
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		used, err := uc.codes.UsedIDsIn(ctx, tx, ids)
		if err != nil {
			return err
		}
		if len(used) > 0 {
			return &domain.UsedCodesError{UsedIDs: used}
		}
		deleted, err = uc.codes.DeleteUnused(ctx, tx, ids)
		return err
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
