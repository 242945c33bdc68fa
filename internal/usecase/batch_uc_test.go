//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"code-redemption-platform/internal/domain"
	"code-redemption-platform/internal/usecase"
)

// seedRedeemedPins stores n redeemed, unprocessed pins and returns their ids.
func seedRedeemedPins(t *testing.T, repo *memCodeRepo, uc *usecase.RedemptionUseCase, n int) []string {
	t.Helper()
	ctx := context.Background()
	actor := usecase.RedemptionActor{Name: "Jordan", ExternalID: "ext-77"}
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("id-%d", i)
		value := fmt.Sprintf("PIN%d-EFGH-JKLM-234", i) // stays within length bounds for i < 10
		repo.put(pinCode(id, value))
		if _, err := uc.Redeem(ctx, value, actor); err != nil {
			t.Fatalf("seeding redemption %d failed: %v", i, err)
		}
		ids[i] = id
	}
	return ids
}

func TestBatchUseCase_ProcessBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("should process every eligible pin and read back the stamped rows", func(t *testing.T) {
		repo := newMemCodeRepo()
		redeemUC := usecase.NewRedemptionUseCase(repo, NewMockTxManager())
		ids := seedRedeemedPins(t, repo, redeemUC, 5)
		uc := usecase.NewBatchUseCase(repo)

		result, err := uc.ProcessBatch(ctx, ids, "admin-1")
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if result.ProcessedCount != 5 {
			t.Fatalf("expected 5 processed, got %d", result.ProcessedCount)
		}
		if len(result.Processed) != 5 {
			t.Fatalf("expected 5 rows read back, got %d", len(result.Processed))
		}
		for _, c := range result.Processed {
			if c.ProcessedBy == nil || c.ProcessedBy.AdminID != "admin-1" {
				t.Fatalf("row %s missing admin stamp", c.ID)
			}
			if !c.ProcessedBy.ProcessedAt.Equal(result.ProcessedAt) {
				t.Fatalf("row %s carries a different timestamp than the run", c.ID)
			}
		}
	})

	t.Run("should be idempotent: a re-run matches nothing and is not an error", func(t *testing.T) {
		repo := newMemCodeRepo()
		redeemUC := usecase.NewRedemptionUseCase(repo, NewMockTxManager())
		ids := seedRedeemedPins(t, repo, redeemUC, 3)
		uc := usecase.NewBatchUseCase(repo)

		if _, err := uc.ProcessBatch(ctx, ids, "admin-1"); err != nil {
			t.Fatalf("first run failed: %v", err)
		}
		result, err := uc.ProcessBatch(ctx, ids, "admin-1")
		if err != nil {
			t.Fatalf("expected a re-run to succeed, got: %v", err)
		}
		if result.ProcessedCount != 0 {
			t.Fatalf("expected 0 processed on the re-run, got %d", result.ProcessedCount)
		}
		if len(result.Processed) != 0 {
			t.Fatalf("expected no rows read back on the re-run, got %d", len(result.Processed))
		}
	})

	t.Run("should skip unredeemed pins and process the rest", func(t *testing.T) {
		repo := newMemCodeRepo()
		redeemUC := usecase.NewRedemptionUseCase(repo, NewMockTxManager())
		ids := seedRedeemedPins(t, repo, redeemUC, 2)
		repo.put(pinCode("id-fresh", "ZZZZ-EFGH-JKLM-2345")) // never redeemed
		uc := usecase.NewBatchUseCase(repo)

		result, err := uc.ProcessBatch(ctx, append(ids, "id-fresh", "id-missing"), "admin-1")
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if result.ProcessedCount != 2 {
			t.Fatalf("expected only the 2 redeemed pins to match, got %d", result.ProcessedCount)
		}
	})

	t.Run("should reject an oversized batch", func(t *testing.T) {
		uc := usecase.NewBatchUseCase(newMemCodeRepo())
		ids := make([]string, usecase.MaxBatchSize+1)
		for i := range ids {
			ids[i] = fmt.Sprintf("id-%d", i)
		}
		_, err := uc.ProcessBatch(ctx, ids, "admin-1")
		if !errors.Is(err, domain.ErrBatchTooLarge) {
			t.Fatalf("expected ErrBatchTooLarge, got: %v", err)
		}
	})

	t.Run("should reject an empty id set", func(t *testing.T) {
		uc := usecase.NewBatchUseCase(newMemCodeRepo())
		_, err := uc.ProcessBatch(ctx, nil, "admin-1")
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got: %v", err)
		}
	})
}
