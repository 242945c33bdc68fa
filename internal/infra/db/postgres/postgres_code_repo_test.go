//go:build integration

package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"code-redemption-platform/internal/domain"
	"code-redemption-platform/internal/domain/model"
	"code-redemption-platform/internal/domain/ports/repository"
)

func newTestPin(value string) *model.Code {
	return &model.Code{
		ID:        uuid.NewString(),
		Value:     value,
		Kind:      model.KindPin,
		BatchID:   "batch-it",
		IsActive:  true,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
		CreatedBy: "it",
	}
}

func newTestSerial(value string) *model.Code {
	c := newTestPin(value)
	c.Kind = model.KindSerial
	return c
}

func TestCodeRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	repo := NewCodeRepo(testPool)

	t.Run("should insert, find, and report duplicates", func(t *testing.T) {
		cleanup(t)

		first := newTestPin("AAAA-EFGH-JKLM-2345")
		res, err := repo.InsertUnique(ctx, nil, []*model.Code{first, newTestPin("BBBB-EFGH-JKLM-2345")})
		if err != nil {
			t.Fatalf("InsertUnique failed: %v", err)
		}
		if res.Inserted != 2 || len(res.Duplicates) != 0 {
			t.Fatalf("expected 2 inserted, got %+v", res)
		}

		// The same value again must be reported, not inserted.
		res, err = repo.InsertUnique(ctx, nil, []*model.Code{newTestPin("AAAA-EFGH-JKLM-2345")})
		if err != nil {
			t.Fatalf("InsertUnique failed: %v", err)
		}
		if res.Inserted != 0 || len(res.Duplicates) != 1 {
			t.Fatalf("expected 1 duplicate, got %+v", res)
		}

		found, err := repo.FindByValue(ctx, nil, "AAAA-EFGH-JKLM-2345")
		if err != nil {
			t.Fatalf("FindByValue failed: %v", err)
		}
		if found.ID != first.ID {
			t.Errorf("duplicate insert must not replace the original row")
		}
		if found.Used || found.Processed {
			t.Error("a fresh code must be unconsumed")
		}

		if _, err := repo.FindByValue(ctx, nil, "MISSING-VALUE-2345"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("should let exactly one concurrent redeemer win", func(t *testing.T) {
		cleanup(t)

		pin := newTestPin("CCCC-EFGH-JKLM-2345")
		if _, err := repo.InsertUnique(ctx, nil, []*model.Code{pin}); err != nil {
			t.Fatalf("InsertUnique failed: %v", err)
		}

		const callers = 16
		var wg sync.WaitGroup
		matched := make([]int64, callers)
		wg.Add(callers)
		for i := 0; i < callers; i++ {
			go func(i int) {
				defer wg.Done()
				info := model.RedemptionInfo{ActorName: "racer", ActorID: "ext", RedeemedAt: time.Now().UTC()}
				n, err := repo.MarkRedeemed(ctx, nil, pin.Value, info)
				if err != nil {
					t.Errorf("MarkRedeemed failed: %v", err)
					return
				}
				matched[i] = n
			}(i)
		}
		wg.Wait()

		var wins int64
		for _, n := range matched {
			wins += n
		}
		if wins != 1 {
			t.Fatalf("expected exactly 1 matched row across all callers, got %d", wins)
		}
	})

	t.Run("should gate verification on kind, activity, and prior use", func(t *testing.T) {
		cleanup(t)

		serial := newTestSerial("000000000001")
		inactive := newTestSerial("000000000002")
		inactive.IsActive = false
		pin := newTestPin("DDDD-EFGH-JKLM-2345")
		if _, err := repo.InsertUnique(ctx, nil, []*model.Code{serial, inactive, pin}); err != nil {
			t.Fatalf("InsertUnique failed: %v", err)
		}
		info := model.VerificationInfo{IP: "203.0.113.7", DeviceHash: "hash", VerifiedAt: time.Now().UTC().Truncate(time.Microsecond)}
		if n, _ := repo.MarkVerified(ctx, nil, serial.Value, info); n != 1 {
			t.Fatalf("expected the active serial to verify, matched=%d", n)
		}
		if n, _ := repo.MarkVerified(ctx, nil, serial.Value, info); n != 0 {
			t.Fatal("a verified serial must not match again")
		}
		if n, _ := repo.MarkVerified(ctx, nil, inactive.Value, info); n != 0 {
			t.Fatal("an inactive serial must not match")
		}
		if n, _ := repo.MarkVerified(ctx, nil, pin.Value, info); n != 0 {
			t.Fatal("a pin must never match the serial flip")
		}

		got, err := repo.FindByValue(ctx, nil, serial.Value)
		if err != nil {
			t.Fatalf("FindByValue failed: %v", err)
		}
		if got.Verification == nil || got.Verification.IP != info.IP || got.Verification.DeviceHash != info.DeviceHash {
			t.Fatalf("expected stored provenance, got %+v", got.Verification)
		}
	})

	t.Run("should batch-process only redeemed unprocessed rows and read them back", func(t *testing.T) {
		cleanup(t)

		redeemed1 := newTestPin("EEEE-EFGH-JKLM-2345")
		redeemed2 := newTestPin("FFFF-EFGH-JKLM-2345")
		fresh := newTestPin("GGGG-EFGH-JKLM-2345")
		if _, err := repo.InsertUnique(ctx, nil, []*model.Code{redeemed1, redeemed2, fresh}); err != nil {
			t.Fatalf("InsertUnique failed: %v", err)
		}
		rinfo := model.RedemptionInfo{ActorName: "a", ActorID: "x", RedeemedAt: time.Now().UTC()}
		for _, v := range []string{redeemed1.Value, redeemed2.Value} {
			if n, err := repo.MarkRedeemed(ctx, nil, v, rinfo); err != nil || n != 1 {
				t.Fatalf("seeding redemption of %s failed: n=%d err=%v", v, n, err)
			}
		}

		ids := []string{redeemed1.ID, redeemed2.ID, fresh.ID, uuid.NewString()}
		stamp := model.ProcessedInfo{AdminID: "admin-1", ProcessedAt: time.Now().UTC().Truncate(time.Microsecond)}
		matched, err := repo.MarkProcessedBatch(ctx, nil, ids, stamp)
		if err != nil {
			t.Fatalf("MarkProcessedBatch failed: %v", err)
		}
		if matched != 2 {
			t.Fatalf("expected 2 matched, got %d", matched)
		}

		// Re-running the same batch is a no-op.
		matched, err = repo.MarkProcessedBatch(ctx, nil, ids, stamp)
		if err != nil {
			t.Fatalf("MarkProcessedBatch re-run failed: %v", err)
		}
		if matched != 0 {
			t.Fatalf("expected 0 matched on the re-run, got %d", matched)
		}

		rows, err := repo.FindProcessedAt(ctx, nil, stamp.AdminID, stamp.ProcessedAt)
		if err != nil {
			t.Fatalf("FindProcessedAt failed: %v", err)
		}
		if len(rows) != 2 {
			t.Fatalf("expected 2 stamped rows, got %d", len(rows))
		}
	})

	t.Run("should track the serial maximum per width", func(t *testing.T) {
		cleanup(t)

		if max, err := repo.MaxSerial(ctx, nil, 12); err != nil || max != 0 {
			t.Fatalf("expected 0 on an empty store, got %d / %v", max, err)
		}
		fixtures := []*model.Code{
			newTestSerial("000000000007"),
			newTestSerial("000000000042"),
			newTestSerial("0099"), // different width, must not count
		}
		if _, err := repo.InsertUnique(ctx, nil, fixtures); err != nil {
			t.Fatalf("InsertUnique failed: %v", err)
		}
		max, err := repo.MaxSerial(ctx, nil, 12)
		if err != nil {
			t.Fatalf("MaxSerial failed: %v", err)
		}
		if max != 42 {
			t.Fatalf("expected 42, got %d", max)
		}
	})

	t.Run("should delete only unused rows and enumerate used ones", func(t *testing.T) {
		cleanup(t)

		used := newTestPin("HHHH-EFGH-JKLM-2345")
		unused := newTestPin("JJJJ-EFGH-JKLM-2345")
		if _, err := repo.InsertUnique(ctx, nil, []*model.Code{used, unused}); err != nil {
			t.Fatalf("InsertUnique failed: %v", err)
		}
		rinfo := model.RedemptionInfo{ActorName: "a", ActorID: "x", RedeemedAt: time.Now().UTC()}
		if n, err := repo.MarkRedeemed(ctx, nil, used.Value, rinfo); err != nil || n != 1 {
			t.Fatalf("seeding redemption failed: n=%d err=%v", n, err)
		}

		ids := []string{used.ID, unused.ID}
		usedIDs, err := repo.UsedIDsIn(ctx, nil, ids)
		if err != nil {
			t.Fatalf("UsedIDsIn failed: %v", err)
		}
		if len(usedIDs) != 1 || usedIDs[0] != used.ID {
			t.Fatalf("expected only the used id, got %v", usedIDs)
		}

		deleted, err := repo.DeleteUnused(ctx, nil, ids)
		if err != nil {
			t.Fatalf("DeleteUnused failed: %v", err)
		}
		if deleted != 1 {
			t.Fatalf("expected 1 deleted, got %d", deleted)
		}
		if _, err := repo.FindByID(ctx, nil, used.ID); err != nil {
			t.Fatalf("the used row must survive: %v", err)
		}
	})

	t.Run("should deactivate expired unconsumed codes", func(t *testing.T) {
		cleanup(t)

		past := time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)
		expired := newTestPin("KKKK-EFGH-JKLM-2345")
		expired.ExpiresAt = &past
		unexpired := newTestPin("LLLL-EFGH-JKLM-2345")
		if _, err := repo.InsertUnique(ctx, nil, []*model.Code{expired, unexpired}); err != nil {
			t.Fatalf("InsertUnique failed: %v", err)
		}

		n, err := repo.DeactivateExpired(ctx, nil, time.Now().UTC())
		if err != nil {
			t.Fatalf("DeactivateExpired failed: %v", err)
		}
		if n != 1 {
			t.Fatalf("expected 1 deactivated, got %d", n)
		}
		got, _ := repo.FindByValue(ctx, nil, expired.Value)
		if got.IsActive {
			t.Error("expected the expired code to be inactive")
		}
	})

	t.Run("should filter counts and listings", func(t *testing.T) {
		cleanup(t)

		fixtures := []*model.Code{
			newTestPin("MMMM-EFGH-JKLM-2345"),
			newTestPin("NNNN-EFGH-JKLM-2345"),
			newTestSerial("000000000010"),
		}
		if _, err := repo.InsertUnique(ctx, nil, fixtures); err != nil {
			t.Fatalf("InsertUnique failed: %v", err)
		}
		rinfo := model.RedemptionInfo{ActorName: "a", ActorID: "x", RedeemedAt: time.Now().UTC()}
		if n, err := repo.MarkRedeemed(ctx, nil, "MMMM-EFGH-JKLM-2345", rinfo); err != nil || n != 1 {
			t.Fatalf("seeding redemption failed: n=%d err=%v", n, err)
		}

		tr := true
		n, err := repo.CountWhere(ctx, nil, repository.ListFilter{Kind: model.KindPin, Used: &tr})
		if err != nil {
			t.Fatalf("CountWhere failed: %v", err)
		}
		if n != 1 {
			t.Fatalf("expected 1 redeemed pin, got %d", n)
		}

		rows, err := repo.FindWhere(ctx, nil, repository.ListFilter{Prefix: "NNNN"}, 0, 10)
		if err != nil {
			t.Fatalf("FindWhere failed: %v", err)
		}
		if len(rows) != 1 || rows[0].Value != "NNNN-EFGH-JKLM-2345" {
			t.Fatalf("unexpected listing: %v", rows)
		}
	})
}
