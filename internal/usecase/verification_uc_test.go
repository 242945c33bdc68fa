//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"code-redemption-platform/internal/domain"
	"code-redemption-platform/internal/usecase"
)

const serialWidth = 12

var testCaller = usecase.CallerContext{
	IP:             "203.0.113.7",
	UserAgent:      "agent/1.0",
	AcceptLanguage: "en-US",
	AcceptEncoding: "gzip",
}

func TestCallerContext_Fingerprint(t *testing.T) {
	a := testCaller.Fingerprint()
	if a != testCaller.Fingerprint() {
		t.Fatal("expected the fingerprint to be deterministic")
	}
	if len(a) != 64 {
		t.Fatalf("expected a 64-char hex digest, got %d chars", len(a))
	}

	other := testCaller
	other.UserAgent = "agent/2.0"
	if a == other.Fingerprint() {
		t.Error("expected different request attributes to produce a different fingerprint")
	}
}

func TestVerificationUseCase_Verify(t *testing.T) {
	ctx := context.Background()
	const serial = "000000000042"

	t.Run("should verify an active serial and capture provenance", func(t *testing.T) {
		repo := newMemCodeRepo()
		repo.put(serialCode("id-1", serial))
		uc := usecase.NewVerificationUseCase(repo, serialWidth)

		code, err := uc.Verify(ctx, serial, testCaller)
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if !code.Used || code.Verification == nil {
			t.Fatal("expected the serial to be verified with provenance attached")
		}
		if code.Verification.IP != testCaller.IP {
			t.Errorf("unexpected IP: %s", code.Verification.IP)
		}
		if code.Verification.DeviceHash != testCaller.Fingerprint() {
			t.Error("expected the stored device hash to be the derived fingerprint")
		}
		if code.Verification.DeviceHash == testCaller.UserAgent {
			t.Error("raw request attributes must never be stored")
		}
	})

	t.Run("should report the original timestamp on re-verification", func(t *testing.T) {
		repo := newMemCodeRepo()
		repo.put(serialCode("id-1", serial))
		uc := usecase.NewVerificationUseCase(repo, serialWidth)

		first, err := uc.Verify(ctx, serial, testCaller)
		if err != nil {
			t.Fatalf("first verification failed: %v", err)
		}

		_, err = uc.Verify(ctx, serial, testCaller)
		var verErr *domain.AlreadyVerifiedError
		if !errors.As(err, &verErr) {
			t.Fatalf("expected AlreadyVerifiedError, got: %v", err)
		}
		if !verErr.VerifiedAt.Equal(first.Verification.VerifiedAt) {
			t.Errorf("expected the conflict to carry the original timestamp, got %v want %v",
				verErr.VerifiedAt, first.Verification.VerifiedAt)
		}
	})

	t.Run("should not reveal whether an unknown serial exists", func(t *testing.T) {
		uc := usecase.NewVerificationUseCase(newMemCodeRepo(), serialWidth)
		_, err := uc.Verify(ctx, serial, testCaller)
		if !errors.Is(err, domain.ErrNotFoundOrInactive) {
			t.Fatalf("expected ErrNotFoundOrInactive, got: %v", err)
		}
	})

	t.Run("should treat an inactive serial the same as a missing one", func(t *testing.T) {
		repo := newMemCodeRepo()
		c := serialCode("id-1", serial)
		c.IsActive = false
		repo.put(c)
		uc := usecase.NewVerificationUseCase(repo, serialWidth)

		_, err := uc.Verify(ctx, serial, testCaller)
		if !errors.Is(err, domain.ErrNotFoundOrInactive) {
			t.Fatalf("expected ErrNotFoundOrInactive, got: %v", err)
		}
	})

	t.Run("should reject malformed serials", func(t *testing.T) {
		uc := usecase.NewVerificationUseCase(newMemCodeRepo(), serialWidth)

		if _, err := uc.Verify(ctx, "42", testCaller); !errors.Is(err, domain.ErrInvalidLength) {
			t.Fatalf("expected ErrInvalidLength for a short value, got: %v", err)
		}
		if _, err := uc.Verify(ctx, "00000000004X", testCaller); !errors.Is(err, domain.ErrInvalidChars) {
			t.Fatalf("expected ErrInvalidChars for a non-digit value, got: %v", err)
		}
	})

	t.Run("should allow exactly one winner among concurrent verifiers", func(t *testing.T) {
		repo := newMemCodeRepo()
		repo.put(serialCode("id-1", serial))
		uc := usecase.NewVerificationUseCase(repo, serialWidth)

		const callers = 32
		var wg sync.WaitGroup
		errs := make([]error, callers)
		wg.Add(callers)
		for i := 0; i < callers; i++ {
			go func(i int) {
				defer wg.Done()
				_, errs[i] = uc.Verify(ctx, serial, testCaller)
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			var verErr *domain.AlreadyVerifiedError
			switch {
			case err == nil:
				wins++
			case errors.As(err, &verErr):
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if wins != 1 {
			t.Fatalf("expected exactly 1 winner, got %d", wins)
		}
	})
}
