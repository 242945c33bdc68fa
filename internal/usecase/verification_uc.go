package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"code-redemption-platform/internal/domain"
	"code-redemption-platform/internal/domain/model"
	"code-redemption-platform/internal/domain/ports/repository"
)

// CallerContext carries the raw request attributes a verification arrives
// with. The raw headers are never stored; only the derived fingerprint is.
type CallerContext struct {
	IP             string
	UserAgent      string
	AcceptLanguage string
	AcceptEncoding string
}

// Fingerprint derives a stable one-way device signature from the request
// attributes. It is a deterministic fallback identity, not a
// cryptographically strong one.
func (cc CallerContext) Fingerprint() string {
	h := sha256.Sum256([]byte(strings.Join([]string{
		cc.IP, cc.UserAgent, cc.AcceptLanguage, cc.AcceptEncoding,
	}, "|")))
	return hex.EncodeToString(h[:])
}

// VerificationUseCase drives the serial lifecycle. Verification is terminal:
// a serial authenticates a product exactly once in its field life, so there
// is no un-verify and no re-verification path.
type VerificationUseCase struct {
	codes repository.CodeRepository
	width int // serial digit width
}

func NewVerificationUseCase(codes repository.CodeRepository, serialWidth int) *VerificationUseCase {
	return &VerificationUseCase{codes: codes, width: serialWidth}
}

// Verify flips is_active AND NOT used -> used, capturing IP and device
// fingerprint atomically with the flip. An already-verified serial yields an
// AlreadyVerifiedError carrying the original timestamp.
func (uc *VerificationUseCase) Verify(ctx context.Context, value string, cc CallerContext) (*model.Code, error) {
	if err := model.ValidateSerialValue(value, uc.width); err != nil {
		return nil, err
	}

	info := model.VerificationInfo{
		IP:         cc.IP,
		DeviceHash: cc.Fingerprint(),
		VerifiedAt: time.Now().UTC(),
	}
	err := consumeOnce(ctx,
		func(ctx context.Context) (int64, error) {
			return uc.codes.MarkVerified(ctx, repository.NoTX, value, info)
		},
		func(ctx context.Context) error {
			code, err := uc.codes.FindByValue(ctx, repository.NoTX, value)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return domain.ErrNotFoundOrInactive
				}
				return err
			}
			if code.Used && code.Verification != nil {
				return &domain.AlreadyVerifiedError{VerifiedAt: code.Verification.VerifiedAt}
			}
			if !code.IsActive {
				return domain.ErrNotFoundOrInactive
			}
			return domain.ErrStorage
		},
	)
	if err != nil {
		return nil, err
	}
	return uc.codes.FindByValue(ctx, repository.NoTX, value)
}
