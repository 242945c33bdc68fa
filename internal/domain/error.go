package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("code not found")
	ErrNotFoundOrInactive = errors.New("code not found or inactive")
	ErrAlreadyRedeemed    = errors.New("code already redeemed")
	ErrNotYetUsed         = errors.New("code has not been redeemed yet")
	ErrAlreadyProcessed   = errors.New("code already processed")
	ErrKeyspaceExhausted  = errors.New("code keyspace exhausted")
	ErrDuplicateOnInsert  = errors.New("duplicate code on insert")
	ErrBatchTooLarge      = errors.New("batch exceeds maximum size")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrStorage            = errors.New("storage error")

	// Format violations. All three satisfy errors.Is(err, ErrInvalidFormat)
	// so callers can branch on the family or on the specific reason.
	ErrInvalidFormat = errors.New("invalid code format")
	ErrLowercaseCode = fmt.Errorf("%w: contains lowercase letters", ErrInvalidFormat)
	ErrInvalidChars  = fmt.Errorf("%w: contains characters outside [A-Z0-9-]", ErrInvalidFormat)
	ErrInvalidLength = fmt.Errorf("%w: length outside allowed bounds", ErrInvalidFormat)
)

// AlreadyVerifiedError reports a verification attempt on a code that was
// verified before. It carries the original timestamp so the caller can show
// "already verified on X" instead of a generic conflict.
type AlreadyVerifiedError struct {
	VerifiedAt time.Time
}

func (e *AlreadyVerifiedError) Error() string {
	return fmt.Sprintf("code already verified at %s", e.VerifiedAt.Format(time.RFC3339))
}

// UsedCodesError blocks a bulk delete that includes consumed codes. The whole
// batch is rejected; offending ids are enumerated for the admin.
type UsedCodesError struct {
	UsedIDs []string
}

func (e *UsedCodesError) Error() string {
	return fmt.Sprintf("delete rejected: %d code(s) already used", len(e.UsedIDs))
}

// RowError reports a single rejected row of a bulk import. Row validation
// failures never abort the batch; they are collected and returned alongside
// the success count.
type RowError struct {
	Row    int
	Reason error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Reason)
}

func (e *RowError) Unwrap() error { return e.Reason }
