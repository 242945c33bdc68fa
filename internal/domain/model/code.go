package model

import (
	"strings"
	"time"

	"code-redemption-platform/internal/domain"
)

// CodeKind separates the two lifecycle variants stored in the same table.
type CodeKind string

const (
	// KindPin is redeemed once by an end user and later confirmed by an admin.
	KindPin CodeKind = "pin"
	// KindSerial authenticates a product exactly once; verification is terminal.
	KindSerial CodeKind = "serial"
)

// PIN value length bounds, inclusive.
const (
	PinMinLength = 16
	PinMaxLength = 21
)

// Code is a single-use token with a one-way lifecycle:
// ISSUED -> CONSUMED (-> PROCESSED, pin variant only).
type Code struct {
	ID       string
	Value    string
	Kind     CodeKind
	BatchID  string
	IsActive bool

	Used      bool // "verified" for the serial variant
	Processed bool

	Redemption   *RedemptionInfo   // set once, atomically with Used
	Verification *VerificationInfo // set once, atomically with Used
	ProcessedBy  *ProcessedInfo    // set once, atomically with Processed

	CreatedAt time.Time
	CreatedBy string
	ExpiresAt *time.Time // pointer to allow for NULL
}

// RedemptionInfo captures the end-user actor of a PIN redemption.
type RedemptionInfo struct {
	ActorName  string
	ActorID    string // free-form external id
	RedeemedAt time.Time
}

// VerificationInfo captures the provenance of a serial verification.
type VerificationInfo struct {
	IP         string
	DeviceHash string // one-way hash of request attributes, not raw headers
	VerifiedAt time.Time
}

// ProcessedInfo captures the admin confirmation of a redeemed PIN.
type ProcessedInfo struct {
	AdminID     string
	ProcessedAt time.Time
}

// Consumed reports whether the one-way state flag has flipped.
func (c *Code) Consumed() bool { return c.Used }

// Expired reports whether the code has an expiry in the past.
func (c *Code) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// ValidatePinValue is the pure format gate applied before any storage call.
// Lowercase letters are rejected with a distinct error: they signal a
// case-typo rather than garbage input, and the caller wants to say so.
func ValidatePinValue(value string) error {
	if len(value) < PinMinLength || len(value) > PinMaxLength {
		return domain.ErrInvalidLength
	}
	if strings.ToUpper(value) == value {
		for _, r := range value {
			if !isPinRune(r) {
				return domain.ErrInvalidChars
			}
		}
		return nil
	}
	for _, r := range value {
		if r >= 'a' && r <= 'z' {
			return domain.ErrLowercaseCode
		}
	}
	return domain.ErrInvalidChars
}

func isPinRune(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '-':
		return true
	}
	return false
}

// ValidateSerialValue checks a zero-padded decimal serial of the given width.
func ValidateSerialValue(value string, width int) error {
	if len(value) != width {
		return domain.ErrInvalidLength
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return domain.ErrInvalidChars
		}
	}
	return nil
}
