package repository

import (
	"context"
	"time"

	"code-redemption-platform/internal/domain/model"
)

// InsertResult reports the outcome of a unique batch insert. Duplicates are
// reported, not treated as fatal; the storage uniqueness constraint on value
// is the final safety net behind probabilistic generation.
type InsertResult struct {
	Inserted   int
	Duplicates []string
}

// ListFilter narrows the reporting queries. Zero values mean "any".
type ListFilter struct {
	Kind      model.CodeKind
	BatchID   string
	Used      *bool
	Processed *bool
	Prefix    string
}

// CodeRepository is the port for the single-use code store.
//
// All invariant-bearing transitions (MarkRedeemed, MarkVerified,
// MarkProcessed, MarkProcessedBatch) must execute as one atomic conditional
// update: among concurrent callers racing on the same record, exactly one
// observes matched=1. The use cases never read-then-write around these.
type CodeRepository interface {
	// InsertUnique inserts codes enforcing the uniqueness constraint on value.
	InsertUnique(ctx context.Context, tx Tx, codes []*model.Code) (*InsertResult, error)

	FindByValue(ctx context.Context, tx Tx, value string) (*model.Code, error)
	FindByID(ctx context.Context, tx Tx, id string) (*model.Code, error)

	// ExistsValue backs the generator's collision probe.
	ExistsValue(ctx context.Context, tx Tx, value string) (bool, error)
	// ValuesWithPrefix pre-loads the existing keyspace slice for batch generation.
	ValuesWithPrefix(ctx context.Context, tx Tx, prefix string) (map[string]struct{}, error)
	// MaxSerial returns the largest numeric value among serial codes of the
	// given digit width, or 0 when none exist.
	MaxSerial(ctx context.Context, tx Tx, width int) (int64, error)

	// MarkRedeemed flips used=false -> true and attaches redemption info,
	// returning the matched row count (0 or 1).
	MarkRedeemed(ctx context.Context, tx Tx, value string, info model.RedemptionInfo) (int64, error)
	// MarkVerified flips the serial variant, gated on is_active AND NOT used.
	MarkVerified(ctx context.Context, tx Tx, value string, info model.VerificationInfo) (int64, error)
	// MarkProcessed flips processed on a single redeemed PIN, gated on
	// used AND NOT processed.
	MarkProcessed(ctx context.Context, tx Tx, id string, info model.ProcessedInfo) (int64, error)
	// MarkProcessedBatch is the bulk form over an id set, same gate.
	MarkProcessedBatch(ctx context.Context, tx Tx, ids []string, info model.ProcessedInfo) (int64, error)
	// FindProcessedAt reads back the rows stamped by a batch run.
	FindProcessedAt(ctx context.Context, tx Tx, adminID string, at time.Time) ([]*model.Code, error)

	// UsedIDsIn returns the subset of ids whose codes are already consumed.
	UsedIDsIn(ctx context.Context, tx Tx, ids []string) ([]string, error)
	// DeleteUnused removes codes from the id set that have used=false.
	DeleteUnused(ctx context.Context, tx Tx, ids []string) (int64, error)

	// DeactivateExpired flips is_active=false on unconsumed codes whose
	// expiry passed. Used by the sweeper, never by the hot path.
	DeactivateExpired(ctx context.Context, tx Tx, now time.Time) (int64, error)

	// Reporting surface, outside the correctness-critical path.
	CountWhere(ctx context.Context, tx Tx, f ListFilter) (int, error)
	FindWhere(ctx context.Context, tx Tx, f ListFilter, offset, limit int) ([]*model.Code, error)
}
