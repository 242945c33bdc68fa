package usecase

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"code-redemption-platform/internal/domain"
	"code-redemption-platform/internal/domain/model"
	"code-redemption-platform/internal/domain/ports/repository"
)

// codeAlphabet avoids ambiguous glyphs: no 0/O, no 1/I/l.
// 32 characters, so a random byte maps onto it without modulo bias.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	// maxAttemptsPerLength bounds the collision-retry loop before the
	// generator grows the code length by one.
	maxAttemptsPerLength = 10
	// maxCodeLength is the hard stop for length growth.
	maxCodeLength = 64
	// batchOversize produces more candidates than requested so in-flight and
	// pre-existing duplicates can be filtered without extra round trips.
	batchOversize = 2
	// maxCandidatesPerRound caps a single oversized candidate round.
	maxCandidatesPerRound = 1000
	// importChunkSize is the fixed insert chunk for bulk ingest.
	importChunkSize = 500
)

// ExistsFunc is the injected existence probe; in production it delegates to
// the code repository, in tests to an in-memory set.
type ExistsFunc func(ctx context.Context, value string) (bool, error)

// SerialRangeReport describes the outcome of sequential issuance.
type SerialRangeReport struct {
	BatchID string
	Start   int64
	End     int64 // exclusive
	Created int
	Skipped int
}

// ImportReport describes the outcome of a bulk ingest: valid rows import,
// invalid ones are reported per row.
type ImportReport struct {
	BatchID   string
	Imported  int
	RowErrors []*domain.RowError
}

// IssueReport describes a random PIN issuance run.
type IssueReport struct {
	BatchID string
	Values  []string
}

// GeneratorUseCase produces collision-free single-use codes: random PINs,
// sequential serials, and externally sourced imports.
type GeneratorUseCase struct {
	codes repository.CodeRepository
}

func NewGeneratorUseCase(codes repository.CodeRepository) *GeneratorUseCase {
	return &GeneratorUseCase{codes: codes}
}

// GenerateRandom draws totalLength-len(prefix) characters independently and
// uniformly from the code alphabet and appends them to prefix.
func GenerateRandom(prefix string, totalLength int) (string, error) {
	n := totalLength - len(prefix)
	if n <= 0 {
		return "", domain.ErrInvalidArgument
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
	}
	return prefix + string(buf), nil
}

// GenerateUnique retries GenerateRandom against the existence probe until a
// free value is found, growing the length by one after every
// maxAttemptsPerLength collisions. Growth makes the keyspace expand
// exponentially, so termination is bounded; the storage uniqueness
// constraint remains the final guarantee at insert time.
func GenerateUnique(ctx context.Context, prefix string, length int, exists ExistsFunc) (string, error) {
	for ; length <= maxCodeLength; length++ {
		for attempt := 0; attempt < maxAttemptsPerLength; attempt++ {
			candidate, err := GenerateRandom(prefix, length)
			if err != nil {
				return "", err
			}
			taken, err := exists(ctx, candidate)
			if err != nil {
				return "", err
			}
			if !taken {
				return candidate, nil
			}
		}
	}
	return "", domain.ErrKeyspaceExhausted
}

// GenerateUniqueBatch returns exactly count values unique among themselves
// and against the pre-loaded existing set. Candidates are produced in
// oversized rounds and filtered in memory, so duplicate suppression costs no
// storage round trips. Shortfalls retry with length+1.
func GenerateUniqueBatch(count int, prefix string, length int, existing map[string]struct{}) ([]string, error) {
	out := make([]string, 0, count)
	seen := make(map[string]struct{}, count)

	for ; length <= maxCodeLength; length++ {
		// Stop early if the keyspace at this length is provably too small.
		if free := keyspaceSize(length-len(prefix)) - int64(len(existing)); free < int64(count-len(out)) {
			continue
		}
		for round := 0; round < maxAttemptsPerLength && len(out) < count; round++ {
			n := (count - len(out)) * batchOversize
			if n > maxCandidatesPerRound {
				n = maxCandidatesPerRound
			}
			for i := 0; i < n && len(out) < count; i++ {
				candidate, err := GenerateRandom(prefix, length)
				if err != nil {
					return nil, err
				}
				if _, dup := existing[candidate]; dup {
					continue
				}
				if _, dup := seen[candidate]; dup {
					continue
				}
				seen[candidate] = struct{}{}
				out = append(out, candidate)
			}
		}
		if len(out) == count {
			return out, nil
		}
	}
	return nil, domain.ErrKeyspaceExhausted
}

// keyspaceSize returns len(alphabet)^n, saturating well above any practical
// batch size.
func keyspaceSize(n int) int64 {
	size := int64(1)
	for i := 0; i < n; i++ {
		size *= int64(len(codeAlphabet))
		if size > 1<<40 {
			return size
		}
	}
	return size
}

// IssuePins generates and stores count unique random PIN codes. A duplicate
// lost to a concurrent inserter is regenerated and retried once before
// being surfaced.
func (uc *GeneratorUseCase) IssuePins(ctx context.Context, count int, prefix string, length int, createdBy string, expiresAt *time.Time) (*IssueReport, error) {
	if count <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	if length < model.PinMinLength || length > model.PinMaxLength {
		return nil, domain.ErrInvalidLength
	}

	existing, err := uc.codes.ValuesWithPrefix(ctx, repository.NoTX, prefix)
	if err != nil {
		return nil, err
	}
	values, err := GenerateUniqueBatch(count, prefix, length, existing)
	if err != nil {
		return nil, err
	}

	batchID := ulid.Make().String()
	now := time.Now().UTC()
	res, err := uc.codes.InsertUnique(ctx, repository.NoTX, buildPins(values, batchID, createdBy, now, expiresAt))
	if err != nil {
		return nil, err
	}

	// Races against concurrent inserters show up as duplicates here; retry
	// the shortfall once with fresh values, then give up.
	if len(res.Duplicates) > 0 {
		for _, d := range res.Duplicates {
			existing[d] = struct{}{}
		}
		for _, v := range values {
			existing[v] = struct{}{}
		}
		retry, err := GenerateUniqueBatch(len(res.Duplicates), prefix, length, existing)
		if err != nil {
			return nil, err
		}
		res2, err := uc.codes.InsertUnique(ctx, repository.NoTX, buildPins(retry, batchID, createdBy, now, expiresAt))
		if err != nil {
			return nil, err
		}
		if len(res2.Duplicates) > 0 {
			return nil, domain.ErrDuplicateOnInsert
		}
		values = append(dropValues(values, res.Duplicates), retry...)
	}

	return &IssueReport{BatchID: batchID, Values: values}, nil
}

func buildPins(values []string, batchID, createdBy string, now time.Time, expiresAt *time.Time) []*model.Code {
	codes := make([]*model.Code, len(values))
	for i, v := range values {
		codes[i] = &model.Code{
			ID:        uuid.NewString(),
			Value:     v,
			Kind:      model.KindPin,
			BatchID:   batchID,
			IsActive:  true,
			CreatedAt: now,
			CreatedBy: createdBy,
			ExpiresAt: expiresAt,
		}
	}
	return codes
}

func dropValues(values, drop []string) []string {
	dropSet := make(map[string]struct{}, len(drop))
	for _, d := range drop {
		dropSet[d] = struct{}{}
	}
	out := values[:0]
	for _, v := range values {
		if _, ok := dropSet[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}

// IssueSerials creates a contiguous zero-padded range of serial codes.
// When startOverride is nil the range begins right after the current maximum.
// Values already present are skipped, never overwritten; the report carries
// the range boundaries plus created and skipped counts.
func (uc *GeneratorUseCase) IssueSerials(ctx context.Context, count, width int, startOverride *int64, createdBy string) (*SerialRangeReport, error) {
	if count <= 0 || width <= 0 || width > 18 {
		return nil, domain.ErrInvalidArgument
	}

	var start int64
	if startOverride != nil {
		start = *startOverride
	} else {
		max, err := uc.codes.MaxSerial(ctx, repository.NoTX, width)
		if err != nil {
			return nil, err
		}
		start = max + 1
	}
	end := start + int64(count)
	if start < 0 || len(strconv.FormatInt(end-1, 10)) > width {
		return nil, domain.ErrKeyspaceExhausted
	}

	batchID := ulid.Make().String()
	now := time.Now().UTC()
	codes := make([]*model.Code, 0, count)
	for n := start; n < end; n++ {
		codes = append(codes, &model.Code{
			ID:        uuid.NewString(),
			Value:     fmt.Sprintf("%0*d", width, n),
			Kind:      model.KindSerial,
			BatchID:   batchID,
			IsActive:  true,
			CreatedAt: now,
			CreatedBy: createdBy,
		})
	}
	res, err := uc.codes.InsertUnique(ctx, repository.NoTX, codes)
	if err != nil {
		return nil, err
	}
	return &SerialRangeReport{
		BatchID: batchID,
		Start:   start,
		End:     end,
		Created: res.Inserted,
		Skipped: len(res.Duplicates),
	}, nil
}

// Import ingests externally sourced PIN values. Each row is validated
// against the format policy (lowercase is a hard rejection, not a silent
// fold) and deduplicated both within the batch and against storage.
// Survivors are inserted in fixed-size chunks; per-row failures are
// collected, never abort the batch.
func (uc *GeneratorUseCase) Import(ctx context.Context, rows []string, createdBy string) (*ImportReport, error) {
	if len(rows) == 0 {
		return nil, domain.ErrInvalidArgument
	}

	batchID := ulid.Make().String()
	now := time.Now().UTC()
	report := &ImportReport{BatchID: batchID}

	type pending struct {
		row  int
		code *model.Code
	}
	inBatch := make(map[string]int, len(rows))
	var survivors []pending
	for i, raw := range rows {
		value := strings.TrimSpace(raw)
		if err := model.ValidatePinValue(value); err != nil {
			report.RowErrors = append(report.RowErrors, &domain.RowError{Row: i, Reason: err})
			continue
		}
		if _, dup := inBatch[value]; dup {
			report.RowErrors = append(report.RowErrors, &domain.RowError{Row: i, Reason: domain.ErrDuplicateOnInsert})
			continue
		}
		inBatch[value] = i
		survivors = append(survivors, pending{row: i, code: &model.Code{
			ID:        uuid.NewString(),
			Value:     value,
			Kind:      model.KindPin,
			BatchID:   batchID,
			IsActive:  true,
			CreatedAt: now,
			CreatedBy: createdBy,
		}})
	}

	for off := 0; off < len(survivors); off += importChunkSize {
		chunk := survivors[off:min(off+importChunkSize, len(survivors))]
		codes := make([]*model.Code, len(chunk))
		for i, p := range chunk {
			codes[i] = p.code
		}
		res, err := uc.codes.InsertUnique(ctx, repository.NoTX, codes)
		if err != nil {
			return nil, err
		}
		report.Imported += res.Inserted
		for _, dup := range res.Duplicates {
			report.RowErrors = append(report.RowErrors, &domain.RowError{
				Row:    inBatch[dup],
				Reason: domain.ErrDuplicateOnInsert,
			})
		}
	}
	return report, nil
}
