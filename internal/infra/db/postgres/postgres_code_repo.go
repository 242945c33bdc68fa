package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"code-redemption-platform/internal/domain"
	"code-redemption-platform/internal/domain/model"
	"code-redemption-platform/internal/domain/ports/repository"
	"code-redemption-platform/internal/infra/metrics"
)

// Ensure implementation satisfies the interface.
var _ repository.CodeRepository = (*codeRepo)(nil)

const codeColumns = `id, value, kind, batch_id, is_active, used, processed,
actor_name, actor_id, redeemed_at,
verify_ip, device_hash, verified_at,
processed_by, processed_at,
created_at, created_by, expires_at`

type codeRepo struct {
	pool *pgxpool.Pool
}

func NewCodeRepo(pool *pgxpool.Pool) repository.CodeRepository {
	return &codeRepo{pool: pool}
}

// InsertUnique inserts codes one statement per row with
// ON CONFLICT (value) DO NOTHING; a zero rows-affected tag marks a
// duplicate. Duplicates are reported, not fatal: the uniqueness constraint
// is the final safety net behind probabilistic generation.
func (r *codeRepo) InsertUnique(ctx context.Context, tx repository.Tx, codes []*model.Code) (*repository.InsertResult, error) {
	const q = `
INSERT INTO codes (id, value, kind, batch_id, is_active, used, processed, created_at, created_by, expires_at)
VALUES ($1, $2, $3, $4, $5, FALSE, FALSE, $6, $7, $8)
ON CONFLICT (value) DO NOTHING;
`
	res := &repository.InsertResult{}
	for _, c := range codes {
		tag, err := execSQL(ctx, r.pool, tx, q,
			c.ID, c.Value, string(c.Kind), c.BatchID, c.IsActive, c.CreatedAt, c.CreatedBy, c.ExpiresAt,
		)
		if err != nil {
			return nil, err
		}
		if tag.RowsAffected() == 0 {
			res.Duplicates = append(res.Duplicates, c.Value)
			metrics.IncGenerationDuplicate()
		} else {
			res.Inserted++
		}
	}
	return res, nil
}

func (r *codeRepo) FindByValue(ctx context.Context, tx repository.Tx, value string) (*model.Code, error) {
	q := `SELECT ` + codeColumns + ` FROM codes WHERE value = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, value)
	if err != nil {
		return nil, err
	}
	return scanCode(row)
}

func (r *codeRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Code, error) {
	q := `SELECT ` + codeColumns + ` FROM codes WHERE id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanCode(row)
}

func (r *codeRepo) ExistsValue(ctx context.Context, tx repository.Tx, value string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM codes WHERE value = $1);`
	row, err := pickRow(ctx, r.pool, tx, q, value)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *codeRepo) ValuesWithPrefix(ctx context.Context, tx repository.Tx, prefix string) (map[string]struct{}, error) {
	const q = `SELECT value FROM codes WHERE value LIKE $1 || '%';`
	rows, err := pickRows(ctx, r.pool, tx, q, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = struct{}{}
	}
	return out, rows.Err()
}

func (r *codeRepo) MaxSerial(ctx context.Context, tx repository.Tx, width int) (int64, error) {
	const q = `
SELECT COALESCE(MAX(value::bigint), 0)
  FROM codes
 WHERE kind = 'serial' AND char_length(value) = $1 AND value ~ '^[0-9]+$';
`
	row, err := pickRow(ctx, r.pool, tx, q, width)
	if err != nil {
		return 0, err
	}
	var max int64
	if err := row.Scan(&max); err != nil {
		return 0, err
	}
	return max, nil
}

// MarkRedeemed is the atomic flip for the PIN variant. The WHERE clause is
// the entire concurrency story: among racing callers exactly one statement
// matches the used=FALSE row.
func (r *codeRepo) MarkRedeemed(ctx context.Context, tx repository.Tx, value string, info model.RedemptionInfo) (int64, error) {
	const q = `
UPDATE codes
   SET used = TRUE, actor_name = $2, actor_id = $3, redeemed_at = $4
 WHERE value = $1 AND kind = 'pin' AND used = FALSE;
`
	tag, err := execSQL(ctx, r.pool, tx, q, value, info.ActorName, info.ActorID, info.RedeemedAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MarkVerified is the atomic flip for the serial variant, additionally gated
// on is_active.
func (r *codeRepo) MarkVerified(ctx context.Context, tx repository.Tx, value string, info model.VerificationInfo) (int64, error) {
	const q = `
UPDATE codes
   SET used = TRUE, verify_ip = $2, device_hash = $3, verified_at = $4
 WHERE value = $1 AND kind = 'serial' AND is_active AND used = FALSE;
`
	tag, err := execSQL(ctx, r.pool, tx, q, value, info.IP, info.DeviceHash, info.VerifiedAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *codeRepo) MarkProcessed(ctx context.Context, tx repository.Tx, id string, info model.ProcessedInfo) (int64, error) {
	const q = `
UPDATE codes
   SET processed = TRUE, processed_by = $2, processed_at = $3
 WHERE id = $1 AND used AND NOT processed;
`
	tag, err := execSQL(ctx, r.pool, tx, q, id, info.AdminID, info.ProcessedAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *codeRepo) MarkProcessedBatch(ctx context.Context, tx repository.Tx, ids []string, info model.ProcessedInfo) (int64, error) {
	const q = `
UPDATE codes
   SET processed = TRUE, processed_by = $2, processed_at = $3
 WHERE id = ANY($1) AND used AND NOT processed;
`
	tag, err := execSQL(ctx, r.pool, tx, q, ids, info.AdminID, info.ProcessedAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *codeRepo) FindProcessedAt(ctx context.Context, tx repository.Tx, adminID string, at time.Time) ([]*model.Code, error) {
	q := `SELECT ` + codeColumns + ` FROM codes WHERE processed AND processed_by = $1 AND processed_at = $2 ORDER BY value;`
	rows, err := pickRows(ctx, r.pool, tx, q, adminID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCodes(rows)
}

func (r *codeRepo) UsedIDsIn(ctx context.Context, tx repository.Tx, ids []string) ([]string, error) {
	const q = `SELECT id FROM codes WHERE id = ANY($1) AND used;`
	rows, err := pickRows(ctx, r.pool, tx, q, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var used []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		used = append(used, id)
	}
	return used, rows.Err()
}

func (r *codeRepo) DeleteUnused(ctx context.Context, tx repository.Tx, ids []string) (int64, error) {
	const q = `DELETE FROM codes WHERE id = ANY($1) AND NOT used;`
	tag, err := execSQL(ctx, r.pool, tx, q, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *codeRepo) DeactivateExpired(ctx context.Context, tx repository.Tx, now time.Time) (int64, error) {
	const q = `
UPDATE codes
   SET is_active = FALSE
 WHERE is_active AND NOT used AND expires_at IS NOT NULL AND expires_at < $1;
`
	tag, err := execSQL(ctx, r.pool, tx, q, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *codeRepo) CountWhere(ctx context.Context, tx repository.Tx, f repository.ListFilter) (int, error) {
	where, args := buildFilter(f)
	row, err := pickRow(ctx, r.pool, tx, `SELECT COUNT(*) FROM codes`+where+`;`, args...)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *codeRepo) FindWhere(ctx context.Context, tx repository.Tx, f repository.ListFilter, offset, limit int) ([]*model.Code, error) {
	where, args := buildFilter(f)
	q := fmt.Sprintf(`SELECT `+codeColumns+` FROM codes%s ORDER BY created_at DESC, value OFFSET $%d LIMIT $%d;`,
		where, len(args)+1, len(args)+2)
	args = append(args, offset, limit)
	rows, err := pickRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCodes(rows)
}

func buildFilter(f repository.ListFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Kind != "" {
		add("kind = $%d", string(f.Kind))
	}
	if f.BatchID != "" {
		add("batch_id = $%d", f.BatchID)
	}
	if f.Used != nil {
		add("used = $%d", *f.Used)
	}
	if f.Processed != nil {
		add("processed = $%d", *f.Processed)
	}
	if f.Prefix != "" {
		add("value LIKE $%d || '%%'", f.Prefix)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanCode(row pgx.Row) (*model.Code, error) {
	var (
		c           model.Code
		kind        string
		actorName   *string
		actorID     *string
		redeemedAt  *time.Time
		verifyIP    *string
		deviceHash  *string
		verifiedAt  *time.Time
		processedBy *string
		processedAt *time.Time
	)
	err := row.Scan(
		&c.ID, &c.Value, &kind, &c.BatchID, &c.IsActive, &c.Used, &c.Processed,
		&actorName, &actorID, &redeemedAt,
		&verifyIP, &deviceHash, &verifiedAt,
		&processedBy, &processedAt,
		&c.CreatedAt, &c.CreatedBy, &c.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	c.Kind = model.CodeKind(kind)
	if redeemedAt != nil {
		c.Redemption = &model.RedemptionInfo{RedeemedAt: *redeemedAt}
		if actorName != nil {
			c.Redemption.ActorName = *actorName
		}
		if actorID != nil {
			c.Redemption.ActorID = *actorID
		}
	}
	if verifiedAt != nil {
		c.Verification = &model.VerificationInfo{VerifiedAt: *verifiedAt}
		if verifyIP != nil {
			c.Verification.IP = *verifyIP
		}
		if deviceHash != nil {
			c.Verification.DeviceHash = *deviceHash
		}
	}
	if processedAt != nil {
		c.ProcessedBy = &model.ProcessedInfo{ProcessedAt: *processedAt}
		if processedBy != nil {
			c.ProcessedBy.AdminID = *processedBy
		}
	}
	return &c, nil
}

func scanCodes(rows pgx.Rows) ([]*model.Code, error) {
	var out []*model.Code
	for rows.Next() {
		c, err := scanCode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
