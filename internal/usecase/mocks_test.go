//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"code-redemption-platform/internal/domain"
	"code-redemption-platform/internal/domain/model"
	"code-redemption-platform/internal/domain/ports/repository"
)

// memCodeRepo is an in-memory CodeRepository for unit tests. The Mark*
// methods mutate under one mutex so they are atomic the same way the SQL
// conditional updates are, which lets the concurrency tests exercise the
// exactly-once guarantee without a database.
type memCodeRepo struct {
	mu      sync.Mutex
	byValue map[string]*model.Code
	byID    map[string]*model.Code

	// Func overrides let individual tests inject failures.
	InsertUniqueFunc func(ctx context.Context, tx repository.Tx, codes []*model.Code) (*repository.InsertResult, error)
	MarkRedeemedFunc func(ctx context.Context, tx repository.Tx, value string, info model.RedemptionInfo) (int64, error)
	FindByValueFunc  func(ctx context.Context, tx repository.Tx, value string) (*model.Code, error)
}

func newMemCodeRepo() *memCodeRepo {
	return &memCodeRepo{
		byValue: make(map[string]*model.Code),
		byID:    make(map[string]*model.Code),
	}
}

var _ repository.CodeRepository = (*memCodeRepo)(nil)

// put seeds a code directly, bypassing InsertUnique.
func (m *memCodeRepo) put(c *model.Code) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.byValue[cp.Value] = &cp
	m.byID[cp.ID] = &cp
}

func (m *memCodeRepo) InsertUnique(ctx context.Context, tx repository.Tx, codes []*model.Code) (*repository.InsertResult, error) {
	if m.InsertUniqueFunc != nil {
		return m.InsertUniqueFunc(ctx, tx, codes)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	res := &repository.InsertResult{}
	for _, c := range codes {
		if _, dup := m.byValue[c.Value]; dup {
			res.Duplicates = append(res.Duplicates, c.Value)
			continue
		}
		cp := *c
		m.byValue[cp.Value] = &cp
		m.byID[cp.ID] = &cp
		res.Inserted++
	}
	return res, nil
}

func (m *memCodeRepo) FindByValue(ctx context.Context, tx repository.Tx, value string) (*model.Code, error) {
	if m.FindByValueFunc != nil {
		return m.FindByValueFunc(ctx, tx, value)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byValue[value]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCodeRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCodeRepo) ExistsValue(ctx context.Context, tx repository.Tx, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byValue[value]
	return ok, nil
}

func (m *memCodeRepo) ValuesWithPrefix(ctx context.Context, tx repository.Tx, prefix string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]struct{})
	for v := range m.byValue {
		if strings.HasPrefix(v, prefix) {
			out[v] = struct{}{}
		}
	}
	return out, nil
}

func (m *memCodeRepo) MaxSerial(ctx context.Context, tx repository.Tx, width int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var max int64
	for v, c := range m.byValue {
		if c.Kind != model.KindSerial || len(v) != width {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max, nil
}

func (m *memCodeRepo) MarkRedeemed(ctx context.Context, tx repository.Tx, value string, info model.RedemptionInfo) (int64, error) {
	if m.MarkRedeemedFunc != nil {
		return m.MarkRedeemedFunc(ctx, tx, value, info)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byValue[value]
	if !ok || c.Kind != model.KindPin || c.Used {
		return 0, nil
	}
	c.Used = true
	cp := info
	c.Redemption = &cp
	return 1, nil
}

func (m *memCodeRepo) MarkVerified(ctx context.Context, tx repository.Tx, value string, info model.VerificationInfo) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byValue[value]
	if !ok || c.Kind != model.KindSerial || !c.IsActive || c.Used {
		return 0, nil
	}
	c.Used = true
	cp := info
	c.Verification = &cp
	return 1, nil
}

func (m *memCodeRepo) MarkProcessed(ctx context.Context, tx repository.Tx, id string, info model.ProcessedInfo) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markProcessedLocked(id, info), nil
}

func (m *memCodeRepo) MarkProcessedBatch(ctx context.Context, tx repository.Tx, ids []string, info model.ProcessedInfo) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched int64
	for _, id := range ids {
		matched += m.markProcessedLocked(id, info)
	}
	return matched, nil
}

func (m *memCodeRepo) markProcessedLocked(id string, info model.ProcessedInfo) int64 {
	c, ok := m.byID[id]
	if !ok || !c.Used || c.Processed {
		return 0
	}
	c.Processed = true
	cp := info
	c.ProcessedBy = &cp
	return 1
}

func (m *memCodeRepo) FindProcessedAt(ctx context.Context, tx repository.Tx, adminID string, at time.Time) ([]*model.Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Code
	for _, c := range m.byID {
		if c.Processed && c.ProcessedBy != nil &&
			c.ProcessedBy.AdminID == adminID && c.ProcessedBy.ProcessedAt.Equal(at) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memCodeRepo) UsedIDsIn(ctx context.Context, tx repository.Tx, ids []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var used []string
	for _, id := range ids {
		if c, ok := m.byID[id]; ok && c.Used {
			used = append(used, id)
		}
	}
	return used, nil
}

func (m *memCodeRepo) DeleteUnused(ctx context.Context, tx repository.Tx, ids []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for _, id := range ids {
		c, ok := m.byID[id]
		if !ok || c.Used {
			continue
		}
		delete(m.byID, id)
		delete(m.byValue, c.Value)
		deleted++
	}
	return deleted, nil
}

func (m *memCodeRepo) DeactivateExpired(ctx context.Context, tx repository.Tx, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.byID {
		if c.IsActive && !c.Used && c.Expired(now) {
			c.IsActive = false
			n++
		}
	}
	return n, nil
}

func (m *memCodeRepo) CountWhere(ctx context.Context, tx repository.Tx, f repository.ListFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.byID {
		if matchFilter(c, f) {
			n++
		}
	}
	return n, nil
}

func (m *memCodeRepo) FindWhere(ctx context.Context, tx repository.Tx, f repository.ListFilter, offset, limit int) ([]*model.Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*model.Code
	for _, c := range m.byID {
		if matchFilter(c, f) {
			cp := *c
			all = append(all, &cp)
		}
	}
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func matchFilter(c *model.Code, f repository.ListFilter) bool {
	if f.Kind != "" && c.Kind != f.Kind {
		return false
	}
	if f.BatchID != "" && c.BatchID != f.BatchID {
		return false
	}
	if f.Used != nil && c.Used != *f.Used {
		return false
	}
	if f.Processed != nil && c.Processed != *f.Processed {
		return false
	}
	if f.Prefix != "" && !strings.HasPrefix(c.Value, f.Prefix) {
		return false
	}
	return true
}

// ---- Mock TransactionManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs the function immediately with NoTX unless a test installs a
// custom WithTxFunc.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// newTestLogger creates a silent zerolog.Logger so test output stays clean.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// pinCode builds an issued, unredeemed PIN for seeding.
func pinCode(id, value string) *model.Code {
	return &model.Code{
		ID:        id,
		Value:     value,
		Kind:      model.KindPin,
		BatchID:   "batch-test",
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
		CreatedBy: "test",
	}
}

// serialCode builds an issued, unverified serial for seeding.
func serialCode(id, value string) *model.Code {
	return &model.Code{
		ID:        id,
		Value:     value,
		Kind:      model.KindSerial,
		BatchID:   "batch-test",
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
		CreatedBy: "test",
	}
}
