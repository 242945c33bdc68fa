package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"code-redemption-platform/internal/domain/ports/repository"
	"code-redemption-platform/internal/infra/metrics"
	red "code-redemption-platform/internal/infra/redis"
)

var _ repository.CodeRepository = (*codeStatsCacheDecorator)(nil)

// codeStatsCacheDecorator caches the reporting counts behind a short TTL.
// Only CountWhere is cached: the admin dashboard hits it on every page load
// and tolerates slightly stale numbers. The correctness-critical operations
// pass straight through.
type codeStatsCacheDecorator struct {
	repository.CodeRepository
	cache red.RedisClient
	ttl   time.Duration
}

func NewCodeStatsCacheDecorator(inner repository.CodeRepository, cache red.RedisClient, ttl time.Duration) repository.CodeRepository {
	return &codeStatsCacheDecorator{CodeRepository: inner, cache: cache, ttl: ttl}
}

func (d *codeStatsCacheDecorator) CountWhere(ctx context.Context, tx repository.Tx, f repository.ListFilter) (int, error) {
	key := countKey(f)
	if val, err := d.cache.Get(ctx, key); err == nil {
		if n, convErr := strconv.Atoi(val); convErr == nil {
			metrics.IncCacheRequest("code_count", "hit")
			return n, nil
		}
	}
	metrics.IncCacheRequest("code_count", "miss")

	n, err := d.CodeRepository.CountWhere(ctx, tx, f)
	if err != nil {
		return 0, err
	}
	_ = d.cache.Set(ctx, key, strconv.Itoa(n), d.ttl)
	return n, nil
}

func countKey(f repository.ListFilter) string {
	return fmt.Sprintf("codes:count:%s:%s:%s:%s:%s",
		f.Kind, f.BatchID, boolKey(f.Used), boolKey(f.Processed), f.Prefix)
}

func boolKey(b *bool) string {
	if b == nil {
		return "any"
	}
	return strconv.FormatBool(*b)
}
