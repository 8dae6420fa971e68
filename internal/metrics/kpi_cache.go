package metrics

import (
	"context"
	"log/slog"
	"time"

	"crm-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const (
	kpiCacheKey = "crm:kpi:dashboard"
	kpiLockKey  = "crm:kpi:dashboard:refresh"
)

// KPICache keeps the dashboard snapshot in redis for a short TTL.
// Dashboard reads tolerate sub-second staleness, so a brief cache
// absorbs scan load without changing observable semantics.
type KPICache struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

func NewKPICache(rdb *redis.Client, ttl time.Duration, log *slog.Logger) *KPICache {
	if ttl <= 0 {
		ttl = 500 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}
	return &KPICache{rdb: rdb, ttl: ttl, log: log}
}

// Get returns the cached snapshot. On a miss it briefly takes the
// refresh lock so only one caller recomputes; losers simply compute
// anyway (the lock is stampede control, not correctness).
func (c *KPICache) Get(ctx context.Context) (DashboardKPI, bool) {
	var k DashboardKPI
	ok, err := utils.GetCachedJSON(ctx, c.rdb, kpiCacheKey, &k)
	if err != nil {
		c.log.Warn("kpi cache read failed", "err", err)
		return DashboardKPI{}, false
	}
	if ok {
		return k, true
	}
	if _, err := utils.TryLock(ctx, c.rdb, kpiLockKey, c.ttl); err != nil {
		c.log.Warn("kpi refresh lock failed", "err", err)
	}
	return DashboardKPI{}, false
}

// Set stores the snapshot best-effort.
func (c *KPICache) Set(ctx context.Context, k DashboardKPI) {
	if err := utils.CacheJSON(ctx, c.rdb, kpiCacheKey, k, c.ttl); err != nil {
		c.log.Warn("kpi cache write failed", "err", err)
		return
	}
	if err := utils.Unlock(ctx, c.rdb, kpiLockKey); err != nil {
		c.log.Warn("kpi refresh unlock failed", "err", err)
	}
}
