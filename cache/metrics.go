package cache

import "expvar"

// Counters mirror bendo's nCacheHit/nCacheMiss expvar.Int pattern: plain
// process-wide counters exposed at /debug/vars by whatever serves it,
// with no dependency from this package on the HTTP layer.
var (
	nCacheHit            = expvar.NewInt("cache.hit")
	nCacheMiss           = expvar.NewInt("cache.miss")
	nCacheNotFound       = expvar.NewInt("cache.notfound")
	nEvictedSize         = expvar.NewInt("cache.evicted.size")
	nEvictedNotFound     = expvar.NewInt("cache.evicted.notfound")
	nEvictedExpired      = expvar.NewInt("cache.evicted.expired")
	gCurrentSize         = expvar.NewInt("cache.currentsize")
	gNotFoundCount       = expvar.NewInt("cache.notfoundcount")
	nRevalidated         = expvar.NewInt("cache.revalidated")
)
