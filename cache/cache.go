// Package cache implements the read-through caching engine: Item tracks
// the lifecycle of one remote object, Cache owns the Item table and
// enforces size/not-found/time bounds, and ItemReader lets HTTP handlers
// stream bytes as they arrive without waiting for a download to finish.
package cache

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dbrower/swdist/store"
)

const (
	minMaxNotFound           = 10
	minMaxSize               = 5 * (1 << 20)
	minValidityPeriod        = time.Hour
	expireTriggerJitter      = 2 * time.Second
	hysteresisFraction       = 10 // evict down to maxX - maxX/hysteresisFraction
)

// Options configures a Cache. Zero values for the numeric fields are
// clamped up to the documented minimums rather than rejected, so a caller
// that only wants to set one field can leave the rest unset.
type Options struct {
	Dir            string
	MaxNotFound    int64
	MaxSize        int64
	ValidityPeriod time.Duration
	// KeepForever, when non-nil, exempts keys it matches from time-based
	// expiry (but never from size or not-found overflow eviction).
	KeepForever *regexp.Regexp
	// OnError, when non-nil, is invoked for every RemoteTransient or
	// LocalIO error the engine observes, so a caller can forward them to
	// an error-tracking service without the engine depending on one.
	OnError func(error)
	Logger  *log.Logger
}

// Cache owns the table of Items for a single remote namespace and
// enforces the configured bounds on it.
type Cache struct {
	dir    string
	store  store.BlobStore
	logger *log.Logger
	onError func(error)

	maxNotFound int64
	maxSize     int64
	validity    time.Duration
	keepForever *regexp.Regexp

	mu            sync.Mutex
	items         map[string]*Item
	currentSize   int64
	notFoundCount int64
	disposed      bool

	existGroup singleflight.Group

	trigger    *coalescingTrigger
	closeCh    chan struct{}
	expirerDone chan struct{}

	tmpSeq uint64
}

// New constructs a Cache rooted at opts.Dir, which must already exist or
// be creatable, mirroring objects out of bs.
func New(bs store.BlobStore, opts Options) (*Cache, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("cache: Dir is required")
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("cache: create dir: %w", err)
	}
	maxNotFound := opts.MaxNotFound
	if maxNotFound < minMaxNotFound {
		maxNotFound = minMaxNotFound
	}
	maxSize := opts.MaxSize
	if maxSize < minMaxSize {
		maxSize = minMaxSize
	}
	validity := opts.ValidityPeriod
	if validity < minValidityPeriod {
		validity = minValidityPeriod
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "cache: ", log.LstdFlags)
	}

	c := &Cache{
		dir:         opts.Dir,
		store:       bs,
		logger:      logger,
		onError:     opts.OnError,
		maxNotFound: maxNotFound,
		maxSize:     maxSize,
		validity:    validity,
		keepForever: opts.KeepForever,
		items:       make(map[string]*Item),
		trigger:     newCoalescingTrigger(expireTriggerJitter),
		closeCh:     make(chan struct{}),
		expirerDone: make(chan struct{}),
	}
	go c.runExpirer()
	return c, nil
}

// Get returns the Item for key, creating it in the Created state if this
// is the first request for key since startup or since it last expired.
func (c *Cache) Get(key string) (*Item, error) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil, ErrDisposed
	}
	it, ok := c.items[key]
	if !ok {
		it = newItem(c, key, time.Now().Add(c.validity), c.neverExpires(key))
		c.items[key] = it
	}
	c.mu.Unlock()

	it.touch()
	if it.isExpiredByTime() {
		c.trigger.Fire()
	}
	return it, nil
}

func (c *Cache) neverExpires(key string) bool {
	return c.keepForever != nil && c.keepForever.MatchString(key)
}

// ForceExpire expires each named key immediately, if present, independent
// of its current state or expiry time. Unknown keys are ignored.
func (c *Cache) ForceExpire(keys []string) {
	var victims []*Item
	c.mu.Lock()
	for _, k := range keys {
		if it, ok := c.items[k]; ok {
			delete(c.items, k)
			victims = append(victims, it)
		}
	}
	c.mu.Unlock()

	for _, it := range victims {
		it.Expire()
	}
}

// Stats is a snapshot of cache occupancy, exposed for diagnostics.
type Stats struct {
	Items         int
	CurrentSize   int64
	NotFoundCount int64
	MaxSize       int64
	MaxNotFound   int64
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Items:         len(c.items),
		CurrentSize:   c.currentSize,
		NotFoundCount: c.notFoundCount,
		MaxSize:       c.maxSize,
		MaxNotFound:   c.maxNotFound,
	}
}

// Ready reports whether the Cache has finished starting up and has not
// yet been closed; it backs the httpd health check.
func (c *Cache) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.disposed
}

// Close stops the expirer, expires every remaining Item, and makes
// further Get calls return ErrDisposed.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	c.mu.Unlock()

	close(c.closeCh)
	<-c.expirerDone
	return nil
}

func (c *Cache) tempFilePath() string {
	n := atomic.AddUint64(&c.tmpSeq, 1)
	return filepath.Join(c.dir, fmt.Sprintf("tmp-%d-%d", os.Getpid(), n))
}

func (c *Cache) logf(format string, args ...interface{}) {
	c.logger.Printf(format, args...)
}

func (c *Cache) reportError(err error) {
	if c.onError != nil {
		c.onError(err)
	}
}

func (c *Cache) reportCompleted(it *Item) {
	snap := it.snapshot()
	c.mu.Lock()
	c.currentSize += snap.availableLength
	over := c.currentSize > c.maxSize
	size := c.currentSize
	c.mu.Unlock()
	gCurrentSize.Set(size)
	if over {
		c.trigger.Fire()
	}
}

func (c *Cache) reportNotFound(it *Item) {
	nCacheNotFound.Add(1)
	c.mu.Lock()
	c.notFoundCount++
	over := c.notFoundCount > c.maxNotFound
	count := c.notFoundCount
	c.mu.Unlock()
	gNotFoundCount.Set(count)
	if over {
		c.trigger.Fire()
	}
}

func (c *Cache) reportExpired(it *Item, prev State) {
	switch prev {
	case StateNotFound:
		c.mu.Lock()
		c.notFoundCount--
		count := c.notFoundCount
		c.mu.Unlock()
		gNotFoundCount.Set(count)
	case StateDownloaded:
		snap := it.snapshot()
		c.mu.Lock()
		c.currentSize -= snap.availableLength
		size := c.currentSize
		c.mu.Unlock()
		gCurrentSize.Set(size)
	}
}

func (c *Cache) runExpirer() {
	defer close(c.expirerDone)
	interval := c.validity/2 + time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-c.trigger.C():
			c.trigger.rotate()
		case <-c.closeCh:
			c.drainAll()
			return
		}
		c.enforceLimits()
	}
}

func (c *Cache) drainAll() {
	c.mu.Lock()
	victims := make([]*Item, 0, len(c.items))
	for _, it := range c.items {
		victims = append(victims, it)
	}
	c.items = make(map[string]*Item)
	c.mu.Unlock()

	for _, it := range victims {
		it.Expire()
	}
}

// enforceLimits evicts Items that push the not-found count or downloaded
// byte total over their caps (down to a hysteresis band below the cap, to
// avoid evicting on every single cycle once near the limit), and Items
// whose time-based expiry has passed and are not exempted by KeepForever.
func (c *Cache) enforceLimits() {
	now := time.Now()

	type entry struct {
		it   *Item
		snap itemSnapshot
	}

	c.mu.Lock()
	all := make([]entry, 0, len(c.items))
	for _, it := range c.items {
		all = append(all, entry{it: it, snap: it.snapshot()})
	}
	c.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].snap.lastAccessed.Before(all[j].snap.lastAccessed)
	})

	evictSet := make(map[*Item]string)

	var notFound []entry
	for _, e := range all {
		if e.snap.state == StateNotFound {
			notFound = append(notFound, e)
		}
	}
	keepNotFound := c.maxNotFound - c.maxNotFound/hysteresisFraction
	if int64(len(notFound)) > keepNotFound {
		for _, e := range notFound[:int64(len(notFound))-keepNotFound] {
			evictSet[e.it] = "notfound"
		}
	}

	// all is sorted oldest-first; walk it back to front so the running sum
	// accumulates the most-recently-accessed Downloaded items first. Once
	// the sum crosses thresh, every remaining (older) Downloaded item is
	// evicted, keeping the most-recently-accessed ones.
	var sum int64
	thresh := c.maxSize - c.maxSize/hysteresisFraction
	exceeded := false
	for i := len(all) - 1; i >= 0; i-- {
		e := all[i]
		if e.snap.state != StateDownloaded {
			continue
		}
		if exceeded {
			evictSet[e.it] = "size"
			continue
		}
		sum += e.snap.availableLength
		if sum > thresh {
			exceeded = true
		}
	}

	for _, e := range all {
		if e.snap.state == StateExpired {
			if _, ok := evictSet[e.it]; !ok {
				evictSet[e.it] = "expired"
			}
			continue
		}
		if e.snap.neverExpires {
			continue
		}
		if !e.snap.expiresAt.After(now) {
			if e.snap.state == StateDownloaded && e.it.revalidate(context.Background()) {
				continue
			}
			if _, ok := evictSet[e.it]; !ok {
				evictSet[e.it] = "expired"
			}
		}
	}

	if len(evictSet) == 0 {
		return
	}

	c.mu.Lock()
	for it := range evictSet {
		delete(c.items, it.Key())
	}
	c.mu.Unlock()

	for it, reason := range evictSet {
		it.Expire()
		switch reason {
		case "notfound":
			nEvictedNotFound.Add(1)
		case "size":
			nEvictedSize.Add(1)
		case "expired":
			nEvictedExpired.Add(1)
		}
	}
}
