package cache

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dbrower/swdist/store"
)

// State is the lifecycle stage of an Item. Transitions flow
// Created -> Querying -> {NotFound, Found} -> Active -> Downloaded, with
// Expire taking any non-Expired state directly to Expired.
type State int32

const (
	StateCreated State = iota
	StateQuerying
	StateNotFound
	StateFound
	StateActive
	StateDownloaded
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateQuerying:
		return "querying"
	case StateNotFound:
		return "notfound"
	case StateFound:
		return "found"
	case StateActive:
		return "active"
	case StateDownloaded:
		return "downloaded"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// negativeCacheWindow bounds how long a NotFound verdict reached via a
// transient stat error (as opposed to a confirmed remote 404) is trusted,
// so a flaky backend doesn't poison the cache for a full validity period.
const negativeCacheWindow = 30 * time.Second

const downloadChunkSize = 32 * 1024

// Item tracks the cache state of a single key. It is created once per key
// by Cache.Get and is safe for concurrent use. Callers never hold an
// Item's lock across a Cache lock acquisition; Cache may briefly hold an
// Item's lock while already holding its own, during enforceLimits.
type Item struct {
	cache *Cache
	key   string

	mu              sync.Mutex
	state           State
	expiresAt       time.Time
	lastAccessed    time.Time
	neverExpires    bool
	notFoundTransient bool

	fullLength    int64
	lastModified  time.Time
	remoteTag     string

	localPath       string
	availableLength int64
	progress        *notifier

	downloadFuture *future
}

func newItem(c *Cache, key string, expiresAt time.Time, neverExpires bool) *Item {
	return &Item{
		cache:        c,
		key:          key,
		state:        StateCreated,
		expiresAt:    expiresAt,
		lastAccessed: time.Now(),
		neverExpires: neverExpires,
	}
}

// Key returns the cache key this Item was created for.
func (it *Item) Key() string { return it.key }

func (it *Item) touch() {
	it.mu.Lock()
	it.lastAccessed = time.Now()
	it.mu.Unlock()
}

func (it *Item) isExpiredByTime() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return !it.neverExpires && !it.expiresAt.After(time.Now())
}

// Exists reports whether the remote store has the object this Item names.
// The first caller for a given Item performs the remote Stat; every other
// caller, concurrent or later, observes the same resolved answer until the
// Item is expired. Concurrent first-callers are coalesced onto a single
// Stat call via the Cache's singleflight.Group, the same mechanism bendo
// uses to coalesce concurrent tape fetches for one blob.
func (it *Item) Exists(ctx context.Context) (bool, error) {
	it.mu.Lock()
	switch it.state {
	case StateNotFound:
		it.mu.Unlock()
		nCacheHit.Add(1)
		return false, nil
	case StateFound, StateActive, StateDownloaded:
		it.mu.Unlock()
		nCacheHit.Add(1)
		return true, nil
	case StateExpired:
		it.mu.Unlock()
		return false, ErrExpired
	case StateCreated:
		it.state = StateQuerying
		nCacheMiss.Add(1)
	}
	it.mu.Unlock()

	ch := it.cache.existGroup.DoChan(it.key, func() (interface{}, error) {
		return it.probeExists(), nil
	})
	select {
	case res := <-ch:
		found, _ := res.Val.(bool)
		return found, res.Err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// probeExists issues the remote Stat and applies its result to the Item.
// It is only ever invoked from within the Cache's existGroup, so at most
// one is running per key at a time.
func (it *Item) probeExists() bool {
	info, err := it.cache.store.Stat(context.Background(), it.key)

	it.mu.Lock()
	if it.state != StateQuerying {
		// Expired while the Stat ran, or already resolved by an earlier probe.
		resolved := it.state == StateFound || it.state == StateActive || it.state == StateDownloaded
		it.mu.Unlock()
		return resolved
	}
	found := err == nil && info.Length >= 0
	switch {
	case found:
		it.fullLength = info.Length
		it.lastModified = info.LastModified
		if it.lastModified.IsZero() {
			it.lastModified = time.Unix(0, 0)
		}
		it.remoteTag = info.Tag
		it.state = StateFound
	case err == nil || store.IsNotFound(err):
		it.state = StateNotFound
		it.notFoundTransient = false
	default:
		it.state = StateNotFound
		it.notFoundTransient = true
	}
	transient := it.notFoundTransient
	it.mu.Unlock()

	if !found {
		it.cache.reportNotFound(it)
		if transient {
			it.cache.logf("stat %s: treating error as not-found: %v", it.key, err)
			it.cache.reportError(err)
			it.shortenExpiry(negativeCacheWindow)
		}
	}
	return found
}

func (it *Item) shortenExpiry(window time.Duration) {
	it.mu.Lock()
	if limit := time.Now().Add(window); it.expiresAt.After(limit) {
		it.expiresAt = limit
	}
	it.mu.Unlock()
}

// Download ensures a transfer of the remote object is in flight and
// returns once the Item has reached at least the Active state (or has
// failed outright). It does not wait for the transfer to finish: callers
// that want the full body should obtain an ItemReader via GetLocalReader
// and read it to EOF, which blocks on new bytes as they arrive.
func (it *Item) Download(ctx context.Context) error {
	exists, err := it.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}

	it.mu.Lock()
	switch it.state {
	case StateDownloaded, StateActive:
		it.mu.Unlock()
		return nil
	case StateFound:
		// proceed below
	default:
		it.mu.Unlock()
		return ErrInvalidState
	}

	path := it.cache.tempFilePath()
	f, ferr := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if ferr != nil {
		it.mu.Unlock()
		return ferr
	}
	it.state = StateActive
	it.localPath = path
	it.availableLength = 0
	it.progress = newNotifier()
	df := newFuture()
	it.downloadFuture = df
	it.mu.Unlock()

	go it.runTransfer(f, path, df)
	return nil
}

// WaitDownload blocks until the in-flight (or already-finished) download
// for this Item completes, returning whether it succeeded. It is intended
// for tests and for callers that need the full body synchronously.
func (it *Item) WaitDownload(ctx context.Context) (bool, error) {
	it.mu.Lock()
	if it.state == StateDownloaded {
		it.mu.Unlock()
		return true, nil
	}
	df := it.downloadFuture
	it.mu.Unlock()
	if df == nil {
		return false, ErrInvalidState
	}
	return df.wait(ctx)
}

func (it *Item) runTransfer(f *os.File, path string, df *future) {
	rc, err := it.cache.store.Open(context.Background(), it.key)
	if err != nil {
		it.failTransfer(f, path, err)
		df.resolve(false)
		return
	}
	defer rc.Close()

	buf := make([]byte, downloadChunkSize)
	var written int64
	for {
		n, rerr := rc.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				it.failTransfer(f, path, werr)
				df.resolve(false)
				return
			}
			written += int64(n)
			it.mu.Lock()
			if it.state != StateActive {
				// Expired mid-transfer; Expire already removed the file.
				it.mu.Unlock()
				f.Close()
				df.resolve(false)
				return
			}
			it.availableLength = written
			old := it.progress
			it.progress = newNotifier()
			it.mu.Unlock()
			old.fire()
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			it.failTransfer(f, path, rerr)
			df.resolve(false)
			return
		}
	}
	if cerr := f.Close(); cerr != nil {
		it.failTransferNoFile(path, cerr)
		df.resolve(false)
		return
	}

	it.mu.Lock()
	if it.state != StateActive {
		it.mu.Unlock()
		df.resolve(false)
		return
	}
	it.state = StateDownloaded
	it.availableLength = written
	final := it.progress
	it.mu.Unlock()

	final.fire()
	it.cache.reportCompleted(it)
	df.resolve(true)
}

func (it *Item) failTransfer(f *os.File, path string, err error) {
	f.Close()
	os.Remove(path)
	it.resetAfterFailure(err)
}

func (it *Item) failTransferNoFile(path string, err error) {
	os.Remove(path)
	it.resetAfterFailure(err)
}

func (it *Item) resetAfterFailure(err error) {
	it.mu.Lock()
	// Revert to Created so a later Download retries from scratch: its
	// Exists call probes the remote store again before the new transfer.
	// An Item that Expire already tore down stays Expired.
	if it.state != StateExpired {
		it.state = StateCreated
	}
	it.localPath = ""
	it.availableLength = 0
	old := it.progress
	it.progress = nil
	it.downloadFuture = nil
	it.mu.Unlock()
	if old != nil {
		old.fire()
	}
	it.cache.logf("download %s: %v", it.key, err)
	it.cache.reportError(err)
}

// GetLocalReader returns a reader over the cached bytes of this Item. For
// an Item still Active it returns a tailing reader that blocks for new
// bytes as the download progresses; for Downloaded it returns a reader
// over the complete, static file.
func (it *Item) GetLocalReader() (ItemReader, error) {
	it.mu.Lock()
	defer it.mu.Unlock()
	switch it.state {
	case StateDownloaded:
		f, err := os.Open(it.localPath)
		if err != nil {
			return nil, err
		}
		return &plainReader{f: f, length: it.fullLength}, nil
	case StateActive:
		f, err := os.Open(it.localPath)
		if err != nil {
			return nil, err
		}
		return &tailingReader{item: it, f: f, length: it.fullLength}, nil
	default:
		return nil, ErrInvalidState
	}
}

// Expire forces the Item into the terminal Expired state from any other
// state, releasing its local file if one exists. It is idempotent.
func (it *Item) Expire() {
	it.mu.Lock()
	prev := it.state
	if prev == StateExpired {
		it.mu.Unlock()
		return
	}
	path := it.localPath
	it.state = StateExpired
	it.localPath = ""
	sig := it.progress
	it.progress = nil
	it.mu.Unlock()

	if sig != nil {
		sig.fire()
	}
	it.cache.reportExpired(it, prev)
	if path != "" {
		os.Remove(path)
	}
}

// revalidate attempts to confirm a Downloaded item's remote object has not
// changed since it was fetched, without re-transferring its body, by using
// the store.ConditionalStore extension when the backend supports it (see
// store/gcs.go). It only ever extends expiresAt; it never replaces the
// cached body, so a change that revalidate does detect is left for the
// caller to handle by expiring the item normally.
func (it *Item) revalidate(ctx context.Context) bool {
	cs, ok := it.cache.store.(store.ConditionalStore)
	if !ok {
		return false
	}

	it.mu.Lock()
	if it.state != StateDownloaded || it.remoteTag == "" {
		it.mu.Unlock()
		return false
	}
	tag := it.remoteTag
	it.mu.Unlock()

	body, _, changed, err := cs.OpenIfChanged(ctx, it.key, tag)
	if body != nil {
		body.Close()
	}
	if err != nil || changed {
		return false
	}

	it.mu.Lock()
	stillDownloaded := it.state == StateDownloaded
	if stillDownloaded {
		it.expiresAt = time.Now().Add(it.cache.validity)
	}
	it.mu.Unlock()
	if stillDownloaded {
		nRevalidated.Add(1)
	}
	return stillDownloaded
}

// snapshot returns a point-in-time copy of the Item's fields, used by
// Cache.enforceLimits and by the Cache's size accounting. It takes the Item's own lock, so
// it must never be called while already holding it.
func (it *Item) snapshot() itemSnapshot {
	it.mu.Lock()
	defer it.mu.Unlock()
	return itemSnapshot{
		state:           it.state,
		expiresAt:       it.expiresAt,
		lastAccessed:    it.lastAccessed,
		neverExpires:    it.neverExpires,
		availableLength: it.availableLength,
	}
}

type itemSnapshot struct {
	state           State
	expiresAt       time.Time
	lastAccessed    time.Time
	neverExpires    bool
	availableLength int64
}
