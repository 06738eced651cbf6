package cache

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/dbrower/swdist/store"
)

func TestCacheGetIsStable(t *testing.T) {
	mem := store.NewMemory()
	c := newTestCache(t, mem, Options{})

	a, _ := c.Get("x")
	b, _ := c.Get("x")
	if a != b {
		t.Fatal("Get(x) twice returned different Items")
	}
}

func TestCacheForceExpireReplacesItem(t *testing.T) {
	mem := store.NewMemory()
	mem.Put("x", []byte("v1"), "")
	c := newTestCache(t, mem, Options{})

	a, _ := c.Get("x")
	if _, err := a.Exists(context.Background()); err != nil {
		t.Fatalf("Exists: %v", err)
	}

	c.ForceExpire([]string{"x"})

	b, _ := c.Get("x")
	if a == b {
		t.Fatal("ForceExpire did not replace the Item")
	}
	snap := b.snapshot()
	if snap.state != StateCreated {
		t.Fatalf("new Item state = %v, want Created", snap.state)
	}
}

func TestCacheCloseDisposes(t *testing.T) {
	mem := store.NewMemory()
	c, err := New(mem, Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := c.Get("x"); err != ErrDisposed {
		t.Fatalf("Get after Close = %v, want ErrDisposed", err)
	}
}

func TestCacheSizeEviction(t *testing.T) {
	mem := store.NewMemory()
	for i := 0; i < 10; i++ {
		mem.Put(fmt.Sprintf("blob-%d", i), make([]byte, 2*1024), "")
	}
	c := newTestCache(t, mem, Options{ValidityPeriod: 24 * time.Hour})
	// New() clamps MaxSize up to minMaxSize (5 MiB); override it directly so
	// this test's 2 KiB blobs can actually cross the threshold.
	c.maxSize = 10 * 1024

	var items []*Item
	for i := 0; i < 10; i++ {
		it, err := c.Get(fmt.Sprintf("blob-%d", i))
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if err := it.Download(context.Background()); err != nil {
			t.Fatalf("Download: %v", err)
		}
		if _, err := it.WaitDownload(context.Background()); err != nil {
			t.Fatalf("WaitDownload: %v", err)
		}
		items = append(items, it)
		// Keep most-recently-downloaded items most-recently-accessed so
		// eviction has a clear order to work from.
		time.Sleep(time.Millisecond)
	}

	c.enforceLimits()

	stats := c.Stats()
	if stats.CurrentSize > c.maxSize {
		t.Fatalf("CurrentSize %d exceeds MaxSize %d after enforceLimits", stats.CurrentSize, c.maxSize)
	}
	if stats.Items == 10 {
		t.Fatal("enforceLimits evicted nothing")
	}

	oldest, newest := items[0], items[len(items)-1]
	c.mu.Lock()
	_, oldestPresent := c.items[oldest.Key()]
	_, newestPresent := c.items[newest.Key()]
	c.mu.Unlock()
	if oldestPresent {
		t.Fatal("least-recently-accessed blob should have been evicted from the cache table")
	}
	if !newestPresent {
		t.Fatal("most-recently-accessed blob should still be in the cache table")
	}
	if _, err := oldest.GetLocalReader(); err == nil {
		t.Fatal("least-recently-accessed blob's local file should have been removed")
	}
	if _, err := newest.GetLocalReader(); err != nil {
		t.Fatalf("most-recently-accessed blob's local file should still be readable: %v", err)
	}
}

func TestCacheNotFoundEviction(t *testing.T) {
	mem := store.NewMemory()
	c := newTestCache(t, mem, Options{MaxNotFound: minMaxNotFound, ValidityPeriod: 24 * time.Hour})

	for i := 0; i < 3*minMaxNotFound; i++ {
		it, err := c.Get(fmt.Sprintf("missing-%d", i))
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if exists, err := it.Exists(context.Background()); err != nil || exists {
			t.Fatalf("Exists(missing-%d) = %v, %v", i, exists, err)
		}
		time.Sleep(time.Millisecond)
	}

	c.enforceLimits()

	stats := c.Stats()
	if stats.NotFoundCount > c.maxNotFound {
		t.Fatalf("NotFoundCount %d exceeds MaxNotFound %d after enforceLimits", stats.NotFoundCount, c.maxNotFound)
	}
}

func TestCacheRevalidateSkipsReDownload(t *testing.T) {
	mem := store.NewMemory()
	mem.Put("artifact", []byte("v1 bytes"), "etag-v1")
	c := newTestCache(t, mem, Options{ValidityPeriod: time.Hour})

	it, err := c.Get("artifact")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := it.Download(context.Background()); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if _, err := it.WaitDownload(context.Background()); err != nil {
		t.Fatalf("WaitDownload: %v", err)
	}

	it.mu.Lock()
	it.expiresAt = time.Now().Add(-time.Minute)
	it.mu.Unlock()

	c.enforceLimits()

	snap := it.snapshot()
	if snap.state != StateDownloaded {
		t.Fatalf("state after enforceLimits = %v, want Downloaded (revalidated, not evicted)", snap.state)
	}
	if !snap.expiresAt.After(time.Now()) {
		t.Fatal("revalidate did not extend expiresAt")
	}

	got, err := c.Get("artifact")
	if err != nil || got != it {
		t.Fatalf("Get after revalidate returned a different Item, want the same one reused")
	}
}

func TestCacheKeepForeverExemptsTimeExpiry(t *testing.T) {
	mem := store.NewMemory()
	mem.Put("pinned", []byte("data"), "")
	re := regexp.MustCompile(`^pinned$`)
	c := newTestCache(t, mem, Options{KeepForever: re, ValidityPeriod: time.Hour})

	it, err := c.Get("pinned")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if exists, err := it.Exists(context.Background()); err != nil || !exists {
		t.Fatalf("Exists(pinned) = %v, %v", exists, err)
	}

	// Force the expiry clock into the past; KeepForever should still save it.
	it.mu.Lock()
	it.expiresAt = time.Now().Add(-time.Hour)
	it.mu.Unlock()

	c.enforceLimits()

	if _, err := c.Get("pinned"); err != nil {
		t.Fatalf("Get after enforceLimits: %v", err)
	}
	snap := it.snapshot()
	if snap.state == StateExpired {
		t.Fatal("KeepForever item was expired by the time-based clause")
	}
}
