package httpd

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dbrower/swdist/cache"
	"github.com/dbrower/swdist/config"
	"github.com/dbrower/swdist/store"
)

func newTestServer(t *testing.T, mem *store.Memory, cfg *config.Config) *Server {
	t.Helper()
	c, err := cache.New(mem, cache.Options{
		Dir:            t.TempDir(),
		ValidityPeriod: time.Hour,
	})
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	if cfg == nil {
		cfg = &config.Config{CacheTime: time.Hour}
	}
	return New(c, cfg, nil)
}

func TestHandleGetRouteServesBlob(t *testing.T) {
	mem := store.NewMemory()
	mem.Put("files/readme.txt", []byte("hello mirror"), "")
	s := newTestServer(t, mem, nil)

	req := httptest.NewRequest(http.MethodGet, "/files/readme.txt", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != "hello mirror" {
		t.Fatalf("body = %q", w.Body.String())
	}
}

func TestHandleGetRouteMissing(t *testing.T) {
	mem := store.NewMemory()
	s := newTestServer(t, mem, nil)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestHandleReloadRequiresAPIKey(t *testing.T) {
	mem := store.NewMemory()
	mem.Put("a", []byte("1"), "")
	cfg := &config.Config{CacheTime: time.Hour, APIKey: "secret"}
	s := newTestServer(t, mem, cfg)

	body := strings.NewReader(`["a"]`)
	req := httptest.NewRequest(http.MethodPost, "/reload", body)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status without key = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/reload", strings.NewReader(`["a"]`))
	req.Header.Set("X-API-KEY", "secret")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status with key = %d, want 200", w.Code)
	}
}

func TestHandleHealthz(t *testing.T) {
	mem := store.NewMemory()
	s := newTestServer(t, mem, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestHandleRobots(t *testing.T) {
	mem := store.NewMemory()
	s := newTestServer(t, mem, nil)

	req := httptest.NewRequest(http.MethodGet, "/robots.txt", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Disallow") {
		t.Fatalf("body = %q", w.Body.String())
	}
}
