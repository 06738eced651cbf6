// Package httpd serves the cache engine over HTTP: GET routes for blob
// bodies and the root/robots pages, POST /reload for forced expiry, and
// GET /healthz and /debug/vars for operational visibility. None of this
// package's logic lives inside cache, matching bendo's own split between
// server (HTTP) and item.go (engine).
package httpd

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"expvar"
	"io"
	"log"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"

	"github.com/dbrower/swdist/cache"
	"github.com/dbrower/swdist/config"
)

// Server wires a *cache.Cache to the HTTP surface described by the
// configuration keys table.
type Server struct {
	cache  *cache.Cache
	cfg    *config.Config
	logger *log.Logger
}

// New returns a Server ready to be mounted via Handler.
func New(c *cache.Cache, cfg *config.Config, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{cache: c, cfg: cfg, logger: logger}
}

// Handler builds the route table. GET routes other than the static ones
// listed here fall through to handleGetRoute, which resolves the path against
// the cache.
func (s *Server) Handler() http.Handler {
	r := httprouter.New()
	r.GET("/", s.handleRoot)
	r.GET("/robots.txt", s.handleRobots)
	r.POST("/reload", s.handleReload)
	r.GET("/healthz", s.handleHealthz)
	r.Handler(http.MethodGet, "/debug/vars", expvar.Handler())
	r.NotFound = http.HandlerFunc(s.handleGetRoute)
	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.cfg.Redirect != "" {
		http.Redirect(w, r, s.cfg.Redirect, http.StatusFound)
		return
	}
	http.NotFound(w, r)
}

func (s *Server) handleRobots(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "User-agent: *\nDisallow: /\n")
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if !s.cache.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, "not ready\n")
		return
	}
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "ok\n")
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.cfg.APIKey == "" || !constantTimeEqual(r.Header.Get("X-API-KEY"), s.cfg.APIKey) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	var keys []string
	if err := json.NewDecoder(r.Body).Decode(&keys); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.cache.ForceExpire(keys)
	w.WriteHeader(http.StatusOK)
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// handleGetRoute serves GET requests against arbitrary paths by resolving
// them as cache keys; it is installed as the router's NotFound handler so
// it never competes with the small set of static routes above.
func (s *Server) handleGetRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	key := s.resolveKey(r.URL.Path)
	it, err := s.cache.Get(key)
	if err != nil {
		if errors.Is(err, cache.ErrDisposed) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		s.logger.Printf("httpd: get %s: %v", key, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	exists, err := it.Exists(r.Context())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Printf("httpd: exists %s: %v", key, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !exists {
		s.serveNotFound(w, r)
		return
	}

	if err := it.Download(r.Context()); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			s.serveNotFound(w, r)
			return
		}
		s.logger.Printf("httpd: download %s: %v", key, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	rdr, err := it.GetLocalReader()
	if err != nil {
		s.logger.Printf("httpd: reader %s: %v", key, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer rdr.Close()

	w.Header().Set("Content-Length", strconv.FormatInt(rdr.Length(), 10))
	if ctype := mime.TypeByExtension(filepath.Ext(key)); ctype != "" {
		w.Header().Set("Content-Type", ctype)
	}
	s.setCacheControl(w, key)

	if r.Method == http.MethodHead {
		return
	}

	if _, err := copyWithContext(r.Context(), w, rdr); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Printf("httpd: stream %s: %v", key, err)
	}
}

func (s *Server) resolveKey(path string) string {
	if s.cfg.IndexPageMatch != nil && s.cfg.IndexPage != "" && s.cfg.IndexPageMatch.MatchString(path) {
		return s.cfg.IndexPage
	}
	return strings.TrimPrefix(path, "/")
}

func (s *Server) serveNotFound(w http.ResponseWriter, r *http.Request) {
	if s.cfg.NotFoundPage == "" {
		http.NotFound(w, r)
		return
	}
	it, err := s.cache.Get(s.cfg.NotFoundPage)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if exists, err := it.Exists(r.Context()); err != nil || !exists {
		http.NotFound(w, r)
		return
	}
	if err := it.Download(r.Context()); err != nil {
		http.NotFound(w, r)
		return
	}
	rdr, err := it.GetLocalReader()
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer rdr.Close()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	copyWithContext(r.Context(), w, rdr)
}

func (s *Server) setCacheControl(w http.ResponseWriter, key string) {
	if s.cfg.NoCache != nil && s.cfg.NoCache.MatchString(key) {
		w.Header().Set("Cache-Control", "private, no-cache, no-store")
		return
	}
	maxAge := int64(s.cfg.CacheTime.Seconds())
	if maxAge > 1 {
		maxAge--
	}
	w.Header().Set("Cache-Control", "public, max-age="+strconv.FormatInt(maxAge, 10))
}

// ctxReader is implemented by readers that can honor a request context
// while blocking for more bytes (see cache.tailingReader).
type ctxReader interface {
	ReadContext(ctx context.Context, p []byte) (int, error)
}

func copyWithContext(ctx context.Context, w io.Writer, r cache.ItemReader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	cr, isCtxReader := r.(ctxReader)
	for {
		var n int
		var err error
		if isCtxReader {
			n, err = cr.ReadContext(ctx, buf)
		} else {
			n, err = r.Read(buf)
		}
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}
