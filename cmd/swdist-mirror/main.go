// Command swdist-mirror serves a read-through HTTP cache in front of a
// single remote blob store, configured by the PRIMARY, CACHEPATH,
// CACHE_TIME and related keys that config.Load reads.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/getsentry/raven-go"

	"github.com/dbrower/swdist/cache"
	"github.com/dbrower/swdist/config"
	"github.com/dbrower/swdist/httpd"
	"github.com/dbrower/swdist/store"
)

func main() {
	configFile := flag.String("config", "", "path to a TOML file of default settings")
	addr := flag.String("addr", ":8080", "address to listen on")
	flag.Parse()

	logger := log.New(os.Stderr, "swdist-mirror: ", log.LstdFlags)

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := raven.SetDSN(dsn); err != nil {
			logger.Printf("raven: %v", err)
		}
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	bs, err := store.Open(context.Background(), cfg.Primary)
	if err != nil {
		logger.Fatalf("store: %v", err)
	}

	c, err := cache.New(bs, cache.Options{
		Dir:            cfg.CachePath,
		MaxNotFound:    cfg.MaxNotFound,
		MaxSize:        cfg.MaxSize,
		ValidityPeriod: cfg.CacheTime,
		KeepForever:    cfg.KeepForever,
		Logger:         logger,
		OnError: func(err error) {
			raven.CaptureError(err, nil)
		},
	})
	if err != nil {
		logger.Fatalf("cache: %v", err)
	}
	defer c.Close()

	srv := &http.Server{
		Addr:    *addr,
		Handler: httpd.New(c, cfg, logger).Handler(),
	}

	go func() {
		logger.Printf("listening on %s, mirroring %s", *addr, cfg.Primary)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Printf("shutting down")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}
