// Package config loads swdist-mirror's settings from the process
// environment, optionally overlaid with defaults from a TOML file passed
// via -config. Environment variables always take precedence over the
// file, matching the layering used by bendo's own deployment tooling.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/dbrower/swdist/cache"
)

// Config holds every setting named in the configuration keys table: where
// to mirror from, how large the cache may grow, and the handful of HTTP
// behaviors (redirect, not-found page, index page, cache-control
// suppression) that depend on it.
type Config struct {
	Primary        string
	CachePath      string
	MaxNotFound    int64
	MaxSize        int64
	CacheTime      time.Duration
	Redirect       string
	APIKey         string
	KeepForever    *regexp.Regexp
	NoCache        *regexp.Regexp
	NotFoundPage   string
	IndexPage      string
	IndexPageMatch *regexp.Regexp
}

// fileConfig mirrors Config's fields as plain strings, the shape a TOML
// file overlay is decoded into before being resolved and validated.
type fileConfig struct {
	Primary        string `toml:"primary"`
	CachePath      string `toml:"cachepath"`
	MaxNotFound    string `toml:"max_not_found"`
	MaxSize        string `toml:"max_size"`
	CacheTime      string `toml:"cache_time"`
	Redirect       string `toml:"redirect"`
	APIKey         string `toml:"apikey"`
	KeepForever    string `toml:"keep_forever_regex"`
	NoCache        string `toml:"no_cache_regex"`
	NotFoundPage   string `toml:"notfound_html"`
	IndexPage      string `toml:"index_html"`
	IndexPageMatch string `toml:"index_html_regex"`
}

// Load builds a Config from the environment, using file (if non-empty) as
// a TOML source of defaults for any key the environment does not set.
func Load(file string) (*Config, error) {
	var fc fileConfig
	if file != "" {
		if _, err := toml.DecodeFile(file, &fc); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", file, err)
		}
	}

	raw := fileConfig{
		Primary:        firstNonEmpty(os.Getenv("PRIMARY"), fc.Primary),
		CachePath:      firstNonEmpty(os.Getenv("CACHEPATH"), fc.CachePath, "/var/cache/swdist-mirror"),
		MaxNotFound:    firstNonEmpty(os.Getenv("MAX_NOT_FOUND"), fc.MaxNotFound, "10k"),
		MaxSize:        firstNonEmpty(os.Getenv("MAX_SIZE"), fc.MaxSize, "10m"),
		CacheTime:      firstNonEmpty(os.Getenv("CACHE_TIME"), fc.CacheTime, "1d"),
		Redirect:       firstNonEmpty(os.Getenv("REDIRECT"), fc.Redirect),
		APIKey:         firstNonEmpty(os.Getenv("APIKEY"), fc.APIKey),
		KeepForever:    firstNonEmpty(os.Getenv("KEEP_FOREVER_REGEX"), fc.KeepForever),
		NoCache:        firstNonEmpty(os.Getenv("NO_CACHE_REGEX"), fc.NoCache),
		NotFoundPage:   firstNonEmpty(os.Getenv("NOTFOUND_HTML"), fc.NotFoundPage),
		IndexPage:      firstNonEmpty(os.Getenv("INDEX_HTML"), fc.IndexPage),
		IndexPageMatch: firstNonEmpty(os.Getenv("INDEX_HTML_REGEX"), fc.IndexPageMatch),
	}

	return raw.resolve()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (fc fileConfig) resolve() (*Config, error) {
	if fc.Primary == "" {
		return nil, fmt.Errorf("config: PRIMARY is required")
	}

	maxNotFound, err := cache.ParseSize(fc.MaxNotFound)
	if err != nil {
		return nil, fmt.Errorf("config: MAX_NOT_FOUND: %w", err)
	}
	maxSize, err := cache.ParseSize(fc.MaxSize)
	if err != nil {
		return nil, fmt.Errorf("config: MAX_SIZE: %w", err)
	}
	cacheTime, err := cache.ParseDuration(fc.CacheTime)
	if err != nil {
		return nil, fmt.Errorf("config: CACHE_TIME: %w", err)
	}

	cfg := &Config{
		Primary:      fc.Primary,
		CachePath:    fc.CachePath,
		MaxNotFound:  maxNotFound,
		MaxSize:      maxSize,
		CacheTime:    cacheTime,
		Redirect:     fc.Redirect,
		APIKey:       fc.APIKey,
		NotFoundPage: fc.NotFoundPage,
		IndexPage:    fc.IndexPage,
	}

	if fc.KeepForever != "" {
		re, err := regexp.Compile(fc.KeepForever)
		if err != nil {
			return nil, fmt.Errorf("config: KEEP_FOREVER_REGEX: %w", err)
		}
		cfg.KeepForever = re
	}
	if fc.NoCache != "" {
		re, err := regexp.Compile(fc.NoCache)
		if err != nil {
			return nil, fmt.Errorf("config: NO_CACHE_REGEX: %w", err)
		}
		cfg.NoCache = re
	}
	if fc.IndexPageMatch != "" {
		re, err := regexp.Compile(fc.IndexPageMatch)
		if err != nil {
			return nil, fmt.Errorf("config: INDEX_HTML_REGEX: %w", err)
		}
		cfg.IndexPageMatch = re
	}

	return cfg, nil
}
