package dns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

// LookupFunc performs a single reverse lookup for an IP address. It
// exists as a seam so tests can observe and replace the network call.
type LookupFunc func(ctx context.Context, ip string) ([]string, error)

// CachedResolver memoizes reverse DNS lookups across a batch run. The
// cache maps IP addresses to hostnames; an empty hostname remembers a
// failed lookup so the address is not resolved again. Load and Save
// persist the cache between runs, the resolver never persists on its
// own mid-run.
//
// The cache is an optimization only. A missing or corrupt cache file
// costs hostname completeness, never correctness.
type CachedResolver struct {
	ctx     context.Context
	timeout time.Duration
	lookup  LookupFunc
	mutex   sync.RWMutex
	cache   map[string]string
	logger  *slog.Logger
}

func NewCachedResolver(ctx context.Context, server string, connectTimeout, timeout time.Duration, logger *slog.Logger) *CachedResolver {
	resolver := net.DefaultResolver
	if server != "" {
		resolver = &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				d := net.Dialer{
					Timeout: connectTimeout,
				}
				return d.DialContext(ctx, network, server)
			},
		}
	}
	return &CachedResolver{
		ctx:     ctx,
		timeout: timeout,
		lookup:  resolver.LookupAddr,
		cache:   make(map[string]string),
		logger:  logger,
	}
}

// SetLookupFunc replaces the reverse lookup implementation.
func (r *CachedResolver) SetLookupFunc(fn LookupFunc) {
	r.lookup = fn
}

// LookupHost returns the hostname behind ip. The second return value is
// false when no hostname is known. Lookup failures are downgraded to
// "unknown" and cached, they never surface as errors.
func (r *CachedResolver) LookupHost(ip string) (string, bool) {
	if host, ok := r.getCacheEntry(ip); ok {
		return host, host != ""
	}

	r.logger.Debug("resolving", "ip", ip)

	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	domains, err := r.lookup(ctx, ip)
	if err != nil || len(domains) == 0 {
		// store a dummy entry so we do not reresolve the ip
		r.updateCache(ip, "")
		return "", false
	}

	host := strings.TrimSuffix(domains[0], ".")
	r.updateCache(ip, host)
	return host, true
}

func (r *CachedResolver) updateCache(ip, host string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.cache[ip] = host
}

func (r *CachedResolver) getCacheEntry(ip string) (string, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	host, ok := r.cache[ip]
	return host, ok
}

// Load reads a previously saved cache file. A missing file is fine and
// an unreadable one only logs a warning, the resolver starts empty in
// both cases.
func (r *CachedResolver) Load(path string) {
	b, err := os.ReadFile(path) // nolint: gosec
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("could not read rdns cache", "path", path, "err", err)
		} else {
			r.logger.Info("no rdns cache to load", "path", path)
		}
		return
	}

	cache := make(map[string]string)
	if err := json.Unmarshal(b, &cache); err != nil {
		r.logger.Warn("ignoring corrupt rdns cache", "path", path, "err", err)
		return
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.cache = cache
	r.logger.Info("loaded rdns cache", "path", path, "entries", len(cache))
}

// Save writes the cache to path so the next run starts warm.
func (r *CachedResolver) Save(path string) error {
	r.mutex.RLock()
	b, err := json.MarshalIndent(r.cache, "", "  ")
	r.mutex.RUnlock()
	if err != nil {
		return fmt.Errorf("could not marshal rdns cache: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("could not write rdns cache: %w", err)
	}
	return nil
}
