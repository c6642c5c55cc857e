package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// definitionPathPrefix marks the read surface whose payloads are safe to
// cache: published scale definitions are immutable, so a cached body only
// goes stale when a new version is published or one is retired, and both of
// those invalidate explicitly.
const definitionPathPrefix = "/api/v1/scales"

// ResponseCache stores rendered response bodies keyed by tenant, path, and
// Accept header.
type ResponseCache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
	InvalidatePrefix(prefix string)
	Clear()
}

// DefinitionCacheConfig controls the caching middleware.
type DefinitionCacheConfig struct {
	MaxAge      int           // max-age for definition reads, in seconds
	TTL         time.Duration // server-side cache retention
	VaryHeaders []string
	Store       ResponseCache // nil disables server-side caching
}

// DefaultDefinitionCacheConfig returns the defaults used by the server.
func DefaultDefinitionCacheConfig() DefinitionCacheConfig {
	return DefinitionCacheConfig{
		MaxAge:      300,
		TTL:         5 * time.Minute,
		VaryHeaders: []string{"Accept", "Authorization"},
	}
}

type cachedBody struct {
	data      []byte
	expiresAt time.Time
}

// MemoryResponseCache is a thread-safe in-memory ResponseCache with lazy
// expiration.
type MemoryResponseCache struct {
	mu      sync.RWMutex
	entries map[string]cachedBody
}

func NewMemoryResponseCache() *MemoryResponseCache {
	return &MemoryResponseCache{entries: make(map[string]cachedBody)}
}

func (s *MemoryResponseCache) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false
	}
	return e.data, true
}

func (s *MemoryResponseCache) Set(key string, value []byte, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = cachedBody{data: value, expiresAt: time.Now().Add(ttl)}
}

// InvalidatePrefix drops every entry whose key starts with prefix. Catalog
// writes call this so a publish or retire is visible on the next read.
func (s *MemoryResponseCache) InvalidatePrefix(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			delete(s.entries, k)
		}
	}
}

func (s *MemoryResponseCache) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]cachedBody)
}

// StartCleanup evicts expired entries on a periodic interval until ctx is
// cancelled. Call it in a goroutine.
func (s *MemoryResponseCache) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for k, e := range s.entries {
				if now.After(e.expiresAt) {
					delete(s.entries, k)
				}
			}
			s.mu.Unlock()
		}
	}
}

// replayWriter buffers the handler's response so the middleware can hash the
// body and decide between 200, 304, and a cache write before anything reaches
// the client.
type replayWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *replayWriter) WriteHeader(code int) { w.status = code }

func (w *replayWriter) Write(b []byte) (int, error) { return w.body.Write(b) }

func (w *replayWriter) Flush() {}

func (w *replayWriter) replay() error {
	w.ResponseWriter.WriteHeader(w.status)
	if w.body.Len() == 0 {
		return nil
	}
	_, err := w.ResponseWriter.Write(w.body.Bytes())
	return err
}

// DefinitionCache adds ETag revalidation to every GET and HEAD response and
// serves scale-definition reads from the response cache. Assessment reads get
// an ETag but are never stored: their payloads change as answers are recorded
// and they carry patient data.
func DefinitionCache(cfg DefinitionCacheConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method != http.MethodGet && req.Method != http.MethodHead {
				return next(c)
			}

			res := c.Response()
			h := res.Header()
			cacheable := strings.HasPrefix(req.URL.Path, definitionPathPrefix) &&
				cfg.Store != nil && req.Header.Get("Authorization") == ""
			key := responseCacheKey(tenantCacheScope(c), req.URL.Path, req.Header.Get("Accept"))

			if cacheable {
				if data, ok := cfg.Store.Get(key); ok {
					h.Set("X-Cache", "HIT")
					setCacheHeaders(h, cfg, true)
					etag := weakETag(data)
					h.Set("ETag", etag)
					if etagMatch(req.Header.Get("If-None-Match"), etag) {
						return c.NoContent(http.StatusNotModified)
					}
					// Definition endpoints only ever render JSON.
					return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, data)
				}
				h.Set("X-Cache", "MISS")
			}

			orig := res.Writer
			rw := &replayWriter{ResponseWriter: orig, status: http.StatusOK}
			res.Writer = rw
			err := next(c)
			res.Writer = orig
			if err != nil {
				return err
			}
			if rw.status >= 400 {
				return rw.replay()
			}

			body := rw.body.Bytes()
			setCacheHeaders(h, cfg, strings.HasPrefix(req.URL.Path, definitionPathPrefix))
			etag := weakETag(body)
			h.Set("ETag", etag)

			if cacheable {
				cfg.Store.Set(key, body, cfg.TTL)
			}
			if etagMatch(req.Header.Get("If-None-Match"), etag) {
				orig.WriteHeader(http.StatusNotModified)
				return nil
			}
			return rw.replay()
		}
	}
}

func setCacheHeaders(h http.Header, cfg DefinitionCacheConfig, definition bool) {
	if definition {
		h.Set("Cache-Control", fmt.Sprintf("private, max-age=%d", cfg.MaxAge))
	} else {
		h.Set("Cache-Control", "private, no-cache")
	}
	if len(cfg.VaryHeaders) > 0 {
		h.Set("Vary", strings.Join(cfg.VaryHeaders, ", "))
	}
}

// tenantCacheScope keys cached bodies by tenant so one clinic's rendered
// responses are never replayed to another.
func tenantCacheScope(c echo.Context) string {
	if s, ok := c.Get("tenant_id").(string); ok && s != "" {
		return s
	}
	return "-"
}

func responseCacheKey(tenant, path, accept string) string {
	return tenant + ":" + path + ":" + accept
}

// DefinitionCacheKeyPrefix returns the invalidation prefix covering every
// cached definition read for a tenant.
func DefinitionCacheKeyPrefix(tenant string) string {
	if tenant == "" {
		tenant = "-"
	}
	return tenant + ":" + definitionPathPrefix
}

func weakETag(body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf(`W/"%x"`, sum[:16])
}

// etagMatch reports whether the If-None-Match header value matches etag,
// honoring comma-separated lists, the "*" wildcard, and weak comparison.
func etagMatch(headerVal, etag string) bool {
	headerVal = strings.TrimSpace(headerVal)
	if headerVal == "" {
		return false
	}
	if headerVal == "*" {
		return true
	}
	for _, candidate := range strings.Split(headerVal, ",") {
		if strings.TrimPrefix(strings.TrimSpace(candidate), "W/") == strings.TrimPrefix(etag, "W/") {
			return true
		}
	}
	return false
}
