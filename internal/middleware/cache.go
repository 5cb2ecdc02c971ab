package middleware

import (
    "bytes"
    "context"
    "crypto/sha256"
    "encoding/hex"
    "encoding/json"
    "log"
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"

    "github.com/iliyamo/bus-seat-reservation/internal/config"
)

// cachedResponse is what the cache stores per key.
type cachedResponse struct {
    Status int         `json:"status"`
    Header http.Header `json:"header"`
    Body   []byte      `json:"body"`
}

// skippedHeaders are recomputed on every response and never replayed.
var skippedHeaders = map[string]bool{
    "Content-Length":        true,
    "X-Cache":               true,
    "X-Ratelimit-Limit":     true,
    "X-Ratelimit-Remaining": true,
}

func (r cachedResponse) replay(c echo.Context) error {
    h := c.Response().Header()
    for k, vals := range r.Header {
        if skippedHeaders[http.CanonicalHeaderKey(k)] {
            continue
        }
        for _, v := range vals {
            h.Add(k, v)
        }
    }
    h.Set("X-Cache", "HIT")
    c.Response().WriteHeader(r.Status)
    _, err := c.Response().Write(r.Body)
    return err
}

func loadCached(bs []byte) (cachedResponse, bool) {
    var r cachedResponse
    if err := json.Unmarshal(bs, &r); err != nil || r.Status == 0 {
        return cachedResponse{}, false
    }
    return r, true
}

// teeWriter forwards the response and keeps a copy of the body until it
// grows past max (0 means unbounded).
type teeWriter struct {
    http.ResponseWriter
    status   int
    body     bytes.Buffer
    max      int
    overflow bool
}

func (w *teeWriter) WriteHeader(code int) {
    w.status = code
    w.ResponseWriter.WriteHeader(code)
}

func (w *teeWriter) Write(b []byte) (int, error) {
    if !w.overflow {
        if w.max > 0 && w.body.Len()+len(b) > w.max {
            w.overflow = true
            w.body.Reset()
        } else {
            w.body.Write(b)
        }
    }
    return w.ResponseWriter.Write(b)
}

// cacheKeyFrom hashes the concrete request path, plus the raw query unless
// the strategy is "path", under cfg.Prefix.  Route patterns are never used
// so /v1/buses/a and /v1/buses/b cannot share an entry.
func cacheKeyFrom(cfg config.CacheConfig, c echo.Context) string {
    u := c.Request().URL
    id := u.Path
    if !strings.EqualFold(cfg.KeyStrategy, "path") {
        id += "?" + u.RawQuery
    }
    sum := sha256.Sum256([]byte(id))
    return cfg.Prefix + ":" + hex.EncodeToString(sum[:16])
}

// NewRedisCache serves repeated GETs of bus details from Redis.  Status,
// headers and body are stored together; only 200 responses within
// cfg.MaxBodyBytes are cached.
func NewRedisCache(cfg config.CacheConfig, rdb *redis.Client) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    ttl := cfg.TTL
    if ttl <= 0 {
        ttl = 30 * time.Second
    }

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            if !cfg.Methods[strings.ToUpper(c.Request().Method)] {
                return next(c)
            }
            key := cacheKeyFrom(cfg, c)
            if bs, err := rdb.Get(c.Request().Context(), key).Bytes(); err == nil {
                if hit, ok := loadCached(bs); ok {
                    return hit.replay(c)
                }
            }

            tw := &teeWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, max: cfg.MaxBodyBytes}
            c.Response().Writer = tw
            c.Response().Header().Set("X-Cache", "MISS")
            if err := next(c); err != nil {
                return err
            }
            if tw.status != http.StatusOK || tw.overflow {
                return nil
            }
            payload, err := json.Marshal(cachedResponse{
                Status: tw.status,
                Header: c.Response().Header().Clone(),
                Body:   tw.body.Bytes(),
            })
            if err != nil {
                return nil
            }
            // the request context may already be cancelled once the body is sent
            if err := rdb.SetEx(context.Background(), key, payload, ttl).Err(); err != nil {
                log.Printf("cache: store %s: %v", key, err)
            }
            return nil
        }
    }
}
