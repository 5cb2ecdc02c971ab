package middleware

import (
    "log"
    "math"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"

    "github.com/iliyamo/bus-seat-reservation/internal/config"
)

// tokenBucketScript refills the bucket continuously (one token per
// ARGV[3] ms, capped at ARGV[2]) and takes one token if it can.
// Reply: {allowed 0|1, whole tokens left, ms until the next token}.
var tokenBucketScript = redis.NewScript(`
local bucket = KEYS[1]
local now = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local per_token_ms = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])

local level = tonumber(redis.call('HGET', bucket, 'level'))
local ts = tonumber(redis.call('HGET', bucket, 'ts'))
if level == nil or ts == nil then
    level = burst
    ts = now
end
level = math.min(burst, level + math.max(0, now - ts) / per_token_ms)

local ok = 0
local wait_ms = 0
if level >= 1 then
    ok = 1
    level = level - 1
else
    wait_ms = math.ceil((1 - level) * per_token_ms)
end

redis.call('HSET', bucket, 'level', level, 'ts', now)
redis.call('PEXPIRE', bucket, ttl_ms)
return { ok, math.floor(level), wait_ms }
`)

// bucketReply is the decoded reply of tokenBucketScript.
type bucketReply struct {
    allowed   bool
    remaining int64
    retry     time.Duration
}

func parseBucketReply(v interface{}) (bucketReply, bool) {
    arr, ok := v.([]interface{})
    if !ok || len(arr) != 3 {
        return bucketReply{}, false
    }
    var n [3]int64
    for i, x := range arr {
        if n[i], ok = x.(int64); !ok {
            return bucketReply{}, false
        }
    }
    return bucketReply{allowed: n[0] == 1, remaining: n[1], retry: time.Duration(n[2]) * time.Millisecond}, true
}

// perTokenMillis is the refill period of a single token, at least 1ms.
func perTokenMillis(cfg config.RateLimitConfig) int64 {
    ms := cfg.RefillInterval.Milliseconds() / int64(cfg.RefillTokens)
    if ms < 1 {
        ms = 1
    }
    return ms
}

// NewTokenBucket limits requests per key (see buildRateKey) with a Redis
// token bucket.  Redis errors fail open.  The limiter is disabled when
// cfg.Enabled is false or rdb is nil.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client) echo.MiddlewareFunc {
    return newTokenBucket(cfg, rdb, time.Now)
}

func newTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, now func() time.Time) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    perToken := perTokenMillis(cfg)
    limit := strconv.Itoa(cfg.Capacity)

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            key := buildRateKey(cfg, c)
            res, err := tokenBucketScript.Run(c.Request().Context(), rdb, []string{key},
                now().UnixMilli(), cfg.Capacity, perToken, cfg.TTL.Milliseconds()).Result()
            if err != nil {
                if cfg.Debug {
                    log.Printf("ratelimit: %s: %v (allowing)", key, err)
                }
                return next(c)
            }
            reply, ok := parseBucketReply(res)
            if !ok {
                log.Printf("ratelimit: %s: unexpected reply %#v", key, res)
                return next(c)
            }

            h := c.Response().Header()
            h.Set("X-RateLimit-Limit", limit)
            h.Set("X-RateLimit-Remaining", strconv.FormatInt(reply.remaining, 10))
            if reply.allowed {
                return next(c)
            }

            secs := int(math.Ceil(reply.retry.Seconds()))
            if secs < 1 {
                secs = 1
            }
            h.Set("Retry-After", strconv.Itoa(secs))
            if cfg.Debug {
                log.Printf("ratelimit: %s blocked for %s", key, reply.retry)
            }
            return c.JSON(http.StatusTooManyRequests, echo.Map{
                "error":               "rate limit exceeded",
                "retry_after_seconds": secs,
            })
        }
    }
}

// keyDimensions lists, per key strategy, the request attributes that make
// up a bucket key.
var keyDimensions = map[string][]string{
    "ip":            {"ip"},
    "user":          {"user"},
    "ip_user":       {"ip", "user"},
    "ip_route":      {"ip", "route"},
    "ip_user_route": {"ip", "user", "route"},
}

// buildRateKey composes prefix:ip:<ip>:user:<id>:route:<method pattern>
// with the dimensions of cfg.KeyStrategy (default ip_user).  Routes are
// the registered patterns, so every bus shares one bucket per route.
func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
    dims, ok := keyDimensions[strings.ToLower(cfg.KeyStrategy)]
    if !ok {
        dims = keyDimensions["ip_user"]
    }
    parts := []string{cfg.Prefix}
    for _, d := range dims {
        var v string
        switch d {
        case "ip":
            if v = c.RealIP(); v == "" {
                v = "unknown"
            }
        case "user":
            v = UserID(c)
        case "route":
            v = c.Request().Method + " " + c.Path()
        }
        parts = append(parts, d, v)
    }
    return strings.Join(parts, ":")
}
