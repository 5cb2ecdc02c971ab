package config

// Redis backs the seat hold table, the rate limiter and the response
// cache.  If the server cannot be reached at startup NewRedisClient
// returns nil and callers degrade: holds move to another store, caching
// and rate limiting are disabled.

import (
    "context"
    "crypto/tls"
    "log"
    "os"
    "strings"
    "time"

    "github.com/redis/go-redis/v9"
)

// NewRedisClient connects to the Redis server named by REDIS_URL, or by
// REDIS_HOST/REDIS_PORT (REDIS_ADDR as shorthand) with REDIS_PASSWORD,
// REDIS_DB and REDIS_TLS.  It returns nil when the server does not answer
// a ping within two seconds.
func NewRedisClient() *redis.Client {
    opts, err := redisOptions()
    if err != nil {
        log.Printf("redis: %v", err)
        return nil
    }
    client := redis.NewClient(opts)
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    if err := client.Ping(ctx).Err(); err != nil {
        log.Printf("redis: ping %s: %v", opts.Addr, err)
        _ = client.Close()
        return nil
    }
    return client
}

func redisOptions() (*redis.Options, error) {
    if u := os.Getenv("REDIS_URL"); u != "" {
        return redis.ParseURL(u)
    }
    addr := envStr("REDIS_ADDR", "localhost:6379")
    if host, port := os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT"); host != "" && port != "" {
        addr = host + ":" + port
    }
    var tlsConf *tls.Config
    if tlsEnv := os.Getenv("REDIS_TLS"); strings.EqualFold(tlsEnv, "true") || tlsEnv == "1" {
        tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
    }
    return &redis.Options{
        Addr:      addr,
        Password:  os.Getenv("REDIS_PASSWORD"),
        DB:        envInt("REDIS_DB", 0),
        TLSConfig: tlsConf,
    }, nil
}
