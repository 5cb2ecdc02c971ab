package config

import (
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
)

func TestEnvHelpers(t *testing.T) {
    t.Setenv("X_BOOL", "YES")
    t.Setenv("X_INT", "12")
    t.Setenv("X_BAD_INT", "twelve")
    t.Setenv("X_DUR", "1500ms")

    assert.True(t, envBool("X_BOOL", false))
    assert.True(t, envBool("X_UNSET", true))
    assert.Equal(t, 12, envInt("X_INT", 3))
    assert.Equal(t, 3, envInt("X_BAD_INT", 3))
    assert.Equal(t, 1500*time.Millisecond, envDur("X_DUR", time.Second))
    assert.Equal(t, time.Second, envDur("X_UNSET", time.Second))
}

func TestLoadRateLimitConfig_Normalizes(t *testing.T) {
    t.Setenv("RATE_LIMIT_CAPACITY", "0")
    t.Setenv("RATE_LIMIT_REFILL_EVERY", "2s")
    t.Setenv("RATE_LIMIT_TTL", "1s")

    c := LoadRateLimitConfig()
    assert.Equal(t, 1, c.Capacity)
    assert.Equal(t, 1, c.RefillTokens)
    assert.Equal(t, 2*time.Second, c.RefillInterval)
    assert.Equal(t, 10*time.Second, c.TTL)
}

func TestLoadBrokerConfig(t *testing.T) {
    t.Setenv("BROKER", "Kafka")
    t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
    b := LoadBrokerConfig()
    assert.Equal(t, "kafka", b.Kind)
    assert.Equal(t, []string{"k1:9092", "k2:9092"}, b.KafkaBrokers)
    assert.Equal(t, "booking.confirmed", b.KafkaTopic)

    t.Setenv("BROKER", "carrier-pigeon")
    assert.Equal(t, "none", LoadBrokerConfig().Kind)
}

func TestLoadHubConfig_Defaults(t *testing.T) {
    t.Setenv("SWEEP_INTERVAL", "-1s")
    h := LoadHubConfig()
    assert.Equal(t, "redis", h.HoldStore)
    assert.Equal(t, time.Second, h.SweepInterval)
    assert.Equal(t, 64, h.SendBuffer)
}

func TestLoadHubConfig_HolderKey(t *testing.T) {
    t.Setenv("HOLDER_KEY", "shared-secret")
    assert.Equal(t, "shared-secret", LoadHubConfig().HolderKey)
}

func TestLoadCacheConfig(t *testing.T) {
    t.Setenv("CACHE_METHODS", "get, head")
    c := LoadCacheConfig()
    assert.True(t, c.Methods["GET"])
    assert.True(t, c.Methods["HEAD"])
    assert.Equal(t, "path_query", c.KeyStrategy)
}
