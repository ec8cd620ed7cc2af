package config

// Redis backs rate limiting, response caching, idempotent replays, webhook
// de-duplication and the asynq job queue.  If the connection fails during
// startup NewRedisClient returns nil and the HTTP middlewares degrade to
// pass-through; the job queue still needs Redis and main refuses to start
// the worker without it.

import (
    "context"
    "crypto/tls"
    "os"
    "strconv"
    "strings"
    "time"

    "github.com/redis/go-redis/v9"
)

// RedisConfig holds connection settings shared by go-redis and asynq.
type RedisConfig struct {
    Addr     string
    Password string
    DB       int
    TLS      *tls.Config
}

// LoadRedisConfig reads:
//   REDIS_HOST and REDIS_PORT – hostname and port of the Redis server
//   REDIS_ADDR – host:port shorthand (host/port win when both are set)
//   REDIS_PASSWORD – optional password
//   REDIS_DB – database number (default 0)
//   REDIS_TLS – enable TLS when "true" or "1"
func LoadRedisConfig() RedisConfig {
    host := os.Getenv("REDIS_HOST")
    port := os.Getenv("REDIS_PORT")
    addr := os.Getenv("REDIS_ADDR")
    if host != "" && port != "" {
        addr = host + ":" + port
    }
    if addr == "" {
        addr = "localhost:6379"
    }
    rc := RedisConfig{Addr: addr, Password: os.Getenv("REDIS_PASSWORD")}
    if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
        if n, err := strconv.Atoi(dbStr); err == nil {
            rc.DB = n
        }
    }
    if tlsEnv := os.Getenv("REDIS_TLS"); strings.EqualFold(tlsEnv, "true") || tlsEnv == "1" {
        rc.TLS = &tls.Config{InsecureSkipVerify: true}
    }
    return rc
}

// NewRedisClient connects with rc and pings the server.  The returned client
// is nil if a connection cannot be established.
func NewRedisClient(rc RedisConfig) *redis.Client {
    client := redis.NewClient(&redis.Options{
        Addr:      rc.Addr,
        Password:  rc.Password,
        DB:        rc.DB,
        TLSConfig: rc.TLS,
    })
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    if err := client.Ping(ctx).Err(); err != nil {
        _ = client.Close()
        return nil
    }
    return client
}
