package middleware

import (
    "bytes"
    "context"
    "crypto/sha256"
    "encoding/hex"
    "errors"
    "io"
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"

    "github.com/iliyamo/ticket-marketplace/internal/config"
)

const (
    idemPending  = "pending:"
    idemDone     = "done:"
    replayHeader = "Idempotent-Replayed"
)

// idempotencyKey scopes a client key to the caller, method and route.
func idempotencyKey(cfg config.IdempotencyConfig, c echo.Context, clientKey string) string {
    sum := sha256.Sum256([]byte(strings.Join([]string{userID(c), c.Request().Method, c.Path(), clientKey}, "\x00")))
    return cfg.Prefix + ":" + hex.EncodeToString(sum[:])
}

// requestHash fingerprints path and body so a reused key with a different
// request is detected.
func requestHash(path string, body []byte) string {
    h := sha256.New()
    h.Write([]byte(path))
    h.Write([]byte{0})
    h.Write(body)
    return hex.EncodeToString(h.Sum(nil))
}

// NewIdempotency makes mutating requests replayable by Idempotency-Key.
// The first request claims the key with SETNX; its response is stored for
// cfg.TTL and replayed to later requests with the same key and body.  A
// duplicate arriving while the first is in flight gets 409.  Server errors
// release the key so the client can retry.
func NewIdempotency(cfg config.IdempotencyConfig, rdb *redis.Client) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    header := cfg.Header
    if header == "" {
        header = "Idempotency-Key"
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            req := c.Request()
            switch req.Method {
            case http.MethodGet, http.MethodHead, http.MethodOptions:
                return next(c)
            }
            clientKey := strings.TrimSpace(req.Header.Get(header))
            if clientKey == "" {
                if cfg.Required {
                    return c.JSON(http.StatusBadRequest, echo.Map{"error": "idempotency_key_required", "message": header + " header is required"})
                }
                return next(c)
            }
            if len(clientKey) > 128 {
                return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_idempotency_key"})
            }

            var body []byte
            if req.Body != nil {
                var r io.Reader = req.Body
                if cfg.MaxBodyBytes > 0 {
                    r = io.LimitReader(req.Body, int64(cfg.MaxBodyBytes)+1)
                }
                b, err := io.ReadAll(r)
                if err != nil {
                    return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
                }
                if cfg.MaxBodyBytes > 0 && len(b) > cfg.MaxBodyBytes {
                    return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{"error": "request body too large"})
                }
                body = b
                req.Body = io.NopCloser(bytes.NewReader(b))
            }
            hash := requestHash(req.URL.Path, body)
            ctx := req.Context()
            key := idempotencyKey(cfg, c, clientKey)

            claimed, err := rdb.SetNX(ctx, key, idemPending+hash, cfg.LockTTL).Result()
            if err != nil {
                c.Logger().Warnf("[idempotency] redis unavailable: %v", err)
                return next(c)
            }
            if !claimed {
                return replay(c, rdb, key, hash)
            }

            cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK}
            c.Response().Writer = cw
            bg := context.WithoutCancel(ctx)
            if err := next(c); err != nil {
                _ = rdb.Del(bg, key).Err()
                return err
            }
            if cw.status >= http.StatusInternalServerError {
                _ = rdb.Del(bg, key).Err()
                return nil
            }
            payload, err := encodePayload(cw.status, cloneHeader(c.Response().Header()), cw.buf.Bytes())
            if err != nil {
                _ = rdb.Del(bg, key).Err()
                return nil
            }
            stored := append([]byte(idemDone+hash+":"), payload...)
            if err := rdb.Set(bg, key, stored, cfg.TTL).Err(); err != nil {
                c.Logger().Warnf("[idempotency] store response: %v", err)
            }
            return nil
        }
    }
}

// replay answers a request whose key is already claimed.
func replay(c echo.Context, rdb *redis.Client, key, hash string) error {
    bs, err := rdb.Get(c.Request().Context(), key).Bytes()
    if errors.Is(err, redis.Nil) {
        // claim expired between SETNX and GET
        return c.JSON(http.StatusConflict, echo.Map{"error": "request_in_progress"})
    }
    if err != nil {
        return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "idempotency store unavailable"})
    }
    s := string(bs)
    switch {
    case strings.HasPrefix(s, idemPending):
        if strings.TrimPrefix(s, idemPending) != hash {
            return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "idempotency_key_reused"})
        }
        return c.JSON(http.StatusConflict, echo.Map{"error": "request_in_progress"})
    case strings.HasPrefix(s, idemDone):
        rest := bs[len(idemDone):]
        if len(rest) < len(hash)+1 || string(rest[:len(hash)]) != hash {
            return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "idempotency_key_reused"})
        }
        if status, hdr, body, ok := decodePayload(rest[len(hash)+1:]); ok {
            return writeStored(c, status, hdr, body, replayHeader, "true")
        }
    }
    return c.JSON(http.StatusConflict, echo.Map{"error": "request_in_progress"})
}
