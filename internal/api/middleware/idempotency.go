package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	redisinfra "github.com/mdao/lm-indexer/internal/infrastructure/redis"
)

const (
	processingMarker = "PROCESSING"
	lockTTL          = 10 * time.Second
	resultTTL        = 24 * time.Hour
)

type storedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// Idempotency replays the stored response of a state-changing request that
// carries an Idempotency-Key already seen. Server errors release the key so
// the client may retry.
func Idempotency(redisClient redisinfra.Commander, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if redisClient == nil || (r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch) {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			idemKey := fmt.Sprintf("idempotency:%s", key)
			ctx := r.Context()

			val, err := redisClient.Get(ctx, idemKey).Result()
			if err == nil {
				if val == processingMarker {
					writeConflict(w, "concurrent request")
					return
				}
				var stored storedResponse
				if err := json.Unmarshal([]byte(val), &stored); err == nil {
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set("X-Idempotency-Hit", "true")
					w.WriteHeader(stored.Status)
					_, _ = w.Write(stored.Body)
					return
				}
			} else if !errors.Is(err, redis.Nil) {
				next.ServeHTTP(w, r)
				return
			}

			acquired, err := redisClient.SetNX(ctx, idemKey, processingMarker, lockTTL).Result()
			if err != nil || !acquired {
				writeConflict(w, "concurrent request")
				return
			}

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= http.StatusInternalServerError {
				if err := redisClient.Del(ctx, idemKey).Err(); err != nil {
					logger.Error("failed to release idempotency key", "key", key, "error", err)
				}
				return
			}
			body := rec.body.Bytes()
			if !json.Valid(body) {
				body, _ = json.Marshal(string(body))
			}
			data, _ := json.Marshal(storedResponse{Status: rec.status, Body: body})
			// Until lockTTL expires a retry sees the marker and gets 409.
			if err := redisClient.Set(ctx, idemKey, data, resultTTL).Err(); err != nil {
				logger.Error("failed to store idempotent response", "key", key, "status", rec.status, "error", err)
			}
		})
	}
}

func writeConflict(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusConflict)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(p []byte) (int, error) {
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}
