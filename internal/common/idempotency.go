package common

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Idem guards write endpoints with an Idempotency-Key claim in Redis. The
// first request holding a key proceeds; concurrent or repeated requests with
// the same key get 409 until the claim expires.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
}

// claimKey hashes the client-supplied key so arbitrary input never lands in
// the keyspace verbatim.
func claimKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "wallet:idem:" + hex.EncodeToString(sum[:])
}

// Middleware enforces the claim. Requests without the header pass through;
// they simply forgo replay protection.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Idempotency-Key")
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := claimKey(header)
		claimed, err := i.R.SetNX(r.Context(), key, "locked", i.TTL).Result()
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "INTERNAL", "idempotency store error", map[string]any{"error": err.Error()})
			return
		}
		if !claimed {
			JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "duplicate request", nil)
			return
		}
		// Re-arm the TTL on a fresh context so the claim outlives handler
		// panics and client disconnects.
		defer func() {
			_ = i.R.Expire(context.Background(), key, i.TTL).Err()
		}()
		next.ServeHTTP(w, r)
	})
}
