package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"stockpick/internal/core/apperror"
	appctx "stockpick/internal/core/context"
	"stockpick/internal/infrastructure/storage/postgres"
)

const HeaderIdempotencyKey = "X-Idempotency-Key"
const maxIdempotencyBodyBytes = 1 << 20 // 1 MiB

const (
	ctxKeyIdempotencyClaim = "idempotency_claim"
	ctxKeyIdempotencyStore = "idempotency_store"
)

// IdempotencyStore persists the outcome of keyed mutating requests.
type IdempotencyStore interface {
	Acquire(ctx context.Context, claim postgres.IdempotencyClaim) (*postgres.IdempotencyReplay, error)
	Finish(ctx context.Context, operatorID, key string, statusCode int, contentType string, response any) error
}

var _ IdempotencyStore = (*postgres.IdempotencyStore)(nil)

// Idempotency middleware protects against duplicate requests.
// A retried POST with the same X-Idempotency-Key replays the first response.
// The key is bound to the route and to the order or reservation the request
// acts on, so it cannot be replayed against another order.
func Idempotency(store IdempotencyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost &&
			c.Request.Method != http.MethodPut &&
			c.Request.Method != http.MethodPatch {
			c.Next()
			return
		}

		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}

		operatorID := appctx.GetOperatorID(c.Request.Context())

		limited := io.LimitReader(c.Request.Body, maxIdempotencyBodyBytes+1)
		body, _ := io.ReadAll(limited)
		if len(body) > maxIdempotencyBodyBytes {
			appErr := apperror.NewInvalidInput("request body too large for idempotency")
			appErr.HTTPStatus = http.StatusRequestEntityTooLarge
			_ = c.Error(appErr.WithDetail("max_bytes", maxIdempotencyBodyBytes))
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		hash := sha256.Sum256(body)
		requestHash := hex.EncodeToString(hash[:])

		claim := postgres.IdempotencyClaim{
			Key:         key,
			OperatorID:  operatorID,
			Operation:   c.Request.Method + " " + c.FullPath(),
			Subject:     idempotencySubject(c, body),
			RequestHash: requestHash,
		}

		replay, err := store.Acquire(c.Request.Context(), claim)
		if err != nil {
			if appErr, ok := apperror.AsAppError(err); ok {
				_ = c.Error(appErr)
				c.Abort()
				return
			}
			_ = c.Error(apperror.NewInternal(err).WithDetail("component", "idempotency"))
			c.Abort()
			return
		}

		if replay != nil {
			c.Data(replay.StatusCode, replay.ContentType, replay.Body)
			c.Abort()
			return
		}

		c.Set(ctxKeyIdempotencyClaim, claim)
		c.Set(ctxKeyIdempotencyStore, store)

		c.Next()
	}
}

// idempotencySubject names the order or reservation a request acts on:
// the :orderId or :id path parameter, else reservationId or orderId in the
// JSON body.
func idempotencySubject(c *gin.Context, body []byte) string {
	for _, p := range []string{"orderId", "id"} {
		if v := c.Param(p); v != "" {
			return v
		}
	}

	var ref struct {
		OrderID       string `json:"orderId"`
		ReservationID string `json:"reservationId"`
	}
	if err := json.Unmarshal(body, &ref); err != nil {
		return ""
	}
	if ref.ReservationID != "" {
		return ref.ReservationID
	}
	return ref.OrderID
}

// CompleteIdempotency records a successful response for replay.
func CompleteIdempotency(c *gin.Context, statusCode int, contentType string, response any) {
	if claim, store, ok := idempotencyFrom(c); ok {
		_ = store.Finish(c.Request.Context(), claim.OperatorID, claim.Key, statusCode, contentType, response)
	}
}

// failIdempotency records an error response (best-effort). Server errors
// release the key.
func failIdempotency(c *gin.Context, statusCode int, response any) {
	if claim, store, ok := idempotencyFrom(c); ok {
		_ = store.Finish(c.Request.Context(), claim.OperatorID, claim.Key, statusCode, "application/json", response)
	}
}

func idempotencyFrom(c *gin.Context) (postgres.IdempotencyClaim, IdempotencyStore, bool) {
	v, ok := c.Get(ctxKeyIdempotencyClaim)
	if !ok {
		return postgres.IdempotencyClaim{}, nil, false
	}
	claim, ok := v.(postgres.IdempotencyClaim)
	if !ok || claim.Key == "" {
		return postgres.IdempotencyClaim{}, nil, false
	}
	sv, ok := c.Get(ctxKeyIdempotencyStore)
	if !ok {
		return postgres.IdempotencyClaim{}, nil, false
	}
	store, ok := sv.(IdempotencyStore)
	return claim, store, ok && store != nil
}
