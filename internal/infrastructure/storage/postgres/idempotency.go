package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"stockpick/internal/core/apperror"
)

// IdempotencyStatus is the state of a keyed request.
type IdempotencyStatus string

const (
	IdempotencyPending   IdempotencyStatus = "pending"
	IdempotencyCompleted IdempotencyStatus = "completed"
	IdempotencyRejected  IdempotencyStatus = "rejected"
)

// DefaultIdempotencyStaleAfter is how long a pending claim may go without
// progress before another request may take it over.
const DefaultIdempotencyStaleAfter = time.Minute

// IdempotencyClaim identifies one keyed request. Keys are scoped per
// operator; Operation and Subject (the order or reservation acted on) must
// match on every retry, as must the body hash.
type IdempotencyClaim struct {
	Key         string
	OperatorID  string
	Operation   string
	Subject     string
	RequestHash string
}

// IdempotencyReplay is the stored response of a finished request.
type IdempotencyReplay struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

type idempotencyRecord struct {
	Inserted    bool              `db:"inserted"`
	Operation   string            `db:"operation"`
	Subject     string            `db:"subject"`
	RequestHash string            `db:"request_hash"`
	Status      IdempotencyStatus `db:"status"`
	Response    []byte            `db:"response"`
	StatusCode  int               `db:"response_status"`
	ContentType string            `db:"response_content_type"`
	UpdatedAt   time.Time         `db:"updated_at"`
}

// IdempotencyStore records keyed mutating requests in sys_idempotency so a
// retried allocation, pick or cancellation replays its first response
// instead of acting twice.
type IdempotencyStore struct {
	txManager  *TxManager
	ttl        time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

// NewIdempotencyStore creates an idempotency store keeping keys for ttl.
func NewIdempotencyStore(txManager *TxManager, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{
		txManager:  txManager,
		ttl:        ttl,
		staleAfter: DefaultIdempotencyStaleAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

const claimIdempotencySQL = `
	INSERT INTO sys_idempotency (
		operator_id, idempotency_key, operation, subject, status, request_hash,
		created_at, updated_at, expires_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $8)
	ON CONFLICT (operator_id, idempotency_key) DO UPDATE SET
		expires_at = GREATEST(sys_idempotency.expires_at, EXCLUDED.expires_at)
	RETURNING (xmax = 0) AS inserted, operation, subject, request_hash, status,
		response, response_status, response_content_type, updated_at`

// Acquire claims a key for claim.
//
// It returns (nil, nil) when the caller owns the key and must run the
// request, or the stored replay when the request already finished. A key
// reused for another operation, subject or body is an IDEMPOTENCY_CONFLICT,
// as is a key still pending in a live request.
func (s *IdempotencyStore) Acquire(ctx context.Context, claim IdempotencyClaim) (*IdempotencyReplay, error) {
	// timestamptz keeps microseconds
	now := s.now().Truncate(time.Microsecond)

	var rec idempotencyRecord
	err := s.txManager.GetQuerier(ctx).QueryRow(ctx, claimIdempotencySQL,
		claim.OperatorID, claim.Key, claim.Operation, claim.Subject, IdempotencyPending,
		claim.RequestHash, now, now.Add(s.ttl),
	).Scan(
		&rec.Inserted, &rec.Operation, &rec.Subject, &rec.RequestHash, &rec.Status,
		&rec.Response, &rec.StatusCode, &rec.ContentType, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("claim idempotency key: %w", err)
	}
	if rec.Inserted {
		return nil, nil
	}

	if rec.Operation != claim.Operation || rec.Subject != claim.Subject || rec.RequestHash != claim.RequestHash {
		return nil, apperror.NewIdempotencyMismatch(claim.Key).
			WithDetail("stored_operation", rec.Operation).
			WithDetail("stored_subject", rec.Subject).
			WithDetail("request_operation", claim.Operation).
			WithDetail("request_subject", claim.Subject)
	}

	switch rec.Status {
	case IdempotencyCompleted, IdempotencyRejected:
		return rec.replay(), nil
	case IdempotencyPending:
		if now.Sub(rec.UpdatedAt) <= s.staleAfter {
			return nil, apperror.NewIdempotencyConflict(claim.Key)
		}
		return nil, s.takeOver(ctx, claim, rec.UpdatedAt, now)
	}
	return nil, fmt.Errorf("idempotency key %q has unknown status %q", claim.Key, rec.Status)
}

// takeOver reclaims a stale pending key. Only one request wins: the update
// is conditional on the updated_at it observed.
func (s *IdempotencyStore) takeOver(ctx context.Context, claim IdempotencyClaim, seen, now time.Time) error {
	tag, err := s.txManager.GetQuerier(ctx).Exec(ctx, `
		UPDATE sys_idempotency SET updated_at = $1
		WHERE operator_id = $2 AND idempotency_key = $3 AND status = $4 AND updated_at = $5`,
		now, claim.OperatorID, claim.Key, IdempotencyPending, seen)
	if err != nil {
		return fmt.Errorf("take over stale idempotency key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewIdempotencyConflict(claim.Key)
	}
	return nil
}

// Finish stores the response of the request holding the key. Server errors
// are not final: the key is released so the client can retry it.
func (s *IdempotencyStore) Finish(ctx context.Context, operatorID, key string, statusCode int, contentType string, response any) error {
	q := s.txManager.GetQuerier(ctx)

	if statusCode >= http.StatusInternalServerError {
		_, err := q.Exec(ctx, `DELETE FROM sys_idempotency WHERE operator_id = $1 AND idempotency_key = $2`,
			operatorID, key)
		if err != nil {
			return fmt.Errorf("release idempotency key: %w", err)
		}
		return nil
	}

	body, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("marshal idempotent response: %w", err)
	}

	status := IdempotencyCompleted
	if statusCode >= http.StatusBadRequest {
		status = IdempotencyRejected
	}

	_, err = q.Exec(ctx, `
		UPDATE sys_idempotency
		SET status = $1, response = $2, response_status = $3,
		    response_content_type = $4, updated_at = $5
		WHERE operator_id = $6 AND idempotency_key = $7`,
		status, body, statusCode, contentType, s.now(), operatorID, key)
	if err != nil {
		return fmt.Errorf("finish idempotency key: %w", err)
	}
	return nil
}

// CleanupExpired removes keys past their TTL.
func (s *IdempotencyStore) CleanupExpired(ctx context.Context) (int64, error) {
	tag, err := s.txManager.GetQuerier(ctx).Exec(ctx,
		`DELETE FROM sys_idempotency WHERE expires_at < $1`, s.now())
	if err != nil {
		return 0, fmt.Errorf("cleanup idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r idempotencyRecord) replay() *IdempotencyReplay {
	out := &IdempotencyReplay{StatusCode: r.StatusCode, ContentType: r.ContentType, Body: r.Response}
	if out.StatusCode == 0 {
		out.StatusCode = http.StatusOK
	}
	if out.ContentType == "" {
		out.ContentType = "application/json"
	}
	return out
}

