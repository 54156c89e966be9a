package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"ev-commerce/internal/models"
	"ev-commerce/internal/store"
	"ev-commerce/internal/util"

	"go.uber.org/zap"
)

// IdempotencyStore is the persistence the guard needs. Implemented by
// *store.Store; tests substitute an in-memory fake.
type IdempotencyStore interface {
	GetIdempotencyRecord(ctx context.Context, key string) (*models.IdempotencyRecord, error)
	CreateIdempotencyRecord(ctx context.Context, key string, response []byte) error
}

// ResponseCache is the optional fast-path cache for stored responses.
type ResponseCache interface {
	GetIdempotentResponse(ctx context.Context, key string) ([]byte, error)
	CacheIdempotentResponse(ctx context.Context, key string, response []byte, ttl time.Duration) error
}

// IdempotencyGuard suppresses duplicate side-effecting requests by replaying
// the first successful response for a deterministically derived key.
type IdempotencyGuard struct {
	store  IdempotencyStore
	cache  ResponseCache
	ttl    time.Duration
	logger *zap.Logger
}

// NewIdempotencyGuard creates a guard. cache may be nil.
func NewIdempotencyGuard(st IdempotencyStore, cache ResponseCache, ttl time.Duration) *IdempotencyGuard {
	return &IdempotencyGuard{
		store:  st,
		cache:  cache,
		ttl:    ttl,
		logger: util.GetLogger(),
	}
}

// DeriveKey maps (user, semantically relevant fields) to a deterministic
// key. Identical logical requests yield the same key regardless of when
// they arrive.
func (g *IdempotencyGuard) DeriveKey(userID int64, fields ...string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s", userID, strings.Join(fields, "|"))))
	return hex.EncodeToString(sum[:])
}

// Check returns the stored response for the key, or nil if the request is
// new. The response is returned verbatim; side effects are not re-executed.
func (g *IdempotencyGuard) Check(ctx context.Context, key string) ([]byte, error) {
	if g.cache != nil {
		cached, err := g.cache.GetIdempotentResponse(ctx, key)
		if err != nil {
			g.logger.Warn("Idempotency cache read failed, falling back to store",
				zap.Error(err))
		} else if cached != nil {
			util.IdempotentReplaysTotal.Inc()
			return cached, nil
		}
	}

	rec, err := g.store.GetIdempotencyRecord(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency record: %w", err)
	}
	if rec == nil {
		return nil, nil
	}

	util.IdempotentReplaysTotal.Inc()
	return rec.Response, nil
}

// Store persists the response after the domain operation fully succeeded.
// If a concurrent request with the same key won the race, the winner's
// stored response is returned instead of an error; a failed operation never
// reaches this point, so the key stays retryable.
func (g *IdempotencyGuard) Store(ctx context.Context, key string, response []byte) ([]byte, error) {
	err := g.store.CreateIdempotencyRecord(ctx, key, response)
	if err != nil {
		if store.IsUniqueViolation(err) {
			g.logger.Info("Idempotency race lost, returning winner's response",
				zap.String("key", key))
			winner, ferr := g.store.GetIdempotencyRecord(ctx, key)
			if ferr != nil || winner == nil {
				return nil, fmt.Errorf("failed to fetch winning idempotency record: %w", ferr)
			}
			return winner.Response, nil
		}
		return nil, fmt.Errorf("failed to store idempotency record: %w", err)
	}

	if g.cache != nil {
		if cerr := g.cache.CacheIdempotentResponse(ctx, key, response, g.ttl); cerr != nil {
			g.logger.Warn("Failed to cache idempotent response", zap.Error(cerr))
		}
	}

	return response, nil
}
