package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	reauthKeyPrefix    = "auth:reauth:"
	blacklistKeyPrefix = "auth:jti:"
)

// SecurityMarkerRepository holds the short-TTL security state that lives
// outside the token record store: per-user force-reauth markers and the
// access-token jti blacklist.
type SecurityMarkerRepository interface {
	FlagReauth(ctx context.Context, userID uuid.UUID, ttl time.Duration) error
	NeedsReauth(ctx context.Context, userID uuid.UUID) (bool, error)
	ClearReauth(ctx context.Context, userID uuid.UUID) error
	BlacklistJTI(ctx context.Context, jti uuid.UUID, ttl time.Duration) error
	IsJTIBlacklisted(ctx context.Context, jti uuid.UUID) (bool, error)
}

type redisSecurityMarkerRepo struct {
	rdb *redis.Client
}

func NewSecurityMarkerRepository(rdb *redis.Client) SecurityMarkerRepository {
	return &redisSecurityMarkerRepo{rdb: rdb}
}

func (r *redisSecurityMarkerRepo) FlagReauth(ctx context.Context, userID uuid.UUID, ttl time.Duration) error {
	return r.rdb.Set(ctx, reauthKeyPrefix+userID.String(), "1", ttl).Err()
}

func (r *redisSecurityMarkerRepo) NeedsReauth(ctx context.Context, userID uuid.UUID) (bool, error) {
	err := r.rdb.Get(ctx, reauthKeyPrefix+userID.String()).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *redisSecurityMarkerRepo) ClearReauth(ctx context.Context, userID uuid.UUID) error {
	return r.rdb.Del(ctx, reauthKeyPrefix+userID.String()).Err()
}

func (r *redisSecurityMarkerRepo) BlacklistJTI(ctx context.Context, jti uuid.UUID, ttl time.Duration) error {
	// TTL matches the access token lifetime; there is no point remembering a
	// jti after the token it names has expired
	return r.rdb.Set(ctx, blacklistKeyPrefix+jti.String(), "1", ttl).Err()
}

func (r *redisSecurityMarkerRepo) IsJTIBlacklisted(ctx context.Context, jti uuid.UUID) (bool, error) {
	err := r.rdb.Get(ctx, blacklistKeyPrefix+jti.String()).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
