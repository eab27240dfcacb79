package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"pdarena/internal/common/cache"

	"github.com/google/uuid"
)

const (
	defaultRunLockTTL = 10 * time.Minute
	runLockKeyPrefix  = "arena:resolve:"
)

// RunLock keeps a single resolution run per tournament in flight.
type RunLock interface {
	// Acquire returns the holder token, or "" when another run holds the lock.
	Acquire(ctx context.Context, tournamentID int64) (string, error)
	Extend(ctx context.Context, tournamentID int64, token string) (bool, error)
	Release(ctx context.Context, tournamentID int64, token string) error
	TTL() time.Duration
}

// RedisRunLock implements RunLock with token-guarded Redis keys.
type RedisRunLock struct {
	cache cache.Cache
	ttl   time.Duration
}

func NewRunLock(cacheClient cache.Cache, ttl time.Duration) *RedisRunLock {
	if ttl <= 0 {
		ttl = defaultRunLockTTL
	}
	return &RedisRunLock{cache: cacheClient, ttl: ttl}
}

func (l *RedisRunLock) TTL() time.Duration {
	return l.ttl
}

func (l *RedisRunLock) Acquire(ctx context.Context, tournamentID int64) (string, error) {
	if l.cache == nil {
		return "", errors.New("cache client is not initialized")
	}
	token := uuid.NewString()
	ok, err := l.cache.TryLock(ctx, runLockKey(tournamentID), token, l.ttl)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

func (l *RedisRunLock) Extend(ctx context.Context, tournamentID int64, token string) (bool, error) {
	if l.cache == nil {
		return false, errors.New("cache client is not initialized")
	}
	return l.cache.ExtendLock(ctx, runLockKey(tournamentID), token, l.ttl)
}

func (l *RedisRunLock) Release(ctx context.Context, tournamentID int64, token string) error {
	if l.cache == nil {
		return errors.New("cache client is not initialized")
	}
	_, err := l.cache.Unlock(ctx, runLockKey(tournamentID), token)
	return err
}

func runLockKey(tournamentID int64) string {
	return runLockKeyPrefix + strconv.FormatInt(tournamentID, 10)
}

var _ RunLock = (*RedisRunLock)(nil)
