package repository

import (
	"context"
	"sync/atomic"
	"time"

	"carinspect/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverPresenceRepository serves from primary until it fails, then from
// fallback, probing primary again once a minute.
type FailoverPresenceRepository struct {
	primary   domain.PresenceRepository
	fallback  domain.PresenceRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverPresenceRepository(primary, fallback domain.PresenceRepository, logger *zerolog.Logger) *FailoverPresenceRepository {
	return &FailoverPresenceRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverPresenceRepository) markDown(err error) {
	r.logger.Error().Err(err).Msg("primary presence repository failed, falling back to memory")
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().UnixNano())
}

// usePrimary reports whether the next call should go to primary.
func (r *FailoverPresenceRepository) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	return time.Since(time.Unix(0, r.lastCheck.Load())) > recoveryInterval
}

func (r *FailoverPresenceRepository) recovered() {
	if r.isDown.CompareAndSwap(true, false) {
		r.logger.Info().Msg("primary presence repository recovered")
	}
}

func (r *FailoverPresenceRepository) AddConnection(ctx context.Context, userID int64, connID string) error {
	// The fallback always tracks local connections so a failover does not lose them.
	_ = r.fallback.AddConnection(ctx, userID, connID)
	if r.usePrimary() {
		err := r.primary.AddConnection(ctx, userID, connID)
		if err == nil {
			r.recovered()
			return nil
		}
		r.markDown(err)
	}
	return nil
}

func (r *FailoverPresenceRepository) RemoveConnection(ctx context.Context, userID int64, connID string) error {
	_ = r.fallback.RemoveConnection(ctx, userID, connID)
	if r.usePrimary() {
		err := r.primary.RemoveConnection(ctx, userID, connID)
		if err == nil {
			r.recovered()
			return nil
		}
		r.markDown(err)
	}
	return nil
}

func (r *FailoverPresenceRepository) IsOnline(ctx context.Context, userID int64) (bool, error) {
	if r.usePrimary() {
		online, err := r.primary.IsOnline(ctx, userID)
		if err == nil {
			r.recovered()
			return online, nil
		}
		r.markDown(err)
	}
	return r.fallback.IsOnline(ctx, userID)
}

func (r *FailoverPresenceRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			r.recovered()
			return allowed, nil
		}
		r.markDown(err)
	}
	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}
