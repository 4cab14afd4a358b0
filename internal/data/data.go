// Package data provides the collaborators of the resilience core: the status
// store, the notification sink and the session transport.
package data

import (
	"context"
	"errors"
	"fmt"

	"ConnGuard/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewDB,
	NewRedisClient,
	NewConnectionRepo,
	NewRedisNotifier,
	NewBridgeTransport,
)

// Data contains the shared data layer clients.
type Data struct {
	db          *gorm.DB
	redisClient *redis.Client
}

// NewData creates a new Data instance.
// A nil Redis client does not prevent startup (graceful degradation).
func NewData(_ *conf.Data, logger log.Logger, db *gorm.DB, rdb *redis.Client) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	if rdb == nil {
		helper.Warn("Redis client is nil, notifications will only be logged")
	}

	d := &Data{
		db:          db,
		redisClient: rdb,
	}

	cleanup := func() {
		helper.Info("closing the data resources")
	}

	return d, cleanup, nil
}

// GetRedisClient returns the Redis client, which may be nil.
func (d *Data) GetRedisClient() *redis.Client {
	return d.redisClient
}

// Ping checks the database, the only hard dependency.
func (d *Data) Ping(ctx context.Context) error {
	if d.db == nil {
		return errors.New("database is not configured")
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// PingRedis reports whether Redis is configured and reachable.
func (d *Data) PingRedis(ctx context.Context) (configured bool, err error) {
	if d.redisClient == nil {
		return false, nil
	}
	return true, d.redisClient.Ping(ctx).Err()
}
