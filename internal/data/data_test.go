package data

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// setupTestDB creates a GORM client backed by sqlmock
func setupTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
	})
	require.NoError(t, err)

	t.Cleanup(func() { sqlDB.Close() })
	return gormDB, mock
}

// setupTestRedis creates a Redis client backed by miniredis
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestNewData_WithRedis(t *testing.T) {
	db, _ := setupTestDB(t)
	rdb, _ := setupTestRedis(t)

	data, cleanup, err := NewData(nil, log.DefaultLogger, db, rdb)
	require.NoError(t, err)
	require.NotNil(t, data)
	defer cleanup()

	assert.Equal(t, rdb, data.GetRedisClient())

	configured, err := data.PingRedis(context.Background())
	assert.True(t, configured)
	assert.NoError(t, err)
}

func TestNewData_WithoutRedis(t *testing.T) {
	db, _ := setupTestDB(t)

	data, cleanup, err := NewData(nil, log.DefaultLogger, db, nil)
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, data.GetRedisClient())

	configured, err := data.PingRedis(context.Background())
	assert.False(t, configured)
	assert.NoError(t, err)
}

func TestData_PingRedisDown(t *testing.T) {
	db, _ := setupTestDB(t)
	rdb, mr := setupTestRedis(t)
	mr.Close()

	data, cleanup, err := NewData(nil, log.DefaultLogger, db, rdb)
	require.NoError(t, err)
	defer cleanup()

	configured, err := data.PingRedis(context.Background())
	assert.True(t, configured)
	assert.Error(t, err)
}

func TestData_Ping(t *testing.T) {
	db, mock := setupTestDB(t)

	data, cleanup, err := NewData(nil, log.DefaultLogger, db, nil)
	require.NoError(t, err)
	defer cleanup()

	mock.ExpectPing()
	assert.NoError(t, data.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(assert.AnError)
	err = data.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database ping failed")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestData_PingWithoutDatabase(t *testing.T) {
	data, cleanup, err := NewData(nil, log.DefaultLogger, nil, nil)
	require.NoError(t, err)
	defer cleanup()

	assert.Error(t, data.Ping(context.Background()))
}
