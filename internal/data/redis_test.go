package data

import (
	"context"
	"testing"
	"time"

	"ConnGuard/internal/conf"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisClient_Success(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()

	c := &conf.Data{
		Redis: &conf.Redis{
			Addr:         mr.Addr(),
			ReadTimeout:  200 * time.Millisecond,
			WriteTimeout: 200 * time.Millisecond,
		},
	}

	client, cleanup, err := NewRedisClient(c, log.DefaultLogger)
	require.NoError(t, err)
	require.NotNil(t, client)
	defer cleanup()

	assert.NoError(t, client.Ping(context.Background()).Err())
}

func TestNewRedisClient_ConnectionFailure(t *testing.T) {
	c := &conf.Data{
		Redis: &conf.Redis{
			Addr:         "localhost:99999", // Invalid port
			ReadTimeout:  200 * time.Millisecond,
			WriteTimeout: 200 * time.Millisecond,
		},
	}

	// 连接失败不阻止启动
	client, cleanup, err := NewRedisClient(c, log.DefaultLogger)
	defer cleanup()

	assert.NoError(t, err)
	require.NotNil(t, client)

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	assert.Error(t, client.Ping(ctx).Err())
}

func TestNewRedisClient_NilConfig(t *testing.T) {
	client, cleanup, err := NewRedisClient(nil, log.DefaultLogger)
	defer cleanup()

	assert.NoError(t, err)
	assert.Nil(t, client)
}

func TestNewRedisClient_EmptyAddress(t *testing.T) {
	c := &conf.Data{Redis: &conf.Redis{Addr: ""}}

	client, cleanup, err := NewRedisClient(c, log.DefaultLogger)
	defer cleanup()

	assert.NoError(t, err)
	assert.Nil(t, client)
}

func TestNewRedisClient_Options(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()
	mr.RequireAuth("s3cret")

	c := &conf.Data{
		Redis: &conf.Redis{
			Addr:         mr.Addr(),
			Password:     "s3cret",
			DB:           0,
			ReadTimeout:  200 * time.Millisecond,
			WriteTimeout: 300 * time.Millisecond,
		},
	}

	client, cleanup, err := NewRedisClient(c, log.DefaultLogger)
	require.NoError(t, err)
	defer cleanup()

	opts := client.Options()
	assert.Equal(t, "tcp", opts.Network)
	assert.Equal(t, 20, opts.PoolSize)
	assert.Equal(t, 3*time.Second, opts.DialTimeout)
	assert.Equal(t, 200*time.Millisecond, opts.ReadTimeout)
	assert.Equal(t, 300*time.Millisecond, opts.WriteTimeout)

	assert.NoError(t, client.Ping(context.Background()).Err())
}

func TestNewRedisClient_CleanupFunction(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()

	c := &conf.Data{Redis: &conf.Redis{Addr: mr.Addr()}}

	client, cleanup, err := NewRedisClient(c, log.DefaultLogger)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())

	cleanup()

	assert.Error(t, client.Ping(ctx).Err())
}
