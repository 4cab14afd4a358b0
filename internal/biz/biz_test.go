package biz

import (
	stderrors "errors"
	"testing"
	"time"

	"ConnGuard/internal/conf"

	"github.com/stretchr/testify/assert"
)

func TestConfigProviders_Defaults(t *testing.T) {
	assert.Equal(t, DefaultBreakerConfig(), NewBreakerConfig(nil))
	assert.Equal(t, DefaultHealthConfig(), NewHealthConfig(&conf.Resilience{}))
	assert.Equal(t, DefaultReconnectConfig(), NewReconnectConfig(nil))
	assert.Equal(t, DefaultRegistryConfig(), NewRegistryConfig(&conf.Resilience{}))
}

func TestConfigProviders_Overrides(t *testing.T) {
	c := &conf.Resilience{
		Breaker:   &conf.Breaker{FailureThreshold: 2, RecoveryTime: time.Second},
		Health:    &conf.Health{Interval: 5 * time.Second, MaxConsecutiveFailures: 1},
		Reconnect: &conf.Reconnect{RetryDelay: time.Second, BackoffMultiplier: 0.5, MaxAttempts: 9},
		Registry:  &conf.Registry{InitTimeout: time.Minute},
	}

	b := NewBreakerConfig(c)
	assert.Equal(t, 2, b.FailureThreshold)
	assert.Equal(t, time.Second, b.RecoveryTime)
	assert.Equal(t, 120*time.Second, b.MonitorWindow)

	h := NewHealthConfig(c)
	assert.Equal(t, 5*time.Second, h.Interval)
	assert.Equal(t, 10*time.Second, h.Timeout)
	assert.Equal(t, 1, h.MaxConsecutiveFailures)

	r := NewReconnectConfig(c)
	assert.Equal(t, time.Second, r.RetryDelay)
	assert.Equal(t, 2.0, r.BackoffMultiplier, "multiplier below 1 would shrink delays")
	assert.Equal(t, 9, r.MaxAttempts)

	reg := NewRegistryConfig(c)
	assert.Equal(t, time.Minute, reg.InitTimeout)
	assert.Equal(t, 2*time.Second, reg.RestartDelay)
}

func TestNewTransportError_KeepsCause(t *testing.T) {
	cause := stderrors.New("websocket: close 1006")
	err := newTransportError(7, cause)

	assert.True(t, stderrors.Is(err, ErrTransport))
	assert.True(t, stderrors.Is(err, cause))
	assert.Contains(t, err.Error(), "connection 7: transport error: websocket: close 1006")
}
