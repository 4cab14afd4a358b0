// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with CONNGUARD_.
//
// Configuration priority: Environment variables > Config file > Defaults
//
// Required environment variables:
//   - DATABASE_DSN or CONNGUARD_DATA_DATABASE_SOURCE: status store connection string
//   - BRIDGE_URL or CONNGUARD_TRANSPORT_BRIDGE_URL: sidecar websocket endpoint
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("CONNGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("server.http.admin_token", "ADMIN_TOKEN", "CONNGUARD_SERVER_HTTP_ADMIN_TOKEN")
	_ = v.BindEnv("data.database.source", "DATABASE_DSN", "CONNGUARD_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "REDIS_ADDR", "CONNGUARD_DATA_REDIS_ADDR")
	_ = v.BindEnv("data.redis.password", "REDIS_PASSWORD", "CONNGUARD_DATA_REDIS_PASSWORD")
	_ = v.BindEnv("transport.bridge.url", "BRIDGE_URL", "CONNGUARD_TRANSPORT_BRIDGE_URL")
	_ = v.BindEnv("transport.bridge.token", "BRIDGE_TOKEN", "CONNGUARD_TRANSPORT_BRIDGE_TOKEN")
	_ = v.BindEnv("transport.bridge.proxy_url", "BRIDGE_PROXY_URL", "CONNGUARD_TRANSPORT_BRIDGE_PROXY_URL")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	bc := &Bootstrap{
		Server: &Server{
			HTTP: &ServerHTTP{
				Network:    v.GetString("server.http.network"),
				Addr:       v.GetString("server.http.addr"),
				Timeout:    v.GetDuration("server.http.timeout"),
				AdminToken: v.GetString("server.http.admin_token"),
			},
		},
		Data: &Data{
			Database: &Database{
				Driver:       strings.ToLower(v.GetString("data.database.driver")),
				Source:       v.GetString("data.database.source"),
				MaxIdleConns: v.GetInt("data.database.max_idle_conns"),
				MaxOpenConns: v.GetInt("data.database.max_open_conns"),
				CacheSize:    v.GetInt("data.database.cache_size"),
			},
			Redis: &Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				Password:     v.GetString("data.redis.password"),
				DB:           v.GetInt("data.redis.db"),
				ReadTimeout:  v.GetDuration("data.redis.read_timeout"),
				WriteTimeout: v.GetDuration("data.redis.write_timeout"),
				Channel:      v.GetString("data.redis.channel"),
			},
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
			TimeZone:   v.GetString("log.time_zone"),
		},
		Resilience: &Resilience{
			Breaker: &Breaker{
				FailureThreshold: v.GetInt("resilience.breaker.failure_threshold"),
				RecoveryTime:     v.GetDuration("resilience.breaker.recovery_time"),
				MonitorWindow:    v.GetDuration("resilience.breaker.monitor_window"),
			},
			Health: &Health{
				Interval:               v.GetDuration("resilience.health.interval"),
				Timeout:                v.GetDuration("resilience.health.timeout"),
				HistorySize:            v.GetInt("resilience.health.history_size"),
				MaxConsecutiveFailures: v.GetInt("resilience.health.max_consecutive_failures"),
			},
			Reconnect: &Reconnect{
				RetryDelay:        v.GetDuration("resilience.reconnect.retry_delay"),
				BackoffMultiplier: v.GetFloat64("resilience.reconnect.backoff_multiplier"),
				MaxRetryDelay:     v.GetDuration("resilience.reconnect.max_retry_delay"),
				MaxAttempts:       v.GetInt("resilience.reconnect.max_attempts"),
			},
			Registry: &Registry{
				InitTimeout:  v.GetDuration("resilience.registry.init_timeout"),
				RestartDelay: v.GetDuration("resilience.registry.restart_delay"),
				AutoStart:    v.GetBool("resilience.registry.auto_start"),
			},
			SweepSpec: v.GetString("resilience.sweep_spec"),
		},
		Transport: &Transport{
			Bridge: &Bridge{
				URL:              v.GetString("transport.bridge.url"),
				Token:            v.GetString("transport.bridge.token"),
				ProxyURL:         v.GetString("transport.bridge.proxy_url"),
				HandshakeTimeout: v.GetDuration("transport.bridge.handshake_timeout"),
				WriteTimeout:     v.GetDuration("transport.bridge.write_timeout"),
				PingInterval:     v.GetDuration("transport.bridge.ping_interval"),
				EventBuffer:      v.GetInt("transport.bridge.event_buffer"),
			},
		},
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8000")
	v.SetDefault("server.http.timeout", 30*time.Second)

	v.SetDefault("data.database.driver", "mysql")
	// data.database.source (DATABASE_DSN) is required
	v.SetDefault("data.database.max_idle_conns", 10)
	v.SetDefault("data.database.max_open_conns", 50)
	v.SetDefault("data.database.cache_size", 1024)

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.db", 0)
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.channel", "connguard:events")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 7)

	v.SetDefault("resilience.breaker.failure_threshold", 5)
	v.SetDefault("resilience.breaker.recovery_time", 60*time.Second)
	v.SetDefault("resilience.breaker.monitor_window", 120*time.Second)

	v.SetDefault("resilience.health.interval", 30*time.Second)
	v.SetDefault("resilience.health.timeout", 10*time.Second)
	v.SetDefault("resilience.health.history_size", 20)
	v.SetDefault("resilience.health.max_consecutive_failures", 3)

	v.SetDefault("resilience.reconnect.retry_delay", 2*time.Second)
	v.SetDefault("resilience.reconnect.backoff_multiplier", 2.0)
	v.SetDefault("resilience.reconnect.max_retry_delay", 5*time.Minute)
	v.SetDefault("resilience.reconnect.max_attempts", 5)

	v.SetDefault("resilience.registry.init_timeout", 90*time.Second)
	v.SetDefault("resilience.registry.restart_delay", 2*time.Second)
	v.SetDefault("resilience.registry.auto_start", true)
	v.SetDefault("resilience.sweep_spec", "@every 30s")

	// transport.bridge.url (BRIDGE_URL) is required
	v.SetDefault("transport.bridge.handshake_timeout", 10*time.Second)
	v.SetDefault("transport.bridge.write_timeout", 5*time.Second)
	v.SetDefault("transport.bridge.ping_interval", 20*time.Second)
	v.SetDefault("transport.bridge.event_buffer", 64)
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing every problem found.
func Validate(bc *Bootstrap) error {
	var problems []string

	if bc.Data == nil || bc.Data.Database == nil || bc.Data.Database.Source == "" {
		problems = append(problems, "data.database.source (DATABASE_DSN) is required")
	} else if d := bc.Data.Database.Driver; d != "mysql" && d != "postgres" {
		problems = append(problems, fmt.Sprintf("data.database.driver %q must be mysql or postgres", d))
	}

	if bc.Transport == nil || bc.Transport.Bridge == nil || bc.Transport.Bridge.URL == "" {
		problems = append(problems, "transport.bridge.url (BRIDGE_URL) is required")
	}

	if r := bc.Resilience; r != nil {
		if r.Breaker != nil && r.Breaker.FailureThreshold < 1 {
			problems = append(problems, "resilience.breaker.failure_threshold must be >= 1")
		}
		if r.Health != nil && r.Health.Interval <= 0 {
			problems = append(problems, "resilience.health.interval must be positive")
		}
		if r.Reconnect != nil {
			if r.Reconnect.BackoffMultiplier < 1 {
				problems = append(problems, "resilience.reconnect.backoff_multiplier must be >= 1")
			}
			if r.Reconnect.MaxRetryDelay < r.Reconnect.RetryDelay {
				problems = append(problems, "resilience.reconnect.max_retry_delay must be >= retry_delay")
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, ", "))
	}

	return nil
}
