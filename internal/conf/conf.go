package conf

import "time"

// Bootstrap is the root configuration of the ConnGuard service.
type Bootstrap struct {
	Server     *Server
	Data       *Data
	Log        *Log
	Resilience *Resilience
	Transport  *Transport
}

// Server holds listener configuration.
type Server struct {
	HTTP *ServerHTTP
}

// ServerHTTP configures the admin HTTP server.
// An empty AdminToken disables authentication.
type ServerHTTP struct {
	Network    string
	Addr       string
	Timeout    time.Duration
	AdminToken string
}

// Data holds persistence and messaging configuration.
type Data struct {
	Database *Database
	Redis    *Redis
}

// Database configures the connection status store.
// Driver is "mysql" or "postgres".
type Database struct {
	Driver       string
	Source       string
	MaxIdleConns int
	MaxOpenConns int
	CacheSize    int
}

// Redis configures the notification sink.
type Redis struct {
	Network      string
	Addr         string
	Password     string
	DB           int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Channel      string
}

// Log configures pkg/log.NewZapLogger.
// Rotation settings apply only when OutputFile is set.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// TimeZone is an IANA name such as "Asia/Shanghai"; empty means UTC+8.
	TimeZone string
}

// Resilience groups the tunables of the connection resilience layer.
type Resilience struct {
	Breaker   *Breaker
	Health    *Health
	Reconnect *Reconnect
	Registry  *Registry
	// SweepSpec is a robfig/cron spec for the status sweeper, e.g. "@every 30s".
	SweepSpec string
}

// Breaker configures per-connection circuit breakers.
type Breaker struct {
	FailureThreshold int
	RecoveryTime     time.Duration
	MonitorWindow    time.Duration
}

// Health configures the periodic health monitor.
type Health struct {
	Interval               time.Duration
	Timeout                time.Duration
	HistorySize            int
	MaxConsecutiveFailures int
}

// Reconnect configures exponential backoff reconnects.
type Reconnect struct {
	RetryDelay        time.Duration
	BackoffMultiplier float64
	MaxRetryDelay     time.Duration
	MaxAttempts       int
}

// Registry configures connection lifecycle handling.
type Registry struct {
	InitTimeout  time.Duration
	RestartDelay time.Duration
	AutoStart    bool
}

// Transport configures the session transport.
type Transport struct {
	Bridge *Bridge
}

// Bridge configures the browser-automation sidecar client.
type Bridge struct {
	URL              string
	Token            string
	ProxyURL         string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	EventBuffer      int
}
