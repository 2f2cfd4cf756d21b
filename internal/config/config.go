package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`

	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience" yaml:"jwt_audience"`

	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	AwayThreshold      time.Duration `mapstructure:"away_threshold" yaml:"away_threshold"`
	OfflineGrace       time.Duration `mapstructure:"offline_grace" yaml:"offline_grace"`
	RetryBase          time.Duration `mapstructure:"retry_base" yaml:"retry_base"`
	RetryBackoffFactor float64       `mapstructure:"retry_backoff_factor" yaml:"retry_backoff_factor"`
	RetryMaxInterval   time.Duration `mapstructure:"retry_max_interval" yaml:"retry_max_interval"`
	RetryMaxAttempts   int           `mapstructure:"retry_max_attempts" yaml:"retry_max_attempts"`
	SendQueueCapacity  int           `mapstructure:"send_queue_capacity" yaml:"send_queue_capacity"`
	MaxPayloadBytes    int           `mapstructure:"max_payload_bytes" yaml:"max_payload_bytes"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		DatabasePath:      "pulsegate.db",

		JWTIssuer:   "pulsegate",
		JWTAudience: "pulsegate",

		HeartbeatInterval:  30 * time.Second,
		AwayThreshold:      2 * time.Minute,
		OfflineGrace:       10 * time.Second,
		RetryBase:          time.Second,
		RetryBackoffFactor: 2,
		RetryMaxInterval:   30 * time.Second,
		RetryMaxAttempts:   5,
		SendQueueCapacity:  256,
		MaxPayloadBytes:    64 * 1024,
	}
}
