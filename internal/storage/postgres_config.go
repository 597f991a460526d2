package storage

import "time"

// PostgresConfig captures connection tuning for the Postgres repository.
type PostgresConfig struct {
	DSN             string
	MaxConnections  int32
	MinConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	AcquireTimeout  time.Duration
	ApplicationName string
}

// PostgresOption mutates Postgres repository configuration.
type PostgresOption func(*PostgresConfig)

// WithPostgresMaxConnections bounds the pool size.
func WithPostgresMaxConnections(max int32) PostgresOption {
	return func(cfg *PostgresConfig) {
		if max > 0 {
			cfg.MaxConnections = max
		}
	}
}

// WithPostgresAcquireTimeout bounds how long connection establishment may take.
func WithPostgresAcquireTimeout(timeout time.Duration) PostgresOption {
	return func(cfg *PostgresConfig) {
		if timeout > 0 {
			cfg.AcquireTimeout = timeout
		}
	}
}

// WithPostgresApplicationName sets the application_name runtime parameter.
func WithPostgresApplicationName(name string) PostgresOption {
	return func(cfg *PostgresConfig) {
		cfg.ApplicationName = name
	}
}

func newPostgresConfig(dsn string, opts ...PostgresOption) PostgresConfig {
	cfg := PostgresConfig{
		DSN:             dsn,
		AcquireTimeout:  5 * time.Second,
		ApplicationName: "studyhub",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}
