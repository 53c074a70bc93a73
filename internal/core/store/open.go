package store

import (
	"context"
	"fmt"
)

const (
	BackendCassandra  = "cassandra"
	BackendClickHouse = "clickhouse"
)

type Config struct {
	Backend    string           `json:"backend" default:"cassandra"`
	Cassandra  CassandraConfig  `json:"cassandra"`
	ClickHouse ClickHouseConfig `json:"clickhouse"`
}

// Open connects to the configured backend.
func Open(ctx context.Context, cfg Config) (Session, error) {
	switch cfg.Backend {
	case BackendCassandra, "":
		sess, err := NewCassandra(cfg.Cassandra)
		if err != nil {
			return nil, err
		}
		return sess, nil
	case BackendClickHouse:
		sess, err := NewClickHouse(ctx, cfg.ClickHouse)
		if err != nil {
			return nil, err
		}
		return sess, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStore, cfg.Backend)
	}
}
