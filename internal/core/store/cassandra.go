package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/glassflow/cassandra-dataset-etl/internal/core/schema"
)

const DefaultProfile = "tuple"

type CassandraConfig struct {
	Hosts          []string `json:"hosts"`
	Port           int      `json:"port" default:"9042"`
	Keyspace       string   `json:"keyspace"`
	Username       string   `json:"username"`
	Password       string   `json:"password"`
	Consistency    string   `json:"consistency" default:"LOCAL_QUORUM"`
	ConnectTimeout int      `json:"connect_timeout" default:"10" split_words:"true"` // seconds
	NumConns       int      `json:"num_conns" default:"2" split_words:"true"`
	// Profiles maps an execution profile name to a consistency level.
	Profiles map[string]string `json:"profiles"`
}

// Profile is a named set of client side execution options.
type Profile struct {
	Consistency gocql.Consistency
}

// Cassandra is a Session backed by gocql.
type Cassandra struct {
	session  *gocql.Session
	profiles map[string]Profile
	fallback Profile
	closed   atomic.Bool
}

func NewCassandra(cfg CassandraConfig) (*Cassandra, error) {
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("%w: no cassandra hosts", ErrInvalidConfig)
	}

	fallback, profiles, err := parseProfiles(cfg)
	if err != nil {
		return nil, err
	}

	cluster := gocql.NewCluster(cfg.Hosts...)
	if cfg.Port > 0 {
		cluster.Port = cfg.Port
	}
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = fallback.Consistency
	if cfg.ConnectTimeout > 0 {
		cluster.ConnectTimeout = time.Duration(cfg.ConnectTimeout) * time.Second
	}
	if cfg.NumConns > 0 {
		cluster.NumConns = cfg.NumConns
	}
	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create cassandra session: %w", err)
	}

	return &Cassandra{
		session:  session,
		profiles: profiles,
		fallback: fallback,
	}, nil
}

func parseProfiles(cfg CassandraConfig) (Profile, map[string]Profile, error) {
	level := cfg.Consistency
	if level == "" {
		level = "LOCAL_QUORUM"
	}
	c, err := gocql.ParseConsistencyWrapper(strings.ToUpper(level))
	if err != nil {
		return Profile{}, nil, fmt.Errorf("%w: consistency: %w", ErrInvalidConfig, err)
	}
	fallback := Profile{Consistency: c}

	profiles := map[string]Profile{DefaultProfile: fallback}
	for name, level := range cfg.Profiles {
		c, err := gocql.ParseConsistencyWrapper(strings.ToUpper(level))
		if err != nil {
			return Profile{}, nil, fmt.Errorf("%w: profile %s: %w", ErrInvalidConfig, name, err)
		}
		profiles[name] = Profile{Consistency: c}
	}

	return fallback, profiles, nil
}

func (c *Cassandra) profile(name string) Profile {
	if p, ok := c.profiles[name]; ok {
		return p
	}
	return c.fallback
}

// Prepare records the statement text. gocql prepares bound queries on first
// use and caches the prepared id per host, so no round trip happens here.
func (c *Cassandra) Prepare(_ context.Context, insert schema.Insert) (*Statement, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	return &Statement{Insert: insert, Query: insert.CQL()}, nil
}

func (c *Cassandra) Execute(ctx context.Context, stmt *Statement, args []any, opts ExecOptions) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := checkArity(stmt, args); err != nil {
		return err
	}

	ctx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()

	err := c.session.Query(stmt.Query, cqlValues(args)...).
		WithContext(ctx).
		Consistency(c.profile(opts.Profile).Consistency).
		Idempotent(true).
		Exec()
	if err != nil {
		if isCassandraTimeout(ctx, err) {
			return fmt.Errorf("%w: %s: %w", ErrTimeout, stmt.Insert.Table, err)
		}
		return fmt.Errorf("insert into %s: %w", stmt.Insert.Table, err)
	}

	return nil
}

func (c *Cassandra) ExecuteConcurrent(ctx context.Context, stmt *Statement, rows [][]any, opts ExecOptions, maxConcurrency int) error {
	return RunConcurrent(ctx, len(rows), maxConcurrency, func(ctx context.Context, i int) error {
		return c.Execute(ctx, stmt, rows[i], opts)
	})
}

func (c *Cassandra) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.session.Close()
	}
	return nil
}

func isCassandraTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, gocql.ErrTimeoutNoResponse) {
		return true
	}
	var writeTimeout *gocql.RequestErrWriteTimeout
	return errors.As(err, &writeTimeout)
}

// cqlValues converts values gocql cannot marshal directly.
func cqlValues(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case uuid.UUID:
			out[i] = gocql.UUID(v)
		default:
			out[i] = a
		}
	}
	return out
}
