package testutils

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	cassContainer "github.com/testcontainers/testcontainers-go/modules/cassandra"
	chContainer "github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	NATSContainerImage = "nats:latest"
	NATSPort           = "4222/tcp"

	CassandraContainerImage = "cassandra:4.1.3"

	ClickHouseContainerImage = "clickhouse/clickhouse-server:23.3.8.21-alpine"
	ClickHousePort           = "9000/tcp"
)

func reuseContainers() bool {
	return os.Getenv("CDETL_REUSE_TESTCONTAINERS") == "true"
}

// NATSContainer wraps a NATS testcontainer running with JetStream enabled
type NATSContainer struct {
	container testcontainers.Container
	uri       string
}

func StartNATSContainer(ctx context.Context) (*NATSContainer, error) {
	req := testcontainers.ContainerRequest{ //nolint:exhaustruct // optional config
		Name:         "testcontainers-nats",
		Image:        NATSContainerImage,
		ExposedPorts: []string{NATSPort},
		Cmd:          []string{"-js"},
		WaitingFor: wait.ForListeningPort(NATSPort).
			WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx,
		testcontainers.GenericContainerRequest{ //nolint:exhaustruct // optional config
			ContainerRequest: req,
			Started:          true,
			Reuse:            reuseContainers(),
		})
	if err != nil {
		return nil, fmt.Errorf("failed to start NATS container %w", err)
	}

	mappedPort, err := container.MappedPort(ctx, nat.Port(NATSPort))
	if err != nil {
		return nil, fmt.Errorf("failed to get mapped port of NATS container %w", err)
	}

	return &NATSContainer{
		container: container,
		uri:       "nats://" + net.JoinHostPort("127.0.0.1", mappedPort.Port()),
	}, nil
}

func (n *NATSContainer) GetURI() string {
	return n.uri
}

func (n *NATSContainer) Stop(ctx context.Context) error {
	if reuseContainers() {
		return nil
	}

	if err := n.container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to stop NATS container %w", err)
	}

	return nil
}

// CassandraContainer wraps a Cassandra testcontainer
type CassandraContainer struct {
	container *cassContainer.CassandraContainer
}

func StartCassandraContainer(ctx context.Context) (*CassandraContainer, error) {
	container, err := cassContainer.Run(ctx, CassandraContainerImage,
		testcontainers.WithReuseByName("testcontainers-cassandra"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start Cassandra container %w", err)
	}

	return &CassandraContainer{container: container}, nil
}

// GetHost returns host:port of the native protocol endpoint
func (c *CassandraContainer) GetHost(ctx context.Context) (string, error) {
	host, err := c.container.ConnectionHost(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get Cassandra host %w", err)
	}
	return host, nil
}

func (c *CassandraContainer) Stop(ctx context.Context) error {
	if reuseContainers() {
		return nil
	}

	if err := c.container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to stop Cassandra container %w", err)
	}

	return nil
}

// ClickHouseContainer wraps a ClickHouse testcontainer
type ClickHouseContainer struct {
	container *chContainer.ClickHouseContainer
}

// StartClickHouseContainer starts a ClickHouse container
func StartClickHouseContainer(ctx context.Context) (*ClickHouseContainer, error) {
	container, err := chContainer.Run(
		ctx,
		ClickHouseContainerImage,
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/").
				WithPort("8123/tcp").
				WithStartupTimeout(60*time.Second)),
		testcontainers.WithReuseByName("testcontainers-clickhouse"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start ClickHouse container %w", err)
	}

	return &ClickHouseContainer{
		container: container,
	}, nil
}

func (c *ClickHouseContainer) GetPort(ctx context.Context) (string, error) {
	port, err := c.container.MappedPort(ctx, nat.Port(ClickHousePort))
	if err != nil {
		return "", fmt.Errorf("failed to get mapped port of ClickHouse container %w", err)
	}
	return port.Port(), nil
}

func (c *ClickHouseContainer) GetDefaultDBName() string {
	return c.container.DbName
}

func (c *ClickHouseContainer) GetUser() string {
	return c.container.User
}

func (c *ClickHouseContainer) GetPassword() string {
	return c.container.Password
}

// Stop stops the container
func (c *ClickHouseContainer) Stop(ctx context.Context) error {
	if reuseContainers() {
		return nil
	}

	err := c.container.Terminate(ctx)
	if err != nil {
		return fmt.Errorf("failed to stop ClickHouse container %w", err)
	}

	return nil
}
