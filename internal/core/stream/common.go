package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

type NATSConnWrapper struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// NewNATSWrapper connects to NATS and opens a JetStream context. name shows up
// in the server's connection list.
func NewNATSWrapper(url, name string) (*NATSConnWrapper, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to connect to JetStream: %w", err)
	}

	return &NATSConnWrapper{
		nc: nc,
		js: js,
	}, nil
}

func (n *NATSConnWrapper) JetStream() jetstream.JetStream {
	return n.js
}

// EnsureStream creates the job stream when it does not exist yet.
func (n *NATSConnWrapper) EnsureStream(ctx context.Context, name string, subjects ...string) error {
	_, err := n.js.Stream(ctx, name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("get stream: %w", err)
	}

	//nolint:exhaustruct // optional config
	_, err = n.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     name,
		Subjects: subjects,
	})
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}

	return nil
}

// Close drains pending publishes before closing the connection.
func (n *NATSConnWrapper) Close() error {
	if err := n.nc.Drain(); err != nil {
		n.nc.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}
