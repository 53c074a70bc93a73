package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

type ConsumerConfig struct {
	NatsURL        string `json:"url" default:"nats://localhost:4222" split_words:"true"`
	NatsStream     string `json:"stream" default:"images" split_words:"true"`
	NatsConsumer   string `json:"consumer" default:"cdetl" split_words:"true"`
	NatsSubject    string `json:"subject" default:"jobs" split_words:"true"`
	AckWaitSeconds int64  `json:"ack_wait" default:"60" split_words:"true"`
	// FetchWaitMillis is how long Next blocks before reporting an idle stream.
	FetchWaitMillis int64 `json:"fetch_wait" default:"1000" split_words:"true"`
}

// Subject is the subject jobs are published on.
func (c ConsumerConfig) Subject() string {
	if c.NatsSubject == "" {
		return c.NatsStream + ".>"
	}
	return c.NatsStream + "." + c.NatsSubject
}

type Consumer struct {
	Consumer  jetstream.Consumer
	fetchWait time.Duration
}

// NewConsumer creates or updates a durable consumer. Acks are cumulative, so
// acknowledging a message acknowledges everything delivered before it.
func NewConsumer(ctx context.Context, js jetstream.JetStream, cfg ConsumerConfig) (*Consumer, error) {
	stream, err := js.Stream(ctx, cfg.NatsStream)
	if err != nil {
		return nil, fmt.Errorf("get stream: %w", err)
	}

	var filter string
	if len(cfg.NatsSubject) > 0 {
		filter = cfg.Subject()
	}

	//nolint:exhaustruct // optional config
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          cfg.NatsConsumer,
		Durable:       cfg.NatsConsumer,
		AckWait:       time.Duration(cfg.AckWaitSeconds) * time.Second,
		AckPolicy:     jetstream.AckAllPolicy,
		MaxAckPending: -1,

		FilterSubject: filter,
	})
	if err != nil {
		return nil, fmt.Errorf("get or create consumer: %w", err)
	}

	fetchWait := time.Duration(cfg.FetchWaitMillis) * time.Millisecond
	if fetchWait <= 0 {
		fetchWait = time.Second
	}

	return &Consumer{
		Consumer:  consumer,
		fetchWait: fetchWait,
	}, nil
}

// Next blocks until a message arrives or the fetch wait elapses, in which
// case it returns nats.ErrTimeout.
func (c *Consumer) Next() (jetstream.Msg, error) {
	return c.Consumer.Next(jetstream.FetchMaxWait(c.fetchWait))
}
