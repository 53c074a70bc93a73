package stream

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

type Publisher interface {
	Publish(ctx context.Context, job Job) error
}

type NatsPublisher struct {
	js      jetstream.JetStream
	Subject string
}

func NewNATSPublisher(js jetstream.JetStream, subject string) *NatsPublisher {
	return &NatsPublisher{
		js:      js,
		Subject: subject,
	}
}

func (p *NatsPublisher) Publish(ctx context.Context, job Job) error {
	data, err := job.Encode()
	if err != nil {
		return err
	}

	_, err = p.js.Publish(ctx, p.Subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish job %s: %w", job.Source, err)
	}

	return nil
}
