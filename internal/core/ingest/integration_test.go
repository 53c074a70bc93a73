//go:build integration

package ingest_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glassflow/cassandra-dataset-etl/internal/core/ingest"
	"github.com/glassflow/cassandra-dataset-etl/internal/core/loader"
	"github.com/glassflow/cassandra-dataset-etl/internal/core/schema"
	"github.com/glassflow/cassandra-dataset-etl/internal/core/stream"
	"github.com/glassflow/cassandra-dataset-etl/internal/core/writer"
	"github.com/glassflow/cassandra-dataset-etl/tests/testutils"
)

func TestIngest_JetStreamToWriter(t *testing.T) {
	ctx := context.Background()

	natsContainer, err := testutils.StartNATSContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = natsContainer.Stop(context.Background()) })

	nc, err := stream.NewNATSWrapper(natsContainer.GetURI(), "ingest-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = nc.Close() })

	cfg := stream.ConsumerConfig{
		NatsStream:      fmt.Sprintf("images_%d", time.Now().UnixNano()),
		NatsConsumer:    "ingest-test",
		NatsSubject:     "jobs",
		AckWaitSeconds:  30,
		FetchWaitMillis: 200,
	}
	require.NoError(t, nc.EnsureStream(ctx, cfg.NatsStream, cfg.Subject()))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "img.jpg"), []byte{0xFF, 0xD8, 0xFF}, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "label.txt"), []byte("4"), 0o600))

	pub := stream.NewNATSPublisher(nc.JetStream(), cfg.Subject())
	for i := 0; i < 5; i++ {
		require.NoError(t, pub.Publish(ctx, stream.Job{Source: "img.jpg", Label: "label.txt", Partition: []any{i, i * 2}}))
	}

	consumer, err := stream.NewConsumer(ctx, nc.JetStream(), cfg)
	require.NoError(t, err)

	mapper, err := schema.NewMapper(schema.TableConfig{
		DataTable:     "imagenette.data_train",
		MetadataTable: "imagenette.metadata_train",
		Columns: []schema.Column{
			{Name: "width", Type: schema.TypeInt},
			{Name: "height", Type: schema.TypeInt},
		},
	})
	require.NoError(t, err)

	sess := testutils.NewFakeSession()
	w, err := writer.New(ctx, sess, mapper, loader.File{Root: dir}, writer.BatchConfig{Concurrency: 2})
	require.NoError(t, err)

	runner := ingest.NewRunner(consumer, w, testutils.NewTestLogger())

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- runner.Run(runCtx) }()

	require.Eventually(t, func() bool {
		return len(sess.Rows("imagenette.data_train")) == 5
	}, 10*time.Second, 100*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, int64(5), runner.Stats().Queued)
	assert.Len(t, sess.Rows("imagenette.metadata_train"), 5)

	// acks are fire and forget, give the server a moment to apply them
	require.Eventually(t, func() bool {
		info, err := consumer.Consumer.Info(ctx)
		return err == nil && info.NumAckPending == 0
	}, 5*time.Second, 100*time.Millisecond)
}
