package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glassflow/cassandra-dataset-etl/tests/testutils"
)

func TestServer_StartShutdown(t *testing.T) {
	srv := NewHTTPServer(Config{
		Addr:            "127.0.0.1:0",
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		IdleTimeout:     time.Second,
		ShutdownTimeout: time.Second,
	}, nil, testutils.NewTestLogger())

	assert.Equal(t, time.Second, srv.ReadHeaderTimeout)
	assert.NotNil(t, srv.Handler)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// give ListenAndServe a moment before shutting down
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, srv.Shutdown())

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_ShutdownBeforeStart(t *testing.T) {
	srv := NewHTTPServer(Config{Addr: "127.0.0.1:0"}, nil, testutils.NewTestLogger())
	require.NoError(t, srv.Shutdown())

	// a shut down server refuses to start again
	err := srv.Start()
	assert.NoError(t, err)
	assert.ErrorIs(t, srv.ListenAndServe(), http.ErrServerClosed)
}
