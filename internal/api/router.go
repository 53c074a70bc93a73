package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/glassflow/cassandra-dataset-etl/internal/metrics"
)

// StatsFunc returns a JSON encodable snapshot of the ingest progress.
type StatsFunc func() any

type handler struct {
	log   *slog.Logger
	stats StatsFunc
}

func NewRouter(log *slog.Logger, stats StatsFunc) http.Handler {
	h := handler{
		log:   log,
		stats: stats,
	}

	r := mux.NewRouter()

	r.HandleFunc("/healthz", h.healthz).Methods("GET")
	r.HandleFunc("/stats", h.getStats).Methods("GET")
	r.Handle("/metrics", metrics.MetricsHandler()).Methods("GET")

	r.Use(Recovery(log), RequestLogging(log), metrics.InstrumentHTTP)

	return r
}
