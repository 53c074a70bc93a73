package testutils

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// NewTestLogger logs at debug level to stderr. TEST_LOG_LEVEL (debug, info,
// warn, error) raises the threshold for noisy runs.
func NewTestLogger() *slog.Logger {
	level := slog.LevelDebug
	if v := os.Getenv("TEST_LOG_LEVEL"); v != "" {
		if err := level.UnmarshalText([]byte(v)); err != nil {
			level = slog.LevelDebug
		}
	}

	//nolint:exhaustruct // optional config
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		AddSource:  true,
		Level:      level,
		TimeFormat: time.StampMilli,
	}))
}
