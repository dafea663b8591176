package obs

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	loggerMu sync.RWMutex
	logger   = NewLogger("", os.Stdout)
)

// NewLogger builds a JSON logger; env "local" switches to the console writer.
func NewLogger(env string, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}
	if env == "local" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(zerolog.InfoLevel).With().Timestamp().Str("service", "edg-auth").Logger()
}

// Logger returns the shared structured logger used across the service.
func Logger() *zerolog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	l := logger
	return &l
}

// SetLogger replaces the shared logger and returns the previous one.
func SetLogger(l zerolog.Logger) zerolog.Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	prev := logger
	logger = l
	return prev
}

// LogRequest emits one structured line with common HTTP fields.
func LogRequest(method, path string, status int, dur time.Duration, requestID, remote string) {
	ev := Logger().Info()
	if status >= 500 {
		ev = Logger().Error()
	}
	ev.Str("type", "http").
		Str("method", method).
		Str("path", path).
		Int("status", status).
		Dur("duration_ms", dur).
		Str("request_id", requestID).
		Str("remote_ip", remote).
		Msg("request")
}
