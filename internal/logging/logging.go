// Package logging configures logrus and ties log entries to requests.
package logging

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// New returns a logger writing to stderr. format is "json" or "text".
func New(level, format string) (*logrus.Logger, error) {
	return NewWithOutput(os.Stderr, level, format)
}

func NewWithOutput(out io.Writer, level, format string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(lvl)
	if strings.EqualFold(format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}

// FromContext decorates log with the request id and trace id found on ctx.
func FromContext(ctx context.Context, log logrus.FieldLogger) logrus.FieldLogger {
	if id := middleware.GetReqID(ctx); id != "" {
		log = log.WithField("request_id", id)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		log = log.WithField("trace_id", sc.TraceID().String())
	}
	return log
}

// RequestLogger is chi's RequestLogger middleware backed by log.
func RequestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return middleware.RequestLogger(&formatter{log: log})
}

type formatter struct {
	log logrus.FieldLogger
}

func (f *formatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	entry := FromContext(r.Context(), f.log).WithFields(logrus.Fields{
		"method":      r.Method,
		"path":        r.URL.Path,
		"remote_addr": r.RemoteAddr,
	})
	return &logEntry{log: entry}
}

type logEntry struct {
	log logrus.FieldLogger
}

func (e *logEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ interface{}) {
	entry := e.log.WithFields(logrus.Fields{
		"status":     status,
		"bytes":      bytes,
		"elapsed_ms": float64(elapsed.Microseconds()) / 1000,
	})
	switch {
	case status >= 500:
		entry.Error("request completed")
	case status >= 400:
		entry.Warn("request completed")
	default:
		entry.Info("request completed")
	}
}

func (e *logEntry) Panic(v interface{}, stack []byte) {
	e.log.WithFields(logrus.Fields{
		"panic": fmt.Sprintf("%+v", v),
		"stack": string(stack),
	}).Error("request panicked")
}
