// Package observability installs the process-wide logging pipeline: a slog
// handler on stderr, optionally fanned out to an OpenTelemetry log exporter.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/taskmaster-dev/taskmaster"

// loggerProvider is the export pipeline behind the slog bridge, nil when
// export is disabled.
var loggerProvider *sdklog.LoggerProvider

// Instrument installs the process-wide default logger. format selects the
// stderr handler (text|json); export enables OTLP log export (grpc|http|
// stdout, empty disables it). The OTLP exporters configure endpoint and
// headers from the standard OTEL_EXPORTER_OTLP_* environment variables.
func Instrument(level slog.Level, format, export string) error {
	handler, err := newBaseHandler(level, format, os.Stderr)
	if err != nil {
		return err
	}

	if export != "" {
		exporter, err := newExporter(context.Background(), export)
		if err != nil {
			return fmt.Errorf("failed to create log exporter: %w", err)
		}

		loggerProvider = sdklog.NewLoggerProvider(
			sdklog.WithProcessor(
				minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), minSeverity(level)),
			),
		)
		bridge := otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(loggerProvider))
		handler = fanoutHandler{handler, bridge}

		// Export failures must not feed back through the bridge.
		otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
			fmt.Fprintf(os.Stderr, "otel: %v\n", err)
		}))
	}

	slog.SetDefault(slog.New(traceHandler{next: handler}))
	return nil
}

// Shutdown flushes buffered log export. It is a no-op when export is
// disabled.
func Shutdown(ctx context.Context) error {
	if loggerProvider == nil {
		return nil
	}
	return loggerProvider.Shutdown(ctx)
}

func newBaseHandler(level slog.Level, format string, w io.Writer) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	case "text", "":
		return slog.NewTextHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
}

func newExporter(ctx context.Context, export string) (sdklog.Exporter, error) {
	switch export {
	case "grpc":
		return otlploggrpc.New(ctx)
	case "http":
		return otlploghttp.New(ctx)
	case "stdout":
		return stdoutlog.New()
	default:
		return nil, fmt.Errorf("unsupported log export: %s", export)
	}
}

// minSeverity maps the slog level onto the exporter-side severity filter so
// both sides of the fanout agree on what gets dropped.
func minSeverity(level slog.Level) minsev.Severity {
	switch {
	case level >= slog.LevelError:
		return minsev.SeverityError
	case level >= slog.LevelWarn:
		return minsev.SeverityWarn
	case level >= slog.LevelInfo:
		return minsev.SeverityInfo
	default:
		return minsev.SeverityDebug
	}
}

// traceHandler stamps the active span onto every record so stderr output and
// export correlate with traces.
type traceHandler struct {
	next slog.Handler
}

var _ slog.Handler = traceHandler{}

func (h traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h traceHandler) Handle(ctx context.Context, record slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		record.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.next.Handle(ctx, record)
}

func (h traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return traceHandler{next: h.next.WithAttrs(attrs)}
}

func (h traceHandler) WithGroup(name string) slog.Handler {
	return traceHandler{next: h.next.WithGroup(name)}
}

// fanoutHandler delivers each record to every wrapped handler.
type fanoutHandler []slog.Handler

var _ slog.Handler = fanoutHandler(nil)

func (h fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range h {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(fanoutHandler, len(h))
	for i, handler := range h {
		next[i] = handler.WithAttrs(attrs)
	}
	return next
}

func (h fanoutHandler) WithGroup(name string) slog.Handler {
	next := make(fanoutHandler, len(h))
	for i, handler := range h {
		next[i] = handler.WithGroup(name)
	}
	return next
}
