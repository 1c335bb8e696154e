package logger

import (
	"context"
	"log/slog"

	"github.com/codevn-dev/codevn-app-sub001/pkg/logging"
	"github.com/codevn-dev/codevn-app-sub001/pkg/middleware"

	"go.opentelemetry.io/otel/trace"
)

// FromContext returns the request logger, or the default one, tagged with
// the active trace id when there is one.
func FromContext(ctx context.Context) *slog.Logger {
	l, ok := ctx.Value(middleware.LoggerKey).(*slog.Logger)
	if !ok || l == nil {
		l = slog.Default()
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(logging.TraceID(sc.TraceID().String()))
	}
	return l
}
