package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/codevn-dev/codevn-app-sub001/pkg/logging"

	"github.com/google/uuid"
)

type loggerKeyType struct{}

var LoggerKey = loggerKeyType{}

const RequestIDHeader = "X-Request-ID"

// RequestLogger tags every request with a request id, puts a request scoped
// logger on the context and logs the outcome once the handler returns.
// Websocket requests log when the socket closes.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get(RequestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, reqID)

			route := r.Pattern
			if route == "" {
				route = r.URL.Path
			}
			reqLog := log.With(
				logging.RequestID(reqID),
				slog.String("route", route),
				slog.String("remote_addr", r.RemoteAddr),
			)
			ctx := context.WithValue(r.Context(), LoggerKey, reqLog)

			wrapped := wrap(w)
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			level := slog.LevelInfo
			switch {
			case wrapped.statusCode >= 500:
				level = slog.LevelError
			case wrapped.statusCode >= 400:
				level = slog.LevelWarn
			}
			reqLog.Log(ctx, level, "http - request - completed",
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// withUser adds the authenticated user to the request logger, if there is
// one.
func withUser(ctx context.Context, userID string) context.Context {
	log, ok := ctx.Value(LoggerKey).(*slog.Logger)
	if !ok {
		return ctx
	}
	return context.WithValue(ctx, LoggerKey, log.With(logging.User(userID)))
}
