package handlers

import (
	"net/http"

	"github.com/codevn-dev/codevn-app-sub001/internal/core/domain"
	"github.com/codevn-dev/codevn-app-sub001/internal/platform/metrics"
	"github.com/codevn-dev/codevn-app-sub001/pkg/middleware"
)

// authenticate resolves the handshake token. On failure it returns the
// rejection reason used for metrics.
func authenticate(r *http.Request, tokens middleware.TokenValidator) (string, error) {
	token := middleware.BearerToken(r)
	if token == "" {
		metrics.HandshakeRejected.WithLabelValues("missing_token").Inc()
		return "", domain.ErrUnauthorized
	}
	userID, err := tokens.ValidateToken(token)
	if err != nil || userID == "" {
		metrics.HandshakeRejected.WithLabelValues("invalid_token").Inc()
		return "", domain.ErrUnauthorized
	}
	return userID, nil
}

// currentUser returns the user id placed on the request by AuthMiddleware.
func currentUser(r *http.Request) (string, bool) {
	return middleware.UserIDFromContext(r.Context())
}
