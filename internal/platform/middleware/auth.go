package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"dataplane/pkg/domain"
	dErrors "dataplane/pkg/domain-errors"
	"dataplane/pkg/platform/httputil"
	"dataplane/pkg/requestcontext"
)

// APIKeyHeader carries an API key plaintext.
const APIKeyHeader = "X-API-Key"

// TokenValidator resolves a bearer token to the user it was issued to.
type TokenValidator interface {
	ValidateUser(token string) (domain.UserID, error)
}

// KeyAuthenticator resolves an API key plaintext to its key id.
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, plaintext string) (domain.APIKeyID, error)
}

// RequireActor authenticates the caller from exactly one credential: a
// Bearer token (user, web surface) or an X-API-Key header (key, api surface).
// The resolved actor is stored with requestcontext.WithActor.
func RequireActor(tokens TokenValidator, keys KeyAuthenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
			apiKey := strings.TrimSpace(r.Header.Get(APIKeyHeader))

			var (
				actor   domain.Actor
				surface requestcontext.Surface
				err     error
			)
			switch {
			case authHeader != "" && apiKey != "":
				err = dErrors.New(dErrors.CodeBadRequest, "send either a bearer token or an api key, not both")
			case authHeader != "":
				token, ok := strings.CutPrefix(authHeader, "Bearer ")
				if !ok || token == "" {
					err = dErrors.New(dErrors.CodeUnauthorized, "missing or invalid authorization header")
					break
				}
				var userID domain.UserID
				if userID, err = tokens.ValidateUser(token); err == nil {
					actor, surface = domain.UserActor(userID), requestcontext.SurfaceWeb
				}
			case apiKey != "":
				var keyID domain.APIKeyID
				if keyID, err = keys.Authenticate(ctx, apiKey); err == nil {
					actor, surface = domain.APIKeyActor(keyID), requestcontext.SurfaceAPI
				}
			default:
				err = dErrors.New(dErrors.CodeUnauthorized, "authentication required")
			}

			if err != nil {
				logger.WarnContext(ctx, "unauthenticated request",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
					"path", r.URL.Path,
				)
				httputil.WriteError(w, err)
				return
			}

			ctx = requestcontext.WithActor(ctx, actor)
			ctx = requestcontext.WithSurface(ctx, surface)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser rejects API key callers. Key management is a user operation.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requestcontext.Actor(r.Context()).Kind() != domain.ActorUser {
			httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "access denied"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
