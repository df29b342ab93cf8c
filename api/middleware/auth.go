package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/foodops-backend/api/responses"
	pkgAuth "github.com/angelmondragon/foodops-backend/pkg/auth"
	"github.com/angelmondragon/foodops-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/foodops-backend/pkg/errors"
	"github.com/angelmondragon/foodops-backend/pkg/logger"
)

// Auth validates a bearer actor token and seeds the request context with the actor.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseActorToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithActor(r.Context(), claims.ActorID, claims.Kind)
			if logg != nil {
				ctx = logg.WithActor(ctx, claims.ActorID, string(claims.Kind))
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
