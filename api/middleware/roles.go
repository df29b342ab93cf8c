package middleware

import (
	"net/http"

	"github.com/angelmondragon/foodops-backend/api/responses"
	"github.com/angelmondragon/foodops-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/foodops-backend/pkg/errors"
	"github.com/angelmondragon/foodops-backend/pkg/logger"
)

// RequireActorKind admits only the listed actor kinds.
func RequireActorKind(logg *logger.Logger, kinds ...enums.ActorKind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actual := ActorKindFromContext(r.Context())
			for _, kind := range kinds {
				if actual == kind {
					next.ServeHTTP(w, r)
					return
				}
			}
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "actor kind not permitted"))
		})
	}
}
