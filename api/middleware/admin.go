package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/kiwanukadev/zawadi-backend/api/responses"
	pkgerrors "github.com/kiwanukadev/zawadi-backend/pkg/errors"
	"github.com/kiwanukadev/zawadi-backend/pkg/logger"
)

const adminTokenHeader = "X-Admin-Token"

// AdminToken guards operator endpoints with a shared secret. An empty
// configured token disables the surface entirely.
func AdminToken(token string, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "admin surface disabled"))
				return
			}
			provided := strings.TrimSpace(r.Header.Get(adminTokenHeader))
			if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid admin token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
