package http

import (
	"net/http"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/model/auth"
	"github.com/secmon-lab/changegate/pkg/usecase"
	"github.com/secmon-lab/changegate/pkg/utils/errutil"
	"github.com/secmon-lab/changegate/pkg/utils/logging"
)

type AuthUseCase = usecase.AuthUseCaseInterface

// authMiddleware resolves the bearer token into an actor. In NoAuthn mode the
// device session stored by `changegate login` is used instead.
func authMiddleware(authUC AuthUseCase) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var token string
			if !authUC.IsNoAuthn() {
				var ok bool
				token, ok = bearerToken(r)
				if !ok {
					errutil.HandleHTTP(r.Context(), w, goerr.New("authentication required"), http.StatusUnauthorized)
					return
				}
			}

			actor, err := authUC.ValidateToken(r.Context(), token)
			if err != nil {
				errutil.HandleHTTP(r.Context(), w, goerr.Wrap(err, "invalid authentication token"), http.StatusUnauthorized)
				return
			}

			ctx := auth.ContextWithActor(r.Context(), actor)
			logger := logging.From(ctx).With("actor", actor.ID, "role", actor.Role)
			ctx = logging.With(ctx, logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
