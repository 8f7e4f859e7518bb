package http

import (
	"errors"
	"net/http"

	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/types"
	"github.com/secmon-lab/changegate/pkg/utils/errutil"
)

type tokenRequest struct {
	UserID   types.UserID `json:"user_id"`
	Password string       `json:"password"`
}

// authTokenHandler exchanges user credentials for a bearer token
func authTokenHandler(authUC AuthUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tokenRequest
		if err := decodeJSON(r, &req); err != nil {
			handleError(w, r, err)
			return
		}

		token, err := authUC.Authenticate(r.Context(), req.UserID, req.Password)
		if err != nil {
			status := statusCode(err)
			if errors.Is(err, model.ErrUnauthorized) {
				status = http.StatusUnauthorized
			}
			errutil.HandleHTTP(r.Context(), w, err, status)
			return
		}

		writeJSON(w, r, http.StatusOK, token)
	}
}
