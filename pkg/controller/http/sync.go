package http

import (
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/usecase"
)

// exportHandler serves the sync pull of the actor
func exportHandler(uc *usecase.UseCases) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorOf(r)
		if err != nil {
			handleError(w, r, err)
			return
		}

		var since time.Time
		if v := r.URL.Query().Get("since"); v != "" {
			since, err = time.Parse(time.RFC3339Nano, v)
			if err != nil {
				handleError(w, r, goerr.Wrap(model.ErrValidation, "invalid since", goerr.V("since", v)))
				return
			}
		}

		batch, err := uc.Sync.Export(r.Context(), actor, since)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, batch)
	}
}

// importHandler accepts a sync push of the actor
func importHandler(uc *usecase.UseCases) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorOf(r)
		if err != nil {
			handleError(w, r, err)
			return
		}

		var batch model.SyncBatch
		if err := decodeJSON(r, &batch); err != nil {
			handleError(w, r, err)
			return
		}

		result, err := uc.Sync.Import(r.Context(), actor, &batch)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, result)
	}
}

func syncTriggerHandler(trigger func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		trigger()
		w.WriteHeader(http.StatusAccepted)
	}
}
