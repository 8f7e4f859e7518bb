package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/types"
	"github.com/secmon-lab/changegate/pkg/usecase"
	"github.com/secmon-lab/changegate/pkg/utils/errutil"
	"github.com/secmon-lab/changegate/pkg/utils/logging"
)

func notificationID(r *http.Request) types.NotificationID {
	return types.NotificationID(chi.URLParam(r, "id"))
}

func listNotificationsHandler(uc *usecase.UseCases) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorOf(r)
		if err != nil {
			handleError(w, r, err)
			return
		}

		unreadOnly := r.URL.Query().Get("unread") == "true"
		notifications, err := uc.Notification.List(r.Context(), actor, unreadOnly)
		if err != nil {
			handleError(w, r, err)
			return
		}
		if notifications == nil {
			notifications = []*model.Notification{}
		}
		writeJSON(w, r, http.StatusOK, notifications)
	}
}

func unreadCountHandler(uc *usecase.UseCases) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorOf(r)
		if err != nil {
			handleError(w, r, err)
			return
		}

		n, err := uc.Notification.CountUnread(r.Context(), actor)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]int{"count": n})
	}
}

func markReadHandler(uc *usecase.UseCases) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorOf(r)
		if err != nil {
			handleError(w, r, err)
			return
		}

		if err := uc.Notification.MarkRead(r.Context(), actor, notificationID(r)); err != nil {
			handleError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func markAllReadHandler(uc *usecase.UseCases) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorOf(r)
		if err != nil {
			handleError(w, r, err)
			return
		}

		n, err := uc.Notification.MarkAllRead(r.Context(), actor)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]int{"updated": n})
	}
}

func deleteNotificationHandler(uc *usecase.UseCases) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorOf(r)
		if err != nil {
			handleError(w, r, err)
			return
		}

		if err := uc.Notification.Delete(r.Context(), actor, notificationID(r)); err != nil {
			handleError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// streamHandler pushes new notifications of the actor as server-sent events
func streamHandler(uc *usecase.UseCases, heartbeat time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorOf(r)
		if err != nil {
			handleError(w, r, err)
			return
		}

		rc := http.NewResponseController(w)
		ch, cancel, err := uc.Notification.Subscribe(r.Context(), actor)
		if err != nil {
			errutil.HandleHTTP(r.Context(), w, goerr.Wrap(err, "notification stream unavailable"), http.StatusServiceUnavailable)
			return
		}
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		if err := rc.Flush(); err != nil {
			logging.From(r.Context()).Warn("streaming not supported", "error", err)
			return
		}

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return

			case n, ok := <-ch:
				if !ok {
					return
				}
				data, err := json.Marshal(n)
				if err != nil {
					logging.From(r.Context()).Error("failed to marshal notification", "error", err)
					continue
				}
				if _, err := fmt.Fprintf(w, "id: %s\nevent: notification\ndata: %s\n\n", n.ID, data); err != nil {
					return
				}

			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
			}

			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
