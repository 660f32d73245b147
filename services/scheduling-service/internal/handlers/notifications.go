package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clinicore/scheduling/libs/httpx"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/notifications"
)

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter, err := notifications.ParseFilter(r.URL.Query().Get("filter"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := h.svc.Notifications.List(r.Context(), a.ID, filter, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := notificationList{Notifications: make([]notificationResponse, 0, len(list))}
	for _, n := range list {
		out.Notifications = append(out.Notifications, toNotification(n))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	n, err := h.svc.Notifications.UnreadCount(r.Context(), a.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, unreadCount{Unread: n})
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	n, err := h.svc.Notifications.MarkRead(r.Context(), a.ID, chi.URLParam(r, "notificationID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toNotification(n))
}
