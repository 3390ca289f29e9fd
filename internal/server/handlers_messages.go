package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type postMessageRequest struct {
	Content string `json:"content" validate:"required"`
	GroupID string `json:"groupId" validate:"required"`
}

// postMessage handles POST /api/messages. Relaying to the room is the
// sender's job, over the websocket, once this has returned.
func (a *API) postMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := a.decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	m, err := a.messages.Post(r.Context(), principal(r), req.GroupID, req.Content)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// listMessages handles GET /api/messages/{groupID}.
func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := a.messages.List(r.Context(), principal(r), chi.URLParam(r, "groupID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}
