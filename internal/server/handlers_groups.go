package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Tyrowin/groupchat/internal/groups"
)

type createGroupRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"required,max=500"`
	IsSecure    bool   `json:"isSecure"`
}

// createGroup handles POST /api/groups.
func (a *API) createGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := a.decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	g, err := a.groups.Create(r.Context(), principal(r), groups.CreateInput{
		Name:        req.Name,
		Description: req.Description,
		IsSecure:    req.IsSecure,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	views, err := a.groups.Views(r.Context(), g)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, views[0])
}

// listGroups handles GET /api/groups.
func (a *API) listGroups(w http.ResponseWriter, r *http.Request) {
	all, err := a.groups.List(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	views, err := a.groups.Views(r.Context(), all...)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// joinGroup handles POST /api/groups/{groupID}/join.
func (a *API) joinGroup(w http.ResponseWriter, r *http.Request) {
	outcome, err := a.groups.RequestJoin(r.Context(), chi.URLParam(r, "groupID"), principal(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	msg := "Group joined successfully"
	if outcome == groups.PendingApproval {
		msg = "Join request sent. Awaiting admin approval."
	}
	writeJSON(w, http.StatusOK, joinResponse{Message: msg, Status: string(outcome)})
}

type joinResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

// leaveGroup handles POST /api/groups/{groupID}/leave.
func (a *API) leaveGroup(w http.ResponseWriter, r *http.Request) {
	if err := a.groups.Leave(r.Context(), chi.URLParam(r, "groupID"), principal(r)); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Left the group successfully"})
}

// listPending handles GET /api/groups/{groupID}/pending.
func (a *API) listPending(w http.ResponseWriter, r *http.Request) {
	pending, err := a.groups.ListPending(r.Context(), chi.URLParam(r, "groupID"), principal(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

// approve handles POST /api/groups/{groupID}/approve/{userID}.
func (a *API) approve(w http.ResponseWriter, r *http.Request) {
	err := a.groups.Approve(r.Context(), chi.URLParam(r, "groupID"), principal(r), chi.URLParam(r, "userID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "User approved and added to group"})
}

// reject handles POST /api/groups/{groupID}/reject/{userID}.
func (a *API) reject(w http.ResponseWriter, r *http.Request) {
	err := a.groups.Reject(r.Context(), chi.URLParam(r, "groupID"), principal(r), chi.URLParam(r, "userID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "User join request rejected"})
}

// adminPending handles GET /api/groups/admin/pending.
func (a *API) adminPending(w http.ResponseWriter, r *http.Request) {
	views, err := a.groups.AdminPending(r.Context(), principal(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}
