package server

import (
	"net/http"

	"github.com/Tyrowin/groupchat/internal/auth"
)

type registerRequest struct {
	Username string `json:"username" validate:"required,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type registeredUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type sessionUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	IsAdmin  bool   `json:"isAdmin"`
	Token    string `json:"token"`
}

type loginResponse struct {
	Message string      `json:"message"`
	User    sessionUser `json:"user"`
}

// register handles POST /api/users/register.
func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := a.decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	u, err := a.auth.Register(r.Context(), auth.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, registeredUser{ID: u.ID, Username: u.Username, Email: u.Email})
}

// login handles POST /api/users/login.
func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := a.decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	sess, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Message: "Login successful",
		User: sessionUser{
			ID:       sess.User.ID,
			Username: sess.User.Username,
			Email:    sess.User.Email,
			IsAdmin:  sess.User.IsAdmin,
			Token:    sess.Token,
		},
	})
}
