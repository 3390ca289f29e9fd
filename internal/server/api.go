package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/groupchat/internal/auth"
	"github.com/Tyrowin/groupchat/internal/domain"
	"github.com/Tyrowin/groupchat/internal/groups"
	"github.com/Tyrowin/groupchat/internal/messages"
)

// Pinger reports whether the durable store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the HTTP layer serves.
type Deps struct {
	Auth     *auth.Service
	Groups   *groups.Service
	Messages *messages.Service
	Hub      *Hub
	// Store is pinged by /health; nil means the in-memory store.
	Store Pinger
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// AllowedOrigins may open websockets; "*" allows any origin. Nil falls
	// back to the active configuration.
	AllowedOrigins []string
	Logger         *zap.Logger
}

// API holds the REST and websocket handlers.
type API struct {
	auth     *auth.Service
	groups   *groups.Service
	messages *messages.Service
	hub      *Hub
	store    Pinger
	metrics  http.Handler
	origins  *originPolicy
	upgrader websocket.Upgrader
	validate *validator.Validate
	logger   *zap.Logger
}

// NewAPI builds the handlers over d.
func NewAPI(d Deps) *API {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := d.AllowedOrigins
	if origins == nil {
		origins = currentConfig().AllowedOrigins
	}
	a := &API{
		auth:     d.Auth,
		groups:   d.Groups,
		messages: d.Messages,
		hub:      d.Hub,
		store:    d.Store,
		metrics:  d.Metrics,
		origins:  newOriginPolicy(origins, logger.Named("origin")),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     a.origins.check,
	}
	return a
}

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fail maps err to a status code and a {"message": ...} body. Errors outside
// the domain taxonomy are logged and reported as 500 without detail.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.Error
	if errors.As(err, &de) {
		writeJSON(w, statusFor(de), messageResponse{Message: de.Message})
		return
	}
	a.logger.Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Internal server error"})
}

func statusFor(e *domain.Error) int {
	switch e.Kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindUnauthenticated:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		if e == domain.ErrNoSuchRequest {
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into dst and validates its struct tags.
func (a *API) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return domain.Validation("Invalid request body")
	}
	if err := a.validate.Struct(dst); err != nil {
		return domain.Validation(validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return "Invalid request"
	}
	parts := make([]string, 0, len(fields))
	for _, fe := range fields {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", fe.Field()))
		case "email":
			parts = append(parts, fmt.Sprintf("%s must be a valid email", fe.Field()))
		case "min":
			parts = append(parts, fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param()))
		case "max":
			parts = append(parts, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return strings.Join(parts, "; ")
}

// principal returns the caller stored by auth.RequireUser.
func principal(r *http.Request) domain.Principal {
	p, _ := auth.PrincipalFrom(r.Context())
	return p
}
