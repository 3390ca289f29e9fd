// Package testhelpers starts a complete in-process server for black-box
// tests and wraps the REST and websocket clients they drive it with.
package testhelpers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Tyrowin/groupchat/internal/auth"
	"github.com/Tyrowin/groupchat/internal/groups"
	"github.com/Tyrowin/groupchat/internal/membership"
	"github.com/Tyrowin/groupchat/internal/messages"
	"github.com/Tyrowin/groupchat/internal/metrics"
	"github.com/Tyrowin/groupchat/internal/presence"
	"github.com/Tyrowin/groupchat/internal/realtime"
	"github.com/Tyrowin/groupchat/internal/server"
	"github.com/Tyrowin/groupchat/internal/store/memstore"
)

// TestOrigin is allowed by the default configuration.
const TestOrigin = "http://localhost:8080"

// DefaultWait bounds every expectation on a websocket frame.
const DefaultWait = 2 * time.Second

const testPassword = "password1"

// Stack is a running server backed by the in-memory store.
type Stack struct {
	Server   *httptest.Server
	Hub      *server.Hub
	Users    *memstore.Users
	Registry *prometheus.Registry
}

// NewStack starts a server. customize may adjust the configuration before
// it is applied; the default configuration is restored on cleanup.
func NewStack(t *testing.T, customize func(cfg *server.Config)) *Stack {
	t.Helper()

	cfg := server.NewConfig()
	cfg.Env = "dev"
	cfg.JWTSecret = "integration-secret"
	cfg.RateLimit.Burst = 100
	if customize != nil {
		customize(cfg)
	}
	server.SetConfig(cfg)

	logger := zap.NewNop()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	hub := server.NewHub(logger, m)
	hub.SetHandler(realtime.NewCoordinator(presence.NewRegistry(), hub, m, logger))
	go hub.Run()

	users := memstore.NewUsers()
	groupRepo := memstore.NewGroups()
	authSvc := auth.NewService(users, auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL), logger)
	groupSvc := groups.NewService(membership.NewStore(groupRepo), auth.RoleAuthorizer{}, logger,
		groups.WithEvents(realtime.NewFanout(hub, m, logger)),
		groups.WithUserDirectory(users))
	messageSvc := messages.NewService(memstore.NewMessages(), groupRepo, users, logger)

	api := server.NewAPI(server.Deps{
		Auth:           authSvc,
		Groups:         groupSvc,
		Messages:       messageSvc,
		Hub:            hub,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	})

	s := &Stack{
		Server:   httptest.NewServer(api.Routes()),
		Hub:      hub,
		Users:    users,
		Registry: reg,
	}
	t.Cleanup(func() {
		_ = s.Hub.Shutdown(2 * time.Second)
		s.Server.Close()
		server.SetConfig(nil)
	})
	return s
}

// URL returns the base http URL.
func (s *Stack) URL() string {
	return s.Server.URL
}

// WSURL returns the websocket endpoint.
func (s *Stack) WSURL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http") + "/ws"
}

// Account is a registered user and a valid token for it.
type Account struct {
	ID       string
	Username string
	Email    string
	Token    string
}

// Register creates an account named username and logs it in.
func (s *Stack) Register(t *testing.T, username string) Account {
	t.Helper()
	email := username + "@example.com"

	resp := s.Do(t, http.MethodPost, "/api/users/register", "", map[string]string{
		"username": username,
		"email":    email,
		"password": testPassword,
	})
	AssertStatusCode(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = s.Do(t, http.MethodPost, "/api/users/login", "", map[string]string{
		"email":    email,
		"password": testPassword,
	})
	AssertStatusCode(t, resp, http.StatusOK)
	var login struct {
		User struct {
			ID    string `json:"id"`
			Token string `json:"token"`
		} `json:"user"`
	}
	DecodeJSON(t, resp, &login)

	return Account{ID: login.User.ID, Username: username, Email: email, Token: login.User.Token}
}

// RegisterAdmin creates an account with the administrator role.
func (s *Stack) RegisterAdmin(t *testing.T, username string) Account {
	t.Helper()
	acct := s.Register(t, username)
	if err := s.Users.SetAdmin(context.Background(), acct.ID, true); err != nil {
		t.Fatalf("promote %s: %v", username, err)
	}
	return acct
}

// CreateGroup creates a group as admin and returns its id.
func (s *Stack) CreateGroup(t *testing.T, admin Account, name string, secure bool) string {
	t.Helper()
	resp := s.Do(t, http.MethodPost, "/api/groups", admin.Token, map[string]any{
		"name":        name,
		"description": name + " description",
		"isSecure":    secure,
	})
	AssertStatusCode(t, resp, http.StatusCreated)
	var g struct {
		ID string `json:"id"`
	}
	DecodeJSON(t, resp, &g)
	return g.ID
}

// Do sends a JSON request. token may be empty; body may be nil.
func (s *Stack) Do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var rdr io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, s.Server.URL+path, rdr)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	return resp
}

// DecodeJSON reads and closes resp.Body into v.
func DecodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// ErrorMessage reads the {"message": ...} body of resp.
func ErrorMessage(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Message string `json:"message"`
	}
	DecodeJSON(t, resp, &body)
	return body.Message
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, expected) {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// DialWebSocket opens a websocket to url with origin and an optional token.
// The handshake response is returned so callers can inspect refusals.
func DialWebSocket(url, origin, token string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	if token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// WSClient reads frames on a background goroutine so tests can wait for a
// particular event, or for its absence, without corrupting the connection
// with read deadlines.
type WSClient struct {
	Conn *websocket.Conn

	frames chan realtime.Envelope
	done   chan struct{}
	once   sync.Once
}

// Connect dials the stack as token (empty for anonymous).
func (s *Stack) Connect(t *testing.T, token string) *WSClient {
	t.Helper()
	conn, _, err := DialWebSocket(s.WSURL(), TestOrigin, token)
	if err != nil {
		t.Fatalf("Failed to connect websocket: %v", err)
	}
	c := NewWSClient(conn)
	t.Cleanup(c.Close)
	return c
}

// NewWSClient starts reading frames from conn.
func NewWSClient(conn *websocket.Conn) *WSClient {
	c := &WSClient{
		Conn:   conn,
		frames: make(chan realtime.Envelope, 256),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *WSClient) readLoop() {
	defer close(c.frames)
	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			return
		}
		// Frames queued together arrive in one message, newline separated.
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			if len(line) == 0 {
				continue
			}
			var env realtime.Envelope
			if err := json.Unmarshal(line, &env); err != nil {
				continue
			}
			select {
			case c.frames <- env:
			case <-c.done:
				return
			}
		}
	}
}

// Send writes one event frame.
func (c *WSClient) Send(t *testing.T, event string, data any) {
	t.Helper()
	frame := map[string]any{"event": event, "data": data}
	if err := c.Conn.WriteJSON(frame); err != nil {
		t.Fatalf("send %q: %v", event, err)
	}
}

// SendRaw writes payload as a single text message.
func (c *WSClient) SendRaw(payload []byte) error {
	return c.Conn.WriteMessage(websocket.TextMessage, payload)
}

// Expect waits for the next frame named event, skipping any other frames,
// and decodes its data into v when v is not nil.
func (c *WSClient) Expect(t *testing.T, event string, v any) {
	t.Helper()
	deadline := time.NewTimer(DefaultWait)
	defer deadline.Stop()
	for {
		select {
		case env, ok := <-c.frames:
			if !ok {
				t.Fatalf("connection closed while waiting for %q", event)
			}
			if env.Event != event {
				continue
			}
			if v != nil {
				if err := json.Unmarshal(env.Data, v); err != nil {
					t.Fatalf("decode %q data: %v", event, err)
				}
			}
			return
		case <-deadline.C:
			t.Fatalf("timed out waiting for %q", event)
		}
	}
}

// ExpectNone fails if a frame named event arrives within wait.
func (c *WSClient) ExpectNone(t *testing.T, event string, wait time.Duration) {
	t.Helper()
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	for {
		select {
		case env, ok := <-c.frames:
			if !ok {
				return
			}
			if env.Event == event {
				t.Fatalf("unexpected %q frame: %s", event, env.Data)
			}
		case <-deadline.C:
			return
		}
	}
}

// WaitClosed reports whether the server closed the connection within wait.
func (c *WSClient) WaitClosed(wait time.Duration) bool {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	for {
		select {
		case _, ok := <-c.frames:
			if !ok {
				return true
			}
		case <-deadline.C:
			return false
		}
	}
}

// Close sends a normal close frame and closes the connection.
func (c *WSClient) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.Conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.Conn.Close()
	})
}
