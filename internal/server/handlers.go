package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/groupchat/internal/auth"
	"github.com/Tyrowin/groupchat/internal/domain"
)

const healthTimeout = 2 * time.Second

// WebSocketHandler upgrades GET /ws. A token in the Authorization header or
// the token query parameter is verified before the upgrade and a bad one is
// refused with 401; no token at all opens an anonymous connection.
func (a *API) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	var user domain.Principal
	if token := auth.TokenFromRequest(r); token != "" {
		p, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		user = p
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Debug("websocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	client := NewClient(conn, a.hub, r.RemoteAddr, user)
	if err := a.hub.Register(r.Context(), client); err != nil {
		a.logger.Warn("websocket registration failed", zap.String("conn_id", client.ID()), zap.Error(err))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
	}
}

// HealthHandler is the plain-text liveness check served at /.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "GroupChat server is running!")
}

type healthResponse struct {
	Status      string `json:"status"`
	Store       string `json:"store"`
	Connections int    `json:"connections"`
	Error       string `json:"error,omitempty"`
}

// handleHealth reports readiness, including a ping of the durable store.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Store: "memory"}
	if a.hub != nil {
		resp.Connections = a.hub.ClientCount()
	}
	if a.store == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	if err := a.store.Ping(ctx); err != nil {
		a.logger.Warn("store ping failed", zap.Error(err))
		resp.Status = "unavailable"
		resp.Store = "disconnected"
		resp.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Store = "connected"
	writeJSON(w, http.StatusOK, resp)
}

// TestPageHandler serves a small page for poking at the websocket protocol
// by hand: join a room, send typing and message events, watch the frames.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		zap.L().Debug("error writing test page", zap.Error(err))
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>GroupChat WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #frames {
            border: 1px solid #ccc;
            height: 320px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
            font-family: monospace;
        }
        input[type="text"] { width: 260px; padding: 5px; margin-right: 10px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>GroupChat WebSocket Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="token" placeholder="JWT (blank for anonymous)">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div style="margin-top: 8px">
        <input type="text" id="room" placeholder="Room (group id)">
        <button onclick="send('join room', room())">Join</button>
        <button onclick="send('leave room', room())">Leave</button>
    </div>
    <div style="margin-top: 8px">
        <input type="text" id="text" placeholder="Message..." oninput="typing()">
        <button onclick="sendMessage()">Send</button>
    </div>

    <div id="frames"></div>

    <script>
        let ws = null;
        let typingTimer = null;
        const framesDiv = document.getElementById('frames');
        const statusDiv = document.getElementById('status');
        const connectButton = document.getElementById('connectButton');

        function room() { return document.getElementById('room').value.trim(); }

        function log(text, color) {
            const el = document.createElement('div');
            el.style.color = color || 'gray';
            el.textContent = text;
            framesDiv.appendChild(el);
            framesDiv.scrollTop = framesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const token = document.getElementById('token').value.trim();
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            let url = scheme + location.host + '/ws';
            if (token) { url += '?token=' + encodeURIComponent(token); }
            ws = new WebSocket(url);
            ws.onopen = function() { log('connected'); updateStatus(true); };
            ws.onmessage = function(event) {
                event.data.split('\n').forEach(function(frame) { log('< ' + frame, 'green'); });
            };
            ws.onclose = function() { log('connection closed'); updateStatus(false); ws = null; };
            ws.onerror = function() { log('connection error'); updateStatus(false); };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) { ws.close(); } else { connect(); }
        }

        function send(event, data) {
            if (!ws || ws.readyState !== WebSocket.OPEN) { return; }
            const frame = JSON.stringify({ event: event, data: data });
            ws.send(frame);
            log('> ' + frame, 'blue');
        }

        function typing() {
            if (!room()) { return; }
            if (!typingTimer) { send('typing', { roomId: room() }); }
            clearTimeout(typingTimer);
            typingTimer = setTimeout(function() {
                send('stop typing', { roomId: room() });
                typingTimer = null;
            }, 1500);
        }

        function sendMessage() {
            const input = document.getElementById('text');
            const content = input.value.trim();
            if (!content || !room()) { return; }
            send('new message', { groupId: room(), content: content, createdAt: new Date().toISOString() });
            input.value = '';
        }
    </script>
</body>
</html>`
