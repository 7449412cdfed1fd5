// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, membership queries, and the built-in test page.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// App bundles the engine with everything the HTTP layer needs to serve it.
type App struct {
	cfg      Config
	engine   *chat.Engine
	hub      *Hub
	auth     *Authenticator
	origins  *originPolicy
	upgrader websocket.Upgrader
}

// NewApp wires an engine to the HTTP layer under cfg.
func NewApp(cfg Config, engine *chat.Engine) *App {
	cfg = cfg.Sanitize()
	a := &App{
		cfg:     cfg,
		engine:  engine,
		hub:     NewHub(engine),
		auth:    NewAuthenticator(cfg.JWTSecret),
		origins: newOriginPolicy(cfg.AllowedOrigins),
	}
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     a.origins.checkOrigin,
	}
	if a.auth.DevMode() {
		log.Warn().Str("module", "server").Msg("JWT_SECRET is empty; trusting ?user= for identity")
	}
	return a
}

// Hub returns the session tracker.
func (a *App) Hub() *Hub { return a.hub }

// Authenticator returns the identity verifier used at upgrade.
func (a *App) Authenticator() *Authenticator { return a.auth }

// Shutdown ends every live session, waiting at most timeout.
func (a *App) Shutdown(timeout time.Duration) error {
	return a.hub.Shutdown(timeout)
}

// WebSocketHandler authenticates the request, upgrades it and hands the
// connection to a new chat session. Identity is settled before the upgrade
// so an unauthenticated client gets a plain 401.
func (a *App) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	user, err := a.auth.Identify(r)
	if err != nil {
		log.Warn().Str("module", "server").Str("remote", r.RemoteAddr).Err(err).Msg("rejecting unauthenticated WebSocket request")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Str("module", "server").Str("remote", r.RemoteAddr).Err(err).Msg("WebSocket upgrade failed")
		return
	}

	ws := newWSConn(conn, r.RemoteAddr, a.cfg.MaxMessageSize)
	session := chat.NewSession(a.engine, ws, user, chat.WithLimiter(newRateLimiter(a.cfg.RateLimit)))
	a.hub.Serve(session)
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "roomchat server is running!")
}

// StatsHandler reports engine counters as JSON.
func (a *App) StatsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.Stats())
}

type roomUsersResponse struct {
	Room  string   `json:"room"`
	Users []string `json:"users"`
}

// RoomUsersHandler lists the members of {room}.
func (a *App) RoomUsersHandler(w http.ResponseWriter, r *http.Request) {
	room := mux.Vars(r)["room"]
	writeJSON(w, http.StatusOK, roomUsersResponse{Room: room, Users: nonNil(a.engine.UsersOf(room))})
}

type userRoomsResponse struct {
	User  string   `json:"user"`
	Rooms []string `json:"rooms"`
}

// UserRoomsHandler lists the rooms {user} has joined.
func (a *App) UserRoomsHandler(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["user"]
	writeJSON(w, http.StatusOK, userRoomsResponse{User: user, Rooms: nonNil(a.engine.RoomsOf(user))})
}

// requireAuth rejects requests without a valid identity.
func (a *App) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := a.auth.Identify(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		log.Debug().Str("module", "server").Str("user", user).Str("path", r.URL.Path).Msg("api request")
		next.ServeHTTP(w, r)
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Str("module", "server").Err(err).Msg("writing JSON response")
	}
}

// TestPageHandler serves an HTML page for trying rooms from a browser.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		log.Warn().Str("module", "server").Err(err).Msg("writing HTML response")
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>roomchat WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { width: 200px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>roomchat WebSocket Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="userInput" placeholder="Username (dev mode)">
        <input type="text" id="tokenInput" placeholder="Token (optional)">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div style="margin-top: 10px">
        <input type="text" id="roomInput" placeholder="Room" value="general" disabled>
        <button id="joinButton" onclick="send('join')" disabled>Join</button>
        <button id="leaveButton" onclick="send('leave')" disabled>Leave</button>
    </div>
    <div style="margin-top: 10px">
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const controls = ['roomInput', 'joinButton', 'leaveButton', 'messageInput', 'sendButton']
            .map(id => document.getElementById(id));
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addMessage(text, color) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            el.style.color = color || 'gray';
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            controls.forEach(c => c.disabled = !connected);
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function render(raw) {
            let env;
            try { env = JSON.parse(raw); } catch (e) { return addMessage(raw); }
            if (env.error) return addMessage('error: ' + env.error, 'red');
            if (env.data === 'join') return addMessage(env.username + ' joined ' + env.room);
            if (env.data === 'leave') return addMessage(env.username + ' left ' + env.room);
            addMessage('[' + env.room + '] ' + env.username + ': ' + env.data.msg, 'green');
        }

        function connect() {
            const params = new URLSearchParams();
            const user = document.getElementById('userInput').value.trim();
            const token = document.getElementById('tokenInput').value.trim();
            if (user) params.set('user', user);
            if (token) params.set('token', token);
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws?' + params.toString());
            ws.onopen = () => { addMessage('Connected'); updateStatus(true); };
            ws.onmessage = (event) => render(event.data);
            ws.onclose = () => { addMessage('Connection closed'); updateStatus(false); ws = null; };
            ws.onerror = () => { addMessage('Connection error'); updateStatus(false); };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) { ws.close(); } else { connect(); }
        }

        function send(data) {
            const room = document.getElementById('roomInput').value.trim();
            if (!room || !ws || ws.readyState !== WebSocket.OPEN) return;
            ws.send(JSON.stringify({ room: room, username: '', timestamp: Math.floor(Date.now() / 1000), data: data }));
        }

        function sendMessage() {
            const input = document.getElementById('messageInput');
            const text = input.value.trim();
            if (text) { send({ msg: text }); input.value = ''; }
        }

        document.getElementById('messageInput').addEventListener('keypress', function(e) {
            if (e.key === 'Enter') { sendMessage(); }
        });
    </script>
</body>
</html>`
