package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Tyrowin/chatrelay/internal/chat"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
)

const (
	defaultRecentCount = 50
	defaultPageLimit   = 20
	maxPostBodyBytes   = 16 << 10
)

// Handlers serves the WebSocket endpoint and the HTTP API on top of one engine.
type Handlers struct {
	engine         *chat.Engine
	upgrader       websocket.Upgrader
	maxMessageSize int64
	log            *slog.Logger
	validate       *validator.Validate

	// pumps tracks the read and write goroutines of every client.
	pumps sync.WaitGroup
}

// NewHandlers creates the handler set. Origins are checked against policy.
func NewHandlers(engine *chat.Engine, policy *OriginPolicy, maxMessageSize int64, logger *slog.Logger) *Handlers {
	return &Handlers{
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.CheckOrigin,
		},
		maxMessageSize: maxMessageSize,
		log:            logger,
		validate:       validator.New(),
	}
}

// WebSocketHandler handles WebSocket upgrade requests and manages client connections.
// It upgrades the HTTP connection, registers it with the engine and starts the
// client's read/write pumps.
func (h *Handlers) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	chatConn, err := h.engine.Connect(r.Context(), r.RemoteAddr)
	if err != nil {
		h.log.Warn("Rejecting WebSocket connection", "addr", r.RemoteAddr, "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	client := NewClient(conn, h.engine, chatConn, h.maxMessageSize, h.log)

	h.pumps.Add(2)
	go func() {
		defer h.pumps.Done()
		client.writePump()
	}()
	go func() {
		defer h.pumps.Done()
		client.readPump()
	}()
}

// Wait blocks until every client pump has returned or timeout elapses.
func (h *Handlers) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		h.pumps.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// RootHandler returns a plain text liveness message.
func (h *Handlers) RootHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "GoChat server is running!")
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	chat.Stats
}

// HealthHandler reports liveness together with the engine counters.
func (h *Handlers) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "OK",
		Timestamp: time.Now().UTC(),
		Stats:     h.engine.Stats(),
	})
}

type envelope struct {
	Success    bool        `json:"success"`
	Data       any         `json:"data,omitempty"`
	Pagination *pagination `json:"pagination,omitempty"`
	Error      string      `json:"error,omitempty"`
}

type pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

// ListMessagesHandler returns the whole history, oldest first.
func (h *Handlers) ListMessagesHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: h.engine.History().Snapshot()})
}

// RecentMessagesHandler returns the newest ?count messages (default 50).
func (h *Handlers) RecentMessagesHandler(w http.ResponseWriter, r *http.Request) {
	count := queryInt(r, "count", defaultRecentCount)
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: h.engine.History().Recent(count)})
}

// PaginatedMessagesHandler returns one ?page of ?limit messages.
func (h *Handlers) PaginatedMessagesHandler(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", defaultPageLimit)

	messages, total := h.engine.History().Page(page, limit)
	writeJSON(w, http.StatusOK, envelope{
		Success:    true,
		Data:       messages,
		Pagination: &pagination{Page: page, Limit: limit, Total: total},
	})
}

// SearchMessagesHandler filters history by ?q (author or content) or ?user.
func (h *Handlers) SearchMessagesHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	switch {
	case query.Get("user") != "":
		writeJSON(w, http.StatusOK, envelope{Success: true, Data: h.engine.History().ByAuthor(query.Get("user"))})
	case query.Get("q") != "":
		writeJSON(w, http.StatusOK, envelope{Success: true, Data: h.engine.History().Search(query.Get("q"))})
	default:
		writeJSON(w, http.StatusBadRequest, envelope{Error: "Query parameter q or user is required"})
	}
}

type postMessageRequest struct {
	User    string `json:"user" validate:"required"`
	Content string `json:"content" validate:"required"`
}

// PostMessageHandler appends a message on behalf of user and broadcasts it to
// every WebSocket connection.
func (h *Handlers) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	var body postMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPostBodyBytes)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "Invalid request body"})
		return
	}
	if err := h.validate.Struct(body); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "User and content are required"})
		return
	}

	msg, err := h.engine.Post(r.Context(), body.User, body.Content)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, envelope{Success: true, Data: msg})
	case errors.Is(err, chat.ErrNameInvalid), errors.Is(err, chat.ErrMessageInvalid):
		writeJSON(w, http.StatusBadRequest, envelope{Error: chat.ClientMessage(err)})
	case errors.Is(err, chat.ErrEngineClosed):
		writeJSON(w, http.StatusServiceUnavailable, envelope{Error: "Server is shutting down"})
	default:
		h.log.Error("Error creating message", "error", err)
		writeJSON(w, http.StatusInternalServerError, envelope{Error: "Failed to create message"})
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	value, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || value < 1 {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// TestPageHandler serves an HTML test page for testing WebSocket functionality.
// It provides a simple web interface to join under a name, send messages and
// watch the roster and typing indicators.
func (h *Handlers) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		h.log.Warn("Error writing HTML response", "error", err)
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>GoChat WebSocket Test</title>
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
        input[type="text"] { width: 300px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
        #typing { color: #888; height: 1.2em; }
    </style>
</head>
<body>
    <h1>GoChat WebSocket Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="nameInput" placeholder="Display name" maxlength="20">
        <button id="connectButton" onclick="toggleConnection()">Join</button>
    </div>
    <div>Online: <span id="users"></span></div>

    <div id="messages"></div>
    <div id="typing"></div>

    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." maxlength="500" disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <script>
        let ws = null;
        let typing = false;
        const typers = new Set();
        const messagesDiv = document.getElementById('messages');
        const nameInput = document.getElementById('nameInput');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');
        const usersSpan = document.getElementById('users');
        const typingDiv = document.getElementById('typing');

        function addLine(author, text, color) {
            const line = document.createElement('div');
            line.style.margin = '5px 0';
            line.style.color = color;
            const who = document.createElement('strong');
            who.textContent = author ? author + ': ' : '';
            line.appendChild(who);
            line.appendChild(document.createTextNode(text));
            messagesDiv.appendChild(line);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function send(event, data) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({ event: event, data: data }));
            }
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            nameInput.disabled = connected;
            connectButton.textContent = connected ? 'Leave' : 'Join';
        }

        function renderTyping() {
            typingDiv.textContent = typers.size ? Array.from(typers).join(', ') + ' typing...' : '';
        }

        function handle(frame) {
            switch (frame.event) {
            case 'message_history':
                frame.data.forEach(m => addLine(m.type === 'system' ? '' : m.user, m.content, m.type === 'system' ? 'gray' : 'black'));
                break;
            case 'users_list':
                usersSpan.textContent = frame.data.join(', ');
                break;
            case 'user_joined':
            case 'user_left':
                addLine('', frame.data.message, 'gray');
                typers.delete(frame.data.user);
                renderTyping();
                break;
            case 'new_message':
                addLine(frame.data.user, frame.data.content, 'green');
                break;
            case 'user_typing':
                frame.data.typing ? typers.add(frame.data.user) : typers.delete(frame.data.user);
                renderTyping();
                break;
            case 'error':
                addLine('', 'Error: ' + frame.data.message, 'red');
                break;
            }
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');

            ws.onopen = function() {
                updateStatus(true);
                send('join_chat', { username: nameInput.value });
            };

            ws.onmessage = function(event) {
                handle(JSON.parse(event.data));
            };

            ws.onclose = function() {
                addLine('', 'Connection closed', 'gray');
                updateStatus(false);
                typers.clear();
                renderTyping();
                ws = null;
            };

            ws.onerror = function() {
                addLine('', 'Connection error', 'red');
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function sendMessage() {
            const content = messageInput.value.trim();
            if (content) {
                send('send_message', { content: content });
                messageInput.value = '';
            }
            if (typing) {
                typing = false;
                send('typing_stop');
            }
        }

        messageInput.addEventListener('input', function() {
            const active = messageInput.value.length > 0;
            if (active !== typing) {
                typing = active;
                send(active ? 'typing_start' : 'typing_stop');
            }
        });

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
