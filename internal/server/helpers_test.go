package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/chatrelay/internal/chat"
	"github.com/Tyrowin/chatrelay/internal/server"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const (
	testOriginURL = "http://localhost:8080"
	waitTimeout   = 2 * time.Second
)

type testServer struct {
	app     *server.App
	baseURL string
	wsURL   string
	stop    func()
}

// startTestServer serves a fresh App on a loopback port until the test ends.
func startTestServer(t *testing.T, customize func(cfg *server.Config)) *testServer {
	t.Helper()

	cfg := server.NewConfig()
	cfg.ShutdownTimeout = waitTimeout
	if customize != nil {
		customize(cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	app, err := server.NewApp(ctx, cfg, server.NewLogger(io.Discard, "error", "text"))
	require.NoError(t, err)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- app.Serve(ctx, listener) }()

	var stopped bool
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
		select {
		case err := <-served:
			require.NoError(t, err)
		case <-time.After(3 * waitTimeout):
			t.Fatal("server did not stop")
		}
	}
	t.Cleanup(stop)

	addr := listener.Addr().String()
	return &testServer{
		app:     app,
		baseURL: "http://" + addr,
		wsURL:   "ws://" + addr + "/ws",
		stop:    stop,
	}
}

func dial(t *testing.T, url, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	conn, resp, err := dialer.Dial(url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

func connectWebSocket(t *testing.T, ts *testServer) *websocket.Conn {
	t.Helper()
	conn, _, err := dial(t, ts.wsURL, testOriginURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	frame := map[string]any{"event": event}
	if data != nil {
		frame["data"] = data
	}
	require.NoError(t, conn.WriteJSON(frame))
}

func readFrame(t *testing.T, conn *websocket.Conn) chat.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	msgType, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, msgType)

	var frame chat.Frame
	require.NoError(t, json.Unmarshal(raw, &frame), "frame %s", raw)
	return frame
}

func expectEvent(t *testing.T, conn *websocket.Conn, event string) chat.Frame {
	t.Helper()
	frame := readFrame(t, conn)
	require.Equal(t, event, frame.Event, "unexpected event with data %s", frame.Data)
	return frame
}

func decode[T any](t *testing.T, frame chat.Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(frame.Data, &v))
	return v
}

// joinAs joins under name and consumes the four frames sent to the joiner.
func joinAs(t *testing.T, conn *websocket.Conn, name string) {
	t.Helper()
	sendEvent(t, conn, chat.EventJoinChat, map[string]string{"username": name})
	expectEvent(t, conn, chat.EventMessageHistory)
	expectEvent(t, conn, chat.EventUsersList)
	expectEvent(t, conn, chat.EventUserJoined)
	expectEvent(t, conn, chat.EventUsersList)
}

// expectClosed reads until the server closes the connection.
func expectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatalf("connection was not closed: %v", err)
		}
		return
	}
}

// expectNoMessage fails if a frame arrives within timeout. The connection
// cannot be read again afterwards.
func expectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, raw, err := conn.ReadMessage()
	require.Error(t, err, "expected no message, got %s", raw)
	var netErr net.Error
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "unexpected error: %v", err)
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	return doRequest(t, http.MethodGet, url, "")
}

func doRequest(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	client := &http.Client{Timeout: 5 * time.Second}

	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, payload
}
