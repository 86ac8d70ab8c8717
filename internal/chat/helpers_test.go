package chat

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const waitTimeout = time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	engine := NewEngine(opts)
	go engine.Run()
	t.Cleanup(func() { _ = engine.Shutdown(waitTimeout) })
	return engine
}

func connect(t *testing.T, engine *Engine) *Conn {
	t.Helper()
	conn, err := engine.Connect(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	return conn
}

func dispatch(t *testing.T, engine *Engine, conn *Conn, ev Inbound) {
	t.Helper()
	require.NoError(t, engine.Dispatch(context.Background(), conn, ev))
}

// joinAs joins conn under name and consumes the four frames the joiner receives.
func joinAs(t *testing.T, engine *Engine, conn *Conn, name string) {
	t.Helper()
	dispatch(t, engine, conn, JoinChat{Username: name})
	expectEvent(t, conn, EventMessageHistory)
	expectEvent(t, conn, EventUsersList)
	expectEvent(t, conn, EventUserJoined)
	expectEvent(t, conn, EventUsersList)
}

func nextFrame(t *testing.T, conn *Conn) Frame {
	t.Helper()
	select {
	case raw, ok := <-conn.Outbound():
		require.True(t, ok, "outbound queue closed")
		var frame Frame
		require.NoError(t, json.Unmarshal(raw, &frame))
		return frame
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a frame")
		return Frame{}
	}
}

func expectEvent(t *testing.T, conn *Conn, event string) Frame {
	t.Helper()
	frame := nextFrame(t, conn)
	require.Equal(t, event, frame.Event, "unexpected event with data %s", frame.Data)
	return frame
}

func expectSilence(t *testing.T, conn *Conn, d time.Duration) {
	t.Helper()
	select {
	case raw, ok := <-conn.Outbound():
		if ok {
			t.Fatalf("expected no frame, got %s", raw)
		}
	case <-time.After(d):
	}
}

func decode[T any](t *testing.T, frame Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(frame.Data, &v))
	return v
}

// waitClosed drains conn until its queue is closed by the engine.
func waitClosed(t *testing.T, conn *Conn) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case _, ok := <-conn.Outbound():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("outbound queue was not closed")
		}
	}
}
