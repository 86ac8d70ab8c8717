package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultInboxSize is the number of inbound events that may queue in front of
// the engine loop before senders block.
const DefaultInboxSize = 256

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	HistoryCapacity int
	SendBufferSize  int
	InboxSize       int
	// TypingTimeout clears a typing indicator that received no stop signal
	// for this long. Zero keeps indicators until stop or disconnect.
	TypingTimeout time.Duration
	Clock         func() time.Time
	Logger        *slog.Logger
}

// HistoryReader is the read-only view of the history handed to callers
// outside the engine.
type HistoryReader interface {
	Snapshot() []Message
	Recent(count int) []Message
	Page(page, limit int) ([]Message, int)
	Search(query string) []Message
	ByAuthor(author string) []Message
	Len() int
	Capacity() int
}

// Stats is a point-in-time summary of the engine state.
type Stats struct {
	Connections     int `json:"connections"`
	Users           int `json:"users"`
	Messages        int `json:"messages"`
	HistoryCapacity int `json:"history_capacity"`
}

type envelope struct {
	conn  *Conn
	event Inbound
}

// Engine owns the session registry, the history and the typing state, and is
// their only mutator. Every connect, inbound event, disconnect and post is
// funnelled through a single goroutine (Run), which processes one event to
// completion, including all of its fan-out, before taking the next one.
type Engine struct {
	registry *SessionRegistry
	history  *HistoryBuffer
	typing   *TypingState

	conns   map[ConnID]*Conn
	connsMu sync.RWMutex
	dropped []*Conn

	register chan *Conn
	inbox    chan envelope

	sendBuffer    int
	typingTimeout time.Duration
	now           func() time.Time
	log           *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates an engine. Call Run in its own goroutine before
// connecting clients.
func NewEngine(opts Options) *Engine {
	if opts.InboxSize <= 0 {
		opts.InboxSize = DefaultInboxSize
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		registry:      NewSessionRegistry(),
		history:       NewHistoryBuffer(opts.HistoryCapacity),
		typing:        NewTypingState(),
		conns:         make(map[ConnID]*Conn),
		register:      make(chan *Conn),
		inbox:         make(chan envelope, opts.InboxSize),
		sendBuffer:    opts.SendBufferSize,
		typingTimeout: opts.TypingTimeout,
		now:           opts.Clock,
		log:           opts.Logger,
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
}

// Connect registers a new connection in the Connected state. The connection
// is registered by the time Connect returns, so every event dispatched for it
// afterwards is processed after the registration.
func (e *Engine) Connect(ctx context.Context, addr string) (*Conn, error) {
	conn := newConn(ConnID(uuid.NewString()), addr, e.sendBuffer)
	select {
	case e.register <- conn:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.ctx.Done():
		return nil, ErrEngineClosed
	}
}

// Dispatch queues an inbound event from conn. Events from one connection are
// processed in the order they were dispatched.
func (e *Engine) Dispatch(ctx context.Context, conn *Conn, ev Inbound) error {
	select {
	case e.inbox <- envelope{conn: conn, event: ev}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return ErrEngineClosed
	}
}

// Disconnect queues the implied leave of conn. It is safe to call more than
// once and after the engine dropped the connection.
func (e *Engine) Disconnect(conn *Conn) {
	if err := e.Dispatch(context.Background(), conn, disconnect{}); err != nil && !errors.Is(err, ErrEngineClosed) {
		e.log.Warn("Failed to queue disconnect", "conn", conn.id, "error", err)
	}
}

// Post appends a chat message on behalf of author outside of any connection
// and broadcasts it to every connection.
func (e *Engine) Post(ctx context.Context, author, content string) (Message, error) {
	reply := make(chan postResult, 1)
	if err := e.Dispatch(ctx, nil, post{author: author, content: content, reply: reply}); err != nil {
		return Message{}, err
	}
	select {
	case res := <-reply:
		return res.msg, res.err
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-e.done:
		return Message{}, ErrEngineClosed
	}
}

// History returns a read-only view of the message history.
func (e *Engine) History() HistoryReader {
	return e.history
}

// Users returns the roster of active display names.
func (e *Engine) Users() []string {
	return e.registry.Snapshot()
}

// Stats summarizes the current engine state.
func (e *Engine) Stats() Stats {
	e.connsMu.RLock()
	connections := len(e.conns)
	e.connsMu.RUnlock()

	return Stats{
		Connections:     connections,
		Users:           e.registry.Len(),
		Messages:        e.history.Len(),
		HistoryCapacity: e.history.Capacity(),
	}
}

// Run processes registrations and inbound events until Shutdown is called.
func (e *Engine) Run() {
	defer close(e.done)

	var sweep <-chan time.Time
	if e.typingTimeout > 0 {
		ticker := time.NewTicker(sweepInterval(e.typingTimeout))
		defer ticker.Stop()
		sweep = ticker.C
	}

	for {
		select {
		case <-e.ctx.Done():
			e.closeAll()
			return

		case conn := <-e.register:
			e.addConn(conn)

		case env := <-e.inbox:
			e.handle(env)

		case <-sweep:
			e.expireTyping()
		}
		e.reapDropped()
	}
}

// Shutdown stops the engine loop and closes every connection queue. It
// returns context.DeadlineExceeded if the loop does not stop within timeout.
func (e *Engine) Shutdown(timeout time.Duration) error {
	e.log.Info("Initiating engine shutdown...")
	e.cancel()

	select {
	case <-e.done:
		e.log.Info("Engine shutdown completed")
		return nil
	case <-time.After(timeout):
		e.log.Warn("Engine shutdown timeout reached")
		return context.DeadlineExceeded
	}
}

func (e *Engine) handle(env envelope) {
	if p, ok := env.event.(post); ok {
		msg, err := e.post(p)
		p.reply <- postResult{msg: msg, err: err}
		return
	}

	conn := env.conn
	if !e.registered(conn) {
		// Already dropped or closed; its leave has been processed.
		return
	}

	switch ev := env.event.(type) {
	case JoinChat:
		e.join(conn, ev)
	case SendMessage:
		e.sendMessage(conn, ev)
	case TypingStart:
		e.signalTyping(conn, true)
	case TypingStop:
		e.signalTyping(conn, false)
	case disconnect:
		e.removeConn(conn)
	}
}

func (e *Engine) join(conn *Conn, ev JoinChat) {
	now := e.now()
	session, err := e.registry.Join(conn.id, ev.Username, now)
	if err != nil {
		e.log.Debug("Join rejected", "conn", conn.id, "username", ev.Username, "error", err)
		e.sendError(conn, err)
		return
	}

	e.sendTo(conn, MessageHistory(e.history.Snapshot()))
	e.sendTo(conn, UsersList(e.registry.Snapshot()))

	msg := NewSystemMessage(joinedText(session.Name), now)
	e.history.Append(msg)

	e.broadcast(UserJoined{User: session.Name, Message: msg.Body, Timestamp: msg.CreatedAt}, nil)
	e.broadcast(UsersList(e.registry.Snapshot()), nil)

	e.log.Info("User joined", "user", session.Name, "conn", conn.id, "users", e.registry.Len())
}

func (e *Engine) sendMessage(conn *Conn, ev SendMessage) {
	session, ok := e.registry.Find(conn.id)
	if !ok {
		e.sendError(conn, ErrNotJoined)
		return
	}

	msg, err := NewChatMessage(session.Name, ev.Content, e.now())
	if err != nil {
		e.log.Debug("Message rejected", "user", session.Name, "error", err)
		e.sendError(conn, err)
		return
	}

	e.history.Append(msg)
	e.broadcast(newMessageEvent(msg), nil)
	e.log.Debug("Message broadcast", "user", session.Name, "id", msg.ID)
}

func (e *Engine) signalTyping(conn *Conn, typing bool) {
	session, ok := e.registry.Find(conn.id)
	if !ok {
		return
	}

	if typing {
		e.typing.Start(session.Name, e.now())
	} else {
		e.typing.Stop(session.Name)
	}
	e.broadcast(UserTyping{User: session.Name, Typing: typing}, conn)
}

func (e *Engine) post(p post) (Message, error) {
	author, err := ValidateName(p.author)
	if err != nil {
		return Message{}, err
	}
	msg, err := NewChatMessage(author, p.content, e.now())
	if err != nil {
		return Message{}, err
	}

	e.history.Append(msg)
	e.broadcast(newMessageEvent(msg), nil)
	e.log.Debug("Posted message broadcast", "user", author, "id", msg.ID)
	return msg, nil
}

func (e *Engine) expireTyping() {
	for _, name := range e.typing.Expire(e.now(), e.typingTimeout) {
		var typer *Conn
		if session, ok := e.registry.FindByName(name); ok {
			typer = e.conns[session.ConnID]
		}
		e.broadcast(UserTyping{User: name, Typing: false}, typer)
		e.log.Debug("Typing indicator expired", "user", name)
	}
}

func (e *Engine) addConn(conn *Conn) {
	e.connsMu.Lock()
	e.conns[conn.id] = conn
	count := len(e.conns)
	e.connsMu.Unlock()

	e.log.Info("Client registered", "conn", conn.id, "addr", conn.addr, "clients", count)
}

func (e *Engine) registered(conn *Conn) bool {
	if conn == nil {
		return false
	}
	current, ok := e.conns[conn.id]
	return ok && current == conn
}

// removeConn unregisters conn, closes its queue and processes its leave.
func (e *Engine) removeConn(conn *Conn) {
	e.connsMu.Lock()
	delete(e.conns, conn.id)
	count := len(e.conns)
	e.connsMu.Unlock()

	conn.closed = true
	close(conn.send)
	e.log.Info("Client unregistered", "conn", conn.id, "addr", conn.addr, "clients", count)

	session, ok := e.registry.Leave(conn.id)
	if !ok {
		return
	}
	e.typing.Stop(session.Name)

	msg := NewSystemMessage(leftText(session.Name), e.now())
	e.history.Append(msg)

	e.broadcast(UserLeft{User: session.Name, Message: msg.Body, Timestamp: msg.CreatedAt}, nil)
	e.broadcast(UsersList(e.registry.Snapshot()), nil)

	e.log.Info("User left", "user", session.Name, "conn", conn.id, "users", e.registry.Len())
}

// reapDropped processes the leave of every connection dropped during the
// last event. A leave may drop further connections, so loop until none remain.
func (e *Engine) reapDropped() {
	for len(e.dropped) > 0 {
		conn := e.dropped[0]
		e.dropped = e.dropped[1:]
		if e.registered(conn) {
			e.log.Warn("Client removed due to full send buffer", "conn", conn.id, "addr", conn.addr)
			e.removeConn(conn)
		}
	}
}

func (e *Engine) closeAll() {
	e.log.Info("Shutting down all client connections...")

	e.connsMu.Lock()
	conns := e.conns
	e.conns = make(map[ConnID]*Conn)
	e.connsMu.Unlock()

	for _, conn := range conns {
		conn.closed = true
		close(conn.send)
	}
	e.log.Info("Closed client connections", "count", len(conns))
}

func (e *Engine) sendError(conn *Conn, err error) {
	e.sendTo(conn, ErrorEvent{Message: ClientMessage(err)})
}

func (e *Engine) sendTo(conn *Conn, ev Outbound) {
	frame, err := EncodeOutbound(ev)
	if err != nil {
		e.log.Error("Failed to encode event", "event", ev.EventName(), "error", err)
		return
	}
	e.deliver(conn, frame)
}

// broadcast delivers ev to every registered connection except except.
func (e *Engine) broadcast(ev Outbound, except *Conn) {
	frame, err := EncodeOutbound(ev)
	if err != nil {
		e.log.Error("Failed to encode event", "event", ev.EventName(), "error", err)
		return
	}
	for _, conn := range e.conns {
		if conn == except {
			continue
		}
		e.deliver(conn, frame)
	}
}

// deliver never blocks: a connection whose queue is full is marked dropped
// and reaped once the current event has been fully processed.
func (e *Engine) deliver(conn *Conn, frame []byte) {
	if conn.closed || conn.dropped {
		return
	}
	select {
	case conn.send <- frame:
	default:
		conn.dropped = true
		e.dropped = append(e.dropped, conn)
	}
}

func sweepInterval(timeout time.Duration) time.Duration {
	interval := timeout / 2
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	return interval
}
