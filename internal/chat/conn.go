package chat

// DefaultSendBufferSize is the per-connection outbound queue length.
const DefaultSendBufferSize = 256

// Conn is the engine's handle on one client connection: its identity and a
// bounded queue of encoded outbound frames. The transport drains Outbound and
// treats a closed channel as the signal to close the connection.
type Conn struct {
	id   ConnID
	addr string
	send chan []byte

	// owned by the engine goroutine
	closed  bool
	dropped bool
}

func newConn(id ConnID, addr string, buffer int) *Conn {
	if buffer <= 0 {
		buffer = DefaultSendBufferSize
	}
	return &Conn{
		id:   id,
		addr: addr,
		send: make(chan []byte, buffer),
	}
}

// ID returns the connection identity.
func (c *Conn) ID() ConnID {
	return c.id
}

// Addr returns the remote address the connection was accepted from.
func (c *Conn) Addr() string {
	return c.addr
}

// Outbound returns the queue of frames to write to the client.
func (c *Conn) Outbound() <-chan []byte {
	return c.send
}
