package server

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/pondoc/internal/channel"
)

// outboxSize is how many cycles of output a client may fall behind
// before it is disconnected.
const outboxSize = 256

// client buffers engine output for one connection. The engine calls
// sink from its loop, possibly before Connect has returned the id; a
// writer goroutine drains out.
type client struct {
	id   atomic.Pointer[channel.ClientID]
	out  chan []string
	slow chan struct{}
	once sync.Once
}

func newClient() *client {
	return &client{
		out:  make(chan []string, outboxSize),
		slow: make(chan struct{}),
	}
}

func (c *client) setID(id channel.ClientID) {
	c.id.Store(&id)
}

// clientID is empty until setID has run.
func (c *client) clientID() channel.ClientID {
	if p := c.id.Load(); p != nil {
		return *p
	}
	return ""
}

func (c *client) sink(lines []string) {
	select {
	case c.out <- lines:
	default:
		c.once.Do(func() {
			slog.Warn("client too slow, disconnecting", "client", c.clientID())
			close(c.slow)
		})
	}
}
