package gateway

import (
	"context"
	"sync"

	"github.com/zwily/faye-presence/internal/auth"
)

// Connection is one physical websocket attachment. Events queued on Send are
// pumped to the peer by the server's writer goroutine; Closed is closed at
// most once, either by the registry evicting a slow connection or by the
// server tearing it down.
type Connection struct {
	Id     string
	Send   chan Event
	Closed chan struct{}

	closeOnce sync.Once

	mu             sync.RWMutex
	authentication *auth.Authentication
}

func NewConnection(id string, sendBuffer int) *Connection {
	return &Connection{
		Id:     id,
		Send:   make(chan Event, sendBuffer),
		Closed: make(chan struct{}),
	}
}

func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.Closed)
	})
}

func (c *Connection) SetAuthentication(authentication *auth.Authentication) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.authentication = authentication
}

func (c *Connection) GetAuthentication() *auth.Authentication {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.authentication
}

func (c *Connection) IsAuthorized(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.authentication != nil && c.authentication.IsAuthorized(channel)
}

type contextKey string

const connectionKey contextKey = "connection"

func WithConnection(ctx context.Context, conn *Connection) context.Context {
	return context.WithValue(ctx, connectionKey, conn)
}

func ConnectionFromContext(ctx context.Context) (*Connection, bool) {
	conn, ok := ctx.Value(connectionKey).(*Connection)

	return conn, ok
}
