package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/puneet2715/taskmanager-sub000/domain"
)

// Conn is the subset of *websocket.Conn a client drives.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// State is the lifecycle position of a client.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Client is one live connection. Inbound frames are handled serially by
// Run; outbound frames go through a bounded queue drained by the writer.
type Client struct {
	id       string
	identity Identity
	conn     Conn
	hub      *Hub

	mu        sync.Mutex
	state     State
	projectID string
	queue     chan []byte
	done      chan struct{}
}

func newClient(id string, identity Identity, conn Conn, hub *Hub) *Client {
	return &Client{
		id:       id,
		identity: identity,
		conn:     conn,
		hub:      hub,
		state:    StateAuthenticated,
		queue:    make(chan []byte, hub.opts.SendBuffer),
		done:     make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// UserID returns the authenticated user id.
func (c *Client) UserID() string { return c.identity.UserID }

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Project returns the project the client is enrolled in, or "".
func (c *Client) Project() string { return c.project() }

// Outbound exposes the send queue. It is closed once the client is closed.
func (c *Client) Outbound() <-chan []byte { return c.queue }

// Done is closed when the client is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) project() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projectID
}

func (c *Client) setProject(projectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	c.projectID = projectID
	if projectID == "" {
		c.state = StateAuthenticated
	} else {
		c.state = StateJoined
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateClosed
}

// enqueue queues payload without blocking. It reports false when the queue
// is full or the client is closed.
func (c *Client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return false
	}
	select {
	case c.queue <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) send(ev domain.Event) bool {
	payload, err := domain.EncodeFrame(ev)
	if err != nil {
		c.hub.logger.WithError(err).WithField("event", ev.EventName()).Error("encode frame")
		return true
	}
	return c.enqueue(payload)
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	c.projectID = ""
	close(c.queue)
	close(c.done)
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Run serves the connection until the peer goes away or ctx is done, then
// disconnects the client from the hub.
func (c *Client) Run(ctx context.Context) {
	if c.conn == nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump(ctx)
	}()

	go func() {
		select {
		case <-ctx.Done():
			c.hub.Disconnect(c)
		case <-c.done:
		}
	}()

	c.readPump(ctx)
	c.hub.Disconnect(c)
	wg.Wait()
}

func (c *Client) readPump(ctx context.Context) {
	opts := c.hub.opts
	c.conn.SetReadLimit(opts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.hub.Touch(c)
		return c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) && !c.isClosed() {
				c.hub.logger.WithError(&TransportError{ConnectionID: c.id, Op: "read", Err: err}).Warn("connection read failed")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		c.handle(ctx, data)
	}
}

// handle processes one inbound frame. A panic is contained to this frame.
func (c *Client) handle(ctx context.Context, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.hub.logger.WithFields(log.Fields{"conn": c.id, "panic": r}).Error("recovered from panic in message handler")
			c.send(domain.ErrorNotice{Message: noticeInternal})
		}
	}()

	msg, err := decodeInbound(data)
	if err != nil {
		c.hub.logger.WithError(err).WithField("conn", c.id).Debug("bad inbound frame")
		c.send(domain.ErrorNotice{Message: noticeBadMessage})
		return
	}

	switch msg.Type {
	case MessageJoinProject:
		if err := c.hub.Join(ctx, c, msg.ProjectID); err != nil && !benign(err) {
			c.hub.logger.WithError(err).WithFields(log.Fields{"conn": c.id, "project": msg.ProjectID}).Warn("join failed")
			c.send(domain.ErrorNotice{Message: noticeJoinFailed, ProjectID: msg.ProjectID})
		}
	case MessageLeaveProject:
		if err := c.hub.Leave(ctx, c, msg.ProjectID); err != nil && !benign(err) {
			c.hub.logger.WithError(err).WithFields(log.Fields{"conn": c.id, "project": msg.ProjectID}).Warn("leave failed")
			c.send(domain.ErrorNotice{Message: noticeLeaveFailed, ProjectID: msg.ProjectID})
		}
	case MessagePing:
		c.hub.Touch(c)
		c.send(domain.Pong{Timestamp: c.hub.now().UnixMilli()})
	default:
		c.send(domain.ErrorNotice{Message: noticeBadMessage})
	}
}

func (c *Client) writePump(ctx context.Context) {
	opts := c.hub.opts
	ticker := time.NewTicker(opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-c.queue:
			_ = c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.writeFailed(err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.writeFailed(err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) writeFailed(err error) {
	if c.isClosed() || errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	c.hub.logger.WithError(&TransportError{ConnectionID: c.id, Op: "write", Err: err}).Warn("connection write failed")
	c.hub.Disconnect(c)
}
