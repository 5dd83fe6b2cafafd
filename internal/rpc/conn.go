package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrConnClosed is returned by Send when the connection died before a
// response arrived.
var ErrConnClosed = errors.New("rpc: connection closed")

const (
	dialTimeout      = 15 * time.Second
	writeTimeout     = 30 * time.Second
	inboundQueueSize = 16
)

// Handler processes one inbound request and produces its response.
// Handlers run on a single worker per connection, so requests are handled
// strictly in arrival order.
type Handler func(ctx context.Context, req *Request) *Response

// Conn is one duplex websocket carrying framed requests in both directions.
// Outbound requests are correlated to their responses through a pending
// table; inbound requests are queued to a sequential dispatch worker so the
// read loop keeps pumping response frames while a handler runs.
type Conn struct {
	ws      *websocket.Conn
	handler Handler
	logger  *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]chan *Response
	closed   bool
	closeErr error

	inbound chan *Request
	done    chan struct{}
}

// Dial opens a client connection to endpoint, rewriting http->ws and
// https->wss, and starts the frame pumps. The header is sent on connect
// only; per-frame auth does not exist.
func Dial(ctx context.Context, endpoint string, header http.Header, handler Handler, logger *slog.Logger) (*Conn, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("rpc: parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	ws, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("rpc: connect %s: %s: %w", u.Host, resp.Status, err)
		}
		return nil, fmt.Errorf("rpc: connect %s: %w", u.Host, err)
	}

	c := NewConn(ws, logger)
	c.Start(handler)
	return c, nil
}

// NewConn wraps an established websocket (typically the server side after
// an upgrade). The frame pumps do not run until Start is called, so the
// handler may be built around the returned Conn first.
func NewConn(ws *websocket.Conn, logger *slog.Logger) *Conn {
	return &Conn{
		ws:      ws,
		logger:  logger,
		pending: make(map[string]chan *Response),
		inbound: make(chan *Request, inboundQueueSize),
		done:    make(chan struct{}),
	}
}

// Start registers the inbound-request handler and starts the frame pumps.
func (c *Conn) Start(handler Handler) {
	c.handler = handler
	go c.readLoop()
	go c.dispatchLoop()
}

// Send writes the request and blocks until the correlated response frame
// arrives, the context is cancelled, or the connection dies. A missing
// request ID is assigned.
func (c *Conn) Send(ctx context.Context, req *Request) (*Response, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	ch := make(chan *Response, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, c.closeReason()
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	if err := c.writeFrame(frame{Kind: kindRequest, Request: req}); err != nil {
		return nil, fmt.Errorf("rpc: write request: %w", err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, c.closeReason()
	}
}

// Close tears the connection down and fails all pending sends.
func (c *Conn) Close() error {
	return c.closeWith(ErrConnClosed)
}

// Wait blocks until the connection is closed from either side.
func (c *Conn) Wait() {
	<-c.done
}

func (c *Conn) closeWith(err error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.closeErr = err
	clear(c.pending)
	c.mu.Unlock()

	close(c.done)
	return c.ws.Close()
}

func (c *Conn) closeReason() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeErr != nil && !errors.Is(c.closeErr, ErrConnClosed) {
		return fmt.Errorf("%w: %w", ErrConnClosed, c.closeErr)
	}
	return ErrConnClosed
}

func (c *Conn) writeFrame(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) readLoop() {
	defer close(c.inbound)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("rpc read failed", "err", err)
			}
			_ = c.closeWith(err)
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("rpc: discarding malformed frame", "err", err)
			continue
		}

		switch {
		case f.Kind == kindResponse && f.Response != nil:
			c.mu.Lock()
			ch, ok := c.pending[f.Response.ID]
			c.mu.Unlock()
			if ok {
				ch <- f.Response
			} else {
				c.logger.Debug("rpc: response for unknown request", "id", f.Response.ID)
			}

		case f.Kind == kindRequest && f.Request != nil:
			select {
			case c.inbound <- f.Request:
			case <-c.done:
				return
			}

		default:
			c.logger.Warn("rpc: frame with unknown kind", "kind", f.Kind)
		}
	}
}

// dispatchLoop handles inbound requests one at a time, preserving the
// connection's send order.
func (c *Conn) dispatchLoop() {
	for req := range c.inbound {
		resp := c.handle(req)
		if resp == nil {
			resp = &Response{Status: http.StatusOK}
		}
		resp.ID = req.ID
		if err := c.writeFrame(frame{Kind: kindResponse, Response: resp}); err != nil {
			c.logger.Debug("rpc: write response failed", "id", req.ID, "err", err)
			return
		}
	}
}

func (c *Conn) handle(req *Request) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("rpc handler panic", "verb", req.Verb, "path", req.Path, "panic", r)
			resp = &Response{Status: http.StatusInternalServerError}
		}
	}()
	if c.handler == nil {
		return &Response{Status: http.StatusNotFound}
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return c.handler(ctx, req)
}
