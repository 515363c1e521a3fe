package live

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bt-bridge/chronovoice/shared"
	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 << 20
)

// frameHandler turns one inbound frame into Handler calls. It runs on the
// read pump goroutine.
type frameHandler func(h Handler, data []byte)

// conn is the websocket plumbing shared by the providers: serialized writes
// with deadlines, a keepalive ping and a read pump that reports exactly one
// terminal signal.
type conn struct {
	ws     *websocket.Conn
	logger shared.LoggerAdapter

	wmu sync.Mutex

	mu      sync.Mutex
	handler Handler
	started bool
	open    bool
	closed  bool

	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, logger shared.LoggerAdapter) *conn {
	return &conn{
		ws:     ws,
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (c *conn) start(h Handler, onFrame frameHandler) error {
	if h == nil {
		return ErrNoHandler
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true
	c.handler = h
	go c.readPump(h, onFrame)
	go c.pingLoop()
	return nil
}

// markOpen records the provider's open signal. It reports false when the
// session was already open or is closed.
func (c *conn) markOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open || c.closed {
		return false
	}
	c.open = true
	return true
}

func (c *conn) ready() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return ErrClosed
	case !c.open:
		return ErrNotOpen
	}
	return nil
}

func (c *conn) writeJSON(ctx context.Context, v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	return c.write(ctx, data)
}

func (c *conn) write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return &shared.TransportError{Op: "send", Err: err}
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return &shared.TransportError{Op: "send", Err: err}
	}
	return nil
}

func (c *conn) readPump(h Handler, onFrame frameHandler) {
	defer c.close()
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.finish(h, err)
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.logger.Trace("received frame", zap.Int("bytes", len(data)))
		onFrame(h, data)
	}
}

func (c *conn) finish(h Handler, err error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	switch {
	case closed:
		c.logger.Debug("read pump stopped after local close")
		h.OnClose(nil)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		c.logger.Info("server closed the session", zap.Error(err))
		h.OnClose(err)
	default:
		c.logger.Error("reading from live session failed", err)
		h.OnError(&shared.TransportError{Op: "receive", Err: err})
	}
}

func (c *conn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("sending ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (c *conn) close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); werr != nil {
			c.logger.Debug("sending close frame failed", zap.Error(werr))
		}
		err = c.ws.Close()
	})
	return err
}

// dialError folds the handshake response status into err.
func dialError(resp *http.Response, err error) error {
	if resp == nil {
		return &shared.TransportError{Op: "dial", Err: err}
	}
	return &shared.TransportError{
		Op:  "dial",
		Err: fmt.Errorf("%w (status %s)", err, resp.Status),
	}
}
