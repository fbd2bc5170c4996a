package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	WsBufferSize         = 8192 // 8kiB
	WsHandshakeTimeout   = 45 * time.Second
	WsCompressionEnabled = false

	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// WSChannel is a message channel over a WebSocket connection. The peer origin is fixed for
// the lifetime of the connection: the HTTP Origin header on the accepting side, the dialed
// URL's origin on the dialing side.
type WSChannel struct {
	conn   *websocket.Conn
	origin string
	log    *zap.Logger

	writeMu sync.Mutex // serializes writes, gorilla allows one concurrent writer

	mu       sync.Mutex // protects following
	handlers handlerList
	err      error

	closeOnce sync.Once
	done      chan struct{}
}

// NewWSChannel wraps an established connection and starts its read pump and keepalive.
// peerOrigin is reported as Event.Origin for every inbound message and is the origin a
// targetOrigin filter on Send is compared against.
func NewWSChannel(conn *websocket.Conn, peerOrigin string) *WSChannel {
	c := &WSChannel{
		conn:   conn,
		origin: peerOrigin,
		log:    zap.L().Named("wschannel").With(zap.String("peer", peerOrigin)),
		done:   make(chan struct{}),
	}

	// register pong handler, keeping websocket alive
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.pumpMessages()
	go c.keepalive()
	return c
}

// Dial opens a WebSocket connection to rawURL, presenting localOrigin in the Origin header.
func Dial(ctx context.Context, rawURL, localOrigin string) (*WSChannel, error) {
	peer, err := OriginOf(rawURL)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		ReadBufferSize:    WsBufferSize,
		WriteBufferSize:   WsBufferSize,
		EnableCompression: WsCompressionEnabled,
		HandshakeTimeout:  WsHandshakeTimeout,
	}

	headers := http.Header{}
	if localOrigin != "" {
		headers.Set("Origin", localOrigin)
	}

	conn, _, err := dialer.DialContext(ctx, rawURL, headers)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", rawURL, err)
	}

	zap.L().Info("WebSocket connection established", zap.String("url", rawURL))
	return NewWSChannel(conn, peer), nil
}

// Upgrade accepts a WebSocket connection. checkOrigin may veto the handshake by origin; a
// nil checkOrigin accepts every origin and leaves filtering to the endpoint.
func Upgrade(w http.ResponseWriter, r *http.Request, checkOrigin func(origin string) bool) (*WSChannel, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:    WsBufferSize,
		WriteBufferSize:   WsBufferSize,
		EnableCompression: WsCompressionEnabled,
		HandshakeTimeout:  WsHandshakeTimeout,
		CheckOrigin: func(r *http.Request) bool {
			if checkOrigin == nil {
				return true
			}
			return checkOrigin(r.Header.Get("Origin"))
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewWSChannel(conn, r.Header.Get("Origin")), nil
}

// OriginOf returns the web origin (scheme://host[:port]) for a URL, mapping ws/wss to
// http/https.
func OriginOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	scheme := u.Scheme
	switch scheme {
	case "ws":
		scheme = "http"
	case "wss":
		scheme = "https"
	}
	if scheme == "" || u.Host == "" {
		return "", fmt.Errorf("transport: %q has no origin", rawURL)
	}
	return scheme + "://" + u.Host, nil
}

func (c *WSChannel) Origin() string { return c.origin }

func (c *WSChannel) Send(payload []byte, targetOrigin string) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	if !originAccepted(targetOrigin, c.origin) {
		c.log.Debug("discarding message for another origin", zap.String("target", targetOrigin))
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		c.terminate(err)
		return err
	}
	return nil
}

func (c *WSChannel) OnMessage(h Handler) func() {
	c.mu.Lock()
	id := c.handlers.add(h)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.handlers.remove(id)
			c.mu.Unlock()
		})
	}
}

// Done is closed once the connection is gone.
func (c *WSChannel) Done() <-chan struct{} { return c.done }

// Err reports why the connection terminated, nil while it is alive or after a clean Close.
func (c *WSChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close sends a close notification and tears the connection down.
func (c *WSChannel) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	c.terminate(nil)
	return nil
}

func (c *WSChannel) terminate(reason error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = reason
		c.mu.Unlock()
		close(c.done)
		if err := c.conn.Close(); err != nil {
			c.log.Debug("unable to properly close connection", zap.Error(err))
		}
	})
}

func (c *WSChannel) pumpMessages() {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, websocket.ErrCloseSent) {
				c.terminate(nil)
			} else {
				select {
				case <-c.done:
				default:
					c.log.Info("WebSocket connection lost", zap.Error(err))
				}
				c.terminate(err)
			}
			return
		}

		switch mt {
		case websocket.BinaryMessage, websocket.TextMessage:
			c.mu.Lock()
			handlers := c.handlers.snapshot()
			c.mu.Unlock()

			ev := Event{Data: data, Origin: c.origin, Source: c}
			for _, h := range handlers {
				c.dispatch(h, ev)
			}
		default:
			c.log.Debug("ignoring message", zap.Int("type", mt))
		}
	}
}

func (c *WSChannel) dispatch(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("message handler panicked", zap.Any("panic", r))
		}
	}()
	h(ev)
}

func (c *WSChannel) keepalive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		c.writeMu.Lock()
		err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		c.writeMu.Unlock()
		if err != nil {
			c.log.Info("remote WebSocket disconnection detected", zap.Error(err))
			c.terminate(err)
			return
		}
	}
}
