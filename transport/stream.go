package transport

import (
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"framebridge/protocol"
)

// DefaultHeartbeatInterval is how often an idle StreamChannel sends a heartbeat frame.
const DefaultHeartbeatInterval = 30 * time.Second

// StreamChannel carries messages over a byte stream (TCP, unix socket, net.Pipe) using the
// length-prefixed frames of package protocol.
//
//	Send(payload) ──sending lock──► protocol.Encode ──► conn ──► peer recvLoop ──► handlers
//
// A single recvLoop goroutine reads frames sequentially, because a byte stream can only be
// parsed by one reader; writes from many goroutines are serialized by the sending mutex.
type StreamChannel struct {
	conn      net.Conn
	origin    string
	codecType byte
	log       *zap.Logger

	sending sync.Mutex // write lock, prevents frame interleaving on the shared conn

	mu       sync.Mutex // protects following
	handlers handlerList
	err      error

	closeOnce sync.Once
	done      chan struct{}
}

// NewStreamChannel wraps conn and starts the receive and heartbeat loops. peerOrigin is the
// origin reported for every inbound message; a stream has no origin of its own, so the
// caller asserts it (e.g. from an authenticated handshake). codecType only labels frames.
func NewStreamChannel(conn net.Conn, peerOrigin string, codecType byte, heartbeat time.Duration) *StreamChannel {
	c := &StreamChannel{
		conn:      conn,
		origin:    peerOrigin,
		codecType: codecType,
		log:       zap.L().Named("stream").With(zap.String("peer", peerOrigin)),
		done:      make(chan struct{}),
	}
	go c.recvLoop()
	if heartbeat > 0 {
		go c.heartbeatLoop(heartbeat)
	}
	return c
}

func (c *StreamChannel) Origin() string { return c.origin }

func (c *StreamChannel) Send(payload []byte, targetOrigin string) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	if !originAccepted(targetOrigin, c.origin) {
		c.log.Debug("discarding message for another origin", zap.String("target", targetOrigin))
		return nil
	}

	header := protocol.Header{
		CodecType: c.codecType,
		MsgType:   protocol.MsgTypeMessage,
	}

	c.sending.Lock()
	err := protocol.Encode(c.conn, &header, payload)
	c.sending.Unlock()
	if err != nil {
		c.terminate(err)
		return err
	}
	return nil
}

func (c *StreamChannel) OnMessage(h Handler) func() {
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

// Done is closed once the stream is gone.
func (c *StreamChannel) Done() <-chan struct{} { return c.done }

// Err reports why the stream terminated.
func (c *StreamChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *StreamChannel) Close() error {
	c.terminate(nil)
	return nil
}

func (c *StreamChannel) terminate(reason error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = reason
		c.mu.Unlock()
		close(c.done)
		_ = c.conn.Close()
	})
}

// recvLoop reads frames until the stream breaks. Heartbeats are skipped; any framing error
// is fatal because the stream position can no longer be trusted.
func (c *StreamChannel) recvLoop() {
	for {
		header, body, err := protocol.Decode(c.conn)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Debug("stream closed", zap.Error(err))
			}
			c.terminate(err)
			return
		}

		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}

		c.mu.Lock()
		handlers := c.handlers.snapshot()
		c.mu.Unlock()

		ev := Event{Data: body, Origin: c.origin, Source: c}
		for _, h := range handlers {
			c.dispatch(h, ev)
		}
	}
}

func (c *StreamChannel) dispatch(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("message handler panicked", zap.Any("panic", r))
		}
	}()
	h(ev)
}

// heartbeatLoop keeps idle streams from being reaped by intermediaries and detects dead peers
// on the write side.
func (c *StreamChannel) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		header := &protocol.Header{
			CodecType: c.codecType,
			MsgType:   protocol.MsgTypeHeartbeat,
		}
		c.sending.Lock()
		err := protocol.Encode(c.conn, header, nil)
		c.sending.Unlock()
		if err != nil {
			c.terminate(err)
			return
		}
	}
}
