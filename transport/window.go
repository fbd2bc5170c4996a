package transport

import (
	"sync"

	"go.uber.org/zap"
)

// Window is an in-process message channel: the Go analogue of a browser window or iframe
// content window. Each Window owns an inbox drained by a single delivery goroutine, so
// handlers run asynchronously, one message at a time, in registration order.
//
// Send posts to the window's peer (set with Connect or Pair). Any number of windows may post
// into the same window; replies travel back through Event.Source.
type Window struct {
	origin string
	log    *zap.Logger

	mu       sync.Mutex // protects following
	peer     *Window
	handlers handlerList
	queue    []Event
	closed   bool

	wake chan struct{}
	done chan struct{}
}

// NewWindow creates a window whose messages carry the given origin.
func NewWindow(origin string) *Window {
	w := &Window{
		origin: origin,
		log:    zap.L().Named("window"),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go w.deliverLoop()
	return w
}

// Pair connects a and b to each other, like a parent window and its iframe.
func Pair(a, b *Window) {
	a.Connect(b)
	b.Connect(a)
}

// Connect makes peer the destination of w.Send.
func (w *Window) Connect(peer *Window) {
	w.mu.Lock()
	w.peer = peer
	w.mu.Unlock()
}

func (w *Window) Origin() string { return w.origin }

// Send posts payload to the connected peer.
func (w *Window) Send(payload []byte, targetOrigin string) error {
	w.mu.Lock()
	peer, closed := w.peer, w.closed
	w.mu.Unlock()

	if closed || peer == nil {
		return ErrClosed
	}
	return peer.post(payload, targetOrigin, w)
}

func (w *Window) OnMessage(h Handler) func() {
	w.mu.Lock()
	id := w.handlers.add(h)
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			w.handlers.remove(id)
			w.mu.Unlock()
		})
	}
}

// Close stops delivery. Queued messages are discarded and later posts fail with ErrClosed.
func (w *Window) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.queue = nil
	close(w.done)
	return nil
}

// post enqueues a message from sender. The payload is copied: the two sides never share
// memory, only messages.
func (w *Window) post(payload []byte, targetOrigin string, sender *Window) error {
	if !originAccepted(targetOrigin, w.origin) {
		w.log.Debug("discarding message for another origin",
			zap.String("target", targetOrigin), zap.String("origin", w.origin))
		return nil
	}

	data := make([]byte, len(payload))
	copy(data, payload)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.queue = append(w.queue, Event{
		Data:   data,
		Origin: sender.origin,
		Source: &windowPort{to: sender, from: w},
	})
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

func (w *Window) deliverLoop() {
	for {
		select {
		case <-w.done:
			return
		case <-w.wake:
		}

		for {
			w.mu.Lock()
			if w.closed || len(w.queue) == 0 {
				w.mu.Unlock()
				break
			}
			ev := w.queue[0]
			w.queue[0] = Event{}
			w.queue = w.queue[1:]
			handlers := w.handlers.snapshot()
			w.mu.Unlock()

			for _, h := range handlers {
				w.dispatch(h, ev)
			}
		}
	}
}

// dispatch isolates the loop from a panicking handler, like a browser event loop does.
func (w *Window) dispatch(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("message handler panicked", zap.String("origin", w.origin), zap.Any("panic", r))
		}
	}()
	h(ev)
}

// windowPort is the reply handle given to receivers: it posts back into the sender.
type windowPort struct {
	to   *Window
	from *Window
}

func (p *windowPort) Send(payload []byte, targetOrigin string) error {
	return p.to.post(payload, targetOrigin, p.from)
}
