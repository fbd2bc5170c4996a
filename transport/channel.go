// Package transport provides the message channels endpoints talk over.
//
// A channel is an unordered, unauthenticated broadcast primitive between two execution
// contexts, modeled on window.postMessage: a payload goes out with a target-origin filter,
// and every inbound payload is delivered to all registered handlers together with the
// sender's origin and a handle for replying to that specific sender.
//
//	parent Window ──Send(payload, "https://child.example")──► child Window
//	                                                            │ handlers(Event{Data, Origin, Source})
//	parent Window ◄──────────── ev.Source.Send(reply, ev.Origin)┘
//
// Three implementations are provided: Window (in-process), WSChannel (WebSocket) and
// StreamChannel (length-prefixed frames over any net.Conn).
package transport

import "errors"

// AnyOrigin as a target origin disables the receiver-origin filter.
const AnyOrigin = "*"

// ErrClosed is returned by Send once the channel has been closed.
var ErrClosed = errors.New("transport: channel closed")

// Sender delivers a payload to one counterpart.
// A payload whose targetOrigin is neither AnyOrigin nor the receiver's origin is discarded
// without error, exactly as the browser does.
type Sender interface {
	Send(payload []byte, targetOrigin string) error
}

// Event is one inbound message.
type Event struct {
	Data   []byte
	Origin string // origin of the sending context, as asserted by the channel
	Source Sender // replies sent here reach the sender of this event
}

// Handler is invoked once per inbound message. Handlers run in registration order on the
// channel's delivery goroutine and must not block.
type Handler func(ev Event)

// Channel is the endpoint-facing side of a transport.
type Channel interface {
	Sender
	// OnMessage registers h and returns a function that unregisters it.
	OnMessage(h Handler) (remove func())
}

// handlerList is the registration-ordered handler set shared by all channel types.
type handlerList struct {
	nextID   int
	handlers []handlerEntry
}

type handlerEntry struct {
	id int
	fn Handler
}

func (l *handlerList) add(h Handler) int {
	l.nextID++
	l.handlers = append(l.handlers, handlerEntry{id: l.nextID, fn: h})
	return l.nextID
}

func (l *handlerList) remove(id int) {
	for i, e := range l.handlers {
		if e.id == id {
			l.handlers = append(l.handlers[:i:i], l.handlers[i+1:]...)
			return
		}
	}
}

// snapshot copies the handlers so delivery can run without holding the channel lock.
func (l *handlerList) snapshot() []Handler {
	out := make([]Handler, len(l.handlers))
	for i, e := range l.handlers {
		out[i] = e.fn
	}
	return out
}

func originAccepted(targetOrigin, receiverOrigin string) bool {
	return targetOrigin == "" || targetOrigin == AnyOrigin || targetOrigin == receiverOrigin
}
