package transport

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func recvOne(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Event{}
	}
}

func collect(c Channel) <-chan Event {
	out := make(chan Event, 16)
	c.OnMessage(func(ev Event) { out <- ev })
	return out
}

func TestWindowDeliversWithSenderOrigin(t *testing.T) {
	parent := NewWindow("https://parent.example")
	child := NewWindow("https://child.example")
	defer parent.Close()
	defer child.Close()
	Pair(parent, child)

	inbox := collect(child)
	if err := parent.Send([]byte("hello"), "https://child.example"); err != nil {
		t.Fatal(err)
	}

	ev := recvOne(t, inbox)
	if string(ev.Data) != "hello" {
		t.Fatalf("expect hello, got %s", ev.Data)
	}
	if ev.Origin != "https://parent.example" {
		t.Fatalf("expect parent origin, got %s", ev.Origin)
	}
}

func TestWindowReplyReachesSender(t *testing.T) {
	parent := NewWindow("https://parent.example")
	child := NewWindow("https://child.example")
	stranger := NewWindow("https://other.example")
	defer parent.Close()
	defer child.Close()
	defer stranger.Close()
	Pair(parent, child)
	stranger.Connect(child)

	child.OnMessage(func(ev Event) {
		_ = ev.Source.Send([]byte("re:"+string(ev.Data)), ev.Origin)
	})
	parentInbox := collect(parent)
	strangerInbox := collect(stranger)

	if err := stranger.Send([]byte("x"), AnyOrigin); err != nil {
		t.Fatal(err)
	}

	ev := recvOne(t, strangerInbox)
	if string(ev.Data) != "re:x" || ev.Origin != "https://child.example" {
		t.Fatalf("unexpected reply %q from %s", ev.Data, ev.Origin)
	}

	select {
	case ev := <-parentInbox:
		t.Fatalf("parent must not see the stranger's reply, got %q", ev.Data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWindowTargetOriginFilter(t *testing.T) {
	parent := NewWindow("https://parent.example")
	child := NewWindow("https://child.example")
	defer parent.Close()
	defer child.Close()
	Pair(parent, child)

	inbox := collect(child)
	if err := parent.Send([]byte("secret"), "https://elsewhere.example"); err != nil {
		t.Fatal(err)
	}
	if err := parent.Send([]byte("public"), AnyOrigin); err != nil {
		t.Fatal(err)
	}

	ev := recvOne(t, inbox)
	if string(ev.Data) != "public" {
		t.Fatalf("filtered message was delivered: %q", ev.Data)
	}
}

func TestWindowHandlersInRegistrationOrder(t *testing.T) {
	a := NewWindow("https://a.example")
	b := NewWindow("https://b.example")
	defer a.Close()
	defer b.Close()
	Pair(a, b)

	order := make(chan int, 3)
	b.OnMessage(func(Event) { order <- 1 })
	remove := b.OnMessage(func(Event) { order <- 2 })
	b.OnMessage(func(Event) { order <- 3 })
	remove()

	if err := a.Send([]byte("go"), AnyOrigin); err != nil {
		t.Fatal(err)
	}
	if first, second := <-order, <-order; first != 1 || second != 3 {
		t.Fatalf("expect handlers 1 then 3, got %d then %d", first, second)
	}
}

func TestWindowClosed(t *testing.T) {
	a := NewWindow("https://a.example")
	b := NewWindow("https://b.example")
	Pair(a, b)
	b.Close()

	if err := a.Send([]byte("x"), AnyOrigin); err != ErrClosed {
		t.Fatalf("expect ErrClosed, got %v", err)
	}
	a.Close()
	if err := a.Send([]byte("x"), AnyOrigin); err != ErrClosed {
		t.Fatalf("expect ErrClosed after own close, got %v", err)
	}
}

func TestStreamChannel(t *testing.T) {
	left, right := net.Pipe()
	a := NewStreamChannel(left, "tcp://b", 0, 0)
	b := NewStreamChannel(right, "tcp://a", 0, 0)
	defer a.Close()
	defer b.Close()

	b.OnMessage(func(ev Event) {
		_ = ev.Source.Send(append([]byte("echo:"), ev.Data...), ev.Origin)
	})
	inbox := collect(a)

	if err := a.Send([]byte("ping"), AnyOrigin); err != nil {
		t.Fatal(err)
	}

	ev := recvOne(t, inbox)
	if string(ev.Data) != "echo:ping" {
		t.Fatalf("expect echo:ping, got %q", ev.Data)
	}
	if ev.Origin != "tcp://b" {
		t.Fatalf("expect origin tcp://b, got %s", ev.Origin)
	}
}

func TestStreamChannelClose(t *testing.T) {
	left, right := net.Pipe()
	a := NewStreamChannel(left, "tcp://b", 0, 0)
	b := NewStreamChannel(right, "tcp://a", 0, 0)

	a.Close()
	select {
	case <-b.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("peer did not notice the closed stream")
	}
	if err := a.Send([]byte("x"), AnyOrigin); err != ErrClosed {
		t.Fatalf("expect ErrClosed, got %v", err)
	}
}

func TestWebSocketChannel(t *testing.T) {
	accepted := make(chan *WSChannel, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := Upgrade(w, r, func(origin string) bool { return origin == "https://parent.example" })
		if err != nil {
			return
		}
		c.OnMessage(func(ev Event) {
			_ = ev.Source.Send(append([]byte("echo:"), ev.Data...), ev.Origin)
		})
		accepted <- c
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, url, "https://parent.example")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	server := <-accepted
	if server.Origin() != "https://parent.example" {
		t.Fatalf("server saw origin %s", server.Origin())
	}

	inbox := collect(c)
	if err := c.Send([]byte("hi"), AnyOrigin); err != nil {
		t.Fatal(err)
	}
	ev := recvOne(t, inbox)
	if string(ev.Data) != "echo:hi" {
		t.Fatalf("expect echo:hi, got %q", ev.Data)
	}
	if ev.Origin != srv.URL {
		t.Fatalf("expect origin %s, got %s", srv.URL, ev.Origin)
	}

	if _, err := Dial(ctx, url, "https://evil.example"); err == nil {
		t.Fatal("expect handshake rejection for disallowed origin")
	}
}

func TestOriginOf(t *testing.T) {
	cases := map[string]string{
		"ws://127.0.0.1:8080/ws":         "http://127.0.0.1:8080",
		"wss://bridge.example/ws?x=1":    "https://bridge.example",
		"https://child.example/app.html": "https://child.example",
	}
	for in, want := range cases {
		got, err := OriginOf(in)
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if got != want {
			t.Errorf("%s: expect %s, got %s", in, want, got)
		}
	}
	if _, err := OriginOf("/relative/path"); err == nil {
		t.Fatal("expect error for relative URL")
	}
}
