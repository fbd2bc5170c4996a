package middleware

import (
	"context"
	"framebridge/message"
	"testing"
	"time"

	"go.uber.org/zap"
)

// echoHandler returns the first argument as the result
func echoHandler(ctx context.Context, req *message.Frame) *message.Frame {
	var result any
	if len(req.Args) > 0 {
		result = req.Args[0]
	}
	return message.NewResult(req.ID, result)
}

// slowHandler sleeps 200ms before answering
func slowHandler(ctx context.Context, req *message.Frame) *message.Frame {
	time.Sleep(200 * time.Millisecond)
	return message.NewResult(req.ID, "ok")
}

func panicHandler(ctx context.Context, req *message.Frame) *message.Frame {
	panic("kaboom")
}

func newReq() *message.Frame {
	return message.NewRequest("1", "echo", []any{"ok"})
}

func TestLogging(t *testing.T) {
	handler := LoggingMiddleware(zap.NewNop())(echoHandler)

	resp := handler(context.Background(), newReq())

	if resp == nil {
		t.Fatal("expect non-nil response")
	}
	if resp.Result != "ok" {
		t.Fatalf("expect result 'ok', got '%v'", resp.Result)
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	resp := handler(context.Background(), newReq())

	if resp.Error != "" {
		t.Fatalf("expect no error, got '%s'", resp.Error)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	resp := handler(context.Background(), newReq())

	if resp.Error != "request timed out" {
		t.Fatalf("expect timeout error, got '%s'", resp.Error)
	}
	if resp.ID != "1" {
		t.Fatalf("expect response to keep the request id, got '%s'", resp.ID)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2: the first 2 pass, the 3rd is refused
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		resp := handler(context.Background(), newReq())
		if resp.Error != "" {
			t.Fatalf("request %d should pass, got error: %s", i, resp.Error)
		}
	}

	resp := handler(context.Background(), newReq())
	if resp.Error != "rate limit exceeded" {
		t.Fatalf("request 3 should be rate limited, got: '%s'", resp.Error)
	}
}

func TestRecover(t *testing.T) {
	handler := RecoverMiddleware(zap.NewNop())(panicHandler)

	resp := handler(context.Background(), newReq())
	if resp.Error != "kaboom" {
		t.Fatalf("expect panic value as error, got '%s'", resp.Error)
	}
}

func TestChain(t *testing.T) {
	chained := Chain(LoggingMiddleware(zap.NewNop()), RecoverMiddleware(zap.NewNop()), TimeOutMiddleware(500*time.Millisecond))
	handler := chained(echoHandler)

	resp := handler(context.Background(), newReq())

	if resp == nil {
		t.Fatal("expect non-nil response")
	}
	if resp.Error != "" {
		t.Fatalf("expect no error, got '%s'", resp.Error)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Frame) *message.Frame {
				order = append(order, name+".before")
				resp := next(ctx, req)
				order = append(order, name+".after")
				return resp
			}
		}
	}

	Chain(tag("A"), tag("B"))(echoHandler)(context.Background(), newReq())

	want := []string{"A.before", "B.before", "B.after", "A.after"}
	if len(order) != len(want) {
		t.Fatalf("expect %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expect %v, got %v", want, order)
		}
	}
}
