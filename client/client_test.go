package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framebridge/endpoint"
	"framebridge/health"
	"framebridge/registry"
	"framebridge/retry"
	"framebridge/transport"
)

const (
	parentOrigin = "https://parent.example"
	childOrigin  = "https://child.example"
)

// child starts a frame-side endpoint and returns the parent's end of the pair.
func child(t *testing.T, setup func(*endpoint.Endpoint)) (*transport.Window, *endpoint.Endpoint) {
	t.Helper()
	pw := transport.NewWindow(parentOrigin)
	cw := transport.NewWindow(childOrigin)
	transport.Pair(pw, cw)
	t.Cleanup(func() {
		pw.Close()
		cw.Close()
	})

	ep, err := endpoint.New(cw, endpoint.WithTargetOrigin(parentOrigin))
	require.NoError(t, err)
	t.Cleanup(ep.Destroy)
	if setup != nil {
		setup(ep)
	}
	return pw, ep
}

func TestAttachAndCall(t *testing.T) {
	pw, _ := child(t, func(ep *endpoint.Endpoint) {
		ep.ExposeFunc("title", func() string { return "Dashboard" })
	})

	m := New(Options{SetupTimeout: time.Second})
	defer m.Close()

	f, err := m.Attach(context.Background(), "dash", pw, WithTargetOrigin(childOrigin))
	require.NoError(t, err)
	assert.Equal(t, ModeRPC, f.Mode)
	assert.NotNil(t, f.Endpoint())

	got, err := m.Call(context.Background(), "dash", "title")
	require.NoError(t, err)
	assert.Equal(t, "Dashboard", got)
	assert.Equal(t, []string{"dash"}, m.Frames())

	_, err = m.Attach(context.Background(), "dash", pw)
	assert.ErrorIs(t, err, ErrFrameExists)
}

func TestAttachHandshakeTimeout(t *testing.T) {
	pw := transport.NewWindow(parentOrigin)
	cw := transport.NewWindow(childOrigin)
	transport.Pair(pw, cw)
	defer pw.Close()
	defer cw.Close()

	m := New(Options{SetupTimeout: 150 * time.Millisecond})
	defer m.Close()

	_, err := m.Attach(context.Background(), "silent", pw)
	require.Error(t, err)
	assert.Empty(t, m.Frames())

	f, err := m.Attach(context.Background(), "silent", pw, WithoutHandshake())
	require.NoError(t, err)
	assert.Equal(t, "silent", f.ID)
}

func TestUnknownFrame(t *testing.T) {
	m := New(Options{})
	_, err := m.Call(context.Background(), "missing", "x")
	assert.ErrorIs(t, err, ErrUnknownFrame)
	assert.ErrorIs(t, m.Detach("missing"), ErrUnknownFrame)
}

func TestExposeReachesEveryFrame(t *testing.T) {
	pw1, c1 := child(t, nil)
	pw2, c2 := child(t, nil)

	m := New(Options{})
	defer m.Close()

	_, err := m.Attach(context.Background(), "one", pw1)
	require.NoError(t, err)
	require.NoError(t, m.Expose("theme", func(context.Context, []any) (any, error) { return "dark", nil }))
	_, err = m.Attach(context.Background(), "two", pw2)
	require.NoError(t, err)

	for _, c := range []*endpoint.Endpoint{c1, c2} {
		got, err := c.Call(context.Background(), "theme")
		require.NoError(t, err)
		assert.Equal(t, "dark", got)
	}

	require.NoError(t, m.ExposeTo("one", "only", func(context.Context, []any) (any, error) { return 1, nil }))
	_, err = c2.CallTimeout(context.Background(), time.Second, "only")
	var re *endpoint.RemoteError
	assert.ErrorAs(t, err, &re)
}

func TestAttachConcurrentWithCallAndExpose(t *testing.T) {
	m := New(Options{})
	defer m.Close()

	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("frame-%d", i)
		method := fmt.Sprintf("theme-%d", i)
		pw, c := child(t, nil)

		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, err := m.Attach(context.Background(), id, pw, WithoutHandshake(), WithTargetOrigin(childOrigin))
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			for {
				_, err := m.Call(context.Background(), id, endpoint.PingMethod)
				if !errors.Is(err, ErrUnknownFrame) {
					assert.NoError(t, err)
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Expose(method, func(context.Context, []any) (any, error) { return "dark", nil }))
		}()
		wg.Wait()

		// whichever of Attach and Expose ran first, the frame serves the handler
		got, err := c.Call(context.Background(), method)
		require.NoError(t, err, id)
		assert.Equal(t, "dark", got)
	}
}

func TestFailedHandshakeKeepsNewerFrame(t *testing.T) {
	silentParent := transport.NewWindow(parentOrigin)
	silentChild := transport.NewWindow(childOrigin)
	transport.Pair(silentParent, silentChild)
	defer silentParent.Close()
	defer silentChild.Close()
	pw, _ := child(t, nil)

	m := New(Options{SetupTimeout: 300 * time.Millisecond})
	defer m.Close()

	failed := make(chan error, 1)
	go func() {
		_, err := m.Attach(context.Background(), "f", silentParent)
		failed <- err
	}()
	require.Eventually(t, func() bool {
		_, ok := m.Frame("f")
		return ok
	}, time.Second, time.Millisecond)

	require.NoError(t, m.Detach("f"))
	newer, err := m.Attach(context.Background(), "f", pw, WithoutHandshake(), WithTargetOrigin(childOrigin))
	require.NoError(t, err)

	assert.Error(t, <-failed)
	got, ok := m.Frame("f")
	require.True(t, ok)
	assert.Same(t, newer, got)
	_, err = m.Call(context.Background(), "f", endpoint.PingMethod)
	assert.NoError(t, err)
}

func TestDirectMode(t *testing.T) {
	methods := endpoint.NewMethodRegistry()
	require.NoError(t, methods.RegisterFunc("sum", func(a, b float64) float64 { return a + b }))
	require.NoError(t, methods.Register("fail", func(context.Context, []any) (any, error) {
		return nil, errors.New("nope")
	}))
	require.NoError(t, methods.Register("boom", func(context.Context, []any) (any, error) {
		panic("exploded")
	}))

	m := New(Options{})
	defer m.Close()

	f, err := m.Attach(context.Background(), "local", nil, WithDirect(methods))
	require.NoError(t, err)
	assert.Equal(t, ModeDirect, f.Mode)
	assert.Nil(t, f.Endpoint())

	got, err := m.Call(context.Background(), "local", "sum", 1.5, 2.0)
	require.NoError(t, err)
	assert.Equal(t, 3.5, got)

	_, err = m.Call(context.Background(), "local", "fail")
	assert.EqualError(t, err, "nope")

	_, err = m.Call(context.Background(), "local", "boom")
	assert.EqualError(t, err, "exploded")

	_, err = m.Call(context.Background(), "local", "missing")
	assert.EqualError(t, err, "Method 'missing' not found")

	got, err = m.Call(context.Background(), "local", endpoint.PingMethod)
	require.NoError(t, err)
	assert.Equal(t, endpoint.PongResult, got)
}

func TestAttachNeedsChannelOrAccessor(t *testing.T) {
	m := New(Options{})
	_, err := m.Attach(context.Background(), "x", nil)
	assert.Error(t, err)
}

func TestDetach(t *testing.T) {
	pw, _ := child(t, nil)
	m := New(Options{})

	_, err := m.Attach(context.Background(), "f", pw)
	require.NoError(t, err)
	f, ok := m.Frame("f")
	require.True(t, ok)

	require.NoError(t, m.Detach("f"))
	assert.True(t, f.Endpoint().Destroyed())
	assert.Empty(t, m.Frames())
	_, err = m.Call(context.Background(), "f", endpoint.PingMethod)
	assert.ErrorIs(t, err, ErrUnknownFrame)
}

func TestHealthMonitoring(t *testing.T) {
	pw, c := child(t, nil)
	m := New(Options{
		Health: &health.Config{Interval: 20 * time.Millisecond, Timeout: 50 * time.Millisecond, RetryDelay: 10 * time.Millisecond},
	})
	defer m.Close()

	_, err := m.Attach(context.Background(), "watched", pw)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snaps := m.Health()
		return len(snaps) == 1 && snaps[0].Status == health.StatusHealthy
	}, time.Second, 5*time.Millisecond)

	c.Destroy()
	require.Eventually(t, func() bool {
		return m.Health()[0].Status == health.StatusUnhealthy
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, health.KindTimeout, m.Health()[0].LastKind)

	require.NoError(t, m.Detach("watched"))
	assert.Empty(t, m.Health())
}

func TestCallWithRetry(t *testing.T) {
	var calls atomic.Int32
	pw, _ := child(t, func(ep *endpoint.Endpoint) {
		ep.Expose("flaky", func(ctx context.Context, _ []any) (any, error) {
			if calls.Add(1) < 2 {
				<-ctx.Done()
			}
			return "ok", nil
		})
		ep.Expose("broken", func(context.Context, []any) (any, error) {
			return nil, errors.New("permanent")
		})
	})

	m := New(Options{Endpoint: []endpoint.Option{endpoint.WithCallTimeout(40 * time.Millisecond)}})
	defer m.Close()
	_, err := m.Attach(context.Background(), "f", pw)
	require.NoError(t, err)

	opts := retry.Options{MaxRetries: 2, InitialDelay: 5 * time.Millisecond}
	got, err := m.CallWithRetry(context.Background(), "f", "flaky", opts)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)

	_, err = m.CallWithRetry(context.Background(), "f", "broken", opts)
	assert.EqualError(t, err, "permanent")
}

func TestDiscover(t *testing.T) {
	methods := endpoint.NewMethodRegistry()
	require.NoError(t, methods.RegisterFunc("host", func() string { return "bridge-1" }))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ch, err := transport.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ep, err := endpoint.New(ch, endpoint.WithMethods(methods))
		if err != nil {
			ch.Close()
			return
		}
		go func() {
			<-ch.Done()
			ep.Destroy()
		}()
	}))
	defer srv.Close()

	reg := registry.NewMemoryRegistry()
	addr := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	require.NoError(t, reg.Register(context.Background(), "bridge", registry.Instance{Addr: addr, Weight: 1}, 10))

	m := New(Options{Registry: reg, Service: "bridge", Origin: parentOrigin})
	defer m.Close()

	f, err := m.Discover(context.Background(), "remote")
	require.NoError(t, err)
	assert.Equal(t, srv.URL, f.Origin)

	got, err := m.Call(context.Background(), "remote", "host")
	require.NoError(t, err)
	assert.Equal(t, "bridge-1", got)
}

func TestDiscoverWithoutRegistry(t *testing.T) {
	m := New(Options{})
	_, err := m.Discover(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoRegistry)
}
