package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framebridge/endpoint"
	"framebridge/transport"
)

func embedPair(t *testing.T) (*endpoint.Endpoint, *Embed) {
	t.Helper()
	parentWin := transport.NewWindow("https://parent.example")
	frameWin := transport.NewWindow("https://frame.example")
	transport.Pair(parentWin, frameWin)
	t.Cleanup(func() {
		parentWin.Close()
		frameWin.Close()
	})

	parent, err := endpoint.New(parentWin, endpoint.WithTargetOrigin("https://frame.example"))
	require.NoError(t, err)
	t.Cleanup(parent.Destroy)

	embed, err := NewEmbed(frameWin,
		endpoint.WithTargetOrigin("https://parent.example"),
		endpoint.WithAllowedOrigins("https://parent.example"),
	)
	require.NoError(t, err)
	t.Cleanup(embed.Destroy)
	return parent, embed
}

func TestEmbedNotifyReady(t *testing.T) {
	parent, embed := embedPair(t)
	require.NoError(t, embed.ExposeFunc("getTitle", func() string { return "Dashboard" }))

	ready := make(chan []string, 1)
	require.NoError(t, parent.ExposeFunc(ReadyMethod, func(methods []string) {
		ready <- methods
	}))

	require.NoError(t, embed.NotifyReady(context.Background()))
	select {
	case methods := <-ready:
		assert.Equal(t, []string{"getTitle", "ping"}, methods)
	case <-time.After(time.Second):
		t.Fatal("parent was not notified")
	}

	got, err := parent.Call(context.Background(), "getTitle")
	require.NoError(t, err)
	assert.Equal(t, "Dashboard", got)
}

func TestEmbedNotifyReadyUnhandled(t *testing.T) {
	_, embed := embedPair(t)

	err := embed.NotifyReady(context.Background())
	var re *endpoint.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "Method 'ready' not found", re.Message)
}

func TestEmbedCallsParent(t *testing.T) {
	parent, embed := embedPair(t)
	require.NoError(t, parent.ExposeFunc("resize", func(w, h int) int { return w * h }))

	got, err := embed.Call(context.Background(), "resize", 3, 4)
	require.NoError(t, err)
	assert.EqualValues(t, 12, got)
}

func TestEmbedDestroy(t *testing.T) {
	parent, embed := embedPair(t)
	require.NoError(t, embed.ExposeFunc("getTitle", func() string { return "Dashboard" }))
	embed.Destroy()
	assert.True(t, embed.Endpoint().Destroyed())

	_, err := parent.CallTimeout(context.Background(), 100*time.Millisecond, "getTitle")
	var te *endpoint.TimeoutError
	assert.ErrorAs(t, err, &te)
}
