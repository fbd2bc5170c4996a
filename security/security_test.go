package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framebridge/message"
)

func TestOriginAllowlist(t *testing.T) {
	m := NewOriginMatcher([]string{"https://a.example"})
	assert.True(t, m.Allowed("https://a.example"))
	assert.False(t, m.Allowed("https://evil.example"))
	assert.False(t, m.Allowed("https://a.example.evil.net"))

	all := NewOriginMatcher([]string{"*"})
	assert.True(t, all.Allowed("https://a.example"))
	assert.True(t, all.Allowed("https://evil.example"))
	assert.True(t, all.AllowsAll())

	assert.True(t, NewOriginMatcher(nil).Allowed("anything"))
}

func TestOriginWildcardPatternIsAnchored(t *testing.T) {
	m := NewOriginMatcher([]string{"https://*.example.com", "http://localhost:*"})

	assert.True(t, m.Allowed("https://app.example.com"))
	assert.True(t, m.Allowed("https://a.b.example.com"))
	assert.True(t, m.Allowed("http://localhost:3000"))

	assert.False(t, m.Allowed("https://example.com.evil.net"))
	assert.False(t, m.Allowed("https://app.example.com.evil.net"))
	assert.False(t, m.Allowed("evil://https://app.example.com"))
	// dots are literal, not regexp wildcards
	assert.False(t, m.Allowed("https://appXexampleXcom"))
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	l, err := NewRateLimiter(3, time.Second)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("https://a.example"), "request %d", i+1)
	}
	assert.False(t, l.Allow("https://a.example"), "4th request inside the window")

	// origins are tracked independently
	assert.True(t, l.Allow("https://b.example"))

	time.Sleep(1100 * time.Millisecond)
	assert.True(t, l.Allow("https://a.example"), "window elapsed")
}

func TestRateLimiterRejectsBadConfig(t *testing.T) {
	_, err := NewRateLimiter(0, time.Second)
	assert.Error(t, err)
	_, err = NewRateLimiter(10, 0)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(message.NewRequest("1", "ping", nil)))
	assert.NoError(t, Validate(message.NewResult("1", nil)))
	assert.NoError(t, Validate(message.NewError("1", "boom")))

	cases := map[string]*message.Frame{
		"type":   {ID: "1", Method: "ping"},
		"id":     {Type: message.TypeRequest, Method: "ping"},
		"method": {Type: message.TypeRequest, ID: "1"},
		"result": {Type: message.TypeResponse, ID: "1", Result: 1, Error: "boom"},
	}
	for field, f := range cases {
		err := Validate(f)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, field)
		assert.Equal(t, field, verr.Field)
	}

	err := Validate(&message.Frame{Type: "rpc-event", ID: "1"})
	assert.ErrorContains(t, err, "unknown")
}

func TestGuardOrder(t *testing.T) {
	g, err := NewGuard(GuardConfig{
		AllowedOrigins:   []string{"https://a.example"},
		EnableRateLimit:  true,
		MaxRequests:      1,
		TimeWindow:       time.Minute,
		ValidateMessages: true,
	})
	require.NoError(t, err)

	assert.Equal(t, OriginRejected, g.Admit("https://evil.example"))
	assert.Equal(t, Accepted, g.Admit("https://a.example"))
	assert.Equal(t, RateLimited, g.Admit("https://a.example"))
	// disallowed origins never consume rate budget
	assert.Equal(t, OriginRejected, g.Admit("https://evil.example"))

	rej, err := g.Inspect(&message.Frame{Type: message.TypeRequest, ID: "1"})
	assert.Equal(t, MalformedMessage, rej)
	assert.Error(t, err)
}

func TestGuardDefaults(t *testing.T) {
	g, err := NewGuard(GuardConfig{EnableRateLimit: true})
	require.NoError(t, err)
	require.NotNil(t, g.RateLimiter())
	assert.Equal(t, DefaultMaxRequests, g.RateLimiter().MaxRequests())
	assert.Equal(t, DefaultTimeWindow, g.RateLimiter().Window())

	// full validation is off: a response carrying a method passes
	rej, err := g.Inspect(&message.Frame{Type: message.TypeResponse, ID: "1", Method: "ping"})
	assert.Equal(t, Accepted, rej, "validation disabled")
	assert.NoError(t, err)

	// but frames without an id, or requests without a method, never do
	for _, f := range []*message.Frame{
		{Type: message.TypeRequest},
		{Type: message.TypeRequest, ID: "1"},
		{Type: message.TypeResponse},
	} {
		rej, err := g.Inspect(f)
		assert.Equal(t, MalformedMessage, rej, "%+v", f)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	}
}

func TestCorrelationIDsAreDistinct(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := NewCorrelationID()
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}
