package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	args := parseArgs([]string{`1`, `"quoted"`, `bare`, `{"a":[1,2]}`, `true`})
	assert.Equal(t, []any{
		float64(1),
		"quoted",
		"bare",
		map[string]any{"a": []any{float64(1), float64(2)}},
		true,
	}, args)
	assert.Empty(t, parseArgs(nil))
}

func TestParseCommands(t *testing.T) {
	cmds, cmd, err := parseCommands([]string{"call", "-u", "ws://localhost:8080/ws", "-t", "3s", "Arith.Add", `{"A":1,"B":2}`})
	require.NoError(t, err)
	assert.Equal(t, "call", cmd)
	assert.Equal(t, "ws://localhost:8080/ws", *cmds.url)
	assert.Equal(t, 3*time.Second, *cmds.timeout)
	assert.Equal(t, "cli", *cmds.frame)
	assert.Equal(t, "Arith.Add", *cmds.method)
	assert.Equal(t, []string{`{"A":1,"B":2}`}, *cmds.args)

	_, cmd, err = parseCommands(nil)
	require.NoError(t, err)
	assert.Equal(t, "serve", cmd)

	_, _, err = parseCommands([]string{"call"})
	assert.Error(t, err)
}
