package main

import (
	"time"

	"github.com/alecthomas/kingpin/v2"
)

var version = "dev" // set via -ldflags "-X main.version=..."

const (
	flagDescConfig   = "YAML config file to be used"
	flagDescDebug    = "Enable verbose/debug output"
	flagDescListen   = "Address to listen on, overrides server.listen"
	flagDescURL      = "WebSocket URL of the bridge host; the registry is used when empty"
	flagDescFrame    = "Frame id used to pick a host from the registry"
	flagDescTimeout  = "Call timeout, overrides rpc.call_timeout_ms"
	flagDescRetries  = "Retry timed out or undeliverable calls this many times"
	flagDescMethod   = "Method to invoke"
	flagDescArgs     = "Arguments, each a JSON value; bare words are sent as strings"
	flagDescOrigin   = "Origin presented to the bridge host, overrides server.origin"
	flagDescInterval = "Probe interval, overrides health.interval_ms"
)

type commands struct {
	app *kingpin.Application

	configFile *string
	debug      *bool

	serve  *kingpin.CmdClause
	listen *string

	call     *kingpin.CmdClause
	url      *string
	frame    *string
	origin   *string
	timeout  *time.Duration
	retries  *int
	method   *string
	args     *[]string
	watch    *kingpin.CmdClause
	watchURL *string
	interval *time.Duration

	version *kingpin.CmdClause
}

func parseCommands(argv []string) (*commands, string, error) {
	c := &commands{app: kingpin.New("framebridge", "Cross-frame RPC bridge host and client.")}

	c.configFile = c.app.Flag("config", flagDescConfig).Short('c').Envar("FRAMEBRIDGE_CONFIG").String()
	c.debug = c.app.Flag("debug", flagDescDebug).Short('d').Bool()

	c.serve = c.app.Command("serve", "Run a bridge host.").Default()
	c.listen = c.serve.Flag("listen", flagDescListen).Short('l').String()

	c.call = c.app.Command("call", "Invoke a method on a bridge host and print the JSON result.")
	c.url = c.call.Flag("url", flagDescURL).Short('u').String()
	c.frame = c.call.Flag("frame", flagDescFrame).Short('f').Default("cli").String()
	c.origin = c.call.Flag("origin", flagDescOrigin).String()
	c.timeout = c.call.Flag("timeout", flagDescTimeout).Short('t').Duration()
	c.retries = c.call.Flag("retries", flagDescRetries).Short('r').Default("0").Int()
	c.method = c.call.Arg("method", flagDescMethod).Required().String()
	c.args = c.call.Arg("args", flagDescArgs).Strings()

	c.watch = c.app.Command("watch", "Monitor the health of a bridge host until interrupted.")
	c.watchURL = c.watch.Arg("url", "WebSocket URL of the bridge host").Required().String()
	c.interval = c.watch.Flag("interval", flagDescInterval).Short('i').Duration()

	c.version = c.app.Command("version", "Display version.")

	cmd, err := c.app.Parse(argv)
	return c, cmd, err
}
