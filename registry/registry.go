// Package registry lets bridge hosts advertise themselves and lets parents find them.
package registry

import "context"

// Instance is one bridge host.
type Instance struct {
	Addr    string `json:"addr"`   // WebSocket URL, e.g. ws://10.0.0.5:8080/ws
	Origin  string `json:"origin"` // origin the host's endpoints present to callers
	Weight  int    `json:"weight"` // weight for load balancing
	Version string `json:"version"`
}

type Registry interface {
	Register(ctx context.Context, service string, instance Instance, ttl int64) error
	Deregister(ctx context.Context, service string, addr string) error
	Discover(ctx context.Context, service string) ([]Instance, error)
	// Watch emits the full instance list after every change until ctx ends.
	Watch(ctx context.Context, service string) <-chan []Instance
	Close() error
}
