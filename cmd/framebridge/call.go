package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"go.uber.org/zap"

	"framebridge/client"
	"framebridge/config"
	"framebridge/endpoint"
	"framebridge/loadbalance"
	"framebridge/registry"
	"framebridge/retry"
	"framebridge/transport"
)

func runCall(cfg *config.Config, logger *zap.Logger, cmds *commands) error {
	timeout := *cmds.timeout
	if timeout <= 0 {
		timeout = cfg.RPC.CallTimeout()
	}
	origin := *cmds.origin
	if origin == "" {
		origin = cfg.Server.Origin
	}

	args := parseArgs(*cmds.args)

	opts := client.Options{
		Endpoint: []endpoint.Option{
			endpoint.WithCodec(cfg.RPC.CodecType()),
			endpoint.WithCallTimeout(timeout),
			endpoint.WithSecurity(cfg.Security.Guard()),
		},
		SetupTimeout: cfg.RPC.SetupTimeout(),
		Service:      cfg.Registry.Service,
		Origin:       origin,
		Logger:       logger,
	}
	if *cmds.url == "" {
		if !cfg.Registry.Enable {
			return errors.New("either --url or an enabled registry is required")
		}
		reg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, logger)
		if err != nil {
			return err
		}
		defer reg.Close()
		balancer, err := loadbalance.ByName(cfg.Registry.Balancer)
		if err != nil {
			return err
		}
		opts.Registry, opts.Balancer = reg, balancer
	}

	mgr := client.New(opts)
	defer mgr.Close()

	ctx := context.Background()
	if *cmds.url != "" {
		ws, err := transport.Dial(ctx, *cmds.url, origin)
		if err != nil {
			return err
		}
		_, err = mgr.Attach(ctx, *cmds.frame, ws, client.WithTargetOrigin(ws.Origin()), client.WithCloser(ws))
		if err != nil {
			return err
		}
	} else if _, err := mgr.Discover(ctx, *cmds.frame); err != nil {
		return err
	}

	var (
		result any
		err    error
	)
	if *cmds.retries > 0 {
		result, err = mgr.CallWithRetry(ctx, *cmds.frame, *cmds.method, retry.Options{MaxRetries: *cmds.retries}, args...)
	} else {
		result, err = mgr.Call(ctx, *cmds.frame, *cmds.method, args...)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// parseArgs decodes each argument as JSON, keeping it as a string when it is not.
func parseArgs(raw []string) []any {
	args := make([]any, 0, len(raw))
	for _, s := range raw {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			v = s
		}
		args = append(args, v)
	}
	return args
}
