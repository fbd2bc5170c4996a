package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"framebridge/config"
	"framebridge/registry"
	"framebridge/server"
)

// echo answers with its arguments; handy to check a host end to end.
func echo(args ...any) []any { return args }

func runServe(cfg *config.Config, logger *zap.Logger, listen string) error {
	if listen == "" {
		listen = cfg.Server.Listen
	}

	svr, err := server.NewServer(server.Options{
		Security:     cfg.Security.Guard(),
		Codec:        cfg.RPC.CodecType(),
		CallTimeout:  cfg.RPC.CallTimeout(),
		HandlerRate:  cfg.Server.HandlerRate,
		HandlerBurst: cfg.Server.HandlerBurst,
		Version:      version,
		AdvertiseTTL: cfg.Registry.TTL,
		Logger:       logger,
		Registerer:   prometheus.DefaultRegisterer,
		Gatherer:     prometheus.DefaultGatherer,
	})
	if err != nil {
		return err
	}
	if err := svr.ExposeFunc("echo", echo); err != nil {
		return err
	}

	var reg registry.Registry
	if cfg.Registry.Enable {
		if cfg.Server.AdvertiseAddr == "" {
			return errors.New("server.advertise_addr is required when the registry is enabled")
		}
		etcd, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, logger)
		if err != nil {
			return err
		}
		defer etcd.Close()
		reg = etcd
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	served := make(chan error, 1)
	go func() {
		served <- svr.Serve("tcp", listen, cfg.Server.AdvertiseAddr, reg, cfg.Registry.Service)
	}()

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout()))
	if err := svr.Shutdown(cfg.Server.ShutdownTimeout()); err != nil {
		return err
	}
	return <-served
}
