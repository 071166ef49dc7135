package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/e-zhydzetski/telemetry-stream/pkg/config"
	"github.com/e-zhydzetski/telemetry-stream/pkg/ratelimit"
	"github.com/e-zhydzetski/telemetry-stream/pkg/status"
	"github.com/e-zhydzetski/telemetry-stream/pkg/stream"
	"github.com/e-zhydzetski/telemetry-stream/pkg/xhttp"
	"github.com/e-zhydzetski/telemetry-stream/pkg/xwebsocket"
)

var serveFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to YAML config file",
		EnvVars: []string{"TELEMETRY_CONFIG"},
	},
	&cli.DurationFlag{
		Name:  "interval",
		Usage: "pause between samples of one session",
	},
	&cli.StringFlag{
		Name:    "status-addr",
		Usage:   "serve the status API on this address",
		EnvVars: []string{"TELEMETRY_STATUS_ADDR"},
	},
	&cli.BoolFlag{
		Name:  "admission",
		Usage: "limit new sessions per remote host",
	},
	&cli.StringFlag{
		Name:    "redis-url",
		Usage:   "share the admission window through redis",
		EnvVars: []string{"TELEMETRY_REDIS_URL"},
	},
	&cli.StringFlag{
		Name:  "log-level",
		Usage: "debug, info, warn or error",
	},
	&cli.StringFlag{
		Name:  "log-format",
		Usage: "text or json",
	},
}

// loadConfig layers defaults, the config file, flags and the address argument, in that order.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if c.IsSet("interval") {
		cfg.Stream.Interval = c.Duration("interval")
	}
	if c.IsSet("status-addr") {
		cfg.Status.Addr = c.String("status-addr")
	}
	if c.IsSet("admission") {
		cfg.Admission.Enabled = c.Bool("admission")
	}
	if c.IsSet("redis-url") {
		cfg.Admission.RedisURL = c.String("redis-url")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = c.String("log-format")
	}
	if addr := c.Args().First(); addr != "" {
		cfg.Listen = addr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log := cfg.Log.NewLogger(os.Stderr)

	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	if _, err := start(ctx, g, cfg, log); err != nil {
		return err
	}
	err = g.Wait()
	log.Info("stopped", "err", err)
	return err
}

// start binds everything cfg asks for; the returned server is already accepting.
func start(ctx context.Context, g *errgroup.Group, cfg *config.Config, log *slog.Logger) (*xwebsocket.Server, error) {
	opts := []xwebsocket.ServerOption{
		xwebsocket.ServerLogger(log),
		xwebsocket.ServerHandshakeTimeout(cfg.HandshakeTimeout),
		xwebsocket.ServerWriteTimeout(cfg.Stream.WriteTimeout),
	}
	if cfg.Admission.Enabled {
		admitter, err := newAdmitter(ctx, g, cfg.Admission, log)
		if err != nil {
			return nil, err
		}
		opts = append(opts, xwebsocket.ServerAdmission(admitter))
	}

	factory := stream.NewSessionFactory(stream.Options{
		Interval: cfg.Stream.Interval,
		Logger:   log,
	})
	srv, err := xwebsocket.StartSimpleServer(ctx, g, cfg.Listen, factory, opts...)
	if err != nil {
		return nil, err
	}

	if cfg.Status.Addr != "" {
		if _, err := xhttp.StartServer(ctx, g, cfg.Status.Addr, status.NewHandler(srv, log), log); err != nil {
			return nil, err
		}
	}
	return srv, nil
}

func newAdmitter(ctx context.Context, g *errgroup.Group, cfg config.AdmissionConfig, log *slog.Logger) (*ratelimit.Admitter, error) {
	if cfg.RedisURL == "" {
		log.Info("admission control in memory", "limit", cfg.Limit, "window", cfg.Window)
		return ratelimit.NewAdmitter(ratelimit.NewMemoryStrategy(time.Now), cfg.Limit, cfg.Window), nil
	}

	options, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("admission.redis_url: %w", err)
	}
	client := redis.NewClient(options)
	g.Go(func() error {
		<-ctx.Done()
		return client.Close()
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		// checks fail open, so the server still starts
		log.Warn("redis unreachable, admission checks will let connections in", "err", err)
	}
	log.Info("admission control in redis", "addr", options.Addr, "limit", cfg.Limit, "window", cfg.Window)
	return ratelimit.NewAdmitter(ratelimit.NewRedisStrategy(client, time.Now), cfg.Limit, cfg.Window), nil
}
