package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/cache/redisstore"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/core/config"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/core/health"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/core/server"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/hotevents"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/logger"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/metrics"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/pkg/hotkey"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/pkg/invalidation/kafka"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.FromEnv()
	if err != nil {
		zl := logger.Build(logger.Config{Level: "error"}, os.Stderr)
		zl.Error().Err(err).Msg("invalid configuration")
		return 2
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "hotkey",
		Component: "server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mp := metrics.Init(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Addr:    cfg.Metrics.Addr,
		Path:    cfg.Metrics.Path,
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})

	store, err := redisstore.New(ctx, cfg.RedisAddr)
	if err != nil {
		appLog.Error("redis connect failed", "addr", cfg.RedisAddr, "err", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	origin := instanceID()
	opts := []hotkey.Option{hotkey.WithLogger(appLog)}

	if cfg.Events.Enabled {
		ev, err := hotevents.NewPublisher(cfg.Events.Brokers, cfg.Events.Topic, cfg.Events.QueueSize, appLog)
		if err != nil {
			appLog.Error("event publisher setup failed", "err", err)
			return 1
		}
		defer func() { _ = ev.Close() }()
		opts = append(opts, hotkey.WithEvents(ev))
	}

	icfg := kafka.DefaultConfig()
	icfg.Enabled = cfg.Invalidation.Enabled
	icfg.Brokers = cfg.Invalidation.Brokers
	icfg.Topic = cfg.Invalidation.Topic
	// every instance must see every change, so each one gets its own group
	icfg.GroupID = cfg.Invalidation.GroupID + "-" + origin
	icfg.Origin = origin

	if icfg.Enabled {
		pub, err := kafka.NewPublisher(icfg, 1024, appLog)
		if err != nil {
			appLog.Error("invalidation publisher setup failed", "err", err)
			return 1
		}
		defer func() { _ = pub.Close() }()
		opts = append(opts, hotkey.WithNotifier(pub))
	}

	client := hotkey.New(hotkey.FromConfig(cfg), store, opts...)
	defer func() { _ = client.Close() }()

	runner := kafka.New(icfg, client, kafka.Options{Logger: appLog, Register: mp.Registerer()})
	if err := runner.Start(ctx); err != nil {
		appLog.Error("invalidation runner start failed", "err", err)
		return 1
	}
	defer runner.Stop()

	if err := client.Start(ctx); err != nil {
		appLog.Error("hotkey start failed", "err", err)
		return 1
	}

	appLog.Info("starting hotkey server",
		"addr", cfg.Addr,
		"version", Version,
		"redis", cfg.RedisAddr,
		"enabled", cfg.Enabled,
		"origin", origin)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mp.Serve(gctx) })
	g.Go(func() error {
		return server.Run(gctx, cfg.Addr, appLog, server.Deps{
			Service: client,
			Ready:   health.All(health.PingReporter{Pinger: store, Timeout: cfg.StoreTimeout}, runner),
			Metrics: mp,
		})
	})

	if err := g.Wait(); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	client.LogInfo()
	appLog.Info("server stopped")
	return 0
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "hotkey"
	}
	return host + "-" + logger.NewID()[:8]
}
