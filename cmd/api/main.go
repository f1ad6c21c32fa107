package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/campuskit/notify/internal/cache"
	"github.com/campuskit/notify/internal/channel"
	"github.com/campuskit/notify/internal/config"
	"github.com/campuskit/notify/internal/database"
	"github.com/campuskit/notify/internal/directory"
	"github.com/campuskit/notify/internal/metrics"
	"github.com/campuskit/notify/internal/modules/notification"
	"github.com/campuskit/notify/internal/server"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Options for the CLI.
type Options struct {
	Port int `help:"Port to listen on" short:"p"`
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, options *Options) {
		// Use a structured logger
		logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
		cfg := config.Load()
		if cfg == nil {
			logger.Error("failed to load configuration")
			os.Exit(1)
		}
		logger.Info("configuration loaded successfully", "env", cfg.Server.Env)

		// --- Database & Cache ---
		dbPool := database.NewPostgresPool(cfg.Database.URL)
		if dbPool == nil {
			logger.Error("failed to connect to postgres")
			os.Exit(1)
		}
		hooks.OnStop(dbPool.Close)
		logger.Info("successfully connected to postgres database")
		redisClient := cache.NewRedisClient(cfg.Redis.URL)
		if redisClient == nil {
			logger.Error("failed to connect to redis")
			os.Exit(1)
		}
		hooks.OnStop(func() { redisClient.Close() })
		logger.Info("successfully connected to redis")

		// --- Metrics ---
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m := metrics.New(registry)

		// --- Channel adapters ---
		// Channels without credentials get a disabled adapter that fails every
		// delivery permanently instead of reaching a half-configured gateway.
		adapters := []channel.Adapter{channel.NewInAppAdapter(logger)}
		if cfg.SMTP.Host != "" {
			adapters = append(adapters, channel.NewEmailAdapter(
				cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From, logger))
		} else {
			adapters = append(adapters, channel.NewDisabledAdapter(channel.Email, "email transport is not configured"))
		}
		if cfg.SMS.AccountSID != "" {
			adapters = append(adapters, channel.NewSMSAdapter(
				cfg.SMS.BaseURL, cfg.SMS.AccountSID, cfg.SMS.AuthToken, cfg.SMS.From, logger))
		} else {
			adapters = append(adapters, channel.NewDisabledAdapter(channel.SMS, "sms gateway is not configured"))
		}
		if cfg.Push.ServerKey != "" {
			adapters = append(adapters, channel.NewPushAdapter(cfg.Push.Endpoint, cfg.Push.ServerKey, logger))
		} else {
			adapters = append(adapters, channel.NewDisabledAdapter(channel.Push, "push gateway is not configured"))
		}

		// --- Notification Module (Bottom-Up) ---
		repo := notification.NewRepository(dbPool)
		dispatcher := notification.NewDispatcher(repo, adapters, notification.DispatcherConfig{
			Workers:     cfg.Dispatch.Workers,
			QueueSize:   cfg.Dispatch.QueueSize,
			MaxAttempts: cfg.Dispatch.MaxAttempts,
			BackoffBase: cfg.Dispatch.BackoffBase,
		}, logger, m)

		svc := notification.NewService(&notification.Config{
			Repo:       repo,
			Dispatcher: dispatcher,
			Cache:      redisClient,
			Logger:     logger,
		})
		batches := notification.NewBatchService(repo, directory.NewPG(dbPool), dispatcher, logger)
		sweeper := notification.NewSweeper(repo, dispatcher, notification.SweeperConfig{
			Interval:  cfg.Sweeper.Interval,
			BatchSize: cfg.Sweeper.BatchSize,
		}, logger, m)

		handler := notification.NewHandler(svc, batches, logger)
		router := server.New(cfg, logger, handler, registry)

		ctx, cancel := context.WithCancel(context.Background())
		hooks.OnStart(func() {
			dispatcher.Start(ctx)
			go sweeper.Run(ctx)
			logger.Info(fmt.Sprintf("Starting server on port %d...", options.Port))
			if err := http.ListenAndServe(fmt.Sprintf(":%d", options.Port), router); err != nil {
				slog.Error("Server failed to start", "error", err)
				os.Exit(1)
			}
		})
		hooks.OnStop(func() {
			cancel()
			dispatcher.Wait()
		})
	})
	cli.Run()
}
