package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ifebuche/twifesh/internal/api"
	"github.com/ifebuche/twifesh/internal/apiclient"
	"github.com/ifebuche/twifesh/internal/archive"
	"github.com/ifebuche/twifesh/internal/batcher"
	"github.com/ifebuche/twifesh/internal/config"
	"github.com/ifebuche/twifesh/internal/enrich"
	"github.com/ifebuche/twifesh/internal/notify"
	"github.com/ifebuche/twifesh/internal/records"
	"github.com/ifebuche/twifesh/internal/rules"
	"github.com/ifebuche/twifesh/internal/session"
	"github.com/ifebuche/twifesh/internal/sink"
	slackalert "github.com/ifebuche/twifesh/internal/slack"
	"github.com/ifebuche/twifesh/internal/stats"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	keywords := os.Args[1:]
	if len(keywords) == 0 {
		slog.Error("usage: twifesh <keyword> [keyword ...]")
		os.Exit(2)
	}
	if cfg.BearerToken == "" {
		slog.Error("TWITTER_BEARER_TOKEN is required")
		os.Exit(1)
	}

	slog.Info("twifesh starting",
		"port", cfg.Port,
		"keywords", keywords,
		"enrich", cfg.Enrich,
		"persist", cfg.Persist,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: Shared signed API client and the session core.
	client := apiclient.New(cfg.APIBaseURL, cfg.BearerToken, cfg.DetailRatePerSec)
	ruleClient := rules.New(client)

	sess := session.New(client, ruleClient, session.Config{
		BackoffFloor:   cfg.BackoffFloor,
		BackoffCeiling: cfg.BackoffCeiling,
		ReplayCooldown: cfg.ReplayCooldown,
		ReplayBudget:   cfg.ReplayBudget,
		RateLimitPause: cfg.RateLimitPause,
	})

	if cfg.Enrich {
		sess.SetFetcher(enrich.New(client))
	}
	if cfg.Persist {
		sess.SetSinkOpener(func(kw []string, start time.Time) (session.Sink, error) {
			return sink.NewFile(cfg.OutDir, kw, start), nil
		})
	}

	collector := stats.New()
	sess.SetObserver(collector)

	// Step 2: Optional Postgres archive behind the batcher.
	var (
		db  archive.RecordStore
		bat *batcher.Batcher
	)
	if cfg.DatabaseURL != "" {
		store, err := archive.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		db = store

		bat = batcher.New(db, batcher.Config{
			FlushInterval:  cfg.BatchFlushInterval,
			FlushThreshold: cfg.BatchFlushThreshold,
			BufferMax:      cfg.BufferMaxSize,
		})
		bat.Start(ctx)
		slog.Info("archive enabled")
	}

	// Step 3: Optional NATS event bus. A nil bus is a no-op publisher.
	var bus *notify.Bus
	if cfg.NatsURL != "" {
		b, err := notify.Connect(ctx, cfg.NatsURL)
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer b.Close()
		bus = b
		slog.Info("event bus connected", "nats_url", cfg.NatsURL)
	}
	if bat != nil {
		bat.SetAlertPublisher(bus.PublishAlert)
	}

	// Conditionally create Slack alerter for session notifications.
	var alerter *slackalert.Alerter
	if cfg.SlackBotToken != "" && cfg.SlackAlertChannel != "" {
		alerter = slackalert.NewAlerter(cfg.SlackBotToken, cfg.SlackAlertChannel)
		slog.Info("Slack session alerter enabled", "channel", cfg.SlackAlertChannel)
	}

	sess.SetAlertPublisher(func(subject string, data []byte) error {
		if alerter != nil && subject == "twifesh.session.terminated" {
			if err := alerter.PostSessionAlert(ctx, subject, data); err != nil {
				slog.Warn("failed to post session alert to Slack", "error", err)
			}
		}
		return bus.PublishAlert(subject, data)
	})

	// Step 4: Fan delivered records out to the archive and the bus.
	sess.SetDeliveryHandler(func(rec records.Record) {
		if bat != nil {
			bat.Add(rec)
		}
		if err := bus.PublishRecord(ctx, rec); err != nil {
			slog.Warn("failed to publish record", "tweet_id", rec.TweetID, "error", err)
		}
	})

	// Step 5: Ops API.
	srv := api.NewServer(db, bat, ruleClient, sess.Snapshot, collector.Handler(), cfg.Port)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	// Step 6: Run the stream session until a terminal condition or an
	// operator interrupt.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	err := sess.Run(ctx, keywords)

	cancel()
	if bat != nil {
		bat.Wait()
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("session ended", "error", err)
		os.Exit(1)
	}
	slog.Info("twifesh stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
