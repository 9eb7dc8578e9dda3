package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/herald/internal/api"
	"github.com/MikeSquared-Agency/herald/internal/bus"
	"github.com/MikeSquared-Agency/herald/internal/config"
	"github.com/MikeSquared-Agency/herald/internal/extractor"
	"github.com/MikeSquared-Agency/herald/internal/feishu"
	"github.com/MikeSquared-Agency/herald/internal/goals"
	"github.com/MikeSquared-Agency/herald/internal/poller"
	"github.com/MikeSquared-Agency/herald/internal/processor"
	"github.com/MikeSquared-Agency/herald/internal/qwen"
	"github.com/MikeSquared-Agency/herald/internal/report"
	"github.com/MikeSquared-Agency/herald/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("herald starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	var storage store.Sink
	switch cfg.StorageDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			slog.Error("DATABASE_URL is required for the postgres driver")
			os.Exit(1)
		}
		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL, slog.Default())
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		storage = pg
		slog.Info("database connected")
	case "csv":
		csvSink, err := store.NewCSV(cfg.CSVPath, slog.Default())
		if err != nil {
			slog.Error("failed to open csv storage", "path", cfg.CSVPath, "error", err)
			os.Exit(1)
		}
		storage = csvSink
		slog.Info("csv storage ready", "path", cfg.CSVPath)
	default:
		slog.Error("unknown storage driver", "driver", cfg.StorageDriver)
		os.Exit(1)
	}
	defer storage.Close()

	// Goal source
	var goalSource goals.Source
	var goalCache *goals.Cache
	switch cfg.OKRSource {
	case "cache":
		goalCache = goals.NewCache(cfg.OKRCachePath, slog.Default())
		goalSource = goalCache
		slog.Info("goal cache ready", "path", cfg.OKRCachePath)
	default:
		slog.Warn("goal source has no backend, briefs unavailable", "source", cfg.OKRSource)
		goalSource = goals.NewUnavailable(slog.Default())
	}

	// Model client (optional — without a key every report takes the
	// offline fallback path)
	var llm *qwen.Client
	if cfg.DashscopeAPIKey != "" {
		llm = qwen.NewClient(cfg.DashscopeAPIKey, cfg.QwenModel, qwen.Mode(cfg.QwenAPIMode))
		slog.Info("qwen client ready", "model", cfg.QwenModel, "mode", cfg.QwenAPIMode)
	} else {
		slog.Warn("DASHSCOPE_API_KEY not set — running in offline extract mode")
	}
	ext := extractor.New(llm, cfg.MaxRetries, time.Duration(cfg.RequestTimeoutSeconds)*time.Second, slog.Default())

	// Card delivery (optional)
	var delivery *feishu.Client
	if cfg.FeishuAppID != "" && cfg.FeishuAppSecret != "" {
		delivery = feishu.NewClient(cfg.FeishuAppID, cfg.FeishuAppSecret, cfg.FeishuDefaultChatID,
			time.Duration(cfg.RequestTimeoutSeconds)*time.Second, slog.Default())
		slog.Info("feishu client ready", "chat_configured", cfg.FeishuDefaultChatID != "")
	} else {
		slog.Warn("feishu app credentials not set — cards will not be delivered")
	}

	// Message bus (optional)
	var busClient *bus.Client
	if cfg.NatsURL != "" {
		var err error
		busClient, err = bus.NewClient(cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer busClient.Close()
		slog.Info("NATS connected", "url", cfg.NatsURL)
	}

	// Processor — the main pipeline
	var deliverySink processor.DeliverySink
	if delivery != nil {
		deliverySink = delivery
	}
	var publisher processor.Publisher
	if busClient != nil {
		publisher = busClient
	}
	proc := processor.New(goalSource, ext, storage, deliverySink, publisher, cfg.FeishuVerificationToken, slog.Default())

	if busClient != nil {
		if err := busClient.Subscribe(bus.SubjectReportSubmitted, proc.HandleReportSubmitted); err != nil {
			slog.Error("failed to subscribe to report submissions", "error", err)
			os.Exit(1)
		}
	}

	// Scheduled report sync (optional)
	if cfg.ReportSyncEnabled {
		if delivery == nil {
			slog.Warn("report sync enabled but feishu credentials missing — sync disabled")
		} else {
			rules := make([]poller.Rule, 0, len(cfg.ReportRules))
			for _, rule := range cfg.ReportRules {
				rules = append(rules, poller.Rule{ID: rule.RuleID, Period: report.PeriodType(rule.Period)})
			}
			var goalSync poller.GoalSyncer
			var reloader poller.Reloader
			if goalCache != nil {
				reloader = goalCache
				if len(cfg.OKRIDs) > 0 {
					goalSync = goals.NewSyncer(delivery, cfg.OKRCachePath, cfg.OKRIDs, cfg.OKROwnerOverrides, slog.Default())
					slog.Info("okr sync configured", "okr_ids", len(cfg.OKRIDs))
				} else {
					slog.Warn("FEISHU_OKR_IDS not set — goal cache will not be refreshed")
				}
			}
			sync := poller.New(delivery, proc, goalSync, reloader, rules, cfg.ReportSyncTime,
				time.Duration(cfg.ReportLookbackHours)*time.Hour, cfg.ReportStatePath, slog.Default())
			go sync.Run(ctx)
			slog.Info("report sync scheduled", "time", cfg.ReportSyncTime, "rules", len(rules))
		}
	}

	// HTTP API
	srv := api.NewServer(cfg.Port, proc, cfg.FeishuVerificationToken, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("herald ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	slog.Info("herald stopped")
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
