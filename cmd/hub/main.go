// cmd/hub/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"corretor-hub/internal/channel"
	"corretor-hub/internal/common/config"
	"corretor-hub/internal/common/database"
	"corretor-hub/internal/common/logger"
	"corretor-hub/internal/common/observability"
	"corretor-hub/internal/external"
	"corretor-hub/internal/ingest"
	"corretor-hub/internal/matcher"
	"corretor-hub/internal/orchestrator"
	"corretor-hub/internal/registry"
	"corretor-hub/internal/reminder"
	"corretor-hub/internal/scheduler"
	"corretor-hub/internal/store"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting conversation hub...")

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Init PostgreSQL with retry (optional: in-memory store without it) ---
	var stores *store.Stores
	if cfg.Database.Postgres.Host != "" {
		var pg *database.PostgresClient
		err = retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()
		zapLog.Info("PostgreSQL connected successfully")
		stores = store.NewPostgresStores(pg.GetDB(), log)
	} else {
		zapLog.Warn("no postgres configured, using in-memory stores")
		stores = store.NewMemoryStores()
	}

	// --- Init Redis with retry (optional) ---
	var redisClient *database.RedisClient
	if cfg.Database.Redis.Address != "" {
		err = retryWithBackoff(func() error {
			var err error
			redisClient, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return redisClient.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer redisClient.Close()
		zapLog.Info("Redis connected successfully")
	}

	// --- Init Elasticsearch with retry (optional) ---
	var propertyIndex *ingest.PropertyIndex
	if cfg.Database.Elasticsearch.Enabled {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping()
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		zapLog.Info("Elasticsearch connected successfully")
		propertyIndex = ingest.NewPropertyIndex(esClient.Client, cfg.Database.Elasticsearch.IndexPrefix, log)
	}

	// --- External ports ---
	classifier := external.NewHTTPClassifier(cfg.Classifier, log)
	calendar := external.NewHTTPCalendar(cfg.Calendar, log)

	sender, err := external.NewAWSNotifier(ctx, cfg.Notifications, log)
	if err != nil {
		zapLog.Fatal("notifier init failed", zap.Error(err))
	}

	// --- Core components ---
	var reg *registry.Registry
	var deduper orchestrator.Deduper
	if redisClient != nil {
		reg = registry.New(stores.Tenants, redisClient.GetClient(), log)
		deduper = orchestrator.NewRedisDeduper(redisClient.GetClient(), cfg.Channel.DedupeTTL)
	} else {
		reg = registry.New(stores.Tenants, nil, log)
		deduper = orchestrator.NewMemoryDeduper(cfg.Channel.DedupeTTL)
	}

	matchEngine := matcher.New()
	sched := scheduler.New(cfg.Calendar, calendar, stores.Appointments, log)
	orch := orchestrator.New(cfg.Classifier, reg, stores, matchEngine, sched, classifier, sender, deduper, obs, log)
	ingestSvc := ingest.NewService(stores, propertyIndex, log)
	dispatcher := reminder.NewDispatcher(cfg.Reminders, stores, sender, obs, log)

	// --- Background loops ---
	go dispatcher.Run(ctx)

	go func() {
		ticker := time.NewTicker(cfg.Reminders.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				orch.SweepInactive(ctx)
			}
		}
	}()

	consumer := channel.NewConsumer(cfg.Channel, orch, ingestSvc, log)
	go consumer.RunMessages(ctx)
	go consumer.RunListings(ctx)

	// --- Health & Metrics Server ---
	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "healthy",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "ready",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.Handle("/metrics", promhttp.Handler())
		zapLog.Info("Health/Metrics server listening", zap.String("addr", cfg.App.MetricsAddr))
		if err := http.ListenAndServe(cfg.App.MetricsAddr, nil); err != nil {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping...")
	cancel()

	if err := consumer.Close(); err != nil {
		zapLog.Error("Error closing channel consumer", zap.Error(err))
	}

	zapLog.Info("Shutdown complete")
}
