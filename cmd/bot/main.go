package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/Didihazan/WhatsApp-Bot/internal/api"
	"github.com/Didihazan/WhatsApp-Bot/internal/cache"
	"github.com/Didihazan/WhatsApp-Bot/internal/config"
	"github.com/Didihazan/WhatsApp-Bot/internal/dispatch"
	"github.com/Didihazan/WhatsApp-Bot/internal/events"
	"github.com/Didihazan/WhatsApp-Bot/internal/notify"
	"github.com/Didihazan/WhatsApp-Bot/internal/repo"
	"github.com/Didihazan/WhatsApp-Bot/internal/schedule"
	"github.com/Didihazan/WhatsApp-Bot/internal/session"
	"github.com/Didihazan/WhatsApp-Bot/internal/transport/whatsapp"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("pgx", cfg.Database.PostgresURL)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		log.Fatal(err)
	}
	cancel()

	tenants := repo.NewPostgresTenantRepo(db)

	factory := whatsapp.NewFactory(cfg.WhatsApp.SessionDir, cfg.WhatsApp.DeviceName)
	sessions := session.NewManager(factory, tenants, cfg.WhatsApp.ConnectTimeout)

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		sessions.WithPairingCache(cache.NewRedisCache(rdb, cfg.Redis.TTL))
	}

	dispatcher := dispatch.NewDispatcher(sessions, tenants, cfg.WhatsApp.MediaDir, cfg.WhatsApp.CountryCode)
	sched := schedule.NewService(tenants, dispatcher, sessions, cfg.Scheduler.SendDelay)

	var notifier *notify.WebhookNotifier
	if cfg.Notify.Enabled {
		notifier = notify.NewWebhookNotifier(cfg.Notify.WebhookURL)
	}

	var publisher events.Publisher
	if cfg.Events.Enabled {
		publisher, err = events.NewPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange)
		if err != nil {
			log.Fatal(err)
		}
		defer publisher.Close()
	}

	if publisher != nil {
		sessions.WithTransitionHook(func(tenantID string, connected bool) {
			key := events.KeySessionConnected
			if !connected {
				key = events.KeySessionDisconnected
			}
			hookCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			payload := map[string]any{"tenantId": tenantID, "connected": connected}
			if err := publisher.Publish(hookCtx, key, payload); err != nil {
				slog.Warn("session event publish failed", "tenant", tenantID, "error", err)
			}
		})
	}

	if notifier != nil || publisher != nil {
		sched.WithBatchHook(func(tenantID string, sum schedule.BatchSummary) {
			hookCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if notifier != nil {
				if err := notifier.BatchCompleted(hookCtx, sum); err != nil {
					slog.Warn("batch webhook failed", "tenant", tenantID, "error", err)
				}
			}
			if publisher != nil {
				if err := publisher.Publish(hookCtx, events.KeyBroadcastCompleted, sum); err != nil {
					slog.Warn("batch event publish failed", "tenant", tenantID, "error", err)
				}
			}
		})
	}

	if err := sched.Init(ctx); err != nil {
		log.Fatal(err)
	}

	handler := api.NewHandler(sessions, dispatcher, sched, tenants)
	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: api.Router(handler),
	}

	go func() {
		slog.Info("http server listening", "addr", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	sched.StopAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}
}
