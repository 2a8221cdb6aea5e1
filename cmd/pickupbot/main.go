package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"pickup-bot/internal/bot"
	"pickup-bot/internal/config"
	"pickup-bot/internal/conversation"
	"pickup-bot/internal/httpapi"
	"pickup-bot/internal/logger"
	"pickup-bot/internal/notify"
	"pickup-bot/internal/payment"
	"pickup-bot/internal/repository"
	"pickup-bot/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.New().Fatalf("config: %v", err)
	}

	log := logger.New()
	if cfg.Log.Development {
		log = logger.NewDevelopment()
	}
	defer func() { _ = log.Sync() }()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatalw("pickup bot stopped with error", "error", err)
	}
	log.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, log *logger.Logger) error {
	loc, err := cfg.Slots.Location()
	if err != nil {
		return err
	}

	db, err := repository.NewDB(repository.Options{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN, Logger: log})
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	userRepo := repository.NewUserRepository(db, log)
	subRepo := repository.NewSubscriptionRepository(db)
	orderRepo := repository.NewOrderRepository(db)

	api, err := bot.NewAPI(cfg.Telegram.Token, cfg.Telegram.Debug, log)
	if err != nil {
		return err
	}

	notifier, closeNotifier, err := newNotifier(cfg, api, loc, log)
	if err != nil {
		return err
	}
	defer closeNotifier()

	sessionOpts, closeStore, err := newSessionOptions(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	slots := service.NewSlotPolicy(cfg.Slots.MorningCutoffHour, cfg.Slots.MorningLabel, cfg.Slots.EveningLabel, loc)
	engine := conversation.NewEngine(subRepo, orderRepo, slots, notifier, append(sessionOpts,
		conversation.WithIdleTimeout(cfg.Session.IdleTimeout),
		conversation.WithLogger(log),
	)...)

	catalog := service.NewCatalog(cfg.Payment.Currency, cfg.Plans)
	subscriptionSvc := service.NewSubscriptionService(subRepo, newGateway(cfg, log), catalog, cfg.Payment.Timeout, log)
	orderSvc := service.NewOrderService(orderRepo, notifier, log)
	digestSvc := service.NewDigestService(orderRepo, loc)

	telegramBot, err := bot.New(api, nil, bot.Deps{
		Users:         userRepo,
		Engine:        engine,
		Subscriptions: subscriptionSvc,
		Orders:        orderRepo,
		OrderService:  orderSvc,
		Digest:        digestSvc,
	}, &cfg, log)
	if err != nil {
		return fmt.Errorf("bot: %w", err)
	}

	scheduler := service.NewSchedulerService(loc, log)
	if cfg.Session.SweepInterval > 0 {
		if _, err := scheduler.ScheduleInterval("session sweep", cfg.Session.SweepInterval, func() {
			jobCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			n, err := engine.Sweep(jobCtx)
			if err != nil {
				log.Warnw("session sweep", "error", err)
				return
			}
			if n > 0 {
				log.Infow("expired sessions discarded", "count", n)
			}
		}); err != nil {
			return fmt.Errorf("schedule session sweep: %w", err)
		}
	}
	if cfg.Operator.DigestTime != "" {
		if _, err := scheduler.ScheduleDaily("operator digest", cfg.Operator.DigestTime, func() {
			jobCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := telegramBot.SendDigest(jobCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorw("operator digest", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("schedule digest: %w", err)
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	if cfg.HTTP.Addr != "" {
		if !cfg.Log.Development {
			gin.SetMode(gin.ReleaseMode)
		}
		router := httpapi.NewRouter(httpapi.Services{
			Orders:        orderSvc,
			Digest:        digestSvc,
			Subscriptions: subscriptionSvc,
			Users:         userRepo,
		}, cfg.HTTP.OperatorToken, log)
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Infow("operator api listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorw("operator api", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warnw("operator api shutdown", "error", err)
			}
		}()
	}

	log.Infow("pickup bot started", "plans", len(catalog.Plans()), "session_store", cfg.Session.Store)
	if err := telegramBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newGateway(cfg config.Config, log *logger.Logger) payment.Gateway {
	if cfg.Payment.Provider == "stripe" {
		return payment.NewStripeGateway(payment.StripeConfig{
			SecretKey:     cfg.Payment.StripeSecretKey,
			PaymentMethod: cfg.Payment.StripePaymentMethod,
		}, log)
	}
	log.Warn("payment provider is demo: every purchase succeeds without a charge")
	return payment.NewDemoGateway()
}

// newNotifier always reports to the operator chat and, when configured, to AMQP.
func newNotifier(cfg config.Config, out bot.Sender, loc *time.Location, log *logger.Logger) (notify.Notifier, func(), error) {
	telegram := bot.NewOperatorNotifier(out, cfg.Operator.ChatID, loc, log)
	if cfg.AMQP.URL == "" {
		return telegram, func() {}, nil
	}

	publisher, err := notify.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Queue)
	if err != nil {
		return nil, nil, err
	}
	log.Infow("order events published to amqp", "queue", cfg.AMQP.Queue)
	return notify.Multi{telegram, publisher}, func() {
		if err := publisher.Close(); err != nil {
			log.Warnw("close amqp publisher", "error", err)
		}
	}, nil
}

// newSessionOptions picks the session store. The redis store also gets a redis lock
// so instances sharing it never run the same user's transitions at once.
func newSessionOptions(ctx context.Context, cfg config.Config) ([]conversation.Option, func(), error) {
	if cfg.Session.Store != "redis" {
		return []conversation.Option{conversation.WithStore(conversation.NewMemoryStore())}, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return []conversation.Option{
		conversation.WithStore(conversation.NewRedisStore(client, "", cfg.Session.IdleTimeout)),
		conversation.WithLocker(conversation.NewRedisLocker(client, "")),
	}, func() { _ = client.Close() }, nil
}
