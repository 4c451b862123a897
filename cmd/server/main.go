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

	"github.com/harman698/OnGoPool/api"
	"github.com/harman698/OnGoPool/internal/clock"
	"github.com/harman698/OnGoPool/internal/config"
	"github.com/harman698/OnGoPool/internal/domain/earnings"
	"github.com/harman698/OnGoPool/internal/domain/payments"
	"github.com/harman698/OnGoPool/internal/events"
	"github.com/harman698/OnGoPool/internal/handler"
	"github.com/harman698/OnGoPool/internal/helpers"
	"github.com/harman698/OnGoPool/internal/jobs"
	"github.com/harman698/OnGoPool/internal/notify"
	"github.com/harman698/OnGoPool/internal/rails/card"
	"github.com/harman698/OnGoPool/internal/rails/wallet"
	"github.com/harman698/OnGoPool/internal/storage/memory"
	"github.com/harman698/OnGoPool/internal/storage/postgres"
	"github.com/harman698/OnGoPool/internal/storage/redis"
	"github.com/harman698/OnGoPool/migrations"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type Server struct {
	holdsHandler    *handler.HoldsHandler
	earningsHandler *handler.EarningsHandler
	webhooksHandler *handler.WebhooksHandler
}

func (s *Server) PostV1Holds(w http.ResponseWriter, r *http.Request) {
	s.holdsHandler.PostV1Holds(w, r)
}

func (s *Server) GetV1HoldsAuthorizationId(w http.ResponseWriter, r *http.Request, authorizationId string) {
	s.holdsHandler.GetV1HoldsAuthorizationId(w, r, authorizationId)
}

func (s *Server) PostV1HoldsAuthorizationIdConfirm(w http.ResponseWriter, r *http.Request, authorizationId string) {
	s.holdsHandler.PostV1HoldsAuthorizationIdConfirm(w, r, authorizationId)
}

func (s *Server) PostV1HoldsAuthorizationIdRefund(w http.ResponseWriter, r *http.Request, authorizationId string) {
	s.holdsHandler.PostV1HoldsAuthorizationIdRefund(w, r, authorizationId)
}

func (s *Server) PostV1BookingsBookingIdResolve(w http.ResponseWriter, r *http.Request, bookingId string) {
	s.holdsHandler.PostV1BookingsBookingIdResolve(w, r, bookingId)
}

func (s *Server) PostV1BookingsBookingIdEarningAvailable(w http.ResponseWriter, r *http.Request, bookingId string) {
	s.earningsHandler.PostV1BookingsBookingIdEarningAvailable(w, r, bookingId)
}

func (s *Server) GetV1DriversDriverIdEarnings(w http.ResponseWriter, r *http.Request, driverId string) {
	s.earningsHandler.GetV1DriversDriverIdEarnings(w, r, driverId)
}

func (s *Server) PostV1DriversDriverIdPayouts(w http.ResponseWriter, r *http.Request, driverId string) {
	s.earningsHandler.PostV1DriversDriverIdPayouts(w, r, driverId)
}

func (s *Server) PostV1PayoutsPayoutIdStatus(w http.ResponseWriter, r *http.Request, payoutId string) {
	s.earningsHandler.PostV1PayoutsPayoutIdStatus(w, r, payoutId)
}

func (s *Server) PostWebhooksCard(w http.ResponseWriter, r *http.Request) {
	s.webhooksHandler.PostWebhooksCard(w, r)
}

func (s *Server) PostWebhooksWallet(w http.ResponseWriter, r *http.Request) {
	s.webhooksHandler.PostWebhooksWallet(w, r)
}

// paymentStores is the storage backend selected by STORAGE.
type paymentStores struct {
	payments interface {
		payments.Repository
		jobs.SweepRepository
		jobs.WebhookCleanupRepository
	}
	bookings payments.Bookings
	earnings earnings.Repository
	pinger   handler.Pinger
	close    func()
}

func openStores(ctx context.Context, cfg *config.Config, clk clock.Clock) (*paymentStores, error) {
	if cfg.Storage == "memory" {
		store := memory.NewStore(clk)
		log.Warn().Msg("Using in-memory storage, state is lost on restart")
		return &paymentStores{
			payments: store,
			bookings: store,
			earnings: store,
			close:    func() {},
		}, nil
	}

	db, err := postgres.NewDB(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := migrations.Apply(ctx, db.Pool); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	log.Info().Msg("Connected to PostgreSQL database")

	return &paymentStores{
		payments: postgres.NewAuthorizationRepository(db),
		bookings: postgres.NewBookingRepository(db),
		earnings: postgres.NewEarningRepository(db),
		pinger:   db,
		close:    db.Close,
	}, nil
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.NewSystem()

	stores, err := openStores(ctx, cfg, clk)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer stores.close()

	var (
		redisClient *redis.Client
		holdOpts    []payments.HoldOption
		settleOpts  []payments.SettlementOption
		sweeperOpts []jobs.SweeperOption
	)
	if cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Error().Err(err).Msg("Error closing Redis client")
			}
		}()
		log.Info().Msg("Connected to Redis")

		cache := redis.NewAuthorizationCache(redisClient)
		holdOpts = append(holdOpts, payments.WithHoldCache(cache))
		settleOpts = append(settleOpts, payments.WithSettlementCache(cache))
		sweeperOpts = append(sweeperOpts, jobs.WithLocker(redis.NewLocker(redisClient)))
	}

	var (
		providers  []payments.Provider
		cardRail   handler.CardWebhookParser
		walletRail handler.WalletWebhookParser
	)
	if cfg.StripeSecretKey != "" {
		cp := card.New(card.Config{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			BaseURL:       cfg.StripeBaseURL,
			Timeout:       cfg.ProviderTimeout,
		})
		providers = append(providers, cp)
		cardRail = cp
	}
	if cfg.WalletBaseURL != "" {
		wc := wallet.NewClient(wallet.Config{
			BaseURL:      cfg.WalletBaseURL,
			ClientID:     cfg.WalletClientID,
			ClientSecret: cfg.WalletClientSecret,
			WebhookID:    cfg.WalletWebhookID,
			Timeout:      cfg.ProviderTimeout,
		})
		providers = append(providers, wc)
		walletRail = wc
	}
	if len(providers) == 0 {
		log.Fatal().Msg("No payment rail configured")
	}
	rails := payments.NewProviders(providers...)

	fee, err := cfg.ServiceFee()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid service fee")
	}
	settleOpts = append(settleOpts,
		payments.WithServiceFee(fee),
		payments.WithMaxVoidAttempts(cfg.MaxVoidAttempts),
	)

	var notifyWorker *notify.Worker
	if cfg.RedisURL != "" {
		redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid REDIS_URL for task queue")
		}
		taskClient := asynq.NewClient(redisOpt)
		defer taskClient.Close()
		settleOpts = append(settleOpts, payments.WithNotifier(notify.NewNotifier(taskClient, cfg.NotificationQueue)))

		notifyWorker = notify.NewWorker(redisOpt, cfg.NotificationQueue, 5, notify.LogSender{})
		if err := notifyWorker.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start notification worker")
		}
		defer notifyWorker.Shutdown()
	}

	brokers := cfg.Brokers()
	if len(brokers) > 0 {
		producer, err := events.NewProducer(brokers, cfg.SettlementTopic)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Kafka producer")
		}
		defer producer.Close()
		settleOpts = append(settleOpts, payments.WithPublisher(producer))
	}

	earningsService := earnings.NewService(stores.earnings, clk)
	holdCoordinator := payments.NewHoldCoordinator(stores.payments, stores.bookings, rails, clk,
		append(holdOpts, payments.WithResponseWindow(cfg.ResponseWindow))...)
	settlementEngine := payments.NewSettlementEngine(stores.payments, stores.bookings, rails, earningsService, clk, settleOpts...)
	reconciler := payments.NewReconciler(stores.payments, stores.bookings, holdCoordinator, settlementEngine)

	sweeper := jobs.NewExpirySweeper(stores.payments, settlementEngine, clk, jobs.SweeperConfig{
		Interval:        cfg.SweepInterval,
		BatchSize:       cfg.SweepBatchSize,
		ApprovalTimeout: cfg.ApprovalTimeout,
		RateLimit:       cfg.ProviderRateLimit,
	}, sweeperOpts...)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	cleanupJob := jobs.NewWebhookCleanupJob(stores.payments, clk, cfg.WebhookRetention, cfg.CleanupInterval, 500)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &Server{
		holdsHandler:    handler.NewHoldsHandler(holdCoordinator, settlementEngine),
		earningsHandler: handler.NewEarningsHandler(earningsService),
		webhooksHandler: handler.NewWebhooksHandler(reconciler, cardRail, card.SignatureHeader, walletRail),
	}

	swagger, err := api.GetSwagger()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load OpenAPI document")
	}
	validator, err := helpers.OpenAPIValidator(swagger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build request validator")
	}

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		helpers.RequestLoggerWithBody,
		validator,
	)
	if cfg.JWTSecret != "" {
		router.Use(helpers.RequireServiceToken([]byte(cfg.JWTSecret), "/webhooks/", "/health"))
	} else {
		log.Warn().Msg("JWT_SECRET is empty, service token check disabled")
	}

	router.Method(http.MethodGet, "/health", handler.NewHealthHandler(stores.pinger, sweeper, clk))

	addr := fmt.Sprintf(":%s", cfg.Port)

	srv := &http.Server{
		Addr:           addr,
		Handler:        api.HandlerFromMux(server, router),
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	g, gctx := errgroup.WithContext(ctx)

	if len(brokers) > 0 {
		consumer, err := events.NewDecisionConsumer(brokers, cfg.KafkaGroupID, cfg.DecisionTopic,
			events.NewDecisionHandler(settlementEngine, 3, 500*time.Millisecond))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Kafka consumer")
		}
		defer consumer.Close()
		g.Go(func() error {
			return consumer.Run(gctx)
		})
	}

	g.Go(func() error {
		log.Info().Str("addr", addr).Str("storage", cfg.Storage).Msg("Payment service starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info().Msg("Shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Service stopped with error")
	}
}
