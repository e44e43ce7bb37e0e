package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/iliyamo/content-license-server/internal/app"
	"github.com/iliyamo/content-license-server/internal/client"
	"github.com/iliyamo/content-license-server/internal/config"
	"github.com/iliyamo/content-license-server/internal/handler"
	"github.com/iliyamo/content-license-server/internal/middleware"
	"github.com/iliyamo/content-license-server/internal/payment"
	"github.com/iliyamo/content-license-server/internal/queue"
	"github.com/iliyamo/content-license-server/internal/ratelimit"
	"github.com/iliyamo/content-license-server/internal/revocation"
	"github.com/iliyamo/content-license-server/internal/router"
	"github.com/iliyamo/content-license-server/internal/service"
	"github.com/iliyamo/content-license-server/internal/session"
	"github.com/iliyamo/content-license-server/internal/token"
)

func main() {
	_ = godotenv.Load() // .env is optional
	cfg := config.Load()
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := app.OpenStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open stores")
	}
	defer stores.Close()

	secret, err := token.LoadSecret(ctx, stores.Settings, cfg.TokenSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("load token secret")
	}
	codec, err := token.NewCodec(cfg.TokenCodec, secret)
	if err != nil {
		log.Fatal().Err(err).Msg("token codec")
	}
	clients, err := client.NewRegistry(stores.Clients, cfg.BcryptCost, log)
	if err != nil {
		log.Fatal().Err(err).Msg("client registry")
	}

	proofSecret := []byte(cfg.PaymentProofSecret)
	if len(proofSecret) == 0 {
		proofSecret = secret
	}
	signer := payment.NewProofSigner(proofSecret, payment.DefaultProofTTL)
	payments := payment.NewRegistry(payment.NewStripe(cfg.Stripe, signer, log))
	for _, p := range payments.Available() {
		log.Info().Str("processor", p.ID()).Msg("payment processor available")
	}

	svc := service.New(service.Dependencies{
		Licenses:          stores.Licenses,
		Clients:           clients,
		Codec:             codec,
		Revocations:       revocation.NewRegistry(stores.Tokens, log),
		Limiter:           ratelimit.NewLimiter(stores.Counters, config.LoadRateLimitConfig(), log),
		Sessions:          session.NewManager(stores.Sessions, cfg.SessionTTL, log),
		Payments:          payments,
		Logger:            log,
		ServerURL:         cfg.ServerURL,
		TokenTTL:          cfg.TokenTTL,
		Scope:             cfg.TokenScope,
		PersistFreeTokens: cfg.PersistFreeTokens,
	})

	// Payment events go through RabbitMQ when configured so webhook
	// deliveries are acknowledged before they are applied.
	var sink queue.EventSink = queue.InlineSink{Handler: svc}
	if cfg.AMQPURL != "" {
		pub := queue.NewPublisher(cfg.AMQPURL, cfg.PaymentEventsQueue, log)
		defer pub.Close()
		sink = pub
		cons := queue.NewConsumer(cfg.AMQPURL, cfg.PaymentEventsQueue, svc, log)
		go func() {
			if err := cons.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("payment event consumer stopped")
			}
		}()
	}

	go cleanupLoop(ctx, svc, cfg.CleanupInterval)

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = handler.ErrorHandler(log)
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(log))
	e.Use(middleware.CORS(cfg.ServerURL, cfg.CORSOrigins))
	e.Use(middleware.License(svc, cfg.ProtectedPaths, cfg.ServerURL+"/olp/token"))

	olp := handler.NewOLPHandler(svc)
	router.RegisterRoutes(e)
	router.RegisterOLP(e, olp, handler.NewWebhookHandler(payments, sink, log))
	router.RegisterProtected(e, olp, cfg.ProtectedPaths)

	addr := ":" + cfg.Port
	go func() {
		log.Info().Str("addr", addr).Str("env", cfg.Env).Str("storage", cfg.Storage).Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
	log.Info().Msg("stopped")
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	l := zerolog.New(os.Stdout).With().Timestamp().Str("service", "olp").Logger()
	if cfg.Env == "dev" {
		l = l.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	zlog.Logger = l
	return l
}

// cleanupLoop periodically removes expired token records and sessions.
func cleanupLoop(ctx context.Context, svc *service.LicenseService, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			svc.Cleanup(ctx)
		}
	}
}
