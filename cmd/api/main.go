package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/StreallyX/callastar-sub000/internal/auth"
	"github.com/StreallyX/callastar-sub000/internal/booking"
	"github.com/StreallyX/callastar-sub000/internal/callevents"
	"github.com/StreallyX/callastar-sub000/internal/config"
	"github.com/StreallyX/callastar-sub000/internal/httpapi"
	"github.com/StreallyX/callastar-sub000/internal/room"
	"github.com/StreallyX/callastar-sub000/internal/session"
	"github.com/StreallyX/callastar-sub000/pkg/logger"
	"github.com/StreallyX/callastar-sub000/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
)

const migrationsDir = "migrations"

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional local env file; real deployments inject env directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		log.Error("goose dialect failed", "err", err)
		os.Exit(1)
	}
	if err := goose.Up(db, migrationsDir); err != nil {
		log.Error("migrations failed", "err", err)
		os.Exit(1)
	}
	log.Info("migrations applied")

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	bookings, err := booking.NewClient(cfg.Booking.BaseURL, cfg.Booking.FetchTimeout)
	if err != nil {
		log.Error("booking client init failed", "err", err)
		os.Exit(1)
	}

	eventsRepo, err := callevents.NewPostgresRepo(db)
	if err != nil {
		log.Error("call events repo init failed", "err", err)
		os.Exit(1)
	}
	sinks := []callevents.Repository{eventsRepo}
	if cfg.Room.EventSinkURL != "" {
		sink, err := callevents.NewHTTPSink(cfg.Room.EventSinkURL)
		if err != nil {
			log.Error("event sink init failed", "err", err)
			os.Exit(1)
		}
		sinks = append(sinks, sink)
	}
	eventLogger := callevents.NewLogger(log, sinks...)

	provider, webhooks, err := buildRoomProvider(cfg.Room)
	if err != nil {
		log.Error("room provider init failed", "err", err)
		os.Exit(1)
	}
	log.Info("room provider ready", "provider", provider.Name())

	sessions, err := session.NewManager(session.ManagerConfig{
		Provider: provider,
		Logger:   eventLogger,
		Tokens:   authManager,
		Bookings: bookings,
		Slots:    session.NewRedisSlotStore(rdb),
		Policy: session.Policy{
			JoinWindow:         cfg.Call.JoinWindow,
			Grace:              cfg.Call.Grace,
			RedirectDelay:      cfg.Call.RedirectDelay,
			ProviderErrorLimit: cfg.Call.ProviderErrorLimit,
		},
		FetchTimeout: cfg.Booking.FetchTimeout,
		Log:          log,
	})
	if err != nil {
		log.Error("session manager init failed", "err", err)
		os.Exit(1)
	}

	h := httpapi.Handlers{
		Auth:     authManager,
		Sessions: sessions,
		Bookings: bookings,
		Events:   eventLogger,
		History:  eventsRepo,
		Webhooks: webhooks,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, h, authManager, db, rdb, provider)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		log.Error("session shutdown failed", "err", err)
	}

	// Drain in-flight call-event writes before the process exits.
	eventLogger.Wait()

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

// buildRoomProvider selects the room adapter. The fake provider keeps local
// and CI environments free of external calls.
func buildRoomProvider(cfg config.RoomConfig) (room.Provider, httpapi.WebhookDispatcher, error) {
	switch cfg.Provider {
	case "fake":
		return room.NewFakeProvider(), nil, nil
	default:
		p, err := room.NewDailyProvider(cfg.APIBaseURL, cfg.APIKey)
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	}
}
