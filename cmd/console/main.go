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

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/abrechnung/console/internal/account"
	"github.com/abrechnung/console/internal/accountapi"
	"github.com/abrechnung/console/internal/app"
	"github.com/abrechnung/console/internal/auth"
	jobmetrics "github.com/abrechnung/console/internal/jobs"
	"github.com/abrechnung/console/internal/observability"
	"github.com/abrechnung/console/internal/platform/cache"
	"github.com/abrechnung/console/internal/platform/db"
	"github.com/abrechnung/console/internal/shared"
	"github.com/abrechnung/console/internal/view"
	"github.com/abrechnung/console/jobs"
)

// backend is what the console needs from an account service.
type backend interface {
	auth.Authenticator
	account.PasswordChanger
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("console stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	var pool *pgxpool.Pool
	var accounts backend
	switch cfg.AccountBackend {
	case app.BackendPostgres:
		pool, err = db.New(ctx, cfg.PGDSN, db.Options{ApplicationName: "console"})
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := db.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		accounts = auth.NewLocalBackend(auth.NewRepository(pool))
	default:
		accounts = accountapi.NewClient(cfg.AccountAPIURL, cfg.AccountAPITimeout)
	}
	logger.Info("account backend", slog.String("backend", cfg.AccountBackend))

	sessionManager := shared.NewSessionManager(redisClient, "console_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	queueOpts := cache.QueueOpts(redisClient)

	var listeners []account.ChangeListener
	if cfg.PasswordChangeMail {
		queue := jobs.NewClient(queueOpts)
		defer func() {
			if err := queue.Close(); err != nil {
				logger.Warn("queue close", slog.Any("error", err))
			}
		}()
		listeners = append(listeners, jobs.NewPasswordChangedMailer(queue, jobmetrics.NewMetrics(metrics.Registerer())))
	}

	submitter := account.NewSubmitter(account.SubmitterConfig{
		Changer:   accounts,
		Guard:     account.NewRedisGuard(redisClient, cfg.SubmissionGuardTTL),
		Listeners: listeners,
		Recorder:  metrics,
		Logger:    logger,
	})

	inspector := asynq.NewInspector(queueOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Templates:      templates,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		AuthHandler:    auth.NewHandler(logger, accounts, templates, sessionManager, csrfManager),
		AccountHandler: account.NewHandler(logger, submitter, templates, csrfManager),
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
