package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	fbapp "firebase.google.com/go/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"bidchat/internal/adapter/api"
	"bidchat/internal/adapter/api/handler"
	apimiddleware "bidchat/internal/adapter/api/middleware"
	"bidchat/internal/adapter/api/router"
	"bidchat/internal/adapter/repository"
	domainrepo "bidchat/internal/domain/repository"
	"bidchat/internal/infrastructure/auth"
	"bidchat/internal/infrastructure/firebase"
	"bidchat/internal/infrastructure/ratelimit"
	"bidchat/internal/infrastructure/websocket"
	"bidchat/internal/usecase"
	"bidchat/pkg/config"
	"bidchat/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	logger.SetEnvironment(cfg.Environment)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("chatsync stopped: %v", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	var app *fbapp.App
	if cfg.SessionResolver == "firebase" || cfg.ChatBackend == "firestore" {
		var err error
		app, err = fbapp.NewApp(ctx, &fbapp.Config{ProjectID: cfg.FirebaseProject}, credentials(cfg)...)
		if err != nil {
			return err
		}
	}

	resolver, err := sessionResolver(ctx, cfg, app)
	if err != nil {
		return err
	}
	session, err := resolver.Resolve(ctx, cfg.SessionToken)
	if err != nil {
		return err
	}
	logger.Info("Session resolved for %s (%s)", session.User.ID, session.User.Role)

	backend, closeBackend, err := chatBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	engine, err := usecase.NewSyncEngine(session, backend, websocket.NewDialer(cfg.ChatWSURL), usecase.Options{
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
		RoomRefreshEvery:  cfg.RoomRefreshEvery,
		MarkReadDelay:     cfg.MarkReadDelay,
		RequestTimeout:    cfg.HTTPTimeout,
	})
	if err != nil {
		return err
	}
	defer engine.Dispose()

	limiter := ratelimit.NewRateLimiter()
	limiter.StartCleanupRoutine(30*time.Minute, ctx.Done())

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Validator = api.NewValidator()

	handler.Setup(engine)
	router.Setup(e, apimiddleware.NewAuthMiddleware(session), limiter)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting bridge on 127.0.0.1:%s...", cfg.BridgePort)
		if err := e.Start("127.0.0.1:" + cfg.BridgePort); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return engine.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func credentials(cfg *config.Config) []option.ClientOption {
	if cfg.FirebaseServiceAccountJSON != "" {
		logger.Info("Using Firebase service account from environment variable")
		return []option.ClientOption{option.WithCredentialsJSON([]byte(cfg.FirebaseServiceAccountJSON))}
	}
	if cfg.FirebaseServiceAccountPath != "" {
		logger.Info("Using Firebase service account from file: %s", cfg.FirebaseServiceAccountPath)
		return []option.ClientOption{option.WithCredentialsFile(cfg.FirebaseServiceAccountPath)}
	}
	logger.Info("Using application default credentials")
	return nil
}

func sessionResolver(ctx context.Context, cfg *config.Config, app *fbapp.App) (domainrepo.SessionResolver, error) {
	if cfg.SessionResolver != "firebase" {
		return auth.NewJWTSessionResolver(), nil
	}
	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, err
	}
	return firebase.NewFirebaseSessionResolver(authClient), nil
}

func chatBackend(ctx context.Context, cfg *config.Config) (domainrepo.ChatBackend, func(), error) {
	if cfg.ChatBackend != "firestore" {
		logger.Info("Using marketplace REST API at %s", cfg.ChatAPIURL)
		return repository.NewRestChatBackend(cfg.ChatAPIURL, cfg.HTTPTimeout, cfg.MessageWindowLimit), func() {}, nil
	}

	client, err := firestore.NewClient(ctx, cfg.FirebaseProject, credentials(cfg)...)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Using Firestore project %s", cfg.FirebaseProject)
	return repository.NewFirestoreChatBackend(client, cfg.MessageWindowLimit), func() { client.Close() }, nil
}
