// Command mock-backend serves a local stand-in for the portal's api.php with
// one seeded account.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"mailportal/internal/config"
	"mailportal/internal/handler"
	"mailportal/internal/models"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	//PARSE ARGS
	var (
		configPath string
		username   string
		password   string
		fullName   string
		email      string
	)
	flag.StringVar(&configPath, "config", "", "path to config file (env only when empty)")
	flag.StringVar(&username, "user", "demo", "seeded account username")
	flag.StringVar(&password, "password", "demo123", "seeded account password")
	flag.StringVar(&fullName, "full-name", "Demo User", "seeded account full name")
	flag.StringVar(&email, "email", "demo@example.org", "seeded account external email")
	flag.Parse()

	var cfg *config.Config
	if configPath != "" {
		cfg = config.MustLoadConfig(configPath)
	} else {
		var err error
		cfg, err = config.LoadConfig("")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	lgr := setupLogger(cfg.Env)

	if cfg.Env == envProd {
		gin.SetMode(gin.ReleaseMode)
	}

	accounts := handler.NewAccounts()
	seeded, err := accounts.Add(models.UserProfile{
		FullName: fullName,
		Username: username,
		ExtEmail: email,
	}, password)
	if err != nil {
		lgr.Error("failed to seed account", slog.Any("error", err))
		os.Exit(1)
	}

	h := handler.NewHandler(accounts, []byte(cfg.HTTPServer.JWTSecret), cfg.HTTPServer.TokenTTL, lgr)

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      h.InitRoutes(),
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
		ReadTimeout:  cfg.HTTPServer.ReadTimeout,
		WriteTimeout: cfg.HTTPServer.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		lgr.Info("started mock backend",
			slog.String("address", srv.Addr),
			slog.String("user", seeded.Username),
			slog.Int64("user_id", seeded.ID),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lgr.Error("server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		lgr.Error("shutdown failed", slog.Any("error", err))
	}

	lgr.Info("stopped mock backend")
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}
	return log
}
