package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Alireza-Koohzad/Nova-chat/internal/config"
	"github.com/Alireza-Koohzad/Nova-chat/internal/domain"
	"github.com/Alireza-Koohzad/Nova-chat/internal/httpserver"
	"github.com/Alireza-Koohzad/Nova-chat/internal/presence"
	"github.com/Alireza-Koohzad/Nova-chat/internal/security"
	"github.com/Alireza-Koohzad/Nova-chat/internal/service"
	"github.com/Alireza-Koohzad/Nova-chat/internal/store/postgres"
	"github.com/Alireza-Koohzad/Nova-chat/internal/store/sqlite"
	"github.com/Alireza-Koohzad/Nova-chat/internal/ws"
)

type repositories struct {
	users    domain.UserRepository
	chats    domain.ChatRepository
	members  domain.MemberRepository
	messages domain.MessageRepository
}

func openStore(cfg *config.Config) (*sql.DB, repositories, error) {
	if cfg.DBDriver == "postgres" {
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, repositories{}, err
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, repositories{}, err
		}
		return db, repositories{
			users:    postgres.NewUserRepo(db),
			chats:    postgres.NewChatRepo(db),
			members:  postgres.NewMemberRepo(db),
			messages: postgres.NewMessageRepo(db),
		}, nil
	}

	db, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		return nil, repositories{}, err
	}
	if err := sqlite.Migrate(db); err != nil {
		db.Close()
		return nil, repositories{}, err
	}
	return db, repositories{
		users:    sqlite.NewUserRepo(db),
		chats:    sqlite.NewChatRepo(db),
		members:  sqlite.NewMemberRepo(db),
		messages: sqlite.NewMessageRepo(db),
	}, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	db, repos, err := openStore(cfg)
	if err != nil {
		logger.Error("failed to open database", "driver", cfg.DBDriver, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Security components
	tokenSvc := security.NewTokenService(cfg.JWTSecret, time.Duration(cfg.AccessTokenMinutes)*time.Minute)
	passwordHasher := security.NewPasswordHasher(0)
	encryptor, err := security.NewEncryptor([]byte(cfg.EncryptKey))
	if err != nil {
		logger.Error("failed to initialize encryptor", "error", err)
		os.Exit(1)
	}

	// Presence, delivery and fan-out wiring
	registry := presence.NewRegistry(repos.users, cfg.PresenceGrace, logger)
	hub := ws.NewHub()
	deliverySvc := service.NewDeliveryService(repos.chats, repos.members, repos.messages, encryptor, registry)
	orch := ws.NewOrchestrator(registry, hub, deliverySvc, repos.members, repos.users, logger)

	router := httpserver.NewRouter(cfg, httpserver.Deps{
		Auth:         service.NewAuthService(repos.users, tokenSvc, passwordHasher),
		Users:        service.NewUserService(repos.users),
		Chats:        service.NewChatService(repos.chats, repos.members, repos.messages, repos.users, encryptor, cfg.MessageHistoryLimit),
		Membership:   service.NewMembershipService(repos.chats, repos.members, repos.users, encryptor),
		Orchestrator: orch,
		Hub:          hub,
		Tokens:       tokenSvc,
		UserRepo:     repos.users,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "app", cfg.AppName, "addr", cfg.HTTPAddr(), "driver", cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
