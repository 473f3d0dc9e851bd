package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ageniuscoder/chatsync/internal/chat"
	"github.com/ageniuscoder/chatsync/internal/config"
	"github.com/ageniuscoder/chatsync/internal/logging"
	"github.com/ageniuscoder/chatsync/internal/notifications"
	"github.com/ageniuscoder/chatsync/internal/queue"
	"github.com/ageniuscoder/chatsync/internal/server"
	"github.com/ageniuscoder/chatsync/internal/storage/postgres"
	"github.com/ageniuscoder/chatsync/internal/storage/sqlite"
	"github.com/ageniuscoder/chatsync/internal/store"
	"github.com/ageniuscoder/chatsync/internal/uploads"
	"github.com/joho/godotenv"
)

type database interface {
	Migrate() error
}

func openDB(cfg config.Config) (*sql.DB, database, store.Dialect, error) {
	if cfg.DBDriver == "postgres" {
		conn, err := postgres.New(cfg.PostgresDsn)
		if err != nil {
			return nil, nil, 0, err
		}
		return conn.Db, conn, store.Postgres, nil
	}
	conn, err := sqlite.New(cfg.SQLITEDsn)
	if err != nil {
		return nil, nil, 0, err
	}
	return conn.Db, conn, store.SQLite, nil
}

func main() {
	fmt.Println("Entry point of chatsync")
	migrate := flag.Bool("migrate", false, "run migrations and exits")
	flag.Parse()
	//config part
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("Error Loading Env file: %v", err)
	}
	cfg := config.MustLoad()
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	//database handling
	db, conn, dialect, err := openDB(cfg)
	if err != nil {
		log.Fatalf("Error loading to database: %v", err)
	}
	defer db.Close()

	if err := conn.Migrate(); err != nil {
		log.Fatalf("Migration failed %v", err)
	}
	if *migrate {
		slog.Info("Migration Completed")
		return
	}
	st := store.New(db, dialect)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := chat.NewHub(st, logger)
	go hub.Run(ctx)

	// Broadcasts go through Redis when configured so every node's hub
	// receives them; otherwise straight to the local hub.
	var events chat.Broadcaster = hub
	var (
		tasks  queue.Client
		worker queue.Server
	)
	if cfg.RedisURL != "" {
		rdb, err := chat.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
		events = chat.NewRedisBroadcaster(rdb, chat.DefaultTopic)
		go func() {
			if err := chat.Relay(ctx, rdb, chat.DefaultTopic, hub, logger); err != nil && ctx.Err() == nil {
				logger.Error("relay stopped", "err", err)
			}
		}()

		client, err := queue.NewAsynqClient(cfg.RedisURL)
		if err != nil {
			log.Fatalf("asynq: %v", err)
		}
		defer client.Close()
		srv, err := queue.NewAsynqServer(cfg.RedisURL, 0, logger)
		if err != nil {
			log.Fatalf("asynq: %v", err)
		}
		tasks, worker = client, srv
	} else {
		inline := queue.NewInline()
		tasks, worker = inline, inline
	}

	notifier := notifications.New(st, tasks, logger)
	notifier.Attach(worker)
	go func() {
		if err := worker.Run(ctx); err != nil {
			logger.Error("worker stopped", "err", err)
		}
	}()

	up, err := uploads.New(cfg.UploadDir, cfg.PublicURL)
	if err != nil {
		log.Fatalf("uploads: %v", err)
	}

	router := server.New(server.Deps{
		Config:   cfg,
		Store:    st,
		Hub:      hub,
		Events:   events,
		Uploads:  up,
		Notifier: notifier,
		Log:      logger,
	})
	httpSrv := &http.Server{Addr: cfg.Addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		slog.Info("Server started", "addr", cfg.Addr, "driver", cfg.DBDriver, "redis", cfg.RedisURL != "")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "err", err)
	}
}
