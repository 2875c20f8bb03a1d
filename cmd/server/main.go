package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/liwz/realtime/internal/api"
	"github.com/liwz/realtime/internal/config"
	"github.com/liwz/realtime/internal/database"
	"github.com/liwz/realtime/internal/events"
	"github.com/liwz/realtime/internal/match"
	"github.com/liwz/realtime/internal/notify"
	"github.com/liwz/realtime/internal/ratelimit"
	"github.com/liwz/realtime/internal/server"
	"github.com/liwz/realtime/internal/stats"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	store          string
	signingKey     string
	allowedOrigins stringSliceFlag
	redisAddr      string
	natsURL        string
	messageRate    int
)

func main() {
	logger := log.New(os.Stderr, "[liwz] ", log.LstdFlags)

	if err := config.LoadEnv(); err != nil {
		logger.Fatal("env:", err)
	}

	flag.StringVar(&addr, "addr", config.GetEnv("LIWZ_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&dsn, "dsn", config.GetEnv("LIWZ_DSN", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), "database connection string")
	flag.StringVar(&store, "store", config.GetEnv("LIWZ_STORE", config.StorePostgres), "store backend: postgres or memory")
	flag.StringVar(&signingKey, "signing-key", config.GetEnv("LIWZ_SIGNING_KEY", ""), "base64 encoded token signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.StringVar(&redisAddr, "redis-addr", config.GetEnv("LIWZ_REDIS_ADDR", ""), "redis address for rate limiting, empty disables it")
	flag.StringVar(&natsURL, "nats-url", config.GetEnv("LIWZ_NATS_URL", ""), "NATS url for domain events, empty disables them")
	flag.IntVar(&messageRate, "message-rate", config.GetEnvAsInt("LIWZ_MESSAGE_RATE", 0), "messages per user per rate window")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		if v := config.GetEnv("LIWZ_ALLOWED_ORIGINS", ""); v != "" {
			allowedOrigins.Set(v)
		}
	}

	cfg, err := config.NewConfig(config.Params{
		ServerAddr:     addr,
		DatabaseDSN:    dsn,
		Store:          store,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		RedisAddr:      redisAddr,
		NatsURL:        natsURL,
		MessageRate:    messageRate,
	})
	if err != nil {
		logger.Fatal("config:", err)
	}

	var repo database.Repository
	switch cfg.Store {
	case config.StoreMemory:
		logger.Println("using in-memory store")
		repo = database.NewMemoryRepository()
	default:
		if err := database.Migrate(cfg.DatabaseDSN); err != nil {
			logger.Fatal("db migrate:", err)
		}
		pg, err := database.NewPgRepository(cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal("db open:", err)
		}
		defer func() {
			if err := pg.Close(); err != nil {
				logger.Println("db close:", err)
			}
		}()
		repo = pg
	}

	var limiter *ratelimit.Limiter
	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := ratelimit.Connect(ctx, cfg.RedisAddr)
		cancel()
		if err != nil {
			logger.Fatal("redis:", err)
		}
		defer client.Close()
		limiter = ratelimit.NewLimiter(client, logger)
	}

	var publisher events.Publisher = events.Noop{}
	if cfg.NatsURL != "" {
		np, err := events.NewNATSPublisher(cfg.NatsURL, logger)
		if err != nil {
			logger.Fatal("nats:", err)
		}
		defer np.Close()
		publisher = np
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.RegisterMetric(stats.MetricLikes)
	statsUpdater.RegisterMetric(stats.MetricMatches)

	chatServer, err := server.NewChatServer(logger, repo, statsUpdater, server.Options{
		Publisher:   publisher,
		Limiter:     limiter,
		MessageRule: ratelimit.WithLimit(ratelimit.RuleMessage, cfg.MessageRate),
	})
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	dispatcher := notify.NewDispatcher(repo, chatServer.Registry(), logger)
	engine := match.NewEngine(repo, chatServer.Registry(), dispatcher, publisher, statsUpdater, logger)

	srv := api.NewRealtimeApp(mux, logger, repo, api.Services{
		ChatServer: chatServer,
		Engine:     engine,
		Dispatcher: dispatcher,
		Limiter:    limiter,
	}, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	dispatcher.Run()
	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Println("chat server shutdown:", err)
	}

	logger.Println("draining notifications...")
	dispatcher.Stop()

	logger.Println("shutdown complete")
}
