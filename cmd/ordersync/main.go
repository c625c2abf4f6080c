// Command ordersync runs a headless ordering client: it signs in, keeps the
// session's orders and cart in sync and logs every notification it receives.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"

	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/config"
	deliveryhttp "github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/delivery/http"
	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/entity"
	gatewayhttp "github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/gateway/http"
	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/messaging"
	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/messaging/kafka"
	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/messaging/websocket"
	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/repository"
	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/repository/memory"
	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/repository/postgres"
	redisstore "github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/repository/redis"
	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/service"
)

// runner is a transport that owns a connection loop.
type runner interface {
	messaging.Transport
	Run(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "err", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Client stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// --- Storage ---
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// --- Transport ---
	transport, closeTransport := openTransport(cfg, logger)
	defer closeTransport()

	// --- Gateway & session ---
	gw := gatewayhttp.NewClient(gatewayhttp.Config{
		BaseURL:    cfg.APIURL,
		Timeout:    cfg.GatewayTimeout,
		MaxRetries: 2,
		Logger:     logger,
	}, repository.TokenSource{Store: store})

	session := service.NewSession(gw, transport, store, service.SessionConfig{
		Timeout:        cfg.GatewayTimeout,
		RepeatInterval: cfg.RepeatInterval,
		Logger:         logger,
	})
	defer session.Close()

	session.OnNotification(func(n entity.Notification) {
		logger.Info("Notification", "type", n.Type, "for", n.Audience, "data", string(n.Payload))
	})

	errCh := make(chan error, 2)
	go func() { errCh <- transport.Run(ctx) }()

	if err := session.Start(ctx, cfg.Token); err != nil {
		if _, active := session.Current(); !active {
			return fmt.Errorf("failed to start session: %w", err)
		}
		logger.Warn("Session started with errors", "err", err)
	}
	logSnapshot(logger, session)

	// --- Local API ---
	mux := http.NewServeMux()
	deliveryhttp.NewHandler(session).RegisterRoutes(mux)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: deliveryhttp.EnableCORS(cfg.CORSOrigin, mux),
	}
	go func() {
		logger.Info("Local API listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("local API: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = fmt.Errorf("client stopped: %w", err)
		}
	}
	logger.Info("Shutting down...")
	httpServer.Shutdown(context.Background())
	return runErr
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, func(), error) {
	switch cfg.Storage {
	case config.StorageRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return redisstore.NewStore(client, "ordersync:"), func() { client.Close() }, nil
	case config.StoragePostgres:
		db, err := postgres.InitDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init database: %w", err)
		}
		return postgres.NewStore(db), func() { db.Close() }, nil
	default:
		return memory.NewStore(), func() {}, nil
	}
}

func openTransport(cfg *config.Config, logger *slog.Logger) (runner, func()) {
	if cfg.Transport == config.TransportKafka {
		t := kafka.NewTransport(kafka.Config{
			Brokers:   cfg.KafkaBrokers,
			Topic:     cfg.KafkaTopic,
			EmitTopic: cfg.KafkaEmitTopic,
			GroupID:   cfg.KafkaGroup,
			Logger:    logger,
		})
		return t, func() {
			if err := t.Close(); err != nil {
				logger.Warn("Failed to close kafka transport", "err", err)
			}
		}
	}
	return websocket.New(websocket.Config{URL: cfg.SocketURL, Logger: logger}), func() {}
}

func logSnapshot(logger *slog.Logger, session *service.Session) {
	cur, ok := session.Current()
	if !ok {
		return
	}
	orders := session.Orders()
	logger.Info("Session ready",
		"role", cur.Role,
		"user_id", cur.UserID,
		"pending", len(orders.Pending()),
		"delivered", len(orders.Delivered()),
		"cancelled", len(orders.Cancelled()),
	)
	if cur.Role == entity.RoleRetailer {
		cart := session.Cart()
		logger.Info("Cart", "lines", len(cart.Lines()), "total", cart.Total().String())
	}
}
