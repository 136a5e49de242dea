package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/azizikri/coupon-drop/internal/config"
	httphandler "github.com/azizikri/coupon-drop/internal/delivery/http"
	"github.com/azizikri/coupon-drop/internal/delivery/kafka"
	"github.com/azizikri/coupon-drop/internal/logger"
	"github.com/azizikri/coupon-drop/internal/repository"
	"github.com/azizikri/coupon-drop/internal/usecase"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer closeStore()

	if err := store.Seed(ctx, cfg.SeedCoupons); err != nil {
		log.Fatal("failed to seed store", zap.Error(err))
	}

	service := usecase.NewCouponService(store, cfg.ClaimWindow)

	var gateway usecase.CouponGateway
	var clients []*kgo.Client

	if cfg.EventDrivenEnabled == "true" {
		brokers := strings.Split(cfg.KafkaBrokers, ",")

		workerClient, err := newConsumerClient(brokers, cfg.KafkaClientID, cfg.KafkaGroupID, kafka.RequestTopics...)
		if err != nil {
			log.Fatal("failed to create kafka client", zap.Error(err))
		}
		clients = append(clients, workerClient)

		if err := kafka.EnsureTopics(ctx, workerClient, cfg, log); err != nil {
			log.Warn("failed to ensure topics", zap.Error(err))
		}

		kgateway := kafka.NewGateway(cfg, workerClient, log)
		gateway = kgateway

		consumer := kafka.NewConsumer(workerClient, service, log)
		go consumer.Start(ctx)

		replyClient, err := newReplyClient(brokers, cfg.KafkaClientID+"-reply", kafka.ReplyTopic(cfg))
		if err != nil {
			log.Fatal("failed to create reply kafka client", zap.Error(err))
		}
		clients = append(clients, replyClient)

		startReplyPoller(ctx, replyClient, kgateway)
	} else {
		gateway = kafka.NewDirectGateway(service)
	}

	handler := httphandler.NewHandler(gateway, cfg.ClaimWindow, log)

	r := httphandler.NewRouter(handler, cfg.PublicDir, log)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("server is running", zap.String("port", cfg.Port), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown error", zap.Error(err))
	}

	for _, client := range clients {
		client.Close()
	}

	wg.Wait()
	log.Info("shutdown complete")
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverFile:
		store := repository.NewFileStore(cfg.DataFile, cfg.StrictStore, log)
		if cfg.StrictStore {
			if err := store.Check(); err != nil {
				return nil, nil, err
			}
		}
		return store, func() {}, nil

	case config.DriverPostgres:
		pool, err := initDB(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := repository.RunMigrations(ctx, pool, cfg.MigrationsDir, log); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		return repository.NewPostgresStore(pool), pool.Close, nil

	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("unable to ping redis: %w", err)
		}
		closeFn := func() {
			if err := client.Close(); err != nil {
				log.Warn("redis close", zap.Error(err))
			}
		}
		return repository.NewRedisStore(client, cfg.RedisKeyPrefix, cfg.ClaimWindow), closeFn, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func initDB(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	connStr := fmt.Sprintf(
		"postgresql://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
		cfg.DBSSLMode,
	)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return pool, nil
}

func newConsumerClient(brokers []string, clientID, groupID string, topics ...string) (*kgo.Client, error) {
	return kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
	)
}

func newReplyClient(brokers []string, clientID, topic string) (*kgo.Client, error) {
	return kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
	)
}

func startReplyPoller(ctx context.Context, client *kgo.Client, gateway *kafka.Gateway) {
	go func() {
		for {
			fetches := client.PollFetches(ctx)
			if fetches.IsClientClosed() || ctx.Err() != nil {
				return
			}
			iter := fetches.RecordIter()
			for !iter.Done() {
				gateway.HandleResponse(iter.Next().Value)
			}
		}
	}()
}
