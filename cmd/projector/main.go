package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/logging"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/projector"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logging.NewLogger(cfg.ServiceName+"-projector", cfg.Env)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		log.Fatal("redis_unavailable", zap.Error(err))
	}

	p := &projector.Projector{
		Cache: redisx.NewStatusCache(rdb),
		Dedup: &redisx.Dedup{RDB: rdb, Consumer: cfg.ProjectorGroup},
		Log:   log,
	}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ProjectorGroup, orders.OrderTopics, cfg.ProjectorWorkers, log)

	log.Info("projector_started",
		zap.String("group", cfg.ProjectorGroup),
		zap.Strings("topics", orders.OrderTopics),
		zap.Int("workers", cfg.ProjectorWorkers),
	)
	if err := cons.Start(ctx, p.Handle); err != nil {
		log.Error("consumer_exit", zap.Error(err))
		return
	}
	log.Info("projector_stopped")
}
