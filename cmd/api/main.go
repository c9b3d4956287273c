package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/access"
	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	"github.com/ariefcatur/go-order-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-order-fulfillment/internal/gateway"
	"github.com/ariefcatur/go-order-fulfillment/internal/httpx"
	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/logging"
	"github.com/ariefcatur/go-order-fulfillment/internal/metrics"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/payments"
	"github.com/ariefcatur/go-order-fulfillment/internal/postgres"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// backend is what the services need from persistence.
type backend interface {
	orders.Store
	payments.AddressDirectory
	payments.CartStore
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logging.NewLogger(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Store
	var (
		store    backend
		authz    access.Authorizer
		demoUser string
	)
	switch cfg.StoreDriver {
	case "memory":
		mem, static, user := memoryBackend(cfg)
		store, authz, demoUser = mem, static, user.UUID
		log.Warn("using in-memory store", zap.String("demo_user", demoUser))
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, 0)
		if err != nil {
			log.Fatal("db_connect_failed", zap.Error(err))
		}
		defer db.Close()
		if cfg.AutoMigrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				log.Fatal("db_migrate_failed", zap.Error(err))
			}
		}
		store = &orders.Repo{DB: db}
		authz = access.PG{DB: db}
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		log.Warn("redis_unavailable", zap.Error(err))
	}

	// Kafka producer
	prodCtx, stopProducer := context.WithCancel(context.Background())
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(prodCtx)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(reg)

	// Gateway
	cur, err := gateway.NewCurrency(cfg.PayPal.Currency, cfg.PayPal.StoreExponent, cfg.PayPal.FXRate)
	if err != nil {
		log.Fatal("gateway_currency_invalid", zap.Error(err))
	}
	pp := gateway.NewPayPal(gateway.PayPalConfig{
		BaseURL:      cfg.PayPal.BaseURL,
		ClientID:     cfg.PayPal.ClientID,
		ClientSecret: cfg.PayPal.ClientSecret,
		ReturnURL:    cfg.PayPal.ReturnURL,
		CancelURL:    cfg.PayPal.CancelURL,
		Currency:     cur,
	})

	// Services
	createTx := orders.TxOptions{Isolation: orders.Serializable, MaxWait: cfg.CreateTxMaxWait, Timeout: cfg.CreateTxTimeout}
	transitionTx := orders.TxOptions{Isolation: orders.ReadCommitted, MaxWait: cfg.TransitionTxMaxWait, Timeout: cfg.TransitionTxTimeout}
	orderSvc := &fulfillment.Service{
		Store:        store,
		Ledger:       &inventory.Ledger{Metrics: rec},
		Events:       prod,
		Cache:        redisx.NewStatusCache(rdb),
		Metrics:      rec,
		Log:          log,
		CreateTx:     createTx,
		TransitionTx: transitionTx,
		Retries:      cfg.TxRetries,
		ServiceName:  cfg.ServiceName,
	}
	paySvc := &payments.Service{
		Store:       store,
		Orders:      orderSvc,
		Gateway:     pp,
		Addresses:   store,
		Carts:       store,
		Locks:       &redisx.Locker{RDB: rdb},
		Events:      prod,
		Metrics:     rec,
		Log:         log,
		Tx:          createTx,
		ReadTx:      transitionTx,
		Retries:     cfg.TxRetries,
		LockTTL:     redisx.TTLCaptureLock,
		ServiceName: cfg.ServiceName,
	}

	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET is empty; every bearer token will be rejected")
	}
	auth := &httpx.Auth{Secret: []byte(cfg.JWTSecret), Authorizer: authz}
	if demoUser != "" && cfg.JWTSecret != "" {
		if tok, err := auth.Token(demoUser, 24*time.Hour); err == nil {
			log.Info("demo_token", zap.String("user_id", demoUser), zap.String("token", tok))
		}
	}
	router := httpx.NewRouter(httpx.RouterConfig{
		Log:      log,
		Metrics:  rec,
		Gatherer: reg,
		Auth:     auth,
	}, &httpx.OrdersHandler{Orders: orderSvc}, &httpx.PaymentsHandler{Payments: paySvc})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("http_listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http_listen_failed", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting_down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_shutdown_failed", zap.Error(err))
	}
	stopProducer()
	prod.WaitClosed()
}
