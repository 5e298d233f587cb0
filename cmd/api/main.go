package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/pos-ticketing/internal/applog"
	"github.com/ariefcatur/pos-ticketing/internal/audit"
	"github.com/ariefcatur/pos-ticketing/internal/config"
	"github.com/ariefcatur/pos-ticketing/internal/httpx"
	kafkax "github.com/ariefcatur/pos-ticketing/internal/kafka"
	"github.com/ariefcatur/pos-ticketing/internal/memstore"
	"github.com/ariefcatur/pos-ticketing/internal/notify"
	"github.com/ariefcatur/pos-ticketing/internal/orders"
	"github.com/ariefcatur/pos-ticketing/internal/postgres"
	"github.com/ariefcatur/pos-ticketing/internal/redisx"
	"github.com/ariefcatur/pos-ticketing/internal/stock"
	"github.com/ariefcatur/pos-ticketing/internal/tickets"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// backend is the set of repositories one store driver provides.
type backend struct {
	tx        postgres.TxRunner
	stock     stock.Repository
	orders    orders.Repository
	tickets   tickets.Repository
	artifacts tickets.ArtifactStore
	audit     audit.Repository
	ready     map[string]httpx.Pinger
	close     func()
}

func openPostgres(ctx context.Context, cfg config.Config, logger *logrus.Logger) backend {
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		logger.WithError(err).Fatal("db connect")
	}
	if cfg.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			logger.WithError(err).Fatal("db migrate")
		}
	}
	return backend{
		tx:        db,
		stock:     &stock.PGRepo{DB: db},
		orders:    &orders.Repo{DB: db},
		tickets:   &tickets.PGRepo{DB: db},
		artifacts: &tickets.PGArtifactStore{DB: db, BaseURL: cfg.PublicBaseURL},
		audit:     &audit.PGRepo{DB: db},
		ready:     map[string]httpx.Pinger{"postgres": db},
		close:     db.Close,
	}
}

func openMemory(cfg config.Config) backend {
	st := memstore.New(cfg.PublicBaseURL)
	return backend{
		tx:        st,
		stock:     st.Stock(),
		orders:    st.Orders(),
		tickets:   st.Tickets(),
		artifacts: st.Artifacts(),
		audit:     st.Audit(),
		ready:     map[string]httpx.Pinger{"memory": st},
		close:     func() {},
	}
}

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := applog.New(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var be backend
	var notifier notify.Dispatcher = notify.Nop{}
	var idem orders.IdempotencyCache
	var prod *kafkax.Producer

	switch cfg.StoreDriver {
	case config.DriverMemory:
		be = openMemory(cfg)
		logger.Warn("memory store driver: state is lost on exit and notifications are disabled")
	default:
		be = openPostgres(ctx, cfg, logger)

		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		idem = orders.RedisIdempotency{RDB: rdb}
		be.ready["redis"] = httpx.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })

		prod = kafkax.NewProducer(logger, cfg.KafkaBrokers, cfg.NotifyTopic, cfg.NotifyBuffer)
		prod.Start(ctx)
		notifier = notify.NewKafkaDispatcher(logger, prod, cfg.ServiceName)
	}
	defer be.close()

	auditLog := audit.NewLog(logger, be.audit)
	ledger := stock.NewLedger(stock.LedgerProperty{
		Logger:     logger,
		TxRunner:   be.tx,
		Repository: be.stock,
		Audit:      auditLog,
	})
	issuer := tickets.NewIssuer(tickets.IssuerProperty{
		Logger:     logger,
		TxRunner:   be.tx,
		Repository: be.tickets,
		Artifacts:  be.artifacts,
		Encoder:    tickets.QRCode,
	})
	svc := orders.NewService(orders.ServiceProperty{
		Logger:      logger,
		TxRunner:    be.tx,
		Repository:  be.orders,
		Ledger:      ledger,
		Issuer:      issuer,
		Audit:       auditLog,
		Notifier:    notifier,
		Idempotency: idem,
	})

	validate := httpx.NewValidator()
	router := httpx.NewRouter(httpx.RouterProperty{
		Logger:  logger,
		Timeout: cfg.RequestTimeout,
		Ready:   be.ready,
	})
	httpx.API{
		Stock:   &httpx.StockHandler{Validate: validate, Ledger: ledger},
		Orders:  &httpx.OrdersHandler{Validate: validate, Orders: svc},
		Audit:   &httpx.AuditHandler{Log: auditLog},
		Tickets: &httpx.TicketsHandler{Issuer: issuer, Scanner: tickets.NewScanner(logger, be.tx, be.tickets, auditLog)},
	}.Mount(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).WithField("store", cfg.StoreDriver).Info("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("listen")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	if prod != nil {
		prod.Close()
		cancel()
		prod.WaitClosed()
	}
}
