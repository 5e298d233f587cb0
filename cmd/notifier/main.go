package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/pos-ticketing/internal/applog"
	"github.com/ariefcatur/pos-ticketing/internal/config"
	kafkax "github.com/ariefcatur/pos-ticketing/internal/kafka"
	"github.com/ariefcatur/pos-ticketing/internal/notify"
	"github.com/ariefcatur/pos-ticketing/internal/postgres"
	"github.com/ariefcatur/pos-ticketing/internal/redisx"
	"github.com/ariefcatur/pos-ticketing/internal/tickets"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := applog.New(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		logger.WithError(err).Fatal("db connect")
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	issuer := tickets.NewIssuer(tickets.IssuerProperty{
		Logger:     logger,
		TxRunner:   db,
		Repository: &tickets.PGRepo{DB: db},
		Artifacts:  &tickets.PGArtifactStore{DB: db, BaseURL: cfg.PublicBaseURL},
	})
	worker := &notify.Worker{
		Logger:  logger,
		Redis:   rdb,
		Sender:  notify.LogSender{Logger: logger},
		Tickets: issuer,
		Service: cfg.ServiceName + "-notifier",
	}

	cons := kafkax.NewConsumer(logger, cfg.KafkaBrokers, cfg.NotifyGroup, cfg.NotifyTopic, cfg.NotifyWorkers)
	go func() {
		logger.WithField("group", cfg.NotifyGroup).
			WithField("topic", cfg.NotifyTopic).
			WithField("workers", cfg.NotifyWorkers).
			Info("notifier consumer started")
		if err := cons.Start(ctx, worker.Handle); err != nil {
			logger.WithError(err).Error("consumer exit")
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down consumer")
	cancel()
	time.Sleep(500 * time.Millisecond)
}
