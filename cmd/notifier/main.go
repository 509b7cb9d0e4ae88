package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/tazhibayda/fanzone-auth/internal/config"
	"github.com/tazhibayda/fanzone-auth/internal/log"
	"github.com/tazhibayda/fanzone-auth/internal/mail"
	"github.com/tazhibayda/fanzone-auth/internal/notify"
	"github.com/tazhibayda/fanzone-auth/internal/queue"
)

func main() {
	cfg, err := config.LoadNotifier()
	if err != nil {
		zap.NewExample().Fatal("config", zap.Error(err))
	}
	logger, err := log.Init(cfg.LogProduction)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	cons, err := queue.NewConsumer(cfg.RabbitURL, cfg.RabbitExchange, cfg.RabbitQueue, cfg.RabbitBindKey, logger)
	if err != nil {
		logger.Fatal("rabbit consumer init failed", zap.Error(err))
	}
	defer cons.Close()

	var transport mail.Transport = mail.NewLogTransport(logger)
	if cfg.SMTPHost != "" {
		t, err := mail.NewSMTPTransport(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
			UseTLS:   cfg.SMTPUseTLS,
		})
		if err != nil {
			logger.Fatal("smtp config", zap.Error(err))
		}
		transport = t
	}
	h := notify.NewHandler(mail.NewMailer(transport, cfg.BaseURL, cfg.SMTPFromName), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("notifier up",
		zap.String("exchange", cfg.RabbitExchange),
		zap.String("queue", cfg.RabbitQueue),
		zap.String("key", cfg.RabbitBindKey),
		zap.Int("workers", cfg.RabbitConcurrency),
	)

	if err := cons.Consume(ctx, cfg.RabbitConcurrency, h.Handle); err != nil {
		logger.Fatal("consumer stopped", zap.Error(err))
	}
}
