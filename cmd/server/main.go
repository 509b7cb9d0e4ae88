package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	docs "github.com/tazhibayda/fanzone-auth/docs"
	"github.com/tazhibayda/fanzone-auth/internal/auth"
	"github.com/tazhibayda/fanzone-auth/internal/config"
	"github.com/tazhibayda/fanzone-auth/internal/credential"
	"github.com/tazhibayda/fanzone-auth/internal/domain"
	"github.com/tazhibayda/fanzone-auth/internal/emailtoken"
	api "github.com/tazhibayda/fanzone-auth/internal/http"
	"github.com/tazhibayda/fanzone-auth/internal/log"
	"github.com/tazhibayda/fanzone-auth/internal/mail"
	"github.com/tazhibayda/fanzone-auth/internal/metrics"
	"github.com/tazhibayda/fanzone-auth/internal/oauth"
	"github.com/tazhibayda/fanzone-auth/internal/queue"
	"github.com/tazhibayda/fanzone-auth/internal/repo"
	"github.com/tazhibayda/fanzone-auth/internal/security"
	"github.com/tazhibayda/fanzone-auth/internal/session"
)

type backend interface {
	credential.UserRepository
	api.Pinger
}

// @title Fanzone Auth API
// @version 0.1.0
// @description Sessions, credentials, email tokens and social sign-in for the Fanzone app.
// @schemes http https
// @BasePath /
func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config", zap.Error(err))
	}

	logger, err := log.Init(cfg.LogProduction)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.TracingEnabled {
		tracer.Start(tracer.WithService(cfg.ServiceName))
		defer tracer.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var store backend
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("using in-memory user store; data is lost on restart")
		store = repo.NewMemoryStore()
	default:
		mongoStore, err := repo.NewStore(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			logger.Fatal("mongo connect", zap.Error(err))
		}
		defer mongoStore.Close(context.Background())
		if err := mongoStore.EnsureUserIndexes(ctx); err != nil {
			logger.Fatal("mongo indexes", zap.Error(err))
		}
		store = mongoStore
	}

	var limiter api.Limiter = api.NewMemoryLimiter(cfg.RateLimitPerMin, time.Minute)
	if cfg.RedisAddr != "" {
		rds := repo.NewRedis(cfg.RedisAddr)
		defer rds.Close()
		if err := rds.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, limiting per instance", zap.Error(err))
		} else {
			limiter = api.NewRedisLimiter(rds, cfg.RateLimitPerMin, time.Minute, logger)
		}
	}

	var pub queue.Publisher = queue.NewNoop()
	if cfg.RabbitURL != "" {
		rp, err := queue.NewRabbit(cfg.RabbitURL, cfg.RabbitExchange)
		if err != nil {
			logger.Fatal("rabbit connect", zap.Error(err))
		}
		defer rp.Close()
		pub = rp
	}

	mailer := mail.NewMailer(newTransport(cfg, logger), cfg.PublicBaseURL(), cfg.SMTPFromName)

	creds := credential.NewStore(store, credential.WithLogger(logger))
	codec := security.NewCodec(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, security.WithLogger(logger))
	sessions := session.NewManager(codec, creds, cfg.IsPreview(), logger)

	authSvc := auth.NewService(creds, sessions, mailer,
		auth.WithFailureDelay(cfg.LoginFailureDelay),
		auth.WithPublisher(pub),
		auth.WithLogger(logger),
	)
	tokens := emailtoken.NewService(creds, mailer, emailtoken.WithPublisher(pub), emailtoken.WithLogger(logger))
	social := oauth.NewService(oauth.Config{
		Google: oauth.ProviderConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.OAuthCallbackURL(string(domain.ProviderGoogle)),
		},
		Facebook: oauth.ProviderConfig{
			ClientID:     cfg.FacebookClientID,
			ClientSecret: cfg.FacebookClientSecret,
			RedirectURL:  cfg.OAuthCallbackURL(string(domain.ProviderFacebook)),
		},
	}, creds, sessions, oauth.WithPublisher(pub), oauth.WithLogger(logger))

	stateSecret := cfg.OAuthStateSecret
	if stateSecret == "" {
		stateSecret = cfg.JWTSecret
	}

	metrics.MustRegister()
	docs.SwaggerInfo.BasePath = "/"

	h := api.NewHandler(authSvc, tokens, social, oauth.NewStateSigner(stateSecret), sessions, creds, store, logger)
	opts := api.RouterOptions{Limiter: limiter, Guard: api.NewRouteGuard(codec)}
	if cfg.TracingEnabled {
		opts.TraceService = cfg.ServiceName
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(h, opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.ListenAndServe() }()

	logger.Info("fanzone-auth listening",
		zap.String("port", cfg.Port),
		zap.String("public_url", cfg.PublicBaseURL()),
		zap.Bool("preview", cfg.IsPreview()),
		zap.Any("oauth_providers", social.Providers()),
	)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		logger.Info("shutting down", zap.String("signal", s.String()))
	case err := <-srvErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}

func newTransport(cfg config.Config, logger *zap.Logger) mail.Transport {
	if cfg.SMTPHost == "" {
		logger.Warn("SMTP_HOST not set, emails are logged instead of sent")
		return mail.NewLogTransport(logger)
	}
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
	return t
}
