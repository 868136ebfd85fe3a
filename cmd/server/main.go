package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/raakeshmj/postplane/internal/audit"
	"github.com/raakeshmj/postplane/internal/auth"
	"github.com/raakeshmj/postplane/internal/cache"
	"github.com/raakeshmj/postplane/internal/circuitbreaker"
	"github.com/raakeshmj/postplane/internal/config"
	"github.com/raakeshmj/postplane/internal/db"
	"github.com/raakeshmj/postplane/internal/identity"
	"github.com/raakeshmj/postplane/internal/limiter"
	"github.com/raakeshmj/postplane/internal/metrics"
	"github.com/raakeshmj/postplane/internal/middleware"
	"github.com/raakeshmj/postplane/internal/notify"
	"github.com/raakeshmj/postplane/internal/policy"
	"github.com/raakeshmj/postplane/internal/reliability"
	"github.com/raakeshmj/postplane/internal/repository"
	"github.com/raakeshmj/postplane/internal/repository/memory"
	"github.com/raakeshmj/postplane/internal/repository/postgres"
	"github.com/raakeshmj/postplane/internal/repository/sqlite"
	"github.com/raakeshmj/postplane/internal/revocation"
	"github.com/raakeshmj/postplane/internal/server"
	"github.com/raakeshmj/postplane/internal/service"
	"github.com/raakeshmj/postplane/internal/storage"
	"github.com/raakeshmj/postplane/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Printf("Server failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	strategy, _ := reliability.ParseStrategy(cfg.FailureStrategy)

	shutdownTracing, err := telemetry.Setup(ctx, cfg.AppName, cfg.OTelEndpoint, cfg.OTelEnabled)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	collector := metrics.NewCollector(1000)

	// Redis is optional; without it every shared guard runs in-process.
	var (
		rdb         *redis.Client
		breaker     *circuitbreaker.CircuitBreaker
		rateLimiter middleware.RateLimiter
		revocations auth.RevocationStore
		memLimiter  *limiter.MemoryLimiter
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("redis at %s unreachable at startup, strategy %s applies: %v", cfg.RedisAddr, strategy, err)
		}
		breaker = circuitbreaker.New(rdb, 5, time.Minute, 30*time.Second, strategy)
		rateLimiter = limiter.NewTokenBucketLimiter(rdb)
		revocations = revocation.NewRedisStore(rdb, strategy)
	} else {
		memLimiter = limiter.NewMemoryLimiter(10 * time.Minute)
		rateLimiter = memLimiter
		revocations = revocation.NewMemoryStore()
	}

	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, auth.Policy{
		AccessTTL:   cfg.AccessTokenTTL,
		RefreshTTL:  cfg.RefreshTokenTTL,
		PersonalTTL: cfg.PersonalTokenTTL,
	}, revocations)

	mailer, err := newMailer(cfg)
	if err != nil {
		return err
	}
	dispatcher := notify.NewDispatcher(mailer, notify.Renderer{
		AppName:    cfg.AppName,
		PostURLFmt: cfg.PublicURL + "/posts/%d",
	}, cfg.MailWorkers, cfg.MailQueueSize, log.Default(), collector)

	blobs, err := storage.NewDisk(cfg.StorageDir, cfg.PublicURL+"/storage")
	if err != nil {
		return err
	}

	userCache := cache.NewMemoryCache[*db.User]()
	authSvc := service.NewAuthService(store, issuer, newVerifier(cfg, breaker), dispatcher, userCache)
	if cfg.BootstrapAdminEmail != "" {
		created, err := authSvc.EnsureAdmin(ctx, cfg.BootstrapAdminName, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword)
		if err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		if created {
			log.Printf("bootstrap admin %s created", cfg.BootstrapAdminEmail)
		}
	}

	engine := policy.NewEngine()
	if cfg.PolicyFile != "" {
		err = engine.LoadFile(cfg.PolicyFile)
	} else {
		err = engine.LoadPolicies(policy.DefaultPolicies())
	}
	if err != nil {
		return fmt.Errorf("load policies: %w", err)
	}

	srv := server.New(server.Deps{
		Store:         store,
		Auth:          authSvc,
		Posts:         service.NewPostService(store, store, blobs, dispatcher),
		Categories:    service.NewCategoryService(store),
		Blobs:         blobs,
		Limiter:       rateLimiter,
		Strategy:      strategy,
		Metrics:       collector,
		Audit:         audit.NewJSONLogger(os.Stdout),
		ConfigManager: config.NewDynamicConfigManager(cfg.RateLimit, cfg.RateBurst),
		Policies:      engine,
		PolicyFile:    cfg.PolicyFile,
		Security:      middleware.SecurityConfig{EnableReplayProtection: cfg.ReplayProtection, ReplayWindow: 5 * time.Minute},
		Redis:         rdb,
		Breaker:       breaker,
		Tracer:        otel.GetTracerProvider(),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer dispatcher.Close()
		return srv.Run(gctx, ":"+cfg.ServerPort)
	})
	g.Go(func() error {
		return dispatcher.Run(context.WithoutCancel(gctx))
	})
	if memLimiter != nil {
		g.Go(func() error {
			memLimiter.Run(gctx, time.Minute)
			return nil
		})
	}
	g.Go(func() error {
		purge(gctx, userCache)
		return nil
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.DatabaseURL)
	case config.DriverMemory:
		log.Printf("using in-memory store; data is lost on exit")
		return memory.New(), nil
	default:
		return sqlite.Open(cfg.SQLitePath)
	}
}

func newMailer(cfg *config.Config) (notify.Mailer, error) {
	logMailer := notify.NewLogMailer(log.Default())
	switch cfg.MailDriver {
	case config.MailSMTP:
		return notify.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.MailFrom), nil
	case config.MailResend, config.MailBoth:
		resend, err := notify.NewResendMailer(cfg.ResendAPIKey, cfg.MailFrom)
		if err != nil {
			return nil, err
		}
		if cfg.MailDriver == config.MailBoth {
			return notify.Fanout{logMailer, resend}, nil
		}
		return resend, nil
	case config.MailLog:
		return logMailer, nil
	}
	return nil, errors.New("unknown mail driver " + cfg.MailDriver)
}

// newVerifier returns nil when no provider is configured so OAuth reports
// the provider as unavailable.
func newVerifier(cfg *config.Config, breaker *circuitbreaker.CircuitBreaker) identity.Verifier {
	switch {
	case cfg.SupabaseJWTSecret != "":
		return identity.NewLocalVerifier(cfg.SupabaseJWTSecret)
	case cfg.SupabaseURL != "":
		var b identity.Breaker
		if breaker != nil {
			b = breaker
		}
		return identity.NewRemoteVerifier(cfg.SupabaseURL, cfg.SupabaseAnonKey, nil, b, cfg.IdentityCacheTTL)
	}
	return nil
}

// purge drops expired cached users until ctx ends.
func purge(ctx context.Context, users *cache.MemoryCache[*db.User]) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			users.Purge()
		}
	}
}
