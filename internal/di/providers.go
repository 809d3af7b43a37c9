package di

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/sandeepkv93/gov-coordination-portal/internal/app"
	"github.com/sandeepkv93/gov-coordination-portal/internal/config"
	"github.com/sandeepkv93/gov-coordination-portal/internal/database"
	"github.com/sandeepkv93/gov-coordination-portal/internal/health"
	"github.com/sandeepkv93/gov-coordination-portal/internal/http/handler"
	"github.com/sandeepkv93/gov-coordination-portal/internal/http/middleware"
	"github.com/sandeepkv93/gov-coordination-portal/internal/http/router"
	"github.com/sandeepkv93/gov-coordination-portal/internal/notify"
	"github.com/sandeepkv93/gov-coordination-portal/internal/observability"
	"github.com/sandeepkv93/gov-coordination-portal/internal/repository"
	"github.com/sandeepkv93/gov-coordination-portal/internal/security"
	"github.com/sandeepkv93/gov-coordination-portal/internal/service"
	"github.com/sandeepkv93/gov-coordination-portal/internal/storage"
)

var ConfigSet = wire.NewSet(config.Load)

var ObservabilitySet = wire.NewSet(
	provideObservabilityRuntime,
	provideAppLogger,
)

var RuntimeInfraSet = wire.NewSet(
	provideRuntimeDB,
	provideRedisClient,
	provideProfileImageStore,
	provideReadinessProbeRunner,
)

var RepositorySet = wire.NewSet(
	repository.NewAccountRepository,
	repository.NewRoleRepository,
)

var SecuritySet = wire.NewSet(
	provideJWTManager,
	provideCodeHasher,
)

var NotifySet = wire.NewSet(
	provideMailSender,
	provideDispatcher,
)

var ServiceSet = wire.NewSet(
	provideAuthService,
	provideAuthAbuseGuard,
	wire.Bind(new(service.AuthServiceInterface), new(*service.AuthService)),
)

var HTTPSet = wire.NewSet(
	provideAuthHandler,
	provideGlobalRateLimiter,
	provideAuthRateLimiter,
	provideRouterDependencies,
	router.NewRouter,
	provideHTTPServer,
)

var AppSet = wire.NewSet(provideApp)

func provideObservabilityRuntime(cfg *config.Config) (*observability.Runtime, error) {
	bootstrapLogger := observability.NewBootstrapLogger(cfg)
	return observability.InitRuntime(context.Background(), cfg, bootstrapLogger)
}

func provideAppLogger(cfg *config.Config, runtime *observability.Runtime) *slog.Logger {
	return observability.InitLogger(cfg, runtime.LoggerProvider)
}

func provideRuntimeDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}
	if _, err := database.SeedRoles(db, cfg.BootstrapRoles); err != nil {
		return nil, err
	}
	return db, nil
}

func provideRedisClient(cfg *config.Config) redis.UniversalClient {
	if !cfg.RedisEnabled {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func provideProfileImageStore(cfg *config.Config) (storage.ProfileImageStore, error) {
	if !cfg.StorageEnabled {
		return storage.PassthroughProfileImageStore{}, nil
	}
	store, err := storage.NewMinIOProfileImageStore(
		cfg.StorageEndpoint,
		cfg.StorageAccessKey,
		cfg.StorageSecretKey,
		cfg.StorageBucket,
		cfg.StorageUseSSL,
		cfg.StoragePresignedTTL,
	)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func provideJWTManager(cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTIssuer, cfg.JWTSecret, service.AccessTokenTTL)
}

func provideCodeHasher(cfg *config.Config) *security.CodeHasher {
	return security.NewCodeHasher(cfg.ResetCodeBcryptCost)
}

func provideMailSender(cfg *config.Config, logger *slog.Logger) notify.Sender {
	if cfg.SMTPEnabled {
		return notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			Timeout:  cfg.SMTPTimeout,
		})
	}
	// Local runs print the message body so reset codes can be read from the log.
	return notify.NewLogSender(logger, cfg.IsLocal())
}

func provideDispatcher(cfg *config.Config, sender notify.Sender, logger *slog.Logger) *notify.Dispatcher {
	return notify.NewDispatcher(sender, logger, cfg.NotifyMaxInFlight, cfg.NotifyAsyncTimeout)
}

func provideAuthService(
	cfg *config.Config,
	accounts repository.AccountRepository,
	roles repository.RoleRepository,
	jwt *security.JWTManager,
	codes *security.CodeHasher,
	dispatcher *notify.Dispatcher,
	images storage.ProfileImageStore,
	logger *slog.Logger,
) *service.AuthService {
	return service.NewAuthService(accounts, roles, jwt, codes, dispatcher, images, logger, service.AuthServiceOptions{
		SupportURL: cfg.PortalPublicBaseURL,
	})
}

func provideAuthAbuseGuard(cfg *config.Config, redisClient redis.UniversalClient) service.AuthAbuseGuard {
	if !cfg.AuthAbuseProtection {
		return service.NewNoopAuthAbuseGuard()
	}
	policy := service.AuthAbusePolicy{
		FreeAttempts: cfg.AuthAbuseFreeAttempts,
		BaseDelay:    cfg.AuthAbuseBaseDelay,
		Multiplier:   cfg.AuthAbuseMultiplier,
		MaxDelay:     cfg.AuthAbuseMaxDelay,
		ResetWindow:  cfg.AuthAbuseResetWindow,
	}
	if redisClient != nil {
		return service.NewRedisAuthAbuseGuard(redisClient, "", policy)
	}
	return service.NewInMemoryAuthAbuseGuard(policy)
}

func provideAuthHandler(authSvc service.AuthServiceInterface, guard service.AuthAbuseGuard, cfg *config.Config) *handler.AuthHandler {
	return handler.NewAuthHandler(authSvc, guard, cfg.APIExposeInternalErrors)
}

func provideGlobalRateLimiter(cfg *config.Config, redisClient redis.UniversalClient) router.GlobalRateLimiterFunc {
	if cfg.RateLimitRedisEnabled && redisClient != nil {
		return middleware.NewDistributedRateLimiter(
			middleware.NewRedisFixedWindowLimiter(redisClient, "portal:rl:api"),
			cfg.APIRateLimitPerMin,
			time.Minute,
			middleware.FailOpen,
			"api",
		).Middleware()
	}
	return middleware.NewRateLimiter(cfg.APIRateLimitPerMin, time.Minute, "api").Middleware()
}

func provideAuthRateLimiter(cfg *config.Config, redisClient redis.UniversalClient) router.AuthRateLimiterFunc {
	if cfg.RateLimitRedisEnabled && redisClient != nil {
		return middleware.NewDistributedRateLimiter(
			middleware.NewRedisFixedWindowLimiter(redisClient, "portal:rl:auth"),
			cfg.AuthRateLimitPerMin,
			time.Minute,
			middleware.FailClosed,
			"auth",
		).Middleware()
	}
	return middleware.NewRateLimiter(cfg.AuthRateLimitPerMin, time.Minute, "auth").Middleware()
}

func provideRouterDependencies(
	authHandler *handler.AuthHandler,
	jwt *security.JWTManager,
	globalRateLimiter router.GlobalRateLimiterFunc,
	authRateLimiter router.AuthRateLimiterFunc,
	readiness *health.ProbeRunner,
	cfg *config.Config,
) router.Dependencies {
	return router.Dependencies{
		AuthHandler:       authHandler,
		TokenParser:       jwt,
		CORSOrigins:       cfg.CORSAllowedOrigins,
		MaxBodyBytes:      cfg.HTTPMaxBodyBytes,
		AuthRateLimitRPM:  cfg.AuthRateLimitPerMin,
		APIRateLimitRPM:   cfg.APIRateLimitPerMin,
		GlobalRateLimiter: globalRateLimiter,
		AuthRateLimiter:   authRateLimiter,
		Readiness:         readiness,
		EnableOTelHTTP:    cfg.OTELMetricsEnabled || cfg.OTELTracingEnabled,
	}
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           h,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func provideReadinessProbeRunner(cfg *config.Config, db *gorm.DB, redisClient redis.UniversalClient, images storage.ProfileImageStore) *health.ProbeRunner {
	checkers := []health.Checker{health.NewDBChecker(db)}
	if cfg.RedisEnabled {
		checkers = append(checkers, health.NewRedisChecker(redisClient))
	}
	if cfg.StorageEnabled {
		checkers = append(checkers, health.NewPingChecker("object_storage", images))
	}
	return health.NewProbeRunner(cfg.ReadinessProbeTimeout, 0, checkers...)
}

func provideApp(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	db *gorm.DB,
	redisClient redis.UniversalClient,
	dispatcher *notify.Dispatcher,
) *app.App {
	return app.New(cfg, logger, server, runtime, db, redisClient, dispatcher)
}
