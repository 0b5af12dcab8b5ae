package main

import (
	"context"
	"time"

	"clinic-phone/config"
	"clinic-phone/internal/diagnostics"
	"clinic-phone/internal/events"
	"clinic-phone/internal/handler"
	"clinic-phone/internal/provider"
	"clinic-phone/internal/provider/simulator"
	"clinic-phone/internal/redis"
	"clinic-phone/internal/repository"
	"clinic-phone/internal/server"
	"clinic-phone/internal/services"
	"clinic-phone/internal/storage"
	"clinic-phone/internal/store"
	"clinic-phone/internal/validation"
	"clinic-phone/internal/websocket"
	"clinic-phone/pkg/logger"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()

	l := logger.New(cfg.LogMode)
	logger.SetGlobalLogger(l)
	defer l.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessionID := uuid.NewString()
	st := store.New(cfg.HistoryCapacity)
	diag := diagnostics.New(cfg.DiagnosticCapacity, sessionID, l.Component("diagnostics"))

	var redisClient *goredis.Client
	if cfg.RedisEnabled() {
		redis.Initialize(redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		redisClient = redis.GetClient()
		if err := redis.Ping(ctx, redisClient, 3*time.Second); err != nil {
			l.Logger.Fatal("Redis unavailable", zap.Error(err))
		}
		diag.AddSink(redis.NewDiagnosticsSink(redisClient, cfg.DiagnosticCapacity))
	}
	go diag.Run(ctx)

	backend := persistenceBackend(ctx, cfg, redisClient, l)
	worker := services.NewPersistenceWorker(st, backend, cfg.PersistInterval, l.Component("persistence"))
	if err := worker.Restore(ctx); err != nil {
		l.Logger.Warn("Restoring phone state failed, starting empty", zap.Error(err))
	}
	worker.Start()

	factory := func() provider.Provider {
		opts := []simulator.Option{simulator.WithLogger(l.Component("simulator"))}
		if cfg.SimSeed != 0 {
			opts = append(opts, simulator.WithRandomizer(simulator.NewSeededRandomizer(uint64(cfg.SimSeed))))
		}
		odds := simulator.DefaultOdds()
		odds.RegistrationFailure = cfg.SimRegistrationFailureRate
		opts = append(opts, simulator.WithOdds(odds), simulator.WithMicrophone(st.Permissions().Microphone))
		return simulator.New(opts...)
	}
	initOptions := func() provider.InitOptions {
		return provider.InitOptions{
			Identity:    cfg.SIPIdentity,
			Server:      cfg.SIPServer,
			DisplayName: cfg.SIPDisplayName,
			Devices:     st.Settings().Devices,
		}
	}
	manager := services.NewProviderManager(factory, initOptions, l.Component("provider_manager"))
	phoneSvc := services.NewPhoneService(manager, st, diag, l.Component("phone"))

	var pushEvents events.Subscriber = phoneSvc.Events()
	var bus *events.RedisEventBus
	if redisClient != nil {
		bus = events.NewRedisEventBus(redisClient, events.NewPhoneChannelResolver(), sessionID, l.Component("event_bus"))
		if err := bus.Start(); err != nil {
			l.Logger.Fatal("Subscribing to phone events failed", zap.Error(err))
		}
		phoneSvc.Events().Subscribe(bus.Forward())
		pushEvents = bus
	}

	var archiver *storage.Archiver
	if cfg.S3Enabled() {
		s3Client, err := storage.NewClient(ctx, storage.S3Config{
			Region:     cfg.S3Region,
			Bucket:     cfg.S3Bucket,
			AccessKey:  cfg.S3AccessKey,
			SecretKey:  cfg.S3SecretKey,
			Endpoint:   cfg.S3Endpoint,
			PresignTTL: 15 * time.Minute,
		})
		if err != nil {
			l.Logger.Fatal("S3 client setup failed", zap.Error(err))
		}
		archiver = storage.NewArchiver(s3Client, cfg.S3Prefix, st, diag, l.Component("archiver"))
	}

	authService := services.NewAuthService(cfg)
	var limiters server.Limiters
	var resetter handler.AuthResetter
	if redisClient != nil {
		rl := redis.NewRateLimiter(redisClient, redis.RateLimitConfig{
			DialLimit:  cfg.DialRateLimit,
			DialWindow: time.Minute,
			AuthLimit:  redis.DefaultRateLimitConfig().AuthLimit,
			AuthWindow: redis.DefaultRateLimitConfig().AuthWindow,
		})
		limiters = server.Limiters{Auth: rl, Dial: rl}
		resetter = rl
	}

	hub := websocket.NewHub()
	go hub.Run(ctx)
	bridge := websocket.NewBridge(pushEvents, events.NewPhoneChannelResolver(), st, hub, l.Logger)
	bridge.Start(ctx)

	var phoneArchiver handler.Archiver
	if archiver != nil {
		phoneArchiver = archiver
	}
	srv := server.New(cfg, l)
	srv.SetupRoutes(&server.Handlers{
		Auth:      handler.NewAuthHandler(authService, resetter),
		Phone:     handler.NewPhoneHandler(phoneSvc, validation.MustNew(), phoneArchiver),
		WebSocket: websocket.NewHandler(hub, bridge, websocket.NewChannelAuthorizer(0), cfg.CORSOrigins, l.Logger),
	}, authService, limiters)

	if cfg.AutoRegister {
		go func() {
			if err := phoneSvc.Register(ctx); err != nil {
				l.Logger.Warn("Startup registration failed", zap.Error(err))
			}
		}()
	}

	if err := srv.Start(); err != nil {
		l.Logger.Error("Server stopped with error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := phoneSvc.Shutdown(shutdownCtx); err != nil {
		l.Logger.Warn("Phone shutdown incomplete", zap.Error(err))
	}
	if archiver != nil {
		if res, err := archiver.Upload(shutdownCtx); err != nil {
			l.Logger.Warn("Shutdown archive failed", zap.Error(err))
		} else {
			l.Logger.Info("Shutdown archive written", zap.String("key", res.Key))
		}
	}
	if err := worker.Stop(shutdownCtx); err != nil {
		l.Logger.Warn("Final state save failed", zap.Error(err))
	}
	if c, ok := backend.(interface{ Close() }); ok {
		c.Close()
	}
	if bus != nil {
		_ = bus.Stop()
	}
	cancel()
	if redisClient != nil {
		_ = redisClient.Close()
	}
}

func persistenceBackend(ctx context.Context, cfg *config.Config, redisClient *goredis.Client, l *logger.Logger) store.Persistence {
	switch cfg.PersistenceBackend {
	case config.PersistenceRedis:
		if redisClient == nil {
			l.Logger.Fatal("PERSISTENCE_BACKEND=redis requires REDIS_HOST")
		}
		return redis.NewStateStore(redisClient, cfg.StateProfile)
	case config.PersistencePostgres:
		pool, err := repository.Connect(ctx, repository.PostgresConfig{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			Database: cfg.DBName,
		})
		if err != nil {
			l.Logger.Fatal("Postgres unavailable", zap.Error(err))
		}
		if err := repository.EnsureSchema(ctx, pool); err != nil {
			l.Logger.Fatal("Postgres schema setup failed", zap.Error(err))
		}
		return repository.NewStateRepository(pool, cfg.StateProfile)
	default:
		return store.NewMemoryPersistence()
	}
}
