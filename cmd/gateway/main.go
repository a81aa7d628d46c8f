package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/cache"
	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/config"
	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/db"
	apihttp "github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/http"
	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/llm"
	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/repository"
	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/scheduler"
	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/service"
	"github.com/Muzzammil-Medical-Complex/project-lyra-cr-review-sub000/internal/vector"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()
	if err := db.Ping(ctx, pool); err != nil {
		logger.Fatal("db ping", zap.Error(err))
	}

	// Redis es opcional: sin él los contadores de tasa y ofensas degradan a
	// Noop y la iniciativa proactiva queda vetada por falta de estado.
	var kv cache.Cache = cache.Noop{}
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			PoolSize: cfg.RedisPoolSize,
		})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed, rate state disabled", zap.Error(err))
		} else {
			kv = cache.NewRedisCache(redisClient)
		}
		cancel()
	}

	guard := repository.NewGuard(pool, logger)
	userRepo := repository.NewPgUserRepository(guard)
	persoRepo := repository.NewPgPersonalityRepository(guard)
	quirkRepo := repository.NewPgQuirkRepository(guard)
	needRepo := repository.NewPgNeedRepository(guard)
	interactionRepo := repository.NewPgInteractionRepository(guard)
	incidentRepo := repository.NewPgIncidentRepository(guard)
	conflictRepo := repository.NewPgConflictRepository(guard)
	reflectionRepo := repository.NewPgReflectionRepository(guard)
	store := vector.NewPgStore(pool)

	client := llm.NewHTTPClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.MaxConcurrentAICalls, logger)
	router := llm.NewRouter(client, cfg.PrimaryModel, cfg.FallbackModel, logger)
	embedder := llm.NewHTTPEmbedder(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDim, cfg.EmbedWorkers, kv, logger)

	serializer := service.NewUserSerializer(time.Minute, logger)
	personalitySvc := service.NewPersonalityService(
		userRepo, persoRepo, quirkRepo, needRepo, interactionRepo,
		cfg.PADDriftRate, cfg.QuirkReinforcementRate, cfg.QuirkDecayRate, logger,
	)
	scorer := service.NewImportanceScorer(client, cfg.ScoringModel, kv, logger)
	memorySvc := service.NewMemoryService(store, embedder, scorer, conflictRepo, logger)
	appraisal := service.NewAppraisalEngine(client, cfg.ScoringModel, logger)
	offenses := cache.NewOffenseCounter(kv, time.Duration(cfg.SecurityOffenseWindowDays)*24*time.Hour, 3)
	securitySvc := service.NewSecurityService(client, service.SecurityConfig{
		Model:               cfg.ScoringModel,
		ConfidenceThreshold: cfg.SecurityConfidenceThreshold,
		OffenseWindow:       time.Duration(cfg.SecurityOffenseWindowDays) * 24 * time.Hour,
	}, incidentRepo, offenses, kv, personalitySvc, logger)
	chatSvc := service.NewChatService(
		userRepo, interactionRepo, personalitySvc, memorySvc,
		appraisal, securitySvc, serializer, router, logger,
	)
	proactiveSvc := service.NewProactiveService(
		userRepo, interactionRepo, personalitySvc, memorySvc,
		serializer, router, kv, cfg.MaxProactivePerDay, logger,
	)
	reflectionSvc := service.NewReflectionService(
		userRepo, quirkRepo, needRepo, persoRepo, reflectionRepo,
		personalitySvc, memorySvc, serializer, client, cfg.PrimaryModel,
		cfg.MaxReflectionBatchSize, cfg.QuirkDecayRate, logger,
	)

	loc, err := time.LoadLocation(cfg.SchedulerTZ)
	if err != nil {
		logger.Warn("invalid scheduler timezone, falling back to UTC", zap.String("tz", cfg.SchedulerTZ))
		loc = time.UTC
	}
	sched := scheduler.New(loc, 30*time.Second, logger)
	jobs := []scheduler.Job{
		{
			Name: "nightly_reflection",
			Spec: "0 3 * * *",
			Run: func(ctx context.Context) error {
				_, err := reflectionSvc.RunAll(ctx)
				return err
			},
		},
		{
			Name:          "proactive_sweep",
			Spec:          "*/5 * * * *",
			MaxConcurrent: 2,
			Run: func(ctx context.Context) error {
				proactiveSvc.Sweep(ctx)
				return nil
			},
		},
		{
			// Seis pasadas diarias cuyo producto equivale al decaimiento
			// diario de recencia.
			Name: "recency_decay",
			Spec: "0 */4 * * *",
			Run: func(ctx context.Context) error {
				return store.DecayRecencyAll(ctx, service.RecencyDecayStep(6))
			},
		},
		{
			Name: "needs_decay",
			Spec: "0 * * * *",
			Run: func(ctx context.Context) error {
				return needRepo.DecayAllTowardOne(ctx, 1)
			},
		},
		{
			Name: "memory_cleanup",
			Spec: "0 4 * * 0",
			Run: func(ctx context.Context) error {
				removed, err := store.CleanupWeak(ctx, 0.05, 0.2)
				if err == nil && removed > 0 {
					logger.Info("weak memories removed", zap.Int("removed", removed))
				}
				return err
			},
		},
		{
			Name: "engagement_check",
			Spec: "0 1 * * *",
			Run: func(ctx context.Context) error {
				cutoff := time.Now().UTC().Add(-14 * 24 * time.Hour)
				ids, err := userRepo.ListIdleSince(ctx, cutoff)
				if err != nil {
					return err
				}
				for _, id := range ids {
					if err := userRepo.SetEngagementFlag(ctx, id, true); err != nil {
						logger.Warn("engagement flag failed", zap.String("user_id", id), zap.Error(err))
					}
				}
				return nil
			},
		},
		{
			Name: "serializer_sweep",
			Spec: "*/10 * * * *",
			Run: func(_ context.Context) error {
				serializer.SweepIdle(10 * time.Minute)
				return nil
			},
		},
	}
	for _, job := range jobs {
		if err := sched.Register(job); err != nil {
			logger.Fatal("register job", zap.String("job", job.Name), zap.Error(err))
		}
	}
	sched.Start()
	defer sched.Stop()

	chatHandler := apihttp.NewChatHandler(logger, chatSvc, proactiveSvc, personalitySvc)
	introspectHandler := apihttp.NewIntrospectHandler(logger, personalitySvc, memorySvc, interactionRepo)
	adminHandler := apihttp.NewAdminHandler(logger, userRepo, interactionRepo, incidentRepo, sched, personalitySvc, store, reflectionRepo)
	engine := apihttp.NewRouter(logger, apihttp.RouterConfig{
		IdentitySecret: cfg.GatewayJWTSecret,
		AdminTokenHash: cfg.AdminTokenHash,
		Ping: func(ctx context.Context) error {
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			return db.Ping(pingCtx, pool)
		},
	}, chatHandler, introspectHandler, adminHandler)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
}
