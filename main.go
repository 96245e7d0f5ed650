package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"kulai-character-server/modules/artifact"
	"kulai-character-server/modules/common/config"
	"kulai-character-server/modules/common/database"
	"kulai-character-server/modules/common/gemini"
	"kulai-character-server/modules/common/logger"
	"kulai-character-server/modules/common/redis"
	"kulai-character-server/modules/common/storage"
	"kulai-character-server/modules/common/vertexai"
	"kulai-character-server/modules/pipeline"
	"kulai-character-server/modules/stage"
	"kulai-character-server/modules/studio"
)

const cleanupInterval = 5 * time.Minute

// CORS 헤더 추가
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// newGateway - GEMINI_BACKEND 에 따라 API 키 로테이션 또는 Vertex AI 게이트웨이 생성
// 두 경우 모두 rate limit 재시도 래퍼를 씌움
func newGateway(ctx context.Context, cfg *config.Config, log zerolog.Logger) (gemini.Submitter, error) {
	policy := gemini.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.RetryMaxAttempts
	policy.InitialDelay = cfg.RetryInitialDelay
	policy.MaxDelay = cfg.RetryMaxDelay
	policy.Multiplier = cfg.RetryMultiplier

	opts := gemini.Options{
		TextModel:  cfg.GeminiTextModel,
		ImageModel: cfg.GeminiImageModel,
		Logger:     log,
	}

	if cfg.GeminiBackend == "vertex" {
		client, err := vertexai.NewClient(ctx, cfg.VertexProject, cfg.VertexLocation, log)
		if err != nil {
			return nil, err
		}
		opts.KeyLabel = "vertex"
		return gemini.NewRetrying(policy, log, gemini.NewGateway(client, opts)), nil
	}

	targets := make([]gemini.Submitter, 0, len(cfg.GeminiAPIKeys))
	for i, key := range cfg.GeminiAPIKeys {
		client, err := gemini.NewAPIKeyClient(ctx, key, nil)
		if err != nil {
			return nil, fmt.Errorf("API key #%d: %w", i+1, err)
		}
		keyOpts := opts
		keyOpts.KeyLabel = fmt.Sprintf("key-%d", i+1)
		targets = append(targets, gemini.NewGateway(client, keyOpts))
	}
	log.Info().Int("keys", len(targets)).Msg("🔑 Gemini API keys loaded")
	return gemini.NewRetrying(policy, log, targets...), nil
}

// newExporter - EXPORT_BACKEND 에 따라 결과 export 저장소 선택 (none 이면 nil)
func newExporter(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storage.Exporter, error) {
	switch cfg.ExportBackend {
	case "supabase":
		if !cfg.HasSupabase() {
			return nil, errors.New("EXPORT_BACKEND=supabase requires SUPABASE_URL and SUPABASE_SERVICE_KEY")
		}
		return storage.NewSupabaseExporter(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseBucket, log), nil
	case "minio":
		exp, err := storage.NewMinioExporter(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL, log)
		if err != nil {
			return nil, err
		}
		if err := exp.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return exp, nil
	default:
		log.Info().Msg("📦 Result export disabled")
		return nil, nil
	}
}

func main() {
	// 환경변수 로드
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.AppEnv)
	if cfg.EnvFileLoaded {
		log.Info().Msg("✅ .env file loaded")
	}

	defaults, err := config.LoadSessionDefaults(cfg.SessionDefaultsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to load session defaults")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := newGateway(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to initialize Gemini gateway")
	}
	orch := pipeline.NewOrchestrator(stage.New(gw, log), cfg.MaxConcurrentUnits, log)

	// artifact 저장소 (memory | redis)
	newStore := func(string) artifact.Store { return artifact.NewMemoryStore() }
	if cfg.ArtifactBackend == "redis" {
		rdb, err := redis.Connect(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("❌ Failed to connect to Redis")
		}
		defer rdb.Close()
		newStore = func(sessionID string) artifact.Store {
			return artifact.NewRedisStore(rdb, sessionID, cfg.ArtifactTTL)
		}
	}

	// Supabase 실행 기록 (선택)
	var (
		runs     studio.RunStore
		exports  studio.ExportLedger
		recorder pipeline.Recorder
	)
	if cfg.HasSupabase() {
		db, err := database.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, log)
		if err != nil {
			log.Fatal().Err(err).Msg("❌ Failed to create Supabase client")
		}
		runs, exports, recorder = db, db, studio.NewRecorder(db)
	} else {
		log.Warn().Msg("⚠️ Supabase not configured, run history disabled")
	}

	exporter, err := newExporter(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to initialize export storage")
	}

	manager := studio.NewManager(studio.ManagerOptions{
		Orchestrator: orch,
		NewStore:     newStore,
		Defaults: pipeline.Settings{
			Profile: defaults.Profile,
			Art:     defaults.Art,
			Color:   defaults.Color,
		},
		Recorder:    recorder,
		IdleTimeout: cfg.SessionIdleTimeout,
	}, log)
	manager.StartCleanupRoutine(ctx, cleanupInterval)

	handler := studio.NewHandler(studio.HandlerOptions{
		Manager:  manager,
		Exporter: exporter,
		Runs:     runs,
		Exports:  exports,
	}, log)

	// 라우터 설정
	r := mux.NewRouter()
	r.Use(enableCORS)
	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("🚀 KulAI character server starting")
		log.Info().Msgf("📡 WebSocket endpoint: ws://localhost:%s/ws", cfg.Port)
		log.Info().Msgf("❤️  Health check: http://localhost:%s/health", cfg.Port)
		log.Info().Msgf("📊 Metrics: http://localhost:%s/metrics", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("🛑 Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("❌ Graceful shutdown failed")
	}
	manager.CloseAll(shutdownCtx)
}
