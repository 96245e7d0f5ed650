package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config 구조체 - 모든 환경변수를 담음
type Config struct {
	AppEnv string
	Port   string

	// Gemini API
	GeminiBackend    string // "gemini" | "vertex"
	GeminiAPIKeys    []string
	GeminiTextModel  string
	GeminiImageModel string
	VertexProject    string
	VertexLocation   string

	// Pipeline
	MaxConcurrentUnits int
	RetryMaxAttempts   int
	RetryInitialDelay  time.Duration
	RetryMaxDelay      time.Duration
	RetryMultiplier    float64

	// Artifact store
	ArtifactBackend string // "memory" | "redis"
	ArtifactTTL     time.Duration

	// Redis
	RedisHost     string
	RedisPort     string
	RedisUsername string
	RedisPassword string
	RedisUseTLS   bool

	// Supabase
	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseBucket     string

	// Export
	ExportBackend  string // "supabase" | "minio" | "none"
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	// Session
	SessionDefaultsFile string
	SessionIdleTimeout  time.Duration

	// EnvFileLoaded - .env 파일을 읽었는지 여부 (로그용)
	EnvFileLoaded bool
}

// LoadConfig - 환경변수 로드
func LoadConfig() (*Config, error) {
	// .env 파일 로드 (있으면)
	envLoaded := godotenv.Load() == nil

	cfg := &Config{
		AppEnv: getEnv("APP_ENV", "production"),
		Port:   getEnv("PORT", "8080"),

		GeminiBackend:    strings.ToLower(getEnv("GEMINI_BACKEND", "gemini")),
		GeminiAPIKeys:    apiKeys(),
		GeminiTextModel:  getEnv("GEMINI_TEXT_MODEL", "gemini-2.5-flash"),
		GeminiImageModel: getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
		VertexProject:    getEnv("VERTEXAI_PROJECT", ""),
		VertexLocation:   getEnv("VERTEXAI_LOCATION", "us-central1"),

		MaxConcurrentUnits: getInt("MAX_CONCURRENT_UNITS", 3),
		RetryMaxAttempts:   getInt("RETRY_MAX_ATTEMPTS", 3),
		RetryInitialDelay:  getDuration("RETRY_INITIAL_DELAY", 2*time.Second),
		RetryMaxDelay:      getDuration("RETRY_MAX_DELAY", 20*time.Second),
		RetryMultiplier:    getFloat("RETRY_BACKOFF_MULTIPLIER", 2.0),

		ArtifactBackend: strings.ToLower(getEnv("ARTIFACT_BACKEND", "memory")),
		ArtifactTTL:     getDuration("ARTIFACT_TTL", 24*time.Hour),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisUsername: getEnv("REDIS_USERNAME", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisUseTLS:   getBool("REDIS_USE_TLS", true),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseBucket:     getEnv("SUPABASE_BUCKET", "attachments"),

		ExportBackend:  strings.ToLower(getEnv("EXPORT_BACKEND", "none")),
		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "kulai-results"),
		MinioUseSSL:    getBool("MINIO_USE_SSL", true),

		SessionDefaultsFile: getEnv("SESSION_DEFAULTS_FILE", ""),
		SessionIdleTimeout:  getDuration("SESSION_IDLE_TIMEOUT", 2*time.Hour),

		EnvFileLoaded: envLoaded,
	}

	// 필수 환경변수 검증
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate - 필수 환경변수 검증
func (c *Config) validate() error {
	switch c.GeminiBackend {
	case "gemini":
		if len(c.GeminiAPIKeys) == 0 {
			return fmt.Errorf("GEMINI_API_KEY or GEMINI_API_KEYS is required")
		}
	case "vertex":
		if c.VertexProject == "" {
			return fmt.Errorf("VERTEXAI_PROJECT is required when GEMINI_BACKEND=vertex")
		}
	default:
		return fmt.Errorf("unknown GEMINI_BACKEND %q", c.GeminiBackend)
	}

	if c.MaxConcurrentUnits < 1 {
		return fmt.Errorf("MAX_CONCURRENT_UNITS must be at least 1")
	}

	switch c.ArtifactBackend {
	case "memory":
	case "redis":
		if c.RedisHost == "" {
			return fmt.Errorf("REDIS_HOST is required when ARTIFACT_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unknown ARTIFACT_BACKEND %q", c.ArtifactBackend)
	}

	switch c.ExportBackend {
	case "none":
	case "supabase":
		if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required when EXPORT_BACKEND=supabase")
		}
	case "minio":
		if c.MinioEndpoint == "" {
			return fmt.Errorf("MINIO_ENDPOINT is required when EXPORT_BACKEND=minio")
		}
	default:
		return fmt.Errorf("unknown EXPORT_BACKEND %q", c.ExportBackend)
	}
	return nil
}

// HasSupabase - run 기록용 Supabase 사용 가능 여부
func (c *Config) HasSupabase() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceKey != ""
}

// GetRedisAddr - Redis 연결 문자열 생성
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// apiKeys - GEMINI_API_KEYS (콤마 구분) + GEMINI_API_KEY, 중복 제거
func apiKeys() []string {
	var keys []string
	seen := map[string]bool{}
	add := func(k string) {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			return
		}
		seen[k] = true
		keys = append(keys, k)
	}
	add(os.Getenv("GEMINI_API_KEY"))
	for _, k := range strings.Split(os.Getenv("GEMINI_API_KEYS"), ",") {
		add(k)
	}
	return keys
}

// getEnv - 환경변수 가져오기 (기본값 지원)
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
