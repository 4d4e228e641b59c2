package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores runtime configuration loaded from environment variables.
type Config struct {
	Port string

	LLMProvider     string
	OpenAIKey       string
	OpenAIEndpoint  string
	OpenAIModel     string
	TranscribeModel string
	AnthropicKey    string
	AnthropicModel  string
	GeminiKey       string
	GeminiModel     string

	TTSProvider       string
	CartesiaKey       string
	CartesiaBaseURL   string
	CartesiaVersion   string
	DefaultVoice      string
	DefaultTTSModel   string
	StreamThreshold   int
	SegmentDelay      time.Duration
	OpenAIVoice       string
	OpenAISpeechModel string

	StoreDriver string
	RedisURL    string
	Database    string
	UploadDir   string

	TokenTTL       time.Duration
	MaxUploadBytes int64
	AllowedOrigins []string
	CookieSecure   bool
	TLSCertFile    string
	TLSKeyFile     string

	AWSRegion  string
	BucketName string
}

// Load reads configuration from the environment, providing sensible defaults.
// Files listed in envFiles are loaded first; with none given, ./.env is tried.
func Load(envFiles ...string) Config {
	// Load .env file if it exists (useful for development)
	_ = godotenv.Load(envFiles...)

	cfg := Config{
		Port:              getEnv("PORT", "8080"),
		LLMProvider:       os.Getenv("LLM_PROVIDER"),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenAIEndpoint:    getEnv("OPENAI_API_ENDPOINT", "https://api.openai.com/v1"),
		OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		TranscribeModel:   getEnv("OPENAI_TRANSCRIBE_MODEL", "whisper-1"),
		AnthropicKey:      os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:    getEnv("ANTHROPIC_MODEL", "claude-haiku"),
		GeminiKey:         os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-flash"),
		TTSProvider:       os.Getenv("TTS_PROVIDER"),
		CartesiaKey:       os.Getenv("CARTESIA_API_KEY"),
		CartesiaBaseURL:   getEnv("CARTESIA_BASE_URL", "https://api.cartesia.ai"),
		CartesiaVersion:   getEnv("CARTESIA_VERSION", "2024-06-10"),
		DefaultVoice:      getEnv("TTS_DEFAULT_VOICE", "a0e99841-438c-4a64-b679-ae501e7d6091"),
		DefaultTTSModel:   getEnv("TTS_DEFAULT_MODEL", "sonic-2"),
		StreamThreshold:   getEnvInt("TTS_STREAMING_THRESHOLD", 100),
		SegmentDelay:      getEnvDuration("TTS_SEGMENT_DELAY", 100*time.Millisecond),
		OpenAIVoice:       getEnv("OPENAI_TTS_VOICE", "nova"),
		OpenAISpeechModel: getEnv("OPENAI_TTS_MODEL", "tts-1"),
		StoreDriver:       getEnv("STORE_DRIVER", "memory"),
		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379/0"),
		Database:          getEnv("DATABASE_PATH", "./data/sessions.db"),
		UploadDir:         getEnv("UPLOAD_DIR", "./data/uploads"),
		TokenTTL:          getEnvDuration("WS_TOKEN_TTL", 15*time.Minute),
		MaxUploadBytes:    int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),
		AllowedOrigins:    splitList(getEnv("ALLOWED_ORIGINS", "*")),
		CookieSecure:      getEnvBool("COOKIE_SECURE", false),
		TLSCertFile:       os.Getenv("TLS_CERT_FILE"),
		TLSKeyFile:        os.Getenv("TLS_KEY_FILE"),
		AWSRegion:         getEnv("AWS_REGION", "us-east-1"),
		BucketName:        os.Getenv("BUCKET_NAME"),
	}

	if cfg.LLMProvider == "" {
		cfg.LLMProvider = defaultLLMProvider(cfg)
	}
	if cfg.TTSProvider == "" {
		cfg.TTSProvider = "openai"
		if cfg.CartesiaKey != "" {
			cfg.TTSProvider = "cartesia"
		}
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		log.Fatalf("failed to ensure upload dir %s: %v", cfg.UploadDir, err)
	}
	if cfg.StoreDriver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
			log.Fatalf("failed to ensure database dir %s: %v", cfg.Database, err)
		}
	}

	return cfg
}

// Validate rejects settings the server cannot start with. Missing API keys are
// not errors: the matching features report themselves as unavailable.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	switch c.LLMProvider {
	case "openai", "anthropic", "gemini", "mock":
	default:
		return fmt.Errorf("unknown LLM provider %q", c.LLMProvider)
	}
	switch c.TTSProvider {
	case "cartesia", "openai":
	default:
		return fmt.Errorf("unknown TTS provider %q", c.TTSProvider)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("WS_TOKEN_TTL must be positive")
	}
	if c.SegmentDelay < 0 {
		return fmt.Errorf("TTS_SEGMENT_DELAY must not be negative")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	return nil
}

// TLSEnabled reports whether the server should terminate TLS itself.
func (c Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

func defaultLLMProvider(cfg Config) string {
	switch {
	case cfg.OpenAIKey != "":
		return "openai"
	case cfg.AnthropicKey != "":
		return "anthropic"
	case cfg.GeminiKey != "":
		return "gemini"
	default:
		return "openai"
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("ignoring invalid %s=%q: %v", key, raw, err)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("ignoring invalid %s=%q: %v", key, raw, err)
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("ignoring invalid %s=%q: %v", key, raw, err)
		return fallback
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
