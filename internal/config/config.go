package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr         string        `yaml:"addr"`
	APITimeout   time.Duration `yaml:"timeout"`
	DatabasePath string        `yaml:"database_path"`
	ExportDir    string        `yaml:"export_dir"`
	// TokenKey is the 32-byte (hex or raw) key used to encrypt provider
	// tokens at rest.
	TokenKey     string         `yaml:"token_key"`
	JobRetention time.Duration  `yaml:"job_retention"`
	WorkerCount  int            `yaml:"worker_count"`
	IdP          IdPConfig      `yaml:"idp"`
	Embedder     EmbedderConfig `yaml:"embedder"`
}

type IdPConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	// CacheTTL bounds how long a validated token stays trusted without
	// re-checking the userinfo endpoint.
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	CacheSize int           `yaml:"cache_size"`
}

type EmbedderConfig struct {
	BaseURL                 string        `yaml:"base_url"`
	Model                   string        `yaml:"model"`
	Timeout                 time.Duration `yaml:"timeout"`
	CircuitFailureThreshold int           `yaml:"circuit_failure_threshold"`
	CircuitReset            time.Duration `yaml:"circuit_reset"`
}

func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		Addr:         getEnv("CISENTRY_ADDR", ":8080"),
		APITimeout:   15 * time.Second,
		DatabasePath: getEnv("CISENTRY_DATABASE_PATH", "cisentry.db"),
		ExportDir:    getEnv("CISENTRY_EXPORT_DIR", "exports"),
		TokenKey:     getEnv("CISENTRY_TOKEN_KEY", ""),
		JobRetention: 7 * 24 * time.Hour,
		WorkerCount:  getEnvInt("CISENTRY_WORKER_COUNT", 2),
		IdP: IdPConfig{
			BaseURL:   getEnv("CISENTRY_IDP_URL", "http://localhost:8082"),
			Timeout:   10 * time.Second,
			CacheTTL:  10 * time.Minute,
			CacheSize: 1024,
		},
		Embedder: EmbedderConfig{
			BaseURL:                 getEnv("CISENTRY_OLLAMA_URL", "http://localhost:11434"),
			Model:                   getEnv("CISENTRY_EMBED_MODEL", "nomic-embed-text"),
			Timeout:                 30 * time.Second,
			CircuitFailureThreshold: 5,
			CircuitReset:            30 * time.Second,
		},
	}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		if err := dec.Decode(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}

	return def
}
