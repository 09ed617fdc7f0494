package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr        string   `yaml:"addr"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`

	LLM struct {
		Provider       string  `yaml:"provider"`
		BaseURL        string  `yaml:"base_url"`
		APIKey         string  `yaml:"api_key"`
		Model          string  `yaml:"model"`
		EmbeddingModel string  `yaml:"embedding_model"`
		MaxTokens      int     `yaml:"max_tokens"`
		Temperature    float64 `yaml:"temperature"`
	} `yaml:"llm"`

	Database struct {
		URL                string `yaml:"url"`
		VectorDim          int    `yaml:"vector_dim"`
		BatchSize          int    `yaml:"batch_size"`
		HNSWM              int    `yaml:"hnsw_m"`
		HNSWEfConstruction int    `yaml:"hnsw_ef_construction"`
		HNSWEfSearch       int    `yaml:"hnsw_ef_search"`
		IterativeScan      string `yaml:"iterative_scan"`
	} `yaml:"database"`

	RAG struct {
		TopK int `yaml:"top_k"`
		// Nil until defaults run; an explicit 0 is kept.
		ConfidenceThreshold *float64 `yaml:"confidence_threshold"`
	} `yaml:"rag"`

	Processor struct {
		ChunkSize    int `yaml:"chunk_size"`
		ChunkOverlap int `yaml:"chunk_overlap"`
	} `yaml:"processor"`

	Scraper struct {
		RateLimit float64       `yaml:"rate_limit"`
		Timeout   time.Duration `yaml:"timeout"`
	} `yaml:"scraper"`

	Ingest struct {
		Workers    int           `yaml:"workers"`
		QueueSize  int           `yaml:"queue_size"`
		MaxRetries int           `yaml:"max_retries"`
		RetryDelay time.Duration `yaml:"retry_delay"`
		// RecoveryInterval is how often the server re-queues documents
		// left in processing by a previous run.
		RecoveryInterval time.Duration `yaml:"recovery_interval"`
	} `yaml:"ingest"`

	Blob struct {
		Path   string `yaml:"path"`
		Bucket string `yaml:"bucket"`
	} `yaml:"blob"`

	Auth struct {
		SessionTTL time.Duration `yaml:"session_ttl"`
	} `yaml:"auth"`

	RateLimit struct {
		Strategy          string `yaml:"strategy"`
		Key               string `yaml:"key"`
		RequestsPerMinute int    `yaml:"requests_per_minute"`
		Burst             int    `yaml:"burst"`
	} `yaml:"rate_limit"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/concierge/config.yaml"),
			"/etc/concierge/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	applyDefaults(config)
	mergeWithEnv(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}

	if config.LLM.Provider == "" {
		config.LLM.Provider = "openai"
	}
	if config.LLM.Model == "" {
		config.LLM.Model = "gpt-4o-mini"
	}
	if config.LLM.EmbeddingModel == "" {
		config.LLM.EmbeddingModel = "text-embedding-3-small"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 1024
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.2
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == "ollama" {
		config.LLM.BaseURL = "http://localhost:11434"
	}

	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 1536
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 100
	}
	if config.Database.HNSWM == 0 {
		config.Database.HNSWM = 16
	}
	if config.Database.HNSWEfConstruction == 0 {
		config.Database.HNSWEfConstruction = 64
	}
	if config.Database.HNSWEfSearch == 0 {
		config.Database.HNSWEfSearch = 40
	}
	if config.Database.IterativeScan == "" {
		config.Database.IterativeScan = "strict_order"
	}

	if config.RAG.TopK == 0 {
		config.RAG.TopK = 8
	}
	if config.RAG.ConfidenceThreshold == nil {
		threshold := 0.30
		config.RAG.ConfidenceThreshold = &threshold
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 800
	}
	if config.Processor.ChunkOverlap == 0 {
		config.Processor.ChunkOverlap = 200
	}

	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if config.Scraper.Timeout == 0 {
		config.Scraper.Timeout = 30 * time.Second
	}

	if config.Ingest.Workers == 0 {
		config.Ingest.Workers = 2
	}
	if config.Ingest.QueueSize == 0 {
		config.Ingest.QueueSize = 256
	}
	if config.Ingest.MaxRetries == 0 {
		config.Ingest.MaxRetries = 3
	}
	if config.Ingest.RetryDelay == 0 {
		config.Ingest.RetryDelay = 60 * time.Second
	}
	if config.Ingest.RecoveryInterval == 0 {
		config.Ingest.RecoveryInterval = 5 * time.Minute
	}

	if config.Blob.Path == "" {
		config.Blob.Path = "data/blobs.db"
	}
	if config.Blob.Bucket == "" {
		config.Blob.Bucket = "concierge-kb"
	}

	if config.Auth.SessionTTL == 0 {
		config.Auth.SessionTTL = 60 * time.Minute
	}

	if config.RateLimit.Strategy == "" {
		config.RateLimit.Strategy = "token_bucket"
	}
	if config.RateLimit.Key == "" {
		config.RateLimit.Key = "tenant_ip"
	}
	if config.RateLimit.RequestsPerMinute == 0 {
		config.RateLimit.RequestsPerMinute = 20
	}
	if config.RateLimit.Burst == 0 {
		config.RateLimit.Burst = 5
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
}

func mergeWithEnv(config *Config) {
	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		config.LLM.Provider = provider
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if addr := os.Getenv("CONCIERGE_ADDR"); addr != "" {
		config.Server.Addr = addr
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
}
