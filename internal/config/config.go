// Package config provides centralized configuration management. Values are
// read once at process start through viper (config file + CRAI_* environment
// overrides) and are static thereafter.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values. The learning-rate and confidence constants
// are defaults, not fixed requirements.
const (
	DefaultRetrievalTopK       = 10
	DefaultSimilarityThreshold = 0.7
	DefaultVectorDimensions    = 768
	DefaultCacheTTL            = 90 * 24 * time.Hour
	DefaultReviewBudgetUSD     = 0.50
	DefaultLearningRate        = 0.1
	DefaultWeightFloor         = 0.1
	DefaultConfidenceCap       = 0.95
	DefaultProviderTimeout     = 30 * time.Second
	DefaultRetrievalTimeout    = 10 * time.Second
	DefaultReviewDeadline      = 5 * time.Minute
	DefaultRuleWorkers         = 8
)

// Config is the static configuration surface for the analysis engine.
type Config struct {
	// Retrieval
	RetrievalTopK       int
	SimilarityThreshold float64
	VectorDimensions    int
	RetrievalTimeout    time.Duration

	// Model orchestration
	TriageModel     string
	DeepModel       string
	AnthropicAPIKey string
	GeminiAPIKey    string
	CacheTTL        time.Duration
	ReviewBudgetUSD float64
	ProviderTimeout time.Duration

	// Review pipeline
	ReviewDeadline time.Duration
	RuleWorkers    int

	// Learning
	LearningRate  float64
	WeightFloor   float64
	ConfidenceCap float64

	// Storage
	DBPath      string
	IndexDBPath string

	// Integrations
	EmbeddingModel string
	GitHubToken    string
}

// Load reads configuration from the given file (optional) plus CRAI_*
// environment variables, falling back to defaults.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("retrieval.top_k", DefaultRetrievalTopK)
	v.SetDefault("retrieval.similarity_threshold", DefaultSimilarityThreshold)
	v.SetDefault("retrieval.vector_dimensions", DefaultVectorDimensions)
	v.SetDefault("retrieval.timeout", DefaultRetrievalTimeout)
	v.SetDefault("model.triage", "gemini-2.0-flash")
	v.SetDefault("model.deep", "claude-sonnet-4-5-20250929")
	v.SetDefault("model.cache_ttl", DefaultCacheTTL)
	v.SetDefault("model.budget_usd", DefaultReviewBudgetUSD)
	v.SetDefault("model.timeout", DefaultProviderTimeout)
	v.SetDefault("review.deadline", DefaultReviewDeadline)
	v.SetDefault("review.rule_workers", DefaultRuleWorkers)
	v.SetDefault("learning.rate", DefaultLearningRate)
	v.SetDefault("learning.weight_floor", DefaultWeightFloor)
	v.SetDefault("learning.confidence_cap", DefaultConfidenceCap)
	v.SetDefault("model.embedding", "text-embedding-004")
	v.SetDefault("db_path", "code-review-ai.db")
	v.SetDefault("index_db_path", "code-review-index.db")

	v.SetEnvPrefix("CRAI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
	}

	cfg := &Config{
		RetrievalTopK:       v.GetInt("retrieval.top_k"),
		SimilarityThreshold: v.GetFloat64("retrieval.similarity_threshold"),
		VectorDimensions:    v.GetInt("retrieval.vector_dimensions"),
		RetrievalTimeout:    v.GetDuration("retrieval.timeout"),
		TriageModel:         v.GetString("model.triage"),
		DeepModel:           v.GetString("model.deep"),
		AnthropicAPIKey:     v.GetString("anthropic_api_key"),
		GeminiAPIKey:        v.GetString("gemini_api_key"),
		CacheTTL:            v.GetDuration("model.cache_ttl"),
		ReviewBudgetUSD:     v.GetFloat64("model.budget_usd"),
		ProviderTimeout:     v.GetDuration("model.timeout"),
		ReviewDeadline:      v.GetDuration("review.deadline"),
		RuleWorkers:         v.GetInt("review.rule_workers"),
		LearningRate:        v.GetFloat64("learning.rate"),
		WeightFloor:         v.GetFloat64("learning.weight_floor"),
		ConfidenceCap:       v.GetFloat64("learning.confidence_cap"),
		DBPath:              v.GetString("db_path"),
		IndexDBPath:         v.GetString("index_db_path"),
		EmbeddingModel:      v.GetString("model.embedding"),
		GitHubToken:         v.GetString("github_token"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with all defaults applied, no file or env input.
// Used by tests and embedded callers.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(err) // defaults are always valid
	}
	return cfg
}

func (c *Config) validate() error {
	if c.RetrievalTopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.RetrievalTopK)
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("retrieval.similarity_threshold must be in [0,1], got %f", c.SimilarityThreshold)
	}
	if c.VectorDimensions < 1 || c.VectorDimensions > 4096 {
		return fmt.Errorf("retrieval.vector_dimensions must be in [1,4096], got %d", c.VectorDimensions)
	}
	if c.WeightFloor <= 0 || c.WeightFloor >= 1 {
		return fmt.Errorf("learning.weight_floor must be in (0,1), got %f", c.WeightFloor)
	}
	if c.ConfidenceCap <= 0 || c.ConfidenceCap > 1 {
		return fmt.Errorf("learning.confidence_cap must be in (0,1], got %f", c.ConfidenceCap)
	}
	if c.LearningRate <= 0 || c.LearningRate > 1 {
		return fmt.Errorf("learning.rate must be in (0,1], got %f", c.LearningRate)
	}
	if c.RuleWorkers <= 0 {
		return fmt.Errorf("review.rule_workers must be positive, got %d", c.RuleWorkers)
	}
	return nil
}
