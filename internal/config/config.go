package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/agenthands/consolidator/internal/core/dedupe"
	"github.com/agenthands/consolidator/internal/core/index"
	"github.com/agenthands/consolidator/internal/core/model"
	"github.com/agenthands/consolidator/internal/core/similarity"
)

// Duration reads "10s" style values from TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type ExtractionPrompts struct {
	Signals string `toml:"signals"`
}

type SummaryPrompts struct {
	Change string `toml:"change"`
}

type LLMConfig struct {
	Provider       string `toml:"provider"`
	Model          string `toml:"model"`
	EmbeddingModel string `toml:"embedding_model"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`

	// Embedding* pick a separate embedding provider, required when Provider
	// cannot embed (claude).
	EmbeddingProvider string `toml:"embedding_provider"`
	EmbeddingAPIKey   string `toml:"embedding_api_key"`
	EmbeddingBaseURL  string `toml:"embedding_base_url"`
}

type EmbeddingConfig struct {
	MaxRetries        int      `toml:"max_retries"`
	InitialBackoff    Duration `toml:"initial_backoff"`
	MaxBackoff        Duration `toml:"max_backoff"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
}

type MemgraphConfig struct {
	URI      string `toml:"uri"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

type StoreConfig struct {
	Backend string `toml:"backend"` // "memory" or "memgraph"
}

type IndexConfig struct {
	Dimension      int    `toml:"dimension"`
	Strategy       string `toml:"strategy"`
	ExactThreshold int    `toml:"exact_threshold"`
	SnapshotPath   string `toml:"snapshot_path"`

	HNSW index.HNSWParams `toml:"hnsw"`
}

type DedupConfig struct {
	UpperThreshold   float64  `toml:"upper_threshold"`
	MergeThreshold   float64  `toml:"merge_threshold"`
	WeightContent    float64  `toml:"weight_content"`
	WeightTopic      float64  `toml:"weight_topic"`
	WeightQuestion   float64  `toml:"weight_question"`
	TieBreakEpsilon  float64  `toml:"tie_break_epsilon"`
	TopK             int      `toml:"top_k"`
	SearchMargin     float64  `toml:"search_margin"`
	EmbedTimeout     Duration `toml:"embed_timeout"`
	StoreTimeout     Duration `toml:"store_timeout"`
	FetchConcurrency int      `toml:"fetch_concurrency"`
}

type MergeConfig struct {
	SectionMatchThreshold float64 `toml:"section_match_threshold"`
	MaxStaleRetries       int     `toml:"max_stale_retries"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

type ServerConfig struct {
	Port string `toml:"port"`
}

type Config struct {
	LLM        LLMConfig         `toml:"llm"`
	Embedding  EmbeddingConfig   `toml:"embedding"`
	Memgraph   MemgraphConfig    `toml:"memgraph"`
	Store      StoreConfig       `toml:"store"`
	Index      IndexConfig       `toml:"index"`
	Dedup      DedupConfig       `toml:"dedup"`
	Merge      MergeConfig       `toml:"merge"`
	Extraction ExtractionPrompts `toml:"extraction"`
	Summary    SummaryPrompts    `toml:"summary"`
	Logging    LoggingConfig     `toml:"logging"`
	Server     ServerConfig      `toml:"server"`
}

// Default is the configuration used for anything a file leaves out.
func Default() *Config {
	d := dedupe.DefaultConfig()
	return &Config{
		LLM: LLMConfig{Provider: "openai"},
		Embedding: EmbeddingConfig{
			MaxRetries:        3,
			InitialBackoff:    Duration{200 * time.Millisecond},
			MaxBackoff:        Duration{5 * time.Second},
			RequestsPerSecond: 10,
			Burst:             5,
		},
		Store: StoreConfig{Backend: "memory"},
		Index: IndexConfig{
			Dimension:      1536,
			Strategy:       index.StrategyExact,
			ExactThreshold: index.DefaultExactThreshold,
			SnapshotPath:   "data/index.db",
			HNSW:           index.DefaultHNSWParams(),
		},
		Dedup: DedupConfig{
			UpperThreshold:   d.UpperThreshold,
			MergeThreshold:   d.MergeThreshold,
			WeightContent:    d.Weights.Content,
			WeightTopic:      d.Weights.Topic,
			WeightQuestion:   d.Weights.Question,
			TieBreakEpsilon:  d.TieBreakEpsilon,
			TopK:             d.TopK,
			SearchMargin:     d.SearchMargin,
			EmbedTimeout:     Duration{d.EmbedTimeout},
			StoreTimeout:     Duration{d.StoreTimeout},
			FetchConcurrency: d.FetchConcurrency,
		},
		Merge:   MergeConfig{SectionMatchThreshold: 0.5, MaxStaleRetries: 3},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Server:  ServerConfig{Port: "8080"},
	}
}

// Load reads a TOML file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides file values with LLM_*, MEMGRAPH_*, DEDUP_*, INDEX_*,
// LOG_LEVEL and PORT when they are set.
func (c *Config) ApplyEnv() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("LLM_PROVIDER", &c.LLM.Provider)
	str("LLM_MODEL", &c.LLM.Model)
	str("LLM_EMBEDDING_MODEL", &c.LLM.EmbeddingModel)
	str("LLM_API_KEY", &c.LLM.APIKey)
	str("LLM_BASE_URL", &c.LLM.BaseURL)
	str("LLM_EMBEDDING_PROVIDER", &c.LLM.EmbeddingProvider)
	str("LLM_EMBEDDING_API_KEY", &c.LLM.EmbeddingAPIKey)
	str("LLM_EMBEDDING_BASE_URL", &c.LLM.EmbeddingBaseURL)
	str("MEMGRAPH_URI", &c.Memgraph.URI)
	str("MEMGRAPH_USER", &c.Memgraph.User)
	str("MEMGRAPH_PASSWORD", &c.Memgraph.Password)
	str("STORE_BACKEND", &c.Store.Backend)
	str("INDEX_STRATEGY", &c.Index.Strategy)
	str("INDEX_SNAPSHOT_PATH", &c.Index.SnapshotPath)
	str("LOG_LEVEL", &c.Logging.Level)
	str("PORT", &c.Server.Port)

	floats := map[string]*float64{
		"DEDUP_UPPER_THRESHOLD":   &c.Dedup.UpperThreshold,
		"DEDUP_MERGE_THRESHOLD":   &c.Dedup.MergeThreshold,
		"DEDUP_TIE_BREAK_EPSILON": &c.Dedup.TieBreakEpsilon,
	}
	for key, dst := range floats {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = f
		}
	}
	ints := map[string]*int{
		"DEDUP_TOP_K":     &c.Dedup.TopK,
		"INDEX_DIMENSION": &c.Index.Dimension,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}
	return nil
}

// DedupeConfig converts the file section into the gate's configuration.
func (c *Config) DedupeConfig() dedupe.Config {
	return dedupe.Config{
		UpperThreshold: c.Dedup.UpperThreshold,
		MergeThreshold: c.Dedup.MergeThreshold,
		Weights: similarity.Weights{
			Content:  c.Dedup.WeightContent,
			Topic:    c.Dedup.WeightTopic,
			Question: c.Dedup.WeightQuestion,
		},
		TieBreakEpsilon:  c.Dedup.TieBreakEpsilon,
		TopK:             c.Dedup.TopK,
		SearchMargin:     c.Dedup.SearchMargin,
		EmbedTimeout:     c.Dedup.EmbedTimeout.Duration,
		StoreTimeout:     c.Dedup.StoreTimeout.Duration,
		FetchConcurrency: c.Dedup.FetchConcurrency,
	}
}

// Validate checks everything that can be checked without connecting anywhere.
func (c *Config) Validate() error {
	if err := c.DedupeConfig().Validate(); err != nil {
		return err
	}
	if c.Index.Dimension <= 0 {
		return fmt.Errorf("%w: index.dimension must be positive (got %d)", model.ErrInvalidConfiguration, c.Index.Dimension)
	}
	switch c.Index.Strategy {
	case index.StrategyExact, index.StrategyHNSW, index.StrategyAuto:
	default:
		return fmt.Errorf("%w: index.strategy %q", model.ErrInvalidConfiguration, c.Index.Strategy)
	}
	switch strings.ToLower(c.Store.Backend) {
	case "memory":
	case "memgraph":
		if c.Memgraph.URI == "" {
			return fmt.Errorf("%w: memgraph.uri is required for the memgraph backend", model.ErrInvalidConfiguration)
		}
	default:
		return fmt.Errorf("%w: store.backend %q", model.ErrInvalidConfiguration, c.Store.Backend)
	}
	if c.Merge.MaxStaleRetries < 0 {
		return fmt.Errorf("%w: merge.max_stale_retries cannot be negative", model.ErrInvalidConfiguration)
	}
	return nil
}
