// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Resolver  ResolverConfig  `mapstructure:"resolver"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the read-only stats surface.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// PipelineConfig governs per-stage worker pools and sweep limits.
type PipelineConfig struct {
	FetchWorkers     int `mapstructure:"fetch_workers"`
	ExtractWorkers   int `mapstructure:"extract_workers"`
	MaxPerSource     int `mapstructure:"max_per_source"`
	WindowHours      int `mapstructure:"window_hours"`
	SweepBudgetHours int `mapstructure:"sweep_budget_hours"`
}

// HTTPConfig configures outbound HTTP behavior.
type HTTPConfig struct {
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	FetchTimeoutSecs int    `mapstructure:"fetch_timeout_seconds"`
	UserAgent        string `mapstructure:"user_agent"`
}

// SourcesConfig toggles and parameterizes each adapter.
type SourcesConfig struct {
	Enabled        []string   `mapstructure:"enabled"`
	Keywords       []string   `mapstructure:"keywords"`
	NCBIAPIKey     string     `mapstructure:"ncbi_api_key"`
	CrossrefISSNs  []string   `mapstructure:"crossref_issns"`
	BiorxivServers []string   `mapstructure:"biorxiv_servers"`
	UnpaywallMail  string     `mapstructure:"unpaywall_email"`
	ConferenceURL  []string   `mapstructure:"conference_urls"`
	IVIS           IVISConfig `mapstructure:"ivis"`
}

// IVISConfig holds registration-gated source credentials.
type IVISConfig struct {
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	HeadlessLogin bool   `mapstructure:"headless_login"`
}

// ResolverConfig controls dedupe/merge behavior.
type ResolverConfig struct {
	// Precedence is the trust order used when merging colliding candidates,
	// highest trust first. Sources not listed rank below all listed ones.
	Precedence []string `mapstructure:"precedence"`
	// UseUnpaywall enables open-access URL expansion for DOI carriers.
	UseUnpaywall bool `mapstructure:"use_unpaywall"`
}

// ExtractConfig configures the extraction engine.
type ExtractConfig struct {
	GrobidEndpoint   string `mapstructure:"grobid_endpoint"`
	GrobidTimeoutSec int    `mapstructure:"grobid_timeout_seconds"`
	MaxSectionChars  int    `mapstructure:"max_section_chars"`
}

// StorageConfig selects and parameterizes the blob backend.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// DBConfig controls the optional Postgres provenance store.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// PubSubConfig holds metadata for structured-document notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// RateLimitConfig sets per-source request budgets.
type RateLimitConfig struct {
	DefaultRPS   float64            `mapstructure:"default_rps"`
	DefaultBurst int                `mapstructure:"default_burst"`
	SourceRPS    map[string]float64 `mapstructure:"source_rps"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CORPUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("pipeline.fetch_workers", 4)
	v.SetDefault("pipeline.extract_workers", 2)
	v.SetDefault("pipeline.max_per_source", 50)
	v.SetDefault("pipeline.window_hours", 24)
	v.SetDefault("pipeline.sweep_budget_hours", 6)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.fetch_timeout_seconds", 60)
	v.SetDefault("http.user_agent", "vetcorpus-bot/1.0 (+https://github.com/vetcorpus/crawler)")
	v.SetDefault("sources.enabled", []string{"pubmed", "europepmc", "doaj", "crossref", "biorxiv", "arxiv"})
	v.SetDefault("sources.keywords", []string{
		"veterinary", "animal diseases", "veterinary medicine",
		"canine", "feline", "equine", "bovine",
	})
	v.SetDefault("sources.biorxiv_servers", []string{"biorxiv", "medrxiv"})
	v.SetDefault("sources.crossref_issns", []string{
		"1939-1676", // Journal of Veterinary Internal Medicine
		"0891-6640", // Journal of Veterinary Internal Medicine (print)
		"1740-8261", // Veterinary Radiology & Ultrasound
		"0165-7380", // Veterinary Research Communications
		"1090-0233", // The Veterinary Journal
		"0034-5288", // Research in Veterinary Science
		"0378-1135", // Veterinary Microbiology
		"1532-2661", // Journal of Veterinary Emergency and Critical Care
	})
	v.SetDefault("resolver.precedence", []string{
		"pubmed", "europepmc", "crossref", "doaj", "biorxiv", "arxiv", "unpaywall", "conference", "ivis",
	})
	v.SetDefault("resolver.use_unpaywall", false)
	v.SetDefault("extract.grobid_timeout_seconds", 120)
	v.SetDefault("extract.max_section_chars", 4000)
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.local_dir", "data/corpus")
	v.SetDefault("rate_limit.default_rps", 1)
	v.SetDefault("rate_limit.default_burst", 1)
	v.SetDefault("rate_limit.source_rps", map[string]float64{
		"pubmed": 3, // raised to 10 by the adapter when an NCBI key is set
		"arxiv":  0.33,
	})
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pipeline.FetchWorkers <= 0 {
		return fmt.Errorf("pipeline.fetch_workers must be > 0")
	}
	if c.Pipeline.ExtractWorkers <= 0 {
		return fmt.Errorf("pipeline.extract_workers must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	switch c.Storage.Provider {
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when provider is gcs")
		}
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set when provider is local")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	for _, src := range c.Sources.Enabled {
		if src == "ivis" && (c.Sources.IVIS.Username == "" || c.Sources.IVIS.Password == "") {
			return fmt.Errorf("sources.ivis credentials must be set when ivis is enabled")
		}
		if src == "unpaywall" && c.Sources.UnpaywallMail == "" {
			return fmt.Errorf("sources.unpaywall_email must be set when unpaywall is enabled")
		}
	}
	if c.Resolver.UseUnpaywall && c.Sources.UnpaywallMail == "" {
		return fmt.Errorf("sources.unpaywall_email must be set when resolver.use_unpaywall is true")
	}
	return nil
}

// Window returns the sweep lookback as a duration.
func (c Config) Window() time.Duration {
	return time.Duration(c.Pipeline.WindowHours) * time.Hour
}

// SweepBudget returns the overall sweep deadline as a duration.
func (c Config) SweepBudget() time.Duration {
	return time.Duration(c.Pipeline.SweepBudgetHours) * time.Hour
}
