package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mohammad-safakhou/issuesense/internal/similarity"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config holds all configuration for the bot.
type Config struct {
	General        GeneralConfig        `mapstructure:"general"`
	Server         ServerConfig         `mapstructure:"server"`
	GitHub         GitHubConfig         `mapstructure:"github"`
	Embedding      EmbeddingConfig      `mapstructure:"embedding"`
	Queue          QueueConfig          `mapstructure:"queue"`
	Similarity     SimilarityConfig     `mapstructure:"similarity"`
	Dedupe         DedupeConfig         `mapstructure:"dedupe"`
	Recommendation RecommendationConfig `mapstructure:"recommendation"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Telemetry      TelemetryConfig      `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug bool `mapstructure:"debug"`
	// RequestTimeout bounds the handling of one webhook delivery.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address       string `mapstructure:"address"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	JWTSecret     string `mapstructure:"jwt_secret"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.Address) == "" {
		return fmt.Errorf("%w: server.address required", ErrInvalid)
	}
	return nil
}

// GitHubConfig selects between a static token and GitHub App credentials.
type GitHubConfig struct {
	Token          string `mapstructure:"token"`
	AppID          int64  `mapstructure:"app_id"`
	InstallationID int64  `mapstructure:"installation_id"`
	PrivateKey     string `mapstructure:"private_key"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
	BaseURL        string `mapstructure:"base_url"`
	BotLogin       string `mapstructure:"bot_login"`
}

// UsesApp reports whether App credentials are configured.
func (g GitHubConfig) UsesApp() bool {
	return g.AppID != 0
}

func (g GitHubConfig) Validate() error {
	if g.UsesApp() {
		if g.InstallationID == 0 {
			return fmt.Errorf("%w: github.installation_id required with github.app_id", ErrInvalid)
		}
		if strings.TrimSpace(g.PrivateKey) == "" && strings.TrimSpace(g.PrivateKeyPath) == "" {
			return fmt.Errorf("%w: github.private_key or github.private_key_path required with github.app_id", ErrInvalid)
		}
		return nil
	}
	if strings.TrimSpace(g.Token) == "" {
		return fmt.Errorf("%w: github.token or github.app_id required", ErrInvalid)
	}
	return nil
}

const (
	EmbeddingModeSync  = "sync"
	EmbeddingModeAsync = "async"
)

// EmbeddingConfig configures the embedding provider and write path mode.
type EmbeddingConfig struct {
	Provider          string        `mapstructure:"provider"`
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	Dimensions        int           `mapstructure:"dimensions"`
	Mode              string        `mapstructure:"mode"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

func (e EmbeddingConfig) Validate() error {
	if e.Provider != "openai" {
		return fmt.Errorf("%w: embedding.provider %q not supported", ErrInvalid, e.Provider)
	}
	if e.Dimensions <= 0 {
		return fmt.Errorf("%w: embedding.dimensions must be > 0", ErrInvalid)
	}
	if e.Mode != EmbeddingModeSync && e.Mode != EmbeddingModeAsync {
		return fmt.Errorf("%w: embedding.mode must be sync or async, got %q", ErrInvalid, e.Mode)
	}
	return nil
}

// QueueConfig configures the deferred embedding queue.
type QueueConfig struct {
	Key              string        `mapstructure:"key"`
	BaseDelaySeconds int           `mapstructure:"base_delay_seconds"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	MaxPerRun        int           `mapstructure:"max_per_run"`
	Cron             string        `mapstructure:"cron"`
	TickInterval     time.Duration `mapstructure:"tick_interval"`
	TickLockTTL      time.Duration `mapstructure:"tick_lock_ttl"`
}

// BaseDelay is the first retry delay; attempt n waits BaseDelay << n.
func (q QueueConfig) BaseDelay() time.Duration {
	return time.Duration(q.BaseDelaySeconds) * time.Second
}

func (q QueueConfig) Validate() error {
	if strings.TrimSpace(q.Key) == "" {
		return fmt.Errorf("%w: queue.key required", ErrInvalid)
	}
	if q.BaseDelaySeconds <= 0 || q.MaxAttempts <= 0 || q.MaxPerRun <= 0 {
		return fmt.Errorf("%w: queue.base_delay_seconds, max_attempts and max_per_run must be > 0", ErrInvalid)
	}
	if _, err := cronexpr.Parse(q.Cron); err != nil {
		return fmt.Errorf("%w: queue.cron: %v", ErrInvalid, err)
	}
	return nil
}

// WeightsConfig mirrors similarity.Weights.
type WeightsConfig struct {
	Cosine    float64 `mapstructure:"cosine"`
	Euclidean float64 `mapstructure:"euclidean"`
}

func (w WeightsConfig) Weights() similarity.Weights {
	return similarity.Weights{Cosine: w.Cosine, Euclidean: w.Euclidean}
}

// SimilarityConfig holds thresholds, scoping and score blending.
type SimilarityConfig struct {
	DedupeWarningThreshold float64       `mapstructure:"dedupe_warning_threshold"`
	DedupeMatchThreshold   float64       `mapstructure:"dedupe_match_threshold"`
	AnnotateThreshold      float64       `mapstructure:"annotate_threshold"`
	JobMatchingThreshold   float64       `mapstructure:"job_matching_threshold"`
	Scope                  string        `mapstructure:"scope"`
	TopK                   int           `mapstructure:"top_k"`
	MatchWeights           WeightsConfig `mapstructure:"match_weights"`
	AnnotateWeights        WeightsConfig `mapstructure:"annotate_weights"`
	FootnoteMinSimilarity  float64       `mapstructure:"footnote_min_similarity"`
}

func (s SimilarityConfig) Thresholds() similarity.Thresholds {
	return similarity.Thresholds{
		Warning:     s.DedupeWarningThreshold,
		Match:       s.DedupeMatchThreshold,
		Annotate:    s.AnnotateThreshold,
		JobMatching: s.JobMatchingThreshold,
	}
}

func (s SimilarityConfig) Validate() error {
	if err := s.Thresholds().Validate(); err != nil {
		return fmt.Errorf("%w: similarity: %v", ErrInvalid, err)
	}
	if _, err := similarity.ParseScope(s.Scope); err != nil {
		return fmt.Errorf("%w: similarity.scope: %v", ErrInvalid, err)
	}
	if s.TopK <= 0 {
		return fmt.Errorf("%w: similarity.top_k must be > 0", ErrInvalid)
	}
	if err := s.MatchWeights.Weights().Validate(); err != nil {
		return fmt.Errorf("%w: similarity.match_weights: %v", ErrInvalid, err)
	}
	if err := s.AnnotateWeights.Weights().Validate(); err != nil {
		return fmt.Errorf("%w: similarity.annotate_weights: %v", ErrInvalid, err)
	}
	if s.FootnoteMinSimilarity < 0 || s.FootnoteMinSimilarity >= 1 {
		return fmt.Errorf("%w: similarity.footnote_min_similarity must be within [0,1)", ErrInvalid)
	}
	return nil
}

// DedupeConfig controls when duplicate detection runs.
type DedupeConfig struct {
	CheckOnOpen bool `mapstructure:"check_on_open"`
}

// RecommendationConfig controls contributor suggestions on new issues.
type RecommendationConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	AlwaysRecommend bool     `mapstructure:"always_recommend"`
	RequestedUsers  []string `mapstructure:"requested_users"`
	MaxSuggestions  int      `mapstructure:"max_suggestions"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func (t TelemetryConfig) Validate() error {
	if t.MetricsPort < 0 {
		return fmt.Errorf("%w: telemetry.metrics_port must be >= 0", ErrInvalid)
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("%w: storage.redis.host required", ErrInvalid)
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("%w: storage.redis.port required", ErrInvalid)
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("%w: storage.postgres.host required when url is not provided", ErrInvalid)
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("%w: storage.postgres.dbname required when url is not provided", ErrInvalid)
	}
	return nil
}

// DSN returns the URL when set, otherwise one assembled from the parts.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// Validate checks every section.
func (c *Config) Validate() error {
	validators := []interface{ Validate() error }{
		c.Server,
		c.GitHub,
		c.Embedding,
		c.Queue,
		c.Similarity,
		c.Telemetry,
		c.Storage.Redis,
		c.Storage.Postgres,
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.request_timeout", 30*time.Second)

	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.webhook_secret", "")
	v.SetDefault("server.jwt_secret", "")

	v.SetDefault("github.token", "")
	v.SetDefault("github.app_id", 0)
	v.SetDefault("github.installation_id", 0)
	v.SetDefault("github.private_key", "")
	v.SetDefault("github.private_key_path", "")
	v.SetDefault("github.base_url", "")
	v.SetDefault("github.bot_login", "")

	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.mode", EmbeddingModeSync)
	v.SetDefault("embedding.requests_per_second", 5.0)
	v.SetDefault("embedding.timeout", 30*time.Second)

	v.SetDefault("queue.key", "issuesense:embedding-queue")
	v.SetDefault("queue.base_delay_seconds", 60)
	v.SetDefault("queue.max_attempts", 5)
	v.SetDefault("queue.max_per_run", 50)
	v.SetDefault("queue.cron", "*/1 * * * *")
	v.SetDefault("queue.tick_interval", 15*time.Second)
	v.SetDefault("queue.tick_lock_ttl", 2*time.Minute)

	v.SetDefault("similarity.dedupe_warning_threshold", 0.75)
	v.SetDefault("similarity.dedupe_match_threshold", 0.95)
	v.SetDefault("similarity.annotate_threshold", 0.65)
	v.SetDefault("similarity.job_matching_threshold", 0.75)
	v.SetDefault("similarity.scope", string(similarity.ScopeOrg))
	v.SetDefault("similarity.top_k", 5)
	v.SetDefault("similarity.match_weights.cosine", similarity.MatchWeights.Cosine)
	v.SetDefault("similarity.match_weights.euclidean", similarity.MatchWeights.Euclidean)
	v.SetDefault("similarity.annotate_weights.cosine", similarity.AnnotateWeights.Cosine)
	v.SetDefault("similarity.annotate_weights.euclidean", similarity.AnnotateWeights.Euclidean)
	v.SetDefault("similarity.footnote_min_similarity", 0.6)

	v.SetDefault("dedupe.check_on_open", true)

	v.SetDefault("recommendation.enabled", true)
	v.SetDefault("recommendation.always_recommend", false)
	v.SetDefault("recommendation.requested_users", []string{})
	v.SetDefault("recommendation.max_suggestions", 3)

	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.timeout", 5*time.Second)
	v.SetDefault("storage.postgres.url", "")
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.user", "")
	v.SetDefault("storage.postgres.password", "")
	v.SetDefault("storage.postgres.dbname", "issuesense")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.postgres.timeout", 5*time.Second)

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "issuesense")
	v.SetDefault("telemetry.metrics_port", 0)
	v.SetDefault("telemetry.otlp_endpoint", "")
}

// Load reads config.json (from path or the usual search locations), overlays
// ISSUESENSE_* environment variables and validates the result. A missing
// config file is tolerated when no explicit path was given.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("ISSUESENSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig is Load for commands: any failure is fatal.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}
