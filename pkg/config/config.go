package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	Embedding  EmbeddingConfig
	Search     SearchConfig
	Routing    RoutingConfig
	Guardrails GuardrailsConfig
	Feedback   FeedbackConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLMin   int
}

type EmbeddingConfig struct {
	APIKey     string
	Model      string
	Dimension  int
	TimeoutSec int
}

type SearchConfig struct {
	Enabled    bool
	MaxResults int
	TimeoutSec int
}

type RoutingConfig struct {
	HighThreshold      float64
	LowThreshold       float64
	TopK               int
	HybridBonus        float64
	SolverConfidence   float64
	DuplicateThreshold float64
}

type GuardrailsConfig struct {
	MaxInputLength  int
	MaxOutputLength int
}

type FeedbackConfig struct {
	RetentionHours int
	QualityStep    float64
	ThresholdStep  float64
	RebuildBatch   int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/math-agent")

	viper.SetEnvPrefix("MATH_AGENT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 1048576)

	viper.SetDefault("sqlite.path", "./data/mathagent.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttlMin", 1440)

	viper.SetDefault("embedding.model", "text-embedding-3-small")
	viper.SetDefault("embedding.dimension", 1536)
	viper.SetDefault("embedding.timeoutSec", 15)

	viper.SetDefault("search.enabled", true)
	viper.SetDefault("search.maxResults", 5)
	viper.SetDefault("search.timeoutSec", 10)

	viper.SetDefault("routing.highThreshold", 0.80)
	viper.SetDefault("routing.lowThreshold", 0.50)
	viper.SetDefault("routing.topK", 3)
	viper.SetDefault("routing.hybridBonus", 0.10)
	viper.SetDefault("routing.solverConfidence", 0.90)
	viper.SetDefault("routing.duplicateThreshold", 0.95)

	viper.SetDefault("guardrails.maxInputLength", 1000)
	viper.SetDefault("guardrails.maxOutputLength", 8000)

	viper.SetDefault("feedback.retentionHours", 24)
	viper.SetDefault("feedback.qualityStep", 0.05)
	viper.SetDefault("feedback.thresholdStep", 0.02)
	viper.SetDefault("feedback.rebuildBatch", 25)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
