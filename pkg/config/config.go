package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig
	Neo4j   Neo4jConfig
	Milvus  MilvusConfig
	SQLite  SQLiteConfig
	Redis   RedisConfig
	LLM     LLMConfig
	Agent   AgentConfig
	Logging LoggingConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     int
	WriteTimeout    int
	BodyLimit       int
	RateLimitPerMin int
	RateLimitBurst  int
	EnableHSTS      bool
}

type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

type MilvusConfig struct {
	Enabled        bool
	Endpoint       string
	CollectionName string
	VectorDim      int
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
	TTLSec   int
}

type LLMConfig struct {
	Model          string
	APIKey         string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
	EmbeddingModel string
	EmbeddingDim   int
}

type AgentConfig struct {
	MaxRetries            int
	RunMode               string
	SummarizerMode        string
	SimilarityMetric      string
	CacheThreshold        float64
	CacheCapacity         int
	ExampleTopK           int
	ExampleMinSimilarity  float64
	FeedbackTopK          int
	FeedbackMinSimilarity float64
	IndexPoolThreshold    int
	ExamplesFile          string
	LogInteractions       bool
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
	viper.AddConfigPath("/etc/topoquery")

	viper.SetEnvPrefix("TOPOQUERY")
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
	viper.SetDefault("server.writeTimeout", 60)
	viper.SetDefault("server.bodyLimit", 1048576)
	viper.SetDefault("server.rateLimitPerMin", 120)
	viper.SetDefault("server.rateLimitBurst", 0)
	viper.SetDefault("server.enableHSTS", false)

	viper.SetDefault("neo4j.uri", "bolt://localhost:7687")
	viper.SetDefault("neo4j.username", "neo4j")
	viper.SetDefault("neo4j.password", "password")
	viper.SetDefault("neo4j.database", "neo4j")

	viper.SetDefault("milvus.enabled", false)
	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "example_embeddings")
	viper.SetDefault("milvus.vectorDim", 1536)

	viper.SetDefault("sqlite.path", "./data/feedback.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttlSec", 3600)

	viper.SetDefault("llm.model", "gpt-4o")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.maxTokens", 2048)
	viper.SetDefault("llm.timeoutSec", 30)
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("llm.embeddingDim", 1536)

	viper.SetDefault("agent.maxRetries", 3)
	viper.SetDefault("agent.runMode", "standard")
	viper.SetDefault("agent.summarizerMode", "narrative")
	viper.SetDefault("agent.similarityMetric", "cosine")
	viper.SetDefault("agent.cacheThreshold", 0.7)
	viper.SetDefault("agent.cacheCapacity", 1000)
	viper.SetDefault("agent.exampleTopK", 5)
	viper.SetDefault("agent.exampleMinSimilarity", 0.7)
	viper.SetDefault("agent.feedbackTopK", 3)
	viper.SetDefault("agent.feedbackMinSimilarity", 0.8)
	viper.SetDefault("agent.indexPoolThreshold", 100)
	viper.SetDefault("agent.examplesFile", "./examples.json")
	viper.SetDefault("agent.logInteractions", false)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
