package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Redis      RedisConfig
	Generation GenerationConfig `mapstructure:"generation"`
	Graph      GraphConfig      `mapstructure:"graph"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	CORS       CORSConfig       `mapstructure:"cors"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`

	// 运行时标志（非配置文件，通过命令行参数设置）
	ForceMigrate bool `mapstructure:"-"`
	MigrateOnly  bool `mapstructure:"-"`
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	Charset   string
	ParseTime bool
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	ExpireTime time.Duration `mapstructure:"expire_hours"`
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// GenerationConfig 题目文本生成服务（OpenAI兼容接口）
type GenerationConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	TimeoutSeconds time.Duration `mapstructure:"timeout_seconds"`
}

// GraphConfig 先修知识图谱服务
type GraphConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	TimeoutSeconds time.Duration `mapstructure:"timeout_seconds"`
}

// EngineConfig 自适应引擎参数
type EngineConfig struct {
	CooldownDays       int     `mapstructure:"cooldown_days"`        // 同一学习者题目冷却期（天）
	MinQuestions       int     `mapstructure:"min_questions"`        // 能力估计最少作答数
	MaxQuestions       int     `mapstructure:"max_questions"`        // 会话硬上限
	SEThreshold        float64 `mapstructure:"se_threshold"`         // 标准误终止阈值
	SelectRetries      int     `mapstructure:"select_retries"`       // 乐观锁冲突重试次数
	DiscriminationMinN int     `mapstructure:"discrimination_min_n"` // 区分度计算所需最少作答数
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

func LoadConfig(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("ADAPTIVE")
	viper.AutomaticEnv()

	// Database
	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.dbname", "DATABASE_NAME")

	// JWT
	viper.BindEnv("jwt.secret", "JWT_SECRET")

	// Redis
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	viper.BindEnv("server.mode", "SERVER_MODE")

	// Generation service
	viper.BindEnv("generation.base_url", "GENERATION_BASE_URL")
	viper.BindEnv("generation.api_key", "GENERATION_API_KEY")
	viper.BindEnv("generation.model", "GENERATION_MODEL")

	// Prerequisite graph
	viper.BindEnv("graph.base_url", "GRAPH_BASE_URL")

	// Tracing
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	// 引擎参数默认值
	viper.SetDefault("engine.cooldown_days", 14)
	viper.SetDefault("engine.min_questions", 3)
	viper.SetDefault("engine.max_questions", 10)
	viper.SetDefault("engine.se_threshold", 0.625)
	viper.SetDefault("engine.select_retries", 3)
	viper.SetDefault("engine.discrimination_min_n", 20)
	viper.SetDefault("generation.timeout_seconds", 10)
	viper.SetDefault("graph.timeout_seconds", 5)

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.JWT.ExpireTime = cfg.JWT.ExpireTime * time.Hour
	cfg.Generation.TimeoutSeconds = cfg.Generation.TimeoutSeconds * time.Second
	cfg.Graph.TimeoutSeconds = cfg.Graph.TimeoutSeconds * time.Second

	// 生产环境校验 JWT Secret 强度
	if cfg.Server.Mode == "release" && len(cfg.JWT.Secret) < 32 {
		return nil, fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(cfg.JWT.Secret))
	}

	return &cfg, nil
}
