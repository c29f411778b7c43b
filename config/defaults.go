// =============================================================================
// 📦 Resolve 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Pipeline:  DefaultPipelineConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Qdrant:    DefaultQdrantConfig(),
		Providers: DefaultProvidersConfig(),
		Manager:   DefaultManagerConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		GRPCPort:        9090,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultPipelineConfig 返回默认研究管道配置，对应 §5 并发模型的文档化默认值
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		EnableContextDetection:   true,
		EnableLearningAdaptation: false,
		EnableContextDiscovery:   false,
		AutoIndexResults:         false,
		MaxConcurrent:            5,
		TimeoutSeconds:           300,
		ContextTopK:              3,
		DefaultCacheTTL:          24 * time.Hour,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置（缓存旁路索引）
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "resolve",
		Password:        "",
		Name:            "resolve",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultQdrantConfig 返回默认 Qdrant 配置
func DefaultQdrantConfig() QdrantConfig {
	return QdrantConfig{
		Host:       "localhost",
		Port:       6334,
		APIKey:     "",
		Collection: "resolve_research_results",
	}
}

// DefaultProvidersConfig 返回默认 Provider 配置；API Key 留空以便从
// OPENAI_API_KEY / CLAUDE_API_KEY|ANTHROPIC_API_KEY / GEMINI_API_KEY|GOOGLE_API_KEY
// 读取（§6 环境输入）。
func DefaultProvidersConfig() ProvidersConfig {
	return ProvidersConfig{
		OpenAI:    ProviderConfig{Enabled: true, Model: "gpt-4o", Timeout: 30 * time.Second},
		Anthropic: ProviderConfig{Enabled: true, Model: "claude-sonnet-4", Timeout: 30 * time.Second},
		Gemini:    ProviderConfig{Enabled: true, Model: "gemini-2.0-flash", Timeout: 30 * time.Second},
	}
}

// DefaultManagerConfig 返回默认 Provider 管理器配置
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Strategy:                 "balanced",
		EnableFailover:           true,
		MaxFailoverAttempts:      2,
		EnableCrossValidation:    false,
		CrossValidationProviders: 3,
		MinQualityThreshold:      0.7,
		RateLimitPerSecond:       10,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "resolve",
		SampleRate:   0.1,
	}
}
