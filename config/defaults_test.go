package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, PipelineConfig{}, cfg.Pipeline)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, DatabaseConfig{}, cfg.Database)
	assert.NotEqual(t, QdrantConfig{}, cfg.Qdrant)
	assert.NotEqual(t, ProvidersConfig{}, cfg.Providers)
	assert.NotEqual(t, ManagerConfig{}, cfg.Manager)
	assert.NotEqual(t, LogConfig{}, cfg.Log)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
}

// --- Individual Default*Config functions ---

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9090, cfg.GRPCPort)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
}

func TestDefaultPipelineConfig(t *testing.T) {
	cfg := DefaultPipelineConfig()
	assert.True(t, cfg.EnableContextDetection)
	assert.False(t, cfg.EnableLearningAdaptation)
	assert.False(t, cfg.EnableContextDiscovery)
	assert.False(t, cfg.AutoIndexResults)
	assert.Equal(t, 5, cfg.MaxConcurrent)
	assert.Equal(t, 300, cfg.TimeoutSeconds)
	assert.Equal(t, 3, cfg.ContextTopK)
	assert.Equal(t, 24*time.Hour, cfg.DefaultCacheTTL)
}

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()
	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Empty(t, cfg.Password)
	assert.Equal(t, 0, cfg.DB)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.Equal(t, 2, cfg.MinIdleConns)
}

func TestDefaultDatabaseConfig(t *testing.T) {
	cfg := DefaultDatabaseConfig()
	assert.Equal(t, "postgres", cfg.Driver)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "resolve", cfg.User)
	assert.Empty(t, cfg.Password)
	assert.Equal(t, "resolve", cfg.Name)
	assert.Equal(t, "disable", cfg.SSLMode)
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
}

func TestDefaultQdrantConfig(t *testing.T) {
	cfg := DefaultQdrantConfig()
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6334, cfg.Port)
	assert.Empty(t, cfg.APIKey)
	assert.Equal(t, "resolve_research_results", cfg.Collection)
}

func TestDefaultProvidersConfig(t *testing.T) {
	cfg := DefaultProvidersConfig()
	assert.True(t, cfg.OpenAI.Enabled)
	assert.Equal(t, "gpt-4o", cfg.OpenAI.Model)
	assert.True(t, cfg.Anthropic.Enabled)
	assert.Equal(t, "claude-sonnet-4", cfg.Anthropic.Model)
	assert.True(t, cfg.Gemini.Enabled)
	assert.Equal(t, "gemini-2.0-flash", cfg.Gemini.Model)
}

func TestDefaultManagerConfig(t *testing.T) {
	cfg := DefaultManagerConfig()
	assert.Equal(t, "balanced", cfg.Strategy)
	assert.True(t, cfg.EnableFailover)
	assert.Equal(t, 2, cfg.MaxFailoverAttempts)
	assert.False(t, cfg.EnableCrossValidation)
	assert.Equal(t, 3, cfg.CrossValidationProviders)
	assert.InDelta(t, 0.7, cfg.MinQualityThreshold, 0.001)
	assert.InDelta(t, 10.0, cfg.RateLimitPerSecond, 0.001)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
	assert.True(t, cfg.EnableCaller)
	assert.False(t, cfg.EnableStacktrace)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "resolve", cfg.ServiceName)
	assert.InDelta(t, 0.1, cfg.SampleRate, 0.001)
}
