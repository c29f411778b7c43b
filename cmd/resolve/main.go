// =============================================================================
// Resolve 主入口
// =============================================================================
// 研究流水线的可执行入口，提供一次性查询与常驻服务两种形态
//
// 使用方法:
//
//	resolve research "<query>" [--provider auto|openai|anthropic|gemini]
//	                            [--cross-validate] [--quality-threshold 0.7]
//	resolve serve [--config config.yaml]
//	resolve version
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/arclight-ai/resolve/classify"
	"github.com/arclight-ai/resolve/config"
	"github.com/arclight-ai/resolve/ctxdetect"
	"github.com/arclight-ai/resolve/embedding"
	"github.com/arclight-ai/resolve/engine"
	"github.com/arclight-ai/resolve/feedback"
	"github.com/arclight-ai/resolve/pipeline"
	"github.com/arclight-ai/resolve/provider/anthropic"
	"github.com/arclight-ai/resolve/provider/gemini"
	"github.com/arclight-ai/resolve/provider/manager"
	"github.com/arclight-ai/resolve/provider/openai"
	"github.com/arclight-ai/resolve/resilience"
	"github.com/arclight-ai/resolve/store"
	"github.com/arclight-ai/resolve/vector"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Exit codes per the external interface contract: 0 success, 1
// configuration error, 2 all providers failed.
const (
	exitSuccess = 0
	exitConfig  = 1
	exitFailed  = 2
)

// setupTracing installs a process-wide TracerProvider so every
// tracer.Start call in pipeline/engine/manager produces real spans. No
// exporter is registered yet, so spans are sampled and end but not shipped
// anywhere; wiring an exporter (e.g. OTLP) only needs a WithBatcher option
// added here.
func setupTracing() *sdktrace.TracerProvider {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(tp)
	return tp
}

func main() {
	tp := setupTracing()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitConfig)
	}

	switch os.Args[1] {
	case "research":
		runResearch(os.Args[2:])
	case "serve":
		runServe(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(exitConfig)
	}
}

// =============================================================================
// 🔎 research 命令
// =============================================================================

func runResearch(args []string) {
	fs := flag.NewFlagSet("research", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	providerPref := fs.String("provider", "auto", "Provider preference: auto|openai|anthropic|gemini|<name>")
	crossValidate := fs.Bool("cross-validate", false, "Dispatch to multiple providers and reconcile answers")
	qualityThreshold := fs.Float64("quality-threshold", 0, "Minimum quality_score before the low-consensus premium applies (0 uses config default)")
	audience := fs.String("audience", "", "Audience level hint, e.g. beginner|advanced")
	domain := fs.String("domain", "", "Technology domain hint, e.g. rust|kubernetes")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "research requires a query argument")
		os.Exit(exitConfig)
	}
	query := strings.Join(fs.Args(), " ")

	cfg, logger, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(exitConfig)
	}
	defer logger.Sync()

	p, sink, err := buildPipeline(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build pipeline: %v\n", err)
		os.Exit(exitConfig)
	}

	opts := pipeline.Options{
		Audience:           *audience,
		Domain:             *domain,
		ProviderPreference: *providerPref,
		CrossValidate:      *crossValidate,
		CrossValidationN:   cfg.Manager.CrossValidationProviders,
		QualityThreshold:   *qualityThreshold,
	}
	if opts.QualityThreshold == 0 {
		opts.QualityThreshold = cfg.Manager.MinQualityThreshold
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Pipeline.TimeoutSeconds)*time.Second)
	defer cancel()

	start := time.Now()
	result, err := p.ProcessQuery(ctx, query, opts)
	sink.RecordMetrics(result, time.Since(start))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
		os.Exit(exitConfig)
	}

	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode result: %v\n", err)
		os.Exit(exitFailed)
	}
	fmt.Println(string(encoded))

	for _, source := range result.Metadata.SourcesConsulted {
		if source == "placeholder_fallback" {
			os.Exit(exitFailed)
		}
	}
	os.Exit(exitSuccess)
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg, logger, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(exitConfig)
	}
	defer logger.Sync()

	logger.Info("Starting Resolve",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	p, sink, err := buildPipeline(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build pipeline", zap.Error(err))
	}

	hotReload := config.NewHotReloadManager(cfg, config.WithConfigPath(*configPath), config.WithHotReloadLogger(logger))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := hotReload.Start(ctx); err != nil {
		logger.Warn("hot reload manager failed to start", zap.Error(err))
	}
	defer hotReload.Stop()

	server := newResearchServer(cfg, p, sink, logger)
	if err := server.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
	server.WaitForShutdown()

	logger.Info("Resolve stopped")
}

// =============================================================================
// 🧱 Pipeline construction
// =============================================================================

func loadConfig(configPath string) (*config.Config, *zap.Logger, error) {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, initLogger(cfg.Log), nil
}

// buildPipeline wires config into every component-design stage: provider
// registration (G/F), classifier (B), context detector (C), cache (I),
// research engine (H), vector index + embedder (D/E), and the feedback
// sink (L).
func buildPipeline(cfg *config.Config, logger *zap.Logger) (*pipeline.Pipeline, *feedback.Sink, error) {
	sink := feedback.New("resolve", logger)

	mgr := manager.New(managerConfig(cfg.Manager), resilience.DefaultRetryPolicy(), logger).WithFeedbackSink(sink)
	registerProviders(mgr, cfg.Providers, logger)

	classifier := classify.New(classify.DefaultConfig())
	detector := ctxdetect.New()

	cacheStore, err := store.New(store.Config{
		RedisAddr:  cfg.Redis.Addr,
		DefaultTTL: cfg.Pipeline.DefaultCacheTTL,
	}, nil, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("cache store: %w", err)
	}

	researchEngine := engine.New(mgr, logger)

	var vectorIdx vector.Store
	var embedder embedding.Provider
	if cfg.Pipeline.EnableContextDiscovery || cfg.Pipeline.AutoIndexResults {
		vectorIdx = vector.NewQdrantStore(vector.QdrantConfig{
			BaseURL:              fmt.Sprintf("http://%s:%d", cfg.Qdrant.Host, cfg.Qdrant.Port),
			APIKey:               cfg.Qdrant.APIKey,
			Collection:           cfg.Qdrant.Collection,
			Timeout:              30 * time.Second,
			AutoCreateCollection: true,
			Distance:             "Cosine",
		}, logger)
		embedder = embedding.NewOpenAIProvider(embedding.OpenAIConfig{
			APIKey:  cfg.Providers.OpenAI.APIKey,
			Model:   "text-embedding-3-small",
			Timeout: cfg.Providers.OpenAI.Timeout,
		})
	}

	pipelineCfg := pipeline.Config{
		EnableContextDetection:   cfg.Pipeline.EnableContextDetection,
		EnableLearningAdaptation: cfg.Pipeline.EnableLearningAdaptation,
		EnableContextDiscovery:   cfg.Pipeline.EnableContextDiscovery,
		AutoIndexResults:         cfg.Pipeline.AutoIndexResults,
		MaxConcurrent:            cfg.Pipeline.MaxConcurrent,
		TimeoutSeconds:           cfg.Pipeline.TimeoutSeconds,
		ContextTopK:              cfg.Pipeline.ContextTopK,
		DefaultCacheTTL:          cfg.Pipeline.DefaultCacheTTL,
	}

	p := pipeline.New(classifier, detector, cacheStore, researchEngine, vectorIdx, embedder, sink, nil, pipelineCfg, logger)
	return p, sink, nil
}

func managerConfig(cfg config.ManagerConfig) manager.Config {
	return manager.Config{
		Strategy:              manager.Strategy(cfg.Strategy),
		ManualProvider:        cfg.ManualProvider,
		SelectionTimeout:      2 * time.Second,
		HealthCheckInterval:   30 * time.Second,
		WindowSize:            50,
		EnableFailover:        cfg.EnableFailover,
		MaxFailoverAttempts:   cfg.MaxFailoverAttempts,
		EnableCrossValidation: cfg.EnableCrossValidation,
		CrossValidationN:      cfg.CrossValidationProviders,
		MinQualityThreshold:   cfg.MinQualityThreshold,
		RateLimitPerSecond:    cfg.RateLimitPerSecond,
	}
}

// registerProviders wires each enabled, non-placeholder-keyed provider
// into the manager. Keys are read once at startup from the environment,
// per the external interface contract's "read once, ignored at runtime".
func registerProviders(mgr *manager.Manager, cfg config.ProvidersConfig, logger *zap.Logger) {
	if cfg.OpenAI.Enabled {
		key := resolveAPIKey(cfg.OpenAI.APIKey, "OPENAI_API_KEY")
		if !isPlaceholderKey(key) {
			mgr.Register(openai.New(openai.Config{
				APIKey:  key,
				BaseURL: cfg.OpenAI.BaseURL,
				Model:   valueOr(cfg.OpenAI.Model, "gpt-4o"),
				Timeout: cfg.OpenAI.Timeout,
			}, logger))
		} else {
			logger.Warn("openai provider disabled: no usable API key")
		}
	}
	if cfg.Anthropic.Enabled {
		key := resolveAPIKey(cfg.Anthropic.APIKey, "CLAUDE_API_KEY", "ANTHROPIC_API_KEY")
		if !isPlaceholderKey(key) {
			mgr.Register(anthropic.New(anthropic.Config{
				APIKey:  key,
				BaseURL: cfg.Anthropic.BaseURL,
				Model:   valueOr(cfg.Anthropic.Model, "claude-sonnet-4"),
				Timeout: cfg.Anthropic.Timeout,
			}, logger))
		} else {
			logger.Warn("anthropic provider disabled: no usable API key")
		}
	}
	if cfg.Gemini.Enabled {
		key := resolveAPIKey(cfg.Gemini.APIKey, "GEMINI_API_KEY", "GOOGLE_API_KEY")
		if !isPlaceholderKey(key) {
			mgr.Register(gemini.New(gemini.Config{
				APIKey:  key,
				BaseURL: cfg.Gemini.BaseURL,
				Model:   valueOr(cfg.Gemini.Model, "gemini-2.0-flash"),
				Timeout: cfg.Gemini.Timeout,
			}, logger))
		} else {
			logger.Warn("gemini provider disabled: no usable API key")
		}
	}
}

func resolveAPIKey(configured string, envNames ...string) string {
	if configured != "" {
		return configured
	}
	for _, name := range envNames {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// isPlaceholderKey classifies an API key as absent per the environment
// inputs contract: known placeholder strings, too short, or a truncated
// "sk-" key.
func isPlaceholderKey(key string) bool {
	if key == "" {
		return true
	}
	lowered := strings.ToLower(key)
	placeholders := []string{
		"your-", "-api-key-here", "sk-example", "sk-test", "placeholder", "example",
	}
	for _, p := range placeholders {
		if strings.Contains(lowered, p) {
			return true
		}
	}
	if len(key) < 10 {
		return true
	}
	if strings.HasPrefix(key, "sk-") && len(key) < 50 {
		return true
	}
	return false
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("resolve %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`Resolve - Multi-provider research pipeline

Usage:
  resolve <command> [options]

Commands:
  research  Run a single query through the pipeline and print the result
  serve     Start the long-running research server
  version   Show version information
  help      Show this help message

Options for 'research':
  --config <path>            Path to configuration file (YAML)
  --provider <name>          Provider preference: auto|openai|anthropic|gemini
  --cross-validate           Dispatch to multiple providers and reconcile answers
  --quality-threshold <f64>  Minimum quality score before the low-consensus premium applies
  --audience <level>         Audience level hint, e.g. beginner|advanced
  --domain <tech>            Technology domain hint, e.g. rust|kubernetes

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Exit codes:
  0  success
  1  configuration error
  2  all providers failed

Examples:
  resolve research "What is Rust?"
  resolve research "How do I implement async in Rust?" --cross-validate
  resolve serve --config /etc/resolve/config.yaml
  resolve version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         cfg.Format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	} else {
		zapConfig.Encoding = "json"
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
