// Package app wires configuration into the running components shared by the
// server and Lambda entrypoints.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"vision-agent/handler"
	"vision-agent/internal/config"
	"vision-agent/internal/integrations/openai"
	"vision-agent/internal/integrations/paramstore"
	"vision-agent/internal/memory"
	"vision-agent/internal/session"
	"vision-agent/internal/usecase"
)

// Version is reported by the health endpoint.
var Version = "1.0.0"

type App struct {
	Config  *config.Config
	Store   *session.MemoryStore
	Sweeper *session.Sweeper
	Service *usecase.AnalyzeService
	Handler *handler.Handler
}

// NewLogger returns a JSON logger at the configured level.
func NewLogger(w io.Writer, cfg *config.Config) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), nil
}

func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	keys, err := keyChain(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.APIKey == "" && cfg.APIKeyParam == "" {
		logger.Warn("no inference credential configured, analyze requests will report the service as unavailable")
	}

	llm, err := openai.NewClient(keys, config.APIKeyEnv,
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithSummaryModel(cfg.SummaryModel),
	)
	if err != nil {
		return nil, fmt.Errorf("app: create inference client: %w", err)
	}

	var summarizer memory.Summarizer
	if cfg.SummaryUseModel {
		summarizer = llm
	}
	factory := memory.NewFactory(summarizer, cfg.SummaryMaxChars, logger)

	kind, err := cfg.MemoryKind()
	if err != nil {
		return nil, err
	}
	store, err := session.NewMemoryStore(factory.New, session.WithDefaultKind(kind))
	if err != nil {
		return nil, fmt.Errorf("app: create session store: %w", err)
	}

	sweeper, err := session.NewSweeper(store, cfg.SessionTTL, cfg.SweepInterval, logger)
	if err != nil {
		return nil, fmt.Errorf("app: create sweeper: %w", err)
	}

	svc, err := usecase.NewAnalyzeService(store, llm, usecase.Options{
		ContextWindow:    cfg.ContextWindow,
		InferenceTimeout: cfg.InferenceTimeout,
		MaxImageBytes:    cfg.MaxImageBytes,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("app: create analyze service: %w", err)
	}

	h, err := handler.NewHandler(svc, handler.Options{
		CookieMaxAge:   cfg.SessionTTL,
		AllowedOrigins: cfg.CORSOrigins,
		MaxUploadBytes: int64(cfg.MaxImageBytes),
		RateLimit:      cfg.RateLimitRPS,
		Burst:          cfg.RateLimitBurst,
		Version:        Version,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("app: create handler: %w", err)
	}

	logger.Info("components ready",
		"model", cfg.Model,
		"default_memory_type", kind,
		"session_ttl", cfg.SessionTTL,
		"summary_use_model", cfg.SummaryUseModel,
	)
	return &App{Config: cfg, Store: store, Sweeper: sweeper, Service: svc, Handler: h}, nil
}

// keyChain resolves the API key from the configured value, then the
// environment, then SSM when a parameter name is configured.
func keyChain(ctx context.Context, cfg *config.Config) (paramstore.Chain, error) {
	chain := paramstore.Chain{
		{Getter: paramstore.Static(cfg.APIKey)},
		{Getter: paramstore.Env{}, Name: config.APIKeyEnv},
	}
	if cfg.APIKeyParam == "" {
		return chain, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load AWS config: %w", err)
	}
	ssm, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, fmt.Errorf("app: create SSM client: %w", err)
	}
	return append(chain, paramstore.Source{Getter: ssm, Name: cfg.APIKeyParam}), nil
}
