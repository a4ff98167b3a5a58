package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"vision-agent/internal/app"
	"vision-agent/internal/config"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"), nil)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	logger, err := app.NewLogger(os.Stdout, cfg)
	if err != nil {
		slog.Error("failed to create logger", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	// ---- Components ----
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to build application", "err", err)
		os.Exit(1)
	}

	// Sessions live as long as the warm execution environment does.
	go func() {
		if err := a.Sweeper.Run(ctx); err != nil {
			slog.Error("session sweeper stopped", "err", err)
		}
	}()

	lambda.Start(a.Handler.HandleLambda)
}
