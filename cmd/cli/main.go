// Package main provides the buildwatch operator CLI. It runs the analysis
// pipeline on a local log and inspects or resets the history ledger.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kiranshivaraju/buildwatch/internal/ai"
	"github.com/kiranshivaraju/buildwatch/internal/config"
	"github.com/kiranshivaraju/buildwatch/pkg/models"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	app := &cliApp{
		out:         os.Stdout,
		newProvider: providerFromEnv,
		now:         time.Now,
	}
	if err := newRootCmd(app).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// providerFromEnv builds the diagnosis provider the server would use.
func providerFromEnv() (models.DiagnosisProvider, time.Duration, error) {
	cfg, err := config.LoadAI()
	if err != nil {
		return nil, 0, err
	}
	p, err := ai.NewProvider(cfg)
	if err != nil {
		return nil, 0, err
	}
	return p, cfg.InferenceTimeout, nil
}
