package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/arb-appeal-extractor/internal/batch"
	"github.com/JakeFAU/arb-appeal-extractor/internal/config"
	"github.com/JakeFAU/arb-appeal-extractor/internal/extraction"
	"github.com/JakeFAU/arb-appeal-extractor/internal/ingest"
	"github.com/JakeFAU/arb-appeal-extractor/internal/server"
)

// App defines the application surface the commands use. It lets tests swap
// in a fake instead of launching a browser.
type App interface {
	Run(ctx context.Context) error
	Extract(ctx context.Context, raw []string, mode ingest.Mode) (batch.Submission, extraction.Batch, error)
	Close(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	app, err := server.Build(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application services: %w", err)
	}
	return app, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "arb-extractor",
		Short: "Extracts property appeal records from the ARB E-Status site.",
		Long: `arb-extractor drives a real browser through the Assessment Review Board
E-Status search form, one roll number at a time, and stores the appeals it
finds. Run "serve" for the HTTP API or "extract" for a one-shot batch.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); ARB_* environment variables override it")

	cmd.AddCommand(newServeCmd(&cfgFile))
	cmd.AddCommand(newExtractCmd(&cfgFile))
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
