package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/arb-appeal-extractor/internal/extraction"
	"github.com/JakeFAU/arb-appeal-extractor/internal/ingest"
)

type extractOptions struct {
	file string
	mode string
	json bool
}

func newExtractCmd(cfgFile *string) *cobra.Command {
	opts := &extractOptions{}
	cmd := &cobra.Command{
		Use:   "extract [roll-number...]",
		Short: "Run one batch and exit",
		Long: `Runs a single batch from positional roll numbers and/or a CSV file (first
column) and prints the batch summary. CSV input is validated strictly unless
--mode says otherwise; positional input is lenient. Ctrl-C cancels the batch
after the current roll number and still prints what finished.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd, *cfgFile, opts, args)
		},
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "CSV file whose first column holds roll numbers")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "validation mode: strict or lenient")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print the final batch as JSON")
	return cmd
}

func runExtract(cmd *cobra.Command, cfgFile string, opts *extractOptions, args []string) error {
	raw, mode, err := extractInput(opts, args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfgFile)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close(context.WithoutCancel(ctx)) }()

	sub, final, err := app.Extract(ctx, raw, mode)
	out := cmd.OutOrStdout()
	for _, rej := range sub.Rejected {
		fmt.Fprintf(cmd.ErrOrStderr(), "rejected row %d %q: %s\n", rej.Row, rej.Input, rej.Reason)
	}
	if err != nil {
		return err
	}
	if opts.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(final); err != nil {
			return fmt.Errorf("encode batch: %w", err)
		}
	} else {
		printSummary(out, final)
	}
	if final.State == extraction.BatchFailed {
		return fmt.Errorf("batch %s failed: %s", final.ID, final.Error)
	}
	return nil
}

func extractInput(opts *extractOptions, args []string) ([]string, ingest.Mode, error) {
	mode := ingest.Lenient
	raw := append([]string{}, args...)
	if opts.file != "" {
		mode = ingest.Strict
		f, err := os.Open(opts.file)
		if err != nil {
			return nil, mode, fmt.Errorf("open roll number file: %w", err)
		}
		defer func() { _ = f.Close() }()
		rows, err := ingest.ReadCSV(f)
		if err != nil {
			return nil, mode, err
		}
		raw = append(raw, rows...)
	}
	if opts.mode != "" {
		parsed, err := ingest.ParseMode(opts.mode)
		if err != nil {
			return nil, mode, err
		}
		mode = parsed
	}
	if len(raw) == 0 {
		return nil, mode, errors.New("no roll numbers given: pass them as arguments or with --file")
	}
	return raw, mode, nil
}

func printSummary(w io.Writer, b extraction.Batch) {
	s := b.Summary
	fmt.Fprintf(w, "batch %s %s: %d total, %d with appeals, %d no records, %d failed, %d not run\n",
		b.ID, b.State, s.Total, s.Succeeded, s.NoRecords, s.Failed, s.Pending)
	for _, item := range b.Items {
		switch item.Status {
		case extraction.ItemCompleted:
			fmt.Fprintf(w, "  %s  %s  appeals=%d\n", item.RollNumber, item.Outcome, item.Appeals)
		case extraction.ItemFailed:
			fmt.Fprintf(w, "  %s  failed  %s\n", item.RollNumber, item.Error)
		default:
			fmt.Fprintf(w, "  %s  %s\n", item.RollNumber, item.Status)
		}
	}
}
