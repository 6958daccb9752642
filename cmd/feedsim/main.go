package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mdao/lm-indexer/internal/application/factories/infrastructure"
	"github.com/mdao/lm-indexer/internal/config"
	"github.com/mdao/lm-indexer/internal/feedsim"
)

type options struct {
	ConfigPath string
	File       string
	Delay      time.Duration
	DryRun     bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "feedsim",
		Short: "Publish a JSON-lines file of decoded events onto the feed topic",
		Long: `Each line is {"name": ..., "txHash": ..., "args": {...}}.

Examples:
  feedsim --file events.jsonl
  feedsim --file events.jsonl --delay 500ms
  feedsim --file events.jsonl --dry-run`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "config.yaml", "path to config file")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "JSON-lines event file (required)")
	_ = cmd.MarkFlagRequired("file")
	cmd.Flags().DurationVar(&opts.Delay, "delay", 0, "pause between events")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "index into memory and print row counts instead of publishing")

	return cmd
}

func run(cmd *cobra.Command, opts *options) error {
	ctx := cmd.Context()

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)

	f, err := os.Open(opts.File)
	if err != nil {
		return fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	if opts.DryRun {
		stats, err := feedsim.DryRun(ctx, f, feedsim.Options{Logger: logger})
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	infraFactory := infrastructure.NewFactory(cfg, logger)
	defer infraFactory.Close()
	producer := infraFactory.Producer()

	n, err := feedsim.Replay(ctx, f, producer, feedsim.Options{Delay: opts.Delay, Logger: logger})
	logger.Info("events published", "count", n, "topic", producer.GetTopic(), "partition", cfg.Kafka.Partition)
	return err
}
