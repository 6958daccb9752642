// Package cli implements indexctl, the operator command line for the indexer.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mdao/lm-indexer/internal/config"
	"github.com/mdao/lm-indexer/internal/domain/cursor"
	"github.com/mdao/lm-indexer/internal/storage"
)

// Backend is what the operator commands need from the deployment.
type Backend interface {
	Migrate(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (storage.Stats, error)
	LoadCheckpoint(ctx context.Context, sub cursor.Subscription) (*cursor.Checkpoint, error)
	ListCheckpoints(ctx context.Context) ([]cursor.Checkpoint, error)
	Close()
}

// Opener connects a Backend for the loaded config.
type Opener func(ctx context.Context, cfg *config.Config) (Backend, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "json" | "text"

	open Opener
}

var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the indexctl root command. open is used by every
// subcommand to reach the stores.
func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:   "indexctl",
		Short: "Operate the labor markets indexer",
		Long:  "Apply migrations and inspect subscription cursors and projected row counts.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "config.yaml", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewCursorCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// connect loads the config and opens the backend.
func (o *RootOptions) connect(ctx context.Context) (*config.Config, Backend, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	backend, err := o.open(ctx, cfg)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to connect", err)
	}
	return cfg, backend, nil
}
