package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mdao/lm-indexer/internal/domain/cursor"
	"github.com/mdao/lm-indexer/internal/storage"
)

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, backend, err := rootOpts.connect(ctx)
			if err != nil {
				return err
			}
			defer backend.Close()

			applied, err := backend.Migrate(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "migration failed", err)
			}
			if applied == nil {
				applied = []string{}
			}
			return write(cmd.OutOrStdout(), rootOpts.Format, map[string]any{"applied": applied}, func(w io.Writer) {
				if len(applied) == 0 {
					fmt.Fprintln(w, "Schema is up to date.")
					return
				}
				for _, name := range applied {
					fmt.Fprintf(w, "applied %s\n", name)
				}
			})
		},
	}
}

type StatusResult struct {
	Subscription string              `json:"subscription"`
	Position     string              `json:"position"`
	UpdatedAt    *time.Time          `json:"updated_at,omitempty"`
	Rows         storage.Stats       `json:"rows"`
	Cursors      []cursor.Checkpoint `json:"cursors"`
}

func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the configured subscription cursor and projected row counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, backend, err := rootOpts.connect(ctx)
			if err != nil {
				return err
			}
			defer backend.Close()

			sub := cursor.Subscription{Name: cfg.Feed.Name, Namespace: cfg.Feed.Namespace, Version: cfg.Feed.Version}
			res := StatusResult{Subscription: sub.Key(), Position: cursor.Beginning.String()}

			cp, err := backend.LoadCheckpoint(ctx, sub)
			switch {
			case err == nil:
				res.Position = cp.Position.String()
				res.UpdatedAt = &cp.UpdatedAt
			case errors.Is(err, storage.ErrNotFound):
			default:
				return WrapExitError(ExitFailure, "failed to load checkpoint", err)
			}

			if res.Rows, err = backend.Stats(ctx); err != nil {
				return WrapExitError(ExitFailure, "failed to count rows", err)
			}
			if res.Cursors, err = backend.ListCheckpoints(ctx); err != nil {
				return WrapExitError(ExitFailure, "failed to list checkpoints", err)
			}
			if res.Cursors == nil {
				res.Cursors = []cursor.Checkpoint{}
			}

			return write(cmd.OutOrStdout(), rootOpts.Format, res, func(w io.Writer) {
				fmt.Fprintf(w, "Subscription: %s\n", res.Subscription)
				fmt.Fprintf(w, "Position:     %s\n", res.Position)
				fmt.Fprintln(w, "\n--- Rows ---")
				fmt.Fprintf(w, "labor_markets:    %d\n", res.Rows.LaborMarkets)
				fmt.Fprintf(w, "service_requests: %d\n", res.Rows.ServiceRequests)
				fmt.Fprintf(w, "submissions:      %d\n", res.Rows.Submissions)
				fmt.Fprintf(w, "reviews:          %d\n", res.Rows.Reviews)
				fmt.Fprintln(w, "\n--- Cursors ---")
				printCheckpoints(w, res.Cursors)
			})
		},
	}
}

type CursorShowOptions struct {
	*RootOptions
	Name      string
	Namespace string
	Version   string
}

func NewCursorCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Inspect subscription cursors",
	}
	cmd.AddCommand(newCursorShowCommand(rootOpts))
	return cmd
}

func newCursorShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CursorShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show one subscription cursor, defaulting to the configured feed",
		Long: `Show the saved position of a subscription.

Examples:
  indexctl cursor show
  indexctl cursor show --version 0.0.2 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, backend, err := opts.connect(ctx)
			if err != nil {
				return err
			}
			defer backend.Close()

			sub := cursor.Subscription{
				Name:      firstNonEmpty(opts.Name, cfg.Feed.Name),
				Namespace: firstNonEmpty(opts.Namespace, cfg.Feed.Namespace),
				Version:   firstNonEmpty(opts.Version, cfg.Feed.Version),
			}
			cp, err := backend.LoadCheckpoint(ctx, sub)
			if errors.Is(err, storage.ErrNotFound) {
				return NewExitError(ExitFailure, fmt.Sprintf("no cursor for %s", sub.Key()))
			}
			if err != nil {
				return WrapExitError(ExitFailure, "failed to load checkpoint", err)
			}
			return write(cmd.OutOrStdout(), opts.Format, cp, func(w io.Writer) {
				printCheckpoints(w, []cursor.Checkpoint{*cp})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "subscription name")
	cmd.Flags().StringVar(&opts.Namespace, "namespace", "", "subscription namespace")
	cmd.Flags().StringVar(&opts.Version, "version", "", "subscription version")

	return cmd
}

func printCheckpoints(w io.Writer, cps []cursor.Checkpoint) {
	if len(cps) == 0 {
		fmt.Fprintln(w, "No cursors saved.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SUBSCRIPTION\tPOSITION\tTX HASH\tUPDATED")
	for _, cp := range cps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", cp.Subscription.Key(), cp.Position, cp.TxHash, cp.UpdatedAt.Format(time.RFC3339))
	}
	tw.Flush()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
