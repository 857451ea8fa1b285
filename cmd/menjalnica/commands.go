package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/erazemk/menjalnica/internal/seed"
	"github.com/erazemk/menjalnica/internal/swap"
)

func newInitCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.cfg.DBPath
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("database file %s already exists", path)
			} else if !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			database, err := opts.openDB()
			if err != nil {
				os.Remove(path)
				return err
			}
			database.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Database created: %s\n", path)
			fmt.Fprintln(cmd.OutOrStdout(), "Schema initialized.")
			return nil
		},
	}
}

func newSweepCommand(opts *rootOptions) *cobra.Command {
	var policy swap.SweepPolicy

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale swap requests once",
		Long: `Expire stale swap requests once and exit. Meant to be run from cron or
another external scheduler. TTLs default to MENJALNICA_PENDING_TTL and
MENJALNICA_ACCEPTED_TTL; a zero TTL leaves that state alone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("pending-ttl") {
				policy.PendingTTL = opts.cfg.PendingTTL
			}
			if !cmd.Flags().Changed("accepted-ttl") {
				policy.AcceptedTTL = opts.cfg.AcceptedTTL
			}

			database, err := opts.openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			n, err := sweepOnce(cmd.Context(), swap.New(database, nil), policy)
			fmt.Fprintf(cmd.OutOrStdout(), "Expired %d swap requests.\n", n)
			return err
		},
	}

	cmd.Flags().DurationVar(&policy.PendingTTL, "pending-ttl", 0, "expire pending requests older than this")
	cmd.Flags().DurationVar(&policy.AcceptedTTL, "accepted-ttl", 0, "expire accepted requests older than this")
	return cmd
}

func newSeedCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <catalog.yaml>",
		Short: "Load members and items from a YAML catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := seed.LoadFile(args[0])
			if err != nil {
				return err
			}

			database, err := opts.openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			res, err := seed.Apply(cmd.Context(), database, catalog, opts.cfg.WelcomePoints)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %d members and %d items (%d skipped).\n", res.Members, res.Items, res.Skipped)
			return nil
		},
	}
}
