// Command menjalnica runs the clothing swap service.
package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/erazemk/menjalnica/internal/config"
	"github.com/erazemk/menjalnica/internal/db"
)

// rootOptions holds global flags and the loaded configuration.
type rootOptions struct {
	envFile string
	dbPath  string
	logPath string
	verbose bool

	cfg      config.Config
	closeLog func()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "menjalnica",
		Short:         "Clothing swap service",
		Long:          "menjalnica lets members list clothing and swap it for other items or for points.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.closeLog != nil {
				opts.closeLog()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.envFile, "env", "", "env file to load (default: .env if present)")
	cmd.PersistentFlags().StringVarP(&opts.dbPath, "db", "d", "", "SQLite database path (default: menjalnica.sqlite3)")
	cmd.PersistentFlags().StringVarP(&opts.logPath, "log", "l", "", "log file path (default: stdout/stderr only)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newInitCommand(opts))
	cmd.AddCommand(newSweepCommand(opts))
	cmd.AddCommand(newSeedCommand(opts))

	return cmd
}

// load reads the configuration, applies flag overrides and sets up logging.
func (o *rootOptions) load(cmd *cobra.Command) error {
	var files []string
	if o.envFile != "" {
		files = append(files, o.envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBPath = o.dbPath
	}
	if flags.Changed("log") {
		cfg.LogPath = o.logPath
	}
	o.cfg = cfg

	o.closeLog, err = setupLogger(cfg.LogPath, o.verbose)
	return err
}

// openDB opens the configured database and ensures its schema.
func (o *rootOptions) openDB() (*sql.DB, error) {
	database, err := db.Open(o.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return database, nil
}
