package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Alias1177/TruthMesh/internal/config"
	"github.com/Alias1177/TruthMesh/internal/database"
	"github.com/Alias1177/TruthMesh/internal/platform/logger"
)

var (
	// Global flags
	logLevel  string
	logPretty bool

	cfg *config.Config
	db  *database.DB
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "truthmesh",
	Short: "TruthMesh - news to on-chain prediction pipeline",
	Long: `TruthMesh ingests news and price events, classifies and summarizes them
into signals, scores predictions and submits signed predictions to the
on-chain prediction market.

Run "truthmesh serve" to start every loop and the read API in one process.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if cmd.Flags().Changed("pretty") {
			cfg.LogPretty = logPretty
		}
		logger.Setup(cfg.LogLevel, cfg.LogPretty)

		if cmd.Annotations[annotationNoDB] == "true" {
			return nil
		}
		if err := cfg.ValidateDatabase(); err != nil {
			return err
		}
		db, err = database.New(cmd.Context(), cfg.DBDriver, cfg.DatabaseDSN())
		if err != nil {
			return fmt.Errorf("opening %s database: %w", cfg.DBDriver, err)
		}
		return nil
	},
}

// annotationNoDB marks commands that run without a database
const annotationNoDB = "truthmesh/no-db"

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "pretty", false, "human readable console logs")

	rootCmd.AddCommand(
		serveCmd,
		apiCmd,
		drainCmd,
		processOnceCmd,
		predictCmd,
		submitCmd,
		syncMarketsCmd,
		ingestCmd,
		pollCmd,
		signCmd,
		workflowCmd,
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	// cobra skips post-run hooks on error, so the database is closed here
	if db != nil {
		if cerr := db.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("Failed to close database")
		}
	}
	if err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
