package main

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Alias1177/TruthMesh/internal/dispatcher"
	"github.com/Alias1177/TruthMesh/internal/pipeline"
	"github.com/Alias1177/TruthMesh/internal/server"
)

var (
	serveNoPoll bool
	serveAddr   string
)

// serveCmd runs every stage as a background loop next to the read API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the read API, drain loop, predictor, submitter and pollers",
	Long: `Starts every long-running part of the pipeline in one process:
  - read API on PORT
  - drain loop (standby while another process holds the drain lease)
  - prediction loop every PREDICT_INTERVAL
  - market link and submit loop every SUBMIT_INTERVAL
  - market sync every MARKET_SYNC_INTERVAL when the chain is configured
  - source polling every POLL_INTERVAL_SECONDS

Stops on SIGINT or SIGTERM after the in-flight work finishes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		d, err := newDispatcher(ctx, cfg)
		if err != nil {
			return err
		}
		stack, err := newChainStack(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer stack.Close()

		c := pipeline.NewCoordinator()
		c.Go(ctx, "api", func(ctx context.Context) error {
			return server.New(db).Run(ctx, listenAddr())
		})
		c.Every(ctx, "drain", cfg.LockTTL, func(ctx context.Context) error {
			err := d.Run(ctx)
			if errors.Is(err, dispatcher.ErrLockHeld) {
				log.Debug().Msg("Drain lease held elsewhere, standing by")
				return nil
			}
			return err
		})
		c.Every(ctx, "predict", cfg.PredictInterval, func(ctx context.Context) error {
			_, err := newPredictor().RunOnce(ctx)
			return err
		})
		c.Every(ctx, "submit", cfg.SubmitInterval, func(ctx context.Context) error {
			_, err := stack.linker.RunOnce(ctx)
			return err
		})
		if stack.syncer != nil {
			c.Every(ctx, "sync-markets", cfg.MarketSyncInterval, func(ctx context.Context) error {
				_, err := stack.syncer.Sync(ctx)
				return err
			})
		}
		if !serveNoPoll {
			runner, err := newPollRunner(cfg)
			if err != nil {
				return err
			}
			c.Every(ctx, "poll", cfg.PollInterval, func(ctx context.Context) error {
				runner.Poll(ctx)
				return nil
			})
		}

		log.Info().Str("addr", listenAddr()).Msg("TruthMesh running")
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		c.Wait()

		if err := c.Errors()["api"]; err != nil {
			return err
		}
		return nil
	},
}

// apiCmd serves the read API alone
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Serve the read-only HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.New(db).Run(cmd.Context(), listenAddr())
	},
}

// drainCmd runs the drain loop in the foreground
var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Drain the signal queue until interrupted",
	Long: `Claims queued events in batches and turns them into signals.

Only one drain runs at a time across processes; a second one exits with an
error while the lease is held.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDispatcher(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if err := d.Run(cmd.Context()); err != nil {
			return fmt.Errorf("drain: %w", err)
		}
		return nil
	},
}

func listenAddr() string {
	if serveAddr != "" {
		return serveAddr
	}
	return net.JoinHostPort("", cfg.Port)
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoPoll, "no-poll", false, "do not poll ingest sources")
	for _, c := range []*cobra.Command{serveCmd, apiCmd} {
		c.Flags().StringVar(&serveAddr, "addr", "", "listen address (default :PORT)")
	}
}
