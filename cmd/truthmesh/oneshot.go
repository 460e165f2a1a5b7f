package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/Alias1177/TruthMesh/internal/ingest"
	"github.com/Alias1177/TruthMesh/internal/pipeline"
	"github.com/Alias1177/TruthMesh/models"
)

var (
	ingestSource string
	ingestTitle  string
	ingestURL    string

	workflowPoll       bool
	workflowMaxEntries int
)

var processOnceCmd = &cobra.Command{
	Use:   "process-once",
	Short: "Claim and process a single queued event",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDispatcher(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		found, err := d.ProcessOne(cmd.Context())
		if err != nil {
			return err
		}
		if !found {
			fmt.Fprintln(cmd.OutOrStdout(), "queue empty")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), "processed 1 entry")
		return nil
	},
}

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Create predictions for signals that have none",
	RunE: func(cmd *cobra.Command, args []string) error {
		preds, err := newPredictor().RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %d predictions\n", len(preds))
		return nil
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Link new predictions to markets and submit pending links on chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, err := newChainStack(cmd.Context(), cfg, true)
		if err != nil {
			return err
		}
		defer stack.Close()

		report, err := stack.linker.RunOnce(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "checked %d, linked %d, submitted %d, failed %d\n",
			report.Checked, report.Linked, report.Submitted, report.Failed)
		if err != nil {
			return err
		}
		if report.Failed > 0 {
			return fmt.Errorf("%d submissions failed", report.Failed)
		}
		return nil
	},
}

var syncMarketsCmd = &cobra.Command{
	Use:   "sync-markets",
	Short: "Mirror on-chain markets into the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, err := newChainStack(cmd.Context(), cfg, true)
		if err != nil {
			return err
		}
		defer stack.Close()

		n, err := stack.syncer.Sync(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "synced %d markets\n", n)
		return nil
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [text]",
	Short: "Store and enqueue one event; text comes from the argument or stdin",
	Example: `  truthmesh ingest "Bitcoin ETF approved" --source manual
  curl -s https://example.com/article.txt | truthmesh ingest --source article`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		if text == "" {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			text = string(data)
		}

		ev, err := ingest.NewIngestor(db).Ingest(cmd.Context(), models.IncomingEvent{
			Source: ingestSource,
			Title:  ingestTitle,
			Text:   text,
			URL:    ingestURL,
		})
		if err != nil {
			return err
		}
		if ev == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "skipped: empty or duplicate")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stored raw event %d (%s)\n", ev.ID, ev.ContentHash)
		return nil
	},
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Fetch every ingest source once",
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, err := newPollRunner(cfg)
		if err != nil {
			return err
		}

		var errs []error
		for _, res := range runner.Poll(cmd.Context()) {
			fmt.Fprintf(cmd.OutOrStdout(), "%-28s fetched %3d  inserted %3d\n", res.Source, res.Fetched, res.Inserted)
			if res.Err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", res.Source, res.Err))
			}
		}
		return errors.Join(errs...)
	},
}

var signCmd = &cobra.Command{
	Use:   "sign <prediction-id> <prediction> <confidence>",
	Short: "Sign a prediction with the oracle key and print the signature",
	Long: `Signs (id, prediction, confidence) the way submissions are signed.
Prediction and confidence are values in [0, 1]; they are scaled by 1e6.`,
	Example:     `  truthmesh sign 999 0.75 0.82`,
	Args:        cobra.ExactArgs(3),
	Annotations: map[string]string{annotationNoDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid prediction id %q", args[0])
		}
		pred, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid prediction %q", args[1])
		}
		conf, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return fmt.Errorf("invalid confidence %q", args[2])
		}

		signer, err := newSigner(cfg)
		if err != nil {
			return err
		}
		sp, err := signer.SignValues(id, pred, conf)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "signer:       %s\n", sp.Signer.Hex())
		fmt.Fprintf(out, "framing:      %s\n", signer.Framing())
		fmt.Fprintf(out, "prediction:   %s\n", sp.Prediction)
		fmt.Fprintf(out, "confidence:   %s\n", sp.Confidence)
		fmt.Fprintf(out, "message hash: %s\n", sp.MessageHash.Hex())
		fmt.Fprintf(out, "signed hash:  %s\n", sp.SignedHash.Hex())
		fmt.Fprintf(out, "signature:    %s\n", hexutil.Encode(sp.Signature))
		return nil
	},
}

var workflowCmd = &cobra.Command{
	Use:   "workflow [file]",
	Short: "Run every stage once over events read line by line from a file or stdin",
	Long: `Ingests one event per non-empty input line, drains the queue, creates
predictions, syncs markets and links and submits predictions. Chain stages
are skipped when the chain is not configured.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var in io.Reader = cmd.InOrStdin()
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		events, err := readEvents(in)
		if err != nil {
			return err
		}

		d, err := newDispatcher(ctx, cfg)
		if err != nil {
			return err
		}
		stack, err := newChainStack(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer stack.Close()

		wf := &pipeline.Workflow{
			Events:     events,
			Ingestor:   ingest.NewIngestor(db),
			Processor:  d,
			Predictor:  newPredictor(),
			Linker:     stack.linker,
			MaxEntries: workflowMaxEntries,
		}
		if stack.syncer != nil {
			wf.Syncer = stack.syncer
		}
		if workflowPoll {
			runner, err := newPollRunner(cfg)
			if err != nil {
				return err
			}
			wf.Poller = runner
		}

		report, err := wf.Run(ctx)
		fmt.Fprintf(cmd.OutOrStdout(),
			"ingested %d, processed %d, failed %d, predictions %d, markets %d, linked %d, submitted %d\n",
			report.Ingested, report.Processed, report.FailedEntries, report.Predictions,
			report.MarketsSynced, report.Market.Linked, report.Market.Submitted)
		if err != nil {
			return err
		}
		if report.FailedEntries > 0 || report.Market.Failed > 0 {
			return fmt.Errorf("%d entries and %d submissions failed", report.FailedEntries, report.Market.Failed)
		}
		return nil
	},
}

func readEvents(r io.Reader) ([]models.IncomingEvent, error) {
	var events []models.IncomingEvent
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		events = append(events, models.IncomingEvent{Source: "workflow", Text: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading events: %w", err)
	}
	return events, nil
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSource, "source", "cli", "event source name")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "optional title")
	ingestCmd.Flags().StringVar(&ingestURL, "url", "", "optional source url")

	workflowCmd.Flags().BoolVar(&workflowPoll, "poll", false, "also fetch every ingest source")
	workflowCmd.Flags().IntVar(&workflowMaxEntries, "max-entries", 0, "stop draining after this many entries (0 drains everything)")
}
