package cmd

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/govarcall/internal/config"
	"github.com/3leaps/govarcall/internal/server/handlers"
	"github.com/3leaps/govarcall/pkg/runstore"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the training run ledger",
	Long: `Inspect training runs recorded in the run ledger.

The ledger lives at $XDG_DATA_HOME/govarcall/runs.db by default. Set
store.path (or GOVARCALL_DB_PATH) to use another file, or store.url for a
remote libsql database.`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsEpochsCmd = &cobra.Command{
	Use:   "epochs <run-id>",
	Short: "Show per-epoch losses of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsEpochs,
}

var (
	runsLimit int
	runsJSON  bool
)

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsEpochsCmd)

	runsCmd.PersistentFlags().BoolVar(&runsJSON, "json", false, "Output as JSON")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum runs to list (0 lists all)")
}

// openLedger opens and migrates the run ledger. path, when set, overrides
// the configured location.
func openLedger(ctx context.Context, store config.StoreConfig, path string) (*sql.DB, error) {
	cfg := runstore.Config{Path: store.Path, URL: store.URL, AuthToken: store.AuthToken}
	if path != "" {
		cfg = runstore.Config{Path: path}
	}
	db, err := runstore.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runstore.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func runRunsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	db, err := openLedger(ctx, cfg.Store, "")
	if err != nil {
		return classifiedExit("Failed to open run ledger", err)
	}
	defer func() { _ = db.Close() }()
	return executeRunsList(ctx, db, runsLimit, runsJSON, cmd.OutOrStdout())
}

func executeRunsList(ctx context.Context, db *sql.DB, limit int, asJSON bool, w io.Writer) error {
	runs, err := runstore.ListRuns(ctx, db, limit)
	if err != nil {
		return classifiedExit("Failed to list runs", err)
	}

	if asJSON {
		views := make([]handlers.RunView, 0, len(runs))
		for _, r := range runs {
			views = append(views, handlers.NewRunView(r))
		}
		return writeJSONOutput(w, views)
	}

	if len(runs) == 0 {
		_, _ = fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "RUN ID\tSTATUS\tSTARTED\tMAX EPOCH\tBEST EPOCH\tBEST LOSS\tDATASET")
	for _, r := range runs {
		best, loss := "-", "-"
		if r.BestEpoch != nil {
			best = strconv.Itoa(*r.BestEpoch)
		}
		if r.BestLoss != nil {
			loss = strconv.FormatFloat(*r.BestLoss, 'g', 6, 64)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			r.RunID, r.Status, r.StartedAt.Local().Format(time.DateTime),
			r.MaxEpoch, best, loss, r.DatasetURI)
	}
	return tw.Flush()
}

func runRunsEpochs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	db, err := openLedger(ctx, cfg.Store, "")
	if err != nil {
		return classifiedExit("Failed to open run ledger", err)
	}
	defer func() { _ = db.Close() }()
	return executeRunsEpochs(ctx, db, args[0], runsJSON, cmd.OutOrStdout())
}

func executeRunsEpochs(ctx context.Context, db *sql.DB, runID string, asJSON bool, w io.Writer) error {
	run, err := runstore.GetRun(ctx, db, runID)
	if err != nil {
		return classifiedExit("Run not found", err)
	}
	epochs, err := runstore.ListEpochs(ctx, db, run.RunID)
	if err != nil {
		return classifiedExit("Failed to list epochs", err)
	}

	if asJSON {
		views := make([]handlers.EpochView, 0, len(epochs))
		for _, e := range epochs {
			views = append(views, handlers.NewEpochView(e))
		}
		return writeJSONOutput(w, map[string]any{
			"run":    handlers.NewRunView(*run),
			"epochs": views,
		})
	}

	_, _ = fmt.Fprintf(w, "Run %s (%s)\n\n", run.RunID, run.Status)
	if len(epochs) == 0 {
		_, _ = fmt.Fprintln(w, "No epochs recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "EPOCH\tTRAIN LOSS\tVALID LOSS\tVALID SUM\tLR\tDURATION\tBEST")
	for _, e := range epochs {
		mark := ""
		if run.BestEpoch != nil && *run.BestEpoch == e.Epoch {
			mark = "*"
		}
		_, _ = fmt.Fprintf(tw, "%d\t%.6g\t%.6g\t%.6g\t%.3g\t%s\t%s\n",
			e.Epoch, e.TrainingLoss, e.ValidationTotal, e.ValidationSum,
			e.LearningRate, e.Duration.Round(time.Millisecond), mark)
	}
	return tw.Flush()
}

func writeJSONOutput(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write JSON", err)
	}
	return nil
}
