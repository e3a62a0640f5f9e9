package cmd

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/govarcall/internal/config"
	apperrors "github.com/3leaps/govarcall/internal/errors"
	"github.com/3leaps/govarcall/internal/observability"
	"github.com/3leaps/govarcall/internal/server"
	"github.com/3leaps/govarcall/pkg/dataset"
	"github.com/3leaps/govarcall/pkg/manifest"
	"github.com/3leaps/govarcall/pkg/model"
	"github.com/3leaps/govarcall/pkg/output"
	"github.com/3leaps/govarcall/pkg/preflight"
	"github.com/3leaps/govarcall/pkg/runstore"
	"github.com/3leaps/govarcall/pkg/source"
	"github.com/3leaps/govarcall/pkg/trainer"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the variant model on a packed dataset",
	Long: `Train the multi-head variant model on a packed tensor dataset.

A run is described by a train manifest (--job) or by flags on top of the
train.* configuration. Flags override manifest values.

Each epoch writes a checkpoint to <checkpoint-prefix>-<epoch> when a prefix
is set, records its losses in the run ledger and, with --epochs, appends a
JSONL epoch record. After the last epoch the checkpoint with the lowest
summed validation loss is restored and evaluated over the whole dataset.

Before the dataset is loaded, --preflight checks storage access:
  read-safe     head the dataset and init checkpoint (default)
  write-probe   also write and delete a probe object under --upload
  plan-only     skip the checks

Examples:
  govarcall train --job hg002.yaml
  govarcall train --dataset s3://genomes/hg002/train.gvd --checkpoint-prefix ckpt/model \
    --max-epoch 30 --epochs epochs.jsonl --status-addr :8080`,
	Args: cobra.NoArgs,
	RunE: runTrain,
}

var (
	trainJobPath    string
	trainDataset    string
	trainPrefix     string
	trainInit       string
	trainUpload     string
	trainEpochsOut  string
	trainLedgerPath string
	trainStatusAddr string
	trainMaxEpoch   int
	trainSeed       uint64
	trainCLRMode    string
	trainBatch      int
	trainNoLedger   bool
	trainPreflight  string
)

func init() {
	rootCmd.AddCommand(trainCmd)

	f := trainCmd.Flags()
	f.StringVar(&trainJobPath, "job", "", "Train manifest (YAML or JSON)")
	f.StringVar(&trainDataset, "dataset", "", "Dataset container (local path or s3 URI)")
	f.StringVar(&trainPrefix, "checkpoint-prefix", "", "Write per-epoch checkpoints to <prefix>-<epoch>")
	f.StringVar(&trainInit, "init", "", "Resume from this checkpoint (local path or s3 URI)")
	f.StringVar(&trainUpload, "upload", "", "Copy each checkpoint under this prefix (local dir or s3 URI)")
	f.StringVar(&trainEpochsOut, "epochs", "", "Append JSONL epoch records to this file (\"stdout\" for stdout)")
	f.StringVar(&trainLedgerPath, "ledger", "", "Run ledger path (default from store.path)")
	f.StringVar(&trainStatusAddr, "status-addr", "", "Serve run status on this address while training")
	f.IntVar(&trainMaxEpoch, "max-epoch", 0, "Last epoch to run")
	f.Uint64Var(&trainSeed, "seed", 0, "Block shuffle seed")
	f.StringVar(&trainCLRMode, "clr-mode", "", "Cyclical learning rate mode (tri|tri2|exp)")
	f.IntVar(&trainBatch, "batch", 0, "Training batch size")
	f.BoolVar(&trainNoLedger, "no-ledger", false, "Do not record the run in the ledger")
	f.StringVar(&trainPreflight, "preflight", "", "Storage checks before the first epoch (plan-only|read-safe|write-probe)")
}

// trainJob is everything executeTrain needs, resolved from config, manifest
// and flags.
type trainJob struct {
	Manifest *manifest.Manifest

	Store         config.StoreConfig
	LedgerEnabled bool

	// StatusHost and StatusPort start the status server when StatusPort > 0.
	StatusHost string
	StatusPort int

	// Preflight selects the storage checks run before loading the dataset.
	Preflight preflight.Mode

	Progress time.Duration
	WorkDir  string
	Logger   *zap.Logger
}

func runTrain(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	m, err := resolveManifest(cmd, cfg)
	if err != nil {
		return err
	}

	mode := cfg.Train.Preflight
	if cmd.Flags().Changed("preflight") {
		mode = trainPreflight
	}
	pfMode, err := preflight.ParseMode(mode)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid preflight mode", err)
	}

	job := &trainJob{
		Manifest:      m,
		Preflight:     pfMode,
		Store:         cfg.Store,
		LedgerEnabled: cfg.Store.Enabled && !trainNoLedger,
		Progress:      cfg.Train.ProgressInterval,
		WorkDir:       cfg.Train.WorkDir,
		Logger:        observability.CLILogger,
	}
	if cfg.Logging.Profile == config.ProfileStructured {
		job.Logger = observability.NewStructuredLogger(config.AppName)
	}

	addr := m.Output.StatusAddr
	if addr == "" && cfg.Server.Enabled {
		addr = cfg.Server.Addr()
	}
	if addr != "" {
		if job.StatusHost, job.StatusPort, err = splitAddr(addr); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid status address", err)
		}
	}

	tmpl := s3Template(cfg)
	if m.Connection != (manifest.ConnectionConfig{}) {
		tmpl = m.S3Config()
	}
	opener := source.NewOpener(tmpl)
	defer func() { _ = opener.Close() }()

	res, err := executeTrain(ctx, job, opener, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if res.HasBest {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Best epoch %d (validation loss %.6g)\n", res.Best.Epoch, res.Best.Loss)
	}
	return nil
}

// resolveManifest loads --job, or builds a manifest from the train.*
// configuration, then applies flags on top.
func resolveManifest(cmd *cobra.Command, cfg *config.Config) (*manifest.Manifest, error) {
	var m *manifest.Manifest
	if trainJobPath != "" {
		loaded, err := manifest.Load(trainJobPath)
		if err != nil {
			return nil, classifiedExit("Invalid train manifest", err)
		}
		m = loaded
	} else {
		m = manifestFromConfig(cfg.Train)
	}

	changed := cmd.Flags().Changed
	if changed("dataset") {
		m.Dataset = trainDataset
	}
	if changed("checkpoint-prefix") {
		m.Checkpoints.Prefix = trainPrefix
	}
	if changed("init") {
		m.Checkpoints.Init = trainInit
	}
	if changed("upload") {
		m.Checkpoints.Upload = trainUpload
	}
	if changed("epochs") {
		m.Output.Epochs = trainEpochsOut
	}
	if changed("ledger") {
		m.Output.Ledger = trainLedgerPath
	}
	if changed("status-addr") {
		m.Output.StatusAddr = trainStatusAddr
	}
	if changed("max-epoch") {
		m.Training.MaxEpoch = trainMaxEpoch
	}
	if changed("seed") {
		m.Training.Seed = trainSeed
	}
	if changed("clr-mode") {
		m.Training.CLRMode = trainCLRMode
	}
	if changed("batch") {
		m.Training.TrainBatch = trainBatch
	}

	if m.Dataset == "" {
		return nil, exitError(foundry.ExitInvalidArgument, "No dataset",
			apperrors.NewConfigError("dataset", "set --dataset or a --job manifest"))
	}
	if m.Checkpoints.Upload != "" && m.Checkpoints.Prefix == "" {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid checkpoint options",
			apperrors.NewConfigError("upload", "requires --checkpoint-prefix"))
	}
	return m, nil
}

func manifestFromConfig(t config.TrainConfig) *manifest.Manifest {
	l2 := t.L2Lambda
	m := &manifest.Manifest{
		Version: manifest.Version,
		Training: manifest.TrainingConfig{
			TrainBatch:       t.Batch,
			ValidationBatch:  t.ValidationBatch,
			TrainFraction:    t.TrainFraction,
			MaxEpoch:         t.MaxEpoch,
			LearningRate:     t.LearningRate,
			MaxLearningRate:  t.MaxLearningRate,
			StepSizeConstant: t.StepSizeConstant,
			CLRMode:          t.CLRMode,
			Seed:             t.Seed,
			L2Lambda:         &l2,
		},
		Checkpoints: manifest.CheckpointConfig{Width: t.CheckpointWidth},
	}
	m.ApplyDefaults()
	return m
}

// executeTrain runs one training job. w receives epoch records when the
// manifest routes them to stdout.
func executeTrain(ctx context.Context, job *trainJob, opener *source.Opener, w io.Writer) (*trainer.Result, error) {
	m := job.Manifest
	logger := job.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	tcfg, err := m.TrainerConfig()
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid training options", err)
	}
	if err := tcfg.Validate(); err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid training options", err)
	}

	runID := uuid.NewString()

	var jw *output.JSONLWriter
	if m.Output.Epochs != "" {
		out, closeOut, err := openEpochSink(m.Output.Epochs, w)
		if err != nil {
			return nil, exitError(foundry.ExitFileWriteError, "Failed to open epoch output", err)
		}
		defer closeOut()
		jw = output.NewJSONLWriter(out, runID)
		defer func() { _ = jw.Close() }()
	}

	if err := runPreflight(ctx, job, opener, jw, logger); err != nil {
		return nil, classifiedExit("Preflight failed", err)
	}

	data, err := loadDataset(ctx, opener, m.Dataset)
	if err != nil {
		return nil, classifiedExit("Failed to load dataset", err)
	}
	defer data.Close()

	heads := m.Heads()
	if data.Y.Width != heads.Width() {
		return nil, exitError(foundry.ExitInvalidArgument, "Dataset does not match model heads",
			apperrors.NewConfigError("model.heads", fmt.Sprintf("label width %d, heads need %d", data.Y.Width, heads.Width())))
	}
	mdl, err := model.NewLinear(data.X.Width, heads)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid model", err)
	}

	if tcfg.InitCheckpoint != "" {
		workDir := job.WorkDir
		if workDir == "" {
			dir, err := os.MkdirTemp("", "govarcall-train-")
			if err != nil {
				return nil, exitError(foundry.ExitFileWriteError, "Failed to create work dir", err)
			}
			defer func() { _ = os.RemoveAll(dir) }()
			workDir = dir
		}
		local, err := opener.Fetch(ctx, tcfg.InitCheckpoint, workDir)
		if err != nil {
			return nil, classifiedExit("Failed to fetch init checkpoint", err)
		}
		tcfg.InitCheckpoint = local
	}

	tr := trainer.New(mdl, data, tcfg).
		WithLogger(logger.With(zap.String("run_id", runID))).
		WithHeads(heads).
		WithRunID(runID).
		WithProgressInterval(job.Progress)

	var db *sql.DB
	var recorder *runstore.Recorder
	if job.LedgerEnabled {
		db, err = openLedger(ctx, job.Store, m.Output.Ledger)
		if err != nil {
			return nil, classifiedExit("Failed to open run ledger", err)
		}
		defer func() { _ = db.Close() }()

		cfgJSON, _ := json.Marshal(m.Training)
		run, err := runstore.CreateRun(ctx, db, runstore.RunParams{
			RunID:            runID,
			DatasetURI:       m.Dataset,
			DatasetSize:      data.Size,
			CheckpointPrefix: tcfg.CheckpointPrefix,
			MaxEpoch:         tcfg.MaxEpoch,
			ConfigJSON:       string(cfgJSON),
			CLRMode:          string(tcfg.CLRMode),
			Seed:             tcfg.Seed,
		})
		if err != nil {
			return nil, classifiedExit("Failed to record run", err)
		}
		recorder = runstore.NewRecorder(db, run.RunID)
		_ = runstore.RecordRunEvent(ctx, db, runstore.RunEvent{
			RunID:         run.RunID,
			EventType:     runstore.EventTypeRunStarted,
			EventCategory: runstore.EventCategoryInfo,
		})
		if tcfg.InitCheckpoint != "" {
			_ = runstore.RecordRunEvent(ctx, db, runstore.RunEvent{
				RunID:         run.RunID,
				EventType:     runstore.EventTypeCheckpointRestore,
				EventCategory: runstore.EventCategoryInfo,
				Detail:        runstore.StringPtr(tcfg.InitCheckpoint),
			})
		}
		tr.WithObserver(recorder)
	}

	if jw != nil {
		tr.WithObserver(jw)
	}

	if m.Checkpoints.Upload != "" {
		up, err := newCheckpointUploader(opener, m.Checkpoints.Upload, db, runID, logger)
		if err != nil {
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid upload location", err)
		}
		tr.WithObserver(up)
	}

	res, runErr := runWithStatus(ctx, tr, job, db, logger)

	if recorder != nil {
		if err := recorder.Finish(ctx, res, runErr); err != nil {
			logger.Warn("Failed to close run in ledger", zap.Error(err))
		}
	}
	if jw != nil {
		finishCtx := context.WithoutCancel(ctx)
		_ = jw.WriteSummary(finishCtx, output.NewSummaryRecord(res, runStatus(ctx, runErr)))
		if runErr != nil {
			_, code := apperrors.Classify(runErr)
			_ = jw.WriteError(finishCtx, &output.ErrorRecord{Code: code, Message: runErr.Error()})
		}
	}

	if runErr != nil {
		return res, classifiedExit("Training failed", runErr)
	}
	return res, nil
}

// runPreflight checks the job's storage targets and reports the result to
// the epoch sink when there is one.
func runPreflight(ctx context.Context, job *trainJob, opener *source.Opener, jw *output.JSONLWriter, logger *zap.Logger) error {
	mode := job.Preflight
	if mode == "" {
		mode = preflight.ModeReadSafe
	}
	m := job.Manifest
	rec, err := preflight.Train(ctx, opener, preflight.Targets{
		Dataset: m.Dataset,
		Init:    m.Checkpoints.Init,
		Upload:  m.Checkpoints.Upload,
	}, preflight.Spec{Mode: mode})
	if rec != nil {
		for _, r := range rec.Results {
			logger.Debug("Preflight check",
				zap.String("capability", r.Capability),
				zap.String("target", r.Target),
				zap.Bool("allowed", r.Allowed))
		}
		if jw != nil && mode != preflight.ModePlanOnly {
			_ = jw.WritePreflight(ctx, rec)
		}
	}
	return err
}

// runWithStatus runs the trainer, serving its status alongside when the job
// names an address. The server stops once training returns.
func runWithStatus(ctx context.Context, tr *trainer.Trainer, job *trainJob, db *sql.DB, logger *zap.Logger) (*trainer.Result, error) {
	if job.StatusPort <= 0 {
		return tr.Run(ctx)
	}

	srv := server.New(job.StatusHost, job.StatusPort).
		WithLogger(logger).
		WithStatus(tr)
	if db != nil {
		srv = srv.WithLedger(db)
	}

	srvCtx, stop := context.WithCancel(ctx)
	var g errgroup.Group
	g.Go(func() error { return srv.Start(srvCtx) })

	res, err := tr.Run(ctx)
	stop()
	if serr := g.Wait(); serr != nil {
		logger.Warn("Status server stopped", zap.Error(serr))
	}
	return res, err
}

func runStatus(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return string(runstore.RunStatusSuccess)
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		return string(runstore.RunStatusCancelled)
	default:
		return string(runstore.RunStatusFailed)
	}
}

func loadDataset(ctx context.Context, opener *source.Opener, uri string) (*dataset.Dataset, error) {
	rc, err := opener.Open(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return dataset.Read(bufio.NewReader(rc))
}

func openEpochSink(path string, stdout io.Writer) (io.Writer, func(), error) {
	if path == "stdout" || path == "-" {
		return stdout, func() {}, nil
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

// checkpointUploader copies each saved checkpoint under a prefix. A failed
// upload is logged and recorded but does not stop the run.
type checkpointUploader struct {
	opener *source.Opener
	prefix *source.Location
	db     *sql.DB
	runID  string
	logger *zap.Logger
}

func newCheckpointUploader(opener *source.Opener, prefix string, db *sql.DB, runID string, logger *zap.Logger) (*checkpointUploader, error) {
	loc, err := source.ParseURI(prefix)
	if err != nil {
		return nil, err
	}
	return &checkpointUploader{opener: opener, prefix: loc, db: db, runID: runID, logger: logger}, nil
}

func (u *checkpointUploader) OnEpoch(ctx context.Context, r trainer.EpochResult) error {
	if r.Checkpoint == "" {
		return nil
	}
	dest := u.prefix.Join(filepath.Base(r.Checkpoint)).String()
	if err := u.opener.Upload(ctx, r.Checkpoint, dest); err != nil {
		u.logger.Warn("Checkpoint upload failed",
			zap.Int("epoch", r.Epoch),
			zap.String("checkpoint", r.Checkpoint),
			zap.String("dest", dest),
			zap.Error(err))
		if u.db != nil {
			_ = runstore.RecordRunEvent(ctx, u.db, runstore.RunEvent{
				RunID:         u.runID,
				EventType:     runstore.EventTypeUploadFailed,
				EventCategory: runstore.EventCategoryWarning,
				Detail:        runstore.StringPtr(fmt.Sprintf("%s: %v", dest, err)),
			})
		}
		return nil
	}
	u.logger.Debug("Checkpoint uploaded", zap.Int("epoch", r.Epoch), zap.String("dest", dest))
	return nil
}

var _ trainer.Observer = (*checkpointUploader)(nil)

func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, port, nil
}
