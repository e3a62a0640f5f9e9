package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/govarcall/internal/config"
	apperrors "github.com/3leaps/govarcall/internal/errors"
	"github.com/3leaps/govarcall/internal/observability"
	"github.com/3leaps/govarcall/pkg/command"
	"github.com/3leaps/govarcall/pkg/interval"
	"github.com/3leaps/govarcall/pkg/match"
	"github.com/3leaps/govarcall/pkg/output"
	"github.com/3leaps/govarcall/pkg/reference"
	"github.com/3leaps/govarcall/pkg/region"
	"github.com/3leaps/govarcall/pkg/source"
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Emit one variant-calling command per reference region",
	Long: `Partition the reference into fixed-size regions and print one
call-variant invocation per region, ready for a parallel job runner.

Only chr1..chr22, chrX and chrY (or 1..22, X, Y) are used unless
--includingAllContigs is set. With --bed_fn, only regions overlapping the
BED intervals are emitted and the BED path is forwarded to each of them.

The .fai index and BED file may be local paths or s3:// URIs.

Examples:
  govarcall call --chkpnt_fn model/model-000030 --ref_fn ref.fa --bam_fn sample.bam \
    --call_fn out/sample > commands.sh
  govarcall call ... --bed_fn targets.bed --include 'chr2*' --format jsonl`,
	RunE: runCall,
}

const (
	formatText  = "text"
	formatJSONL = "jsonl"
)

// callOptions collects every input of the call command.
type callOptions struct {
	Checkpoint     string
	Reference      string
	Fai            string
	Alignment      string
	Bed            string
	CandidateSites string
	OutputPrefix   string

	Python      string
	Program     string
	Pypy        string
	Samtools    string
	Threshold   float64
	MinCoverage float64
	Qual        *int
	Threads     int
	Delay       int
	SampleName  string

	IncludeAllContigs     bool
	ChunkSize             int
	StopConsiderLeftEdge  bool
	Debug                 bool
	PysamForAllIndelBases bool

	ActivationOnly bool
	LogPath        string
	MaxPlot        int
	ParallelLevel  int
	Workers        int
	FastPlotting   bool

	Includes []string
	Excludes []string

	Format string
	Output string
}

var callFlags callOptions

func init() {
	rootCmd.AddCommand(callCmd)

	f := callCmd.Flags()
	f.StringVar(&callFlags.Checkpoint, "chkpnt_fn", "", "Model checkpoint to call with (required)")
	f.StringVar(&callFlags.Reference, "ref_fn", "", "Reference FASTA (required)")
	f.StringVar(&callFlags.Fai, "fai", "", "Reference index (default <ref_fn>.fai)")
	f.StringVar(&callFlags.Alignment, "bam_fn", "", "Alignment BAM (required)")
	f.StringVar(&callFlags.Bed, "bed_fn", "", "Only call regions overlapping these BED intervals")
	f.StringVar(&callFlags.CandidateSites, "vcf_fn", "", "Candidate sites VCF, forwarded to every region")
	f.StringVar(&callFlags.OutputPrefix, "call_fn", "", "Output prefix for per-region VCFs (required)")
	f.StringVar(&callFlags.Python, "python", command.DefaultInterpreter, "Interpreter for the caller program")
	f.StringVar(&callFlags.Program, "program", config.DefaultCallProgram, "Caller script and subcommand")
	f.StringVar(&callFlags.Pypy, "pypy", command.DefaultPypy, "pypy executable")
	f.StringVar(&callFlags.Samtools, "samtools", command.DefaultSamtools, "samtools executable")
	f.Float64Var(&callFlags.Threshold, "threshold", command.DefaultThreshold, "Minimum allele frequency of candidates")
	f.Float64Var(&callFlags.MinCoverage, "minCoverage", command.DefaultMinCoverage, "Minimum coverage required to call a variant")
	f.Int("qual", 0, "Only output variants with quality above this value")
	f.IntVar(&callFlags.Threads, "threads", command.DefaultThreads, "Threads per region caller")
	f.IntVar(&callFlags.Delay, "delay", command.DefaultDelay, "Seconds to wait before starting each caller")
	f.StringVar(&callFlags.SampleName, "sampleName", command.DefaultSampleName, "Sample name in the output VCF")
	f.BoolVar(&callFlags.IncludeAllContigs, "includingAllContigs", false, "Call every contig in the index")
	f.IntVar(&callFlags.ChunkSize, "refChunkSize", region.DefaultChunkSize, "Region width in base pairs")
	f.BoolVar(&callFlags.StopConsiderLeftEdge, "stop_consider_left_edge", false, "Forward --stop_consider_left_edge")
	f.BoolVar(&callFlags.Debug, "debug", false, "Forward --debug")
	f.BoolVar(&callFlags.PysamForAllIndelBases, "pysam_for_all_indel_bases", false, "Forward --pysam_for_all_indel_bases")
	f.BoolVar(&callFlags.ActivationOnly, "activation_only", false, "Emit activation-only commands")
	f.StringVar(&callFlags.LogPath, "log_path", "", "Activation log path")
	f.IntVar(&callFlags.MaxPlot, "max_plot", command.DefaultMaxPlot, "Maximum activation plots")
	f.IntVarP(&callFlags.ParallelLevel, "parallel_level", "p", command.DefaultParallelLevel, "Activation plotting parallel level")
	f.IntVarP(&callFlags.Workers, "workers", "w", command.DefaultWorkers, "Activation plotting workers")
	f.BoolVar(&callFlags.FastPlotting, "fast_plotting", false, "Forward --fast_plotting")
	f.StringSliceVar(&callFlags.Includes, "include", nil, "Contig glob to include (repeatable)")
	f.StringSliceVar(&callFlags.Excludes, "exclude", nil, "Contig glob to exclude (repeatable)")
	f.StringVar(&callFlags.Format, "format", formatText, "Output format (text|jsonl)")
	f.StringVarP(&callFlags.Output, "output", "o", "", "Write to this file instead of stdout")

	for _, name := range []string{"chkpnt_fn", "ref_fn", "bam_fn", "call_fn"} {
		_ = callCmd.MarkFlagRequired(name)
	}
}

func runCall(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	opts := callFlags
	applyCallConfig(cmd, &opts, cfg.Call)
	if cmd.Flags().Changed("qual") {
		q, _ := cmd.Flags().GetInt("qual")
		opts.Qual = &q
	}

	opener := source.NewOpener(s3Template(cfg))
	defer func() { _ = opener.Close() }()

	var n int
	if opts.Output != "" {
		n, err = executeCallToFile(ctx, opts, opener, opts.Output)
	} else {
		n, err = executeCall(ctx, opts, opener, cmd.OutOrStdout())
	}
	if err != nil {
		return err
	}
	observability.CLILogger.Info("Emitted region commands", zap.Int("regions", n))
	return nil
}

// applyCallConfig fills flags the user did not set from the config file.
func applyCallConfig(cmd *cobra.Command, o *callOptions, c config.CallConfig) {
	changed := cmd.Flags().Changed
	if !changed("refChunkSize") {
		o.ChunkSize = c.ChunkSize
	}
	if !changed("python") && c.Interpreter != "" {
		o.Python = c.Interpreter
	}
	if !changed("program") && c.Program != "" {
		o.Program = c.Program
	}
	if !changed("pypy") && c.Pypy != "" {
		o.Pypy = c.Pypy
	}
	if !changed("samtools") && c.Samtools != "" {
		o.Samtools = c.Samtools
	}
	if !changed("threshold") {
		o.Threshold = c.Threshold
	}
	if !changed("minCoverage") {
		o.MinCoverage = c.MinCoverage
	}
	if !changed("delay") {
		o.Delay = c.Delay
	}
	if !changed("threads") && c.Threads > 0 {
		o.Threads = c.Threads
	}
	if !changed("sampleName") && c.SampleName != "" {
		o.SampleName = c.SampleName
	}
}

// callJob is a validated call run, ready to emit.
type callJob struct {
	regions iter.Seq[region.Descriptor]
	emitter *command.Emitter
	format  string
}

// executeCall validates every input, then streams one record per region to
// w. Nothing is written unless validation succeeds.
func executeCall(ctx context.Context, o callOptions, opener *source.Opener, w io.Writer) (int, error) {
	job, err := prepareCall(ctx, o, opener)
	if err != nil {
		return 0, err
	}
	return emitRegions(ctx, job.regions, job.emitter, job.format, w)
}

// executeCallToFile is executeCall writing to path. The file is replaced
// only after every region was emitted; a failed run leaves it untouched.
func executeCallToFile(ctx context.Context, o callOptions, opener *source.Opener, path string) (int, error) {
	job, err := prepareCall(ctx, o, opener)
	if err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".govarcall-call-*")
	if err != nil {
		return 0, exitError(foundry.ExitFileWriteError, "Failed to create output", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	n, err := emitRegions(ctx, job.regions, job.emitter, job.format, tmp)
	if err != nil {
		return n, err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return n, exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	if err := tmp.Close(); err != nil {
		return n, exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return n, exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	committed = true
	return n, nil
}

// prepareCall checks options, executables and input files, and loads the
// reference index and restriction intervals.
func prepareCall(ctx context.Context, o callOptions, opener *source.Opener) (*callJob, error) {
	if o.Format != formatText && o.Format != formatJSONL {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid --format value",
			apperrors.NewConfigError("--format", "must be text or jsonl"))
	}
	rcfg := region.Config{
		ChunkSize:         o.ChunkSize,
		IncludeAllContigs: o.IncludeAllContigs,
		OutputPrefix:      o.OutputPrefix,
		RestrictionPath:   o.Bed,
	}
	if err := rcfg.Validate(); err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid --refChunkSize value", err)
	}

	matcher, err := match.New(match.Config{Includes: o.Includes, Excludes: o.Excludes})
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid contig patterns", err)
	}
	rcfg.Filter = matcher

	pypy, err := exec.LookPath(o.Pypy)
	if err != nil {
		return nil, exitError(foundry.ExitFileNotFound, "pypy executable not found", err)
	}
	samtools, err := exec.LookPath(o.Samtools)
	if err != nil {
		return nil, exitError(foundry.ExitFileNotFound, "samtools executable not found", err)
	}

	checkpoint, err := existingFile(o.Checkpoint, ".meta")
	if err != nil {
		return nil, exitError(foundry.ExitFileNotFound, "Checkpoint not found", err)
	}
	for _, p := range []struct{ name, path string }{
		{"--ref_fn", o.Reference},
		{"--bam_fn", o.Alignment},
		{"--vcf_fn", o.CandidateSites},
	} {
		if p.path == "" {
			continue
		}
		if _, err := existingFile(p.path); err != nil {
			return nil, exitError(foundry.ExitFileNotFound, p.name+" not found", err)
		}
	}

	fai := o.Fai
	if fai == "" {
		fai = o.Reference + reference.IndexSuffix
	}
	contigs, err := readContigs(ctx, opener, fai)
	if err != nil {
		return nil, classifiedExit("Failed to read reference index", err)
	}

	var idx *interval.Index
	if o.Bed != "" {
		idx, err = readRestriction(ctx, opener, o.Bed)
		if err != nil {
			return nil, classifiedExit("Failed to read BED file", err)
		}
	}

	cv := &command.CallVariant{
		Interpreter:           o.Python,
		Program:               o.Program,
		Checkpoint:            checkpoint,
		Reference:             o.Reference,
		Alignment:             o.Alignment,
		Threshold:             o.Threshold,
		MinCoverage:           o.MinCoverage,
		Pypy:                  pypy,
		Samtools:              samtools,
		Delay:                 o.Delay,
		Threads:               o.Threads,
		SampleName:            o.SampleName,
		CandidateSites:        o.CandidateSites,
		Qual:                  o.Qual,
		StopConsiderLeftEdge:  o.StopConsiderLeftEdge,
		Debug:                 o.Debug,
		PysamForAllIndelBases: o.PysamForAllIndelBases,
	}
	if o.ActivationOnly {
		cv.Activation = &command.Activation{
			LogPath:       o.LogPath,
			MaxPlot:       o.MaxPlot,
			ParallelLevel: o.ParallelLevel,
			Workers:       o.Workers,
			FastPlotting:  o.FastPlotting,
		}
	}
	emitter, err := command.NewEmitter(cv)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid call options", err)
	}

	observability.CLILogger.Debug("Partitioning reference",
		zap.Int("contigs", len(contigs)),
		zap.Int("chunk_size", o.ChunkSize),
		zap.Bool("restricted", !idx.Empty()))

	return &callJob{regions: region.Partition(contigs, rcfg, idx), emitter: emitter, format: o.Format}, nil
}

func emitRegions(ctx context.Context, regions iter.Seq[region.Descriptor], emitter *command.Emitter, format string, w io.Writer) (int, error) {
	bw := bufio.NewWriter(w)
	var jw *output.JSONLWriter
	if format == formatJSONL {
		jw = output.NewJSONLWriter(bw, uuid.NewString())
	}

	n := 0
	var writeErr error
	for d := range regions {
		if err := ctx.Err(); err != nil {
			return n, exitError(foundry.ExitSignalInt, "call cancelled", err)
		}
		line := emitter.Line(d)
		if jw != nil {
			writeErr = jw.WriteRegion(ctx, output.NewRegionRecord(d, line))
		} else {
			_, writeErr = fmt.Fprintln(bw, line)
		}
		if writeErr != nil {
			return n, exitError(foundry.ExitFileWriteError, "Failed to write command", writeErr)
		}
		n++
	}
	if err := bw.Flush(); err != nil {
		return n, exitError(foundry.ExitFileWriteError, "Failed to write command", err)
	}
	return n, nil
}

// existingFile returns path when path, or path plus one of suffixes, exists.
func existingFile(path string, suffixes ...string) (string, error) {
	if path == "" {
		return "", apperrors.NewConfigError("path", "empty")
	}
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	for _, s := range suffixes {
		if _, err := os.Stat(path + s); err == nil {
			return path, nil
		}
	}
	_, err := os.Stat(path)
	return "", err
}

func readContigs(ctx context.Context, opener *source.Opener, uri string) ([]reference.Contig, error) {
	rc, err := opener.Open(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	contigs, err := reference.ReadIndex(rc)
	if err != nil {
		return nil, err
	}
	if len(contigs) == 0 {
		return nil, errors.New("reference index lists no contigs")
	}
	return contigs, nil
}

func readRestriction(ctx context.Context, opener *source.Opener, uri string) (*interval.Index, error) {
	rc, err := opener.Open(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	ivs, err := interval.ReadBED(rc)
	if err != nil {
		return nil, err
	}
	return interval.Build(ivs), nil
}
