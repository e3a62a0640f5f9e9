package command

import (
	"errors"
	"fmt"

	"github.com/3leaps/govarcall/pkg/region"
)

// Defaults mirror the historical caller.
const (
	DefaultThreshold     = 0.2
	DefaultMinCoverage   = 4
	DefaultSampleName    = "SAMPLE"
	DefaultDelay         = 10
	DefaultThreads       = 4
	DefaultMaxPlot       = 10
	DefaultParallelLevel = 2
	DefaultWorkers       = 8
	DefaultSamtools      = "samtools"
	DefaultPypy          = "pypy"
	DefaultInterpreter   = "python"
)

// ErrMissingRequired is returned when a required invocation input is empty.
var ErrMissingRequired = errors.New("missing required option")

// CallVariant describes the per-region variant calling invocation.
//
// Paths must already be resolved; the builder does no filesystem access.
type CallVariant struct {
	Interpreter string // executable, usually "python"
	Program     string // script and subcommand passed to Interpreter

	Checkpoint string
	Reference  string
	Alignment  string

	Threshold   float64
	MinCoverage float64
	Pypy        string
	Samtools    string
	Delay       int
	Threads     int
	SampleName  string

	// Optional; omitted when unset.
	CandidateSites        string
	Qual                  *int
	StopConsiderLeftEdge  bool
	Debug                 bool
	PysamForAllIndelBases bool

	Activation *Activation
}

// Activation is the activation-only option block. It is appended once to the
// base invocation when set.
type Activation struct {
	LogPath       string
	MaxPlot       int
	ParallelLevel int
	Workers       int
	FastPlotting  bool
}

// Validate checks that required inputs are present.
func (c *CallVariant) Validate() error {
	required := []struct{ name, value string }{
		{"interpreter", c.Interpreter},
		{"program", c.Program},
		{"chkpnt_fn", c.Checkpoint},
		{"ref_fn", c.Reference},
		{"bam_fn", c.Alignment},
		{"pypy", c.Pypy},
		{"samtools", c.Samtools},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%w: %s", ErrMissingRequired, r.name)
		}
	}
	return nil
}

// Base returns the options shared by every region, including the
// activation-only block when requested.
func (c *CallVariant) Base() []Option {
	opts := []Option{
		Exec(c.Interpreter, c.Program),
		Value("chkpnt_fn", c.Checkpoint),
		Value("ref_fn", c.Reference),
		Value("bam_fn", c.Alignment),
		Float("threshold", c.Threshold),
		Float("minCoverage", c.MinCoverage),
		Value("pypy", c.Pypy),
		Value("samtools", c.Samtools),
		Int("delay", c.Delay),
		Int("threads", c.Threads),
		Value("sampleName", c.SampleName),
		optionalPath("vcf_fn", c.CandidateSites),
		OptionalInt("qual", c.Qual),
		Switch("stop_consider_left_edge", c.StopConsiderLeftEdge),
		Switch("debug", c.Debug),
		Switch("pysam_for_all_indel_bases", c.PysamForAllIndelBases),
	}
	if a := c.Activation; a != nil {
		opts = append(opts,
			Flag("activation_only"),
			optionalPath("log_path", a.LogPath),
			Int("max_plot", a.MaxPlot),
			Int("parallel_level", a.ParallelLevel),
			Int("workers", a.Workers),
			Switch("fast_plotting", a.FastPlotting),
		)
	}
	return opts
}

// RegionOptions returns the per-region options for d. The restriction file is
// forwarded only when d overlapped it.
func RegionOptions(d region.Descriptor) []Option {
	opts := []Option{
		Value("ctgName", d.Contig),
		Int("ctgStart", d.Start),
		Int("ctgEnd", d.End),
		Value("call_fn", d.OutputPath),
	}
	if d.Restriction != nil {
		opts = append(opts, optionalPath("bed_fn", d.Restriction.Path))
	}
	return opts
}

// Emitter renders one invocation line per region. The base string is rendered
// once at construction.
type Emitter struct {
	base string
}

// NewEmitter validates c and pre-renders its base invocation.
func NewEmitter(c *CallVariant) (*Emitter, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &Emitter{base: Render(c.Base())}, nil
}

// Base returns the rendered shared portion of every line.
func (e *Emitter) Base() string { return e.base }

// Line returns the full invocation for d.
func (e *Emitter) Line(d region.Descriptor) string {
	return e.base + " " + Render(RegionOptions(d))
}

func optionalPath(name, value string) Option {
	if value == "" {
		return OptionalValue(name, nil)
	}
	return Value(name, value)
}
