package command

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/govarcall/pkg/interval"
	"github.com/3leaps/govarcall/pkg/region"
)

func TestOptionRender(t *testing.T) {
	three := 3
	tests := []struct {
		name   string
		opt    Option
		want   string
		wantOK bool
	}{
		{"value", Value("ref_fn", "ref.fa"), `--ref_fn "ref.fa"`, true},
		{"empty value is still a value", Value("x", ""), `--x ""`, true},
		{"absent value", OptionalValue("vcf_fn", nil), "", false},
		{"absent int", OptionalInt("qual", nil), "", false},
		{"present int", OptionalInt("qual", &three), `--qual "3"`, true},
		{"float", Float("threshold", 0.2), `--threshold "0.2"`, true},
		{"whole float", Float("minCoverage", 4), `--minCoverage "4.0"`, true},
		{"large whole float", Float("minCoverage", 1e6), `--minCoverage "1000000.0"`, true},
		{"small float", Float("threshold", 1e-5), `--threshold "1e-05"`, true},
		{"flag", Flag("debug"), "--debug", true},
		{"switch off", Switch("debug", false), "", false},
		{"switch on", Switch("debug", true), "--debug", true},
		{"exec", Exec("python", "clair.py callVarBam"), "python clair.py callVarBam", true},
		{"literal", Literal("| tee log"), "| tee log", true},
		{"zero value", Option{}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.opt.Render()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderDropsAbsentAndKeepsOrder(t *testing.T) {
	opts := []Option{
		Value("b", "2"),
		OptionalValue("gone", nil),
		Flag("a"),
		Switch("off", false),
		Value("c", "3"),
	}
	assert.Equal(t, `--b "2" --a --c "3"`, Render(opts))
	assert.Equal(t, "", Render(nil))
	assert.Equal(t, "", Render([]Option{OptionalValue("x", nil)}))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "flag-value", Value("a", "b").Kind().String())
	assert.Equal(t, "flag", Flag("a").Kind().String())
	assert.Equal(t, "exec", Exec("a", "b").Kind().String())
	assert.Equal(t, "literal", Literal("a").Kind().String())
	assert.Equal(t, "none", Option{}.Kind().String())
}

func baseCall() *CallVariant {
	return &CallVariant{
		Interpreter: DefaultInterpreter,
		Program:     "/opt/clair.py callVarBam",
		Checkpoint:  "/models/model",
		Reference:   "/ref/hg38.fa",
		Alignment:   "/bam/sample.bam",
		Threshold:   DefaultThreshold,
		MinCoverage: DefaultMinCoverage,
		Pypy:        "/usr/bin/pypy",
		Samtools:    "/usr/bin/samtools",
		Delay:       DefaultDelay,
		Threads:     DefaultThreads,
		SampleName:  DefaultSampleName,
	}
}

func TestCallVariantBase(t *testing.T) {
	c := baseCall()
	e, err := NewEmitter(c)
	require.NoError(t, err)

	want := `python /opt/clair.py callVarBam --chkpnt_fn "/models/model" --ref_fn "/ref/hg38.fa"` +
		` --bam_fn "/bam/sample.bam" --threshold "0.2" --minCoverage "4.0" --pypy "/usr/bin/pypy"` +
		` --samtools "/usr/bin/samtools" --delay "10" --threads "4" --sampleName "SAMPLE"`
	assert.Equal(t, want, e.Base())
	assert.NotContains(t, e.Base(), "activation_only")
}

func TestCallVariantOptionalFlags(t *testing.T) {
	c := baseCall()
	q := 100
	c.CandidateSites = "/vcf/candidates.vcf"
	c.Qual = &q
	c.Debug = true
	c.PysamForAllIndelBases = true

	got := Render(c.Base())
	assert.True(t, strings.HasSuffix(got,
		`--sampleName "SAMPLE" --vcf_fn "/vcf/candidates.vcf" --qual "100" --debug --pysam_for_all_indel_bases`), got)
	assert.NotContains(t, got, "stop_consider_left_edge")
}

func TestCallVariantActivationBlock(t *testing.T) {
	c := baseCall()
	c.Activation = &Activation{
		MaxPlot:       DefaultMaxPlot,
		ParallelLevel: DefaultParallelLevel,
		Workers:       DefaultWorkers,
	}
	e, err := NewEmitter(c)
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(e.Base(),
		`--sampleName "SAMPLE" --activation_only --max_plot "10" --parallel_level "2" --workers "8"`), e.Base())
	assert.Equal(t, 1, strings.Count(e.Base(), "--activation_only"))

	c.Activation.LogPath = "/tmp/act"
	c.Activation.FastPlotting = true
	assert.Contains(t, Render(c.Base()), `--activation_only --log_path "/tmp/act" --max_plot "10"`)
	assert.True(t, strings.HasSuffix(Render(c.Base()), `--workers "8" --fast_plotting`))
}

func TestEmitterLine(t *testing.T) {
	e, err := NewEmitter(baseCall())
	require.NoError(t, err)

	d := region.Descriptor{Contig: "chr1", Start: 0, End: 1000, OutputPath: "out.chr1_0_1000.vcf"}
	line := e.Line(d)
	assert.True(t, strings.HasPrefix(line, e.Base()+" "))
	assert.True(t, strings.HasSuffix(line,
		`--ctgName "chr1" --ctgStart "0" --ctgEnd "1000" --call_fn "out.chr1_0_1000.vcf"`), line)

	d.Restriction = &region.Restriction{Path: "hc.bed", First: interval.Interval{Contig: "chr1", Start: 5, End: 9}}
	assert.True(t, strings.HasSuffix(e.Line(d), `--call_fn "out.chr1_0_1000.vcf" --bed_fn "hc.bed"`))
}

func TestCallVariantValidate(t *testing.T) {
	c := baseCall()
	c.Alignment = ""
	_, err := NewEmitter(c)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingRequired))
	assert.Contains(t, err.Error(), "bam_fn")
}
