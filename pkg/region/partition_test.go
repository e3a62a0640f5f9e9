package region

import (
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/govarcall/pkg/interval"
	"github.com/3leaps/govarcall/pkg/match"
	"github.com/3leaps/govarcall/pkg/reference"
)

func TestChunksCoverContig(t *testing.T) {
	tests := []struct {
		length int
		chunk  int
	}{
		{1, 1}, {10, 3}, {9, 3}, {100, 1000}, {1000, 7}, {0, 5}, {12345, 100},
	}
	for _, tt := range tests {
		c := reference.Contig{Name: "chr1", Length: tt.length}
		got := slices.Collect(Chunks(c, Config{ChunkSize: tt.chunk, OutputPrefix: "out"}, nil))

		want := (tt.length + tt.chunk - 1) / tt.chunk
		require.Len(t, got, want, "L=%d C=%d", tt.length, tt.chunk)

		next := 0
		for i, d := range got {
			assert.Equal(t, next, d.Start, "gap or overlap at chunk %d", i)
			assert.LessOrEqual(t, d.End, tt.length)
			assert.Greater(t, d.End, d.Start)
			if i < len(got)-1 {
				assert.Equal(t, tt.chunk, d.End-d.Start)
			}
			next = d.End
		}
		if tt.length > 0 {
			assert.Equal(t, tt.length, next)
		}
	}
}

func TestPartitionContigPolicy(t *testing.T) {
	contigs := []reference.Contig{
		{Name: "chr1", Length: 10},
		{Name: "chrM", Length: 10},
		{Name: "MT", Length: 10},
		{Name: "chrUn_KI270302v1", Length: 10},
		{Name: "X", Length: 10},
	}

	names := func(cfg Config) []string {
		var out []string
		for d := range Partition(contigs, cfg, nil) {
			out = append(out, d.Contig)
		}
		return out
	}

	assert.Equal(t, []string{"chr1", "X"}, names(Config{ChunkSize: 100}))
	assert.Equal(t,
		[]string{"chr1", "chrM", "MT", "chrUn_KI270302v1", "X"},
		names(Config{ChunkSize: 100, IncludeAllContigs: true}))

	filter, err := match.New(match.Config{Excludes: []string{"chrUn*", "chrM"}})
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"chr1", "MT", "X"},
		names(Config{ChunkSize: 100, IncludeAllContigs: true, Filter: filter}))
}

func TestPartitionRestriction(t *testing.T) {
	contigs := []reference.Contig{
		{Name: "chr1", Length: 100},
		{Name: "chr2", Length: 50},
	}
	idx := interval.Build([]interval.Interval{
		{Contig: "chr1", Start: 25, End: 35},
		{Contig: "chr1", Start: 95, End: 99},
	})
	cfg := Config{ChunkSize: 20, OutputPrefix: "/tmp/out", RestrictionPath: "hc.bed"}

	var got []Descriptor
	for d := range Partition(contigs, cfg, idx) {
		got = append(got, d)
	}
	require.Len(t, got, 3)

	assert.Equal(t, 20, got[0].Start)
	assert.Equal(t, 40, got[0].End)
	assert.Equal(t, 80, got[2].Start)
	assert.Equal(t, 100, got[2].End)
	for _, d := range got {
		assert.Equal(t, "chr1", d.Contig)
		require.NotNil(t, d.Restriction)
		assert.Equal(t, "hc.bed", d.Restriction.Path)
		assert.Greater(t, idx.Query(d.Contig, d.Start, d.End), 0)
	}
	assert.Equal(t, interval.Interval{Contig: "chr1", Start: 95, End: 99}, got[2].Restriction.First)
}

func TestPartitionNoRestriction(t *testing.T) {
	contigs := []reference.Contig{{Name: "chr1", Length: 45}}

	for _, idx := range []*interval.Index{nil, interval.Build(nil)} {
		var got []Descriptor
		for d := range Partition(contigs, Config{ChunkSize: 20, OutputPrefix: "p"}, idx) {
			got = append(got, d)
		}
		require.Len(t, got, 3)
		for _, d := range got {
			assert.Nil(t, d.Restriction)
		}
		assert.Equal(t, "p.chr1_40_45.vcf", got[2].OutputPath)
	}
}

func TestPartitionOrderAndEarlyStop(t *testing.T) {
	contigs := []reference.Contig{
		{Name: "chr2", Length: 30},
		{Name: "chr1", Length: 30},
	}
	var got []string
	for d := range Partition(contigs, Config{ChunkSize: 10, OutputPrefix: "o"}, nil) {
		got = append(got, d.OutputPath)
		if len(got) == 4 {
			break
		}
	}
	assert.Equal(t, []string{
		"o.chr2_0_10.vcf",
		"o.chr2_10_20.vcf",
		"o.chr2_20_30.vcf",
		"o.chr1_0_10.vcf",
	}, got)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{ChunkSize: 1}.Validate())
	err := Config{ChunkSize: 0}.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidChunkSize))

	assert.Empty(t, slices.Collect(Partition([]reference.Contig{{Name: "chr1", Length: 10}}, Config{}, nil)))
}
