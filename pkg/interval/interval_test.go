package interval

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexQuery(t *testing.T) {
	idx := Build([]Interval{
		{Contig: "chr1", Start: 100, End: 200},
		{Contig: "chr1", Start: 150, End: 400},
		{Contig: "chr1", Start: 1000, End: 1001},
		{Contig: "chr2", Start: 0, End: 50},
	})

	tests := []struct {
		name   string
		contig string
		start  int
		end    int
		want   int
	}{
		{"before all", "chr1", 0, 100, 0},
		{"touching start is not overlap", "chr1", 50, 100, 0},
		{"single overlap", "chr1", 110, 140, 1},
		{"double overlap", "chr1", 160, 170, 2},
		{"touching end is not overlap", "chr1", 400, 900, 0},
		{"one base interval", "chr1", 1000, 1001, 1},
		{"spanning all", "chr1", 0, 5000, 3},
		{"other contig", "chr2", 10, 20, 1},
		{"unknown contig", "chrX", 0, 1000000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, idx.Query(tt.contig, tt.start, tt.end))
		})
	}
}

func TestEmptyIndex(t *testing.T) {
	var nilIdx *Index
	assert.True(t, nilIdx.Empty())
	assert.Equal(t, 0, nilIdx.Query("chr1", 0, 100))
	assert.False(t, nilIdx.Contains("chr1"))

	empty := Build(nil)
	assert.True(t, empty.Empty())
	assert.Equal(t, 0, empty.Len())
	assert.Equal(t, 0, empty.Query("chr1", 0, 100))
}

func TestFirstAndSearch(t *testing.T) {
	idx := Build([]Interval{
		{Contig: "1", Start: 500, End: 600},
		{Contig: "1", Start: 10, End: 20},
		{Contig: "1", Start: 15, End: 700},
	})

	first, ok := idx.First("1", 0, 1000)
	require.True(t, ok)
	assert.Equal(t, Interval{Contig: "1", Start: 10, End: 20}, first)

	got := idx.Search("1", 550, 560)
	assert.Equal(t, []Interval{
		{Contig: "1", Start: 15, End: 700},
		{Contig: "1", Start: 500, End: 600},
	}, got)

	_, ok = idx.First("1", 700, 800)
	assert.False(t, ok)
}

func TestQueryMatchesLinearScan(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var ivs []Interval
	for i := 0; i < 500; i++ {
		s := rng.Intn(10000)
		ivs = append(ivs, Interval{Contig: "chr1", Start: s, End: s + 1 + rng.Intn(300)})
	}
	idx := Build(ivs)

	for i := 0; i < 2000; i++ {
		s := rng.Intn(10500)
		e := s + 1 + rng.Intn(500)
		want := 0
		for _, iv := range ivs {
			if iv.Overlaps(s, e) {
				want++
			}
		}
		require.Equal(t, want, idx.Query("chr1", s, e), "query [%d,%d)", s, e)
	}
}

func TestReadBED(t *testing.T) {
	in := strings.Join([]string{
		"track name=highconf",
		"# comment",
		"",
		"chr1\t100\t200\tname\t0\t+",
		"chr2 5 10",
	}, "\n")

	ivs, err := ReadBED(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []Interval{
		{Contig: "chr1", Start: 100, End: 200},
		{Contig: "chr2", Start: 5, End: 10},
	}, ivs)
}

func TestReadBEDErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"too few columns", "chr1\t100\n"},
		{"bad start", "chr1\tx\t200\n"},
		{"bad end", "chr1\t1\ty\n"},
		{"inverted", "chr1\t200\t100\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadBED(strings.NewReader(tt.in))
			require.Error(t, err)
			var pe *ParseError
			assert.True(t, errors.As(err, &pe))
			assert.Equal(t, 1, pe.Line)
		})
	}
}
