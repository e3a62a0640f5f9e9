// Package region slices reference contigs into fixed-size chunks and yields
// one work descriptor per retained chunk.
//
// Descriptors are produced lazily in contig file order and ascending chunk
// start within a contig. That order is part of the contract: downstream job
// runners rely on it for reproducible scheduling.
package region

import (
	"errors"
	"fmt"
	"iter"

	"github.com/3leaps/govarcall/pkg/interval"
	"github.com/3leaps/govarcall/pkg/match"
	"github.com/3leaps/govarcall/pkg/reference"
)

// DefaultChunkSize is the default region width in base pairs.
const DefaultChunkSize = 10_000_000

// ErrInvalidChunkSize is returned by Config.Validate for chunk sizes < 1.
var ErrInvalidChunkSize = errors.New("chunk size must be >= 1")

// Config controls partitioning.
type Config struct {
	// ChunkSize is the width of each region. The last region of a contig is
	// clipped to the contig length.
	ChunkSize int

	// IncludeAllContigs admits every contig. When false only the canonical
	// set (chr1..chr22, chrX, chrY and the bare-numbered equivalents) is used.
	IncludeAllContigs bool

	// OutputPrefix is the path prefix of per-region VCF outputs.
	OutputPrefix string

	// RestrictionPath is the BED file the index was built from. It is attached
	// to descriptors whose chunk overlaps the index.
	RestrictionPath string

	// Filter optionally narrows admitted contigs further by glob.
	Filter *match.Matcher
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ChunkSize < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidChunkSize, c.ChunkSize)
	}
	return nil
}

// Descriptor is one unit of parallel work.
type Descriptor struct {
	Contig     string
	Start      int
	End        int
	OutputPath string

	// Restriction is set when an interval restriction was supplied and this
	// chunk overlaps it. It names the restriction file to forward.
	Restriction *Restriction
}

// Restriction marks a descriptor as overlapping the supplied interval set.
type Restriction struct {
	Path  string
	First interval.Interval
}

// OutputPath returns the per-region output name
// <prefix>.<contig>_<start>_<end>.vcf.
func OutputPath(prefix, contig string, start, end int) string {
	return fmt.Sprintf("%s.%s_%d_%d.vcf", prefix, contig, start, end)
}

// Admit reports whether a contig passes the inclusion policy and filter.
func (c Config) Admit(name string) bool {
	if !c.IncludeAllContigs && !reference.IsMajorContig(name) {
		return false
	}
	return c.Filter.Match(name)
}

// Partition yields descriptors for every retained chunk of every admitted
// contig. idx may be nil or empty, meaning no restriction.
//
// Partition assumes cfg has been validated; a ChunkSize < 1 yields nothing.
func Partition(contigs []reference.Contig, cfg Config, idx *interval.Index) iter.Seq[Descriptor] {
	return func(yield func(Descriptor) bool) {
		if cfg.ChunkSize < 1 {
			return
		}
		for _, c := range contigs {
			if !cfg.Admit(c.Name) {
				continue
			}
			for d := range Chunks(c, cfg, idx) {
				if !yield(d) {
					return
				}
			}
		}
	}
}

// Chunks yields the retained descriptors of a single contig. It does not apply
// the contig inclusion policy, which makes it usable for restarting a single
// contig.
func Chunks(c reference.Contig, cfg Config, idx *interval.Index) iter.Seq[Descriptor] {
	restricted := !idx.Empty()
	return func(yield func(Descriptor) bool) {
		if cfg.ChunkSize < 1 {
			return
		}
		for start := 0; start < c.Length; start += cfg.ChunkSize {
			end := start + cfg.ChunkSize
			if end > c.Length {
				end = c.Length
			}

			d := Descriptor{
				Contig:     c.Name,
				Start:      start,
				End:        end,
				OutputPath: OutputPath(cfg.OutputPrefix, c.Name, start, end),
			}
			if restricted {
				first, ok := idx.First(c.Name, start, end)
				if !ok {
					continue
				}
				d.Restriction = &Restriction{Path: cfg.RestrictionPath, First: first}
			}
			if !yield(d) {
				return
			}
		}
	}
}
