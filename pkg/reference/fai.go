// Package reference reads reference-genome index (.fai) files and defines the
// canonical contig set used for region partitioning.
package reference

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Contig describes one reference sequence as listed in a .fai index.
type Contig struct {
	Name   string
	Length int
}

// IndexSuffix is appended to a FASTA path to locate its index.
const IndexSuffix = ".fai"

// ReadIndex parses a samtools faidx index.
//
// Only the first two tab-separated columns (name, length) are consulted.
// Contigs are returned in file order.
func ReadIndex(r io.Reader) ([]Contig, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	var contigs []Contig
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) < 2 {
			return nil, fmt.Errorf("fai line %d: expected at least 2 tab-separated columns", lineNo)
		}
		length, err := strconv.Atoi(strings.TrimSpace(cols[1]))
		if err != nil {
			return nil, fmt.Errorf("fai line %d: invalid length %q: %w", lineNo, cols[1], err)
		}
		if length < 0 {
			return nil, fmt.Errorf("fai line %d: negative length %d", lineNo, length)
		}
		contigs = append(contigs, Contig{Name: cols[0], Length: length})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read fai: %w", err)
	}
	return contigs, nil
}

// majorContigs holds chr1..chr22, chrX, chrY and 1..22, X, Y.
// Mitochondrial sequences (chrM, MT) are deliberately absent.
var majorContigs = func() map[string]struct{} {
	m := make(map[string]struct{}, 48)
	names := []string{"X", "Y"}
	for i := 1; i <= 22; i++ {
		names = append(names, strconv.Itoa(i))
	}
	for _, n := range names {
		m[n] = struct{}{}
		m["chr"+n] = struct{}{}
	}
	return m
}()

// IsMajorContig reports whether name belongs to the canonical autosome plus
// sex-chromosome set, in either "chr"-prefixed or bare naming.
func IsMajorContig(name string) bool {
	_, ok := majorContigs[name]
	return ok
}
