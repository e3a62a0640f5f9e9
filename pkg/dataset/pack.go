package dataset

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// maxTextLine bounds a single text row; feature rows of a few thousand
// values fit comfortably.
const maxTextLine = 16 << 20

// Pack reads paired whitespace-separated feature and label rows and builds a
// dataset. Row widths are taken from the first row of each input; blank lines
// and lines starting with '#' are skipped.
func Pack(features, labels io.Reader, blockSize int) (*Dataset, error) {
	xs := newRowScanner(features, "features")
	ys := newRowScanner(labels, "labels")

	var b *Builder
	for {
		x, xok, err := xs.next()
		if err != nil {
			return nil, err
		}
		y, yok, err := ys.next()
		if err != nil {
			return nil, err
		}
		if xok != yok {
			n := 0
			if b != nil {
				n = b.Len()
			}
			return nil, fmt.Errorf("%w: features and labels differ in length after %d rows", ErrInconsistent, n)
		}
		if !xok {
			break
		}
		if b == nil {
			if b, err = NewBuilder(len(x), len(y), blockSize); err != nil {
				return nil, err
			}
		}
		if err := b.Append(x, y); err != nil {
			return nil, err
		}
	}
	if b == nil {
		return nil, fmt.Errorf("%w: no rows", ErrFormat)
	}
	return b.Finish()
}

type rowScanner struct {
	sc   *bufio.Scanner
	name string
	line int
}

func newRowScanner(r io.Reader, name string) *rowScanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxTextLine)
	return &rowScanner{sc: sc, name: name}
}

func (s *rowScanner) next() ([]float32, bool, error) {
	for s.sc.Scan() {
		s.line++
		text := strings.TrimSpace(s.sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		row := make([]float32, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 32)
			if err != nil {
				return nil, false, fmt.Errorf("%s line %d column %d: %w", s.name, s.line, i+1, err)
			}
			row[i] = float32(v)
		}
		return row, true, nil
	}
	if err := s.sc.Err(); err != nil {
		return nil, false, fmt.Errorf("read %s: %w", s.name, err)
	}
	return nil, false, nil
}
