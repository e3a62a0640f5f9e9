package interval

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ParseError reports a malformed BED line.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("bed line %d: %v: %q", e.Line, e.Err, e.Text)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ReadBED parses BED rows (contig, start, end, ...) from r.
//
// Blank lines, comments and track/browser header lines are skipped. Columns
// beyond the third are ignored.
func ReadBED(r io.Reader) ([]Interval, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var out []Interval
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") ||
			strings.HasPrefix(line, "track") || strings.HasPrefix(line, "browser") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, &ParseError{Line: lineNo, Text: line, Err: fmt.Errorf("expected at least 3 columns, got %d", len(fields))}
		}
		start, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, &ParseError{Line: lineNo, Text: line, Err: fmt.Errorf("invalid start: %w", err)}
		}
		end, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, &ParseError{Line: lineNo, Text: line, Err: fmt.Errorf("invalid end: %w", err)}
		}
		if start < 0 || end < start {
			return nil, &ParseError{Line: lineNo, Text: line, Err: fmt.Errorf("invalid range [%d,%d)", start, end)}
		}
		out = append(out, Interval{Contig: fields[0], Start: start, End: end})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read bed: %w", err)
	}
	return out, nil
}
