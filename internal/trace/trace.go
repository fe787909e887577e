// Package trace reads a line-oriented branch trace and turns each line
// into a predictor.Record plus its ground-truth outcome, mirroring the
// read_trace/end_trace loop predict.cc drives its simulation with.
//
// There is no on-disk predictor *state* format here; this is purely an
// input convenience for feeding cmd/tagesim, not a wire protocol.
package trace

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tagesim/predictor/internal/predictor"
)

// Entry is one trace line: the record to predict plus its actual outcome.
type Entry struct {
	Record       predictor.Record
	ActualTaken  bool
	ActualTarget uint32
}

// Reader scans trace entries from an underlying text stream. Each
// non-empty, non-comment line has the form:
//
//	<address-hex> <flags> <taken> <target-hex>
//
// flags is one or more of 'C' (conditional) and 'I' (indirect), e.g. "C",
// "I", or "CI". taken is "0" or "1" and is only meaningful for
// conditional records. target-hex is only meaningful for indirect
// records. Lines starting with '#' and blank lines are skipped.
type Reader struct {
	scanner *bufio.Scanner
	line    int
}

// NewReader wraps r as a trace source.
func NewReader(r io.Reader) *Reader {
	return &Reader{scanner: bufio.NewScanner(r)}
}

// Next returns the next trace entry, or io.EOF once the stream is
// exhausted. A malformed line returns a descriptive error naming the
// 1-based line number.
func (tr *Reader) Next() (Entry, error) {
	for tr.scanner.Scan() {
		tr.line++
		line := strings.TrimSpace(tr.scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return parseLine(line, tr.line)
	}
	if err := tr.scanner.Err(); err != nil {
		return Entry{}, fmt.Errorf("trace: reading line %d: %w", tr.line+1, err)
	}
	return Entry{}, io.EOF
}

func parseLine(line string, lineNo int) (Entry, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return Entry{}, fmt.Errorf("trace: line %d: expected 4 fields, got %d", lineNo, len(fields))
	}

	address, err := strconv.ParseUint(strings.TrimPrefix(fields[0], "0x"), 16, 32)
	if err != nil {
		return Entry{}, fmt.Errorf("trace: line %d: bad address %q: %w", lineNo, fields[0], err)
	}

	var flags predictor.Flags
	for _, c := range fields[1] {
		switch c {
		case 'C', 'c':
			flags |= predictor.Conditional
		case 'I', 'i':
			flags |= predictor.Indirect
		default:
			return Entry{}, fmt.Errorf("trace: line %d: unknown flag %q", lineNo, string(c))
		}
	}
	if flags == 0 {
		return Entry{}, fmt.Errorf("trace: line %d: no flags set", lineNo)
	}

	taken, err := strconv.ParseBool(fields[2])
	if err != nil {
		return Entry{}, fmt.Errorf("trace: line %d: bad taken value %q: %w", lineNo, fields[2], err)
	}

	target, err := strconv.ParseUint(strings.TrimPrefix(fields[3], "0x"), 16, 32)
	if err != nil {
		return Entry{}, fmt.Errorf("trace: line %d: bad target %q: %w", lineNo, fields[3], err)
	}

	return Entry{
		Record:       predictor.Record{Address: uint32(address), Flags: flags},
		ActualTaken:  taken,
		ActualTarget: uint32(target),
	}, nil
}
