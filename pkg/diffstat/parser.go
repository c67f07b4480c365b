package diffstat

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const (
	prefixIndexHeader = "Index: "
	prefixGitHeader   = "diff --git "
	prefixSeparator   = "===="
	prefixOldFile     = "--- "
	prefixNewFile     = "+++ "

	// endOfRecordMarker flushes the accumulator and returns control to the
	// caller without treating it as end of stream, so one Parser can read
	// several diff records from one reader. Neither backend in this module
	// emits it: each runs one diff subprocess per revision and reads it
	// with Parse.
	endOfRecordMarker = "\x00"

	gitHeaderSplitMarker = " b/"
)

// Parse reads unified-diff output from r until EOF and returns the
// accumulated Diffstat. It supports the centralized dialect ("Index: PATH"
// headers) and the distributed dialect ("diff --git a/PATH b/PATH").
func Parse(r io.Reader) (Diffstat, error) {
	parser := NewParser(r)

	for {
		flushed, err := parser.Next()
		if err != nil {
			return Diffstat{}, err
		}

		if !flushed {
			break
		}
	}

	return parser.Stat(), nil
}

// Parser drives the diff scan incrementally, so a caller can couple it to a
// long-lived pipe and recognize end-of-record markers without closing the
// underlying reader.
type Parser struct {
	scanner     *bufio.Scanner
	stat        Diffstat
	currentFile string
	current     Stat
}

// NewParser wraps r for incremental parsing.
func NewParser(r io.Reader) *Parser {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	return &Parser{scanner: scanner, stat: New()}
}

// Next consumes lines until the underlying reader is exhausted or an
// end-of-record marker is seen. It returns true if more records may follow
// (an end-of-record marker was consumed without closing the reader), false
// once the reader itself is exhausted.
func (p *Parser) Next() (bool, error) {
	for p.scanner.Scan() {
		line := p.scanner.Text()

		if line == endOfRecordMarker {
			p.flush()

			return true, nil
		}

		p.consumeLine(line)
	}

	if err := p.scanner.Err(); err != nil {
		return false, fmt.Errorf("scan diff output: %w", err)
	}

	p.flush()

	return false, nil
}

// Stat returns the Diffstat accumulated so far.
func (p *Parser) Stat() Diffstat { return p.stat }

func (p *Parser) consumeLine(line string) {
	switch {
	case strings.HasPrefix(line, prefixIndexHeader):
		p.flushFile()
		p.currentFile = strings.TrimPrefix(line, prefixIndexHeader)
	case strings.HasPrefix(line, prefixGitHeader):
		p.flushFile()
		p.currentFile = parseGitHeader(line)
	case strings.HasPrefix(line, prefixSeparator),
		strings.HasPrefix(line, prefixOldFile),
		strings.HasPrefix(line, prefixNewFile):
		// Ignored: hunk-boundary decoration, not content.
	case len(line) > 0 && line[0] == '-':
		p.current.RemovedBytes += uint64(len(line) - 1)
		p.current.RemovedLines++
	case len(line) > 0 && line[0] == '+':
		p.current.AddedBytes += uint64(len(line) - 1)
		p.current.AddedLines++
	}
}

func (p *Parser) flushFile() {
	if p.currentFile != "" {
		p.stat.set(p.currentFile, p.current)
	}

	p.currentFile = ""
	p.current = Stat{}
}

func (p *Parser) flush() {
	p.flushFile()
}

func parseGitHeader(line string) string {
	rest := strings.TrimPrefix(line, prefixGitHeader)

	parts := strings.SplitN(rest, gitHeaderSplitMarker, 2)
	if len(parts) == 0 {
		return ""
	}

	return strings.TrimPrefix(parts[0], "a/")
}
