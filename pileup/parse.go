// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package pileup

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// ParseError is returned (wrapped) for any malformed pileup line.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return "pileup parse error at line " + strconv.Itoa(e.Line) + ": " + e.Msg
}

// ParseLine parses one samtools-mpileup-format line (chrom, 1-based pos,
// ref, depth, bases, quals[, mapquals]) into a Column. The depth and
// mapqual columns are consumed but not retained; Column.Coverage is always
// recomputed from the actual (base, qual) observations, since mpileup's
// depth column counts indel-adjacent markers this reader intentionally
// ignores (spec.md §4.11: indels are out of scope and must not be
// misread as substitution evidence).
func ParseLine(lineNum int, line []byte) (*Column, error) {
	fields := splitTab(line, 6)
	if len(fields) < 6 {
		return nil, &ParseError{lineNum, "expected at least 6 tab-separated columns"}
	}
	chrom := string(fields[0])
	pos1, err := strconv.ParseInt(gunsafe.BytesToString(fields[1]), 10, 64)
	if err != nil {
		return nil, &ParseError{lineNum, "malformed position: " + err.Error()}
	}
	if len(fields[2]) != 1 {
		return nil, &ParseError{lineNum, "ref column must be a single character"}
	}
	refBase := ASCIIToBase(fields[2][0])

	hist, err := parseBasesAndQuals(refBase, fields[4], fields[5])
	if err != nil {
		return nil, &ParseError{lineNum, err.Error()}
	}
	return NewColumn(chrom, pos1-1, refBase, hist), nil
}

// splitTab splits line on tabs, stopping after at most maxFields-1 splits
// (the final field retains any remaining tabs, matching strings.SplitN
// semantics, which mpileup's optional trailing mapqual column relies on).
func splitTab(line []byte, maxFields int) [][]byte {
	var fields [][]byte
	start := 0
	for i := 0; i < len(line) && len(fields) < maxFields-1; i++ {
		if line[i] == '\t' {
			fields = append(fields, line[start:i])
			start = i + 1
		}
	}
	fields = append(fields, line[start:])
	return fields
}

// parseBasesAndQuals walks the mpileup bases column in lockstep with the
// quals column, producing a quality histogram. Read-start markers ('^' plus
// a mapping-quality byte), read-end markers ('$'), and insertion/deletion
// specifiers ('+'/'-' followed by a length and that many bases) consume no
// quality character and contribute no observation; this caller has no use
// for indel evidence (spec.md Non-goals). '.' and ',' are recorded as
// forward- and reverse-strand observations of ref.
func parseBasesAndQuals(ref Base, bases, quals []byte) (QualHist, error) {
	var hist QualHist
	qi := 0
	for i := 0; i < len(bases); i++ {
		c := bases[i]
		switch {
		case c == '^':
			// Skip the mapping-quality byte that follows.
			i++
			if i >= len(bases) {
				return hist, errors.New("truncated read-start marker")
			}
		case c == '$':
			// No base consumed.
		case c == '+' || c == '-':
			n, width, err := readIndelLen(bases[i+1:])
			if err != nil {
				return hist, err
			}
			i += width + n
		case c == '*' || c == '>' || c == '<':
			// Deletion placeholder / reference skip: consumes a quality
			// slot in some mpileup dialects but carries no substitution
			// evidence either way, so it is dropped without recording an
			// observation.
			if qi >= len(quals) {
				return hist, errors.New("quals column shorter than bases column")
			}
			qi++
		default:
			b := ASCIIToBase(c)
			strand := StrandFwd
			switch {
			case c == '.':
				b = ref
			case c == ',':
				b, strand = ref, StrandRev
			case c >= 'a' && c <= 'z':
				strand = StrandRev
			}
			if qi >= len(quals) {
				return hist, errors.New("quals column shorter than bases column")
			}
			q := quals[qi]
			if q < 33 {
				return hist, errors.New("quality character below Phred+33 floor")
			}
			hist.Add(b, strand, q-33)
			qi++
		}
	}
	return hist, nil
}

// readIndelLen parses the decimal length following a '+'/'-' indel marker
// and returns that length plus the number of bytes the length's decimal
// digits occupied (so the caller can skip length digits + the indel
// sequence itself).
func readIndelLen(rest []byte) (n int, digitWidth int, err error) {
	j := 0
	for j < len(rest) && rest[j] >= '0' && rest[j] <= '9' {
		j++
	}
	if j == 0 {
		return 0, 0, errors.New("indel marker missing length")
	}
	n, err = strconv.Atoi(string(rest[:j]))
	if err != nil {
		return 0, 0, err
	}
	return n, j, nil
}

// Reader streams Columns from an mpileup-text file, transparently
// decompressing gzip input the way pileup.LoadFa does for .fa files in the
// teacher package.
type Reader struct {
	f       file.File
	scanner *bufio.Scanner
	lineNum int
}

// OpenReader opens path (local, gzip, or any scheme github.com/grailbio/
// base/file supports) and prepares it for line-by-line mpileup parsing.
func OpenReader(ctx context.Context, path string) (*Reader, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.Wrap(err, "pileup.OpenReader")
	}
	var r io.Reader = f.Reader(ctx)
	if fileio.DetermineType(path) == fileio.Gzip {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "pileup.OpenReader: gzip")
		}
		r = gz
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Reader{f: f, scanner: scanner}, nil
}

// Scan advances to the next line, returning false at EOF or on error (check
// Err after a false return).
func (r *Reader) Scan() bool {
	if !r.scanner.Scan() {
		return false
	}
	r.lineNum++
	return true
}

// Err returns the first error encountered by Scan, if any.
func (r *Reader) Err() error {
	return r.scanner.Err()
}

// Column parses the current line.
func (r *Reader) Column() (*Column, error) {
	line := r.scanner.Bytes()
	if len(strings.TrimSpace(string(line))) == 0 {
		return nil, &ParseError{r.lineNum, "blank line"}
	}
	return ParseLine(r.lineNum, line)
}

// LinesSeen returns the number of lines Scan has returned true for so far;
// used by the pipeline to distinguish EmptyInput from "every line
// filtered".
func (r *Reader) LinesSeen() int {
	return r.lineNum
}

// Close releases the underlying file.
func (r *Reader) Close(ctx context.Context) error {
	return r.f.Close(ctx)
}
