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
package snvcall

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/pkg/errors"
	"github.com/rice-systems/lofreq/pileup"
)

// ErrorModel is a dense from->to base-substitution error-probability
// matrix (spec.md §3). e[from][to] is meaningless when from == to; every
// off-diagonal cell is populated, including for the 4-parameter shape,
// where all 12 are set to the same shared scalar.
type ErrorModel struct {
	e [pileup.NBase][pileup.NBase]float64
}

// NewErrorModel builds a 12-parameter ErrorModel from explicit per-pair
// probabilities; probs[from][to] is ignored when from==to.
func NewErrorModel(probs [pileup.NBase][pileup.NBase]float64) (*ErrorModel, error) {
	m := &ErrorModel{e: probs}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// NewUniformErrorModel builds a 4-parameter ErrorModel: every off-diagonal
// cell set to p.
func NewUniformErrorModel(p float64) (*ErrorModel, error) {
	var probs [pileup.NBase][pileup.NBase]float64
	for from := range probs {
		for to := range probs[from] {
			if from != to {
				probs[from][to] = p
			}
		}
	}
	return NewErrorModel(probs)
}

// DefaultErrorModel returns a conservative uniform model used as a
// fallback when Config.Tolerant absorbs an InsufficientTrainingData
// failure (DESIGN.md's Open Question decision for spec.md §4.5/§7).
func DefaultErrorModel() *ErrorModel {
	m, err := NewUniformErrorModel(1e-3)
	if err != nil {
		panic(err) // 1e-3 is always a valid probability; unreachable
	}
	return m
}

func (m *ErrorModel) validate() error {
	for from := 0; from < pileup.NBase; from++ {
		for to := 0; to < pileup.NBase; to++ {
			if from == to {
				continue
			}
			p := m.e[from][to]
			if p < 0 || p >= 1 || p != p { // p != p catches NaN
				return errors.Wrapf(ErrInvalidConfig, "error model probability for %s->%s out of [0,1): %v",
					pileup.Base(from), pileup.Base(to), p)
			}
		}
	}
	return nil
}

// Prob returns e_{from->to}. Panics if from == to, since the model never
// carries a self-transition probability.
func (m *ErrorModel) Prob(from, to pileup.Base) float64 {
	if from == to {
		panic("snvcall: ErrorModel.Prob called with from == to")
	}
	return m.e[from][to]
}

// set overwrites e_{from->to} in place, without range validation.
func (m *ErrorModel) set(from, to pileup.Base, p float64) {
	m.e[from][to] = p
}

// Equal reports whether m and o agree on every off-diagonal cell within
// tol (used by the ErrorModel round-trip test, spec.md §8).
func (m *ErrorModel) Equal(o *ErrorModel, tol float64) bool {
	for from := 0; from < pileup.NBase; from++ {
		for to := 0; to < pileup.NBase; to++ {
			if from == to {
				continue
			}
			if math.Abs(m.e[from][to]-o.e[from][to]) > tol {
				return false
			}
		}
	}
	return true
}

// Save serializes m in the whitespace-delimited text form spec.md §4.4
// describes: one line per source base, giving the source base then
// alternating target/probability pairs.
func (m *ErrorModel) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, from := range pileup.BaseOrder {
		fmt.Fprintf(bw, "%s", from)
		for _, to := range pileup.BaseOrder {
			if to == from {
				continue
			}
			fmt.Fprintf(bw, " %s %.12g", to, m.e[from][to])
		}
		fmt.Fprintln(bw)
	}
	return bw.Flush()
}

// SaveFile writes m to path via github.com/grailbio/base/file, the same
// sink-creation helper snvout's writers use.
func (m *ErrorModel) SaveFile(ctx context.Context, path string) error {
	f, err := file.Create(ctx, path)
	if err != nil {
		return errors.Wrap(err, "snvcall: ErrorModel.SaveFile")
	}
	if err := m.Save(f.Writer(ctx)); err != nil {
		f.Close(ctx) // nolint: errcheck
		return errors.Wrap(err, "snvcall: ErrorModel.SaveFile")
	}
	return errors.Wrap(f.Close(ctx), "snvcall: ErrorModel.SaveFile")
}

// LoadErrorModel parses the text form produced by Save: either one line per
// source base, or (spec.md §4.4's 4-parameter shorthand) a single line
// holding the one shared off-diagonal probability.
// Returns ErrParse (wrapped with detail) on any shape or range violation.
func LoadErrorModel(r io.Reader) (*ErrorModel, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(ErrParse, err.Error())
	}

	if len(lines) == 1 && len(strings.Fields(lines[0])) == 1 {
		p, err := strconv.ParseFloat(lines[0], 64)
		if err != nil {
			return nil, errors.Wrapf(ErrParse, "4-parameter shorthand: invalid probability %q: %v", lines[0], err)
		}
		m, err := NewUniformErrorModel(p)
		if err != nil {
			return nil, errors.Wrap(ErrParse, err.Error())
		}
		return m, nil
	}

	var probs [pileup.NBase][pileup.NBase]float64
	seen := map[pileup.Base]bool{}

	for i, line := range lines {
		lineNum := i + 1
		fields := strings.Fields(line)
		if len(fields) != 7 {
			return nil, errors.Wrapf(ErrParse, "line %d: expected source base + 3 target/probability pairs, got %d fields", lineNum, len(fields))
		}
		from := pileup.ASCIIToBase(fields[0][0])
		if from.IsAmbiguous() || len(fields[0]) != 1 {
			return nil, errors.Wrapf(ErrParse, "line %d: invalid source base %q", lineNum, fields[0])
		}
		if seen[from] {
			return nil, errors.Wrapf(ErrParse, "line %d: duplicate source base %q", lineNum, fields[0])
		}
		seen[from] = true

		for i := 1; i < len(fields); i += 2 {
			toTok, pTok := fields[i], fields[i+1]
			to := pileup.ASCIIToBase(toTok[0])
			if to.IsAmbiguous() || len(toTok) != 1 || to == from {
				return nil, errors.Wrapf(ErrParse, "line %d: invalid target base %q", lineNum, toTok)
			}
			p, err := strconv.ParseFloat(pTok, 64)
			if err != nil {
				return nil, errors.Wrapf(ErrParse, "line %d: invalid probability %q: %v", lineNum, pTok, err)
			}
			probs[from][to] = p
		}
	}
	for _, b := range pileup.BaseOrder {
		if !seen[b] {
			return nil, errors.Wrapf(ErrParse, "missing source base %q", b)
		}
	}
	m, err := NewErrorModel(probs)
	if err != nil {
		return nil, errors.Wrap(ErrParse, err.Error())
	}
	return m, nil
}

// LoadErrorModelFile opens path and parses it as an ErrorModel.
func LoadErrorModelFile(ctx context.Context, path string) (*ErrorModel, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.Wrap(ErrMissingInput, err.Error())
	}
	defer f.Close(ctx) // nolint: errcheck
	return LoadErrorModel(f.Reader(ctx))
}
