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

import "github.com/rice-systems/lofreq/pileup"

// QCaller is the quality-aware caller: each individual base call's Phred
// quality is used directly as its per-observation error probability, and
// the exact Poisson-binomial tail (not a binomial approximation) is
// computed over the heterogeneous trial vector (spec.md §4.7).
type QCaller struct {
	nonconsDefaultQual byte
	nonconsFilterQual  byte
	gate               float64
}

// NewQCaller builds a QCaller from cfg's quality-floor/gating parameters.
func NewQCaller(cfg Config) *QCaller {
	return &QCaller{
		nonconsDefaultQual: byte(cfg.NonconsDefaultQual),
		nonconsFilterQual:  byte(cfg.NonconsFilterQual),
		gate:               cfg.gateThreshold(),
	}
}

// Call evaluates every candidate variant base against consBase in fixed
// A,C,G,T order using hist, the column's full per-base quality histogram
// (spec.md §4.7).
//
// The non-consensus trial probability's asymmetric floor -- applied only
// to successes (observations of the candidate base), never to the other
// trials in the vector -- is carried over unmodified from the source
// behavior this caller is derived from; it is intentional, not a bug
// (spec.md §9 Open Question).
func (q *QCaller) Call(coord int64, hist *pileup.QualHist, consBase pileup.Base) []Call {
	if consBase.IsAmbiguous() {
		return nil
	}

	var calls []Call
	for _, v := range pileup.BaseOrder {
		if v == consBase {
			continue
		}

		var trials []float64
		successes := 0
		dp4 := [4]int{}

		// Consensus-base observations: every one is a trial (it could
		// have been mis-called as v), contributing its own quality's
		// error probability.
		hist.Each(consBase, pileup.StrandFwd, func(qual byte, count uint32) {
			for i := uint32(0); i < count; i++ {
				trials = append(trials, errProb(qual))
			}
			dp4[0] += int(count)
		})
		hist.Each(consBase, pileup.StrandRev, func(qual byte, count uint32) {
			for i := uint32(0); i < count; i++ {
				trials = append(trials, errProb(qual))
			}
			dp4[1] += int(count)
		})

		// Candidate-base observations: discarded below
		// nonconsFilterQual; at/above it, each is a success whose trial
		// probability floors the observed quality at nonconsDefaultQual.
		addCandidate := func(strandIdx int) func(byte, uint32) {
			return func(qual byte, count uint32) {
				if qual < q.nonconsFilterQual {
					return
				}
				effQual := qual
				if effQual < q.nonconsDefaultQual {
					effQual = q.nonconsDefaultQual
				}
				for i := uint32(0); i < count; i++ {
					trials = append(trials, errProb(effQual))
				}
				successes += int(count)
				dp4[2+strandIdx] += int(count)
			}
		}
		hist.Each(v, pileup.StrandFwd, addCandidate(0))
		hist.Each(v, pileup.StrandRev, addCandidate(1))

		n := len(trials)
		if n == 0 || successes == 0 {
			continue
		}
		p := PoissonBinomialTail(trials, successes, q.gate)
		if !gated(p, q.gate) {
			continue
		}
		calls = append(calls, Call{
			Coord:   coord,
			Ref:     consBase,
			Alt:     v,
			Freq:    float64(successes) / float64(n),
			PValue:  p,
			HasPVal: true,
			DP4:     dp4,
			Type:    CallLowFreqVar,
		})
	}
	return calls
}
