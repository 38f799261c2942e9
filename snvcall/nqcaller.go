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

// NQCaller is the quality-agnostic caller: it treats every observation of
// a given base as an identically-distributed Bernoulli trial with success
// probability taken from the trained ErrorModel, so the Poisson-binomial
// tail degenerates to an exact binomial tail (spec.md §4.6).
type NQCaller struct {
	model  *ErrorModel
	gate   float64
	sigThr float64
	bonf   int
}

// NewNQCaller builds an NQCaller bound to model and cfg's gating
// parameters.
func NewNQCaller(model *ErrorModel, cfg Config) *NQCaller {
	return &NQCaller{
		model:  model,
		gate:   cfg.gateThreshold(),
		sigThr: cfg.SigThresh,
		bonf:   cfg.Bonf,
	}
}

// Call evaluates every candidate variant base against consBase in fixed
// A,C,G,T order, returning the gated-in calls (spec.md §4.6).
func (nq *NQCaller) Call(coord int64, counts pileup.BaseCounts, consBase pileup.Base) []Call {
	if consBase.IsAmbiguous() {
		return nil
	}
	n := 0
	for _, b := range pileup.BaseOrder {
		n += counts.Total(b)
	}
	if n == 0 {
		return nil
	}

	var calls []Call
	for _, v := range pileup.BaseOrder {
		if v == consBase {
			continue
		}
		covV := counts.Total(v)
		if covV == 0 {
			continue
		}
		e := nq.model.Prob(consBase, v)
		p := BinomialTail(n, e, covV)
		if !gated(p, nq.gate) {
			continue
		}
		calls = append(calls, Call{
			Coord:   coord,
			Ref:     consBase,
			Alt:     v,
			Freq:    float64(covV) / float64(n),
			PValue:  p,
			HasPVal: true,
			DP4:     dp4From(counts, consBase, v),
			Type:    CallLowFreqVar,
		})
	}
	return calls
}

// gated reports whether p-value p passes the significance gate: p <
// sig_thresh/bonf (spec.md §4.1).
func gated(p, gateThreshold float64) bool {
	return p < gateThreshold
}

// dp4From extracts the (ref_fwd, ref_rev, alt_fwd, alt_rev) strand-split
// counts from counts at whatever quality filter counts was built with.
func dp4From(counts pileup.BaseCounts, ref, alt pileup.Base) [4]int {
	return [4]int{
		counts.Strand(ref, pileup.StrandFwd),
		counts.Strand(ref, pileup.StrandRev),
		counts.Strand(alt, pileup.StrandFwd),
		counts.Strand(alt, pileup.StrandRev),
	}
}
