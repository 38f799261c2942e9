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

// CallType distinguishes a low-frequency variant call from a
// consensus-disagreement call (spec.md §3).
type CallType int

const (
	// CallLowFreqVar is a variant called against the column's consensus
	// base by NQCaller or QCaller.
	CallLowFreqVar CallType = iota
	// CallConsensusVar marks a column whose consensus base differs from
	// the reference base.
	CallConsensusVar
)

func (t CallType) String() string {
	switch t {
	case CallLowFreqVar:
		return "low-freq-var"
	case CallConsensusVar:
		return "consensus-var"
	default:
		return "unknown"
	}
}

// Call is one emitted variant record (spec.md §3). After a caller produces
// the base record, CallPipeline sets Chrom and AnnotateStrandBias
// recomputes DP4 and fills in SBPhred/SBPValue/SBOk; it is not mutated
// after that.
type Call struct {
	Chrom string
	Coord int64
	Ref   pileup.Base
	Alt   pileup.Base

	Freq float64

	// PValue and HasPVal: consensus-var calls carry no p-value.
	PValue  float64
	HasPVal bool

	DP4 [4]int

	// SBPValue/SBPhred/SBOk are filled in by AnnotateStrandBias. SBOk is
	// false when the Fisher computation failed on a degenerate table
	// (spec.md §4.9's "record a sentinel and NA").
	SBPValue float64
	SBPhred  float64
	SBOk     bool

	Type CallType
}

// QualPhred returns -10*log10(pvalue) for a low-freq call, matching
// spec.md §3's qual_phred definition; undefined (0, false) for
// consensus-var calls.
func (c *Call) QualPhred() (float64, bool) {
	if !c.HasPVal {
		return 0, false
	}
	return phredScale(c.PValue), true
}

