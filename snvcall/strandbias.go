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

// CallerMode distinguishes which caller produced a Call, since the
// strand-bias table's quality filters differ by mode (spec.md §4.9).
type CallerMode int

const (
	// ModeNQ is the quality-agnostic caller: both strand-bias filters are
	// zero.
	ModeNQ CallerMode = iota
	// ModeQ is the quality-aware caller: ref uses ign_bases_below_q, var
	// uses max(ign_bases_below_q, noncons_filter_qual).
	ModeQ
)

// AnnotateStrandBias recomputes c.DP4 from hist at the filter thresholds
// appropriate to mode, then stores the two-tailed Fisher-exact p-value (and
// its Phred scale) on c. On a degenerate table (zero margin), SBOk is left
// false and the caller renders "NA" for the Phred field (spec.md §4.9).
func AnnotateStrandBias(c *Call, hist *pileup.QualHist, mode CallerMode, ignBasesBelowQ, nonconsFilterQual byte) {
	var refMinQual, varMinQual byte
	switch mode {
	case ModeQ:
		refMinQual = ignBasesBelowQ
		varMinQual = ignBasesBelowQ
		if nonconsFilterQual > varMinQual {
			varMinQual = nonconsFilterQual
		}
	default: // ModeNQ
		refMinQual, varMinQual = 0, 0
	}

	c.DP4 = [4]int{
		hist.CountAtLeast(c.Ref, pileup.StrandFwd, refMinQual),
		hist.CountAtLeast(c.Ref, pileup.StrandRev, refMinQual),
		hist.CountAtLeast(c.Alt, pileup.StrandFwd, varMinQual),
		hist.CountAtLeast(c.Alt, pileup.StrandRev, varMinQual),
	}

	p, err := FisherExact(c.DP4[0], c.DP4[1], c.DP4[2], c.DP4[3])
	if err != nil {
		c.SBOk = false
		return
	}
	c.SBPValue = p
	c.SBPhred = phredScale(p)
	c.SBOk = true
}
