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
	"math"

	"github.com/rice-systems/lofreq/pileup"
)

// This file contains phred-math routines shared by NQCaller and QCaller,
// following the precomputed-table convention pileup/snp/qual.go uses for
// its own quality arithmetic.

// errProbTable[q] = 10^(-q/10), precomputed once instead of calling
// math.Pow in the per-observation hot loop.
var errProbTable [pileup.MaxQual]float64

func init() {
	for q := range errProbTable {
		errProbTable[q] = math.Exp(float64(q) * (-0.1 * math.Ln10))
	}
}

// errProb returns the error probability corresponding to Phred quality q,
// clamping q into [0, MaxQual-1] the way pileup/snp/qual.go's tables
// clamp into [0, nQual-1].
func errProb(q byte) float64 {
	if int(q) >= pileup.MaxQual {
		return errProbTable[pileup.MaxQual-1]
	}
	return errProbTable[q]
}

// phredScale converts a probability p in (0,1] to its Phred scale,
// -10*log10(p). Returns +Inf for p == 0.
func phredScale(p float64) float64 {
	if p <= 0 {
		return math.Inf(1)
	}
	return -10 * math.Log10(p)
}
