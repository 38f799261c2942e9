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

import "math"

// logFactorial returns log(n!) via math.Lgamma(n+1), the standard
// numerically stable building block for hypergeometric probabilities at
// row/column sums up to ~10^6 (spec.md §4.3).
func logFactorial(n int) float64 {
	v, _ := math.Lgamma(float64(n) + 1)
	return v
}

// logHypergeom returns the log-probability of the 2x2 table [[a,b],[c,d]]
// under the hypergeometric distribution fixing both margins, i.e.
// log( (a+b)!(c+d)!(a+c)!(b+d)! / (a! b! c! d! n!) ).
func logHypergeom(a, b, c, d int) float64 {
	n := a + b + c + d
	return logFactorial(a+b) + logFactorial(c+d) + logFactorial(a+c) + logFactorial(b+d) -
		logFactorial(a) - logFactorial(b) - logFactorial(c) - logFactorial(d) - logFactorial(n)
}

// FisherExact computes the two-tailed p-value for the 2x2 table
// [[a,b],[c,d]]: the summed hypergeometric probability over every table
// with the same row and column margins whose probability does not exceed
// that of the observed table (spec.md §4.3). Returns a *NumericFailure
// when any margin is zero or an input is negative, since the table is
// then degenerate (only one table is consistent with the margins, or no
// table is).
func FisherExact(a, b, c, d int) (float64, error) {
	if a < 0 || b < 0 || c < 0 || d < 0 {
		return 0, &NumericFailure{Reason: "negative cell count"}
	}
	rowSum1, rowSum2 := a+b, c+d
	colSum1, colSum2 := a+c, b+d
	if rowSum1 == 0 || rowSum2 == 0 || colSum1 == 0 || colSum2 == 0 {
		return 0, &NumericFailure{Reason: "zero margin"}
	}

	observedLogP := logHypergeom(a, b, c, d)

	// Every table consistent with the margins is determined by its 'a'
	// cell alone: a ranges over [max(0, colSum1-rowSum2), min(rowSum1,
	// colSum1)].
	loA := 0
	if colSum1-rowSum2 > loA {
		loA = colSum1 - rowSum2
	}
	hiA := rowSum1
	if colSum1 < hiA {
		hiA = colSum1
	}

	const epsilon = 1e-7 // tolerance against floating-point noise at the observed table's own probability
	p := 0.0
	for x := loA; x <= hiA; x++ {
		bx := rowSum1 - x
		cx := colSum1 - x
		dx := rowSum2 - cx
		logPx := logHypergeom(x, bx, cx, dx)
		if logPx <= observedLogP+epsilon {
			p += math.Exp(logPx)
		}
	}
	return clampProb(p), nil
}
