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

// PoissonBinomialTail computes P(X >= k) for X = sum of independent
// Bernoulli(probs[i]) trials, via the standard O(n*k) forward-recursion DP
// (spec.md §4.2): pmf[0][0] = 1; pmf[i][j] = pmf[i-1][j]*(1-p_i) +
// pmf[i-1][j-1]*p_i. Only a rolling row is kept, so space is O(n).
//
// earlyExitBelow, if > 0, lets the caller short-circuit once the running
// tail probability has already exceeded the gating threshold (spec.md
// §4.1's "no further term can then bring it back under threshold"); pass 0
// to disable the short-circuit and always compute the exact value.
func PoissonBinomialTail(probs []float64, k int, earlyExitBelow float64) float64 {
	n := len(probs)
	if k <= 0 {
		return 1
	}
	if k > n {
		return 0
	}

	// Only pmf[0:k] is ever needed: the tail P(X>=k) can be tracked with a
	// single running accumulator, updated in O(1) per trial from
	// pmf[k-1]'s value *before* this trial is folded in (tail' = tail +
	// p_i*pmf[k-1], since P(X>=k) gains exactly the mass that crosses from
	// k-1 into k on a success). That lets the DP row stay truncated to
	// width k instead of width n, without losing exactness.
	pmf := make([]float64, k)
	pmf[0] = 1
	tail := 0.0
	for _, p := range probs {
		carry := pmf[k-1] // mass at k-1 before this trial's update
		for j := k - 1; j >= 1; j-- {
			pmf[j] = pmf[j]*(1-p) + pmf[j-1]*p
		}
		pmf[0] *= 1 - p
		tail += p * carry

		if earlyExitBelow > 0 && tail > earlyExitBelow {
			return clampProb(tail)
		}
	}
	return clampProb(tail)
}

// BinomialTail computes P(X >= k) for X ~ Binomial(n, p), the degenerate
// Poisson-binomial case used by NQCaller where every trial shares the same
// error probability (spec.md §4.6: "an exact binomial tail is equivalent
// and preferred for speed"). Computed via the stable recurrence
// P(X=j+1) = P(X=j) * (n-j)/(j+1) * p/(1-p), avoiding direct binomial-
// coefficient overflow for n up to ~10^5.
func BinomialTail(n int, p float64, k int) float64 {
	if k <= 0 {
		return 1
	}
	if k > n {
		return 0
	}
	if p <= 0 {
		return 0
	}
	if p >= 1 {
		return 1
	}

	q := 1 - p
	// logPMF starts at n*log(1-p), the log-probability of zero successes,
	// and the recurrence is carried in log space, so a zero-success mass
	// that would underflow in linear space (large n*p) does not zero out
	// the whole tail; each term is exponentiated only when it is added.
	logPMF := float64(n) * math.Log(q)

	tail := 0.0
	logRatio := math.Log(p / q)
	for j := 0; j < n; j++ {
		logPMF += math.Log(float64(n-j)/float64(j+1)) + logRatio
		if j+1 >= k {
			tail += math.Exp(logPMF)
		}
		if tail > 1 {
			tail = 1
			break
		}
	}
	return clampProb(tail)
}

// clampProb clamps p into [0,1], guarding against floating-point drift
// accumulated by the DP/recurrence (spec.md §4.2's "clamp final result").
func clampProb(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
