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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoissonBinomialTailKZero(t *testing.T) {
	require.Equal(t, 1.0, PoissonBinomialTail([]float64{0.1, 0.2}, 0, 0))
}

func TestPoissonBinomialTailKExceedsN(t *testing.T) {
	require.Equal(t, 0.0, PoissonBinomialTail([]float64{0.1, 0.2}, 3, 0))
}

// TestPoissonBinomialTailAgreesWithBinomial checks the degenerate case
// (every trial sharing the same probability) against the independently
// derived binomial tail, per spec.md §8's testable property.
func TestPoissonBinomialTailAgreesWithBinomial(t *testing.T) {
	const n = 40
	const p = 0.07
	probs := make([]float64, n)
	for i := range probs {
		probs[i] = p
	}
	for k := 1; k <= n; k++ {
		pb := PoissonBinomialTail(probs, k, 0)
		bin := BinomialTail(n, p, k)
		require.InDeltaf(t, bin, pb, 1e-9, "k=%d", k)
	}
}

func TestPoissonBinomialTailMonotonicInK(t *testing.T) {
	probs := []float64{0.1, 0.3, 0.2, 0.05, 0.4}
	prev := 1.0
	for k := 1; k <= len(probs); k++ {
		p := PoissonBinomialTail(probs, k, 0)
		require.LessOrEqualf(t, p, prev, "tail should be non-increasing in k, k=%d", k)
		prev = p
	}
}

// TestPoissonBinomialTailEarlyExitKeepsGateDecision checks that an early
// exit returns a partial tail that already exceeds the gate and does not
// exceed the exact tail, so the gating decision is unchanged; with a gate
// above the true tail no early exit happens and the exact value comes back.
func TestPoissonBinomialTailEarlyExitKeepsGateDecision(t *testing.T) {
	probs := []float64{0.2, 0.25, 0.3, 0.15, 0.4, 0.1}
	exact := PoissonBinomialTail(probs, 2, 0)
	const lowGate = 1e-6 // gate far below the true tail
	early := PoissonBinomialTail(probs, 2, lowGate)
	require.Greater(t, early, lowGate)
	require.LessOrEqual(t, early, exact)
	require.Equal(t, gated(exact, lowGate), gated(early, lowGate))
	require.InDelta(t, exact, PoissonBinomialTail(probs, 2, 0.9), 1e-9)
}

func TestBinomialTailBounds(t *testing.T) {
	require.Equal(t, 1.0, BinomialTail(10, 0.5, 0))
	require.Equal(t, 0.0, BinomialTail(10, 0.5, 11))
	require.Equal(t, 0.0, BinomialTail(10, 0, 1))
	require.Equal(t, 1.0, BinomialTail(10, 1, 10))
}

func TestBinomialTailKnownValue(t *testing.T) {
	// P(X >= 1) for Binomial(n=10, p=0.1) = 1 - 0.9^10.
	want := 1 - math.Pow(0.9, 10)
	got := BinomialTail(10, 0.1, 1)
	require.InDelta(t, want, got, 1e-9)
}

func TestClampProb(t *testing.T) {
	require.Equal(t, 0.0, clampProb(-0.5))
	require.Equal(t, 1.0, clampProb(1.5))
	require.Equal(t, 0.5, clampProb(0.5))
}
