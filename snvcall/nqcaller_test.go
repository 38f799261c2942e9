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
	"testing"

	"github.com/rice-systems/lofreq/pileup"
	"github.com/stretchr/testify/require"
)

func countsOf(vals map[pileup.Base]int) pileup.BaseCounts {
	var hist pileup.QualHist
	for b, n := range vals {
		for i := 0; i < n; i++ {
			hist.Add(b, pileup.StrandFwd, 30)
		}
	}
	return pileup.NewColumn("chr1", 0, pileup.BaseA, hist).BaseCounts(0)
}

func TestNQCallerGatesInSignificantVariant(t *testing.T) {
	model := DefaultErrorModel() // 1e-3 uniform error rate
	cfg := DefaultConfig
	nq := NewNQCaller(model, cfg)

	counts := countsOf(map[pileup.Base]int{
		pileup.BaseA: 970,
		pileup.BaseC: 30, // far more C than a 1e-3 error rate would explain at n=1000
	})
	calls := nq.Call(100, counts, pileup.BaseA)
	require.Len(t, calls, 1)
	require.Equal(t, pileup.BaseC, calls[0].Alt)
	require.Equal(t, pileup.BaseA, calls[0].Ref)
	require.True(t, calls[0].HasPVal)
	require.Less(t, calls[0].PValue, cfg.gateThreshold())
}

func TestNQCallerGatesOutNoiseLevelVariant(t *testing.T) {
	model := DefaultErrorModel()
	cfg := DefaultConfig
	nq := NewNQCaller(model, cfg)

	counts := countsOf(map[pileup.Base]int{
		pileup.BaseA: 999,
		pileup.BaseC: 1, // consistent with the 1e-3 error rate
	})
	calls := nq.Call(100, counts, pileup.BaseA)
	require.Empty(t, calls)
}

func TestNQCallerAmbiguousConsensusYieldsNoCalls(t *testing.T) {
	model := DefaultErrorModel()
	nq := NewNQCaller(model, DefaultConfig)
	calls := nq.Call(0, countsOf(map[pileup.Base]int{pileup.BaseA: 10}), pileup.BaseN)
	require.Nil(t, calls)
}

func TestNQCallerSkipsZeroCoverageCandidates(t *testing.T) {
	model := DefaultErrorModel()
	nq := NewNQCaller(model, DefaultConfig)
	counts := countsOf(map[pileup.Base]int{pileup.BaseA: 100})
	calls := nq.Call(0, counts, pileup.BaseA)
	require.Empty(t, calls)
}
