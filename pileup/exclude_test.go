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
package pileup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExclusionSetExactMatch(t *testing.T) {
	s := NewExclusionSet()
	s.addRange("chr1", 100, 110)
	require.True(t, s.Contains("chr1", 100))
	require.True(t, s.Contains("chr1", 109))
	require.False(t, s.Contains("chr1", 110)) // half-open: end excluded
	require.False(t, s.Contains("chr1", 99))
}

func TestExclusionSetUnknownChromNotExcluded(t *testing.T) {
	s := NewExclusionSet()
	s.addRange("chr1", 0, 10)
	require.False(t, s.Contains("chr2", 5))
}

func TestExclusionSetFuzzyChromNameMatch(t *testing.T) {
	s := NewExclusionSet()
	s.addRange("1", 0, 10)
	// "chr1" vs "1" is within maxChromNameDistance; the pileup's naming
	// convention shouldn't need to match the exclusion file's exactly.
	require.True(t, s.Contains("chr1", 5))
}

func TestExclusionSetFuzzyMatchTooDistant(t *testing.T) {
	s := NewExclusionSet()
	s.addRange("1", 0, 10)
	require.False(t, s.Contains("chrMT_random_contig", 5))
}

func TestExclusionSetEmpty(t *testing.T) {
	s := NewExclusionSet()
	require.False(t, s.Contains("chr1", 0))
}
