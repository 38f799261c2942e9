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

// MaxQual bounds the Phred quality values this package tracks per base. 128
// comfortably covers every Phred+33-encoded quality character.
const MaxQual = 128

// QualHist is a per-base, per-strand histogram of Phred quality values.
// Using a fixed [MaxQual]uint32 row per (base, strand) instead of a
// map[byte]int keeps every lookup O(1) and every full-histogram scan O(
// NBaseEnum*2*MaxQual), independent of coverage -- important since a single
// column's coverage can reach 10^5+ (spec.md §4.2).
type QualHist struct {
	counts [NBaseEnum][2][MaxQual]uint32
}

// Raw exposes the histogram's backing array, for callers that need to
// serialize a QualHist (e.g. the training-sample spool in snvcall's
// CallPipeline).
func (h *QualHist) Raw() [NBaseEnum][2][MaxQual]uint32 {
	return h.counts
}

// QualHistFromRaw rebuilds a QualHist from the array returned by Raw.
func QualHistFromRaw(raw [NBaseEnum][2][MaxQual]uint32) QualHist {
	return QualHist{counts: raw}
}

// Add records one observation of base b on strand s with Phred quality q.
func (h *QualHist) Add(b Base, s Strand, q byte) {
	h.counts[b][s][q]++
}

// CountAtLeast returns the number of (base, strand) observations with
// quality >= minQual.
func (h *QualHist) CountAtLeast(b Base, s Strand, minQual byte) int {
	n := 0
	row := &h.counts[b][s]
	for q := int(minQual); q < MaxQual; q++ {
		n += int(row[q])
	}
	return n
}

// Each invokes fn once per (quality, count) pair with a nonzero count for
// base b, strand s.
func (h *QualHist) Each(b Base, s Strand, fn func(qual byte, count uint32)) {
	row := &h.counts[b][s]
	for q := 0; q < MaxQual; q++ {
		if row[q] != 0 {
			fn(byte(q), row[q])
		}
	}
}

// BaseCounts is a snapshot of per-base, per-strand counts at some quality
// filter, returned by Column.BaseCounts.
type BaseCounts struct {
	counts [NBaseEnum][2]int
}

// Strand returns the count of base b on strand s.
func (c BaseCounts) Strand(b Base, s Strand) int {
	return c.counts[b][s]
}

// Total returns the combined forward+reverse count of base b.
func (c BaseCounts) Total(b Base) int {
	return c.counts[b][0] + c.counts[b][1]
}

// Column is the immutable per-position pileup record the caller consumes.
// It is produced by Parser (or any other boundary collaborator) and never
// mutated afterwards.
type Column struct {
	Chrom   string
	Coord   int64 // zero-based reference coordinate
	RefBase Base  // may be ambiguous (BaseN)

	hist     QualHist
	consBase Base
}

// NewColumn builds a Column from its parsed fields, computing the consensus
// base (majority of non-N calls; BaseN on a zero-coverage or exact tie,
// mirroring the pileup parser's tie-breaking convention).
func NewColumn(chrom string, coord int64, refBase Base, hist QualHist) *Column {
	c := &Column{
		Chrom:   chrom,
		Coord:   coord,
		RefBase: refBase,
		hist:    hist,
	}
	c.consBase = c.computeConsBase()
	return c
}

func (c *Column) computeConsBase() Base {
	best := BaseN
	bestCount := 0
	tied := false
	for _, b := range BaseOrder {
		n := c.hist.CountAtLeast(b, StrandFwd, 0) + c.hist.CountAtLeast(b, StrandRev, 0)
		switch {
		case n > bestCount:
			best, bestCount, tied = b, n, false
		case n == bestCount && n > 0:
			tied = true
		}
	}
	if bestCount == 0 || tied {
		return BaseN
	}
	return best
}

// ConsBase returns the column's consensus base, computed at construction
// time from the unfiltered (quality-agnostic) base counts.
func (c *Column) ConsBase() Base {
	return c.consBase
}

// BaseCounts returns the multiset of observed bases at the given minimum
// quality filter, split by strand; callers read per-strand counts with
// Strand() or combined counts with Total().
func (c *Column) BaseCounts(minQual byte) BaseCounts {
	var bc BaseCounts
	for b := Base(0); b < NBaseEnum; b++ {
		bc.counts[b][StrandFwd] = c.hist.CountAtLeast(b, StrandFwd, minQual)
		bc.counts[b][StrandRev] = c.hist.CountAtLeast(b, StrandRev, minQual)
	}
	return bc
}

// BaseQualHist returns the column's full per-base quality histogram.
func (c *Column) BaseQualHist() *QualHist {
	return &c.hist
}

// Coverage returns the total number of non-N observations with quality >=
// minQual.
func (c *Column) Coverage(minQual byte) int {
	n := 0
	for _, b := range BaseOrder {
		n += c.hist.CountAtLeast(b, StrandFwd, minQual) + c.hist.CountAtLeast(b, StrandRev, minQual)
	}
	return n
}
