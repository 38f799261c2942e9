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

// Package pileup holds the boundary types and collaborators this repo's SNV
// caller sits downstream of: the per-position pileup record, the mpileup
// text reader that produces it, and the exclusion-region set consulted
// before calling.
package pileup

import "fmt"

// Base is one of {A,C,G,T}, used as a dense array index throughout the hot
// loop instead of a byte/rune map key.
type Base byte

const (
	// BaseA represents an A base.
	BaseA Base = iota
	// BaseC represents a C base.
	BaseC
	// BaseG represents a G base.
	BaseG
	// BaseT represents a T base.
	BaseT
	// BaseN is a catch-all for ambiguous/unknown calls. Never a valid
	// reference, consensus, or variant allele.
	BaseN
)

const (
	// NBase is the number of regular (non-ambiguous) base types.
	NBase = 4
	// NBaseEnum counts BaseN as well as the four regular bases.
	NBaseEnum = 5
)

// EnumToASCIITable is the Base -> ASCII mapping, with BaseN rendered as 'N'.
var EnumToASCIITable = [NBaseEnum]byte{'A', 'C', 'G', 'T', 'N'}

// asciiToEnumTable maps an ASCII byte to its Base; unrecognized bytes map to
// BaseN. Built once at init instead of hand-maintained like
// pileup.Seq8ToEnumTable in the teacher package, since our input alphabet is
// plain ASCII rather than packed BAM nibbles.
var asciiToEnumTable [256]Base

func init() {
	for i := range asciiToEnumTable {
		asciiToEnumTable[i] = BaseN
	}
	asciiToEnumTable['A'] = BaseA
	asciiToEnumTable['a'] = BaseA
	asciiToEnumTable['C'] = BaseC
	asciiToEnumTable['c'] = BaseC
	asciiToEnumTable['G'] = BaseG
	asciiToEnumTable['g'] = BaseG
	asciiToEnumTable['T'] = BaseT
	asciiToEnumTable['t'] = BaseT
}

// ASCIIToBase converts an ASCII base character to its Base enum value.
func ASCIIToBase(c byte) Base {
	return asciiToEnumTable[c]
}

// String renders b as its single-character ASCII form.
func (b Base) String() string {
	if int(b) >= NBaseEnum {
		return fmt.Sprintf("Base(%d)", byte(b))
	}
	return string(EnumToASCIITable[b])
}

// IsAmbiguous reports whether b is the "unknown" sentinel.
func (b Base) IsAmbiguous() bool {
	return b == BaseN
}

// BaseOrder is the fixed A,C,G,T iteration order used everywhere calls must
// be produced deterministically (spec.md §4.6/§4.8: "fixed base order
// A,C,G,T skipping the consensus").
var BaseOrder = [NBase]Base{BaseA, BaseC, BaseG, BaseT}

// Strand distinguishes forward- from reverse-strand observations.
type Strand int

const (
	// StrandFwd is the forward strand, index 0 in strand-split count pairs.
	StrandFwd Strand = iota
	// StrandRev is the reverse strand, index 1 in strand-split count pairs.
	StrandRev
)
