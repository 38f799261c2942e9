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
	"bufio"
	"context"
	"strconv"
	"strings"
	"sync"

	"blainsmith.com/go/seahash"
	"github.com/antzucaro/matchr"
	"github.com/grailbio/base/file"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/pkg/errors"
)

// numExclusionShards follows encoding/bamprovider's concurrentMap: a fixed,
// generously oversized shard count so per-chromosome lock contention stays
// negligible even when one chromosome dominates the exclusion file.
const numExclusionShards = 1024

// maxChromNameDistance bounds the Levenshtein distance this set tolerates
// when reconciling a pileup chromosome name against the exclusion file's
// names (e.g. "chr1" vs "1" is distance 3). A candidate name must also
// denote the same chromosome once a leading "chr" is dropped (see
// resolveChromName), so distinct chromosomes like "1" and "11", or "chr1"
// and "chr2", are never conflated.
const maxChromNameDistance = 3

type exclusionShard struct {
	mu     sync.Mutex
	chroms map[string]map[int64]struct{}
}

// ExclusionSet holds per-chromosome forbidden 0-based coordinates, loaded
// once from an exclusion-region file and queried read-only thereafter
// (spec.md [ADDED 4.10]). It is safe for concurrent read access from
// multiple CALL-stage workers.
type ExclusionSet struct {
	shards      [numExclusionShards]exclusionShard
	knownChroms []string // for fuzzy fallback lookups
}

// NewExclusionSet returns an empty set (every position is callable).
func NewExclusionSet() *ExclusionSet {
	s := &ExclusionSet{}
	for i := range s.shards {
		s.shards[i].chroms = make(map[string]map[int64]struct{})
	}
	return s
}

func (s *ExclusionSet) shardFor(chrom string) *exclusionShard {
	h := seahash.Sum64(gunsafe.StringToBytes(chrom))
	return &s.shards[h%numExclusionShards]
}

// addRange marks [start, end) on chrom as excluded.
func (s *ExclusionSet) addRange(chrom string, start, end int64) {
	shard := s.shardFor(chrom)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	positions, ok := shard.chroms[chrom]
	if !ok {
		positions = make(map[int64]struct{})
		shard.chroms[chrom] = positions
		s.knownChroms = append(s.knownChroms, chrom)
	}
	for p := start; p < end; p++ {
		positions[p] = struct{}{}
	}
}

// Contains reports whether (chrom, coord) is excluded. An exact chromosome
// name match is tried first; if none exists, a known chromosome name that
// differs only by a leading "chr" (case-insensitive) and lies within
// maxChromNameDistance is used instead, so a pileup emitting
// "chr1" against an exclusion file keyed by "1" (or vice versa) still
// applies the right exclusions.
func (s *ExclusionSet) Contains(chrom string, coord int64) bool {
	shard := s.shardFor(chrom)
	shard.mu.Lock()
	positions, ok := shard.chroms[chrom]
	shard.mu.Unlock()
	if ok {
		_, excluded := positions[coord]
		return excluded
	}

	resolved := s.resolveChromName(chrom)
	if resolved == "" {
		return false
	}
	rshard := s.shardFor(resolved)
	rshard.mu.Lock()
	defer rshard.mu.Unlock()
	_, excluded := rshard.chroms[resolved][coord]
	return excluded
}

// resolveChromName finds, among the known chromosome names that equal chrom
// once a leading "chr" is dropped from both (case-insensitive), the one
// closest to chrom by Levenshtein distance, within maxChromNameDistance.
// Returns "" if none qualifies.
func (s *ExclusionSet) resolveChromName(chrom string) string {
	stripChr := func(name string) string {
		return strings.TrimPrefix(strings.ToLower(name), "chr")
	}
	best := ""
	bestDist := maxChromNameDistance + 1
	for _, known := range s.knownChroms {
		if stripChr(known) != stripChr(chrom) {
			continue
		}
		d := matchr.Levenshtein(chrom, known)
		if d < bestDist {
			best, bestDist = known, d
		}
	}
	return best
}

// LoadExclusionFile reads a tab-separated exclusion-region file
// (chrom, start, end — 0-based, half-open, one region per line; blank
// lines and lines starting with '#' are skipped) into a new ExclusionSet.
func LoadExclusionFile(ctx context.Context, path string) (*ExclusionSet, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.Wrap(err, "pileup.LoadExclusionFile")
	}
	defer f.Close(ctx) // nolint: errcheck

	set := NewExclusionSet()
	scanner := bufio.NewScanner(f.Reader(ctx))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 3 {
			return nil, errors.Errorf("pileup.LoadExclusionFile: line %d: expected 3 tab-separated columns", lineNum)
		}
		start, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "pileup.LoadExclusionFile: line %d: malformed start", lineNum)
		}
		end, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "pileup.LoadExclusionFile: line %d: malformed end", lineNum)
		}
		if end < start {
			return nil, errors.Errorf("pileup.LoadExclusionFile: line %d: end before start", lineNum)
		}
		set.addRange(fields[0], start, end)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "pileup.LoadExclusionFile")
	}
	return set, nil
}
