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
	"bytes"
	"context"
	"encoding/gob"
	"io/ioutil"
	"os"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/grailbio/base/traverse"
	"github.com/pkg/errors"
	"github.com/rice-systems/lofreq/pileup"
)

func init() {
	recordiozstd.Init()
}

// ColumnSource is the pileup-stream boundary CallPipeline consumes: one
// call to Next per column, io.EOF-style termination via the bool return.
type ColumnSource interface {
	Next() (*pileup.Column, bool, error)
}

// ResultWriter is the output boundary CallPipeline produces into; snvout's
// SNV and VCF writers both implement it.
type ResultWriter interface {
	WriteCall(chrom string, c *Call) error
}

// PipelineStats accumulates the per-run counters spec.md §7 calls for
// (ambiguous-consensus and zero-coverage skips are non-fatal and
// reported, not propagated as errors).
type PipelineStats struct {
	ColumnsSeen        int
	AmbiguousConsensus int
	ZeroCoverage       int
	ExcludedPositions  int
	CallsEmitted       int
}

// CallPipeline orchestrates TRAIN then CALL (spec.md §4.8).
type CallPipeline struct {
	cfg   Config
	model *ErrorModel // nil until TRAIN completes or a preloaded model is supplied
	nq    *NQCaller
	q     *QCaller
	excl  *pileup.ExclusionSet

	// spoolPath/spooledCount locate the TRAIN-stage replay buffer, set by
	// train() and consumed (then removed) by call().
	spoolPath    string
	spooledCount int

	Stats PipelineStats
}

// NewCallPipeline validates cfg and constructs a CallPipeline. If
// preloadedModel is non-nil, or else cfg.EMErrorProbFile names a model file
// (loaded here), TRAIN is skipped entirely (spec.md §6's
// em_error_prob_file). excl may be nil (no exclusions).
func NewCallPipeline(cfg Config, preloadedModel *ErrorModel, excl *pileup.ExclusionSet) (*CallPipeline, error) {
	cfg, err := NewConfig(cfg)
	if err != nil {
		return nil, err
	}
	if excl == nil {
		excl = pileup.NewExclusionSet()
	}
	if preloadedModel == nil && cfg.EMErrorProbFile != "" {
		m, err := LoadErrorModelFile(context.Background(), cfg.EMErrorProbFile)
		if err != nil {
			return nil, err
		}
		preloadedModel = m
	}
	p := &CallPipeline{cfg: cfg, model: preloadedModel, excl: excl}
	if cfg.LofreqQOn {
		p.q = NewQCaller(cfg)
	}
	return p, nil
}

// spooledColumn is the gob-encoded record written to the TRAIN-stage
// replay buffer, following cmd/bio-fusion/io.go's pattern of Append()ing
// gob-encoded bytes to a zstd-transformed recordio.Writer and Scan()ing
// them back, adapted from "spool fusion candidates" to "spool parsed
// pileup columns so CALL doesn't re-parse the TRAIN-stage lines."
type spooledColumn struct {
	Chrom   string
	Coord   int64
	RefBase byte
	Hist    [pileup.NBaseEnum][2][pileup.MaxQual]uint32
}

func encodeColumn(col *pileup.Column) ([]byte, error) {
	var buf bytes.Buffer
	sc := spooledColumn{
		Chrom:   col.Chrom,
		Coord:   col.Coord,
		RefBase: byte(col.RefBase),
		Hist:    col.BaseQualHist().Raw(),
	}
	if err := gob.NewEncoder(&buf).Encode(&sc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeColumn(b []byte) (*pileup.Column, error) {
	var sc spooledColumn
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&sc); err != nil {
		return nil, err
	}
	hist := pileup.QualHistFromRaw(sc.Hist)
	return pileup.NewColumn(sc.Chrom, sc.Coord, pileup.Base(sc.RefBase), hist), nil
}

// Run executes the full TRAIN -> CALL state machine against src, writing
// emitted calls to out. tempDir is used for the TRAIN-stage replay spool
// (empty string uses the OS default, as os.CreateTemp does).
func (p *CallPipeline) Run(ctx context.Context, src ColumnSource, out ResultWriter, tempDir string) error {
	if p.cfg.LofreqNQOn && p.model == nil {
		if err := p.train(src, tempDir); err != nil {
			return err
		}
	}
	if p.cfg.LofreqNQOn && p.nq == nil {
		p.nq = NewNQCaller(p.model, p.cfg)
	}
	return p.call(ctx, src, out)
}

// train implements state TRAIN (spec.md §4.8 step 2): drains src into a
// zstd-compressed recordio spool (so CALL can replay without re-parsing),
// selecting training-eligible columns along the way, then fits an
// ErrorModel via EMTrainer.
func (p *CallPipeline) train(src ColumnSource, tempDir string) error {
	tmp, err := ioutil.TempFile(tempDir, "lofreq-train-*.rio")
	if err != nil {
		return errors.Wrap(err, "snvcall: CallPipeline.train: creating spool file")
	}
	// Not removed here: call() replays this file and is responsible for
	// deleting it once the replay is exhausted.
	w := recordio.NewWriter(tmp, recordio.WriterOpts{Transformers: []string{recordiozstd.Name}})

	var trainingCols []TrainingColumn
	spooled := 0
	for spooled < p.cfg.EMTrainingSampleSize {
		col, ok, err := src.Next()
		if err != nil {
			return errors.Wrap(err, "snvcall: CallPipeline.train: reading pileup")
		}
		if !ok {
			break
		}
		// Not counted in Stats.ColumnsSeen here: call() counts every
		// column exactly once, including these, as it replays the spool.

		enc, err := encodeColumn(col)
		if err != nil {
			return errors.Wrap(err, "snvcall: CallPipeline.train: spooling column")
		}
		w.Append(enc)
		spooled++

		if tc, ok := p.trainingColumnFrom(col); ok {
			trainingCols = append(trainingCols, tc)
		}
	}
	if err := w.Finish(); err != nil {
		return errors.Wrap(err, "snvcall: CallPipeline.train: finishing spool")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "snvcall: CallPipeline.train: closing spool")
	}

	trainer := NewEMTrainer(p.cfg)
	model, err := trainer.Train(trainingCols)
	if err != nil {
		if errors.Cause(err) == ErrInsufficientTrainingData && p.cfg.Tolerant {
			log.Printf("snvcall: insufficient training data (%d usable columns); falling back to default error model", len(trainingCols))
			model = DefaultErrorModel()
		} else {
			os.Remove(tmp.Name()) // nolint: errcheck
			return err
		}
	}
	p.model = model
	p.spoolPath = tmp.Name()
	p.spooledCount = spooled
	return nil
}

// trainingColumnFrom applies TRAIN's per-column eligibility filter
// (spec.md §4.5/§4.8: unambiguous consensus, coverage >= EMMinCoverage,
// after dropping observations below min-quality 3).
func (p *CallPipeline) trainingColumnFrom(col *pileup.Column) (TrainingColumn, bool) {
	const illuminaQ2MinQual = 3
	if col.ConsBase().IsAmbiguous() {
		return TrainingColumn{}, false
	}
	counts := col.BaseCounts(illuminaQ2MinQual)
	cov := 0
	for _, b := range pileup.BaseOrder {
		cov += counts.Total(b)
	}
	if cov < p.cfg.EMMinCoverage {
		return TrainingColumn{}, false
	}
	return TrainingColumn{Counts: counts, ConsBase: col.ConsBase()}, true
}

// replaySource reads back the TRAIN-stage spool (if any), then falls
// through to the original stream for the remaining, never-buffered
// columns (spec.md §4.8 step 3: "re-feed the buffered columns
// concatenated with the remaining stream").
type replaySource struct {
	f        *os.File
	scanner  recordio.Scanner
	rest     ColumnSource
	replayed bool // true once the spool is exhausted
}

func (p *CallPipeline) openReplay(rest ColumnSource) (*replaySource, error) {
	if p.spoolPath == "" {
		return &replaySource{rest: rest, replayed: true}, nil
	}
	f, err := os.Open(p.spoolPath)
	if err != nil {
		return nil, errors.Wrap(err, "snvcall: CallPipeline.call: reopening spool")
	}
	return &replaySource{
		f:       f,
		scanner: recordio.NewScanner(f, recordio.ScannerOpts{}),
		rest:    rest,
	}, nil
}

func (r *replaySource) Next() (*pileup.Column, bool, error) {
	if !r.replayed {
		if r.scanner.Scan() {
			col, err := decodeColumn(r.scanner.Get().([]byte))
			if err != nil {
				return nil, false, errors.Wrap(err, "snvcall: replaySource: decoding spooled column")
			}
			return col, true, nil
		}
		if err := r.scanner.Err(); err != nil {
			return nil, false, errors.Wrap(err, "snvcall: replaySource: reading spool")
		}
		r.replayed = true
	}
	return r.rest.Next()
}

func (r *replaySource) cleanup() {
	if r.f == nil {
		return
	}
	path := r.f.Name()
	r.f.Close() // nolint: errcheck
	os.Remove(path) // nolint: errcheck
}

// call implements state CALL (spec.md §4.8 step 3).
func (p *CallPipeline) call(ctx context.Context, src ColumnSource, out ResultWriter) error {
	replay, err := p.openReplay(src)
	if err != nil {
		return err
	}
	defer replay.cleanup()

	if p.cfg.Parallelism > 1 {
		return p.callParallel(ctx, replay, out)
	}
	return p.callSequential(ctx, replay, out)
}

func (p *CallPipeline) callSequential(ctx context.Context, src ColumnSource, out ResultWriter) error {
	for {
		select {
		case <-ctx.Done():
			return nil // cooperative cancellation: finish current column, stop cleanly
		default:
		}
		col, ok, err := src.Next()
		if err != nil {
			return errors.Wrap(err, "snvcall: CallPipeline.call: reading pileup")
		}
		if !ok {
			return nil
		}
		p.Stats.ColumnsSeen++
		calls := p.processColumn(col)
		for i := range calls {
			if err := out.WriteCall(col.Chrom, &calls[i]); err != nil {
				return errors.Wrap(err, "snvcall: CallPipeline.call: writing call")
			}
			p.Stats.CallsEmitted++
		}
	}
}

// callBatchSize bounds how many columns callParallel buffers per
// fork-join round, keeping peak memory proportional to one batch instead
// of the whole input (spec.md [ADDED] §5).
const callBatchSize = 4096

// callParallel fans the CALL stage out across a worker pool while
// preserving emission order: each column in a batch is assigned a slot
// index, traverse.Each partitions the batch across workers, and results
// are written out in slot order once the whole batch completes (SPEC_FULL
// [ADDED] §5, adapted from pileup/snp/pileup.go's traverse.Each-driven
// per-shard fan-out).
func (p *CallPipeline) callParallel(ctx context.Context, src ColumnSource, out ResultWriter) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var batch []*pileup.Column
		for len(batch) < callBatchSize {
			col, ok, err := src.Next()
			if err != nil {
				return errors.Wrap(err, "snvcall: CallPipeline.call: reading pileup")
			}
			if !ok {
				break
			}
			batch = append(batch, col)
		}
		if len(batch) == 0 {
			return nil
		}
		p.Stats.ColumnsSeen += len(batch)

		results := make([][]Call, len(batch))
		parallelism := p.cfg.Parallelism
		if parallelism > len(batch) {
			parallelism = len(batch)
		}
		err := traverse.Each(parallelism, func(jobIdx int) error {
			lo := (jobIdx * len(batch)) / parallelism
			hi := ((jobIdx + 1) * len(batch)) / parallelism
			for i := lo; i < hi; i++ {
				results[i] = p.processColumn(batch[i])
			}
			return nil
		})
		if err != nil {
			return errors.Wrap(err, "snvcall: CallPipeline.call: parallel CALL stage")
		}

		for i, col := range batch {
			for j := range results[i] {
				if err := out.WriteCall(col.Chrom, &results[i][j]); err != nil {
					return errors.Wrap(err, "snvcall: CallPipeline.call: writing call")
				}
				p.Stats.CallsEmitted++
			}
		}

		if len(batch) < callBatchSize {
			return nil // src was exhausted mid-batch
		}
	}
}

// processColumn runs the per-column CALL logic (spec.md §4.8 step 3,
// sub-bullets): exclusion/ambiguity/coverage gating, consensus-var
// synthesis, NQ-then-Q override, ref-allele cleanup, and strand-bias
// annotation. Returns the calls to emit for this column, in order.
func (p *CallPipeline) processColumn(col *pileup.Column) []Call {
	const minQual = 3 // Illumina Q2 policy (spec.md §9): never relaxed to 0 for NQ.

	if p.excl.Contains(col.Chrom, col.Coord) {
		p.Stats.ExcludedPositions++
		return nil
	}
	consBase := col.ConsBase()
	if consBase.IsAmbiguous() {
		p.Stats.AmbiguousConsensus++
		return nil
	}

	counts := col.BaseCounts(minQual)
	coverage := 0
	for _, b := range pileup.BaseOrder {
		coverage += counts.Total(b)
	}
	if coverage == 0 {
		p.Stats.ZeroCoverage++
		return nil
	}

	hist := col.BaseQualHist()
	refBase := col.RefBase

	var consensusVar *Call
	if consBase != refBase {
		covCons := counts.Total(consBase)
		consensusVar = &Call{
			Chrom: col.Chrom,
			Coord: col.Coord,
			Ref:   refBase,
			Alt:   consBase,
			Freq:  float64(covCons) / float64(coverage),
			Type:  CallConsensusVar,
		}
		// The strand-bias/DP4 filter for every call in a column, including
		// the synthesized consensus-var, is chosen from whether Q is
		// globally enabled, not from which caller happened to emit that
		// particular call (lofreq_snpcaller.py's main(), lines 696-708).
		consensusMode := ModeNQ
		if p.cfg.LofreqQOn {
			consensusMode = ModeQ
		}
		AnnotateStrandBias(consensusVar, hist, consensusMode, byte(p.cfg.IgnBasesBelowQ), byte(p.cfg.NonconsFilterQual))
	}

	var candidates []Call
	mode := ModeNQ
	if p.cfg.LofreqNQOn {
		candidates = p.nq.Call(col.Coord, counts, consBase)
	}
	if p.cfg.LofreqQOn && (!p.cfg.LofreqNQOn || len(candidates) > 0) {
		// Q overrides NQ to avoid double-reporting (spec.md §4.8, §9).
		candidates = p.q.Call(col.Coord, hist, consBase)
		mode = ModeQ
	}

	// Drop any low-freq call whose alt is the original reference base --
	// spurious because we called against consensus, not reference
	// (spec.md §4.8's merge step).
	filtered := candidates[:0]
	for _, c := range candidates {
		if consensusVar != nil && c.Alt == refBase {
			continue
		}
		filtered = append(filtered, c)
	}
	candidates = filtered

	// Merge the consensus-var into the candidate stream by alt-base order
	// instead of prepending it: spec.md §4.8's ordering guarantee and §5's
	// ordering both require fixed A,C,G,T / lexicographic-by-alt order
	// within a column, and consBase can sort anywhere among the candidates.
	var out []Call
	ci := 0
	for _, b := range pileup.BaseOrder {
		if b == consBase {
			if consensusVar != nil {
				out = append(out, *consensusVar)
			}
			continue
		}
		if ci < len(candidates) && candidates[ci].Alt == b {
			candidates[ci].Chrom = col.Chrom
			AnnotateStrandBias(&candidates[ci], hist, mode, byte(p.cfg.IgnBasesBelowQ), byte(p.cfg.NonconsFilterQual))
			out = append(out, candidates[ci])
			ci++
		}
	}
	return out
}
