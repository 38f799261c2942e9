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
package main

/*
lofreq-snvcall calls low-frequency single-nucleotide variants from a
samtools-mpileup text stream, using an EM-trained error-substitution model
(quality-agnostic) and/or an exact Poisson-binomial tail on per-base quality
(quality-aware).
*/

import (
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/rice-systems/lofreq/pileup"
	"github.com/rice-systems/lofreq/snvcall"
	"github.com/rice-systems/lofreq/snvout"
)

var (
	pileupPath  = flag.String("pileup", "", "Input mpileup text path (required); .gz transparently decompressed")
	excludePath = flag.String("exclude", "", "Exclusion-region file path (optional)")
	outPath     = flag.String("out", "", "Output path (required)")
	outFmt      = flag.String("outfmt", "snp", "Output format: 'snp' or 'vcf'")
	tempDir     = flag.String("temp-dir", "", "Directory for the TRAIN-stage replay spool (default os.TempDir())")
	parallelism = flag.Int("parallelism", 0, "CALL-stage worker-pool width; 0 or 1 runs single-threaded")
	tolerant    = flag.Bool("tolerant", false, "Fall back to a default error model instead of failing on insufficient training data")

	bonf               = flag.Int("bonf", snvcall.DefaultConfig.Bonf, "Bonferroni factor")
	sigThresh          = flag.Float64("sig-thresh", snvcall.DefaultConfig.SigThresh, "Significance threshold")
	ignBasesBelowQ     = flag.Int("ign-bases-below-q", snvcall.DefaultConfig.IgnBasesBelowQ, "Quality filter for the Q-mode strand-bias tables (base_counts always use minimum quality 3)")
	nonconsDefaultQual = flag.Int("noncons-default-qual", snvcall.DefaultConfig.NonconsDefaultQual, "Floor applied to candidate-base qualities in QCaller")
	nonconsFilterQual  = flag.Int("noncons-filter-qual", snvcall.DefaultConfig.NonconsFilterQual, "Hard cutoff below which candidate-base observations are discarded in QCaller")
	emNumParam         = flag.Int("em-num-param", snvcall.DefaultConfig.EMNumParam, "Error model shape: 4 or 12 parameters")
	emErrorProbFile    = flag.String("em-error-prob-file", "", "Preloaded ErrorModel path; when set, TRAIN is skipped")
	emTrainingSize     = flag.Int("em-training-sample-size", snvcall.DefaultConfig.EMTrainingSampleSize, "Number of pileup columns TRAIN buffers")
	emMinCoverage      = flag.Int("em-min-coverage", snvcall.DefaultConfig.EMMinCoverage, "Per-column minimum coverage required for training eligibility")
	emConvergenceEps   = flag.Float64("em-convergence-eps", snvcall.DefaultConfig.EMConvergenceEps, "EM loop convergence tolerance")
	emMaxIterations    = flag.Int("em-max-iterations", snvcall.DefaultConfig.EMMaxIterations, "EM loop iteration cap")
	lofreqQOn          = flag.Bool("lofreq-q-on", snvcall.DefaultConfig.LofreqQOn, "Enable the quality-aware caller")
	lofreqNQOn         = flag.Bool("lofreq-nq-on", snvcall.DefaultConfig.LofreqNQOn, "Enable the quality-agnostic caller")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s -pileup PATH -out PATH [OPTIONS]\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	shutdown := grail.Init()
	defer shutdown()

	if *pileupPath == "" || *outPath == "" {
		log.Fatalf("-pileup and -out are required")
	}

	cfg := snvcall.DefaultConfig
	cfg.Bonf = *bonf
	cfg.SigThresh = *sigThresh
	cfg.IgnBasesBelowQ = *ignBasesBelowQ
	cfg.NonconsDefaultQual = *nonconsDefaultQual
	cfg.NonconsFilterQual = *nonconsFilterQual
	cfg.EMNumParam = *emNumParam
	cfg.EMTrainingSampleSize = *emTrainingSize
	cfg.EMMinCoverage = *emMinCoverage
	cfg.EMConvergenceEps = *emConvergenceEps
	cfg.EMMaxIterations = *emMaxIterations
	cfg.LofreqQOn = *lofreqQOn
	cfg.LofreqNQOn = *lofreqNQOn
	cfg.Parallelism = *parallelism
	cfg.Tolerant = *tolerant
	switch *outFmt {
	case "snp":
		cfg.OutFmt = snvcall.OutputSNV
	case "vcf":
		cfg.OutFmt = snvcall.OutputVCF
	default:
		log.Fatalf("unrecognized -outfmt %q (want 'snp' or 'vcf')", *outFmt)
	}

	ctx := vcontext.Background()

	var preloaded *snvcall.ErrorModel
	if *emErrorProbFile != "" {
		m, err := snvcall.LoadErrorModelFile(ctx, *emErrorProbFile)
		if err != nil {
			log.Fatalf("loading -em-error-prob-file: %v", err)
		}
		preloaded = m
	}

	var excl *pileup.ExclusionSet
	if *excludePath != "" {
		e, err := pileup.LoadExclusionFile(ctx, *excludePath)
		if err != nil {
			log.Fatalf("loading -exclude: %v", err)
		}
		excl = e
	}

	reader, err := pileup.OpenReader(ctx, *pileupPath)
	if err != nil {
		log.Fatalf("opening -pileup: %v", err)
	}
	defer reader.Close(ctx) // nolint: errcheck

	var writer interface {
		snvcall.ResultWriter
		Close() error
	}
	if cfg.OutFmt == snvcall.OutputVCF {
		writer, err = snvout.NewVCFWriter(ctx, *outPath)
	} else {
		writer, err = snvout.NewSNVWriter(ctx, *outPath)
	}
	if err != nil {
		log.Fatalf("opening -out: %v", err)
	}
	defer writer.Close() // nolint: errcheck

	pipeline, err := snvcall.NewCallPipeline(cfg, preloaded, excl)
	if err != nil {
		log.Panicf("%v", err)
	}

	src := &pileupColumnSource{r: reader}
	if err := pipeline.Run(ctx, src, writer, *tempDir); err != nil {
		log.Panicf("%v", err)
	}
	if src.linesSeen() == 0 {
		log.Fatalf("empty pileup input: %v", snvcall.ErrEmptyInput)
	}

	log.Printf("done: columns_seen=%d excluded=%d ambiguous_consensus=%d zero_coverage=%d calls_emitted=%d",
		pipeline.Stats.ColumnsSeen, pipeline.Stats.ExcludedPositions, pipeline.Stats.AmbiguousConsensus,
		pipeline.Stats.ZeroCoverage, pipeline.Stats.CallsEmitted)
}

// pileupColumnSource adapts *pileup.Reader's Scan/Column/Err triple to the
// snvcall.ColumnSource interface CallPipeline consumes.
type pileupColumnSource struct {
	r *pileup.Reader
}

func (s *pileupColumnSource) Next() (*pileup.Column, bool, error) {
	if !s.r.Scan() {
		return nil, false, s.r.Err()
	}
	col, err := s.r.Column()
	if err != nil {
		return nil, false, err
	}
	return col, true, nil
}

func (s *pileupColumnSource) linesSeen() int {
	return s.r.LinesSeen()
}
