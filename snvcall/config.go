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

import "github.com/pkg/errors"

// OutputFormat selects the CallPipeline's emission format.
type OutputFormat int

const (
	// OutputSNV emits the tabular SNV format (snvout.SNVWriter).
	OutputSNV OutputFormat = iota
	// OutputVCF emits minimal VCF 4.x records (snvout.VCFWriter).
	OutputVCF
)

// Config collects every tunable named in spec.md §6. It mirrors the
// teacher's Opts/DefaultOpts pattern: a plain struct plus a package-level
// default value, validated once by NewConfig rather than scattered across
// call sites.
type Config struct {
	// Bonf is the Bonferroni factor (bonf >= 1).
	Bonf int
	// SigThresh is the significance threshold (0, 1].
	SigThresh float64

	// IgnBasesBelowQ is the quality filter for the Q-mode ref/var
	// strand-bias tables. base_counts always use a fixed minimum quality
	// of 3, whatever this value is.
	IgnBasesBelowQ int
	// NonconsDefaultQual floors candidate-base qualities in QCaller.
	NonconsDefaultQual int
	// NonconsFilterQual is the hard cutoff below which candidate-base
	// observations are discarded in QCaller.
	NonconsFilterQual int

	// EMNumParam selects the 4- or 12-parameter ErrorModel shape.
	EMNumParam int
	// EMErrorProbFile, if non-empty, preloads an ErrorModel and skips
	// training entirely.
	EMErrorProbFile string
	// EMTrainingSampleSize bounds how many pileup columns TRAIN buffers.
	EMTrainingSampleSize int
	// EMMinCoverage is the per-column minimum coverage required for a
	// column to be used for training.
	EMMinCoverage int
	// EMConvergenceEps is the EM loop's convergence tolerance.
	EMConvergenceEps float64
	// EMMaxIterations caps the EM loop's iteration count.
	EMMaxIterations int

	// LofreqQOn enables the quality-aware caller.
	LofreqQOn bool
	// LofreqNQOn enables the quality-agnostic caller.
	LofreqNQOn bool

	// OutFmt selects the tabular or VCF writer.
	OutFmt OutputFormat

	// Parallelism bounds the CALL stage's worker-pool width; 0 or 1 runs
	// the pipeline single-threaded.
	Parallelism int

	// Tolerant relaxes InsufficientTrainingData from fatal to a warning
	// that falls back to DefaultErrorModel (spec.md §7's "tolerant mode").
	Tolerant bool
}

// DefaultConfig holds spec.md §6's documented defaults.
var DefaultConfig = Config{
	Bonf:                 1,
	SigThresh:            0.05,
	IgnBasesBelowQ:       3,
	NonconsDefaultQual:   20,
	NonconsFilterQual:    20,
	EMNumParam:           12,
	EMTrainingSampleSize: 10000,
	EMMinCoverage:        10,
	EMConvergenceEps:     1e-6,
	EMMaxIterations:      500,
	LofreqQOn:            true,
	LofreqNQOn:           true,
	OutFmt:               OutputSNV,
	Parallelism:          0,
	Tolerant:             false,
}

// NewConfig validates cfg, returning ErrInvalidConfig (wrapped with the
// specific violation) if it is not runnable.
func NewConfig(cfg Config) (Config, error) {
	if !cfg.LofreqQOn && !cfg.LofreqNQOn {
		return cfg, errors.Wrap(ErrInvalidConfig, "at least one of lofreq_q_on, lofreq_nq_on must be true")
	}
	if cfg.Bonf < 1 {
		return cfg, errors.Wrap(ErrInvalidConfig, "bonf must be >= 1")
	}
	if cfg.SigThresh <= 0 || cfg.SigThresh > 1 {
		return cfg, errors.Wrap(ErrInvalidConfig, "sig_thresh must be in (0,1]")
	}
	if cfg.EMNumParam != 4 && cfg.EMNumParam != 12 {
		return cfg, errors.Wrap(ErrInvalidConfig, "em_num_param must be 4 or 12")
	}
	if cfg.IgnBasesBelowQ < 0 {
		return cfg, errors.Wrap(ErrInvalidConfig, "ign_bases_below_q must be >= 0")
	}
	if cfg.NonconsDefaultQual < 0 || cfg.NonconsFilterQual < 0 {
		return cfg, errors.Wrap(ErrInvalidConfig, "noncons_default_qual and noncons_filter_qual must be >= 0")
	}
	if cfg.OutFmt != OutputSNV && cfg.OutFmt != OutputVCF {
		return cfg, errors.Wrap(ErrInvalidConfig, "outfmt must be snp or vcf")
	}
	return cfg, nil
}

// gateThreshold returns the p-value cutoff derived from sig_thresh/bonf
// (spec.md §4.1): a tentative call is reported iff p < gateThreshold().
func (c Config) gateThreshold() float64 {
	return c.SigThresh / float64(c.Bonf)
}
