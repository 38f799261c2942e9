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

// Package snvcall implements the two-stage low-frequency SNV calling
// engine: a quality-agnostic caller (NQCaller) backed by an EM-trained
// error-substitution model, and a quality-aware caller (QCaller) backed by
// an exact Poisson-binomial tail. Both share a significance gate and a
// Fisher-exact strand-bias annotation.
package snvcall

import "github.com/pkg/errors"

// Fatal error sentinels, checked with errors.Cause against the class, not the
// wrapped instance -- every fatal error returned by this package wraps one
// of these via errors.Wrap so the CLI can report both class and cause.
var (
	// ErrInvalidConfig is returned by NewConfig when a Config fails
	// validation (both callers disabled, bonf < 1, sig_thresh out of
	// (0,1], etc).
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrMissingInput is returned when a required input path is empty or
	// unreadable.
	ErrMissingInput = errors.New("missing input")

	// ErrEmptyInput is returned when the pileup stream yields no columns
	// at all.
	ErrEmptyInput = errors.New("empty pileup input")

	// ErrInsufficientTrainingData is returned by EMTrainer.Train (and
	// propagated by CallPipeline.Run) when fewer than one usable column
	// survives TRAIN-stage filtering, and Config.Tolerant is false.
	ErrInsufficientTrainingData = errors.New("insufficient training data")

	// ErrParse is returned by ErrorModel file I/O on malformed input.
	ErrParse = errors.New("parse error")
)

// NumericFailure is a non-fatal per-call event: a Fisher-exact computation
// could not produce a p-value (degenerate margins). The caller attaches a
// sentinel strand-bias annotation and keeps the call (spec.md §7).
type NumericFailure struct {
	Reason string
}

func (e *NumericFailure) Error() string {
	return "numeric failure: " + e.Reason
}
