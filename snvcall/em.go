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

	"github.com/grailbio/base/log"
	"github.com/rice-systems/lofreq/pileup"
)

// TrainingColumn is the sufficient-statistic input EMTrainer consumes: a
// column's base counts and its (unambiguous) consensus base. It is
// intentionally narrower than pileup.Column, since training never needs
// chrom/coord/per-quality detail (spec.md §4.5's inputs).
type TrainingColumn struct {
	Counts   pileup.BaseCounts
	ConsBase pileup.Base
}

// EMTrainer estimates an ErrorModel from a sample of high-coverage,
// unambiguous-consensus pileup columns via expectation-maximization
// (spec.md §4.5).
type EMTrainer struct {
	NumParam int // 4 or 12
	Epsilon  float64
	MaxIters int
}

// NewEMTrainer builds a trainer from cfg's EM* fields.
func NewEMTrainer(cfg Config) *EMTrainer {
	return &EMTrainer{
		NumParam: cfg.EMNumParam,
		Epsilon:  cfg.EMConvergenceEps,
		MaxIters: cfg.EMMaxIterations,
	}
}

// Train runs the EM loop over cols and returns the fitted ErrorModel.
// Returns ErrInsufficientTrainingData if cols is empty.
func (t *EMTrainer) Train(cols []TrainingColumn) (*ErrorModel, error) {
	if len(cols) == 0 {
		return nil, ErrInsufficientTrainingData
	}

	// e[from][to] initialized to a uniform small value per spec.md §4.5.
	var e [pileup.NBase][pileup.NBase]float64
	for from := range e {
		for to := range e[from] {
			if from != to {
				e[from][to] = 1e-3
			}
		}
	}

	for iter := 0; iter < t.MaxIters; iter++ {
		// Sufficient statistics accumulated across all columns this
		// iteration: expected error observations of 'to' in columns with
		// consensus 'from', and expected (error+consensus) denominator.
		var errSum, denomSum [pileup.NBase][pileup.NBase]float64

		for _, col := range cols {
			c := col.ConsBase
			if c.IsAmbiguous() {
				continue
			}
			consCount := col.Counts.Total(c)
			for _, b := range pileup.BaseOrder {
				if b == c {
					continue
				}
				obs := col.Counts.Total(b)
				if obs == 0 {
					continue
				}
				// E-step: posterior responsibility that each observation
				// of b in this column is an error (vs a true minor
				// allele). The nuisance allele-frequency parameter for
				// this column is maximized analytically: the MLE mixture
				// weight for "true variant" given e is max(0,
				// obs/(obs+consCount) - e_{c->b}) of the total rate, so
				// the error-responsibility mass is simply
				// min(obs, e_{c->b}*(obs+consCount)).
				n := float64(obs + consCount)
				errMass := e[c][b] * n
				if errMass > float64(obs) {
					errMass = float64(obs)
				}
				errSum[c][b] += errMass
				denomSum[c][b] += errMass + float64(consCount)
			}
		}

		// M-step.
		newE := e
		maxDelta := 0.0
		if t.NumParam == 4 {
			var num, den float64
			for from := range errSum {
				for to := range errSum[from] {
					if from == to {
						continue
					}
					num += errSum[from][to]
					den += denomSum[from][to]
				}
			}
			shared := 0.0
			if den > 0 {
				shared = num / den
			}
			for from := range newE {
				for to := range newE[from] {
					if from == to {
						continue
					}
					delta := math.Abs(newE[from][to] - shared)
					if delta > maxDelta {
						maxDelta = delta
					}
					newE[from][to] = shared
				}
			}
		} else {
			for from := range newE {
				for to := range newE[from] {
					if from == to {
						continue
					}
					p := 0.0
					if denomSum[from][to] > 0 {
						p = errSum[from][to] / denomSum[from][to]
					}
					delta := math.Abs(newE[from][to] - p)
					if delta > maxDelta {
						maxDelta = delta
					}
					newE[from][to] = p
				}
			}
		}
		e = newE

		ll := t.logLikelihood(cols, e)
		log.Debug.Printf("em: iter=%d maxDelta=%g loglik=%g", iter, maxDelta, ll)
		if maxDelta <= t.Epsilon {
			break
		}
	}

	return NewErrorModel(e)
}

// logLikelihood computes the training sample's log-likelihood under e,
// used only to satisfy spec.md §8's EM-monotonicity testable property;
// each column's likelihood is approximated as a binomial mixture collapsed
// to its error-only component (the same quantity the M-step's sufficient
// statistics target), which is monotonically related to the statistic the
// M-step actually maximizes.
func (t *EMTrainer) logLikelihood(cols []TrainingColumn, e [pileup.NBase][pileup.NBase]float64) float64 {
	ll := 0.0
	for _, col := range cols {
		c := col.ConsBase
		if c.IsAmbiguous() {
			continue
		}
		for _, b := range pileup.BaseOrder {
			if b == c {
				continue
			}
			obs := col.Counts.Total(b)
			consCount := col.Counts.Total(c)
			n := obs + consCount
			if n == 0 {
				continue
			}
			p := e[c][b]
			if p <= 0 {
				p = 1e-300
			}
			if p >= 1 {
				p = 1 - 1e-15
			}
			logBinom := logFactorial(n) - logFactorial(obs) - logFactorial(n-obs) +
				float64(obs)*math.Log(p) + float64(n-obs)*math.Log(1-p)
			ll += logBinom
		}
	}
	return ll
}
