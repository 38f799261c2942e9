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

// Package snvout implements the two output formats CallPipeline results are
// rendered to: a flat tabular form and minimal VCF 4.x.
package snvout

import (
	"context"
	"fmt"
	"strconv"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/rice-systems/lofreq/snvcall"
)

// SNVWriter writes one line per call in the tabular format spec.md §6
// describes: coord, ref, alt, freq, type, then info-key=value pairs.
// Chromosome is carried as a leading column rather than dropped, since a
// real pileup stream spans more than one chromosome even though the format
// itself treats positions as chromosome-unaware key space.
type SNVWriter struct {
	sink file.File
	tsvw *tsv.Writer
	ctx  context.Context
}

// NewSNVWriter creates path and writes the SNV tabular header, following
// pileup/snp/output.go's tsv.Writer-over-file.File pattern.
func NewSNVWriter(ctx context.Context, path string) (*SNVWriter, error) {
	sink, err := file.Create(ctx, path)
	if err != nil {
		return nil, err
	}
	w := &SNVWriter{sink: sink, tsvw: tsv.NewWriter(sink.Writer(ctx)), ctx: ctx}
	w.tsvw.WriteString("#CHROM")
	w.tsvw.WriteString("POS")
	w.tsvw.WriteString("REF")
	w.tsvw.WriteString("ALT")
	w.tsvw.WriteString("FREQ")
	w.tsvw.WriteString("TYPE")
	w.tsvw.WriteString("INFO")
	if err := w.tsvw.EndLine(); err != nil {
		sink.Close(ctx) // nolint: errcheck
		return nil, err
	}
	return w, nil
}

// WriteCall implements snvcall.ResultWriter. POS is rendered 1-based, per
// the teacher's text-output convention (pileup/snp/output.go's
// writeChromPosRef: "0-based in binary files, 1-based in text").
func (w *SNVWriter) WriteCall(chrom string, c *snvcall.Call) error {
	w.tsvw.WriteString(chrom)
	w.tsvw.WriteUint32(uint32(c.Coord + 1))
	w.tsvw.WriteString(c.Ref.String())
	w.tsvw.WriteString(c.Alt.String())
	w.tsvw.WriteString(strconv.FormatFloat(c.Freq, 'g', -1, 64))
	w.tsvw.WriteString(c.Type.String())
	w.tsvw.WriteString(infoField(c))
	return w.tsvw.EndLine()
}

// infoField renders the key=value info column: dp, dp4, and (when
// available) pvalue/qual_phred and strand-bias, semicolon-joined the way
// VCF INFO fields are (spec.md §6 models both outputs on the same
// underlying fields).
func infoField(c *snvcall.Call) string {
	dp := c.DP4[0] + c.DP4[1] + c.DP4[2] + c.DP4[3]
	info := fmt.Sprintf("dp=%d;dp4=%d,%d,%d,%d", dp, c.DP4[0], c.DP4[1], c.DP4[2], c.DP4[3])
	if c.HasPVal {
		qual, _ := c.QualPhred()
		info += fmt.Sprintf(";pvalue=%.6g;qual=%.2f", c.PValue, qual)
	}
	if c.SBOk {
		info += fmt.Sprintf(";sb=%.2f", c.SBPhred)
	} else {
		info += ";sb=NA"
	}
	return info
}

// Close flushes and closes the underlying sink.
func (w *SNVWriter) Close() error {
	return w.sink.Close(w.ctx)
}
