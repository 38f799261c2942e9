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
package snvout

import (
	"context"
	"fmt"
	"strconv"

	"github.com/grailbio/base/file"
	"github.com/rice-systems/lofreq/snvcall"
)

// vcfHeader is the minimal VCF 4.x header this writer emits: file format
// line, the INFO field definitions spec.md §6 names, and the mandatory
// column header. No FORMAT/sample columns, since CallPipeline never
// produces per-sample genotypes (spec.md Non-goals: multi-sample calling).
const vcfHeader = `##fileformat=VCFv4.2
##INFO=<ID=AF,Number=1,Type=Float,Description="Allele frequency">
##INFO=<ID=DP,Number=1,Type=Integer,Description="Coverage">
##INFO=<ID=DP4,Number=4,Type=Integer,Description="Ref-fwd,ref-rev,alt-fwd,alt-rev read counts">
##INFO=<ID=SB,Number=1,Type=Float,Description="Phred-scaled strand-bias p-value">
#CHROM	POS	ID	REF	ALT	QUAL	FILTER	INFO
`

// VCFWriter writes minimal VCF 4.x records (spec.md §6). Field shape is
// derived from spec.md's INFO description directly, since the reference
// lofreq.simple_vcf module this was distilled from isn't in the retrieved
// example pack.
type VCFWriter struct {
	sink file.File
	ctx  context.Context
}

// NewVCFWriter creates path and writes the VCF header.
func NewVCFWriter(ctx context.Context, path string) (*VCFWriter, error) {
	sink, err := file.Create(ctx, path)
	if err != nil {
		return nil, err
	}
	if _, err := sink.Writer(ctx).Write([]byte(vcfHeader)); err != nil {
		sink.Close(ctx) // nolint: errcheck
		return nil, err
	}
	return &VCFWriter{sink: sink, ctx: ctx}, nil
}

// WriteCall implements snvcall.ResultWriter.
func (w *VCFWriter) WriteCall(chrom string, c *snvcall.Call) error {
	dp := c.DP4[0] + c.DP4[1] + c.DP4[2] + c.DP4[3]

	qual := "."
	if q, ok := c.QualPhred(); ok {
		qual = strconv.FormatFloat(q, 'f', 2, 64)
	}

	// AF is printed with decimal places equal to the number of digits of
	// coverage (spec.md §6), so that precision scales with how much
	// coverage could actually resolve.
	decimals := len(strconv.Itoa(dp))
	info := fmt.Sprintf("AF=%.*f;DP=%d;DP4=%d,%d,%d,%d",
		decimals, c.Freq, dp, c.DP4[0], c.DP4[1], c.DP4[2], c.DP4[3])
	if c.SBOk {
		info += fmt.Sprintf(";SB=%.2f", c.SBPhred)
	}

	_, err := fmt.Fprintf(w.sink.Writer(w.ctx), "%s\t%d\t.\t%s\t%s\t%s\t.\t%s\n",
		chrom, c.Coord+1, c.Ref, c.Alt, qual, info)
	return err
}

// Close flushes and closes the underlying sink.
func (w *VCFWriter) Close() error {
	return w.sink.Close(w.ctx)
}
