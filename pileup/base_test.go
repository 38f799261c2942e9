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

import "testing"

func TestASCIIToBase(t *testing.T) {
	tests := []struct {
		c    byte
		want Base
	}{
		{'A', BaseA}, {'a', BaseA},
		{'C', BaseC}, {'c', BaseC},
		{'G', BaseG}, {'g', BaseG},
		{'T', BaseT}, {'t', BaseT},
		{'N', BaseN}, {'n', BaseN},
		{'*', BaseN},
	}
	for _, test := range tests {
		if got := ASCIIToBase(test.c); got != test.want {
			t.Errorf("ASCIIToBase(%q) = %v, want %v", test.c, got, test.want)
		}
	}
}

func TestBaseStringRoundTrip(t *testing.T) {
	for _, b := range BaseOrder {
		s := b.String()
		if len(s) != 1 {
			t.Fatalf("Base(%v).String() = %q, want single character", byte(b), s)
		}
		if got := ASCIIToBase(s[0]); got != b {
			t.Errorf("ASCIIToBase(%q) = %v, want %v", s, got, b)
		}
	}
}

func TestBaseIsAmbiguous(t *testing.T) {
	for _, b := range BaseOrder {
		if b.IsAmbiguous() {
			t.Errorf("%v.IsAmbiguous() = true, want false", b)
		}
	}
	if !BaseN.IsAmbiguous() {
		t.Errorf("BaseN.IsAmbiguous() = false, want true")
	}
}
