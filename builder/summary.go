// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package builder

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/google/ovmf-igvm/igvm"
)

// Summary counts the directives of a descriptor by kind.
type Summary struct {
	// DataPages are page data directives with contents.
	DataPages int
	// Placeholders are page data directives without contents.
	Placeholders int
	VpContexts   int
	Other        int
	// DataBytes is the total size of page data contents.
	DataBytes uint64
}

// Summarize counts directives by kind.
func Summarize(directives []igvm.Directive) Summary {
	var s Summary
	for _, d := range directives {
		switch d := d.(type) {
		case *igvm.PageData:
			if len(d.Data) == 0 {
				s.Placeholders++
				continue
			}
			s.DataPages++
			s.DataBytes += uint64(len(d.Data))
		case *igvm.VpContext:
			s.VpContexts++
		default:
			s.Other++
		}
	}
	return s
}

func (s Summary) String() string {
	return fmt.Sprintf("%d data pages (%s), %d placeholder pages, %d VP contexts, %d other directives",
		s.DataPages, humanize.IBytes(s.DataBytes), s.Placeholders, s.VpContexts, s.Other)
}
