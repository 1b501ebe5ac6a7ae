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
	"errors"
	"fmt"

	"github.com/google/ovmf-igvm/cmd/output"
	"github.com/google/ovmf-igvm/storage/ops"
	"github.com/google/ovmf-igvm/storage/storagei"
	"golang.org/x/net/context"
)

var (
	// ErrIO is returned when the firmware cannot be read or the descriptor cannot be written.
	ErrIO = errors.New("I/O error")
	// ErrOutputExists is returned when the output already exists and overwriting is not allowed.
	ErrOutputExists = errors.New("output file already exists")
)

// Request names the firmware to read and where to write the descriptor built for it.
type Request struct {
	Options
	FirmwarePath string
	OutputPath   string
}

// Run reads the firmware at req.FirmwarePath, builds its boot descriptor and writes it to
// req.OutputPath. Nothing is written to req.OutputPath unless every step succeeds. An existing
// output is only replaced when the context allows overwrites.
func Run(ctx context.Context, s storagei.Client, req *Request) (*Result, error) {
	if !output.AllowOverwrite(ctx) {
		exists, err := s.Exists(ctx, req.OutputPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrIO, err)
		}
		if exists {
			return nil, fmt.Errorf("%w: %s (use --overwrite to replace it)", ErrOutputExists, req.OutputPath)
		}
	}
	firmware, err := ops.ReadFile(ctx, s, req.FirmwarePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	output.Debugf(ctx, "read %d byte firmware from %s", len(firmware), req.FirmwarePath)
	result, err := Build(ctx, firmware, &req.Options)
	if err != nil {
		return nil, err
	}
	contents, err := result.File.Bytes()
	if err != nil {
		return nil, err
	}
	if err := ops.WriteFile(ctx, s, req.OutputPath, contents); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	output.Infof(ctx, "wrote %v IGVM file %s", req.Platform, req.OutputPath)
	return result, nil
}
