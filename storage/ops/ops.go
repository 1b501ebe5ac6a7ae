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

// Package ops provides common operations on a storagei.Client.
package ops

import (
	"fmt"
	"io"

	"github.com/google/ovmf-igvm/storage/storagei"
	"go.uber.org/multierr"
	"golang.org/x/net/context"
)

// WriteFile writes (over) contents of object `name` with `contents`. Creates the file if it
// doesn't already exist. On failure the previous object, if any, is left in place.
func WriteFile(ctx context.Context, s storagei.Client, name string, contents []byte) error {
	w, err := s.Writer(ctx, name)
	if err != nil {
		return fmt.Errorf("could not open file %q: %w", name, err)
	}
	n, err := w.Write(contents)
	if err == nil && n != len(contents) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return multierr.Append(fmt.Errorf("could not write file %q: %w", name, err), w.Abort())
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("could not close file %q: %w", name, err)
	}
	return nil
}

// ReadFile returns the file's contents.
func ReadFile(ctx context.Context, s storagei.Client, name string) ([]byte, error) {
	reader, err := s.Reader(ctx, name)
	if err != nil && s.IsNotExists(err) {
		return nil, fmt.Errorf("file %q does not exist: %w", name, err)
	}
	if err != nil {
		return nil, fmt.Errorf("could not read file %q: %w", name, err)
	}
	defer reader.Close()
	contents, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("could not read file %q: %w", name, err)
	}
	return contents, nil
}
