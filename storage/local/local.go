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

// Package local provides a StorageClient interface implementation for local disk file management.
package local

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/ovmf-igvm/cmd/output"
	"github.com/google/ovmf-igvm/storage/storagei"
	"go.uber.org/multierr"
	"golang.org/x/net/context"
)

const (
	defaultDirPerm  os.FileMode = 0777
	defaultFilePerm os.FileMode = 0644
)

var errFinished = errors.New("writer already closed or aborted")

// StorageClient provides the storagei.Client interface on local disk. Relative object names are
// resolved against Root, which may be empty for current-working-directory-relative paths.
type StorageClient struct {
	Root string
}

func (s *StorageClient) localPath(object string) string {
	if filepath.IsAbs(object) {
		return filepath.Clean(object)
	}
	return filepath.Join(s.Root, object)
}

// Reader returns an open ReadCloser object for reading the given object.
func (s *StorageClient) Reader(_ context.Context, object string) (io.ReadCloser, error) {
	r, err := os.Open(s.localPath(object))
	if err != nil {
		return nil, err
	}
	return r, nil
}

// atomicWriter writes to a temporary file beside its destination and renames it into place on
// Close.
type atomicWriter struct {
	f    *os.File
	dest string
	done bool
}

func (w *atomicWriter) Write(b []byte) (int, error) {
	if w.done {
		return 0, errFinished
	}
	return w.f.Write(b)
}

// Close makes the written contents visible under the destination name.
func (w *atomicWriter) Close() error {
	if w.done {
		return errFinished
	}
	w.done = true
	tmp := w.f.Name()
	err := w.f.Close()
	if err == nil {
		err = os.Chmod(tmp, defaultFilePerm)
	}
	if err == nil {
		err = os.Rename(tmp, w.dest)
	}
	if err != nil {
		return multierr.Append(fmt.Errorf("could not commit %s: %w", w.dest, err), os.Remove(tmp))
	}
	return nil
}

// Abort removes the temporary file. The destination is untouched.
func (w *atomicWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	return multierr.Append(w.f.Close(), os.Remove(w.f.Name()))
}

// Writer returns a writer for populating the given object. Nothing is visible under the object's
// name until the writer is closed.
func (s *StorageClient) Writer(ctx context.Context, object string) (storagei.Writer, error) {
	p := s.localPath(object)
	dir, base := filepath.Split(p)
	if dir == "" {
		dir = "."
	} else if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return nil, fmt.Errorf("could not prepare directory for object %s: %w", object, err)
	}
	f, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return nil, err
	}
	output.Debugf(ctx, "opened writer for %s through %s", p, f.Name())
	return &atomicWriter{f: f, dest: p}, nil
}

// Exists returns whether a particular object exists, or an error.
func (s *StorageClient) Exists(_ context.Context, object string) (bool, error) {
	_, err := os.Stat(s.localPath(object))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IsNotExists returns whether an error from Client indicates the object in question does
// not exist.
func (s *StorageClient) IsNotExists(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
