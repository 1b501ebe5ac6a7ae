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

// Package storage provides a mock storagei.Client implementation
package storage

import (
	"bytes"
	"io"
	"os"

	"github.com/google/ovmf-igvm/storage/storagei"
	"golang.org/x/net/context"
)

// ReaderResponse is the reader or error that Reader returns for a specific object.
type ReaderResponse struct {
	ReaderMaker func() io.ReadCloser
	Err         error
}

// WriterResponse is the writer or error that Writer returns for a specific object.
type WriterResponse struct {
	Writer storagei.Writer
	Err    error
}

// Responses is a representation of the Reader and Writer responses at an object granularity.
type Responses struct {
	// If there is content, then it's stored here in Cell.
	Cell      *FakeObject
	ReadResp  *ReaderResponse
	WriteResp *WriterResponse
}

// Mock implements the storagei.Client interface to mock object contents.
type Mock struct {
	Objects map[string]*Responses
	// Return this error from all operations for simple error specification.
	err error
}

type nopCloser struct {
	io.Reader
}

func (n *nopCloser) Close() error { return nil }

// FakeObject is a cell that can be used by readers and writers alike to manipulate an object's
// contents.
type FakeObject struct {
	Data []byte
}

// ObjectWriter is an io.Writer that overwrites/creates a FakeObject with Content, or returns an
// error on Close().
type ObjectWriter struct {
	M *Mock

	Object   string
	Content  []byte
	WriteErr error
	CloseErr error
	// Aborted records whether Abort was called.
	Aborted bool
}

// ObjectReader is an io.Reader that errors, and returns an error on Close().
type ObjectReader struct {
	ReadErr  error
	CloseErr error
}

func (r *ObjectReader) Read(b []byte) (int, error) {
	return 0, r.ReadErr
}

// Close returns the canned CloseErr.
func (r *ObjectReader) Close() error { return r.CloseErr }

// Write updates the Writer with b as additional content to be appended, or returns a canned error.
func (w *ObjectWriter) Write(b []byte) (int, error) {
	if w.WriteErr != nil {
		return 0, w.WriteErr
	}
	w.Content = append(w.Content, b...)
	return len(b), nil
}

// Abort drops the pending content.
func (w *ObjectWriter) Abort() error {
	w.Aborted = true
	w.Content = nil
	return nil
}

// Close commits Writer changes back to the Storage representation, or returns a canned error.
func (w *ObjectWriter) Close() error {
	if w.CloseErr != nil {
		return w.CloseErr
	}

	writer := *w
	writer.Content = nil
	result := &Responses{
		// This may be overwritten if the object already exists
		Cell:      &FakeObject{Data: w.Content},
		WriteResp: &WriterResponse{Writer: &writer},
	}

	if w.M.Objects == nil {
		w.M.Objects = make(map[string]*Responses)
	}
	if resp, ok := w.M.Objects[w.Object]; ok && resp.Cell != nil {
		result.Cell = resp.Cell
		result.Cell.Data = w.Content
	}
	w.M.Objects[w.Object] = result
	result.ReadResp = &ReaderResponse{ReaderMaker: mkReaderMaker(result.Cell)}
	return nil
}

// Reader returns a reader of the object's current contents.
func (s *Mock) Reader(ctx context.Context, object string) (io.ReadCloser, error) {
	if s.err != nil {
		return nil, s.err
	}
	if resps, ok := s.Objects[object]; ok && resps.ReadResp != nil {
		if resps.ReadResp.Err != nil {
			return nil, resps.ReadResp.Err
		}
		return resps.ReadResp.ReaderMaker(), nil
	}
	return nil, os.ErrNotExist
}

// Exists returns whether the object can be read.
func (s *Mock) Exists(ctx context.Context, object string) (bool, error) {
	if _, err := s.Reader(ctx, object); err != nil {
		if s.IsNotExists(err) {
			err = nil
		}
		return false, err
	}
	return true, s.err
}

// Writer returns the object's canned writer, or a new writer that commits to the object.
func (s *Mock) Writer(ctx context.Context, object string) (storagei.Writer, error) {
	if s.err != nil {
		return nil, s.err
	}
	if resps, ok := s.Objects[object]; ok && resps.WriteResp != nil {
		if resps.WriteResp.Err != nil {
			return nil, resps.WriteResp.Err
		}
		return resps.WriteResp.Writer, nil
	}
	return &ObjectWriter{M: s, Object: object}, nil
}

// IsNotExists returns whether an error returned from Mock represents the NotExists error.
func (s *Mock) IsNotExists(err error) bool {
	return os.IsNotExist(err)
}

func mkReaderMaker(cell *FakeObject) func() io.ReadCloser {
	return func() io.ReadCloser { return &nopCloser{bytes.NewReader(cell.Data)} }
}

// WithInitialContents returns an initial Mock implementation with objects with the given contents.
func WithInitialContents(initialContents map[string][]byte) *Mock {
	m := &Mock{Objects: make(map[string]*Responses)}
	for k, v := range initialContents {
		result := &Responses{Cell: &FakeObject{Data: v}}
		result.ReadResp = &ReaderResponse{ReaderMaker: mkReaderMaker(result.Cell)}
		result.WriteResp = &WriterResponse{Writer: &ObjectWriter{M: m, Object: k}}
		m.Objects[k] = result
	}
	return m
}

// WithFailingWriter returns a Mock whose writer for object fails every Write with err.
func WithFailingWriter(object string, err error) *Mock {
	m := &Mock{}
	m.Objects = map[string]*Responses{object: {
		WriteResp: &WriterResponse{Writer: &ObjectWriter{M: m, Object: object, WriteErr: err}},
	}}
	return m
}

// Clone returns a new Mock with all objects containing the same contents in new cells.
func (s *Mock) Clone() *Mock {
	result := &Mock{
		Objects: make(map[string]*Responses),
		err:     s.err,
	}
	for objName, resp := range s.Objects {
		clone := &Responses{}
		if resp.Cell != nil {
			clone.Cell = &FakeObject{Data: bytes.Clone(resp.Cell.Data)}
		}
		if resp.ReadResp != nil {
			clone.ReadResp = &ReaderResponse{Err: resp.ReadResp.Err}
			if clone.Cell != nil {
				clone.ReadResp.ReaderMaker = mkReaderMaker(clone.Cell)
			}
		}
		if resp.WriteResp != nil {
			clone.WriteResp = &WriterResponse{
				Err:    resp.WriteResp.Err,
				Writer: &ObjectWriter{M: result, Object: objName},
			}
		}
		result.Objects[objName] = clone
	}
	return result
}

// WithError returns an initial Mock implementation that always returns the given error.
func WithError(err error) *Mock {
	return &Mock{err: err}
}
