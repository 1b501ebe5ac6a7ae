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

package igvm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"math/bits"

	"go.uber.org/multierr"
	"golang.org/x/exp/slices"
)

// ErrSerialization is returned when headers cannot be assembled into a valid IGVM file.
var ErrSerialization = errors.New("igvm serialization failed")

// File is a validated IGVM file ready for serialization.
type File struct {
	revision        Revision
	platforms       []PlatformHeader
	initializations []InitializationHeader
	directives      []Directive
}

// New validates the given headers and returns a File that holds them in order.
func New(revision Revision, platforms []PlatformHeader, initializations []InitializationHeader, directives []Directive) (*File, error) {
	var errs error
	if revision != RevisionV1 {
		errs = multierr.Append(errs, fmt.Errorf("unsupported revision %d", revision))
	}
	if len(platforms) == 0 {
		errs = multierr.Append(errs, errors.New("no supported platform declared"))
	}
	if len(platforms) > MaxPlatforms {
		errs = multierr.Append(errs, fmt.Errorf("%d platforms declared, at most %d allowed", len(platforms), MaxPlatforms))
	}
	var declared uint32
	for i, p := range platforms {
		mask := p.Mask()
		if bits.OnesCount32(mask) != 1 {
			errs = multierr.Append(errs, fmt.Errorf("platform %d: compatibility mask 0x%x must have exactly one bit set", i, mask))
			continue
		}
		if declared&mask != 0 {
			errs = multierr.Append(errs, fmt.Errorf("platform %d: compatibility mask 0x%x already declared", i, mask))
		}
		declared |= mask
		errs = multierr.Append(errs, p.validate())
	}
	check := func(kind string, i int, h Header) {
		if mask := h.Mask(); mask == 0 || mask&^declared != 0 {
			errs = multierr.Append(errs, fmt.Errorf("%s %d (%v): compatibility mask 0x%x does not match declared platforms 0x%x",
				kind, i, h.Type(), mask, declared))
		}
		if err := h.validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s %d (%v): %v", kind, i, h.Type(), err))
		}
	}
	for i, h := range initializations {
		check("initialization header", i, h)
	}
	for i, h := range directives {
		check("directive", i, h)
	}
	if errs != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, errs)
	}
	return &File{
		revision:        revision,
		platforms:       slices.Clone(platforms),
		initializations: slices.Clone(initializations),
		directives:      slices.Clone(directives),
	}, nil
}

// Revision returns the file format version.
func (f *File) Revision() Revision { return f.revision }

// Platforms returns the platform headers in file order.
func (f *File) Platforms() []PlatformHeader { return slices.Clone(f.platforms) }

// Initializations returns the initialization headers in file order.
func (f *File) Initializations() []InitializationHeader { return slices.Clone(f.initializations) }

// Directives returns the directive headers in file order.
func (f *File) Directives() []Directive { return slices.Clone(f.directives) }

func (f *File) headers() []Header {
	result := make([]Header, 0, len(f.platforms)+len(f.initializations)+len(f.directives))
	for _, h := range f.platforms {
		result = append(result, h)
	}
	for _, h := range f.initializations {
		result = append(result, h)
	}
	for _, h := range f.directives {
		result = append(result, h)
	}
	return result
}

// Bytes returns the serialized file.
func (f *File) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := f.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Serialize writes the binary IGVM file to w. The layout is the fixed header, the variable
// headers each aligned to 8 bytes, then the file data section that page contents reference.
func (f *File) Serialize(w io.Writer) error {
	headers := f.headers()
	variableSize := 0
	for _, h := range headers {
		variableSize += alignUp(SizeofVariableHeader+h.payloadSize(), VariableHeaderAlignment)
	}
	dataStart := SizeofFixedHeader + variableSize
	head := make([]byte, dataStart)
	var data []byte
	offset := SizeofFixedHeader
	for i, h := range headers {
		contents, err := h.fileData()
		if err != nil {
			return fmt.Errorf("%w: header %d (%v): %v", ErrSerialization, i, h.Type(), err)
		}
		var fileOffset uint32
		if len(contents) != 0 {
			if uint64(dataStart+len(data)) > math.MaxUint32 {
				return fmt.Errorf("%w: file data offset exceeds 32 bits", ErrSerialization)
			}
			fileOffset = uint32(dataStart + len(data))
			data = append(data, contents...)
		}
		size := h.payloadSize()
		binary.LittleEndian.PutUint32(head[offset:offset+4], uint32(h.Type()))
		binary.LittleEndian.PutUint32(head[offset+4:offset+8], uint32(size))
		h.putPayload(head[offset+SizeofVariableHeader:offset+SizeofVariableHeader+size], fileOffset)
		offset += alignUp(SizeofVariableHeader+size, VariableHeaderAlignment)
	}
	total := dataStart + len(data)
	if uint64(total) > math.MaxUint32 {
		return fmt.Errorf("%w: file size 0x%x exceeds 32 bits", ErrSerialization, total)
	}
	binary.LittleEndian.PutUint32(head[0:4], Magic)
	binary.LittleEndian.PutUint32(head[4:8], uint32(f.revision))
	binary.LittleEndian.PutUint32(head[8:12], SizeofFixedHeader)
	binary.LittleEndian.PutUint32(head[12:16], uint32(variableSize))
	binary.LittleEndian.PutUint32(head[16:20], uint32(total))
	binary.LittleEndian.PutUint32(head[20:24], crc32.ChecksumIEEE(head))
	if _, err := w.Write(head); err != nil {
		return fmt.Errorf("could not write IGVM headers: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("could not write IGVM file data: %w", err)
	}
	return nil
}
