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
	"hash/crc32"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/ovmf-igvm/testing/match"
)

type fakeState struct {
	data []byte
	err  error
}

func (s *fakeState) PageBytes() ([]byte, error) { return s.data, s.err }

func snpPlatform() *SupportedPlatform {
	return &SupportedPlatform{
		CompatibilityMask: 1,
		PlatformType:      PlatformTypeSevSnp,
		PlatformVersion:   1,
	}
}

func TestNew(t *testing.T) {
	tcs := []struct {
		name       string
		revision   Revision
		platforms  []PlatformHeader
		inits      []InitializationHeader
		directives []Directive
		wantErr    string
	}{
		{
			name:      "minimal",
			revision:  RevisionV1,
			platforms: []PlatformHeader{snpPlatform()},
		},
		{
			name:      "bad revision",
			revision:  2,
			platforms: []PlatformHeader{snpPlatform()},
			wantErr:   "unsupported revision 2",
		},
		{
			name:     "no platform",
			revision: RevisionV1,
			wantErr:  "no supported platform declared",
		},
		{
			name:     "two mask bits",
			revision: RevisionV1,
			platforms: []PlatformHeader{&SupportedPlatform{
				CompatibilityMask: 3, PlatformType: PlatformTypeSevSnp}},
			wantErr: "must have exactly one bit set",
		},
		{
			name:      "duplicate mask",
			revision:  RevisionV1,
			platforms: []PlatformHeader{snpPlatform(), snpPlatform()},
			wantErr:   "already declared",
		},
		{
			name:      "undeclared mask",
			revision:  RevisionV1,
			platforms: []PlatformHeader{snpPlatform()},
			inits:     []InitializationHeader{&GuestPolicy{Policy: 0x30000, CompatibilityMask: 2}},
			wantErr:   "initialization header 0 (IGVM_VHT_GUEST_POLICY): compatibility mask 0x2",
		},
		{
			name:       "unaligned page",
			revision:   RevisionV1,
			platforms:  []PlatformHeader{snpPlatform()},
			directives: []Directive{&PageData{Gpa: 0x10, CompatibilityMask: 1}},
			wantErr:    "page data GPA 0x10 is not aligned",
		},
		{
			name:       "oversized page",
			revision:   RevisionV1,
			platforms:  []PlatformHeader{snpPlatform()},
			directives: []Directive{&PageData{CompatibilityMask: 1, Data: make([]byte, PageSize4K+1)}},
			wantErr:    "more than the page size",
		},
		{
			name:       "stateless vp",
			revision:   RevisionV1,
			platforms:  []PlatformHeader{snpPlatform()},
			directives: []Directive{&VpContext{CompatibilityMask: 1}},
			wantErr:    "VP 0 context has no state",
		},
		{
			name:      "unaligned required memory",
			revision:  RevisionV1,
			platforms: []PlatformHeader{snpPlatform()},
			directives: []Directive{&RequiredMemory{
				Gpa: 0x1000, CompatibilityMask: 1, NumberOfBytes: 0x800}},
			wantErr: "is not page aligned",
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			f, err := New(tc.revision, tc.platforms, tc.inits, tc.directives)
			if !match.Error(err, tc.wantErr) {
				t.Fatalf("New() = %v, want %q", err, tc.wantErr)
			}
			if tc.wantErr != "" {
				if !errors.Is(err, ErrSerialization) {
					t.Errorf("New() = %v, want ErrSerialization", err)
				}
				return
			}
			if len(f.Platforms()) != len(tc.platforms) {
				t.Errorf("Platforms() has %d entries, want %d", len(f.Platforms()), len(tc.platforms))
			}
		})
	}
}

func TestSerialize(t *testing.T) {
	page := bytes.Repeat([]byte{0xaa}, 0x10)
	vp := &fakeState{data: []byte{1, 2, 3}}
	f, err := New(RevisionV1,
		[]PlatformHeader{snpPlatform()},
		[]InitializationHeader{&GuestPolicy{Policy: 0x30000, CompatibilityMask: 1}},
		[]Directive{
			&PageData{Gpa: 0xffffe000, CompatibilityMask: 1, Data: page},
			&PageData{Gpa: 0x800000, CompatibilityMask: 1, DataType: PageDataTypeSecrets},
			&VpContext{Gpa: 0xFFFFFFFFF000, CompatibilityMask: 1, State: vp},
		})
	if err != nil {
		t.Fatal(err)
	}
	got, err := f.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	// 24 fixed + (8+16) + (8+16) + 2*(8+24) + (8+20+4 padding) = 24+24+24+64+32
	const variableSize = 24 + 24 + 64 + 32
	const dataStart = SizeofFixedHeader + variableSize
	const total = dataStart + 2*PageSize4K
	if len(got) != total {
		t.Fatalf("Bytes() has length %d, want %d", len(got), total)
	}
	le := binary.LittleEndian
	fixed := []uint32{le.Uint32(got[0:]), le.Uint32(got[4:]), le.Uint32(got[8:]), le.Uint32(got[12:]), le.Uint32(got[16:])}
	wantFixed := []uint32{Magic, 1, SizeofFixedHeader, variableSize, total}
	if diff := cmp.Diff(fixed, wantFixed); diff != "" {
		t.Errorf("fixed header diff (-got +want): %s", diff)
	}
	head := bytes.Clone(got[:dataStart])
	le.PutUint32(head[20:24], 0)
	if sum := le.Uint32(got[20:24]); sum != crc32.ChecksumIEEE(head) {
		t.Errorf("checksum = 0x%x, want 0x%x", sum, crc32.ChecksumIEEE(head))
	}

	off := SizeofFixedHeader
	if typ, size := le.Uint32(got[off:]), le.Uint32(got[off+4:]); typ != uint32(HeaderTypeSupportedPlatform) || size != SizeofSupportedPlatform {
		t.Errorf("header 0 is (0x%x, %d), want supported platform", typ, size)
	}
	if got[off+8+5] != uint8(PlatformTypeSevSnp) {
		t.Errorf("platform type = %d, want %d", got[off+8+5], PlatformTypeSevSnp)
	}
	off += 24
	if policy := le.Uint64(got[off+8:]); policy != 0x30000 {
		t.Errorf("guest policy = 0x%x, want 0x30000", policy)
	}
	off += 24
	firstPage := got[off+8:]
	if gpa, fo := le.Uint64(firstPage[0:]), le.Uint32(firstPage[12:]); gpa != 0xffffe000 || fo != dataStart {
		t.Errorf("first page data (gpa 0x%x, offset 0x%x), want (0xffffe000, 0x%x)", gpa, fo, dataStart)
	}
	off += 32
	secrets := got[off+8:]
	if fo, typ := le.Uint32(secrets[12:]), le.Uint16(secrets[20:]); fo != 0 || typ != uint16(PageDataTypeSecrets) {
		t.Errorf("secrets page (offset 0x%x, type %d), want (0, %d)", fo, typ, PageDataTypeSecrets)
	}
	off += 32
	vpHeader := got[off+8:]
	if fo, idx := le.Uint32(vpHeader[12:]), le.Uint16(vpHeader[16:]); fo != dataStart+PageSize4K || idx != 0 {
		t.Errorf("vp context (offset 0x%x, index %d), want (0x%x, 0)", fo, idx, dataStart+PageSize4K)
	}

	wantData := make([]byte, 2*PageSize4K)
	copy(wantData, page)
	copy(wantData[PageSize4K:], vp.data)
	if !bytes.Equal(got[dataStart:], wantData) {
		t.Errorf("file data section mismatch")
	}
}

func TestSerializeStateError(t *testing.T) {
	f, err := New(RevisionV1, []PlatformHeader{snpPlatform()}, nil,
		[]Directive{&VpContext{CompatibilityMask: 1, State: &fakeState{err: errors.New("boom")}}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Bytes(); !match.ErrorIs(err, ErrSerialization, "boom") {
		t.Errorf("Bytes() = %v, want serialization error containing boom", err)
	}
	f, err = New(RevisionV1, []PlatformHeader{snpPlatform()}, nil,
		[]Directive{&VpContext{CompatibilityMask: 1, State: &fakeState{data: make([]byte, PageSize4K+1)}}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Bytes(); !match.ErrorIs(err, ErrSerialization, "more than a page") {
		t.Errorf("Bytes() = %v, want oversized state error", err)
	}
}

func TestStrings(t *testing.T) {
	if got := HeaderTypePageData.String(); got != "IGVM_VHT_PAGE_DATA" {
		t.Errorf("HeaderTypePageData.String() = %q", got)
	}
	if got := PlatformTypeSevEs.String(); got != "SEV_ES" {
		t.Errorf("PlatformTypeSevEs.String() = %q", got)
	}
	if got := PageDataType(9).String(); got != "[unknown page data type 0x9]" {
		t.Errorf("PageDataType(9).String() = %q", got)
	}
}
