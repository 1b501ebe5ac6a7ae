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

package ovmf

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/ovmf-igvm/igvm"
	"github.com/google/ovmf-igvm/platform"
	"github.com/google/ovmf-igvm/testing/fakeovmf"
	"github.com/google/ovmf-igvm/testing/match"
)

type pageSummary struct {
	Gpa      uint64
	DataType igvm.PageDataType
	Len      int
}

func summarize(t *testing.T, directives []igvm.Directive) []pageSummary {
	t.Helper()
	var result []pageSummary
	for _, d := range directives {
		page, ok := d.(*igvm.PageData)
		if !ok {
			t.Fatalf("directive %v is not page data", d.Type())
		}
		if page.CompatibilityMask != 1 {
			t.Errorf("page at 0x%x has mask 0x%x, want 1", page.Gpa, page.CompatibilityMask)
		}
		result = append(result, pageSummary{Gpa: page.Gpa, DataType: page.DataType, Len: len(page.Data)})
	}
	return result
}

func TestFirmwareDirectivesPages(t *testing.T) {
	tcs := []struct {
		size      int
		wantPages int
		lastLen   int
	}{
		{size: 0x1000, wantPages: 1, lastLen: 0x1000},
		{size: 0x2000, wantPages: 2, lastLen: 0x1000},
		{size: 0x1388, wantPages: 2, lastLen: 0x388},
		{size: 0x2001, wantPages: 3, lastLen: 1},
		{size: 1, wantPages: 1, lastLen: 1},
	}
	for _, tc := range tcs {
		firmware := make([]byte, tc.size)
		for i := range firmware {
			firmware[i] = byte(i)
		}
		for _, p := range []platform.Platform{platform.Sev, platform.SevEs, platform.Native} {
			got := summarize(t, FirmwareDirectives(firmware, 1, &FirmwareInfo{}, p))
			if len(got) != tc.wantPages {
				t.Fatalf("FirmwareDirectives(0x%x bytes, %v) = %d pages, want %d", tc.size, p, len(got), tc.wantPages)
			}
			start := uint64(1<<32) - uint64(tc.size)
			for i, page := range got {
				if want := start + uint64(i)*0x1000; page.Gpa != want || page.DataType != igvm.PageDataTypeNormal {
					t.Errorf("page %d = %+v, want normal page at 0x%x", i, page, want)
				}
			}
			if got[len(got)-1].Len != tc.lastLen {
				t.Errorf("last page has %d bytes, want %d", got[len(got)-1].Len, tc.lastLen)
			}
		}
	}
}

func TestFirmwareDirectivesCopiesData(t *testing.T) {
	firmware := bytes.Repeat([]byte{0xab}, 0x1000)
	directives := FirmwareDirectives(firmware, 1, &FirmwareInfo{}, platform.Native)
	firmware[0] = 0
	if got := directives[0].(*igvm.PageData).Data[0]; got != 0xab {
		t.Errorf("page data aliases firmware: byte 0 = 0x%x, want 0xab", got)
	}
}

func TestFirmwareDirectivesSnp(t *testing.T) {
	info := &FirmwareInfo{
		SecretsPage: 0x800000,
		CaaPage:     0x802000,
		CpuidPage:   0x801000,
		Prevalidated: []PrevalidatedRegion{
			{Base: 0x1000, Size: 0x2000},
			{Base: 0x10000, Size: 0x1001},
			{Base: 0x20000, Size: 0},
		},
	}
	got := summarize(t, FirmwareDirectives(make([]byte, 0x1000), 1, info, platform.SevSnp))
	want := []pageSummary{
		{Gpa: 0xfffff000, DataType: igvm.PageDataTypeNormal, Len: 0x1000},
		{Gpa: 0x800000, DataType: igvm.PageDataTypeSecrets},
		{Gpa: 0x802000, DataType: igvm.PageDataTypeNormal},
		{Gpa: 0x801000, DataType: igvm.PageDataTypeCpuidData},
		{Gpa: 0x1000, DataType: igvm.PageDataTypeNormal},
		{Gpa: 0x2000, DataType: igvm.PageDataTypeNormal},
		{Gpa: 0x10000, DataType: igvm.PageDataTypeNormal},
		{Gpa: 0x11000, DataType: igvm.PageDataTypeNormal},
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("FirmwareDirectives(SNP) returned diff (-got +want): %s", diff)
	}
}

func TestFirmwareDirectivesRegionAtTop(t *testing.T) {
	info := &FirmwareInfo{Prevalidated: []PrevalidatedRegion{{Base: 0xfffff000, Size: 0x1000}}}
	got := summarize(t, FirmwareDirectives(nil, 1, info, platform.SevSnp))
	if last := got[len(got)-1]; last.Gpa != 0xfffff000 {
		t.Errorf("region page at 0x%x, want 0xfffff000", last.Gpa)
	}
}

func TestLoadFirmware(t *testing.T) {
	firmware := fakeovmf.SevExample(t, 0x2000)
	fw, err := LoadFirmware(testContext(&bytes.Buffer{}), firmware, 1, platform.SevSnp)
	if err != nil {
		t.Fatal(err)
	}
	if fw.Info.ResetAddr != fakeovmf.SevEsAddrVal {
		t.Errorf("ResetAddr = 0x%x, want 0x%x", fw.Info.ResetAddr, fakeovmf.SevEsAddrVal)
	}
	// 2 firmware pages, secrets, CAA, CPUID and 2 pages of pre-validated memory.
	if len(fw.Directives) != 7 {
		t.Errorf("LoadFirmware() returned %d directives, want 7", len(fw.Directives))
	}
	if !bytes.Equal(fw.Directives[1].(*igvm.PageData).Data, firmware[0x1000:]) {
		t.Errorf("second page does not hold the second firmware page")
	}

	if _, err := LoadFirmware(testContext(&bytes.Buffer{}), make([]byte, 0x1000), 1, platform.SevSnp); !match.ErrorIs(err, ErrFooterNotFound, "") {
		t.Errorf("LoadFirmware(zeros) = %v, want %v", err, ErrFooterNotFound)
	}
}

func TestUnsupportedPlatform(t *testing.T) {
	firmware := fakeovmf.SevExample(t, 0x2000)
	if _, err := LoadFirmware(testContext(&bytes.Buffer{}), firmware, 1, platform.Platform(0)); !match.ErrorIs(err, platform.ErrUnsupported, "platform(0)") {
		t.Errorf("LoadFirmware(platform 0) = %v, want %v", err, platform.ErrUnsupported)
	}
	info := &FirmwareInfo{SecretsPage: 0x1000, CaaPage: 0x2000, CpuidPage: 0x3000}
	if got := FirmwareDirectives(firmware, 1, info, platform.Platform(0)); len(got) != 2 {
		t.Errorf("FirmwareDirectives(platform 0) = %d directives, want the 2 firmware pages", len(got))
	}
}
