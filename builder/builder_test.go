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
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/ovmf-igvm/igvm"
	"github.com/google/ovmf-igvm/ovmf"
	"github.com/google/ovmf-igvm/platform"
	"github.com/google/ovmf-igvm/sev"
	"github.com/google/ovmf-igvm/testing/fakeovmf"
	"github.com/google/ovmf-igvm/testing/match"
)

type placement struct {
	Kind     string
	Gpa      uint64
	DataType igvm.PageDataType
	HasData  bool
	VpIndex  uint16
}

func placements(directives []igvm.Directive) []placement {
	var result []placement
	for _, d := range directives {
		switch d := d.(type) {
		case *igvm.PageData:
			result = append(result, placement{Kind: "page", Gpa: d.Gpa, DataType: d.DataType, HasData: len(d.Data) > 0})
		case *igvm.VpContext:
			result = append(result, placement{Kind: "vp", Gpa: d.Gpa, VpIndex: d.VpIndex})
		default:
			result = append(result, placement{Kind: d.Type().String()})
		}
	}
	return result
}

func TestBuildSnp(t *testing.T) {
	firmware := fakeovmf.SevExample(t, 0x2000)
	result, err := Build(context.Background(), firmware, &Options{Platform: platform.SevSnp, CPUCount: 2})
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}
	if result.Info.ResetAddr != fakeovmf.SevEsAddrVal {
		t.Errorf("ResetAddr = 0x%x, want 0x%x", result.Info.ResetAddr, fakeovmf.SevEsAddrVal)
	}
	file := result.File
	if file.Revision() != igvm.RevisionV1 {
		t.Errorf("Revision() = %d, want %d", file.Revision(), igvm.RevisionV1)
	}
	wantPlatforms := []igvm.PlatformHeader{&igvm.SupportedPlatform{
		CompatibilityMask: 1,
		PlatformType:      igvm.PlatformTypeSevSnp,
		PlatformVersion:   1,
	}}
	if diff := cmp.Diff(file.Platforms(), wantPlatforms); diff != "" {
		t.Errorf("Platforms() returned diff (-got +want): %s", diff)
	}
	wantInit := []igvm.InitializationHeader{&igvm.GuestPolicy{Policy: 0x30000, CompatibilityMask: 1}}
	if diff := cmp.Diff(file.Initializations(), wantInit); diff != "" {
		t.Errorf("Initializations() returned diff (-got +want): %s", diff)
	}
	normal := igvm.PageDataTypeNormal
	want := []placement{
		{Kind: "page", Gpa: 0xffffe000, DataType: normal, HasData: true},
		{Kind: "page", Gpa: 0xfffff000, DataType: normal, HasData: true},
		{Kind: "page", Gpa: fakeovmf.SevSnpSecretAddr, DataType: igvm.PageDataTypeSecrets},
		{Kind: "page", Gpa: fakeovmf.SevSnpCaaAddr, DataType: normal},
		{Kind: "page", Gpa: fakeovmf.SevSnpCpuidAddr, DataType: igvm.PageDataTypeCpuidData},
		{Kind: "page", Gpa: 0x1000, DataType: normal},
		{Kind: "page", Gpa: 0x2000, DataType: normal},
		{Kind: "vp", Gpa: sev.VpContextGpa, VpIndex: 0},
		{Kind: "vp", Gpa: sev.VpContextGpa, VpIndex: 1},
	}
	directives := file.Directives()
	if diff := cmp.Diff(placements(directives), want); diff != "" {
		t.Errorf("Directives() returned diff (-got +want): %s", diff)
	}
	bsp := directives[7].(*igvm.VpContext).State.(*sev.Vmsa)
	ap := directives[8].(*igvm.VpContext).State.(*sev.Vmsa)
	if bsp.Rip != 0xfff0 || bsp.Cs.Base != 0xffff0000 {
		t.Errorf("BSP RIP, CS base = 0x%x, 0x%x. Want 0xfff0, 0xffff0000", bsp.Rip, bsp.Cs.Base)
	}
	if ap.Rip != 0xb000 || ap.Cs.Base != 0xffff0000 {
		t.Errorf("AP RIP, CS base = 0x%x, 0x%x. Want 0xb000, 0xffff0000", ap.Rip, ap.Cs.Base)
	}
	if bsp.SevFeatures != 1 || ap.SevFeatures != 1 {
		t.Errorf("SEV_FEATURES = 0x%x, 0x%x. Want 1, 1", bsp.SevFeatures, ap.SevFeatures)
	}
	if !bytes.Equal(directives[1].(*igvm.PageData).Data, firmware[0x1000:]) {
		t.Error("second firmware page does not hold the firmware's second 4KiB")
	}
	contents, err := file.Bytes()
	if err != nil {
		t.Fatalf("Bytes() = %v", err)
	}
	if magic := binary.LittleEndian.Uint32(contents); magic != igvm.Magic {
		t.Errorf("serialized magic = 0x%x, want 0x%x", magic, uint32(igvm.Magic))
	}
}

func TestBuildPlatforms(t *testing.T) {
	tcs := []struct {
		p            platform.Platform
		cpus         int
		wantPolicy   uint64
		wantType     igvm.PlatformType
		wantPages    int
		wantContexts int
	}{
		{p: platform.Sev, cpus: 4, wantPolicy: 0x1, wantType: igvm.PlatformTypeSev, wantPages: 2},
		{p: platform.SevEs, cpus: 4, wantPolicy: 0x5, wantType: igvm.PlatformTypeSevEs, wantPages: 2, wantContexts: 4},
		{p: platform.SevSnp, cpus: 1, wantPolicy: 0x30000, wantType: igvm.PlatformTypeSevSnp, wantPages: 7, wantContexts: 1},
		{p: platform.Native, cpus: 4, wantPolicy: 0, wantType: igvm.PlatformTypeNative, wantPages: 2},
	}
	firmware := fakeovmf.SevExample(t, 0x2000)
	for _, tc := range tcs {
		t.Run(tc.p.String(), func(t *testing.T) {
			result, err := Build(context.Background(), firmware, &Options{Platform: tc.p, CPUCount: tc.cpus})
			if err != nil {
				t.Fatalf("Build() = %v", err)
			}
			policy := result.File.Initializations()[0].(*igvm.GuestPolicy)
			if policy.Policy != tc.wantPolicy {
				t.Errorf("policy = 0x%x, want 0x%x", policy.Policy, tc.wantPolicy)
			}
			supported := result.File.Platforms()[0].(*igvm.SupportedPlatform)
			if supported.PlatformType != tc.wantType {
				t.Errorf("platform type = %v, want %v", supported.PlatformType, tc.wantType)
			}
			summary := Summarize(result.File.Directives())
			if got := summary.DataPages + summary.Placeholders; got != tc.wantPages {
				t.Errorf("page directives = %d, want %d", got, tc.wantPages)
			}
			if summary.VpContexts != tc.wantContexts {
				t.Errorf("VP contexts = %d, want %d", summary.VpContexts, tc.wantContexts)
			}
		})
	}
}

func TestBuildVpIndices(t *testing.T) {
	const cpus = 16
	result, err := Build(context.Background(), fakeovmf.SevExample(t, 0x2000),
		&Options{Platform: platform.SevEs, CPUCount: cpus})
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}
	var indices []uint16
	for _, d := range result.File.Directives() {
		if vp, ok := d.(*igvm.VpContext); ok {
			indices = append(indices, vp.VpIndex)
		}
	}
	var want []uint16
	for i := 0; i < cpus; i++ {
		want = append(want, uint16(i))
	}
	if diff := cmp.Diff(indices, want); diff != "" {
		t.Errorf("VP indices returned diff (-got +want): %s", diff)
	}
}

func TestBuildErrors(t *testing.T) {
	firmware := fakeovmf.SevExample(t, 0x2000)
	tcs := []struct {
		name     string
		firmware []byte
		opts     *Options
		target   error
		wantErr  string
	}{
		{
			name:     "no cpus",
			firmware: firmware,
			opts:     &Options{Platform: platform.SevEs},
			wantErr:  "cpu count 0 is outside [1, 65535]",
		},
		{
			name:     "too many cpus",
			firmware: firmware,
			opts:     &Options{Platform: platform.SevEs, CPUCount: MaxCPUCount + 1},
			wantErr:  "cpu count 65536 is outside",
		},
		{
			name:     "bad platform",
			firmware: firmware,
			opts:     &Options{CPUCount: 1},
			wantErr:  "unsupported platform platform(0)",
		},
		{
			name:     "no footer",
			firmware: make([]byte, 0x2000),
			opts:     &Options{Platform: platform.SevSnp, CPUCount: 1},
			target:   ovmf.ErrFooterNotFound,
			wantErr:  "could not load firmware",
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Build(context.Background(), tc.firmware, tc.opts)
			if tc.target != nil && !errors.Is(err, tc.target) {
				t.Errorf("Build() = %v, want %v", err, tc.target)
			}
			if !match.Error(err, tc.wantErr) {
				t.Errorf("Build() = %v, want %q", err, tc.wantErr)
			}
		})
	}
}

func TestReorderDirectives(t *testing.T) {
	pd1 := &igvm.PageData{Gpa: 0x1000}
	pd2 := &igvm.PageData{Gpa: 0x2000}
	vp := &igvm.VpContext{VpIndex: 1}
	rm1 := &igvm.RequiredMemory{Gpa: 0x10000}
	rm2 := &igvm.RequiredMemory{Gpa: 0x20000}
	got := ReorderDirectives([]igvm.Directive{pd1, rm1, vp, rm2, pd2})
	want := []igvm.Directive{rm1, rm2, pd1, vp, pd2}
	if len(got) != len(want) {
		t.Fatalf("ReorderDirectives() has %d directives, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ReorderDirectives()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if got := ReorderDirectives(nil); len(got) != 0 {
		t.Errorf("ReorderDirectives(nil) = %v, want empty", got)
	}
}

func TestSummary(t *testing.T) {
	directives := []igvm.Directive{
		&igvm.PageData{Data: make([]byte, 0x1000)},
		&igvm.PageData{Data: make([]byte, 0x800)},
		&igvm.PageData{},
		&igvm.VpContext{},
		&igvm.RequiredMemory{},
	}
	got := Summarize(directives)
	want := Summary{DataPages: 2, Placeholders: 1, VpContexts: 1, Other: 1, DataBytes: 0x1800}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Summarize() returned diff (-got +want): %s", diff)
	}
	if s := got.String(); s != "2 data pages (6.0 KiB), 1 placeholder pages, 1 VP contexts, 1 other directives" {
		t.Errorf("String() = %q", s)
	}
}
