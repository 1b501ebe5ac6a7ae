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

package platform

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/ovmf-igvm/igvm"
	"github.com/google/ovmf-igvm/testing/match"
)

func TestProperties(t *testing.T) {
	tcs := []struct {
		p            Platform
		name         string
		igvmType     igvm.PlatformType
		policy       uint64
		features     uint64
		needsContext bool
	}{
		{p: Sev, name: "sev", igvmType: igvm.PlatformTypeSev, policy: 0x1},
		{p: SevEs, name: "sev-es", igvmType: igvm.PlatformTypeSevEs, policy: 0x5, needsContext: true},
		{p: SevSnp, name: "sev-snp", igvmType: igvm.PlatformTypeSevSnp, policy: 0x30000, features: 1, needsContext: true},
		{p: Native, name: "native", igvmType: igvm.PlatformTypeNative},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.p.String(); got != tc.name {
				t.Errorf("String() = %q, want %q", got, tc.name)
			}
			if got := tc.p.IgvmPlatformType(); got != tc.igvmType {
				t.Errorf("IgvmPlatformType() = %v, want %v", got, tc.igvmType)
			}
			if got := tc.p.GuestPolicy(); got != tc.policy {
				t.Errorf("GuestPolicy() = 0x%x, want 0x%x", got, tc.policy)
			}
			if got := tc.p.SevFeatures(); got != tc.features {
				t.Errorf("SevFeatures() = 0x%x, want 0x%x", got, tc.features)
			}
			if got := tc.p.NeedsVpContext(); got != tc.needsContext {
				t.Errorf("NeedsVpContext() = %v, want %v", got, tc.needsContext)
			}
			if got := tc.p.IsSnp(); got != (tc.p == SevSnp) {
				t.Errorf("IsSnp() = %v, want %v", got, tc.p == SevSnp)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tcs := []struct {
		input   string
		want    Platform
		wantErr string
	}{
		{input: "sev", want: Sev},
		{input: "SEV-ES", want: SevEs},
		{input: "sev_snp", want: SevSnp},
		{input: " native ", want: Native},
		{input: "tdx", wantErr: `unknown platform "tdx", want one of sev, sev-es, sev-snp, native`},
		{input: "", wantErr: "unknown platform"},
	}
	for _, tc := range tcs {
		t.Run(tc.input, func(t *testing.T) {
			got, err := Parse(tc.input)
			if !match.Error(err, tc.wantErr) {
				t.Fatalf("Parse(%q) = %v, want %q", tc.input, err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("Parse(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestValue(t *testing.T) {
	var p Platform
	v := NewValue(&p)
	if v.String() != "" {
		t.Errorf("unset String() = %q, want empty", v.String())
	}
	if err := v.Set("sev-snp"); err != nil {
		t.Fatal(err)
	}
	if p != SevSnp || v.String() != "sev-snp" {
		t.Errorf("after Set(sev-snp) got %v (%q), want sev-snp", p, v.String())
	}
	if err := v.Set("bogus"); !match.Error(err, "unknown platform") {
		t.Errorf("Set(bogus) = %v, want unknown platform error", err)
	}
	if v.Type() != "platform" {
		t.Errorf("Type() = %q, want platform", v.Type())
	}
	if diff := cmp.Diff(Names(), []string{"sev", "sev-es", "sev-snp", "native"}); diff != "" {
		t.Errorf("Names() diff (-got +want): %s", diff)
	}
}

func TestInvalid(t *testing.T) {
	for _, p := range []Platform{0, -1, maxPlatform, 99} {
		t.Run(p.String(), func(t *testing.T) {
			if p.Valid() {
				t.Errorf("%d.Valid() = true, want false", int(p))
			}
			if err := p.Check(); !match.ErrorIs(err, ErrUnsupported, "unsupported platform platform(") {
				t.Errorf("%d.Check() = %v, want %v", int(p), err, ErrUnsupported)
			}
			if p.GuestPolicy() != 0 || p.SevFeatures() != 0 || p.NeedsVpContext() || p.IsSnp() ||
				p.IgvmPlatformType() != 0 {
				t.Errorf("%d has properties, want none", int(p))
			}
		})
	}
	for _, p := range All() {
		if err := p.Check(); err != nil {
			t.Errorf("%v.Check() = %v, want nil", p, err)
		}
	}
}
