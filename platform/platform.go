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

// Package platform enumerates the guest isolation technologies a boot descriptor can target and
// the constants each one implies.
package platform

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-sev-guest/abi"
	"github.com/google/ovmf-igvm/igvm"
	"github.com/spf13/pflag"
)

// ErrUnsupported is returned for a Platform value outside the supported set, such as the zero value.
var ErrUnsupported = errors.New("unsupported platform")

// Platform selects the isolation technology of the guest.
type Platform int

// Supported platforms. The zero value is not a platform.
const (
	Sev Platform = iota + 1
	SevEs
	SevSnp
	Native
	maxPlatform
)

const (
	// SevPolicyNoDebug disallows debugging of an SEV guest.
	SevPolicyNoDebug = 1 << 0
	// SevPolicyEsRequired requires SEV-ES for the guest.
	SevPolicyEsRequired = 1 << 2

	// SevFeatureSnpActive is the SEV_FEATURES bit that tells the hypervisor the VMSA belongs to an
	// SEV-SNP guest.
	SevFeatureSnpActive = 1 << 0
)

type properties struct {
	name         string
	igvmType     igvm.PlatformType
	policy       uint64
	sevFeatures  uint64
	needsContext bool
	snp          bool
}

// Guests may use SMT. Debug stays disallowed. ABI minimum version is 0.
var snpPolicy = abi.SnpPolicyToBytes(abi.SnpPolicy{SMT: true})

var table = [maxPlatform]properties{
	Sev: {
		name:     "sev",
		igvmType: igvm.PlatformTypeSev,
		policy:   SevPolicyNoDebug,
	},
	SevEs: {
		name:         "sev-es",
		igvmType:     igvm.PlatformTypeSevEs,
		policy:       SevPolicyNoDebug | SevPolicyEsRequired,
		needsContext: true,
	},
	SevSnp: {
		name:         "sev-snp",
		igvmType:     igvm.PlatformTypeSevSnp,
		policy:       snpPolicy,
		sevFeatures:  SevFeatureSnpActive,
		needsContext: true,
		snp:          true,
	},
	Native: {
		name:     "native",
		igvmType: igvm.PlatformTypeNative,
	},
}

// All returns every supported platform in declaration order.
func All() []Platform {
	return []Platform{Sev, SevEs, SevSnp, Native}
}

// An unsupported platform has no properties: no policy, no SEV features and no VP contexts.
func (p Platform) props() properties {
	if !p.Valid() {
		return properties{}
	}
	return table[p]
}

// Valid returns whether p is one of the supported platforms.
func (p Platform) Valid() bool { return p > 0 && p < maxPlatform }

// Check returns an error wrapping ErrUnsupported if p is not one of the supported platforms.
func (p Platform) Check() error {
	if !p.Valid() {
		return fmt.Errorf("%w %v", ErrUnsupported, p)
	}
	return nil
}

func (p Platform) String() string {
	if !p.Valid() {
		return fmt.Sprintf("platform(%d)", int(p))
	}
	return table[p].name
}

// IgvmPlatformType returns the IGVM platform type tag for p.
func (p Platform) IgvmPlatformType() igvm.PlatformType { return p.props().igvmType }

// GuestPolicy returns the launch policy the boot descriptor requests for p.
func (p Platform) GuestPolicy() uint64 { return p.props().policy }

// SevFeatures returns the SEV_FEATURES bits of the initial VMSA for p.
func (p Platform) SevFeatures() uint64 { return p.props().sevFeatures }

// NeedsVpContext returns whether p launches from boot descriptor provided processor state.
func (p Platform) NeedsVpContext() bool { return p.props().needsContext }

// IsSnp returns whether p is the SEV-SNP platform, the only one with firmware-declared special
// pages.
func (p Platform) IsSnp() bool { return p.props().snp }

// Parse returns the platform named s. Matching ignores case and accepts "_" for "-".
func Parse(s string) (Platform, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	for _, p := range All() {
		if table[p].name == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown platform %q, want one of %s", s, strings.Join(Names(), ", "))
}

// Names returns the names Parse accepts.
func Names() []string {
	var result []string
	for _, p := range All() {
		result = append(result, table[p].name)
	}
	return result
}

// Value is a pflag.Value that parses a Platform.
type Value struct {
	p *Platform
}

// NewValue returns a flag value that writes into p.
func NewValue(p *Platform) *Value { return &Value{p: p} }

var _ pflag.Value = (*Value)(nil)

func (v *Value) String() string {
	if v.p == nil || !v.p.Valid() {
		return ""
	}
	return v.p.String()
}

// Set parses value into the destination platform.
func (v *Value) Set(value string) error {
	p, err := Parse(value)
	if err != nil {
		return err
	}
	*v.p = p
	return nil
}

// Type returns the flag type name shown in usage.
func (*Value) Type() string { return "platform" }
