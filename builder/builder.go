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

// Package builder assembles an IGVM boot descriptor for an OVMF firmware.
package builder

import (
	"fmt"
	"math"

	"github.com/google/ovmf-igvm/cmd/output"
	"github.com/google/ovmf-igvm/igvm"
	"github.com/google/ovmf-igvm/ovmf"
	"github.com/google/ovmf-igvm/platform"
	"github.com/google/ovmf-igvm/sev"
	"github.com/pkg/errors"
	"golang.org/x/net/context"
)

const (
	// CompatibilityMask is the single platform bit every header of the descriptor applies to.
	CompatibilityMask = 1

	// MaxCPUCount is the largest processor count whose indices fit in a VP context.
	MaxCPUCount = math.MaxUint16
)

// Options selects what kind of guest the descriptor launches.
type Options struct {
	Platform platform.Platform
	CPUCount int
}

// Validate returns an error if the options cannot describe a guest.
func (opts *Options) Validate() error {
	if err := opts.Platform.Check(); err != nil {
		return err
	}
	if opts.CPUCount < 1 || opts.CPUCount > MaxCPUCount {
		return fmt.Errorf("cpu count %d is outside [1, %d]", opts.CPUCount, MaxCPUCount)
	}
	return nil
}

// Result is a built descriptor together with the firmware information it was built from.
type Result struct {
	File *igvm.File
	Info *ovmf.FirmwareInfo
}

// InitializationHeaders returns the guest policy header for platform p.
func InitializationHeaders(p platform.Platform) []igvm.InitializationHeader {
	return []igvm.InitializationHeader{&igvm.GuestPolicy{
		Policy:            p.GuestPolicy(),
		CompatibilityMask: CompatibilityMask,
	}}
}

// PlatformHeaders returns the supported platform header for platform p.
func PlatformHeaders(p platform.Platform) []igvm.PlatformHeader {
	return []igvm.PlatformHeader{&igvm.SupportedPlatform{
		CompatibilityMask: CompatibilityMask,
		HighestVtl:        0,
		PlatformType:      p.IgvmPlatformType(),
		PlatformVersion:   1,
		SharedGpaBoundary: 0,
	}}
}

// VpContexts returns the bootstrap processor's context followed by one context per additional
// processor, with indices 0 through cpuCount-1. Platforms that launch without provided processor
// state get none.
func VpContexts(p platform.Platform, resetAddr uint32, cpuCount int) ([]igvm.Directive, error) {
	if !p.NeedsVpContext() {
		return nil, nil
	}
	if cpuCount < 1 || cpuCount > MaxCPUCount {
		return nil, fmt.Errorf("cpu count %d is outside [1, %d]", cpuCount, MaxCPUCount)
	}
	result := make([]igvm.Directive, 0, cpuCount)
	result = append(result, sev.BspVpContext(sev.VpContextGpa, CompatibilityMask, p))
	for vp := 1; vp < cpuCount; vp++ {
		ap, err := sev.ApVpContext(sev.VpContextGpa, CompatibilityMask, p, resetAddr, uint16(vp))
		if err != nil {
			return nil, err
		}
		result = append(result, ap)
	}
	return result, nil
}

func carriesState(d igvm.Directive) bool {
	switch d.(type) {
	case *igvm.PageData, *igvm.VpContext:
		return true
	}
	return false
}

// ReorderDirectives moves page data and VP context directives behind all other directives. The
// relative order within both groups is kept.
func ReorderDirectives(directives []igvm.Directive) []igvm.Directive {
	result := make([]igvm.Directive, 0, len(directives))
	for _, d := range directives {
		if !carriesState(d) {
			result = append(result, d)
		}
	}
	for _, d := range directives {
		if carriesState(d) {
			result = append(result, d)
		}
	}
	return result
}

// Build parses firmware and assembles the boot descriptor that launches it as opts describes.
func Build(ctx context.Context, firmware []byte, opts *Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	p := opts.Platform
	initialization := InitializationHeaders(p)
	platforms := PlatformHeaders(p)
	fw, err := ovmf.LoadFirmware(ctx, firmware, CompatibilityMask, p)
	if err != nil {
		return nil, errors.Wrap(err, "could not load firmware")
	}
	directives := fw.Directives
	vps, err := VpContexts(p, fw.Info.ResetAddr, opts.CPUCount)
	if err != nil {
		return nil, errors.Wrap(err, "could not build VP contexts")
	}
	directives = ReorderDirectives(append(directives, vps...))
	output.Debugf(ctx, "%v", Summarize(directives))
	file, err := igvm.New(igvm.RevisionV1, platforms, initialization, directives)
	if err != nil {
		return nil, errors.Wrap(err, "could not create IGVM file")
	}
	return &Result{File: file, Info: fw.Info}, nil
}
