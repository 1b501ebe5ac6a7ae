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

package sev

import (
	"errors"

	"github.com/google/ovmf-igvm/igvm"
	"github.com/google/ovmf-igvm/platform"
)

const (
	// BspResetAddr is the architectural reset vector where the bootstrap processor starts.
	BspResetAddr = 0xfffffff0
	// VpContextGpa is the guest physical address at which every VMSA is placed.
	VpContextGpa = 0xFFFFFFFFF000

	// Segment attributes of a present, accessed real-mode segment.
	codeSegmentAttrib = 0x9b
	dataSegmentAttrib = 0x93
	ldtrAttrib        = 0x82
	trAttrib          = 0x8b
	realModeLimit     = 0xffff
	realModeSelector  = 0xf000

	// EFER.SVME is set since the guest runs under SVM.
	resetEfer = 0x1000
	// CR0.ET, CR0.NW and CR0.CD.
	resetCr0    = 0x60000010
	resetCr4    = 0x40
	resetDr6    = 0xffff0ff0
	resetDr7    = 0x400
	resetRflags = 0x2
	// PAT MSR: See AMD APM Vol 2, Section A.3.
	resetGPat   = 0x0007040600070406
	resetXcr0   = 0x1
	resetMxcsr  = 0x1f80
	resetX87Fcw = 0x37f

	ripMask    = 0x0000ffff
	csBaseMask = 0xffff0000
)

// ErrBspIndex is returned when an application processor is given the bootstrap processor's index.
var ErrBspIndex = errors.New("application processor index must be at least 1")

func dataSegment() VmcbSeg {
	return VmcbSeg{Limit: realModeLimit, Attrib: dataSegmentAttrib}
}

// NewVmsa returns the launch state of a virtual processor that starts executing in real mode at
// resetAddr. Only SEV-SNP sets SEV features; an unsupported platform sets none.
func NewVmsa(resetAddr uint32, p platform.Platform) *Vmsa {
	return &Vmsa{
		Cs: VmcbSeg{
			Selector: realModeSelector,
			Base:     uint64(resetAddr) & csBaseMask,
			Limit:    realModeLimit,
			Attrib:   codeSegmentAttrib,
		},
		Ds:          dataSegment(),
		Es:          dataSegment(),
		Fs:          dataSegment(),
		Gs:          dataSegment(),
		Ss:          dataSegment(),
		Gdtr:        VmcbSeg{Limit: realModeLimit},
		Idtr:        VmcbSeg{Limit: realModeLimit},
		Ldtr:        VmcbSeg{Limit: realModeLimit, Attrib: ldtrAttrib},
		Tr:          VmcbSeg{Limit: realModeLimit, Attrib: trAttrib},
		Efer:        resetEfer,
		Cr0:         resetCr0,
		Cr4:         resetCr4,
		Dr6:         resetDr6,
		Dr7:         resetDr7,
		Rflags:      resetRflags,
		Rip:         uint64(resetAddr) & ripMask,
		GPat:        resetGPat,
		SevFeatures: p.SevFeatures(),
		Xcr0:        resetXcr0,
		Mxcsr:       resetMxcsr,
		X87Fcw:      resetX87Fcw,
	}
}

func vpContext(gpa uint64, mask uint32, p platform.Platform, resetAddr uint32, vpIndex uint16) *igvm.VpContext {
	return &igvm.VpContext{
		Gpa:               gpa,
		CompatibilityMask: mask,
		VpIndex:           vpIndex,
		State:             NewVmsa(resetAddr, p),
	}
}

// BspVpContext returns the VP context directive of the bootstrap processor, index 0.
func BspVpContext(gpa uint64, mask uint32, p platform.Platform) *igvm.VpContext {
	return vpContext(gpa, mask, p, BspResetAddr, 0)
}

// ApVpContext returns the VP context directive of application processor vpIndex, which starts at
// the firmware's AP reset address.
func ApVpContext(gpa uint64, mask uint32, p platform.Platform, resetAddr uint32, vpIndex uint16) (*igvm.VpContext, error) {
	if vpIndex == 0 {
		return nil, ErrBspIndex
	}
	if err := p.Check(); err != nil {
		return nil, err
	}
	return vpContext(gpa, mask, p, resetAddr, vpIndex), nil
}
