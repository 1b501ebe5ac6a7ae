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

// Package sev builds the initial SEV-ES save area (VMSA) of guest virtual processors.
package sev

import (
	"encoding/binary"
	"fmt"
)

// Layout follows the VMCB save area of AMD APM Vol 2 Table B-4 as extended by SEV-ES.

const (
	// SizeofVmcbSeg is the ABI size of an AMD-V VMCB segment struct.
	SizeofVmcbSeg = 16
	// SizeofVmsa is the ABI size of the SEV-ES VMCB secure save area.
	SizeofVmsa = 0x670
	// VmsaPageSize is the size of the guest page that holds a VMSA.
	VmsaPageSize = 0x1000
)

// VmcbSeg is a segment register in the VMCB save area.
type VmcbSeg struct {
	Selector uint16
	Attrib   uint16
	Limit    uint32
	Base     uint64
}

// Put writes s in its ABI format to the beginning of data.
func (s *VmcbSeg) Put(data []byte) error {
	if len(data) < SizeofVmcbSeg {
		return fmt.Errorf("data too small for VmcbSeg: %d < %d", len(data), SizeofVmcbSeg)
	}
	binary.LittleEndian.PutUint16(data[0:2], s.Selector)
	binary.LittleEndian.PutUint16(data[2:4], s.Attrib)
	binary.LittleEndian.PutUint32(data[4:8], s.Limit)
	binary.LittleEndian.PutUint64(data[8:SizeofVmcbSeg], s.Base)
	return nil
}

// VmcbSegFromBytes interprets the start of data as a VmcbSeg.
func VmcbSegFromBytes(data []byte) (*VmcbSeg, error) {
	if len(data) < SizeofVmcbSeg {
		return nil, fmt.Errorf("data too small for VmcbSeg: %d < %d", len(data), SizeofVmcbSeg)
	}
	return &VmcbSeg{
		Selector: binary.LittleEndian.Uint16(data[0:2]),
		Attrib:   binary.LittleEndian.Uint16(data[2:4]),
		Limit:    binary.LittleEndian.Uint32(data[4:8]),
		Base:     binary.LittleEndian.Uint64(data[8:SizeofVmcbSeg]),
	}, nil
}

// Vmsa is the subset of the VMCB save area that a virtual processor's launch state sets. Fields
// not represented here are zero.
type Vmsa struct {
	Es   VmcbSeg
	Cs   VmcbSeg
	Ss   VmcbSeg
	Ds   VmcbSeg
	Fs   VmcbSeg
	Gs   VmcbSeg
	Gdtr VmcbSeg
	Ldtr VmcbSeg
	Idtr VmcbSeg
	Tr   VmcbSeg

	Cpl    uint8
	Efer   uint64
	Xss    uint64
	Cr4    uint64
	Cr3    uint64
	Cr0    uint64
	Dr7    uint64
	Dr6    uint64
	Rflags uint64
	Rip    uint64
	Rsp    uint64
	Rax    uint64
	GPat   uint64
	Rdx    uint64

	SevFeatures uint64
	Xcr0        uint64
	Mxcsr       uint32
	X87Fcw      uint16
}

type segmentSlot struct {
	name   string
	seg    *VmcbSeg
	offset int
}

func (v *Vmsa) segments() []segmentSlot {
	return []segmentSlot{
		{"ES", &v.Es, 0x00},
		{"CS", &v.Cs, 0x10},
		{"SS", &v.Ss, 0x20},
		{"DS", &v.Ds, 0x30},
		{"FS", &v.Fs, 0x40},
		{"GS", &v.Gs, 0x50},
		{"GDTR", &v.Gdtr, 0x60},
		{"LDTR", &v.Ldtr, 0x70},
		{"IDTR", &v.Idtr, 0x80},
		{"TR", &v.Tr, 0x90},
	}
}

// Put writes the VMCB save area (VMSA) in its ABI format to data. Bytes of data that no field
// covers are zeroed.
func (v *Vmsa) Put(data []byte) error {
	if len(data) < SizeofVmsa {
		return fmt.Errorf("data too small for VMSA: %d < %d", len(data), SizeofVmsa)
	}
	for i := 0; i < SizeofVmsa; i++ {
		data[i] = 0
	}
	for _, slot := range v.segments() {
		if err := slot.seg.Put(data[slot.offset : slot.offset+SizeofVmcbSeg]); err != nil {
			return fmt.Errorf("could not write VMSA.%s: %v", slot.name, err)
		}
	}
	data[0xCB] = v.Cpl
	binary.LittleEndian.PutUint64(data[0xD0:0xD8], v.Efer)
	binary.LittleEndian.PutUint64(data[0x140:0x148], v.Xss)
	binary.LittleEndian.PutUint64(data[0x148:0x150], v.Cr4)
	binary.LittleEndian.PutUint64(data[0x150:0x158], v.Cr3)
	binary.LittleEndian.PutUint64(data[0x158:0x160], v.Cr0)
	binary.LittleEndian.PutUint64(data[0x160:0x168], v.Dr7)
	binary.LittleEndian.PutUint64(data[0x168:0x170], v.Dr6)
	binary.LittleEndian.PutUint64(data[0x170:0x178], v.Rflags)
	binary.LittleEndian.PutUint64(data[0x178:0x180], v.Rip)
	binary.LittleEndian.PutUint64(data[0x1D8:0x1E0], v.Rsp)
	binary.LittleEndian.PutUint64(data[0x1F8:0x200], v.Rax)
	binary.LittleEndian.PutUint64(data[0x268:0x270], v.GPat)
	binary.LittleEndian.PutUint64(data[0x310:0x318], v.Rdx)
	binary.LittleEndian.PutUint64(data[0x3B0:0x3B8], v.SevFeatures)
	binary.LittleEndian.PutUint64(data[0x3E8:0x3F0], v.Xcr0)
	binary.LittleEndian.PutUint32(data[0x408:0x40C], v.Mxcsr)
	binary.LittleEndian.PutUint16(data[0x410:0x412], v.X87Fcw)
	return nil
}

// PageBytes returns the VMSA in its ABI format, zero-padded to a full page.
func (v *Vmsa) PageBytes() ([]byte, error) {
	result := make([]byte, VmsaPageSize)
	if err := v.Put(result); err != nil {
		return nil, err
	}
	return result, nil
}
