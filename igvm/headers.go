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
	"encoding/binary"
	"fmt"
)

// ABI sizes of the variable header payloads.
const (
	SizeofSupportedPlatform = 16
	SizeofGuestPolicy       = 16
	SizeofPageData          = 24
	SizeofVpContext         = 20
	SizeofRequiredMemory    = 24
)

// Header is a variable header of an IGVM file.
type Header interface {
	// Type returns the variable header type.
	Type() HeaderType
	// Mask returns the compatibility mask of the header.
	Mask() uint32

	payloadSize() int
	// fileData returns the bytes the header references in the file data section, or nil.
	fileData() ([]byte, error)
	putPayload(out []byte, fileOffset uint32)
	validate() error
}

// PlatformHeader is a header in the platform range. It declares a platform the file supports.
type PlatformHeader interface {
	Header
	isPlatformHeader()
}

// InitializationHeader is a header in the initialization range.
type InitializationHeader interface {
	Header
	isInitializationHeader()
}

// Directive is a header in the directive range. Directives are applied by the loader in order.
type Directive interface {
	Header
	isDirective()
}

// SupportedPlatform declares one isolation platform and the compatibility mask bit the rest of
// the file uses to refer to it.
type SupportedPlatform struct {
	CompatibilityMask uint32
	HighestVtl        uint8
	PlatformType      PlatformType
	PlatformVersion   uint16
	SharedGpaBoundary uint64
}

// Type returns HeaderTypeSupportedPlatform.
func (*SupportedPlatform) Type() HeaderType { return HeaderTypeSupportedPlatform }

// Mask returns the compatibility mask of the header.
func (h *SupportedPlatform) Mask() uint32 { return h.CompatibilityMask }

func (*SupportedPlatform) isPlatformHeader()         {}
func (*SupportedPlatform) payloadSize() int          { return SizeofSupportedPlatform }
func (*SupportedPlatform) fileData() ([]byte, error) { return nil, nil }
func (*SupportedPlatform) validate() error           { return nil }

func (h *SupportedPlatform) putPayload(out []byte, _ uint32) {
	binary.LittleEndian.PutUint32(out[0:4], h.CompatibilityMask)
	out[4] = h.HighestVtl
	out[5] = uint8(h.PlatformType)
	binary.LittleEndian.PutUint16(out[6:8], h.PlatformVersion)
	binary.LittleEndian.PutUint64(out[8:16], h.SharedGpaBoundary)
}

// GuestPolicy is the launch policy the loader hands to the platform for the guest.
type GuestPolicy struct {
	Policy            uint64
	CompatibilityMask uint32
}

// Type returns HeaderTypeGuestPolicy.
func (*GuestPolicy) Type() HeaderType { return HeaderTypeGuestPolicy }

// Mask returns the compatibility mask of the header.
func (h *GuestPolicy) Mask() uint32 { return h.CompatibilityMask }

func (*GuestPolicy) isInitializationHeader()   {}
func (*GuestPolicy) payloadSize() int          { return SizeofGuestPolicy }
func (*GuestPolicy) fileData() ([]byte, error) { return nil, nil }
func (*GuestPolicy) validate() error           { return nil }

func (h *GuestPolicy) putPayload(out []byte, _ uint32) {
	binary.LittleEndian.PutUint64(out[0:8], h.Policy)
	binary.LittleEndian.PutUint32(out[8:12], h.CompatibilityMask)
	binary.LittleEndian.PutUint32(out[12:16], 0)
}

// PageData places a page at a guest physical address. A PageData without Data declares the page
// without giving it contents; the loader supplies zeros or the platform-defined contents for
// DataType.
type PageData struct {
	Gpa               uint64
	CompatibilityMask uint32
	Flags             PageDataFlags
	DataType          PageDataType
	Data              []byte
}

// Type returns HeaderTypePageData.
func (*PageData) Type() HeaderType { return HeaderTypePageData }

// Mask returns the compatibility mask of the header.
func (h *PageData) Mask() uint32 { return h.CompatibilityMask }

func (*PageData) isDirective()     {}
func (*PageData) payloadSize() int { return SizeofPageData }

func (h *PageData) pageSize() int {
	if h.Flags&PageDataFlagIs2MBPage != 0 {
		return 512 * PageSize4K
	}
	return PageSize4K
}

func (h *PageData) fileData() ([]byte, error) {
	if len(h.Data) == 0 {
		return nil, nil
	}
	page := make([]byte, h.pageSize())
	copy(page, h.Data)
	return page, nil
}

func (h *PageData) validate() error {
	if h.Gpa%uint64(h.pageSize()) != 0 {
		return fmt.Errorf("page data GPA 0x%x is not aligned to 0x%x", h.Gpa, h.pageSize())
	}
	if len(h.Data) > h.pageSize() {
		return fmt.Errorf("page data at GPA 0x%x has %d bytes, more than the page size 0x%x",
			h.Gpa, len(h.Data), h.pageSize())
	}
	return nil
}

func (h *PageData) putPayload(out []byte, fileOffset uint32) {
	binary.LittleEndian.PutUint64(out[0:8], h.Gpa)
	binary.LittleEndian.PutUint32(out[8:12], h.CompatibilityMask)
	binary.LittleEndian.PutUint32(out[12:16], fileOffset)
	binary.LittleEndian.PutUint32(out[16:20], uint32(h.Flags))
	binary.LittleEndian.PutUint16(out[20:22], uint16(h.DataType))
	binary.LittleEndian.PutUint16(out[22:24], 0)
}

// VpState is the initial register state of a virtual processor in the platform's page format.
type VpState interface {
	PageBytes() ([]byte, error)
}

// VpContext installs the initial state of virtual processor VpIndex. The state page is placed at
// Gpa.
type VpContext struct {
	Gpa               uint64
	CompatibilityMask uint32
	VpIndex           uint16
	State             VpState
}

// Type returns HeaderTypeVpContext.
func (*VpContext) Type() HeaderType { return HeaderTypeVpContext }

// Mask returns the compatibility mask of the header.
func (h *VpContext) Mask() uint32 { return h.CompatibilityMask }

func (*VpContext) isDirective()     {}
func (*VpContext) payloadSize() int { return SizeofVpContext }

func (h *VpContext) fileData() ([]byte, error) {
	data, err := h.State.PageBytes()
	if err != nil {
		return nil, fmt.Errorf("could not serialize state of VP %d: %v", h.VpIndex, err)
	}
	if len(data) > PageSize4K {
		return nil, fmt.Errorf("state of VP %d is %d bytes, more than a page", h.VpIndex, len(data))
	}
	page := make([]byte, PageSize4K)
	copy(page, data)
	return page, nil
}

func (h *VpContext) validate() error {
	if h.State == nil {
		return fmt.Errorf("VP %d context has no state", h.VpIndex)
	}
	if h.Gpa%PageSize4K != 0 {
		return fmt.Errorf("VP %d context GPA 0x%x is not page aligned", h.VpIndex, h.Gpa)
	}
	return nil
}

func (h *VpContext) putPayload(out []byte, fileOffset uint32) {
	binary.LittleEndian.PutUint64(out[0:8], h.Gpa)
	binary.LittleEndian.PutUint32(out[8:12], h.CompatibilityMask)
	binary.LittleEndian.PutUint32(out[12:16], fileOffset)
	binary.LittleEndian.PutUint16(out[16:18], h.VpIndex)
	binary.LittleEndian.PutUint16(out[18:20], 0)
}

// RequiredMemory asks the loader to back a guest physical range with memory before launch.
type RequiredMemory struct {
	Gpa               uint64
	CompatibilityMask uint32
	NumberOfBytes     uint32
	Flags             uint32
}

// Type returns HeaderTypeRequiredMemory.
func (*RequiredMemory) Type() HeaderType { return HeaderTypeRequiredMemory }

// Mask returns the compatibility mask of the header.
func (h *RequiredMemory) Mask() uint32 { return h.CompatibilityMask }

func (*RequiredMemory) isDirective()              {}
func (*RequiredMemory) payloadSize() int          { return SizeofRequiredMemory }
func (*RequiredMemory) fileData() ([]byte, error) { return nil, nil }

func (h *RequiredMemory) validate() error {
	if h.Gpa%PageSize4K != 0 || h.NumberOfBytes%PageSize4K != 0 {
		return fmt.Errorf("required memory [0x%x, +0x%x) is not page aligned", h.Gpa, h.NumberOfBytes)
	}
	return nil
}

func (h *RequiredMemory) putPayload(out []byte, _ uint32) {
	binary.LittleEndian.PutUint64(out[0:8], h.Gpa)
	binary.LittleEndian.PutUint32(out[8:12], h.CompatibilityMask)
	binary.LittleEndian.PutUint32(out[12:16], h.NumberOfBytes)
	binary.LittleEndian.PutUint32(out[16:20], h.Flags)
	binary.LittleEndian.PutUint32(out[20:24], 0)
}
