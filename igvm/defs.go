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

// Package igvm builds and serializes Independent Guest Virtual Machine (IGVM) files. Values follow
// the IGVM format definitions published at https://github.com/microsoft/igvm.
package igvm

import "fmt"

// Revision is the IGVM file format version.
type Revision uint32

const (
	// RevisionV1 is the only supported IGVM format version.
	RevisionV1 Revision = 1
)

const (
	// Magic is "IGVM" read as a little-endian uint32.
	Magic = 0x4D564749

	// SizeofFixedHeader is the ABI size of the revision 1 fixed header.
	SizeofFixedHeader = 24
	// SizeofVariableHeader is the ABI size of the type and length that prefix every variable header.
	SizeofVariableHeader = 8
	// VariableHeaderAlignment is the alignment of each variable header in the file.
	VariableHeaderAlignment = 8

	// PageSize4K is the size of a 4 KiB guest page.
	PageSize4K = 0x1000

	// MaxPlatforms is the number of bits in a compatibility mask.
	MaxPlatforms = 32
)

// HeaderType identifies the kind of a variable header.
type HeaderType uint32

// Variable header types. Platform headers are in 0x1-0x100, initialization headers in
// 0x101-0x200 and directive headers in 0x301-0x400.
const (
	HeaderTypeSupportedPlatform HeaderType = 0x001
	HeaderTypeGuestPolicy       HeaderType = 0x101
	HeaderTypePageData          HeaderType = 0x302
	HeaderTypeVpContext         HeaderType = 0x304
	HeaderTypeRequiredMemory    HeaderType = 0x305
)

func (t HeaderType) String() string {
	switch t {
	case HeaderTypeSupportedPlatform:
		return "IGVM_VHT_SUPPORTED_PLATFORM"
	case HeaderTypeGuestPolicy:
		return "IGVM_VHT_GUEST_POLICY"
	case HeaderTypePageData:
		return "IGVM_VHT_PAGE_DATA"
	case HeaderTypeVpContext:
		return "IGVM_VHT_VP_CONTEXT"
	case HeaderTypeRequiredMemory:
		return "IGVM_VHT_REQUIRED_MEMORY"
	default:
		return fmt.Sprintf("[unknown IGVM header type 0x%x]", uint32(t))
	}
}

// PlatformType is the isolation architecture a SupportedPlatform header declares.
type PlatformType uint8

// Platform types.
const (
	PlatformTypeNative       PlatformType = 0x00
	PlatformTypeVsmIsolation PlatformType = 0x01
	PlatformTypeSevSnp       PlatformType = 0x02
	PlatformTypeTdx          PlatformType = 0x03
	PlatformTypeSev          PlatformType = 0x04
	PlatformTypeSevEs        PlatformType = 0x05
)

func (p PlatformType) String() string {
	switch p {
	case PlatformTypeNative:
		return "NATIVE"
	case PlatformTypeVsmIsolation:
		return "VSM_ISOLATION"
	case PlatformTypeSevSnp:
		return "SEV_SNP"
	case PlatformTypeTdx:
		return "TDX"
	case PlatformTypeSev:
		return "SEV"
	case PlatformTypeSevEs:
		return "SEV_ES"
	default:
		return fmt.Sprintf("[unknown platform type 0x%x]", uint8(p))
	}
}

// PageDataType tells the loader how to treat a page of a PageData directive.
type PageDataType uint16

// Page data types.
const (
	PageDataTypeNormal    PageDataType = 0
	PageDataTypeSecrets   PageDataType = 1
	PageDataTypeCpuidData PageDataType = 2
	PageDataTypeCpuidXf   PageDataType = 3
)

func (t PageDataType) String() string {
	switch t {
	case PageDataTypeNormal:
		return "NORMAL"
	case PageDataTypeSecrets:
		return "SECRETS"
	case PageDataTypeCpuidData:
		return "CPUID_DATA"
	case PageDataTypeCpuidXf:
		return "CPUID_XF"
	default:
		return fmt.Sprintf("[unknown page data type 0x%x]", uint16(t))
	}
}

// PageDataFlags is a bitset of PageData modifiers.
type PageDataFlags uint32

// Page data flags.
const (
	PageDataFlagIs2MBPage  PageDataFlags = 1 << 0
	PageDataFlagUnmeasured PageDataFlags = 1 << 1
)

func alignUp(n, alignment int) int {
	return (n + alignment - 1) &^ (alignment - 1)
}
