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

// Package abi defines binary interface conversion functions for the OVMF binary format.
package abi

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

const (
	// SizeofFwGUIDEntry is the ABI size of the FwGUIDEntry type. It is also the smallest possible
	// size of a GUIDed table, since a table's size includes its own entry.
	SizeofFwGUIDEntry = 18

	// SizeofGUID is the ABI size of an EFI_GUID.
	SizeofGUID = 16

	// FwGUIDTableFooterGUID is the GUIDed Table Footer GUID defined at upstream edk2
	// https://github.com/tianocore/edk2/blob/01726b6d23d4c8a870dbd5b96c0b9e3caf38ef3c/OvmfPkg/ResetVector/Ia16/ResetVectorVtf0.asm.
	FwGUIDTableFooterGUID = "96b582de-1fb2-45f7-baea-a366c55a082d"

	// FwGUIDTableEndOffset is the offset from the end of the Firmware ROM to the end of the GUIDed
	// Table structure.
	FwGUIDTableEndOffset = 0x20

	// PageSize is the default size of a page used in OVMF SEV sections
	PageSize = 4096

	// SevEsResetBlockGUID is the SEV-ES Reset Block GUID defined at upstream edk2
	// https://github.com/tianocore/edk2/blob/01726b6d23d4c8a870dbd5b96c0b9e3caf38ef3c/OvmfPkg/ResetVector/Ia16/ResetVectorVtf0.asm.
	// The block is also called the SEV info block. Its first 4 bytes are the AP reset address.
	SevEsResetBlockGUID = "00f771de-1a7e-4fcb-890e-68c77e2fb44e"

	// SevMetadataOffsetGUID is the SEV OVMF Metadata Offset GUID. In the firmware the GUID is
	// "dc886566-984a-4798-A75e-5585a7bf67cc" (notice the single capital letter).
	// This caused errors when using it in the same manner in the code as the GUID
	// tools will translate it to lowercase.
	SevMetadataOffsetGUID = "dc886566-984a-4798-a75e-5585a7bf67cc"

	// SevSnpMetadataSignature is "A" "S" "E" "V". It will get read as "VESA", which in hex maps to
	// 0x56 0x45 0x53 0x41.
	SevSnpMetadataSignature = 0x56455341

	// SevUnmeasuredSection is the OVMF value of a pre-validated memory section. Can be found here:
	// https://github.com/tianocore/edk2/blob/master/OvmfPkg/ResetVector/X64/OvmfSevMetadata.asm
	SevUnmeasuredSection = uint32(0x1)
	// SevSecretSection is the OVMF value of the SEV secret section. Can be found here:
	// https://github.com/tianocore/edk2/blob/master/OvmfPkg/ResetVector/X64/OvmfSevMetadata.asm
	SevSecretSection = uint32(0x2)
	// SevCpuidSection is the OVMF value of the SEV CPUID section. Can be found here:
	// https://github.com/tianocore/edk2/blob/master/OvmfPkg/ResetVector/X64/OvmfSevMetadata.asm
	SevCpuidSection = uint32(0x3)
	// SevSvsmCaaSection is the OVMF value of the SVSM calling area section. Can be found here:
	// https://github.com/coconut-svsm/edk2/blob/svsm/OvmfPkg/ResetVector/X64/OvmfSevMetadata.asm
	SevSvsmCaaSection = uint32(0x4)

	// SizeofSevEsResetBlock is the ABI size of the SEV info block table's payload.
	SizeofSevEsResetBlock = 4
	// SizeofMetadataOffset is the ABI size of the SEV metadata offset table's payload.
	SizeofMetadataOffset = 4
	// SizeofSevMetadata is the ABI size of the packed struct of a SevMetadata.
	SizeofSevMetadata = 16
	// SizeofSevMetadataSection is the ABI size of the packed struct of a SevMetadataSection.
	SizeofSevMetadataSection = 12
)

// FwGUIDEntry is an ABI type found in OVMF binaries for describing a run of data in the binary as
// associated with a given GUID. The entry sits at the end of the run it describes, and Size
// counts the run's payload and the entry itself.
type FwGUIDEntry struct {
	Size uint16
	GUID uuid.UUID
}

// EFIGUID is the mixed-endian representation of a GUID in OVMF binaries.
type EFIGUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]uint8
}

// parseEFIGUID parses an EFI_GUID in little endian into its fields.
func parseEFIGUID(data []byte) (EFIGUID, error) {
	if len(data) != SizeofGUID {
		return EFIGUID{}, fmt.Errorf("incorrect data size for EFI GUID: %d, want %d", len(data), SizeofGUID)
	}
	result := EFIGUID{
		Data1: binary.LittleEndian.Uint32(data[0:4]),
		Data2: binary.LittleEndian.Uint16(data[4:6]),
		Data3: binary.LittleEndian.Uint16(data[6:8]),
	}
	copy(result.Data4[:], data[8:16])
	return result, nil
}

func convertEFIGUID(guid EFIGUID) uuid.UUID {
	var result uuid.UUID
	binary.BigEndian.PutUint32(result[0:4], guid.Data1)
	binary.BigEndian.PutUint16(result[4:6], guid.Data2)
	binary.BigEndian.PutUint16(result[6:8], guid.Data3)
	copy(result[8:16], guid.Data4[:])
	return result
}

// FromEFIGUID parses an EFI_GUID in little endian format into a uuid.UUID.
func FromEFIGUID(efiguid []byte) (uuid.UUID, error) {
	guid, err := parseEFIGUID(efiguid)
	if err != nil {
		return uuid.UUID{}, err
	}
	return convertEFIGUID(guid), nil
}

// PutUUID writes a uuid.UUID to binary in EFI_GUID little endian format.
func PutUUID(data []byte, guid uuid.UUID) error {
	if len(data) < SizeofGUID {
		return fmt.Errorf("data too small for GUID: %d < %d", len(data), SizeofGUID)
	}
	binary.LittleEndian.PutUint32(data[0:4], binary.BigEndian.Uint32(guid[0:4]))
	binary.LittleEndian.PutUint16(data[4:6], binary.BigEndian.Uint16(guid[4:6]))
	binary.LittleEndian.PutUint16(data[6:8], binary.BigEndian.Uint16(guid[6:8]))
	copy(data[8:16], guid[8:16])
	return nil
}

// Put writes f in its ABI format to the beginning of data.
func (f *FwGUIDEntry) Put(data []byte) error {
	if len(data) < SizeofFwGUIDEntry {
		return fmt.Errorf("data too small for FwGUIDEntry: %d < %d", len(data), SizeofFwGUIDEntry)
	}
	binary.LittleEndian.PutUint16(data[0:2], f.Size)
	return PutUUID(data[2:SizeofFwGUIDEntry], f.GUID)
}

// FwGUIDEntryFromBytes interprets the first SizeofFwGUIDEntry bytes of data as a packed
// FwGUIDEntry.
func FwGUIDEntryFromBytes(data []byte) (*FwGUIDEntry, error) {
	if len(data) < SizeofFwGUIDEntry {
		return nil, fmt.Errorf("data too small for FwGUIDEntry: %d < %d", len(data), SizeofFwGUIDEntry)
	}
	guid, err := FromEFIGUID(data[2:SizeofFwGUIDEntry])
	if err != nil {
		return nil, err
	}
	return &FwGUIDEntry{Size: binary.LittleEndian.Uint16(data[0:2]), GUID: guid}, nil
}

// SevMetadataSection is an ABI-specific type for OVMF binaries. A single section containing
// information about a page that the VMM will have to set for the guest.
type SevMetadataSection struct {
	Address uint32
	Length  uint32
	Kind    uint32
}

// Put writes s in its ABI format to the beginning of data.
func (s *SevMetadataSection) Put(data []byte) error {
	if len(data) < SizeofSevMetadataSection {
		return fmt.Errorf("data too small for SEV metadata section: %d < %d", len(data), SizeofSevMetadataSection)
	}
	binary.LittleEndian.PutUint32(data[0:4], s.Address)
	binary.LittleEndian.PutUint32(data[4:8], s.Length)
	binary.LittleEndian.PutUint32(data[8:12], s.Kind)
	return nil
}

// SevMetadataSectionFromBytes returns the structured type interpretation of the ABI format of the
// same type.
func SevMetadataSectionFromBytes(data []byte) (*SevMetadataSection, error) {
	if len(data) < SizeofSevMetadataSection {
		return nil, fmt.Errorf("data too small for SEV metadata section: %d < %d", len(data), SizeofSevMetadataSection)
	}
	return &SevMetadataSection{
		Address: binary.LittleEndian.Uint32(data[0:4]),
		Length:  binary.LittleEndian.Uint32(data[4:8]),
		Kind:    binary.LittleEndian.Uint32(data[8:12]),
	}, nil
}

// SevMetadata is the ABI type for SEV-SNP enabled UEFI firmware's GUID table information. The
// table should include the GUID table containing the offset to the SNP metadata location. The
// firmware expects the VMM to extract the metadata and initialize the different types of memory
// ranges (pre-validated range, cpuid page, secret page and calling area) as specified.
type SevMetadata struct {
	Signature uint32
	Length    uint32
	Version   uint32
	Sections  uint32
}

// Put writes s in its ABI format to the beginning of data.
func (s *SevMetadata) Put(data []byte) error {
	if len(data) < SizeofSevMetadata {
		return fmt.Errorf("data too small for SEV metadata: %d < %d", len(data), SizeofSevMetadata)
	}
	binary.LittleEndian.PutUint32(data[0:4], s.Signature)
	binary.LittleEndian.PutUint32(data[4:8], s.Length)
	binary.LittleEndian.PutUint32(data[8:12], s.Version)
	binary.LittleEndian.PutUint32(data[12:16], s.Sections)
	return nil
}

// SevMetadataFromBytes interprets the start of data as SevMetadata.
func SevMetadataFromBytes(data []byte) (*SevMetadata, error) {
	if len(data) < SizeofSevMetadata {
		return nil, fmt.Errorf("data too small for SEV metadata: %d < %d", len(data), SizeofSevMetadata)
	}
	return &SevMetadata{
		Signature: binary.LittleEndian.Uint32(data[0:4]),
		Length:    binary.LittleEndian.Uint32(data[4:8]),
		Version:   binary.LittleEndian.Uint32(data[8:12]),
		Sections:  binary.LittleEndian.Uint32(data[12:16]),
	}, nil
}

// MetadataOffset is the payload of the GUIDed table pointing to the SNP metadata. The offset is
// counted back from the end of the firmware.
type MetadataOffset struct {
	Offset uint32
}

// Put writes s in its ABI format to the beginning of data.
func (s *MetadataOffset) Put(data []byte) error {
	if len(data) < SizeofMetadataOffset {
		return fmt.Errorf("data too small for SEV metadata offset: %d < %d", len(data), SizeofMetadataOffset)
	}
	binary.LittleEndian.PutUint32(data[0:4], s.Offset)
	return nil
}

// MetadataOffsetFromBytes interprets the start of a GUIDed table payload as a MetadataOffset.
func MetadataOffsetFromBytes(data []byte) (*MetadataOffset, error) {
	if len(data) < SizeofMetadataOffset {
		return nil, fmt.Errorf("data too small for SEV metadata offset: %d < %d", len(data), SizeofMetadataOffset)
	}
	return &MetadataOffset{Offset: binary.LittleEndian.Uint32(data[0:4])}, nil
}

// SevEsResetBlock is the payload of the SEV info block table. Application processors start at Addr
// when SEV-ES prevents the VMM from emulating INIT-SIPI-SIPI.
type SevEsResetBlock struct {
	Addr uint32
}

// Put writes s in its ABI format to the beginning of data.
func (s *SevEsResetBlock) Put(data []byte) error {
	if len(data) < SizeofSevEsResetBlock {
		return fmt.Errorf("data too small for SEV-ES reset block: %d < %d", len(data), SizeofSevEsResetBlock)
	}
	binary.LittleEndian.PutUint32(data[0:4], s.Addr)
	return nil
}

// SevEsResetBlockFromBytes interprets the start of a GUIDed table payload as a SevEsResetBlock.
func SevEsResetBlockFromBytes(data []byte) (*SevEsResetBlock, error) {
	if len(data) < SizeofSevEsResetBlock {
		return nil, fmt.Errorf("data too small for SEV-ES reset block: %d < %d", len(data), SizeofSevEsResetBlock)
	}
	return &SevEsResetBlock{Addr: binary.LittleEndian.Uint32(data[0:4])}, nil
}
