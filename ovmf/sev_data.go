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
	"fmt"
	"math"

	"github.com/google/ovmf-igvm/cmd/output"
	"github.com/google/ovmf-igvm/ovmf/abi"
	"github.com/google/uuid"
	"golang.org/x/net/context"
)

// MaxPrevalidatedRegions is the most pre-validated memory regions the SEV metadata may declare.
const MaxPrevalidatedRegions = 8

// PrevalidatedRegion is a guest physical range the firmware expects the VMM to validate before
// launch.
type PrevalidatedRegion struct {
	Base uint32
	Size uint32
}

// FirmwareInfo holds the placement of the firmware and the special pages its SEV metadata
// declares.
type FirmwareInfo struct {
	// Start is the guest physical address of the first firmware byte.
	Start uint32
	Size  uint32

	SecretsPage uint32
	CaaPage     uint32
	CpuidPage   uint32

	// ResetAddr is where application processors start when the VMM cannot emulate INIT-SIPI-SIPI.
	ResetAddr uint32

	Prevalidated []PrevalidatedRegion
}

func (info *FirmwareInfo) addPrevalidated(region PrevalidatedRegion) error {
	if len(info.Prevalidated) >= MaxPrevalidatedRegions {
		return fmt.Errorf("%w: region [0x%x, +0x%x) exceeds the limit of %d", ErrTooManyRegions,
			region.Base, region.Size, MaxPrevalidatedRegions)
	}
	info.Prevalidated = append(info.Prevalidated, region)
	return nil
}

// SevSectionTypeToString returns section type names for section type codes.
func SevSectionTypeToString(kind uint32) string {
	switch kind {
	case abi.SevCpuidSection:
		return "OVMF_SECTION_TYPE_CPUID"
	case abi.SevSecretSection:
		return "OVMF_SECTION_TYPE_SNP_SECRETS"
	case abi.SevUnmeasuredSection:
		return "OVMF_SECTION_TYPE_SNP_SEC_MEM"
	case abi.SevSvsmCaaSection:
		return "OVMF_SECTION_TYPE_SVSM_CAA"
	default:
		return fmt.Sprintf("[unknown SNP metadata section type: 0x%x]", kind)
	}
}

// FirmwareStart returns the guest physical address at which firmware of the given size must be
// placed to end at 4GiB.
func FirmwareStart(size int) uint32 {
	return uint32((uint64(1) << 32) - uint64(size))
}

// The metadata offset table's payload counts back from the end of the firmware to the SEV
// metadata header, which is followed by its sections.
func (info *FirmwareInfo) parseSevMetadata(ctx context.Context, firmware []byte, entry *TableEntry) error {
	payload := entry.Data(firmware)
	metadataOffset, err := abi.MetadataOffsetFromBytes(payload)
	if err != nil {
		return fmt.Errorf("%w: SEV metadata offset payload is %d bytes, want at least %d",
			ErrMalformedTable, len(payload), abi.SizeofMetadataOffset)
	}
	offsetFromEnd := metadataOffset.Offset
	if uint64(offsetFromEnd) > uint64(len(firmware)) {
		return fmt.Errorf("%w: SEV metadata offset 0x%x exceeds firmware size 0x%x",
			ErrMalformedTable, offsetFromEnd, len(firmware))
	}
	start := len(firmware) - int(offsetFromEnd)
	header, err := abi.SevMetadataFromBytes(firmware[start:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedTable, err)
	}
	if header.Signature != abi.SevSnpMetadataSignature {
		output.Warningf(ctx, "SEV metadata at 0x%x has signature 0x%08x, want 0x%08x", start,
			header.Signature, abi.SevSnpMetadataSignature)
	}
	sectionsStart := uint64(start) + abi.SizeofSevMetadata
	sectionsEnd := sectionsStart + uint64(header.Sections)*abi.SizeofSevMetadataSection
	if sectionsEnd > uint64(len(firmware)) {
		return fmt.Errorf("%w: %d SEV metadata sections at 0x%x exceed firmware size 0x%x",
			ErrMalformedTable, header.Sections, sectionsStart, len(firmware))
	}
	for i := uint64(0); i < uint64(header.Sections); i++ {
		offset := sectionsStart + i*abi.SizeofSevMetadataSection
		section, err := abi.SevMetadataSectionFromBytes(firmware[offset:])
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedTable, err)
		}
		switch section.Kind {
		case abi.SevUnmeasuredSection:
			if err := info.addPrevalidated(PrevalidatedRegion{Base: section.Address, Size: section.Length}); err != nil {
				return err
			}
		case abi.SevSecretSection:
			info.SecretsPage = section.Address
		case abi.SevCpuidSection:
			info.CpuidPage = section.Address
		case abi.SevSvsmCaaSection:
			info.CaaPage = section.Address
		default:
			output.Debugf(ctx, "ignoring %s at 0x%x", SevSectionTypeToString(section.Kind), section.Address)
		}
	}
	return nil
}

func (info *FirmwareInfo) parseSevInfoBlock(firmware []byte, entry *TableEntry) error {
	payload := entry.Data(firmware)
	block, err := abi.SevEsResetBlockFromBytes(payload)
	if err != nil {
		return fmt.Errorf("%w: SEV info block payload is %d bytes, want at least %d",
			ErrMalformedTable, len(payload), abi.SizeofSevEsResetBlock)
	}
	info.ResetAddr = block.Addr
	return nil
}

// ParseFirmwareInfo walks the GUIDed tables of firmware and returns the information they carry.
// Tables with unrecognized GUIDs are skipped.
func ParseFirmwareInfo(ctx context.Context, firmware []byte) (*FirmwareInfo, error) {
	if uint64(len(firmware)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: firmware is too large: 0x%x bytes", ErrMalformedTable, len(firmware))
	}
	info := &FirmwareInfo{
		Start: FirmwareStart(len(firmware)),
		Size:  uint32(len(firmware)),
	}
	metadataGUID := uuid.MustParse(abi.SevMetadataOffsetGUID)
	infoBlockGUID := uuid.MustParse(abi.SevEsResetBlockGUID)
	err := WalkGUIDTable(firmware, func(entry *TableEntry) error {
		switch entry.GUID {
		case metadataGUID:
			return info.parseSevMetadata(ctx, firmware, entry)
		case infoBlockGUID:
			return info.parseSevInfoBlock(firmware, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}
