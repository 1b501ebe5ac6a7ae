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

package fakeovmf

import (
	"fmt"
	"testing"

	"github.com/google/ovmf-igvm/ovmf/abi"
	"github.com/google/uuid"
)

const (
	// SevEsAddrVal is the addr value in the SEV info block for testing.
	SevEsAddrVal = 0xffffb000

	// SevSnpValidatedStartAddr is a test-only pre-validated region address.
	SevSnpValidatedStartAddr = 0x1000
	// SevSnpValidatedLength is a test-only pre-validated region length.
	SevSnpValidatedLength = 0x2000
	// SevSnpSecretAddr is a test-only secrets page address.
	SevSnpSecretAddr = 0x800000
	// SevSnpCpuidAddr is a test-only CPUID page address.
	SevSnpCpuidAddr = 0x801000
	// SevSnpCaaAddr is a test-only calling area page address.
	SevSnpCaaAddr = 0x802000
)

// SnpValidatedSection returns a SevMetadataSection of type Unmeasured at the given address and the
// given length.
func SnpValidatedSection(address, length uint32) abi.SevMetadataSection {
	return abi.SevMetadataSection{Address: address, Length: length, Kind: abi.SevUnmeasuredSection}
}

// SnpCpuidSection returns a SevMetadataSection of Cpuid type at the given address.
func SnpCpuidSection(address uint32) abi.SevMetadataSection {
	return abi.SevMetadataSection{Address: address, Length: abi.PageSize, Kind: abi.SevCpuidSection}
}

// SnpSecretSection returns a SevMetadataSection of Secret type at the given address.
func SnpSecretSection(address uint32) abi.SevMetadataSection {
	return abi.SevMetadataSection{Address: address, Length: abi.PageSize, Kind: abi.SevSecretSection}
}

// SnpCaaSection returns a SevMetadataSection of SVSM calling area type at the given address.
func SnpCaaSection(address uint32) abi.SevMetadataSection {
	return abi.SevMetadataSection{Address: address, Length: abi.PageSize, Kind: abi.SevSvsmCaaSection}
}

// DefaultSnpSections returns one pre-validated region, a secrets page, a CPUID page and a calling
// area page at the default test addresses.
func DefaultSnpSections() []abi.SevMetadataSection {
	return []abi.SevMetadataSection{
		SnpValidatedSection(SevSnpValidatedStartAddr, SevSnpValidatedLength),
		SnpSecretSection(SevSnpSecretAddr),
		SnpCpuidSection(SevSnpCpuidAddr),
		SnpCaaSection(SevSnpCaaAddr),
	}
}

// InfoBlockTable returns the SEV info block table carrying the AP reset address.
func InfoBlockTable(resetAddr uint32) Table {
	payload := make([]byte, abi.SizeofSevEsResetBlock)
	if err := (&abi.SevEsResetBlock{Addr: resetAddr}).Put(payload); err != nil {
		panic(err)
	}
	return Table{GUID: uuid.MustParse(abi.SevEsResetBlockGUID), Payload: payload}
}

// MetadataOffsetTable returns the table that points offsetFromEnd bytes back from the end of the
// firmware to the SEV metadata.
func MetadataOffsetTable(offsetFromEnd uint32) Table {
	payload := make([]byte, abi.SizeofMetadataOffset)
	if err := (&abi.MetadataOffset{Offset: offsetFromEnd}).Put(payload); err != nil {
		panic(err)
	}
	return Table{GUID: uuid.MustParse(abi.SevMetadataOffsetGUID), Payload: payload}
}

// SevMetadataSize returns the size of SEV metadata with the given number of sections.
func SevMetadataSize(sections int) int {
	return abi.SizeofSevMetadata + sections*abi.SizeofSevMetadataSection
}

// PutSevMetadata writes an SEV metadata header followed by sections at offset start.
func PutSevMetadata(firmware []byte, start int, sections []abi.SevMetadataSection) error {
	size := SevMetadataSize(len(sections))
	if start < 0 || start+size > len(firmware) {
		return fmt.Errorf("SEV metadata of size %d does not fit at 0x%x in firmware of size 0x%x",
			size, start, len(firmware))
	}
	header := &abi.SevMetadata{
		Signature: abi.SevSnpMetadataSignature,
		Length:    uint32(size),
		Version:   1,
		Sections:  uint32(len(sections)),
	}
	if err := header.Put(firmware[start:]); err != nil {
		return err
	}
	offset := start + abi.SizeofSevMetadata
	for i := range sections {
		if err := sections[i].Put(firmware[offset:]); err != nil {
			return err
		}
		offset += abi.SizeofSevMetadataSection
	}
	return nil
}

// InitializeSevGUIDTable places SEV metadata with the given sections at the start of firmware and
// a GUIDed table holding the metadata offset table and the info block at its end.
func InitializeSevGUIDTable(firmware []byte, resetAddr uint32, sections []abi.SevMetadataSection) error {
	if err := PutSevMetadata(firmware, 0, sections); err != nil {
		return err
	}
	_, err := InitializeGUIDTable(firmware, []Table{
		MetadataOffsetTable(uint32(len(firmware))),
		InfoBlockTable(resetAddr),
	})
	return err
}

// SevExample returns a firmware of the given size with default SEV metadata and info block.
func SevExample(t testing.TB, size int) []byte {
	t.Helper()
	return SevExampleWith(t, size, DefaultSnpSections())
}

// SevExampleWith returns a firmware of the given size with SEV metadata holding sections.
func SevExampleWith(t testing.TB, size int, sections []abi.SevMetadataSection) []byte {
	t.Helper()
	firmware := make([]byte, size)
	for i := range firmware {
		firmware[i] = byte(i / abi.PageSize)
	}
	if err := InitializeSevGUIDTable(firmware, SevEsAddrVal, sections); err != nil {
		t.Fatalf("InitializeSevGUIDTable() = %v", err)
	}
	return firmware
}
