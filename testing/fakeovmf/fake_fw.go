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

// Package fakeovmf generates synthetic OVMF binaries for tests.
package fakeovmf

import (
	"fmt"
	"math"

	"github.com/google/ovmf-igvm/ovmf/abi"
	"github.com/google/uuid"
)

// Table is a GUIDed table to place in a fake firmware.
type Table struct {
	GUID    uuid.UUID
	Payload []byte
}

// Size returns the table's size as recorded in its GUID entry.
func (t *Table) Size() int {
	return len(t.Payload) + abi.SizeofFwGUIDEntry
}

// put writes the table so that it ends at top and returns the table's start offset.
func (t *Table) put(firmware []byte, top int, size uint16) (int, error) {
	start := top - t.Size()
	if start < 0 {
		return 0, fmt.Errorf("table %v of size %d does not fit below 0x%x", t.GUID, t.Size(), top)
	}
	copy(firmware[start:], t.Payload)
	entry := &abi.FwGUIDEntry{Size: size, GUID: t.GUID}
	if err := entry.Put(firmware[top-abi.SizeofFwGUIDEntry : top]); err != nil {
		return 0, err
	}
	return start, nil
}

// FooterTop returns the offset at which the GUIDed table footer ends in a firmware of the given
// size.
func FooterTop(size int) int {
	return size - abi.FwGUIDTableEndOffset
}

// InitializeGUIDTable writes the GUIDed table footer at its fixed offset from the end of firmware
// and places tables below it. tables[0] is placed directly below the footer entry, tables[1] below
// tables[0], and so on. Returns the offset of the lowest byte the footer table covers.
func InitializeGUIDTable(firmware []byte, tables []Table) (int, error) {
	footerTop := FooterTop(len(firmware))
	if footerTop < abi.SizeofFwGUIDEntry {
		return 0, fmt.Errorf("firmware size 0x%x is too small for the footer block", len(firmware))
	}
	footerSize := abi.SizeofFwGUIDEntry
	for i := range tables {
		footerSize += tables[i].Size()
	}
	if footerSize > math.MaxUint16 {
		return 0, fmt.Errorf("GUIDed table size 0x%x does not fit in 16 bits", footerSize)
	}
	top := footerTop - abi.SizeofFwGUIDEntry
	for i := range tables {
		var err error
		if top, err = tables[i].put(firmware, top, uint16(tables[i].Size())); err != nil {
			return 0, err
		}
	}
	footer := &Table{GUID: uuid.MustParse(abi.FwGUIDTableFooterGUID)}
	if _, err := footer.put(firmware, footerTop, uint16(footerSize)); err != nil {
		return 0, err
	}
	return footerTop - footerSize, nil
}

// MutateTableSize overwrites the size field of the GUID entry that ends at top.
func MutateTableSize(firmware []byte, top int, size uint16) error {
	entry, err := abi.FwGUIDEntryFromBytes(firmware[top-abi.SizeofFwGUIDEntry : top])
	if err != nil {
		return err
	}
	entry.Size = size
	return entry.Put(firmware[top-abi.SizeofFwGUIDEntry : top])
}
