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

// Package ovmf parses OVMF binaries for the values a VMM needs to place and launch them.
package ovmf

import (
	"fmt"

	"github.com/google/ovmf-igvm/ovmf/abi"
	"github.com/google/uuid"
)

// TableEntry is one GUIDed table in the firmware. A table is laid out as its payload followed by
// an abi.FwGUIDEntry, and the entry's size counts both.
type TableEntry struct {
	GUID uuid.UUID
	// DataOffset is the firmware offset of the payload. It is also the top of the preceding table.
	DataOffset int
	DataLength int
}

// Data returns the table payload within firmware.
func (e *TableEntry) Data(firmware []byte) []byte {
	return firmware[e.DataOffset : e.DataOffset+e.DataLength]
}

// ReadTable interprets the bytes of firmware that end at currentOffset as a GUIDed table.
func ReadTable(firmware []byte, currentOffset int) (*TableEntry, error) {
	if currentOffset < abi.SizeofFwGUIDEntry || currentOffset > len(firmware) {
		return nil, fmt.Errorf("%w: table top 0x%x is outside [0x%x, 0x%x]", ErrMalformedTable,
			currentOffset, abi.SizeofFwGUIDEntry, len(firmware))
	}
	entry, err := abi.FwGUIDEntryFromBytes(firmware[currentOffset-abi.SizeofFwGUIDEntry : currentOffset])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTable, err)
	}
	size := int(entry.Size)
	if size > currentOffset {
		return nil, fmt.Errorf("%w: table %v at 0x%x has size 0x%x that reaches before the firmware start",
			ErrMalformedTable, entry.GUID, currentOffset, size)
	}
	// Every table contains its own entry. Smaller sizes would not move the walk backward.
	if size < abi.SizeofFwGUIDEntry {
		return nil, fmt.Errorf("%w: table %v at 0x%x has size 0x%x smaller than its GUID entry",
			ErrMalformedTable, entry.GUID, currentOffset, size)
	}
	return &TableEntry{
		GUID:       entry.GUID,
		DataOffset: currentOffset - size,
		DataLength: size - abi.SizeofFwGUIDEntry,
	}, nil
}

// ReadFooter returns the GUIDed table footer found at its fixed offset from the end of firmware.
// The footer's payload is the sequence of all other tables.
func ReadFooter(firmware []byte) (*TableEntry, error) {
	footerTop := len(firmware) - abi.FwGUIDTableEndOffset
	if footerTop < abi.SizeofFwGUIDEntry {
		return nil, fmt.Errorf("%w: firmware is too small: found size 0x%x < 0x%x", ErrFooterNotFound,
			len(firmware), abi.FwGUIDTableEndOffset+abi.SizeofFwGUIDEntry)
	}
	entry, err := abi.FwGUIDEntryFromBytes(firmware[footerTop-abi.SizeofFwGUIDEntry : footerTop])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTable, err)
	}
	if entry.GUID != uuid.MustParse(abi.FwGUIDTableFooterGUID) {
		return nil, fmt.Errorf("%w: got GUID %v at 0x%x, want %v", ErrFooterNotFound, entry.GUID,
			footerTop-abi.SizeofGUID, abi.FwGUIDTableFooterGUID)
	}
	return ReadTable(firmware, footerTop)
}

// WalkGUIDTable calls visit on every table within the footer, starting from the one closest to
// the footer and moving toward the start of the firmware. The walk stops at the first error.
func WalkGUIDTable(firmware []byte, visit func(*TableEntry) error) error {
	footer, err := ReadFooter(firmware)
	if err != nil {
		return err
	}
	cursor := footer.DataOffset + footer.DataLength
	for cursor > footer.DataOffset {
		entry, err := ReadTable(firmware, cursor)
		if err != nil {
			return err
		}
		if entry.DataOffset < footer.DataOffset {
			return fmt.Errorf("%w: table %v at 0x%x extends below the footer payload start 0x%x",
				ErrMalformedTable, entry.GUID, cursor, footer.DataOffset)
		}
		if err := visit(entry); err != nil {
			return err
		}
		cursor = entry.DataOffset
	}
	return nil
}

// GUIDTableEntries returns every table within the footer in walk order.
func GUIDTableEntries(firmware []byte) ([]*TableEntry, error) {
	var result []*TableEntry
	err := WalkGUIDTable(firmware, func(entry *TableEntry) error {
		result = append(result, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
