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
	"bytes"

	"github.com/google/ovmf-igvm/igvm"
	"github.com/google/ovmf-igvm/ovmf/abi"
	"github.com/google/ovmf-igvm/platform"
	"golang.org/x/net/context"
)

// Firmware is a parsed OVMF binary and the directives that place it in guest memory.
type Firmware struct {
	Info       *FirmwareInfo
	Directives []igvm.Directive
}

func emptyPage(gpa uint64, mask uint32, dataType igvm.PageDataType) *igvm.PageData {
	return &igvm.PageData{Gpa: gpa, CompatibilityMask: mask, DataType: dataType}
}

// FirmwareDirectives returns page directives that place firmware so that it ends at 4GiB. For
// SEV-SNP it then declares, without contents, the secrets page, the calling area page, the CPUID
// page and every page of each pre-validated region. An unsupported platform gets only the firmware
// pages.
func FirmwareDirectives(firmware []byte, mask uint32, info *FirmwareInfo, p platform.Platform) []igvm.Directive {
	pages := (len(firmware) + abi.PageSize - 1) / abi.PageSize
	directives := make([]igvm.Directive, 0, pages)
	gpa := uint64(FirmwareStart(len(firmware)))
	for offset := 0; offset < len(firmware); offset += abi.PageSize {
		end := offset + abi.PageSize
		if end > len(firmware) {
			end = len(firmware)
		}
		directives = append(directives, &igvm.PageData{
			Gpa:               gpa,
			CompatibilityMask: mask,
			DataType:          igvm.PageDataTypeNormal,
			Data:              bytes.Clone(firmware[offset:end]),
		})
		gpa += abi.PageSize
	}
	if !p.IsSnp() {
		return directives
	}
	directives = append(directives,
		emptyPage(uint64(info.SecretsPage), mask, igvm.PageDataTypeSecrets),
		emptyPage(uint64(info.CaaPage), mask, igvm.PageDataTypeNormal),
		emptyPage(uint64(info.CpuidPage), mask, igvm.PageDataTypeCpuidData))
	for _, region := range info.Prevalidated {
		base := uint64(region.Base)
		for offset := uint64(0); offset < uint64(region.Size); offset += abi.PageSize {
			directives = append(directives, emptyPage(base+offset, mask, igvm.PageDataTypeNormal))
		}
	}
	return directives
}

// LoadFirmware parses firmware and builds its placement directives for platform p.
func LoadFirmware(ctx context.Context, firmware []byte, mask uint32, p platform.Platform) (*Firmware, error) {
	if err := p.Check(); err != nil {
		return nil, err
	}
	info, err := ParseFirmwareInfo(ctx, firmware)
	if err != nil {
		return nil, err
	}
	return &Firmware{
		Info:       info,
		Directives: FirmwareDirectives(firmware, mask, info, p),
	}, nil
}
