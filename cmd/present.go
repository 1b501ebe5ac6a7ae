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

package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/google/ovmf-igvm/ovmf"
	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/exp/slices"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

func hex32(v uint32) string { return fmt.Sprintf("0x%08x", v) }

func sortedRegions(info *ovmf.FirmwareInfo) []ovmf.PrevalidatedRegion {
	regions := slices.Clone(info.Prevalidated)
	slices.SortStableFunc(regions, func(a, b ovmf.PrevalidatedRegion) int {
		switch {
		case a.Base < b.Base:
			return -1
		case a.Base > b.Base:
			return 1
		}
		return 0
	})
	return regions
}

// renderInfoTable returns the human readable tables describing info parsed from the firmware at
// path.
func renderInfoTable(path string, info *ovmf.FirmwareInfo) string {
	t := table.NewWriter()
	t.SetTitle("OVMF %s", path)
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"Size", fmt.Sprintf("0x%x (%s)", info.Size, humanize.IBytes(uint64(info.Size)))},
		{"Start GPA", hex32(info.Start)},
		{"AP reset address", hex32(info.ResetAddr)},
		{"Secrets page", hex32(info.SecretsPage)},
		{"Calling area page", hex32(info.CaaPage)},
		{"CPUID page", hex32(info.CpuidPage)},
	})
	result := t.Render()
	if len(info.Prevalidated) == 0 {
		return result
	}
	r := table.NewWriter()
	r.SetTitle("Pre-validated regions")
	r.AppendHeader(table.Row{"Base", "End", "Size"})
	for _, region := range sortedRegions(info) {
		r.AppendRow(table.Row{
			hex32(region.Base),
			fmt.Sprintf("0x%09x", uint64(region.Base)+uint64(region.Size)),
			humanize.IBytes(uint64(region.Size)),
		})
	}
	return result + "\n" + r.Render()
}

func infoStruct(path string, info *ovmf.FirmwareInfo) (*structpb.Struct, error) {
	var regions []any
	for _, region := range sortedRegions(info) {
		regions = append(regions, map[string]any{
			"base": hex32(region.Base),
			"size": region.Size,
		})
	}
	return structpb.NewStruct(map[string]any{
		"path":         path,
		"size":         info.Size,
		"start":        hex32(info.Start),
		"resetAddr":    hex32(info.ResetAddr),
		"secretsPage":  hex32(info.SecretsPage),
		"caaPage":      hex32(info.CaaPage),
		"cpuidPage":    hex32(info.CpuidPage),
		"prevalidated": regions,
	})
}

// renderInfoJSON returns info parsed from the firmware at path as a JSON object.
func renderInfoJSON(path string, info *ovmf.FirmwareInfo) (string, error) {
	s, err := infoStruct(path, info)
	if err != nil {
		return "", fmt.Errorf("could not represent firmware info: %w", err)
	}
	out, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("could not marshal firmware info: %w", err)
	}
	return string(out), nil
}
