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
	"strings"

	"github.com/google/ovmf-igvm/platform"
	"github.com/spf13/cobra"
)

// Lets this command specify an input OVMF file.
func addFirmwareFlag(cmd *cobra.Command, f *string) {
	cmd.PersistentFlags().StringVar(f, "firmware", "", "Path to OVMF binary")
}

// Lets this command specify several input OVMF files.
func addFirmwaresFlag(cmd *cobra.Command, f *[]string) {
	cmd.PersistentFlags().StringSliceVar(f, "firmware", nil, "Paths to OVMF binaries")
}

func addOutputFlag(cmd *cobra.Command, f *string) {
	cmd.PersistentFlags().StringVar(f, "output", "", "Path of the IGVM file to write")
}

func addCPUCountFlag(cmd *cobra.Command, f *int) {
	cmd.PersistentFlags().IntVar(f, "cpucount", 1, "Number of virtual processors the guest boots with")
}

func addPlatformFlag(cmd *cobra.Command, f *platform.Platform) {
	cmd.PersistentFlags().Var(platform.NewValue(f), "platform",
		fmt.Sprintf("Guest platform. One of %s", strings.Join(platform.Names(), ", ")))
}

// Output formats of the inspect command.
const (
	formatTable = "table"
	formatJSON  = "json"
)

type formatFlag struct {
	v *string
}

func (f *formatFlag) String() string {
	if f.v == nil {
		return ""
	}
	return *f.v
}

func (f *formatFlag) Set(value string) error {
	switch v := strings.ToLower(value); v {
	case formatTable, formatJSON:
		*f.v = v
		return nil
	}
	return fmt.Errorf("unknown format %q, want %s or %s", value, formatTable, formatJSON)
}

func (*formatFlag) Type() string { return "format" }

func addFormatFlag(cmd *cobra.Command, f *string) {
	*f = formatTable
	cmd.PersistentFlags().Var(&formatFlag{v: f}, "format",
		fmt.Sprintf("Output format. One of %s, %s", formatTable, formatJSON))
}
