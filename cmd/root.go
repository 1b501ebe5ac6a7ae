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

// Package cmd provides the command tree of the OVMF to IGVM conversion tool.
package cmd

import (
	"github.com/google/ovmf-igvm/cmd/output"
	"github.com/spf13/cobra"
	"golang.org/x/net/context"
)

// makeRootCmd creates an entrypoint for ovmfigvm.
func makeRootCmd(ctx0 context.Context, app *AppComponents) *cobra.Command {
	flags := &output.Options{Out: app.Out}
	ctx := output.NewContext(ctx0, flags)
	cmd := &cobra.Command{
		Use: "ovmfigvm",
		Long: `Command line tool for packaging OVMF firmware as IGVM

This tool turns an OVMF binary into an IGVM boot descriptor for SEV, SEV-ES,
SEV-SNP or non-confidential guests.
`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.Validate(cmd); err != nil {
				return err
			}
			if app.Global != nil {
				if err := app.Global.PersistentPreRunE(cmd, args); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.SetContext(ctx)
	if app.Global != nil {
		app.Global.AddFlags(cmd)
	}
	flags.AddFlags(cmd)
	return cmd
}

// RunFn is the signature of a cobra RunE function.
type RunFn func(*cobra.Command, []string) error
