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
	"errors"
	"fmt"

	"github.com/google/ovmf-igvm/builder"
	"github.com/google/ovmf-igvm/cmd/output"
	"github.com/google/ovmf-igvm/platform"
	"github.com/spf13/cobra"
	"golang.org/x/net/context"
)

// buildCommand stores the flag values of the build subcommand.
type buildCommand struct {
	storageUser

	Request builder.Request
}

// AddFlags adds any implementation-specific flags for this command component.
func (c *buildCommand) AddFlags(cmd *cobra.Command) {
	addFirmwareFlag(cmd, &c.Request.FirmwarePath)
	addOutputFlag(cmd, &c.Request.OutputPath)
	addCPUCountFlag(cmd, &c.Request.CPUCount)
	addPlatformFlag(cmd, &c.Request.Platform)
}

// PersistentPreRunE returns an error if the results of the parsed flags constitute an error.
func (c *buildCommand) PersistentPreRunE(_ *cobra.Command, args []string) error {
	if len(args) == 1 {
		p, err := platform.Parse(args[0])
		if err != nil {
			return err
		}
		if c.Request.Platform.Valid() && c.Request.Platform != p {
			return fmt.Errorf("platform argument %v conflicts with --platform=%v", p, c.Request.Platform)
		}
		c.Request.Platform = p
	}
	if !c.Request.Platform.Valid() {
		return errors.New("expected a platform argument or --platform")
	}
	if c.Request.FirmwarePath == "" {
		return errors.New("expected --firmware path")
	}
	if c.Request.OutputPath == "" {
		return errors.New("expected --output path")
	}
	if c.Request.CPUCount < 1 {
		return fmt.Errorf("--cpucount=%d must be at least 1", c.Request.CPUCount)
	}
	return c.Request.Options.Validate()
}

func (c *buildCommand) run(ctx context.Context) error {
	result, err := builder.Run(ctx, c.Storage, &c.Request)
	if err != nil {
		return err
	}
	if opts, err := output.FromContext(ctx); err == nil && opts.Verbose {
		output.Infof(ctx, "%s", renderInfoTable(c.Request.FirmwarePath, result.Info))
	}
	return nil
}

func makeBuildCmd(ctx context.Context, app *AppComponents) *cobra.Command {
	bc := &buildCommand{storageUser: storageUser{Storage: app.Storage}}
	cmp := Compose(bc, app.Build)
	cmd := &cobra.Command{
		Use:   "build [sev|sev-es|sev-snp|native]",
		Short: "Build an IGVM file that launches an OVMF firmware",
		Args:  cobra.MaximumNArgs(1),
		// Root's PersistentPreRunE still runs for output flag validation.
		PreRunE: cmp.PersistentPreRunE,
		RunE:    ComposeRun(Compose(app.Global, cmp), bc.run),
	}
	cmd.SetContext(ctx)
	cmp.AddFlags(cmd)
	return cmd
}
