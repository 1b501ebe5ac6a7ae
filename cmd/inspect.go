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

	"github.com/google/ovmf-igvm/cmd/output"
	"github.com/google/ovmf-igvm/ovmf"
	"github.com/google/ovmf-igvm/storage/ops"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/net/context"
)

// inspectCommand stores the flag values of the inspect subcommand.
type inspectCommand struct {
	storageUser

	FirmwarePaths []string
	Format        string
}

// AddFlags adds any implementation-specific flags for this command component.
func (c *inspectCommand) AddFlags(cmd *cobra.Command) {
	addFirmwaresFlag(cmd, &c.FirmwarePaths)
	addFormatFlag(cmd, &c.Format)
}

// PersistentPreRunE returns an error if the results of the parsed flags constitute an error.
func (c *inspectCommand) PersistentPreRunE(_ *cobra.Command, args []string) error {
	c.FirmwarePaths = append(c.FirmwarePaths, args...)
	if len(c.FirmwarePaths) == 0 {
		return errors.New("expected --firmware path")
	}
	return nil
}

func (c *inspectCommand) inspect(ctx context.Context, path string) error {
	firmware, err := ops.ReadFile(ctx, c.Storage, path)
	if err != nil {
		return err
	}
	info, err := ovmf.ParseFirmwareInfo(ctx, firmware)
	if err != nil {
		return fmt.Errorf("could not parse %s: %w", path, err)
	}
	if c.Format == formatJSON {
		out, err := renderInfoJSON(path, info)
		if err != nil {
			return err
		}
		output.Infof(ctx, "%s", out)
		return nil
	}
	output.Infof(ctx, "%s", renderInfoTable(path, info))
	return nil
}

// run inspects every firmware. With --keep_going a failure is reported and the remaining firmware
// is still inspected.
func (c *inspectCommand) run(ctx context.Context) error {
	var errs error
	for _, path := range c.FirmwarePaths {
		err := c.inspect(ctx, path)
		if err == nil {
			continue
		}
		if !output.AllowRecoverableError(ctx) {
			return err
		}
		output.Errorf(ctx, "%v", err)
		errs = multierr.Append(errs, err)
	}
	return errs
}

func makeInspectCmd(ctx context.Context, app *AppComponents) *cobra.Command {
	ic := &inspectCommand{storageUser: storageUser{Storage: app.Storage}}
	cmp := Compose(ic, app.Inspect)
	cmd := &cobra.Command{
		Use:     "inspect [firmware...]",
		Short:   "Print what an OVMF firmware declares for confidential guests",
		PreRunE: cmp.PersistentPreRunE,
		RunE:    ComposeRun(Compose(app.Global, cmp), ic.run),
	}
	cmd.SetContext(ctx)
	cmp.AddFlags(cmd)
	return cmd
}
