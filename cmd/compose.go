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
	"io"

	"github.com/google/ovmf-igvm/storage/storagei"
	"github.com/spf13/cobra"
	"golang.org/x/net/context"
)

// ErrNoStorage is returned by build and inspect when the app was made without a storage client.
var ErrNoStorage = errors.New("no storage client configured")

// CommandComponent is one piece of an ovmfigvm subcommand: flags, their validation, and context
// setup that runs only once every flag has been validated.
type CommandComponent interface {
	InitContext(ctx context.Context) (context.Context, error)
	AddFlags(cmd *cobra.Command)
	PersistentPreRunE(cmd *cobra.Command, args []string) error
}

// AppComponents holds what MakeApp wires into the ovmfigvm commands.
type AppComponents struct {
	// Global adds flags and context to every subcommand.
	Global CommandComponent
	// Storage reads firmware and writes IGVM files.
	Storage storagei.Client
	// Build and Inspect extend the subcommands of the same name.
	Build   CommandComponent
	Inspect CommandComponent
	// Out, if non-nil, receives tool output instead of stdout.
	Out io.Writer
}

// MakeApp returns the ovmfigvm root command with its build and inspect subcommands.
func MakeApp(ctx context.Context, app *AppComponents) *cobra.Command {
	root := makeRootCmd(ctx, app)
	root.AddCommand(makeBuildCmd(root.Context(), app))
	root.AddCommand(makeInspectCmd(root.Context(), app))
	return root
}

// storageUser is embedded by subcommands that touch firmware or IGVM files. It has no flags.
type storageUser struct {
	Storage storagei.Client
}

func (s *storageUser) InitContext(ctx context.Context) (context.Context, error) {
	if s.Storage == nil {
		return nil, ErrNoStorage
	}
	return ctx, nil
}

func (*storageUser) AddFlags(*cobra.Command) {}

func (*storageUser) PersistentPreRunE(*cobra.Command, []string) error { return nil }

// ComposedComponent runs each of Components in order. Nil components are skipped.
type ComposedComponent struct {
	Components []CommandComponent
}

// InitContext threads ctx through every component's InitContext and stops at the first error.
func (c *ComposedComponent) InitContext(ctx context.Context) (context.Context, error) {
	for _, cmp := range c.Components {
		if cmp == nil {
			continue
		}
		var err error
		if ctx, err = cmp.InitContext(ctx); err != nil {
			return nil, err
		}
	}
	return ctx, nil
}

// AddFlags adds every component's flags to cmd.
func (c *ComposedComponent) AddFlags(cmd *cobra.Command) {
	for _, cmp := range c.Components {
		if cmp != nil {
			cmp.AddFlags(cmd)
		}
	}
}

// PersistentPreRunE validates the flags of every component and stops at the first error.
func (c *ComposedComponent) PersistentPreRunE(cmd *cobra.Command, args []string) error {
	for _, cmp := range c.Components {
		if cmp == nil {
			continue
		}
		if err := cmp.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
	}
	return nil
}

// Compose returns a component that runs cmps in order.
func Compose(cmps ...CommandComponent) *ComposedComponent { return &ComposedComponent{cmps} }

// PartialComponent is a CommandComponent built from optional functions, for callers of MakeApp
// that only need one hook.
type PartialComponent struct {
	FInitContext       func(ctx context.Context) (context.Context, error)
	FAddFlags          func(cmd *cobra.Command)
	FPersistentPreRunE func(cmd *cobra.Command, args []string) error
}

// InitContext calls FInitContext if set.
func (p *PartialComponent) InitContext(ctx context.Context) (context.Context, error) {
	if p.FInitContext == nil {
		return ctx, nil
	}
	return p.FInitContext(ctx)
}

// AddFlags calls FAddFlags if set.
func (p *PartialComponent) AddFlags(cmd *cobra.Command) {
	if p.FAddFlags != nil {
		p.FAddFlags(cmd)
	}
}

// PersistentPreRunE calls FPersistentPreRunE if set.
func (p *PartialComponent) PersistentPreRunE(cmd *cobra.Command, args []string) error {
	if p.FPersistentPreRunE == nil {
		return nil
	}
	return p.FPersistentPreRunE(cmd, args)
}

// ComposeRun returns a cobra RunE that initializes cmp's context before calling run.
func ComposeRun(cmp CommandComponent, run func(context.Context) error) RunFn {
	return func(cmd *cobra.Command, _ []string) error {
		ctx, err := cmp.InitContext(cmd.Context())
		if err != nil {
			return err
		}
		return run(ctx)
	}
}
