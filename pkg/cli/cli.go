// Copyright 2025 AUTHORS
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cli builds the icp-cli command tree (§6): one root command, one
// table of subcommands, each wired to a RunE that receives the parsed
// flags and dispatches into the core. The argument parser itself and the
// individual command bodies are the out-of-scope "dispatch shell" spec.md
// §1 carves out; this package only declares the surface (flags, help
// text) the way the teacher's pkg/cli declares its service-management
// surface. The ambient-selection flags (--identity, --network,
// --environment) are ordinary visible flags, unlike the teacher's hidden
// `--service`.
package cli

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/fatih/color"
	"github.com/hugomd/ascii-live/frames"
	"github.com/spf13/cobra"
)

// Handlers is the set of RunE-shaped functions each command invokes.
// cmd/icp wires concrete implementations; tests can substitute stubs.
type Handlers struct {
	Build             func(cmd *cobra.Command, args []string) error
	Deploy            func(cmd *cobra.Command, args []string) error
	CanisterCreate    func(cmd *cobra.Command, args []string) error
	SettingsUpdate    func(cmd *cobra.Command, args []string) error
	MigrateID         func(cmd *cobra.Command, args []string) error
	NetworkStart      func(cmd *cobra.Command, args []string) error
	NetworkStop       func(cmd *cobra.Command, args []string) error
	NetworkPing       func(cmd *cobra.Command, args []string) error
	NetworkLogs       func(cmd *cobra.Command, args []string) error
	SnapshotDownload  func(cmd *cobra.Command, args []string) error
	SnapshotUpload    func(cmd *cobra.Command, args []string) error
	IdentityImport    func(cmd *cobra.Command, args []string) error
	IdentityPrincipal func(cmd *cobra.Command, args []string) error
	CyclesMint        func(cmd *cobra.Command, args []string) error
}

// CommandHandler builds the cobra root command, the way the teacher's
// CommandHandler does for its own service-management surface.
type CommandHandler struct {
	h Handlers
}

func NewCommandHandler(h Handlers) *CommandHandler {
	return &CommandHandler{h: h}
}

// addSelectionFlags attaches the ambient identity/network/environment
// selection flags (§4.9) every call-through command accepts. They are not
// hidden: they appear in each command's `--help` output.
func addSelectionFlags(cmd *cobra.Command) {
	cmd.Flags().String("identity", "", "identity to sign calls with (default: the default identity)")
	cmd.Flags().String("network", "", "network to target by name or URL, bypassing --environment")
	cmd.Flags().String("environment", "", "project environment to target (default: local)")
}

func (h *CommandHandler) RootCmd(name string) *cobra.Command {
	cmd := &cobra.Command{
		Use: name,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.AddCommand(
		h.buildCmd(),
		h.deployCmd(),
		h.canisterCmd(),
		h.networkCmd(),
		h.snapshotCmd(),
		h.identityCmd(),
		h.cyclesCmd(),
		h.versionCmd(),
		parrotCmd(),
	)

	return cmd
}

// parrotCmd is a hidden easter egg, kept around the way the teacher keeps
// its own `skirt` command: no help text, no tests, just here.
func parrotCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "parrot",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			colors := []*color.Color{
				color.New(color.FgRed),
				color.New(color.FgGreen),
				color.New(color.FgYellow),
				color.New(color.FgBlue),
				color.New(color.FgMagenta),
				color.New(color.FgCyan),
				color.New(color.FgWhite),
			}
			p := frames.Parrot
			x := 0
			for {
				fmt.Fprint(cmd.OutOrStdout(), "\033[H\033[2J")

				x++
				i := x % p.GetLength()
				c := colors[x%len(colors)]

				c.Fprintln(cmd.OutOrStdout(), p.GetFrame(i))
				select {
				case <-cmd.Context().Done():
					return nil
				case <-time.After(p.GetSleep()):
					continue
				}
			}
		},
	}
}

// VersionCommit returns the commit hash of the current build, the way
// the teacher's own versionCmd reads it from runtime/debug.BuildInfo
// rather than a linker-injected string.
func VersionCommit() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	var dirty bool
	var commit string
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			commit = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if commit == "" {
		return "dev"
	}
	if len(commit) >= 9 {
		commit = commit[:9]
	}
	if dirty {
		commit += "+dirty"
	}
	return commit
}

func (h *CommandHandler) versionCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "version",
		Short: "Show the icp-cli version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Println(VersionCommit())
			return nil
		},
	}
	return c
}

func (h *CommandHandler) buildCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "build [canister-names...]",
		Short: "Build the selected canisters (or all of them)",
		RunE:  h.h.Build,
	}
	return c
}

func (h *CommandHandler) deployCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "deploy [canister-names...]",
		Short: "Build, create if missing, and sync the selected canisters (or all of them)",
		RunE:  h.h.Deploy,
	}
	addSelectionFlags(c)
	c.Flags().StringArray("controller", nil, "additional controller principal for canisters created along the way (repeatable)")
	return c
}

func (h *CommandHandler) canisterCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "canister",
		Short: "Create and manage canisters",
	}

	create := &cobra.Command{
		Use:   "create [canister-names...]",
		Short: "Create missing canisters in the target environment",
		RunE:  h.h.CanisterCreate,
	}
	addSelectionFlags(create)
	create.Flags().StringArray("controller", nil, "additional controller principal (repeatable)")
	create.Flags().String("subnet", "", "subnet to create on (default: co-locate with siblings, or sample)")
	create.Flags().Uint64("compute-allocation", 0, "compute allocation percentage, 0..=100")
	create.Flags().Uint64("memory-allocation", 0, "memory allocation in bytes")
	create.Flags().Uint64("freezing-threshold", 0, "freezing threshold in seconds")
	root.AddCommand(create)

	settings := &cobra.Command{Use: "settings", Short: "Inspect and update canister settings"}
	update := &cobra.Command{
		Use:   "update <name>",
		Short: "Update a canister's settings",
		Args:  cobra.ExactArgs(1),
		RunE:  h.h.SettingsUpdate,
	}
	addSelectionFlags(update)
	update.Flags().StringArray("add-controller", nil, "controller principal to add (repeatable)")
	update.Flags().StringArray("remove-controller", nil, "controller principal to remove (repeatable)")
	update.Flags().StringArray("set-controller", nil, "replace the controller list outright (repeatable)")
	update.Flags().Uint64("compute-allocation", 0, "compute allocation percentage, 0..=100")
	update.Flags().Uint64("memory-allocation", 0, "memory allocation in bytes")
	update.Flags().Uint64("freezing-threshold", 0, "freezing threshold in seconds")
	update.Flags().Uint64("reserved-cycles-limit", 0, "reserved cycles limit")
	update.Flags().Uint64("wasm-memory-limit", 0, "Wasm memory limit in bytes")
	update.Flags().Uint64("wasm-memory-threshold", 0, "Wasm memory threshold in bytes")
	update.Flags().String("log-visibility", "", `"public" or "controllers"`)
	settings.AddCommand(update)
	root.AddCommand(settings)

	migrate := &cobra.Command{
		Use:   "migrate-id <source>",
		Short: "Migrate a canister's identifier to another subnet via the NNS migration canister",
		Args:  cobra.ExactArgs(1),
		RunE:  h.h.MigrateID,
	}
	addSelectionFlags(migrate)
	migrate.Flags().String("replace", "", "target canister whose identifier is replaced")
	migrate.Flags().Bool("yes", false, "confirm the destructive replace")
	migrate.Flags().Bool("resume-watch", false, "poll an already-started migration instead of starting a new one")
	migrate.Flags().Bool("skip-watch", false, "start the migration without polling for completion")
	_ = migrate.MarkFlagRequired("replace")
	root.AddCommand(migrate)

	return root
}

func (h *CommandHandler) networkCmd() *cobra.Command {
	root := &cobra.Command{Use: "network", Short: "Start, stop, and inspect managed networks"}

	start := &cobra.Command{
		Use:   "start <name>",
		Short: "Start a managed network's local replica",
		Args:  cobra.ExactArgs(1),
		RunE:  h.h.NetworkStart,
	}
	start.Flags().Bool("background", false, "return immediately instead of blocking until Ctrl-C")
	root.AddCommand(start)

	stop := &cobra.Command{
		Use:   "stop <name>",
		Short: "Stop a managed network's local replica",
		Args:  cobra.ExactArgs(1),
		RunE:  h.h.NetworkStop,
	}
	root.AddCommand(stop)

	ping := &cobra.Command{
		Use:   "ping <name>",
		Short: "Check whether a network is reachable",
		Args:  cobra.ExactArgs(1),
		RunE:  h.h.NetworkPing,
	}
	ping.Flags().Bool("wait-healthy", false, "block until the network reports healthy")
	root.AddCommand(ping)

	logs := &cobra.Command{
		Use:   "logs <name>",
		Short: "Stream a running network's launcher logs",
		Args:  cobra.ExactArgs(1),
		RunE:  h.h.NetworkLogs,
	}
	logs.Flags().Bool("follow", false, "keep streaming instead of exiting once caught up")
	root.AddCommand(logs)

	return root
}

func (h *CommandHandler) snapshotCmd() *cobra.Command {
	root := &cobra.Command{Use: "snapshot", Short: "Download and upload canister state snapshots"}

	download := &cobra.Command{
		Use:   "download <snapshot-id> <dir>",
		Short: "Download a canister snapshot into dir",
		Args:  cobra.ExactArgs(2),
		RunE:  h.h.SnapshotDownload,
	}
	addSelectionFlags(download)
	download.Flags().String("canister", "", "canister to download the snapshot from, by name or principal")
	download.Flags().Bool("resume", false, "resume a previously interrupted download")
	_ = download.MarkFlagRequired("canister")
	root.AddCommand(download)

	upload := &cobra.Command{
		Use:   "upload <dir>",
		Short: "Upload a prepared snapshot directory to a canister",
		Args:  cobra.ExactArgs(1),
		RunE:  h.h.SnapshotUpload,
	}
	addSelectionFlags(upload)
	upload.Flags().String("canister", "", "canister to upload the snapshot into, by name or principal")
	upload.Flags().Bool("resume", false, "resume a previously interrupted upload")
	_ = upload.MarkFlagRequired("canister")
	root.AddCommand(upload)

	return root
}

func (h *CommandHandler) identityCmd() *cobra.Command {
	root := &cobra.Command{Use: "identity", Short: "Manage cryptographic identities"}

	imp := &cobra.Command{
		Use:   "import <name>",
		Short: "Import an identity",
		Args:  cobra.ExactArgs(1),
		RunE:  h.h.IdentityImport,
	}
	imp.Flags().String("from-pem", "", "PEM file to import")
	imp.Flags().String("decryption-password-from-file", "", "file holding the PEM decryption password")
	imp.Flags().String("from-seed-file", "", "file holding a seed phrase")
	imp.Flags().Bool("read-seed-phrase", false, "read a seed phrase interactively from stdin")
	imp.Flags().String("assert-key-type", "", "fail unless the derived key matches this type")
	root.AddCommand(imp)

	principal := &cobra.Command{
		Use:   "principal",
		Short: "Print the selected identity's principal",
		RunE:  h.h.IdentityPrincipal,
	}
	principal.Flags().String("identity", "", "identity to print (default: the default identity)")
	root.AddCommand(principal)

	return root
}

func (h *CommandHandler) cyclesCmd() *cobra.Command {
	root := &cobra.Command{Use: "cycles", Short: "Manage cycles balances"}
	mint := &cobra.Command{
		Use:   "mint",
		Short: "Mint ICP and cycles for seed accounts on a managed network",
		RunE:  h.h.CyclesMint,
	}
	addSelectionFlags(mint)
	mint.Flags().StringArray("account", nil, "seed account identity/principal to fund (repeatable)")
	root.AddCommand(mint)
	return root
}
