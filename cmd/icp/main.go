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

// Command icp is the icp-cli binary: it wires every component package
// (icpcontext, project, network, build, sync, snapshot, identity, ...)
// into the cli.Handlers the command tree dispatches into, the same way the
// teacher's cmd/hectolitro-yeet composes its own CommandHandler.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/client"
	"github.com/spf13/cobra"

	"github.com/icp-cli/icp/internal/agentclient"
	"github.com/icp-cli/icp/internal/canistercreate"
	"github.com/icp-cli/icp/internal/homedir"
	"github.com/icp-cli/icp/internal/ledgeradapter"
	"github.com/icp-cli/icp/internal/managementclient"
	"github.com/icp-cli/icp/internal/migrate"
	"github.com/icp-cli/icp/internal/principal"
	"github.com/icp-cli/icp/internal/seed"
	"github.com/icp-cli/icp/internal/settingsupdate"
	"github.com/icp-cli/icp/internal/subnetstore"
	"github.com/icp-cli/icp/internal/terminalsink"
	"github.com/icp-cli/icp/pkg/artifact"
	"github.com/icp-cli/icp/pkg/build"
	"github.com/icp-cli/icp/pkg/cli"
	"github.com/icp-cli/icp/pkg/icpcontext"
	"github.com/icp-cli/icp/pkg/identity"
	"github.com/icp-cli/icp/pkg/idstore"
	"github.com/icp-cli/icp/pkg/network"
	"github.com/icp-cli/icp/pkg/progress"
	"github.com/icp-cli/icp/pkg/project"
	"github.com/icp-cli/icp/pkg/recipe"
	"github.com/icp-cli/icp/pkg/remote"
	"github.com/icp-cli/icp/pkg/snapshot"
	"github.com/icp-cli/icp/pkg/sync"
)

func main() {
	a, err := newApp()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	root := cli.NewCommandHandler(cli.Handlers{
		Build:             a.build,
		Deploy:            a.deploy,
		CanisterCreate:    a.canisterCreate,
		SettingsUpdate:    a.settingsUpdate,
		MigrateID:         a.migrateID,
		NetworkStart:      a.networkStart,
		NetworkStop:       a.networkStop,
		NetworkPing:       a.networkPing,
		NetworkLogs:       a.networkLogs,
		SnapshotDownload:  a.snapshotDownload,
		SnapshotUpload:    a.snapshotUpload,
		IdentityImport:    a.identityImport,
		IdentityPrincipal: a.identityPrincipal,
		CyclesMint:        a.cyclesMint,
	}).RootCmd("icp")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app holds every composed collaborator a command handler needs; it is the
// concrete counterpart to icpcontext.Context's abstract collaborators.
type app struct {
	ctx *icpcontext.Context

	keys        remote.KeyStore
	artifacts   *artifact.Store
	sink        progress.Sink
	subnets     *subnetstore.Store
	portClaims  network.PortClaimDir
	httpClient  *http.Client
	projectName string
}

func newApp() (*app, error) {
	identitiesDir, err := homedir.Sub("identities")
	if err != nil {
		return nil, err
	}
	idsDir, err := homedir.Sub("ids")
	if err != nil {
		return nil, err
	}
	subnetsDir, err := homedir.Sub("subnets")
	if err != nil {
		return nil, err
	}
	portClaimsDir, err := homedir.Sub("portclaims")
	if err != nil {
		return nil, err
	}

	keys, err := identity.OpenFileKeyStore(identitiesDir)
	if err != nil {
		return nil, fmt.Errorf("icp: open identity store: %w", err)
	}
	ids, err := idstore.Open(idsDir)
	if err != nil {
		return nil, fmt.Errorf("icp: open id store: %w", err)
	}
	subnets, err := subnetstore.Open(subnetsDir)
	if err != nil {
		return nil, fmt.Errorf("icp: open subnet store: %w", err)
	}

	httpClient := &http.Client{Timeout: 60 * time.Second}

	registry := recipe.NewRegistryClient("github.com", "icp-cli", "recipes").WithTokenFromEnv()
	resolver := recipe.NewResolver(&recipe.HTTPFetcher{Client: httpClient, Registry: registry}, registry)
	loader := project.NewLoader(resolver)

	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	proj, err := loader.Load(ctx, cwd)
	var networksDir, artifactsDir, projectName string
	switch {
	case errors.Is(err, project.ErrNotFound):
		proj = nil
	case err != nil:
		return nil, fmt.Errorf("icp: load project: %w", err)
	default:
		networksDir = filepath.Join(proj.RootDir, ".icp", "networks")
		artifactsDir = filepath.Join(proj.RootDir, ".icp", "artifacts")
		projectName = filepath.Base(proj.RootDir)
	}
	if artifactsDir == "" {
		artifactsDir, err = homedir.Sub("artifacts")
		if err != nil {
			return nil, err
		}
	}

	artifacts, err := artifact.New(artifactsDir)
	if err != nil {
		return nil, err
	}

	agents := &agentclient.Factory{HTTP: httpClient}
	icpCtx := icpcontext.New(proj, networksDir, ids, keys, agents, resolver)

	return &app{
		ctx:         icpCtx,
		keys:        keys,
		artifacts:   artifacts,
		sink:        terminalsink.New(os.Stdout),
		subnets:     subnets,
		portClaims:  network.PortClaimDir{Dir: portClaimsDir},
		httpClient:  httpClient,
		projectName: projectName,
	}, nil
}

// selectors reads the ambient --identity/--network/--environment flags
// every call-through command carries (§4.9).
func selectors(cmd *cobra.Command) (identity.Selector, icpcontext.NetworkSelector, icpcontext.EnvironmentSelector) {
	var identitySel identity.Selector
	if v, _ := cmd.Flags().GetString("identity"); v != "" {
		if v == identity.AnonymousName {
			identitySel = identity.Selector{Kind: identity.SelectAnonymous}
		} else {
			identitySel = identity.Selector{Kind: identity.SelectNamed, Name: v}
		}
	}

	var netSel icpcontext.NetworkSelector
	if v, _ := cmd.Flags().GetString("network"); v != "" {
		if strings.Contains(v, "://") {
			netSel = icpcontext.NetworkSelector{Kind: icpcontext.NetworkURL, URL: v}
		} else {
			netSel = icpcontext.NetworkSelector{Kind: icpcontext.NetworkNamed, Name: v}
		}
	}

	var envSel icpcontext.EnvironmentSelector
	if v, _ := cmd.Flags().GetString("environment"); v != "" {
		envSel = icpcontext.EnvironmentSelector{Kind: icpcontext.EnvironmentNamed, Name: v}
	}

	return identitySel, netSel, envSel
}

func environmentName(envSel icpcontext.EnvironmentSelector) string {
	if envSel.Kind == icpcontext.EnvironmentNamed {
		return envSel.Name
	}
	return project.DefaultEnvironmentName
}

// canisterRef treats name as a principal when it parses as one, a
// project-local canister name otherwise.
func canisterRef(name string) icpcontext.CanisterRef {
	if _, err := principal.Parse(name); err == nil {
		return icpcontext.CanisterRef{Kind: icpcontext.CanisterByPrincipal, Principal: name}
	}
	return icpcontext.CanisterRef{Kind: icpcontext.CanisterByName, Name: name}
}

func (a *app) build(cmd *cobra.Command, args []string) error {
	if a.ctx.Project == nil {
		return project.ErrNotFound
	}
	names := args
	if len(names) == 0 {
		names = a.ctx.Project.CanisterNames()
	}

	tasks := make([]build.Task, 0, len(names))
	for _, n := range names {
		c, ok := a.ctx.Project.Canisters[n]
		if !ok {
			return fmt.Errorf("icp: unknown canister %q", n)
		}
		tasks = append(tasks, build.Task{Canister: c})
	}

	pipeline := build.NewPipeline(a.artifacts, a.sink)
	_, err := pipeline.Run(cmd.Context(), tasks)
	return err
}

func (a *app) canisterCreate(cmd *cobra.Command, args []string) error {
	if a.ctx.Project == nil {
		return project.ErrNotFound
	}
	identitySel, netSel, envSel := selectors(cmd)
	envName := environmentName(envSel)
	env, ok := a.ctx.Project.Environments[envName]
	if !ok {
		return &icpcontext.UnknownEnvironmentError{Name: envName}
	}
	net, ok := a.ctx.Project.Networks[env.Network]
	if !ok {
		return &icpcontext.UnknownNetworkError{Name: env.Network}
	}

	names := args
	if len(names) == 0 {
		names = a.ctx.Project.CanisterNames()
	}
	var missing []string
	for _, n := range names {
		_, err := a.ctx.IDs.Lookup(idstore.Key{Network: env.Network, Environment: envName, Canister: n})
		if err == idstore.ErrNotFound {
			missing = append(missing, n)
		} else if err != nil {
			return err
		}
	}
	names = missing

	explicitSubnet, _ := cmd.Flags().GetString("subnet")
	explicit := map[string]string{}
	if explicitSubnet != "" {
		for _, n := range names {
			explicit[n] = explicitSubnet
		}
	}

	existing, err := a.subnets.ExistingForEnvironment(envName)
	if err != nil {
		return err
	}

	var configuredSubnets []string
	if net.Managed != nil {
		configuredSubnets = net.Managed.Subnets
	}
	pick := canistercreate.Picker(func(n int) int { return rand.Intn(n) })
	assignment, err := canistercreate.AssignSubnets(names, existing, explicit, configuredSubnets, pick)
	if err != nil {
		return err
	}

	agent, err := a.ctx.GetAgent(cmd.Context(), identitySel, netSel, envSel)
	if err != nil {
		return err
	}
	mc := &managementclient.Client{RC: agent}

	selfPrincipal, err := identity.Principal(a.keys, identitySel.Resolve())
	if err != nil {
		return err
	}
	extraControllers, _ := cmd.Flags().GetStringArray("controller")
	controllers := append([]string{selfPrincipal}, extraControllers...)

	var settings project.Settings
	if v, _ := cmd.Flags().GetUint64("compute-allocation"); v != 0 {
		settings.ComputeAllocation = &v
	}
	if v, _ := cmd.Flags().GetUint64("memory-allocation"); v != 0 {
		settings.MemoryAllocation = &v
	}
	if v, _ := cmd.Flags().GetUint64("freezing-threshold"); v != 0 {
		settings.FreezingThreshold = &v
	}

	for _, name := range names {
		id, err := mc.CreateCanister(cmd.Context(), assignment[name], settings, controllers)
		if err != nil {
			return fmt.Errorf("icp: create canister %q: %w", name, err)
		}
		raw, err := principal.Parse(id)
		if err != nil {
			return err
		}
		key := idstore.Key{Network: env.Network, Environment: envName, Canister: name}
		if err := a.ctx.IDs.Register(key, raw); err != nil {
			return err
		}
		cmd.Println(name + ": " + id)
	}

	return a.subnets.Record(envName, assignment)
}

// deploy runs BuildPipeline, creates any canister in the target
// environment that IdStore has no principal for yet, then runs
// SyncPipeline over the whole selection — the three-stage flow §1's data
// flow diagram describes ("Context -> ... -> BuildPipeline -> ...
// SyncPipeline") collapsed into one command the way most callers actually
// invoke it.
func (a *app) deploy(cmd *cobra.Command, args []string) error {
	if a.ctx.Project == nil {
		return project.ErrNotFound
	}
	identitySel, netSel, envSel := selectors(cmd)
	envName := environmentName(envSel)
	env, ok := a.ctx.Project.Environments[envName]
	if !ok {
		return &icpcontext.UnknownEnvironmentError{Name: envName}
	}
	net, ok := a.ctx.Project.Networks[env.Network]
	if !ok {
		return &icpcontext.UnknownNetworkError{Name: env.Network}
	}

	names := args
	if len(names) == 0 {
		for n := range env.Canisters {
			names = append(names, n)
		}
	}

	buildTasks := make([]build.Task, 0, len(names))
	for _, n := range names {
		c, ok := a.ctx.Project.Canisters[n]
		if !ok {
			return fmt.Errorf("icp: unknown canister %q", n)
		}
		buildTasks = append(buildTasks, build.Task{Canister: c})
	}
	if _, err := build.NewPipeline(a.artifacts, a.sink).Run(cmd.Context(), buildTasks); err != nil {
		return err
	}

	var missing []string
	for _, n := range names {
		if _, err := a.ctx.IDs.Lookup(idstore.Key{Network: env.Network, Environment: envName, Canister: n}); errors.Is(err, idstore.ErrNotFound) {
			missing = append(missing, n)
		} else if err != nil {
			return err
		}
	}

	agent, err := a.ctx.GetAgent(cmd.Context(), identitySel, netSel, envSel)
	if err != nil {
		return err
	}

	if len(missing) > 0 {
		existing, err := a.subnets.ExistingForEnvironment(envName)
		if err != nil {
			return err
		}
		var configuredSubnets []string
		if net.Managed != nil {
			configuredSubnets = net.Managed.Subnets
		}
		pick := canistercreate.Picker(func(n int) int { return rand.Intn(n) })
		assignment, err := canistercreate.AssignSubnets(missing, existing, nil, configuredSubnets, pick)
		if err != nil {
			return err
		}

		selfPrincipal, err := identity.Principal(a.keys, identitySel.Resolve())
		if err != nil {
			return err
		}
		extraControllers, _ := cmd.Flags().GetStringArray("controller")
		controllers := append([]string{selfPrincipal}, extraControllers...)

		mc := &managementclient.Client{RC: agent}
		for _, n := range missing {
			id, err := mc.CreateCanister(cmd.Context(), assignment[n], project.Settings{}, controllers)
			if err != nil {
				return fmt.Errorf("icp: create canister %q: %w", n, err)
			}
			raw, err := principal.Parse(id)
			if err != nil {
				return err
			}
			if err := a.ctx.IDs.Register(idstore.Key{Network: env.Network, Environment: envName, Canister: n}, raw); err != nil {
				return err
			}
			cmd.Println(n + ": " + id)
		}
		if err := a.subnets.Record(envName, assignment); err != nil {
			return err
		}
	}

	syncTasks := make([]sync.Task, 0, len(names))
	for _, n := range names {
		syncTasks = append(syncTasks, sync.Task{Canister: a.ctx.Project.Canisters[n], Environment: envName})
	}
	_, err = sync.NewPipeline(a.ctx.IDResolver(), agent, a.sink).Run(cmd.Context(), syncTasks)
	return err
}

func (a *app) settingsUpdate(cmd *cobra.Command, args []string) error {
	identitySel, netSel, envSel := selectors(cmd)
	ref := canisterRef(args[0])

	id, agent, err := a.ctx.GetCanisterIDAndAgent(cmd.Context(), ref, envSel, netSel, identitySel)
	if err != nil {
		return err
	}
	mc := &managementclient.Client{RC: agent}

	current, controllers, err := mc.ReadSettings(cmd.Context(), id)
	if err != nil {
		return err
	}

	addC, _ := cmd.Flags().GetStringArray("add-controller")
	remC, _ := cmd.Flags().GetStringArray("remove-controller")
	setC, _ := cmd.Flags().GetStringArray("set-controller")
	newControllers, err := settingsupdate.ResolveControllers(controllers, settingsupdate.ControllerEdit{Add: addC, Remove: remC, Set: setC})
	if err != nil {
		return err
	}

	var edit settingsupdate.FieldEdit
	if cmd.Flags().Changed("compute-allocation") {
		v, _ := cmd.Flags().GetUint64("compute-allocation")
		edit.ComputeAllocation = &v
	}
	if cmd.Flags().Changed("memory-allocation") {
		v, _ := cmd.Flags().GetUint64("memory-allocation")
		edit.MemoryAllocation = &v
	}
	if cmd.Flags().Changed("freezing-threshold") {
		v, _ := cmd.Flags().GetUint64("freezing-threshold")
		edit.FreezingThreshold = &v
	}
	if cmd.Flags().Changed("reserved-cycles-limit") {
		v, _ := cmd.Flags().GetUint64("reserved-cycles-limit")
		edit.ReservedCyclesLimit = &v
	}
	if cmd.Flags().Changed("wasm-memory-limit") {
		v, _ := cmd.Flags().GetUint64("wasm-memory-limit")
		edit.WasmMemoryLimit = &v
	}
	if cmd.Flags().Changed("wasm-memory-threshold") {
		v, _ := cmd.Flags().GetUint64("wasm-memory-threshold")
		edit.WasmMemoryThreshold = &v
	}
	if v, _ := cmd.Flags().GetString("log-visibility"); v != "" {
		vis := project.LogVisibility(v)
		edit.LogVisibility = &vis
	}

	newSettings := settingsupdate.ApplyFields(current, edit)
	if newSettings.ComputeAllocation != nil {
		if err := settingsupdate.ValidateComputeAllocation(*newSettings.ComputeAllocation); err != nil {
			return err
		}
	}

	return mc.UpdateSettings(cmd.Context(), id, newSettings, newControllers)
}

func (a *app) migrateID(cmd *cobra.Command, args []string) error {
	identitySel, netSel, envSel := selectors(cmd)
	replace, _ := cmd.Flags().GetString("replace")
	yes, _ := cmd.Flags().GetBool("yes")
	resumeWatch, _ := cmd.Flags().GetBool("resume-watch")
	skipWatch, _ := cmd.Flags().GetBool("skip-watch")

	sourceID, agent, err := a.ctx.GetCanisterIDAndAgent(cmd.Context(), canisterRef(args[0]), envSel, netSel, identitySel)
	if err != nil {
		return err
	}
	targetID, err := a.ctx.GetCanisterID(canisterRef(replace), envSel)
	if err != nil {
		return err
	}

	mc := &managementclient.MigrationAdapter{RC: agent}
	status, err := migrate.Migrate(cmd.Context(), mc, migrate.Options{
		Source:      sourceID,
		Target:      targetID,
		Confirmed:   yes,
		ResumeWatch: resumeWatch,
		SkipWatch:   skipWatch,
		MigrationID: sourceID,
	})
	cmd.Println(status)
	return err
}

// launcherFor picks the launcher implementation the same way the teacher
// picks between local execution and a sandboxed mode: a configured image
// means run in Docker, otherwise spawn the binary named by
// ICP_CLI_NETWORK_LAUNCHER_PATH directly.
func (a *app) launcherFor() (network.Launcher, error) {
	if image := os.Getenv("ICP_CLI_NETWORK_LAUNCHER_IMAGE"); image != "" {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, fmt.Errorf("icp: docker client: %w", err)
		}
		return &network.ContainerLauncher{Client: cli, Image: image}, nil
	}
	binary := os.Getenv("ICP_CLI_NETWORK_LAUNCHER_PATH")
	if binary == "" {
		binary = "icp-replica-launcher"
	}
	return &network.ProcessLauncher{BinaryPath: binary}, nil
}

// lazySeeder defers binding a seed.Seeder's ledger collaborators until
// Seed is actually invoked, because the replica's access URL (and thus
// which ledger/cycles-minting canisters to address) is only known once
// Supervisor.Start has finished launching the replica — unlike every other
// collaborator in this file, which can be constructed once up front.
type lazySeeder struct {
	httpClient *http.Client
	keys       remote.KeyStore
}

func (l *lazySeeder) Seed(ctx context.Context, access network.Access, seedAccounts []string) error {
	rc := &agentclient.Client{BaseURL: access.URL, HTTP: l.httpClient}
	adapter := &ledgeradapter.Adapter{RC: rc}
	seeder := seed.NewSeeder(adapter, adapter, adapter)
	seeder.Resolve = func(name string) ([]byte, error) {
		if raw, err := principal.Parse(name); err == nil {
			return raw, nil
		}
		text, err := identity.Principal(l.keys, name)
		if err != nil {
			return nil, fmt.Errorf("seed: resolve account %q: %w", name, err)
		}
		return principal.Parse(text)
	}
	return seeder.Seed(ctx, access, seedAccounts)
}

func (a *app) networkStart(cmd *cobra.Command, args []string) error {
	if a.ctx.Project == nil {
		return project.ErrNotFound
	}
	net, ok := a.ctx.Project.Networks[args[0]]
	if !ok {
		return &icpcontext.UnknownNetworkError{Name: args[0]}
	}
	background, _ := cmd.Flags().GetBool("background")

	launcher, err := a.launcherFor()
	if err != nil {
		return err
	}
	sup := network.NewSupervisor(a.ctx.NetworksDir, a.portClaims, launcher, &lazySeeder{httpClient: a.httpClient, keys: a.keys}, func(s network.State) {
		cmd.Println(args[0] + ": " + s.String())
	})

	var seedAccounts []string
	if self, err := identity.Principal(a.keys, identity.DefaultName); err == nil {
		seedAccounts = append(seedAccounts, self)
	}

	return sup.Start(cmd.Context(), a.projectName, net, seedAccounts, background)
}

func (a *app) networkStop(cmd *cobra.Command, args []string) error {
	if a.ctx.Project == nil {
		return project.ErrNotFound
	}
	net, ok := a.ctx.Project.Networks[args[0]]
	if !ok {
		return &icpcontext.UnknownNetworkError{Name: args[0]}
	}
	launcher, err := a.launcherFor()
	if err != nil {
		return err
	}
	sup := network.NewSupervisor(a.ctx.NetworksDir, a.portClaims, launcher, nil, nil)
	return sup.Stop(cmd.Context(), net)
}

func (a *app) networkPing(cmd *cobra.Command, args []string) error {
	if a.ctx.Project == nil {
		return project.ErrNotFound
	}
	net, ok := a.ctx.Project.Networks[args[0]]
	if !ok {
		return &icpcontext.UnknownNetworkError{Name: args[0]}
	}
	waitHealthy, _ := cmd.Flags().GetBool("wait-healthy")

	if waitHealthy {
		if adminURL, err := network.AdminURL(net, a.ctx.NetworksDir); err == nil {
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()
			healthy := false
			watchErr := network.WatchState(ctx, adminURL, func(line network.WatchLine) bool {
				if line.Kind != "state" {
					return true
				}
				if line.Text == "Running" {
					healthy = true
					return false
				}
				return true
			})
			if healthy {
				cmd.Println("ok")
				return nil
			}
			if watchErr != nil && watchErr != context.DeadlineExceeded {
				// Admin control plane unreachable: fall through to polling.
			} else {
				return fmt.Errorf("icp: network %q did not become healthy", args[0])
			}
		}
	}

	deadline := time.Now().Add(2 * time.Minute)
	for {
		access, err := network.Resolve(net, a.ctx.NetworksDir)
		if err == nil {
			rc := &agentclient.Client{BaseURL: access.URL, HTTP: a.httpClient}
			if _, callErr := rc.Call(cmd.Context(), managementclient.ManagementCanisterID, "ping", nil); callErr == nil {
				cmd.Println("ok")
				return nil
			} else if !waitHealthy {
				return callErr
			}
		} else if !waitHealthy {
			return err
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("icp: network %q did not become healthy", args[0])
		}
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-time.After(time.Second):
		}
	}
}

// networkLogs streams a running managed network's launcher logs over its
// admin control plane's `/watch` socket (SPEC_FULL.md's websocket wiring).
// Without --follow it prints whatever arrives in a short grace window and
// returns; with --follow it keeps streaming until interrupted.
func (a *app) networkLogs(cmd *cobra.Command, args []string) error {
	if a.ctx.Project == nil {
		return project.ErrNotFound
	}
	net, ok := a.ctx.Project.Networks[args[0]]
	if !ok {
		return &icpcontext.UnknownNetworkError{Name: args[0]}
	}
	follow, _ := cmd.Flags().GetBool("follow")

	adminURL, err := network.AdminURL(net, a.ctx.NetworksDir)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if !follow {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
	}

	err = network.WatchState(ctx, adminURL, func(line network.WatchLine) bool {
		if line.Kind == "log" {
			cmd.Println(line.Text)
		}
		return true
	})
	if err != nil && err != context.DeadlineExceeded && err != context.Canceled {
		return err
	}
	return nil
}

func (a *app) snapshotDownload(cmd *cobra.Command, args []string) error {
	identitySel, netSel, envSel := selectors(cmd)
	snapshotID, dirPath := args[0], args[1]
	resume, _ := cmd.Flags().GetBool("resume")
	canisterName, _ := cmd.Flags().GetString("canister")

	id, agent, err := a.ctx.GetCanisterIDAndAgent(cmd.Context(), canisterRef(canisterName), envSel, netSel, identitySel)
	if err != nil {
		return err
	}

	dir, err := snapshot.Open(dirPath)
	if err != nil {
		return err
	}
	if err := dir.RequireFreshOrResumable(resume, false); err != nil {
		return err
	}
	return snapshot.Download(cmd.Context(), agent, id, snapshotID, dir, a.sink)
}

func (a *app) snapshotUpload(cmd *cobra.Command, args []string) error {
	identitySel, netSel, envSel := selectors(cmd)
	dirPath := args[0]
	resume, _ := cmd.Flags().GetBool("resume")
	canisterName, _ := cmd.Flags().GetString("canister")

	id, agent, err := a.ctx.GetCanisterIDAndAgent(cmd.Context(), canisterRef(canisterName), envSel, netSel, identitySel)
	if err != nil {
		return err
	}

	dir, err := snapshot.Open(dirPath)
	if err != nil {
		return err
	}
	if err := dir.RequireFreshOrResumable(resume, true); err != nil {
		return err
	}
	return snapshot.Upload(cmd.Context(), agent, id, dir, a.sink)
}

func (a *app) identityImport(cmd *cobra.Command, args []string) error {
	name := args[0]
	fromPEM, _ := cmd.Flags().GetString("from-pem")
	decryptFile, _ := cmd.Flags().GetString("decryption-password-from-file")
	fromSeedFile, _ := cmd.Flags().GetString("from-seed-file")
	readSeedPhrase, _ := cmd.Flags().GetBool("read-seed-phrase")
	assertKeyType, _ := cmd.Flags().GetString("assert-key-type")

	src := identity.ImportSource{AssertKeyType: assertKeyType}
	switch {
	case fromPEM != "":
		data, err := os.ReadFile(fromPEM)
		if err != nil {
			return fmt.Errorf("icp: read PEM file: %w", err)
		}
		src.FromPEMBytes = data
		if decryptFile != "" {
			pw, err := os.ReadFile(decryptFile)
			if err != nil {
				return fmt.Errorf("icp: read decryption password file: %w", err)
			}
			src.FromPEMDecryptionPassword = pw
		}
	case fromSeedFile != "":
		src.FromSeedFilePath = fromSeedFile
	case readSeedPhrase:
		phrase, err := readLine(os.Stdin)
		if err != nil {
			return fmt.Errorf("icp: read seed phrase: %w", err)
		}
		src.FromSeedPhrase = phrase
	}

	return identity.Import(a.keys, name, src, false)
}

func readLine(f *os.File) (string, error) {
	var buf []byte
	b := make([]byte, 1)
	for {
		n, err := f.Read(b)
		if n > 0 {
			if b[0] == '\n' {
				break
			}
			buf = append(buf, b[0])
		}
		if err != nil {
			break
		}
	}
	return strings.TrimRight(string(buf), "\r"), nil
}

func (a *app) identityPrincipal(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("identity")
	if name == "" {
		name = identity.DefaultName
	}
	text, err := identity.Principal(a.keys, name)
	if err != nil {
		return err
	}
	cmd.Println(text)
	return nil
}

func (a *app) cyclesMint(cmd *cobra.Command, args []string) error {
	identitySel, netSel, envSel := selectors(cmd)
	accounts, _ := cmd.Flags().GetStringArray("account")
	if len(accounts) == 0 {
		accounts = []string{identitySel.Resolve()}
	}

	access, _, _, err := a.resolveAccess(cmd, netSel, envSel)
	if err != nil {
		return err
	}

	seeder := &lazySeeder{httpClient: a.httpClient, keys: a.keys}
	return seeder.Seed(cmd.Context(), access, accounts)
}

// resolveAccess is GetAgent's access resolution without also building an
// agent, for cycles mint which needs the ledger endpoint directly rather
// than a remote.Canister wrapper.
func (a *app) resolveAccess(cmd *cobra.Command, netSel icpcontext.NetworkSelector, envSel icpcontext.EnvironmentSelector) (network.Access, string, string, error) {
	if a.ctx.Project == nil {
		return network.Access{}, "", "", project.ErrNotFound
	}
	envName := environmentName(envSel)
	env, ok := a.ctx.Project.Environments[envName]
	if !ok {
		return network.Access{}, "", "", &icpcontext.UnknownEnvironmentError{Name: envName}
	}
	net, ok := a.ctx.Project.Networks[env.Network]
	if !ok {
		return network.Access{}, "", "", &icpcontext.UnknownNetworkError{Name: env.Network}
	}
	access, err := network.Resolve(net, a.ctx.NetworksDir)
	return access, env.Network, envName, err
}
