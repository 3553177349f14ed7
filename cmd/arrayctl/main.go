/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
arrayctl is an interactive administration shell for a running flyarray
instance's connection subsystem: inspect which peers are connected, how
full each peer's channels are, dial new peers, and tear down misbehaving
ones. It never touches array data itself, only the connections that
carry it.

Usage:

	arrayctl                        # connect using the default/env config
	arrayctl --config /etc/flyarray.toml
	arrayctl --instance-id node-3
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/chzyer/readline"

	"flyarray/internal/audit"
	"flyarray/internal/cluster"
	"flyarray/internal/config"
	"flyarray/internal/network"
	"flyarray/pkg/cli"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "Path to a TOML configuration file")
	instanceID := flag.String("instance-id", "arrayctl", "Instance ID this session identifies itself as")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("arrayctl v%s\n", version)
		return
	}

	mgr := config.NewManager()
	if *configPath != "" {
		if err := mgr.LoadFromFile(*configPath); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				cli.ErrConfigNotFound(*configPath).Exit()
			}
			cli.NewCLIError("failed to load config").WithDetail(err.Error()).Exit()
		}
	}
	mgr.LoadFromEnv()
	cfg := mgr.Get()

	auditMgr := audit.NewManager(audit.DefaultConfig())
	defer auditMgr.Stop()

	instances := network.NewInstanceManager(network.NewConfigLimitSource(cfg), nil, auditMgr)
	defer instances.DisconnectAll(fmt.Errorf("arrayctl exiting"))

	membershipCfg := cluster.DefaultMembershipConfig(*instanceID)
	membership := cluster.NewMembershipManager(membershipCfg, instances, nil, auditMgr)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := membership.Start(ctx); err != nil {
		cli.PrintWarning("membership manager failed to start: %v", err)
	}
	defer membership.Stop()

	sh := newShell(cfg, instances, membership, auditMgr)

	printBanner(*instanceID)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          cli.Highlight("arrayctl> "),
		HistoryFile:     "",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		cli.PrintError("failed to start readline: %v", err)
		os.Exit(1)
	}
	defer rl.Close()

	runREPL(rl, sh)
}

// runREPL drives the read-eval-print loop until the user exits or
// stdin is closed. It is factored out of main so the readline plumbing
// stays separate from shell command semantics.
func runREPL(rl *readline.Instance, sh *shell) {
	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF (Ctrl-D) or readline.ErrInterrupt (Ctrl-C)
			fmt.Println()
			return
		}

		output, quit := sh.dispatch(line)
		if output != "" {
			fmt.Println(output)
		}
		if quit {
			return
		}
	}
}

func printBanner(instanceID string) {
	fmt.Println()
	fmt.Println(cli.Highlight("  arrayctl") + " " + cli.Dimmed("v"+version))
	fmt.Println(cli.Dimmed("  flyarray connection subsystem administration shell"))
	fmt.Printf("  identifying as %s\n\n", cli.Highlight(instanceID))
	fmt.Println(cli.Dimmed("  type 'help' for a list of commands, 'exit' to quit"))
	fmt.Println()
}
