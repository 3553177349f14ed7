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

package main

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strconv"
	"strings"
	"time"

	"flyarray/internal/audit"
	"flyarray/internal/cluster"
	"flyarray/internal/config"
	"flyarray/internal/network"
	"flyarray/pkg/cli"
)

// shell holds the live state one arrayctl session operates on: the
// instance manager owning every Connection, the membership manager
// tracking known peers, and the audit trail both feed into. It has no
// network I/O of its own beyond what those three already do.
type shell struct {
	cfg           *config.Config
	instances     *network.InstanceManager
	membership    *cluster.MembershipManager
	auditMgr      *audit.Manager
	authenticated bool
	help          *cli.HelpFormatter
}

func newShell(cfg *config.Config, instances *network.InstanceManager, membership *cluster.MembershipManager, auditMgr *audit.Manager) *shell {
	return &shell{cfg: cfg, instances: instances, membership: membership, auditMgr: auditMgr, help: buildHelpFormatter()}
}

// buildHelpFormatter describes every dispatch command so the help
// command renders it through HelpFormatter instead of a hand-maintained
// text block that drifts out of sync with dispatch's switch statement.
func buildHelpFormatter() *cli.HelpFormatter {
	h := cli.NewHelpFormatter("arrayctl", version)
	h.AddCommand(cli.Command{Name: "status", Description: "show connection state, or one instance's detail", Usage: "status [instance-id]"})
	h.AddCommand(cli.Command{Name: "members", Description: "list known cluster members"})
	h.AddCommand(cli.Command{Name: "channels", Description: "show per-channel queue depth and credit", Usage: "channels <instance-id>"})
	h.AddCommand(cli.Command{Name: "connect", Description: "dial a peer and register it under id", Usage: "connect <instance-id> <addr> <port>"})
	h.AddCommand(cli.Command{Name: "discover", Description: "scan the local network for advertising instances", Usage: "discover [timeout-seconds]"})
	h.AddCommand(cli.Command{Name: "disconnect", Description: "tear down a connection (requires login)", Usage: "disconnect <instance-id>"})
	h.AddCommand(cli.Command{Name: "audit", Description: "show recent audit events, optionally filtered", Usage: "audit [peer-id]"})
	h.AddCommand(cli.Command{Name: "login", Description: "authenticate to unlock destructive commands"})
	h.AddCommand(cli.Command{Name: "help", Description: "show this text"})
	h.AddCommand(cli.Command{Name: "exit", Aliases: []string{"quit"}, Description: "leave arrayctl"})
	return h
}

// dispatch parses and runs one REPL line, returning the text to print
// and whether the shell should exit. It never panics on malformed
// input: unknown commands and wrong argument counts print a usage hint.
func (s *shell) dispatch(line string) (output string, quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", false
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help", "?":
		return cli.Capture(s.help.PrintUsage), false
	case "exit", "quit":
		return cli.Info("goodbye"), true
	case "login":
		return s.cmdLogin(args), false
	case "status":
		return s.cmdStatus(args), false
	case "members":
		return s.cmdMembers(args), false
	case "channels":
		return s.cmdChannels(args), false
	case "connect":
		return s.cmdConnect(args), false
	case "discover":
		return s.cmdDiscover(args), false
	case "disconnect":
		return s.cmdDisconnect(args), false
	case "audit":
		return s.cmdAudit(args), false
	default:
		return cli.ErrInvalidCommand(cmd).Render(), false
	}
}

func (s *shell) cmdLogin(args []string) string {
	if s.cfg.AdminPassword == "" {
		return cli.Warning("no admin password configured; destructive commands are unlocked")
	}
	password := cli.PromptPassword("admin password")
	if subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.AdminPassword)) != 1 {
		s.authenticated = false
		return cli.ErrAuthFailed().Render()
	}
	s.authenticated = true
	return cli.Success("authenticated")
}

// requireAuth reports whether destructive commands are currently
// permitted: either no admin password was configured at all, or this
// session has already presented the right one via login.
func (s *shell) requireAuth() bool {
	return s.cfg.AdminPassword == "" || s.authenticated
}

func (s *shell) cmdStatus(args []string) string {
	if len(args) == 1 {
		return s.instanceStatus(args[0])
	}
	return s.clusterStatus()
}

func (s *shell) clusterStatus() string {
	ids := s.instances.InstanceIDs()
	if len(ids) == 0 {
		return cli.Info("no active connections")
	}
	table := cli.NewTable("INSTANCE", "STATE", "PEER ADDR")
	for _, id := range ids {
		conn, ok := s.instances.Get(id)
		if !ok {
			continue
		}
		addr := "-"
		if pa := conn.PeerAddr(); pa != nil {
			addr = pa.String()
		}
		table.AddRow(id, conn.State().String(), addr)
	}
	return renderTable(table)
}

func (s *shell) instanceStatus(instanceID string) string {
	conn, ok := s.instances.Get(instanceID)
	if !ok {
		return cli.Error(fmt.Sprintf("no connection to instance %q", instanceID))
	}
	addr := "-"
	if pa := conn.PeerAddr(); pa != nil {
		addr = pa.String()
	}
	return fmt.Sprintf("%s\n  state: %s\n  peer addr: %s\n",
		cli.Highlight(instanceID), conn.State().String(), addr)
}

func (s *shell) cmdMembers(args []string) string {
	if s.membership == nil {
		return cli.Warning("membership tracking is disabled for this session")
	}
	members := s.membership.Members()
	if len(members) == 0 {
		return cli.Info("no known members")
	}
	table := cli.NewTable("INSTANCE", "ADDR", "PORT", "STATE")
	for _, m := range members {
		table.AddRow(m.InstanceID, m.Addr, strconv.Itoa(m.Port), m.State.String())
	}
	return renderTable(table)
}

func (s *shell) cmdChannels(args []string) string {
	if len(args) != 1 {
		return cli.ErrMissingArgument("instance-id", "channels <instance-id>").Render()
	}
	conn, ok := s.instances.Get(args[0])
	if !ok {
		return cli.Error(fmt.Sprintf("no connection to instance %q", args[0]))
	}
	stats := conn.Stats()
	if stats == nil {
		return cli.Warning("connection is not currently established")
	}
	return renderChannelStats(stats)
}

func renderChannelStats(stats []network.ChannelStats) string {
	if len(stats) == 0 {
		return cli.Info("no channels opened yet")
	}
	table := cli.NewTable("CHANNEL", "QUEUED", "SEND LIMIT", "CREDIT", "LOCAL SEQ", "REMOTE SEQ")
	for _, st := range stats {
		table.AddRow(
			st.MQT.String(),
			cli.FormatNumber(int64(st.QueueDepth)),
			cli.FormatNumber(int64(st.SendQueueLimit)),
			cli.FormatNumber(int64(st.RemoteCredit)),
			cli.FormatNumber(int64(st.LocalSeqNum)),
			cli.FormatNumber(int64(st.RemoteSeqNum)),
		)
	}
	return renderTable(table)
}

func (s *shell) cmdConnect(args []string) string {
	if len(args) != 3 {
		return cli.ErrMissingArgument("addr and port", "connect <instance-id> <addr> <port>").Render()
	}
	port, err := strconv.Atoi(args[2])
	if err != nil {
		return cli.ErrInvalidValue("port", args[2], "must be an integer").Render()
	}

	spinner := cli.NewSpinner(fmt.Sprintf("dialing %s:%d", args[1], port))
	spinner.Start()
	_, connErr := s.instances.Connect(context.Background(), args[0], args[1], port)
	spinner.Stop()

	if connErr != nil {
		return cli.ErrConnectionFailed(args[1], args[2], connErr).Render()
	}
	return cli.Success(fmt.Sprintf("connected to %s at %s:%d", args[0], args[1], port))
}

// cmdDiscover scans the local network for advertising instances,
// showing a progress bar while the mDNS query is outstanding since
// DiscoverInstances blocks for the full timeout.
func (s *shell) cmdDiscover(args []string) string {
	timeout := 3 * time.Second
	if len(args) == 1 {
		secs, err := strconv.Atoi(args[0])
		if err != nil {
			return cli.ErrInvalidValue("timeout-seconds", args[0], "must be an integer").Render()
		}
		timeout = time.Duration(secs) * time.Second
	}

	svc := cluster.NewDiscoveryService(cluster.DiscoveryConfig{Enabled: false})

	ticks := int(timeout / (100 * time.Millisecond))
	if ticks < 1 {
		ticks = 1
	}
	bar := cli.NewProgressBar(ticks, "scanning for instances")
	ticker := time.NewTicker(100 * time.Millisecond)
	tickDone := make(chan struct{})
	go func() {
		defer close(tickDone)
		defer ticker.Stop()
		elapsed := 0
		for range ticker.C {
			elapsed++
			bar.Update(elapsed)
		}
	}()

	found, err := svc.DiscoverInstances(timeout)
	ticker.Stop()
	<-tickDone
	bar.Complete()

	if err != nil {
		return cli.NewCLIError("discovery failed").WithDetail(err.Error()).Render()
	}
	if len(found) == 0 {
		return cli.Info("no instances found")
	}
	table := cli.NewTable("INSTANCE", "ADDR")
	for _, inst := range found {
		table.AddRow(inst.InstanceID, inst.Addr)
	}
	return renderTable(table)
}

func (s *shell) cmdDisconnect(args []string) string {
	if len(args) != 1 {
		return cli.ErrMissingArgument("instance-id", "disconnect <instance-id>").Render()
	}
	if !s.requireAuth() {
		return cli.ErrPermissionDenied("disconnect (requires login)").Render()
	}
	conn, ok := s.instances.Get(args[0])
	if !ok {
		return cli.Error(fmt.Sprintf("no connection to instance %q", args[0]))
	}
	conn.Disconnect(fmt.Errorf("disconnected by operator via arrayctl"))
	return cli.Success(fmt.Sprintf("disconnect requested for %s", args[0]))
}

func (s *shell) cmdAudit(args []string) string {
	opts := audit.QueryOptions{Limit: 20}
	if len(args) == 1 {
		opts.PeerID = args[0]
	}
	events := s.auditMgr.QueryEvents(opts)
	if len(events) == 0 {
		return cli.Info("no audit events recorded")
	}
	table := cli.NewTable("TIME", "TYPE", "PEER", "DETAIL")
	for _, e := range events {
		table.AddRow(e.Timestamp.Format("15:04:05"), string(e.Type), e.PeerID, e.Detail)
	}
	return renderTable(table)
}

// renderTable captures Table.Print's stdout output as a string so
// dispatch can return it uniformly instead of writing directly, which
// keeps command handlers testable without capturing os.Stdout.
func renderTable(t *cli.Table) string {
	return cli.CaptureTable(t)
}
