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
Package cluster tracks which instances make up this array-database
cluster and keeps a Connection open to each one it can reach.

Membership here is deliberately thin: there is no consensus, no leader
election, and no gossip protocol. An instance either has an open
Connection to a peer or it doesn't, and MembershipManager's only job is
to keep that mapping close to reality — dialing peers found via
DiscoveryService or handed in explicitly, and dropping peers whose
Connection reports itself aborted. Anything that needs a
strongly-consistent view of cluster membership (partition ownership,
leader election) belongs in a layer built on top of this one, not in it.
*/
package cluster

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"flyarray/internal/audit"
	"flyarray/internal/logging"
	"flyarray/internal/network"
)

// MemberState is the membership manager's view of one peer instance.
type MemberState int32

const (
	MemberStateUnknown MemberState = iota
	MemberStateJoining
	MemberStateActive
	MemberStateUnreachable
	MemberStateLeft
)

func (s MemberState) String() string {
	switch s {
	case MemberStateJoining:
		return "JOINING"
	case MemberStateActive:
		return "ACTIVE"
	case MemberStateUnreachable:
		return "UNREACHABLE"
	case MemberStateLeft:
		return "LEFT"
	default:
		return "UNKNOWN"
	}
}

// MemberInfo is what the membership manager knows about one instance.
type MemberInfo struct {
	InstanceID string
	Addr       string
	Port       int
	State      MemberState
	JoinedAt   time.Time
	LastProbed time.Time
}

// MembershipConfig configures a MembershipManager.
type MembershipConfig struct {
	InstanceID    string
	SeedInstances []MemberInfo  // known peers to dial at Start, bypassing discovery
	ProbeInterval time.Duration // how often ActiveMembers are health-probed
	ProbeTimeout  time.Duration // per-peer dial timeout for a health probe
	DiscoveryPort int           // not read; mDNS discovery runs only when NewMembershipManager gets a non-nil DiscoveryService
}

// DefaultMembershipConfig returns sensible defaults for instanceID.
func DefaultMembershipConfig(instanceID string) MembershipConfig {
	return MembershipConfig{
		InstanceID:    instanceID,
		ProbeInterval: 5 * time.Second,
		ProbeTimeout:  2 * time.Second,
	}
}

// MembershipManager dials known and discovered peers through an
// network.InstanceManager and keeps a membership table describing which
// ones currently have a live Connection.
type MembershipManager struct {
	config    MembershipConfig
	instances *network.InstanceManager
	discovery *DiscoveryService
	logger    *logging.Logger
	audit     *audit.Manager

	mu      sync.RWMutex
	members map[string]*MemberInfo

	onJoin func(*MemberInfo)
	onLeave func(*MemberInfo)

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewMembershipManager creates a manager that dials peers through
// instances. auditMgr and discovery may both be nil.
func NewMembershipManager(config MembershipConfig, instances *network.InstanceManager, discovery *DiscoveryService, auditMgr *audit.Manager) *MembershipManager {
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = 5 * time.Second
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 2 * time.Second
	}
	return &MembershipManager{
		config:    config,
		instances: instances,
		discovery: discovery,
		logger:    logging.NewLogger("cluster"),
		audit:     auditMgr,
		members:   make(map[string]*MemberInfo),
		stopCh:    make(chan struct{}),
	}
}

// Start dials every seed instance, runs one discovery sweep if a
// DiscoveryService was configured, and launches the periodic health
// probe loop.
func (mm *MembershipManager) Start(ctx context.Context) error {
	for _, seed := range mm.config.SeedInstances {
		mm.addMember(&MemberInfo{InstanceID: seed.InstanceID, Addr: seed.Addr, Port: seed.Port, State: MemberStateJoining, JoinedAt: time.Now()})
	}

	if mm.discovery != nil {
		found, err := mm.discovery.DiscoverInstances(3 * time.Second)
		if err != nil {
			mm.logger.Warn("initial discovery sweep failed", "error", err.Error())
		}
		for _, d := range found {
			if d.InstanceID == mm.config.InstanceID {
				continue
			}
			host, port, err := splitHostPort(d.Addr)
			if err != nil {
				continue
			}
			mm.addMember(&MemberInfo{InstanceID: d.InstanceID, Addr: host, Port: port, State: MemberStateJoining, JoinedAt: time.Now()})
		}
	}

	if err := mm.dialJoiningMembers(ctx); err != nil {
		mm.logger.Warn("initial dial pass had failures", "error", err.Error())
	}

	mm.wg.Add(1)
	go mm.probeLoop()
	return nil
}

// Stop halts the probe loop. It does not disconnect any Connection —
// callers that want a clean shutdown should call InstanceManager.DisconnectAll
// themselves.
func (mm *MembershipManager) Stop() {
	close(mm.stopCh)
	mm.wg.Wait()
}

// Join adds addr:port as a peer instance and dials it immediately.
func (mm *MembershipManager) Join(ctx context.Context, instanceID, addr string, port int) error {
	mm.addMember(&MemberInfo{InstanceID: instanceID, Addr: addr, Port: port, State: MemberStateJoining, JoinedAt: time.Now()})
	return mm.dial(ctx, instanceID, addr, port)
}

// Leave disconnects instanceID and marks it left rather than removing it
// outright, so operators can see it departed cleanly instead of just
// falling off the member list.
func (mm *MembershipManager) Leave(instanceID string) {
	if conn, ok := mm.instances.Get(instanceID); ok {
		conn.Disconnect(fmt.Errorf("cluster: %s left the cluster", instanceID))
	}
	mm.mu.Lock()
	m, ok := mm.members[instanceID]
	if ok {
		m.State = MemberStateLeft
	}
	onLeave := mm.onLeave
	mm.mu.Unlock()

	if ok && onLeave != nil {
		go onLeave(m)
	}
	mm.logAudit(audit.Event{Type: audit.EventPeerDisconnected, PeerID: instanceID, Detail: "left cluster"})
}

func (mm *MembershipManager) logAudit(event audit.Event) {
	if mm.audit != nil {
		mm.audit.LogEvent(event)
	}
}

func (mm *MembershipManager) addMember(info *MemberInfo) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if _, exists := mm.members[info.InstanceID]; exists {
		return
	}
	mm.members[info.InstanceID] = info
	if mm.onJoin != nil {
		go mm.onJoin(info)
	}
}

func (mm *MembershipManager) dialJoiningMembers(ctx context.Context) error {
	mm.mu.RLock()
	pending := make([]*MemberInfo, 0, len(mm.members))
	for _, m := range mm.members {
		if m.State == MemberStateJoining {
			pending = append(pending, m)
		}
	}
	mm.mu.RUnlock()

	group, gctx := errgroup.WithContext(ctx)
	for _, m := range pending {
		m := m
		group.Go(func() error { return mm.dial(gctx, m.InstanceID, m.Addr, m.Port) })
	}
	return group.Wait()
}

func (mm *MembershipManager) dial(ctx context.Context, instanceID, addr string, port int) error {
	dialCtx, cancel := context.WithTimeout(ctx, mm.config.ProbeTimeout)
	defer cancel()

	_, err := mm.instances.Connect(dialCtx, instanceID, addr, port)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	m, ok := mm.members[instanceID]
	if !ok {
		return err
	}
	if err != nil {
		m.State = MemberStateUnreachable
		return fmt.Errorf("cluster: dial %s at %s:%d: %w", instanceID, addr, port, err)
	}
	m.State = MemberStateActive
	m.LastProbed = time.Now()
	return nil
}

// probeLoop periodically re-dials every unreachable member and confirms
// active ones still have a live Connection, using an errgroup so a slow
// or hung peer never delays the check on the others.
func (mm *MembershipManager) probeLoop() {
	defer mm.wg.Done()

	ticker := time.NewTicker(mm.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-mm.stopCh:
			return
		case <-ticker.C:
			mm.probeRound()
		}
	}
}

func (mm *MembershipManager) probeRound() {
	mm.mu.RLock()
	targets := make([]*MemberInfo, 0, len(mm.members))
	for _, m := range mm.members {
		if m.State == MemberStateActive || m.State == MemberStateUnreachable {
			targets = append(targets, m)
		}
	}
	mm.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), mm.config.ProbeTimeout)
	defer cancel()

	group, _ := errgroup.WithContext(ctx)
	for _, m := range targets {
		m := m
		group.Go(func() error {
			if conn, ok := mm.instances.Get(m.InstanceID); ok && conn.State() == network.Connected {
				mm.mu.Lock()
				m.State = MemberStateActive
				m.LastProbed = time.Now()
				mm.mu.Unlock()
				return nil
			}
			return mm.dial(ctx, m.InstanceID, m.Addr, m.Port)
		})
	}
	if err := group.Wait(); err != nil {
		mm.logger.Debug("probe round had unreachable members", "error", err.Error())
	}
}

// Members returns a snapshot of every known member.
func (mm *MembershipManager) Members() []*MemberInfo {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	out := make([]*MemberInfo, 0, len(mm.members))
	for _, m := range mm.members {
		snap := *m
		out = append(out, &snap)
	}
	return out
}

// ActiveMembers returns only members whose Connection is currently up.
func (mm *MembershipManager) ActiveMembers() []*MemberInfo {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	out := make([]*MemberInfo, 0)
	for _, m := range mm.members {
		if m.State == MemberStateActive {
			copy := *m
			out = append(out, &copy)
		}
	}
	return out
}

// SetJoinCallback registers a hook fired when a new member is first
// discovered, before it has been dialed.
func (mm *MembershipManager) SetJoinCallback(fn func(*MemberInfo)) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.onJoin = fn
}

// SetLeaveCallback registers a hook fired when Leave marks a member as
// having left the cluster.
func (mm *MembershipManager) SetLeaveCallback(fn func(*MemberInfo)) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.onLeave = fn
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}
