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

package network

import (
	"context"
	"fmt"
	"net"
	"sync"

	"flyarray/internal/audit"
	"flyarray/internal/config"
	flyerrors "flyarray/internal/errors"
	"flyarray/internal/logging"
	"flyarray/internal/protocol"
)

// ConfigLimitSource adapts *config.Config to LimitSource, translating
// between the config package's string-keyed maps and MessageQueueType so
// internal/config never has to import internal/network.
type ConfigLimitSource struct {
	cfg *config.Config
}

// NewConfigLimitSource wraps cfg as a LimitSource.
func NewConfigLimitSource(cfg *config.Config) *ConfigLimitSource {
	return &ConfigLimitSource{cfg: cfg}
}

// SendQueueLimit looks up mqt's send-queue cap, falling back to the
// "none" entry and then to 1 if neither is configured.
func (s *ConfigLimitSource) SendQueueLimit(mqt MessageQueueType) int {
	if v, ok := s.cfg.SendQueueLimits[mqt.String()]; ok {
		return v
	}
	if v, ok := s.cfg.SendQueueLimits["none"]; ok {
		return v
	}
	return 1
}

// ReceiveQueueHint looks up mqt's initial advertised receive capacity,
// with the same "none"-then-1 fallback as SendQueueLimit.
func (s *ConfigLimitSource) ReceiveQueueHint(mqt MessageQueueType) uint64 {
	if v, ok := s.cfg.ReceiveQueueHints[mqt.String()]; ok {
		return v
	}
	if v, ok := s.cfg.ReceiveQueueHints["none"]; ok {
		return v
	}
	return 1
}

// DispatchFunc handles one inbound data message. It is invoked from a
// Connection's actor goroutine, so it must not block on that connection.
// desc and its Record and Payload are valid only until the call returns:
// the Connection then releases them to its buffer pool, so a handler
// copies whatever it keeps.
type DispatchFunc func(instanceID string, mqt MessageQueueType, desc *protocol.MessageDesc)

// InstanceManager owns every Connection to every known peer, keyed by
// instance ID. It is the concrete Manager every Connection reports
// status deltas and inbound data messages to, and the entry point the
// cluster membership layer uses to open new connections as peers are
// discovered.
type InstanceManager struct {
	limits LimitSource
	logger *logging.Logger
	audit  *audit.Manager

	mu          sync.RWMutex
	connections map[string]*Connection

	dispatch DispatchFunc

	statusMu sync.Mutex
	statuses []StatusDelta
}

// NewInstanceManager creates a Manager backed by limits, dispatching
// inbound data messages to onDispatch. auditMgr may be nil to disable
// audit trail recording entirely.
func NewInstanceManager(limits LimitSource, onDispatch DispatchFunc, auditMgr *audit.Manager) *InstanceManager {
	if onDispatch == nil {
		onDispatch = func(string, MessageQueueType, *protocol.MessageDesc) {}
	}
	return &InstanceManager{
		limits:      limits,
		logger:      logging.NewLogger("network"),
		audit:       auditMgr,
		connections: make(map[string]*Connection),
		dispatch:    onDispatch,
	}
}

// logAudit is a nil-safe helper: every call site stays terse whether or
// not an audit.Manager was configured.
func (m *InstanceManager) logAudit(event audit.Event) {
	if m.audit != nil {
		m.audit.LogEvent(event)
	}
}

// onConnectionAbort is the OnAbort hook shared by Connect and Accept: it
// removes the connection from the registry and records the disconnect,
// classifying protocol violations distinctly from ordinary transport loss.
func (m *InstanceManager) onConnectionAbort(instanceID string, conn *Connection, reason error) {
	m.mu.Lock()
	if m.connections[instanceID] == conn {
		delete(m.connections, instanceID)
	}
	m.mu.Unlock()

	eventType := audit.EventPeerDisconnected
	if flyerrors.GetCode(reason) == flyerrors.ErrCodeProtocolViolation {
		eventType = audit.EventProtocolViolation
	}
	m.logAudit(audit.Event{Type: eventType, PeerID: instanceID, Detail: fmt.Sprint(reason)})
}

func (m *InstanceManager) SendQueueLimit(mqt MessageQueueType) int      { return m.limits.SendQueueLimit(mqt) }
func (m *InstanceManager) ReceiveQueueHint(mqt MessageQueueType) uint64 { return m.limits.ReceiveQueueHint(mqt) }

// Dispatch implements Manager.
func (m *InstanceManager) Dispatch(instanceID string, mqt MessageQueueType, desc *protocol.MessageDesc) {
	m.dispatch(instanceID, mqt, desc)
}

// PublishStatus implements Manager. The manager keeps only the most
// recent delta per (instance, mqt); callers that need history should
// subscribe at the connection level instead.
func (m *InstanceManager) PublishStatus(delta StatusDelta) {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	m.logger.Debug("status delta", "peer", delta.InstanceID, "mqt", delta.MQT.String(), "available", fmt.Sprint(delta.Available))
	for i, s := range m.statuses {
		if s.InstanceID == delta.InstanceID && s.MQT == delta.MQT {
			m.statuses[i] = delta
			return
		}
	}
	m.statuses = append(m.statuses, delta)
}

// Connect dials instanceID at addr:port, replacing any prior connection
// to that instance. The old connection, if any, is disconnected first so
// its attached queries are notified rather than silently orphaned.
func (m *InstanceManager) Connect(ctx context.Context, instanceID, addr string, port int) (*Connection, error) {
	m.mu.Lock()
	if old, ok := m.connections[instanceID]; ok {
		delete(m.connections, instanceID)
		m.mu.Unlock()
		old.Disconnect(fmt.Errorf("network: superseded by a new connection to %s", instanceID))
	} else {
		m.mu.Unlock()
	}

	conn := NewConnection(instanceID, m)
	conn.OnAbort(func(reason error) { m.onConnectionAbort(instanceID, conn, reason) })

	if err := conn.ConnectAsync(ctx, addr, port); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.connections[instanceID] = conn
	m.mu.Unlock()
	m.logAudit(audit.Event{Type: audit.EventPeerConnected, PeerID: instanceID})
	return conn, nil
}

// Accept wraps an inbound socket as a Connection for instanceID, learned
// from the peer's handshake by the caller before Accept is invoked.
func (m *InstanceManager) Accept(instanceID string, sock net.Conn) (*Connection, error) {
	conn := NewConnection(instanceID, m)
	conn.OnAbort(func(reason error) { m.onConnectionAbort(instanceID, conn, reason) })
	if err := conn.Start(sock); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.connections[instanceID] = conn
	m.mu.Unlock()
	m.logAudit(audit.Event{Type: audit.EventPeerConnected, PeerID: instanceID})
	return conn, nil
}

// Get returns the current connection to instanceID, if any.
func (m *InstanceManager) Get(instanceID string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.connections[instanceID]
	return c, ok
}

// InstanceIDs returns the instance IDs of every currently managed
// connection, in no particular order.
func (m *InstanceManager) InstanceIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.connections))
	for id := range m.connections {
		ids = append(ids, id)
	}
	return ids
}

// DisconnectAll tears down every managed connection, used at process
// shutdown.
func (m *InstanceManager) DisconnectAll(reason error) {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.Disconnect(reason)
	}
}
