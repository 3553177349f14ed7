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
Package audit records the connection subsystem's security- and
operations-relevant events: peer connect/disconnect, protocol
violations, and generation-based restart detections.

Events are appended to an in-memory ring buffer through a buffered
channel and a single worker goroutine, the same asynchronous-logging
shape flyarray uses everywhere else it must not let an audit sink slow
down the hot path (see internal/network's Connection, which never
blocks waiting for a Manager callback). There is no durable audit
store in this subsystem: the connection layer keeps no durable state
of its own either, by design, so persisting audit history durably
would misrepresent the reliability guarantee actually on offer.
Callers that need durable audit history should tail QueryEvents from a
log shipper.
*/
package audit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"flyarray/internal/logging"
)

// EventType is the closed set of audit-worthy occurrences in the
// connection subsystem.
type EventType string

const (
	// EventPeerConnected fires once a Connection reaches CONNECTED,
	// dial or accept role.
	EventPeerConnected EventType = "PEER_CONNECTED"
	// EventPeerDisconnected fires on every Connection abort, with the
	// triggering reason in Event.Detail.
	EventPeerDisconnected EventType = "PEER_DISCONNECTED"
	// EventProtocolViolation fires when a peer sends inconsistent
	// credit or generation state (a ProtocolViolation).
	EventProtocolViolation EventType = "PROTOCOL_VIOLATION"
	// EventGenerationChanged fires when a peer's generation identifier
	// increases, meaning the peer restarted without either side
	// noticing the TCP-level disconnect.
	EventGenerationChanged EventType = "GENERATION_CHANGED"
	// EventMessagesDropped fires when abortMessages discards queued
	// traffic on disconnect, with the count in Event.Detail.
	EventMessagesDropped EventType = "MESSAGES_DROPPED"
)

// Event is one audit trail entry.
type Event struct {
	Timestamp time.Time
	Type      EventType
	PeerID    string
	Detail    string
}

// Config controls what the Manager records and how much history it
// retains in memory.
type Config struct {
	Enabled    bool
	BufferSize int // channel capacity between LogEvent and the worker
	Capacity   int // number of retained events in the ring buffer
}

// DefaultConfig enables auditing with a modest retained history,
// appropriate for a single process's lifetime.
func DefaultConfig() Config {
	return Config{Enabled: true, BufferSize: 256, Capacity: 4096}
}

// Manager buffers and retains connection-subsystem audit events. It is
// safe for concurrent use: LogEvent is a non-blocking send from any
// goroutine (including a Connection's actor loop), and a single worker
// goroutine owns the ring buffer.
type Manager struct {
	config Config
	logger *logging.Logger

	events chan Event
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.RWMutex
	ring    []Event
	ringPos int
	full    bool

	enabled atomic.Bool
}

// NewManager creates a Manager and starts its worker goroutine.
func NewManager(config Config) *Manager {
	if config.BufferSize <= 0 {
		config.BufferSize = 256
	}
	if config.Capacity <= 0 {
		config.Capacity = 4096
	}
	m := &Manager{
		config: config,
		logger: logging.NewLogger("audit"),
		events: make(chan Event, config.BufferSize),
		stopCh: make(chan struct{}),
		ring:   make([]Event, config.Capacity),
	}
	m.enabled.Store(config.Enabled)
	m.wg.Add(1)
	go m.worker()
	return m
}

// LogEvent enqueues event for recording. If the buffer is full or
// auditing is disabled the event is dropped, never blocking the caller;
// a drop on a full buffer logs a warning.
func (m *Manager) LogEvent(event Event) {
	if !m.enabled.Load() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case m.events <- event:
	default:
		m.logger.Warn("audit buffer full, dropping event", "type", string(event.Type), "peer", event.PeerID)
	}
}

// Enable turns auditing on.
func (m *Manager) Enable() { m.enabled.Store(true) }

// Disable turns auditing off; already-buffered events still drain.
func (m *Manager) Disable() { m.enabled.Store(false) }

// IsEnabled reports whether auditing is currently active.
func (m *Manager) IsEnabled() bool { return m.enabled.Load() }

// Stop drains the worker and returns once it has exited.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case event := <-m.events:
			m.record(event)
		case <-m.stopCh:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case event := <-m.events:
					m.record(event)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) record(event Event) {
	m.mu.Lock()
	m.ring[m.ringPos] = event
	m.ringPos = (m.ringPos + 1) % len(m.ring)
	if m.ringPos == 0 {
		m.full = true
	}
	m.mu.Unlock()

	m.logger.Info("audit event", "type", string(event.Type), "peer", event.PeerID, "detail", event.Detail)
}

// QueryOptions filters QueryEvents.
type QueryOptions struct {
	PeerID string
	Type   EventType
	Since  time.Time
	Limit  int
}

// QueryEvents returns retained events matching opts, most recent first.
func (m *Manager) QueryEvents(opts QueryOptions) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ordered []Event
	if m.full {
		ordered = append(ordered, m.ring[m.ringPos:]...)
		ordered = append(ordered, m.ring[:m.ringPos]...)
	} else {
		ordered = append(ordered, m.ring[:m.ringPos]...)
	}

	var matched []Event
	for i := len(ordered) - 1; i >= 0; i-- {
		e := ordered[i]
		if e.Timestamp.IsZero() {
			continue
		}
		if opts.PeerID != "" && e.PeerID != opts.PeerID {
			continue
		}
		if opts.Type != "" && e.Type != opts.Type {
			continue
		}
		if !opts.Since.IsZero() && e.Timestamp.Before(opts.Since) {
			continue
		}
		matched = append(matched, e)
		if opts.Limit > 0 && len(matched) >= opts.Limit {
			break
		}
	}
	return matched
}

// Summary returns a human-readable one-line count per event type,
// useful for a REPL admin command.
func (m *Manager) Summary() string {
	counts := make(map[EventType]int)
	for _, e := range m.QueryEvents(QueryOptions{}) {
		counts[e.Type]++
	}
	return fmt.Sprintf("%+v", counts)
}
