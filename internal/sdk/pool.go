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
Package sdk is the client-facing entry point for issuing queries over an
already-established network.Connection. A single Connection multiplexes
every in-flight query to one peer, but nothing stops a careless caller
from attaching hundreds of queries at once and starving the connection's
send queues; QueryPool exists to cap that.

Usage:

	pool := sdk.NewQueryPool(conn, sdk.DefaultPoolConfig())
	slot, err := pool.Acquire(ctx)
	defer pool.Release(slot)
	conn.SendMessage(network.MessageQueueQuery, record, nil, protocol.FlagNone)
*/
package sdk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	flyerrors "flyarray/internal/errors"
	"flyarray/internal/network"
)

// PoolConfig bounds how many queries a QueryPool lets run concurrently
// against one Connection.
type PoolConfig struct {
	MaxConcurrentQueries int64         // default: 16
	AcquireTimeout       time.Duration // default: 30s
}

// DefaultPoolConfig returns sensible defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConcurrentQueries: 16,
		AcquireTimeout:       30 * time.Second,
	}
}

// QuerySlot represents one query's claim on a QueryPool. The zero value
// is not valid; slots come only from QueryPool.Acquire.
type QuerySlot struct {
	QueryID    string
	AcquiredAt time.Time

	mu      sync.Mutex
	aborted error
}

// Err returns the reason the underlying Connection aborted this query,
// if the connection went down while the slot was held.
func (s *QuerySlot) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

func (s *QuerySlot) markAborted(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = reason
}

// QueryPool bounds concurrent queries against a single Connection using
// a weighted semaphore, and tracks which query IDs are currently
// attached so Close can detach every one of them on shutdown.
type QueryPool struct {
	conn   *network.Connection
	config PoolConfig
	sem    *semaphore.Weighted

	mu     sync.Mutex
	active map[string]*QuerySlot
	closed bool
}

// NewQueryPool creates a pool of at most config.MaxConcurrentQueries
// concurrent queries against conn.
func NewQueryPool(conn *network.Connection, config PoolConfig) *QueryPool {
	if config.MaxConcurrentQueries <= 0 {
		config.MaxConcurrentQueries = 16
	}
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = 30 * time.Second
	}
	return &QueryPool{
		conn:   conn,
		config: config,
		sem:    semaphore.NewWeighted(config.MaxConcurrentQueries),
		active: make(map[string]*QuerySlot),
	}
}

// Acquire blocks until a query slot is free (or ctx/AcquireTimeout
// expires), attaches a fresh query ID to the underlying Connection, and
// returns the slot. Callers must Release it exactly once.
func (p *QueryPool) Acquire(ctx context.Context) (*QuerySlot, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, flyerrors.NewConnectionError("query pool is closed")
	}
	p.mu.Unlock()

	acquireCtx, cancel := context.WithTimeout(ctx, p.config.AcquireTimeout)
	defer cancel()

	if err := p.sem.Acquire(acquireCtx, 1); err != nil {
		return nil, flyerrors.NewConnectionError("timed out waiting for a free query slot").WithCause(err)
	}

	slot := &QuerySlot{QueryID: GenerateQueryID(), AcquiredAt: time.Now()}
	p.conn.AttachQuery(slot.QueryID, func(reason error) { slot.markAborted(reason) })

	p.mu.Lock()
	p.active[slot.QueryID] = slot
	p.mu.Unlock()

	return slot, nil
}

// Release detaches slot's query ID from the Connection and frees its
// semaphore weight for the next Acquire. Safe to call once per slot;
// a nil slot is a no-op.
func (p *QueryPool) Release(slot *QuerySlot) {
	if slot == nil {
		return
	}
	p.conn.DetachQuery(slot.QueryID)

	p.mu.Lock()
	if _, ok := p.active[slot.QueryID]; ok {
		delete(p.active, slot.QueryID)
		p.mu.Unlock()
		p.sem.Release(1)
		return
	}
	p.mu.Unlock()
}

// Stats reports how many query slots are currently held.
func (p *QueryPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		InUse: len(p.active),
		Max:   p.config.MaxConcurrentQueries,
	}
}

// PoolStats summarizes a QueryPool's current occupancy.
type PoolStats struct {
	InUse int
	Max   int64
}

func (s PoolStats) String() string {
	return fmt.Sprintf("%d/%d query slots in use", s.InUse, s.Max)
}

// Close detaches every still-active query and prevents further Acquire
// calls. It does not touch the underlying Connection's lifecycle.
func (p *QueryPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	ids := make([]string, 0, len(p.active))
	for id := range p.active {
		ids = append(ids, id)
	}
	p.active = make(map[string]*QuerySlot)
	p.mu.Unlock()

	for _, id := range ids {
		p.conn.DetachQuery(id)
	}
}
