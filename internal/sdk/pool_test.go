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

package sdk

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"flyarray/internal/network"
)

type fixedLimits struct {
	limit int
	hint  uint64
}

func (f fixedLimits) SendQueueLimit(network.MessageQueueType) int      { return f.limit }
func (f fixedLimits) ReceiveQueueHint(network.MessageQueueType) uint64 { return f.hint }

func newTestConnection(t *testing.T) *network.Connection {
	t.Helper()
	client, server := net.Pipe()

	mgrA := network.NewInstanceManager(fixedLimits{limit: 8, hint: 8}, nil, nil)
	mgrB := network.NewInstanceManager(fixedLimits{limit: 8, hint: 8}, nil, nil)

	a, err := mgrA.Accept("peer", client)
	if err != nil {
		t.Fatalf("Accept a: %v", err)
	}
	if _, err := mgrB.Accept("peer", server); err != nil {
		t.Fatalf("Accept b: %v", err)
	}
	t.Cleanup(func() {
		mgrA.DisconnectAll(nil)
		mgrB.DisconnectAll(nil)
	})
	return a
}

func TestQueryPoolAcquireReleaseRoundTrip(t *testing.T) {
	conn := newTestConnection(t)
	pool := NewQueryPool(conn, PoolConfig{MaxConcurrentQueries: 2, AcquireTimeout: time.Second})

	ctx := context.Background()
	slot1, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if slot1.QueryID == "" {
		t.Fatal("expected a non-empty query ID")
	}

	stats := pool.Stats()
	if stats.InUse != 1 {
		t.Fatalf("expected 1 slot in use, got %d", stats.InUse)
	}

	pool.Release(slot1)
	if got := pool.Stats().InUse; got != 0 {
		t.Fatalf("expected 0 slots in use after release, got %d", got)
	}
}

func TestQueryPoolBlocksBeyondCapacity(t *testing.T) {
	conn := newTestConnection(t)
	pool := NewQueryPool(conn, PoolConfig{MaxConcurrentQueries: 1, AcquireTimeout: 100 * time.Millisecond})

	ctx := context.Background()
	slot1, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if _, err := pool.Acquire(ctx); err == nil {
		t.Fatal("expected the second Acquire to time out while the pool is at capacity")
	}

	pool.Release(slot1)
	slot2, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("expected Acquire to succeed after Release, got %v", err)
	}
	pool.Release(slot2)
}

func TestQueryPoolCloseDetachesActiveSlots(t *testing.T) {
	conn := newTestConnection(t)
	pool := NewQueryPool(conn, PoolConfig{MaxConcurrentQueries: 4, AcquireTimeout: time.Second})

	slot, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	pool.Close()

	if _, err := pool.Acquire(context.Background()); err == nil {
		t.Fatal("expected Acquire to fail on a closed pool")
	}

	// Release after Close must not panic even though Close already
	// cleared the active set.
	pool.Release(slot)
}

func TestQueryPoolSlotMarksAbortReason(t *testing.T) {
	conn := newTestConnection(t)
	pool := NewQueryPool(conn, PoolConfig{MaxConcurrentQueries: 4, AcquireTimeout: time.Second})

	slot, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	conn.Disconnect(errors.New("simulated abort"))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && slot.Err() == nil {
		time.Sleep(time.Millisecond)
	}
	if slot.Err() == nil {
		t.Fatal("expected the slot to observe the connection's abort reason")
	}
}
