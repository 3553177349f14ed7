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
	"testing"

	flyerrors "flyarray/internal/errors"
)

type fixedLimits struct {
	limit int
	hint  uint64
}

func (f fixedLimits) SendQueueLimit(MessageQueueType) int      { return f.limit }
func (f fixedLimits) ReceiveQueueHint(MessageQueueType) uint64 { return f.hint }

func newTestQueue(t *testing.T, limit int, hint uint64) *MultiChannelQueue {
	t.Helper()
	q, err := NewMultiChannelQueue("peer1", fixedLimits{limit: limit, hint: hint})
	if err != nil {
		t.Fatalf("NewMultiChannelQueue: %v", err)
	}
	return q
}

func TestMultiChannelQueuePushPopSizeInvariant(t *testing.T) {
	q := newTestQueue(t, 8, 8)

	q.PushBack(MessageQueueReplication, msg("a"))
	q.PushBack(MessageQueueQuery, msg("b"))
	if q.Size() != 2 {
		t.Fatalf("expected size 2, got %d", q.Size())
	}

	if _, _, delta := q.PopFront(); delta != nil {
		_ = delta
	}
	if q.Size() != 1 {
		t.Fatalf("expected size 1 after one pop, got %d", q.Size())
	}
}

func TestMultiChannelQueueRoundRobin(t *testing.T) {
	q := newTestQueue(t, 8, 8)

	q.PushBack(MessageQueueReplication, msg("x1"))
	q.PushBack(MessageQueueQuery, msg("y1"))
	q.PushBack(MessageQueueReplication, msg("x2"))
	q.PushBack(MessageQueueQuery, msg("y2"))

	var order []string
	for i := 0; i < 4; i++ {
		m, _, _ := q.PopFront()
		if m == nil {
			t.Fatalf("unexpected empty pop at step %d", i)
		}
		order = append(order, string(m.Record))
	}

	want := []string{"x1", "y1", "x2", "y2"}
	for i, w := range want {
		if order[i] != w {
			t.Fatalf("pop order = %v, want %v", order, want)
		}
	}
}

func TestMultiChannelQueueRoundRobinTouchesKDistinctChannels(t *testing.T) {
	q := newTestQueue(t, 8, 8)
	mqts := []MessageQueueType{MessageQueueReplication, MessageQueueQuery, MessageQueueMetadata}
	for _, mqt := range mqts {
		q.PushBack(mqt, msg("m"))
	}

	seen := make(map[MessageQueueType]bool)
	for range mqts {
		_, mqt, _ := q.PopFront()
		seen[mqt] = true
	}
	if len(seen) != len(mqts) {
		t.Fatalf("expected %d distinct channels touched, got %d", len(mqts), len(seen))
	}
}

func TestMultiChannelQueueActiveChannelCountTracksEligibility(t *testing.T) {
	q := newTestQueue(t, 8, 1)

	q.PushBack(MessageQueueReplication, msg("a"))
	if q.ActiveChannelCount() != 1 {
		t.Fatalf("expected 1 active channel, got %d", q.ActiveChannelCount())
	}

	q.PopFront() // exhausts the lone credit unit
	if q.ActiveChannelCount() != 0 {
		t.Fatalf("expected 0 active channels after credit exhaustion, got %d", q.ActiveChannelCount())
	}
}

func TestMultiChannelQueuePeerRestartResetsSequenceState(t *testing.T) {
	q := newTestQueue(t, 8, 8)

	q.PushBack(MessageQueueReplication, msg("a"))
	q.PopFront()

	if _, err := q.SetRemoteState(MessageQueueReplication, 8, q.LocalGenID(), 1, 0, 0); err != nil {
		t.Fatalf("first setRemoteState: %v", err)
	}
	if q.RemoteGenID() != 1 {
		t.Fatalf("expected remoteGenID 1, got %d", q.RemoteGenID())
	}

	// Peer restarts: remoteGenID increases. Every channel's sequence
	// counters reset to zero.
	if _, err := q.SetRemoteState(MessageQueueReplication, 8, q.LocalGenID(), 2, 0, 0); err != nil {
		t.Fatalf("second setRemoteState: %v", err)
	}
	if q.RemoteGenID() != 2 {
		t.Fatalf("expected remoteGenID 2, got %d", q.RemoteGenID())
	}

	ch := q.channelFor(MessageQueueReplication)
	if ch.localSeqNum != 0 || ch.localSeqNumOnPeer != 0 || ch.remoteSeqNum != 0 {
		t.Fatalf("expected sequence state reset, got localSeqNum=%d localSeqNumOnPeer=%d remoteSeqNum=%d",
			ch.localSeqNum, ch.localSeqNumOnPeer, ch.remoteSeqNum)
	}
}

func TestMultiChannelQueueStaleGenerationIgnored(t *testing.T) {
	q := newTestQueue(t, 8, 8)

	if _, err := q.SetRemoteState(MessageQueueReplication, 8, q.LocalGenID(), 5, 0, 0); err != nil {
		t.Fatalf("setRemoteState: %v", err)
	}
	// A stale remoteGen (lower than what we've already observed) is
	// silently ignored, not applied and not an error.
	delta, err := q.SetRemoteState(MessageQueueReplication, 3, q.LocalGenID(), 2, 0, 0)
	if err != nil {
		t.Fatalf("expected stale update to be ignored, got error: %v", err)
	}
	if delta != nil {
		t.Fatalf("expected no delta from a stale update, got %v", delta)
	}
	if q.RemoteGenID() != 5 {
		t.Fatalf("expected remoteGenID to remain 5, got %d", q.RemoteGenID())
	}
}

func TestMultiChannelQueueLocalGenerationOvershootIsFatal(t *testing.T) {
	q := newTestQueue(t, 8, 8)

	_, err := q.SetRemoteState(MessageQueueReplication, 8, q.LocalGenID()+1, 0, 0, 0)
	if err == nil {
		t.Fatal("expected ProtocolViolation, got nil")
	}
	if flyerrors.GetCode(err) != flyerrors.ErrCodeProtocolViolation {
		t.Fatalf("expected ProtocolViolation, got %v", err)
	}
}

func TestMultiChannelQueueAbortMessages(t *testing.T) {
	q := newTestQueue(t, 8, 8)
	q.PushBack(MessageQueueReplication, msg("a"))
	q.PushBack(MessageQueueQuery, msg("b"))

	dropped := q.AbortMessages()
	if len(dropped[MessageQueueReplication]) != 1 || len(dropped[MessageQueueQuery]) != 1 {
		t.Fatalf("expected one dropped message per channel, got %v", dropped)
	}
	if q.Size() != 0 || q.ActiveChannelCount() != 0 {
		t.Fatalf("expected queue drained, got size=%d active=%d", q.Size(), q.ActiveChannelCount())
	}
}

func TestMultiChannelQueueSwap(t *testing.T) {
	a := newTestQueue(t, 8, 8)
	b := newTestQueue(t, 8, 8)

	a.PushBack(MessageQueueReplication, msg("a-msg"))
	aGen := a.LocalGenID()

	a.Swap(b)

	if b.Size() != 1 {
		t.Fatalf("expected the swapped-in queue to carry the pending message, got size %d", b.Size())
	}
	if b.LocalGenID() != aGen {
		t.Fatalf("expected swapped-in queue to carry the original generation id")
	}
	if a.Size() != 0 {
		t.Fatalf("expected the swapped-out queue to be empty, got size %d", a.Size())
	}
}

func TestMultiChannelQueueSnapshotReportsPerChannelDepth(t *testing.T) {
	q := newTestQueue(t, 8, 8)
	if len(q.Snapshot()) != 0 {
		t.Fatalf("expected no channels before any traffic")
	}

	q.PushBack(MessageQueueReplication, msg("a"))
	q.PushBack(MessageQueueReplication, msg("b"))
	q.PushBack(MessageQueueQuery, msg("c"))

	stats := q.Snapshot()
	if len(stats) != 2 {
		t.Fatalf("expected two distinct channels opened, got %d", len(stats))
	}

	byMQT := make(map[MessageQueueType]ChannelStats, len(stats))
	for _, s := range stats {
		byMQT[s.MQT] = s
	}
	if byMQT[MessageQueueReplication].QueueDepth != 2 {
		t.Errorf("expected replication depth 2, got %d", byMQT[MessageQueueReplication].QueueDepth)
	}
	if byMQT[MessageQueueQuery].QueueDepth != 1 {
		t.Errorf("expected query depth 1, got %d", byMQT[MessageQueueQuery].QueueDepth)
	}
	if byMQT[MessageQueueReplication].SendQueueLimit != 8 {
		t.Errorf("expected send queue limit 8, got %d", byMQT[MessageQueueReplication].SendQueueLimit)
	}
}
