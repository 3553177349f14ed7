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
	"fmt"

	flyerrors "flyarray/internal/errors"
	"flyarray/internal/protocol"
)

// LimitSource supplies the per-mqt configuration a MultiChannelQueue
// needs to create channels lazily: the local send-queue cap and the
// initial receive capacity to assume for a peer before any credit
// update has arrived.
type LimitSource interface {
	SendQueueLimit(mqt MessageQueueType) int
	ReceiveQueueHint(mqt MessageQueueType) uint64
}

// MultiChannelQueue is an ordered set of Channels keyed by mqt, with a
// round-robin cursor for fair popping and the generation-identifier
// protocol that detects peer restarts without durable storage.
//
// Like Channel, MultiChannelQueue has no internal locking; it is owned
// exclusively by its Connection's event loop.
type MultiChannelQueue struct {
	instanceID string
	limits     LimitSource

	channels           map[MessageQueueType]*Channel
	order              []MessageQueueType
	currIdx            int
	activeChannelCount int
	size               int

	localGenID uint64
	remoteGenID uint64
}

// NewMultiChannelQueue creates an empty queue for the given peer.
// Channels are created lazily on first use.
func NewMultiChannelQueue(instanceID string, limits LimitSource) (*MultiChannelQueue, error) {
	genID, err := newGenerationID()
	if err != nil {
		return nil, err
	}
	return &MultiChannelQueue{
		instanceID: instanceID,
		limits:     limits,
		channels:   make(map[MessageQueueType]*Channel),
		localGenID: genID,
	}, nil
}

// LocalGenID returns this queue's own generation identifier, advertised
// to the peer in every outgoing control tuple.
func (q *MultiChannelQueue) LocalGenID() uint64 { return q.localGenID }

// RemoteGenID returns the peer's generation identifier as last observed,
// zero until first reported.
func (q *MultiChannelQueue) RemoteGenID() uint64 { return q.remoteGenID }

// Size returns the aggregate queued message count across all channels.
func (q *MultiChannelQueue) Size() int { return q.size }

// ActiveChannelCount returns the number of channels currently eligible
// to pop (non-empty and within peer credit).
func (q *MultiChannelQueue) ActiveChannelCount() int { return q.activeChannelCount }

func (q *MultiChannelQueue) channelFor(mqt MessageQueueType) *Channel {
	ch, ok := q.channels[mqt]
	if ok {
		return ch
	}
	limit := 1
	hint := uint64(1)
	if q.limits != nil {
		limit = q.limits.SendQueueLimit(mqt)
		hint = q.limits.ReceiveQueueHint(mqt)
	}
	ch = newChannel(q.instanceID, mqt, limit, hint)
	q.channels[mqt] = ch
	q.order = append(q.order, mqt)
	return ch
}

// PushBack forwards msg to the channel for mqt, creating it lazily, and
// keeps size/activeChannelCount consistent.
func (q *MultiChannelQueue) PushBack(mqt MessageQueueType, msg *protocol.MessageDesc) (*StatusDelta, error) {
	ch := q.channelFor(mqt)
	wasEligible := ch.eligible()

	delta, err := ch.pushBack(msg)
	if err != nil {
		return nil, err
	}
	q.size++
	if !wasEligible && ch.eligible() {
		q.activeChannelCount++
	}
	return delta, nil
}

// PopFront scans channels starting at the round-robin cursor, returning
// the first eligible channel's head and advancing the cursor past it.
// Ties are broken solely by cursor position.
func (q *MultiChannelQueue) PopFront() (*protocol.MessageDesc, MessageQueueType, *StatusDelta) {
	n := len(q.order)
	for i := 0; i < n; i++ {
		idx := (q.currIdx + i) % n
		mqt := q.order[idx]
		ch := q.channels[mqt]

		wasEligible := ch.eligible()
		msg, delta := ch.popFront()
		if msg == nil {
			continue
		}
		q.size--
		if wasEligible && !ch.eligible() {
			q.activeChannelCount--
		}
		q.currIdx = (idx + 1) % n
		return msg, mqt, delta
	}
	return nil, MessageQueueNone, nil
}

// SetRemoteState implements the generation protocol and
// dispatches the credit update to the addressed channel once the
// generation checks pass.
//
// A freshly-started peer has never been told our generation ID and
// reports it as zero (its own RemoteGenID, still at its "never reported"
// default) in every tuple until our first control update reaches it.
// That bootstrap zero is not a stale claim, so it skips the equality
// check rather than being dropped or treated as a violation; any other
// mismatch is judged normally.
func (q *MultiChannelQueue) SetRemoteState(mqt MessageQueueType, remoteSize, localGen, remoteGen, localSeq, remoteSeq uint64) (*StatusDelta, error) {
	if localGen != 0 {
		if localGen < q.localGenID {
			return nil, nil // stale claim about our generation, ignore
		}
		if localGen > q.localGenID {
			return nil, flyerrors.ProtocolViolation(fmt.Sprintf(
				"peer claims our generation is %d but we are at %d", localGen, q.localGenID))
		}
	}
	if remoteGen < q.remoteGenID {
		return nil, nil // stale report of the peer's own generation
	}
	if remoteGen > q.remoteGenID {
		// The very first report of the peer's generation (q.remoteGenID
		// still at its zero default) is not a restart: there is nothing
		// to reset yet, and this connection's own outstanding sequence
		// counters must survive it.
		if q.remoteGenID != 0 {
			q.resetAllSequenceState()
		}
		q.remoteGenID = remoteGen
	}

	ch := q.channelFor(mqt)
	wasEligible := ch.eligible()
	delta, err := ch.setRemoteState(remoteSize, localSeq, remoteSeq)
	if err != nil {
		return nil, err
	}
	nowEligible := ch.eligible()
	switch {
	case !wasEligible && nowEligible:
		q.activeChannelCount++
	case wasEligible && !nowEligible:
		q.activeChannelCount--
	}
	return delta, nil
}

// Snapshot returns a point-in-time ChannelStats for every channel
// opened so far, in creation order.
func (q *MultiChannelQueue) Snapshot() []ChannelStats {
	stats := make([]ChannelStats, 0, len(q.order))
	for _, mqt := range q.order {
		stats = append(stats, q.channels[mqt].snapshot())
	}
	return stats
}

// resetAllSequenceState is run exactly once per detected peer restart:
// every channel's sequence counters return to zero, and
// activeChannelCount is recomputed since eligibility may have changed.
func (q *MultiChannelQueue) resetAllSequenceState() {
	q.activeChannelCount = 0
	for _, mqt := range q.order {
		q.channels[mqt].resetSequenceState()
		if q.channels[mqt].eligible() {
			q.activeChannelCount++
		}
	}
}

// AbortMessages drops every queued message across every channel,
// returning them tagged by mqt so the caller can notify attached
// queries. It never blocks.
func (q *MultiChannelQueue) AbortMessages() map[MessageQueueType][]*protocol.MessageDesc {
	dropped := make(map[MessageQueueType][]*protocol.MessageDesc, len(q.order))
	for _, mqt := range q.order {
		if msgs := q.channels[mqt].abortMessages(); len(msgs) > 0 {
			dropped[mqt] = msgs
		}
	}
	q.size = 0
	q.activeChannelCount = 0
	return dropped
}

// Swap atomically exchanges the contents of two MultiChannelQueues,
// used when a peer reconnects and the network manager wants to move
// messages queued for the old incarnation onto the new connection.
func (q *MultiChannelQueue) Swap(other *MultiChannelQueue) {
	q.channels, other.channels = other.channels, q.channels
	q.order, other.order = other.order, q.order
	q.currIdx, other.currIdx = other.currIdx, q.currIdx
	q.activeChannelCount, other.activeChannelCount = other.activeChannelCount, q.activeChannelCount
	q.size, other.size = other.size, q.size
	q.localGenID, other.localGenID = other.localGenID, q.localGenID
	q.remoteGenID, other.remoteGenID = other.remoteGenID, q.remoteGenID
}
