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

// Channel is a single FIFO of outgoing messages for one message queue
// type, tracking the sequence-number and credit state needed to enforce
// per-channel ordered delivery under cooperative backpressure.
//
// A Channel has no internal locking: it is owned exclusively by the
// Connection's single-threaded event loop, which guarantees one
// activation at a time.
type Channel struct {
	instanceID string
	mqt        MessageQueueType

	remoteSize     uint64
	sendQueueLimit int

	localSeqNum       uint64
	localSeqNumOnPeer uint64
	remoteSeqNum      uint64

	msgQ []*protocol.MessageDesc
}

func newChannel(instanceID string, mqt MessageQueueType, sendQueueLimit int, remoteSizeHint uint64) *Channel {
	if sendQueueLimit < 1 {
		sendQueueLimit = 1
	}
	if remoteSizeHint < 1 {
		remoteSizeHint = 1
	}
	return &Channel{
		instanceID:     instanceID,
		mqt:            mqt,
		remoteSize:     remoteSizeHint,
		sendQueueLimit: sendQueueLimit,
	}
}

// eligible reports whether popFront would currently succeed: the queue
// is non-empty and, for flow-controlled channels, the peer has
// unexhausted credit.
func (c *Channel) eligible() bool {
	if len(c.msgQ) == 0 {
		return false
	}
	if c.mqt == MessageQueueNone {
		return true
	}
	return c.localSeqNum-c.localSeqNumOnPeer < c.remoteSize
}

// ChannelStats is a point-in-time snapshot of one channel's queue depth
// and flow-control state, for diagnostics tooling that must not touch
// the channel itself outside its owning Connection's event loop.
type ChannelStats struct {
	MQT               MessageQueueType
	QueueDepth        int
	SendQueueLimit    int
	RemoteCredit      uint64
	LocalSeqNum       uint64
	LocalSeqNumOnPeer uint64
	RemoteSeqNum      uint64
}

func (c *Channel) snapshot() ChannelStats {
	return ChannelStats{
		MQT:               c.mqt,
		QueueDepth:        len(c.msgQ),
		SendQueueLimit:    c.sendQueueLimit,
		RemoteCredit:      c.remoteSize,
		LocalSeqNum:       c.localSeqNum,
		LocalSeqNumOnPeer: c.localSeqNumOnPeer,
		RemoteSeqNum:      c.remoteSeqNum,
	}
}

// availableSpace implements the available-space formula:
// min(sendQueueLimit - |msgQ|, remoteSize - (localSeqNum -
// localSeqNumOnPeer)), floored at zero. MessageQueueNone channels are
// never credit-limited, so only the send-queue term applies.
func (c *Channel) availableSpace() uint64 {
	var bySendLimit uint64
	if len(c.msgQ) < c.sendQueueLimit {
		bySendLimit = uint64(c.sendQueueLimit - len(c.msgQ))
	}
	if c.mqt == MessageQueueNone {
		return bySendLimit
	}
	outstanding := c.localSeqNum - c.localSeqNumOnPeer
	var byCredit uint64
	if c.remoteSize > outstanding {
		byCredit = c.remoteSize - outstanding
	}
	if bySendLimit < byCredit {
		return bySendLimit
	}
	return byCredit
}

// pushBack appends msg to the tail of the channel's queue, failing with
// a sender or receiver overflow.
func (c *Channel) pushBack(msg *protocol.MessageDesc) (*StatusDelta, error) {
	if len(c.msgQ) >= c.sendQueueLimit {
		return nil, flyerrors.OverflowSender(c.mqt.String(), c.sendQueueLimit)
	}
	if c.mqt != MessageQueueNone && uint64(len(c.msgQ)) >= c.remoteSize {
		return nil, flyerrors.OverflowReceiver(c.mqt.String(), c.remoteSize)
	}

	before := c.availableSpace()
	c.msgQ = append(c.msgQ, msg)
	after := c.availableSpace()
	return edgeDelta(c.instanceID, c.mqt, before, after), nil
}

// popFront removes and returns the head of the queue if the channel is
// eligible, advancing localSeqNum by one.
func (c *Channel) popFront() (*protocol.MessageDesc, *StatusDelta) {
	if !c.eligible() {
		return nil, nil
	}
	before := c.availableSpace()
	msg := c.msgQ[0]
	c.msgQ = c.msgQ[1:]
	c.localSeqNum++
	after := c.availableSpace()
	return msg, edgeDelta(c.instanceID, c.mqt, before, after)
}

// setRemoteState applies a peer-reported credit update, validated by
// validateRemoteState.
func (c *Channel) setRemoteState(remoteSize, localSeqNumOnPeer, remoteSeqNum uint64) (*StatusDelta, error) {
	if err := c.validateRemoteState(localSeqNumOnPeer, remoteSeqNum); err != nil {
		return nil, err
	}

	before := c.availableSpace()
	c.remoteSize = remoteSize
	c.localSeqNumOnPeer = localSeqNumOnPeer
	c.remoteSeqNum = remoteSeqNum
	after := c.availableSpace()
	return edgeDelta(c.instanceID, c.mqt, before, after), nil
}

// validateRemoteState rejects a peer claim to have observed more of our
// messages than we have actually emitted, and also rejects any regression in
// the peer's own reported send counter (remoteSeqNum): a legitimate
// decrease can only follow a generation increase, which resets it to
// zero explicitly before this call ever runs (see
// MultiChannelQueue.SetRemoteState). Any other decrease is a reordered
// or forged control frame, not a quirk to tolerate.
func (c *Channel) validateRemoteState(localSeqNumOnPeer, remoteSeqNum uint64) error {
	if localSeqNumOnPeer > c.localSeqNum {
		return flyerrors.ProtocolViolation(fmt.Sprintf(
			"channel %s: peer claims to have observed localSeqNum=%d but only %d have been emitted",
			c.mqt, localSeqNumOnPeer, c.localSeqNum))
	}
	if remoteSeqNum < c.remoteSeqNum {
		return flyerrors.ProtocolViolation(fmt.Sprintf(
			"channel %s: peer's reported remoteSeqNum=%d is behind the last observed value %d",
			c.mqt, remoteSeqNum, c.remoteSeqNum))
	}
	return nil
}

// resetSequenceState zeroes the sequence-number fields following a
// peer-restart detection. remoteSize and the queued messages are left
// untouched; only the credit accounting resets.
func (c *Channel) resetSequenceState() {
	c.localSeqNum = 0
	c.localSeqNumOnPeer = 0
	c.remoteSeqNum = 0
}

// abortMessages drops every queued message, returning them so the
// caller can notify attached queries, and never blocks.
func (c *Channel) abortMessages() []*protocol.MessageDesc {
	dropped := c.msgQ
	c.msgQ = nil
	return dropped
}
