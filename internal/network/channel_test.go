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
	"flyarray/internal/protocol"
)

func msg(record string) *protocol.MessageDesc {
	return &protocol.MessageDesc{
		Header: protocol.Header{
			Magic:   protocol.MagicByte,
			Version: protocol.ProtocolVersion,
			Type:    protocol.MsgData,
		},
		Record: []byte(record),
	}
}

func TestChannelSingleFIFO(t *testing.T) {
	c := newChannel("peer1", MessageQueueReplication, 8, 3)

	for _, m := range []string{"a", "b", "c"} {
		if _, err := c.pushBack(msg(m)); err != nil {
			t.Fatalf("pushBack(%s) failed: %v", m, err)
		}
	}

	for _, want := range []string{"a", "b", "c"} {
		got, _ := c.popFront()
		if got == nil || string(got.Record) != want {
			t.Fatalf("popFront: got %v, want %s", got, want)
		}
	}
}

func TestChannelPushOverflowsReceiverAtRemoteSize(t *testing.T) {
	c := newChannel("peer1", MessageQueueReplication, 8, 3)

	for _, m := range []string{"a", "b", "c"} {
		if _, err := c.pushBack(msg(m)); err != nil {
			t.Fatalf("pushBack(%s) failed: %v", m, err)
		}
	}

	// Queue length already equals remoteSize: a fourth push is rejected
	// even though nothing has been popped yet.
	_, err := c.pushBack(msg("d"))
	if err == nil {
		t.Fatal("expected OverflowReceiver, got nil")
	}
	if flyerrors.GetCode(err) != flyerrors.ErrCodeOverflowReceiver {
		t.Fatalf("expected OverflowReceiver, got %v", err)
	}
}

func TestChannelCreditReturn(t *testing.T) {
	c := newChannel("peer1", MessageQueueReplication, 8, 1)

	if _, err := c.pushBack(msg("A")); err != nil {
		t.Fatalf("pushBack(A): %v", err)
	}
	got, _ := c.popFront()
	if got == nil || string(got.Record) != "A" {
		t.Fatalf("expected to pop A, got %v", got)
	}

	// No credit left; B queues but cannot be popped.
	if _, err := c.pushBack(msg("B")); err != nil {
		t.Fatalf("pushBack(B): %v", err)
	}
	if got, _ := c.popFront(); got != nil {
		t.Fatalf("expected no pop while credit exhausted, got %v", got)
	}

	delta, err := c.setRemoteState(1, 1, 0)
	if err != nil {
		t.Fatalf("setRemoteState: %v", err)
	}
	if delta == nil || delta.Available != 1 {
		t.Fatalf("expected a 0->1 status delta, got %v", delta)
	}

	got, _ = c.popFront()
	if got == nil || string(got.Record) != "B" {
		t.Fatalf("expected to pop B after credit return, got %v", got)
	}
}

func TestChannelOverflowSender(t *testing.T) {
	c := newChannel("peer1", MessageQueueReplication, 2, 100)

	if _, err := c.pushBack(msg("a")); err != nil {
		t.Fatalf("pushBack(a): %v", err)
	}
	if _, err := c.pushBack(msg("b")); err != nil {
		t.Fatalf("pushBack(b): %v", err)
	}
	_, err := c.pushBack(msg("c"))
	if err == nil {
		t.Fatal("expected OverflowSender, got nil")
	}
	if flyerrors.GetCode(err) != flyerrors.ErrCodeOverflowSender {
		t.Fatalf("expected OverflowSender, got %v", err)
	}
}

func TestChannelNoneUnthrottled(t *testing.T) {
	c := newChannel("peer1", MessageQueueNone, 4, 1)

	for _, m := range []string{"a", "b", "c"} {
		if _, err := c.pushBack(msg(m)); err != nil {
			t.Fatalf("pushBack(%s): unexpected error %v", m, err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		got, _ := c.popFront()
		if got == nil || string(got.Record) != want {
			t.Fatalf("popFront: got %v, want %s", got, want)
		}
	}
}

func TestChannelStatusDeltaOnlyOnEdges(t *testing.T) {
	c := newChannel("peer1", MessageQueueReplication, 8, 8)

	// From empty (available > 0) into non-empty stays positive: no delta
	// unless the push itself crosses to the limit. remoteSize=8 and
	// sendQueueLimit=8, so pushing one message keeps availableSpace at 7.
	if delta, err := c.pushBack(msg("a")); err != nil || delta != nil {
		t.Fatalf("expected no delta on first push, got delta=%v err=%v", delta, err)
	}
	if delta, err := c.pushBack(msg("b")); err != nil || delta != nil {
		t.Fatalf("expected no delta on second push, got delta=%v err=%v", delta, err)
	}
}

func TestChannelStatusDeltaOnSaturation(t *testing.T) {
	c := newChannel("peer1", MessageQueueReplication, 1, 8)

	// sendQueueLimit=1: the first push saturates the send-side term,
	// driving availableSpace from 1 to 0 -> a delta fires.
	delta, err := c.pushBack(msg("a"))
	if err != nil {
		t.Fatalf("pushBack: %v", err)
	}
	if delta == nil || delta.Available != 0 {
		t.Fatalf("expected a 1->0 delta, got %v", delta)
	}

	// Popping releases the slot: 0 -> 1, another delta.
	_, popDelta := c.popFront()
	if popDelta == nil || popDelta.Available != 1 {
		t.Fatalf("expected a 0->1 delta on pop, got %v", popDelta)
	}
}

func TestValidateRemoteStateRejectsSequenceOvershoot(t *testing.T) {
	c := newChannel("peer1", MessageQueueReplication, 8, 8)
	c.pushBack(msg("a"))
	c.popFront() // localSeqNum == 1

	_, err := c.setRemoteState(8, 5, 0)
	if err == nil {
		t.Fatal("expected ProtocolViolation, got nil")
	}
	if flyerrors.GetCode(err) != flyerrors.ErrCodeProtocolViolation {
		t.Fatalf("expected ProtocolViolation, got %v", err)
	}
}

func TestValidateRemoteStateRejectsRemoteSeqRegression(t *testing.T) {
	c := newChannel("peer1", MessageQueueReplication, 8, 8)

	if _, err := c.setRemoteState(8, 0, 10); err != nil {
		t.Fatalf("setRemoteState: %v", err)
	}
	_, err := c.setRemoteState(8, 0, 3)
	if err == nil {
		t.Fatal("expected ProtocolViolation for remoteSeqNum regression, got nil")
	}
	if flyerrors.GetCode(err) != flyerrors.ErrCodeProtocolViolation {
		t.Fatalf("expected ProtocolViolation, got %v", err)
	}
}

func TestChannelAbortMessagesDrainsQueue(t *testing.T) {
	c := newChannel("peer1", MessageQueueReplication, 8, 8)
	c.pushBack(msg("a"))
	c.pushBack(msg("b"))

	dropped := c.abortMessages()
	if len(dropped) != 2 {
		t.Fatalf("expected 2 dropped messages, got %d", len(dropped))
	}
	if got, _ := c.popFront(); got != nil {
		t.Fatalf("expected empty queue after abort, got %v", got)
	}
}

func TestChannelRepeatedSetRemoteStateIsNoop(t *testing.T) {
	c := newChannel("peer1", MessageQueueReplication, 8, 8)

	d1, err := c.setRemoteState(4, 0, 0)
	if err != nil {
		t.Fatalf("setRemoteState: %v", err)
	}
	d2, err := c.setRemoteState(4, 0, 0)
	if err != nil {
		t.Fatalf("setRemoteState: %v", err)
	}
	if d1 != nil || d2 != nil {
		t.Fatalf("expected no status delta from a no-op update, got %v, %v", d1, d2)
	}
}
