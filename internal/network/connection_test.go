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
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	flyerrors "flyarray/internal/errors"
	"flyarray/internal/protocol"
)

// fakeManager is a minimal Manager used to observe dispatch and status
// publication from tests without pulling in a real query engine.
type fakeManager struct {
	limit int
	hint  uint64

	mu         sync.Mutex
	dispatched []*protocol.MessageDesc
	statuses   []StatusDelta

	// blockDispatch, when non-nil, is closed by the test to release the
	// first call to Dispatch, which otherwise parks there. dispatchStarted
	// is closed once that first call has been observed, so the test can
	// wait for the peer's actor loop to be pinned mid-handleInbound before
	// asserting on backpressure.
	blockDispatch   chan struct{}
	dispatchStarted chan struct{}
	blockOnce       sync.Once
}

func (m *fakeManager) SendQueueLimit(MessageQueueType) int      { return m.limit }
func (m *fakeManager) ReceiveQueueHint(MessageQueueType) uint64 { return m.hint }

func (m *fakeManager) Dispatch(instanceID string, mqt MessageQueueType, desc *protocol.MessageDesc) {
	m.mu.Lock()
	m.dispatched = append(m.dispatched, desc)
	m.mu.Unlock()

	if m.blockDispatch == nil {
		return
	}
	m.blockOnce.Do(func() {
		if m.dispatchStarted != nil {
			close(m.dispatchStarted)
		}
		<-m.blockDispatch
	})
}

func (m *fakeManager) PublishStatus(delta StatusDelta) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, delta)
}

func (m *fakeManager) dispatchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dispatched)
}

func newConnectionPair(t *testing.T) (a, b *Connection, mgrA, mgrB *fakeManager) {
	t.Helper()
	clientConn, serverConn := net.Pipe()

	mgrA = &fakeManager{limit: 8, hint: 8}
	mgrB = &fakeManager{limit: 8, hint: 8}

	a = NewConnection("peer-b", mgrA)
	b = NewConnection("peer-a", mgrB)

	if err := a.Start(clientConn); err != nil {
		t.Fatalf("a.Start: %v", err)
	}
	if err := b.Start(serverConn); err != nil {
		t.Fatalf("b.Start: %v", err)
	}
	return a, b, mgrA, mgrB
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestConnectionStartReachesConnected(t *testing.T) {
	a, b, _, _ := newConnectionPair(t)
	defer a.Disconnect(nil)
	defer b.Disconnect(nil)

	if a.State() != Connected {
		t.Fatalf("expected a to be Connected, got %s", a.State())
	}
	if b.State() != Connected {
		t.Fatalf("expected b to be Connected, got %s", b.State())
	}
}

func TestConnectionSendMessageDispatchesOnPeer(t *testing.T) {
	a, b, _, mgrB := newConnectionPair(t)
	defer a.Disconnect(nil)
	defer b.Disconnect(nil)

	if err := a.SendMessage(MessageQueueQuery, []byte("hello"), nil, protocol.FlagNone); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	waitFor(t, time.Second, func() bool { return mgrB.dispatchCount() == 1 })
}

func TestConnectionDisconnectAbortsAttachedQuery(t *testing.T) {
	a, b, _, _ := newConnectionPair(t)
	defer b.Disconnect(nil)

	var mu sync.Mutex
	var gotErr error
	done := make(chan struct{})
	a.AttachQuery("q1", func(err error) {
		mu.Lock()
		gotErr = err
		mu.Unlock()
		close(done)
	})

	a.Disconnect(nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("onAbort callback never fired")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotErr == nil {
		t.Fatal("expected a non-nil abort reason")
	}
	waitFor(t, time.Second, func() bool { return a.State() == NotConnected })
}

func TestConnectionDetachQueryPreventsAbortCallback(t *testing.T) {
	a, b, _, _ := newConnectionPair(t)
	defer b.Disconnect(nil)

	called := false
	a.AttachQuery("q1", func(error) { called = true })
	a.DetachQuery("q1")
	a.Disconnect(nil)

	waitFor(t, time.Second, func() bool { return a.State() == NotConnected })
	time.Sleep(10 * time.Millisecond)
	if called {
		t.Fatal("expected detached query to not receive the abort callback")
	}
}

func TestConnectionOnAbortHookFires(t *testing.T) {
	a, b, _, _ := newConnectionPair(t)
	defer b.Disconnect(nil)

	done := make(chan error, 1)
	a.OnAbort(func(err error) { done <- err })
	a.Disconnect(nil)

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected a non-nil disconnect reason")
		}
	case <-time.After(time.Second):
		t.Fatal("onAbort hook never fired")
	}
}

func TestConnectionRemotePeerCloseIsDetected(t *testing.T) {
	a, b, _, _ := newConnectionPair(t)
	defer a.Disconnect(nil)

	done := make(chan struct{})
	b.OnAbort(func(error) { close(done) })
	a.Disconnect(nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("peer b never observed the closed connection")
	}
	waitFor(t, time.Second, func() bool { return b.State() == NotConnected })
}

func TestConnectionStatsReflectsQueueDepth(t *testing.T) {
	a, b, _, mgrB := newConnectionPair(t)
	defer a.Disconnect(nil)
	defer b.Disconnect(nil)

	if stats := a.Stats(); len(stats) != 0 {
		t.Fatalf("expected no channels before any traffic, got %v", stats)
	}

	if err := a.SendMessage(MessageQueueMetadata, []byte("row"), nil, protocol.FlagNone); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	waitFor(t, time.Second, func() bool { return mgrB.dispatchCount() == 1 })

	stats := a.Stats()
	if len(stats) != 1 {
		t.Fatalf("expected exactly one channel opened, got %d", len(stats))
	}
	if stats[0].MQT != MessageQueueMetadata {
		t.Errorf("expected MessageQueueMetadata, got %s", stats[0].MQT)
	}
	if stats[0].QueueDepth != 0 {
		t.Errorf("expected the message to have already been popped and sent, got depth %d", stats[0].QueueDepth)
	}
	if stats[0].LocalSeqNum != 1 {
		t.Errorf("expected localSeqNum to have advanced to 1, got %d", stats[0].LocalSeqNum)
	}
}

func TestConnectionStatsNilAfterDisconnect(t *testing.T) {
	a, b, _, _ := newConnectionPair(t)
	defer b.Disconnect(nil)

	a.Disconnect(nil)
	waitFor(t, time.Second, func() bool { return a.State() == NotConnected })

	if stats := a.Stats(); stats != nil {
		t.Errorf("expected nil stats after disconnect, got %v", stats)
	}
}

// TestConnectionAbortResetsIsSendingEvenWithWriteInFlight exercises the
// interleaving where a disconnect fires while a write is outstanding:
// isSending must end up false, not stuck latched true forever.
func TestConnectionAbortResetsIsSendingEvenWithWriteInFlight(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()

	mgr := &fakeManager{limit: 8, hint: 8}
	a := NewConnection("peer-b", mgr)
	if err := a.Start(clientConn); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// serverConn is never read, so the write this dispatches blocks on
	// the net.Pipe rendezvous until the connection aborts, keeping
	// isSending latched true for as long as abort takes to run.
	if err := a.SendMessage(MessageQueueQuery, []byte("stuck"), nil, protocol.FlagNone); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	a.Disconnect(errors.New("disconnect races the in-flight write"))

	select {
	case <-a.doneCh:
	case <-time.After(time.Second):
		t.Fatal("connection never finished aborting")
	}

	if a.isSending {
		t.Error("expected abort to reset isSending to false")
	}
}

// TestConnectionPairCreditRecoversAfterControlUpdate pins a's peer with a
// one-message receive hint, drives it past that credit, and proves the
// third send only succeeds once the peer's real, wire-delivered control
// update reports the first message as received — not from a direct
// SetRemoteState call, but from PostControlUpdate's replacement,
// queueControlUpdate, round-tripping over an actual net.Pipe connection.
func TestConnectionPairCreditRecoversAfterControlUpdate(t *testing.T) {
	clientConn, serverConn := net.Pipe()

	// a's own manager supplies the initial guessed remoteSize for a's
	// outbound channels (NewMultiChannelQueue(a.instanceID, a.manager)),
	// so it is mgrA's hint, not mgrB's, that pins a's credit to one
	// message before any control update has arrived.
	mgrA := &fakeManager{limit: 8, hint: 1}
	mgrB := &fakeManager{
		limit:           8,
		hint:            8,
		blockDispatch:   make(chan struct{}),
		dispatchStarted: make(chan struct{}),
	}

	a := NewConnection("peer-b", mgrA)
	b := NewConnection("peer-a", mgrB)
	if err := a.Start(clientConn); err != nil {
		t.Fatalf("a.Start: %v", err)
	}
	if err := b.Start(serverConn); err != nil {
		t.Fatalf("b.Start: %v", err)
	}
	defer a.Disconnect(nil)
	defer b.Disconnect(nil)

	const mqt = MessageQueueBulk

	if err := a.SendMessage(mqt, []byte("m1"), nil, protocol.FlagNone); err != nil {
		t.Fatalf("first send: %v", err)
	}

	select {
	case <-mgrB.dispatchStarted:
	case <-time.After(time.Second):
		t.Fatal("peer never reached Dispatch for the first message")
	}

	// b's actor loop is now parked inside handleInbound for m1, so no
	// control update reporting it as received can reach a yet. a's
	// channel to mqt has remoteSize 1 (mgrA's hint) and one message
	// already outstanding, unacked.
	if err := a.SendMessage(mqt, []byte("m2"), nil, protocol.FlagNone); err != nil {
		t.Fatalf("second send: %v", err)
	}

	err := a.SendMessage(mqt, []byte("m3"), nil, protocol.FlagNone)
	if err == nil {
		t.Fatal("expected the third send to overflow the peer's one-message advertised receive capacity")
	}
	var arrayErr *flyerrors.ArrayError
	if !errors.As(err, &arrayErr) || arrayErr.Code != flyerrors.ErrCodeOverflowReceiver {
		t.Fatalf("expected an OverflowReceiver error, got %v", err)
	}

	close(mgrB.blockDispatch)

	waitFor(t, time.Second, func() bool {
		return a.SendMessage(mqt, []byte("m3-retry"), nil, protocol.FlagNone) == nil
	})
}
