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

	"flyarray/internal/compression"
	flyerrors "flyarray/internal/errors"
	"flyarray/internal/logging"
	"flyarray/internal/protocol"
)

// ConnState is the connection's position in the NOT_CONNECTED ->
// CONNECT_IN_PROGRESS -> CONNECTED state machine. There is no terminal
// state: on disconnect the Connection returns to NOT_CONNECTED
// (dial-role) or is discarded (accepted-role); the network manager
// decides which.
type ConnState int32

const (
	NotConnected ConnState = iota
	ConnectInProgress
	Connected
)

func (s ConnState) String() string {
	switch s {
	case NotConnected:
		return "NOT_CONNECTED"
	case ConnectInProgress:
		return "CONNECT_IN_PROGRESS"
	case Connected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Manager is the external collaborator a Connection reports to: data
// message dispatch, status-delta publication, and the per-mqt
// configuration inputs each channel needs. The network manager owns
// Connections, never the reverse, per the back-pointer design note.
type Manager interface {
	LimitSource
	// Dispatch delivers a data MessageDesc received from instanceID on
	// the given mqt to whatever owns the query/replication logic above
	// this layer.
	Dispatch(instanceID string, mqt MessageQueueType, desc *protocol.MessageDesc)
	// PublishStatus reports a local backpressure edge crossing so the
	// manager can propagate it upstream.
	PublishStatus(delta StatusDelta)
}

// pendingSend is a queued sendMessage request awaiting the actor loop.
type pendingSend struct {
	mqt     MessageQueueType
	record  []byte
	payload []byte
	flags   protocol.MessageFlag
	result  chan error
}

// writeJob is handed to the dedicated writer goroutine; exactly one is
// ever outstanding, per the isSending latch.
type writeJob struct {
	msgType protocol.MessageType
	mqt     MessageQueueType
	flags   protocol.MessageFlag
	record  []byte
	payload []byte
}

// readResult is what the reader goroutine reports back to the loop: a
// successfully framed message, or a fatal error.
type readResult struct {
	desc *protocol.MessageDesc
	err  error
}

// Connection owns one bidirectional transport to a single peer: the
// MultiChannelQueue, the connection state machine, the single
// outstanding send latch, and the set of attached query disconnect
// handlers. All mutable state is owned by a single actor goroutine
// (run); callers interact with it exclusively by posting onto channels,
// giving the connection a one-activation-at-a-time property without
// needing to lock the hot path.
type Connection struct {
	instanceID string
	manager    Manager
	logger     *logging.Logger

	// mu guards only the disconnect rendezvous: State() and PeerAddr()
	// reads from other goroutines, and ensuring Disconnect is idempotent.
	// Every other field below is touched only from the actor goroutine.
	mu       sync.Mutex
	state    ConnState
	peerAddr net.Addr

	conn  net.Conn
	queue *MultiChannelQueue

	// compressor runs large binary payloads through a configurable codec
	// before they hit the wire; nil disables compression entirely (used
	// by tests that assert on exact bytes). Peers must agree on this out
	// of band, same as every other header field.
	compressor *compression.Compressor

	isSending      bool
	pendingControl []controlTuple

	// recvSeqNum counts inbound MsgData messages received per mqt. Each
	// increment is reported back to the peer in an opportunistic control
	// tuple so its view of our outstanding credit shrinks and it can
	// queue more. It has no wire representation of its own; a data
	// message just increments the counter for the mqt carried in its
	// header.
	recvSeqNum map[MessageQueueType]uint64

	attachedQueries map[string]func(error)

	sendReqCh    chan pendingSend
	controlCh    chan controlTuple
	attachCh     chan attachRequest
	detachCh     chan string
	readResultCh chan readResult
	writeDoneCh  chan error
	disconnectCh chan error
	statsCh      chan chan []ChannelStats
	doneCh       chan struct{}
	closeOnce    sync.Once

	onAbort func(reason error) // hook for audit/logging, set at construction
}

type attachRequest struct {
	queryID  string
	onAbort  func(error)
}

// NewConnection creates a Connection bound to instanceID, not yet
// started. Callers use ConnectAsync (dial role) or Start (accepted
// role) to bring it to CONNECTED.
func NewConnection(instanceID string, manager Manager) *Connection {
	c := &Connection{
		instanceID:      instanceID,
		manager:         manager,
		logger:          logging.NewLogger("network").With("peer", instanceID),
		state:           NotConnected,
		compressor:      compression.NewCompressor(compression.DefaultConfig()),
		recvSeqNum:      make(map[MessageQueueType]uint64),
		attachedQueries: make(map[string]func(error)),
		sendReqCh:       make(chan pendingSend),
		controlCh:       make(chan controlTuple, 16),
		attachCh:        make(chan attachRequest),
		detachCh:        make(chan string),
		readResultCh:    make(chan readResult),
		writeDoneCh:     make(chan error),
		disconnectCh:    make(chan error, 1),
		statsCh:         make(chan chan []ChannelStats),
		doneCh:          make(chan struct{}),
	}
	return c
}

// OnAbort registers a callback invoked exactly once when the connection
// aborts fatally, with the triggering error. Used to wire the audit
// trail without internal/network importing internal/audit directly.
func (c *Connection) OnAbort(fn func(error)) { c.onAbort = fn }

// State returns the current connection state. Safe to call from any
// goroutine.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PeerAddr returns the resolved remote address, or nil before the
// connection reaches CONNECTED.
func (c *Connection) PeerAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerAddr
}

// ConnectAsync dials addr:port, only legal from NOT_CONNECTED. It
// returns once the dial resolves (success or failure); the caller sees
// CONNECTED or NOT_CONNECTED reflected in State() by the time it
// returns. Retry policy belongs to the caller (the catalog lookup that
// owns reconnection).
func (c *Connection) ConnectAsync(ctx context.Context, addr string, port int) error {
	c.mu.Lock()
	if c.state != NotConnected {
		c.mu.Unlock()
		return fmt.Errorf("network: connectAsync called from state %s", c.state)
	}
	c.state = ConnectInProgress
	c.mu.Unlock()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", addr, port))
	if err != nil {
		c.mu.Lock()
		c.state = NotConnected
		c.mu.Unlock()
		return flyerrors.TransportError(err)
	}

	if err := c.start(conn); err != nil {
		conn.Close()
		c.mu.Lock()
		c.state = NotConnected
		c.mu.Unlock()
		return err
	}
	return nil
}

// Start wraps an accepted socket and moves directly to CONNECTED,
// kicking off the read pipeline.
func (c *Connection) Start(conn net.Conn) error {
	c.mu.Lock()
	if c.state != NotConnected {
		c.mu.Unlock()
		return fmt.Errorf("network: start called from state %s", c.state)
	}
	c.mu.Unlock()
	return c.start(conn)
}

func (c *Connection) start(conn net.Conn) error {
	queue, err := NewMultiChannelQueue(c.instanceID, c.manager)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.queue = queue
	c.peerAddr = conn.RemoteAddr()
	c.state = Connected
	c.mu.Unlock()

	go c.readLoop()
	go c.run()
	return nil
}

// SendMessage enqueues a message on the channel for mqt and returns
// once it has been accepted onto the queue or rejected with an overflow
// error, propagating backpressure synchronously to the caller.
func (c *Connection) SendMessage(mqt MessageQueueType, record, payload []byte, flags protocol.MessageFlag) error {
	req := pendingSend{mqt: mqt, record: record, payload: payload, flags: flags, result: make(chan error, 1)}
	select {
	case c.sendReqCh <- req:
	case <-c.doneCh:
		return flyerrors.ConnectionLost("connection is closed")
	}
	select {
	case err := <-req.result:
		return err
	case <-c.doneCh:
		return flyerrors.ConnectionLost("connection closed while send was pending")
	}
}

// AttachQuery registers onAbort to be invoked exactly once, with the
// disconnect reason, if this connection tears down before DetachQuery is
// called.
func (c *Connection) AttachQuery(queryID string, onAbort func(error)) {
	select {
	case c.attachCh <- attachRequest{queryID: queryID, onAbort: onAbort}:
	case <-c.doneCh:
		onAbort(flyerrors.ConnectionLost("connection already closed"))
	}
}

// Stats returns a snapshot of every channel's queue depth and credit
// state, for diagnostics tooling. Returns nil if the connection is not
// currently connected.
func (c *Connection) Stats() []ChannelStats {
	reply := make(chan []ChannelStats, 1)
	select {
	case c.statsCh <- reply:
	case <-c.doneCh:
		return nil
	}
	select {
	case stats := <-reply:
		return stats
	case <-c.doneCh:
		return nil
	}
}

// DetachQuery removes a previously attached query's disconnect handler.
func (c *Connection) DetachQuery(queryID string) {
	select {
	case c.detachCh <- queryID:
	case <-c.doneCh:
	}
}

// Disconnect tears the connection down: abortMessages runs exactly once,
// the socket closes, state returns to NOT_CONNECTED, and every attached
// query's handler fires with reason. A nil reason is replaced by a
// ConnectionLost error, so handlers always receive a non-nil reason.
func (c *Connection) Disconnect(reason error) {
	c.mu.Lock()
	if c.state == NotConnected {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if reason == nil {
		reason = flyerrors.ConnectionLost("disconnected locally")
	}
	select {
	case c.disconnectCh <- reason:
	default:
	}
}

// run is the single actor goroutine: the sole owner of queue, isSending,
// pendingControl, and attachedQueries. Every external call funnels
// through the channels selected on below, giving the connection the
// one-activation-at-a-time property the concurrency model requires.
func (c *Connection) run() {
	writeCh := make(chan writeJob, 1)
	writerDone := make(chan struct{})
	go c.writeLoop(writeCh, writerDone)
	defer func() {
		close(writeCh)
		<-writerDone
	}()

	for {
		select {
		case req := <-c.sendReqCh:
			desc := &protocol.MessageDesc{
				Header:  protocol.Header{Flags: req.flags},
				Record:  req.record,
				Payload: req.payload,
			}
			delta, err := c.queue.PushBack(req.mqt, desc)
			req.result <- err
			if delta != nil {
				c.manager.PublishStatus(*delta)
			}
			if err == nil {
				c.pushNextMessage(writeCh)
			}

		case tuple := <-c.controlCh:
			c.pendingControl = append(c.pendingControl, tuple)
			c.pushNextMessage(writeCh)

		case req := <-c.attachCh:
			c.attachedQueries[req.queryID] = req.onAbort

		case queryID := <-c.detachCh:
			delete(c.attachedQueries, queryID)

		case res := <-c.readResultCh:
			if res.err != nil {
				c.abort(res.err)
				return
			}
			err := c.handleInbound(res.desc, writeCh)
			res.desc.Release()
			if err != nil {
				c.abort(err)
				return
			}

		case err := <-c.writeDoneCh:
			c.isSending = false
			if err != nil {
				c.abort(flyerrors.TransportError(err))
				return
			}
			c.pushNextMessage(writeCh)

		case reason := <-c.disconnectCh:
			c.abort(reason)
			return

		case reply := <-c.statsCh:
			reply <- c.queue.Snapshot()
		}
	}
}

// pushNextMessage implements the write pipeline: skip if a write is
// already outstanding, otherwise pop the next eligible message
// (synthesizing a control message from any owed setRemoteState deltas
// when the queue itself has nothing to offer), and hand it to the
// writer goroutine.
func (c *Connection) pushNextMessage(writeCh chan<- writeJob) {
	if c.isSending {
		return
	}

	if msg, mqt, _ := c.queue.PopFront(); msg != nil {
		c.isSending = true
		writeCh <- writeJob{msgType: protocol.MsgData, mqt: mqt, flags: msg.Header.Flags, record: msg.Record, payload: msg.Payload}
		return
	}

	if len(c.pendingControl) > 0 {
		record := encodeControlRecord(c.pendingControl)
		c.pendingControl = nil
		c.isSending = true
		writeCh <- writeJob{msgType: protocol.MsgControl, record: record}
		return
	}
}

// buildControlTuple assembles the wire tuple for an outbound credit
// update. The wire's localGenID field carries this side's belief about
// the peer's generation (our RemoteGenID), and remoteGenID carries this
// side's own generation (our LocalGenID) — SetRemoteState on the far
// end compares its incoming localGen against its own generation and
// treats remoteGen as the sender's advertised identity, so the two
// fields are named from the receiver's point of view, not the sender's.
func (c *Connection) buildControlTuple(mqt MessageQueueType, remoteSize, localSeq, remoteSeq uint64) controlTuple {
	return controlTuple{
		mqt:          mqt,
		remoteSize:   remoteSize,
		localGenID:   c.queue.RemoteGenID(),
		remoteGenID:  c.queue.LocalGenID(),
		localSeqNum:  localSeq,
		remoteSeqNum: remoteSeq,
	}
}

// queueControlUpdate appends a credit update directly to pendingControl
// and flushes it opportunistically. Only safe to call from the actor
// goroutine (handleInbound and run itself); cross-goroutine callers use
// PostControlUpdate instead, which hands the tuple to the actor loop
// over controlCh rather than touching pendingControl directly.
func (c *Connection) queueControlUpdate(writeCh chan<- writeJob, mqt MessageQueueType, remoteSize, localSeq, remoteSeq uint64) {
	c.pendingControl = append(c.pendingControl, c.buildControlTuple(mqt, remoteSize, localSeq, remoteSeq))
	c.pushNextMessage(writeCh)
}

// handleInbound dispatches one successfully framed MessageDesc: control
// messages are consumed internally and update send-side credit; data
// messages go to the network manager and, once dispatched, generate an
// opportunistic control update reporting the receive progress back to
// the peer so its outstanding credit against this channel shrinks.
func (c *Connection) handleInbound(desc *protocol.MessageDesc, writeCh chan<- writeJob) error {
	if err := protocol.Validate(desc); err != nil {
		return err
	}

	switch desc.Header.Type {
	case protocol.MsgHeartbeat:
		return nil

	case protocol.MsgControl:
		tuples, err := decodeControlRecord(desc.Record)
		if err != nil {
			return err
		}
		for _, t := range tuples {
			delta, err := c.queue.SetRemoteState(t.mqt, t.remoteSize, t.localGenID, t.remoteGenID, t.localSeqNum, t.remoteSeqNum)
			if err != nil {
				return err
			}
			if delta != nil {
				c.manager.PublishStatus(*delta)
			}
		}
		// A credit update may have made a previously blocked channel
		// eligible again; give the write pipeline a chance to drain it.
		c.pushNextMessage(writeCh)
		return nil

	case protocol.MsgData:
		mqt := MessageQueueType(desc.Header.MQT)
		c.manager.Dispatch(c.instanceID, mqt, desc)
		c.recvSeqNum[mqt]++
		c.queueControlUpdate(writeCh, mqt, c.manager.ReceiveQueueHint(mqt), c.recvSeqNum[mqt], c.recvSeqNum[mqt])
		return nil

	default:
		return flyerrors.MalformedMessage(fmt.Sprintf("unknown message type %v", desc.Header.Type))
	}
}

// abort runs exactly once per connection: drains the queue, notifies
// every attached query, closes the socket, and returns the state
// machine to NOT_CONNECTED.
func (c *Connection) abort(reason error) {
	c.closeOnce.Do(func() {
		dropped := c.queue.AbortMessages()
		total := 0
		for _, msgs := range dropped {
			total += len(msgs)
		}
		c.isSending = false

		c.mu.Lock()
		c.state = NotConnected
		conn := c.conn
		c.mu.Unlock()

		if conn != nil {
			conn.Close()
		}

		for _, onAbort := range c.attachedQueries {
			onAbort(reason)
		}
		c.attachedQueries = make(map[string]func(error))

		if c.onAbort != nil {
			c.onAbort(reason)
		}
		c.logger.Warn("connection aborted", "reason", fmt.Sprint(reason), "dropped_messages", fmt.Sprint(total))

		close(c.doneCh)
	})
}

// readLoop runs the three-stage asynchronous read pipeline: header,
// record, optional binary payload. It never touches Connection state
// directly, only reports results through readResultCh, so the actor
// goroutine remains the sole mutator.
func (c *Connection) readLoop() {
	for {
		desc, err := protocol.ReadMessageDesc(c.conn, protocol.DefaultBufferPool, c.compressor)
		select {
		case c.readResultCh <- readResult{desc: desc, err: err}:
		case <-c.doneCh:
			return
		}
		if err != nil {
			return
		}
	}
}

// writeLoop performs the connection's single outstanding write at a
// time, guarded by the actor's isSending latch. Closing jobCh (done by
// run's deferred cleanup) ends the loop.
func (c *Connection) writeLoop(jobCh <-chan writeJob, done chan<- struct{}) {
	defer close(done)
	for job := range jobCh {
		err := protocol.WriteMessageDesc(c.conn, job.msgType, byte(job.mqt), job.flags, job.record, job.payload, c.compressor)
		select {
		case c.writeDoneCh <- err:
		case <-c.doneCh:
			return
		}
	}
}

// PostControlUpdate schedules a control tuple to be sent opportunistically
// on the next outbound send. It is how the owning manager reports credit
// it wants to advertise to the peer (e.g. after upstream consumption
// freed local receive capacity), from a goroutine other than the
// connection's own actor loop. handleInbound, which already runs on the
// actor loop, uses queueControlUpdate instead to avoid posting onto
// controlCh from within its own reader.
func (c *Connection) PostControlUpdate(mqt MessageQueueType, remoteSize, localSeq, remoteSeq uint64) {
	tuple := c.buildControlTuple(mqt, remoteSize, localSeq, remoteSeq)
	select {
	case c.controlCh <- tuple:
	case <-c.doneCh:
	}
}
