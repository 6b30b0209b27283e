// Package aq implements the admission queue: a bounded FIFO backlog for
// inbound SYN-bearing packets with duplicate-SYN suppression, a blocking
// single-consumer accept, per-entry timeouts that emit resets, and a
// poison-sentinel shutdown drain (spec §4.1).
//
// The queue is guarded by a sync.Mutex plus a sync.Cond rather than a plain
// channel: a fired timeout must be able to remove one specific in-flight
// packet from the middle of the backlog, something a channel cannot express.
// This mirrors, at the data-structure level, the single-consumer discipline
// the teacher's session run loop enforces through a dedicated goroutine.
package aq

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opnet-io/admitd/internal/clock"
	"github.com/opnet-io/admitd/internal/wire"
)

// DefaultCapacity is MAX_QUEUE_SIZE from the spec's tuneables.
const DefaultCapacity = 64

// DefaultAcceptTimeout is DEFAULT_ACCEPT_TIMEOUT_MS.
const DefaultAcceptTimeout = 3000 * time.Millisecond

// Connection is an admitted flow, as handed back by a ConnectionManager.
type Connection interface {
	// RemoteIdentity is the connection's established remote endpoint,
	// used to detect duplicate SYNs that target the same stream.
	RemoteIdentity() wire.Identity
	// Redispatch attempts to deliver a non-SYN packet that arrived ahead
	// of (or racing) the connection's establishment. Reports whether it
	// was accepted.
	Redispatch(pkt *wire.Packet) bool
}

// ConnectionManager is the external collaborator from spec §6.
type ConnectionManager interface {
	// ReceiveConnection offers a SYN for admission, returning the new
	// connection on success.
	ReceiveConnection(syn *wire.Packet) (Connection, bool)
	// ConnectionByReceiveStreamID looks up an already-admitted connection.
	ConnectionByReceiveStreamID(id uint32) (Connection, bool)
	// LocalIdentity is this session's own destination identity, used as
	// the sender of constructed RSTs.
	LocalIdentity() wire.Identity
}

// Sender is the outbound packet sink (packet_queue().enqueue in spec §6).
type Sender interface {
	Send(pkt *wire.Packet)
}

// MetricsSink receives admission-queue counters. See internal/metrics.
type MetricsSink interface {
	DropFull()
	DropInactive()
	DropNoFrom()
	DropDuplicate()
	DropBadSignature()
	Accepted()
	TimedOut()
	RSTSent()
	QueueDepth(n int)
}

type noopMetrics struct{}

func (noopMetrics) DropFull()         {}
func (noopMetrics) DropInactive()     {}
func (noopMetrics) DropNoFrom()       {}
func (noopMetrics) DropDuplicate()    {}
func (noopMetrics) DropBadSignature() {}
func (noopMetrics) Accepted()         {}
func (noopMetrics) TimedOut()         {}
func (noopMetrics) RSTSent()          {}
func (noopMetrics) QueueDepth(int)    {}

type queuedItem struct {
	pkt    *wire.Packet
	handle clock.Handle
}

// Queue is the admission queue. The zero value is not usable; construct
// with New.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond
	items []*queuedItem

	capacity      int
	acceptTimeout time.Duration

	active atomic.Bool

	clk     clock.Service
	codec   wire.Codec
	connMgr ConnectionManager
	sender  Sender
	metrics MetricsSink
}

// Option configures a Queue at construction.
type Option func(*Queue)

// WithCapacity overrides DefaultCapacity.
func WithCapacity(n int) Option { return func(q *Queue) { q.capacity = n } }

// WithAcceptTimeout overrides DefaultAcceptTimeout.
func WithAcceptTimeout(d time.Duration) Option { return func(q *Queue) { q.acceptTimeout = d } }

// WithMetrics attaches a MetricsSink. Without one, counters are discarded.
func WithMetrics(m MetricsSink) Option { return func(q *Queue) { q.metrics = m } }

// New constructs an inactive Queue. Call SetActive(true) before use.
func New(clk clock.Service, codec wire.Codec, connMgr ConnectionManager, sender Sender, opts ...Option) *Queue {
	q := &Queue{
		capacity:      DefaultCapacity,
		acceptTimeout: DefaultAcceptTimeout,
		clk:           clk,
		codec:         codec,
		connMgr:       connMgr,
		sender:        sender,
		metrics:       noopMetrics{},
	}
	for _, opt := range opts {
		opt(q)
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// SetActive toggles the queue's lifecycle. Turning it off enqueues a poison
// sentinel, blocking until space is available, so any consumer blocked in
// Accept wakes and observes termination.
func (q *Queue) SetActive(on bool) {
	if on {
		q.active.Store(true)
		return
	}
	q.active.Store(false)

	q.mu.Lock()
	for len(q.items) >= q.capacity {
		q.cond.Wait()
	}
	q.items = append(q.items, &queuedItem{pkt: wire.NewPoison()})
	q.metrics.QueueDepth(len(q.items))
	q.cond.Broadcast()
	q.mu.Unlock()
}

// ReceiveNewSyn is the producer entry point. Non-blocking: drops the packet
// (emitting an RST if it carried SYN) rather than ever block a producer.
func (q *Queue) ReceiveNewSyn(pkt *wire.Packet) {
	if !q.active.Load() {
		q.metrics.DropInactive()
		q.dropOrReset(pkt)
		return
	}

	q.mu.Lock()
	if len(q.items) >= q.capacity {
		q.mu.Unlock()
		q.metrics.DropFull()
		q.dropOrReset(pkt)
		return
	}

	item := &queuedItem{pkt: pkt}
	item.handle = q.clk.Schedule(q.acceptTimeout, func() { q.onTimeout(item) })
	q.items = append(q.items, item)
	q.metrics.QueueDepth(len(q.items))
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *Queue) dropOrReset(pkt *wire.Packet) {
	if pkt.IsSYN() {
		q.sendReset(pkt)
		return
	}
	pkt.Release()
}

// onTimeout implements the "remove-from-queue and act only if removed" rule:
// the packet may already have been dequeued by a concurrent Accept, in which
// case this is a no-op.
func (q *Queue) onTimeout(item *queuedItem) {
	q.mu.Lock()
	idx := -1
	for i, it := range q.items {
		if it == item {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items[:idx], q.items[idx+1:]...)
	q.metrics.QueueDepth(len(q.items))
	q.cond.Broadcast()
	q.mu.Unlock()

	q.metrics.TimedOut()
	if item.pkt.IsSYN() {
		q.sendReset(item.pkt)
		return
	}
	q.redispatchOrDrop(item.pkt)
}

// Accept is the single-consumer entry point. It blocks up to timeoutMs
// (timeoutMs <= 0 blocks until ctx is done). Exactly one goroutine should
// ever call Accept on a given Queue at a time; the duplicate-SYN check below
// relies on this discipline rather than additional locking.
func (q *Queue) Accept(ctx context.Context, timeoutMs int64) (Connection, bool) {
	hasDeadline := timeoutMs > 0
	var deadline time.Time
	if hasDeadline {
		deadline = time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	}

	stop := make(chan struct{})
	defer close(stop)
	if done := ctx.Done(); done != nil {
		go func() {
			select {
			case <-done:
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			case <-stop:
			}
		}()
	}

	for {
		if ctx.Err() != nil {
			return nil, false
		}
		if hasDeadline && !time.Now().Before(deadline) {
			return nil, false
		}

		item, ok := q.waitForItem(ctx, hasDeadline, deadline)
		if !ok {
			return nil, false
		}
		if item == nil {
			// Observed inactive: drained inline by waitForItem.
			return nil, false
		}

		if item.pkt.IsPoison() {
			return nil, false
		}

		if item.pkt.IsSYN() {
			if conn, ok := q.admitSyn(item.pkt); ok {
				return conn, true
			}
			continue
		}
		q.redispatchOrDrop(item.pkt)
	}
}

// waitForItem blocks until an item is available, the queue goes inactive (in
// which case it drains and returns (nil, true) to signal "give up"), or the
// deadline/context expires (returns (nil, false)).
func (q *Queue) waitForItem(ctx context.Context, hasDeadline bool, deadline time.Time) (*queuedItem, bool) {
	q.mu.Lock()
	if !q.active.Load() {
		q.mu.Unlock()
		q.drainWithReset()
		return nil, true
	}

	for len(q.items) == 0 {
		var waitHandle clock.Handle
		var armed bool
		if hasDeadline {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				q.mu.Unlock()
				return nil, false
			}
			waitHandle = q.clk.Schedule(remaining, func() {
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			})
			armed = true
		}

		q.cond.Wait()

		if armed {
			q.clk.Cancel(waitHandle)
		}
		if ctx.Err() != nil {
			q.mu.Unlock()
			return nil, false
		}
		if !q.active.Load() {
			q.mu.Unlock()
			q.drainWithReset()
			return nil, true
		}
		if hasDeadline && !time.Now().Before(deadline) {
			q.mu.Unlock()
			return nil, false
		}
	}

	item := q.items[0]
	q.items = q.items[1:]
	q.metrics.QueueDepth(len(q.items))
	q.cond.Broadcast()
	q.mu.Unlock()

	if item.handle != 0 {
		q.clk.Cancel(item.handle)
	}
	return item, true
}

// drainWithReset empties the queue non-blockingly, emitting an RST for every
// packet that is not the poison sentinel.
func (q *Queue) drainWithReset() {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.metrics.QueueDepth(0)
	q.cond.Broadcast()
	q.mu.Unlock()

	for _, item := range items {
		if item.handle != 0 {
			q.clk.Cancel(item.handle)
		}
		if item.pkt.IsPoison() {
			continue
		}
		q.sendReset(item.pkt)
	}
}

func (q *Queue) admitSyn(pkt *wire.Packet) (Connection, bool) {
	if pkt.From == nil {
		q.metrics.DropNoFrom()
		pkt.Release()
		return nil, false
	}

	if existing, ok := q.connMgr.ConnectionByReceiveStreamID(pkt.ReceiveStreamID); ok {
		if existing.RemoteIdentity().Equal(*pkt.From) {
			q.metrics.DropDuplicate()
			pkt.Release()
			return nil, false
		}
	}

	conn, ok := q.connMgr.ReceiveConnection(pkt)
	if !ok {
		pkt.Release()
		return nil, false
	}
	q.metrics.Accepted()
	return conn, true
}

func (q *Queue) redispatchOrDrop(pkt *wire.Packet) {
	if existing, ok := q.connMgr.ConnectionByReceiveStreamID(pkt.ReceiveStreamID); ok {
		if existing.Redispatch(pkt) {
			return
		}
	}
	pkt.Release()
}

// sendReset implements send_reset: verify the claimed sender's signature and
// silently drop on failure (anti-amplification), otherwise construct and
// enqueue an RST addressed to the claimed sender.
func (q *Queue) sendReset(pkt *wire.Packet) {
	defer pkt.Release()

	if pkt.From == nil {
		q.metrics.DropNoFrom()
		return
	}
	if q.codec != nil && !q.codec.VerifySignature(pkt, pkt.From) {
		q.metrics.DropBadSignature()
		return
	}

	from := q.connMgr.LocalIdentity()
	rst := &wire.Packet{
		SendStreamID:    pkt.ReceiveStreamID,
		ReceiveStreamID: 0,
		AckThrough:      pkt.SequenceNumber,
		Flags:           wire.FlagRST | wire.FlagSignatureIncluded,
		From:            &from,
	}
	q.sender.Send(rst)
	q.metrics.RSTSent()
}

// Depth returns the number of packets currently queued, for tests and
// diagnostics.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Active reports whether the queue currently accepts new SYNs.
func (q *Queue) Active() bool { return q.active.Load() }

// Capacity returns the configured queue bound (MAX_QUEUE_SIZE).
func (q *Queue) Capacity() int { return q.capacity }
