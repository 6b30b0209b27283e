// Package connmgr is the connection-manager collaborator the admission
// queue admits SYNs into (spec §6). It is a concrete, map-keyed registry
// adapted from the teacher's session manager: connections indexed by
// receive-stream-id instead of sessions by discriminator, everything else
// (RWMutex-guarded maps, snapshot reads, allocator-backed ID assignment)
// carried over unchanged in shape.
package connmgr

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/opnet-io/admitd/internal/wire"
)

// Sentinel errors for Manager operations.
var (
	// ErrConnectionNotFound indicates no connection exists for the given
	// receive-stream-id.
	ErrConnectionNotFound = errors.New("connmgr: connection not found")

	// ErrDuplicateConnection indicates a connection already exists for a
	// receive-stream-id a caller tried to register directly.
	ErrDuplicateConnection = errors.New("connmgr: duplicate connection for receive stream id")
)

// Connection is an established flow. Payload is owned by whichever side last
// received it; Redispatch transfers ownership to the connection's inbound
// handler.
type Connection struct {
	mu sync.Mutex

	receiveStreamID uint32
	sendStreamID    uint32
	remote          wire.Identity

	inbox []*wire.Packet
	open  bool
}

// RemoteIdentity is the connection's established remote endpoint.
func (c *Connection) RemoteIdentity() wire.Identity { return c.remote }

// ReceiveStreamID is the locally-allocated ID inbound packets carry.
func (c *Connection) ReceiveStreamID() uint32 { return c.receiveStreamID }

// SendStreamID is the remote's receive-stream-id, used as send_stream_id on
// outbound packets.
func (c *Connection) SendStreamID() uint32 { return c.sendStreamID }

// Redispatch delivers a non-SYN packet that arrived ahead of (or racing)
// connection establishment. Reports whether the connection is still open to
// accept it.
func (c *Connection) Redispatch(pkt *wire.Packet) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return false
	}
	c.inbox = append(c.inbox, pkt)
	return true
}

// Drain returns and clears any packets queued by Redispatch.
func (c *Connection) Drain() []*wire.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.inbox
	c.inbox = nil
	return out
}

func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	for _, pkt := range c.inbox {
		pkt.Release()
	}
	c.inbox = nil
}

// Manager is the concrete ConnectionManager collaborator. Zero value is not
// usable; construct with New.
type Manager struct {
	mu            sync.RWMutex
	byReceiveID   map[uint32]*Connection
	streamIDs     *StreamIDAllocator
	localIdentity wire.Identity
	logger        *slog.Logger
}

// New constructs a Manager whose own destination identity is local.
func New(local wire.Identity, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		byReceiveID:   make(map[uint32]*Connection),
		streamIDs:     NewStreamIDAllocator(),
		localIdentity: local,
		logger:        logger.With("component", "connmgr"),
	}
}

// LocalIdentity is this session's own destination identity, used as the
// sender of RSTs constructed by the admission queue.
func (m *Manager) LocalIdentity() wire.Identity { return m.localIdentity }

// ReceiveConnection admits syn, allocating a fresh local receive-stream-id
// and registering the connection keyed by it.
func (m *Manager) ReceiveConnection(syn *wire.Packet) (*Connection, bool) {
	if syn.From == nil {
		return nil, false
	}

	id, err := m.streamIDs.Allocate()
	if err != nil {
		m.logger.Error("allocate stream id", "error", err)
		return nil, false
	}

	conn := &Connection{
		receiveStreamID: id,
		sendStreamID:    syn.ReceiveStreamID,
		remote:          *syn.From,
		open:            true,
	}

	m.mu.Lock()
	m.byReceiveID[id] = conn
	m.mu.Unlock()

	m.logger.Debug("connection admitted",
		"receive_stream_id", id,
		"send_stream_id", conn.sendStreamID)
	return conn, true
}

// ConnectionByReceiveStreamID looks up an already-admitted connection.
func (m *Manager) ConnectionByReceiveStreamID(id uint32) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.byReceiveID[id]
	return conn, ok
}

// DestroyConnection tears down and deregisters a connection, releasing its
// stream ID for reuse.
func (m *Manager) DestroyConnection(id uint32) error {
	m.mu.Lock()
	conn, ok := m.byReceiveID[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("destroy connection %d: %w", id, ErrConnectionNotFound)
	}
	delete(m.byReceiveID, id)
	m.mu.Unlock()

	conn.close()
	m.streamIDs.Release(id)
	return nil
}

// Connections returns a point-in-time snapshot of admitted connections.
func (m *Manager) Connections() []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Connection, 0, len(m.byReceiveID))
	for _, conn := range m.byReceiveID {
		out = append(out, conn)
	}
	return out
}

// Count returns the number of currently admitted connections.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byReceiveID)
}

// Close tears down every admitted connection.
func (m *Manager) Close() {
	m.mu.Lock()
	conns := m.byReceiveID
	m.byReceiveID = make(map[uint32]*Connection)
	m.mu.Unlock()

	for id, conn := range conns {
		conn.close()
		m.streamIDs.Release(id)
	}
}
