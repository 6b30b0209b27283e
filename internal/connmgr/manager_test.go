package connmgr_test

import (
	"errors"
	"testing"

	"github.com/opnet-io/admitd/internal/connmgr"
	"github.com/opnet-io/admitd/internal/wire"
)

func identity(b byte) wire.Identity {
	var raw [32]byte
	raw[0] = b
	return wire.NewIdentity(raw)
}

func synFrom(from wire.Identity, receiveStreamID uint32) *wire.Packet {
	f := from
	return &wire.Packet{
		ReceiveStreamID: receiveStreamID,
		Flags:           wire.FlagSYN,
		From:            &f,
	}
}

func TestReceiveConnectionAssignsUniqueID(t *testing.T) {
	mgr := connmgr.New(identity(0xaa), nil)

	conn1, ok := mgr.ReceiveConnection(synFrom(identity(1), 10))
	if !ok {
		t.Fatal("expected first connection to be admitted")
	}
	conn2, ok := mgr.ReceiveConnection(synFrom(identity(2), 11))
	if !ok {
		t.Fatal("expected second connection to be admitted")
	}

	if conn1.ReceiveStreamID() == 0 || conn2.ReceiveStreamID() == 0 {
		t.Fatal("receive stream ids must be nonzero")
	}
	if conn1.ReceiveStreamID() == conn2.ReceiveStreamID() {
		t.Fatal("receive stream ids must be unique")
	}
	if mgr.Count() != 2 {
		t.Fatalf("expected 2 registered connections, got %d", mgr.Count())
	}
}

func TestReceiveConnectionRejectsMissingSender(t *testing.T) {
	mgr := connmgr.New(identity(0xaa), nil)
	_, ok := mgr.ReceiveConnection(&wire.Packet{Flags: wire.FlagSYN})
	if ok {
		t.Fatal("expected connection without sender identity to be rejected")
	}
}

func TestConnectionByReceiveStreamIDLookup(t *testing.T) {
	mgr := connmgr.New(identity(0xaa), nil)
	conn, ok := mgr.ReceiveConnection(synFrom(identity(3), 20))
	if !ok {
		t.Fatal("expected connection to be admitted")
	}

	found, ok := mgr.ConnectionByReceiveStreamID(conn.ReceiveStreamID())
	if !ok || found != conn {
		t.Fatal("expected lookup to return the same connection")
	}

	if _, ok := mgr.ConnectionByReceiveStreamID(conn.ReceiveStreamID() + 1); ok {
		t.Fatal("expected lookup by unknown id to fail")
	}
}

func TestDestroyConnectionReleasesStreamID(t *testing.T) {
	mgr := connmgr.New(identity(0xaa), nil)
	conn, ok := mgr.ReceiveConnection(synFrom(identity(4), 30))
	if !ok {
		t.Fatal("expected connection to be admitted")
	}
	id := conn.ReceiveStreamID()

	if err := mgr.DestroyConnection(id); err != nil {
		t.Fatalf("DestroyConnection: %v", err)
	}
	if _, ok := mgr.ConnectionByReceiveStreamID(id); ok {
		t.Fatal("expected connection to be deregistered after destroy")
	}
	if err := mgr.DestroyConnection(id); !errors.Is(err, connmgr.ErrConnectionNotFound) {
		t.Fatalf("expected ErrConnectionNotFound on double destroy, got %v", err)
	}
}

func TestRedispatchAfterClose(t *testing.T) {
	mgr := connmgr.New(identity(0xaa), nil)
	conn, ok := mgr.ReceiveConnection(synFrom(identity(5), 40))
	if !ok {
		t.Fatal("expected connection to be admitted")
	}

	if !conn.Redispatch(&wire.Packet{}) {
		t.Fatal("expected redispatch on an open connection to succeed")
	}
	if drained := conn.Drain(); len(drained) != 1 {
		t.Fatalf("expected 1 drained packet, got %d", len(drained))
	}

	if err := mgr.DestroyConnection(conn.ReceiveStreamID()); err != nil {
		t.Fatalf("DestroyConnection: %v", err)
	}
	if conn.Redispatch(&wire.Packet{}) {
		t.Fatal("expected redispatch on a closed connection to fail")
	}
}

func TestCloseTearsDownAllConnections(t *testing.T) {
	mgr := connmgr.New(identity(0xaa), nil)
	if _, ok := mgr.ReceiveConnection(synFrom(identity(6), 50)); !ok {
		t.Fatal("expected connection to be admitted")
	}
	if _, ok := mgr.ReceiveConnection(synFrom(identity(7), 51)); !ok {
		t.Fatal("expected connection to be admitted")
	}

	mgr.Close()

	if mgr.Count() != 0 {
		t.Fatalf("expected 0 connections after Close, got %d", mgr.Count())
	}
}
