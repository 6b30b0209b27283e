package connmgr

import (
	"github.com/opnet-io/admitd/internal/aq"
	"github.com/opnet-io/admitd/internal/wire"
)

// aqManager adapts *Manager to aq.ConnectionManager. The two packages stay
// decoupled (aq never imports connmgr); this is the narrow seam where the
// concrete registry is wired into the admission queue's view of it.
type aqManager struct{ *Manager }

func (a aqManager) ReceiveConnection(syn *wire.Packet) (aq.Connection, bool) {
	conn, ok := a.Manager.ReceiveConnection(syn)
	if !ok {
		return nil, false
	}
	return conn, true
}

func (a aqManager) ConnectionByReceiveStreamID(id uint32) (aq.Connection, bool) {
	conn, ok := a.Manager.ConnectionByReceiveStreamID(id)
	if !ok {
		return nil, false
	}
	return conn, true
}

// AsConnectionManager exposes m behind the aq.ConnectionManager interface.
func AsConnectionManager(m *Manager) aq.ConnectionManager { return aqManager{m} }
