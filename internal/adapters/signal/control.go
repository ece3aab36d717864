package signal

import (
	"github.com/parley-chat/parley/internal/core"
	"github.com/parley-chat/parley/internal/protocol"
)

func (ctl *Controller) handlePing(conn core.SignalConnection) {
	ctl.sendEvent(conn, protocol.TypePong, nil)
}
