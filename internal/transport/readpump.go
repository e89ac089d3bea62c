package transport

import (
	"github.com/gorilla/websocket"
)

// readPump is the single consumer of the socket (Read Pump). It
// decodes each frame and dispatches it to the correct waiter: a
// session channel, the Session-Creation Waiter, the Auth Waiter, or
// the system log. It exits when the socket closes or errors, at which
// point it signals connection loss to every Delivery Channel and
// closes done so the Supervisor can react.
func (t *Transport) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				t.log.Warn("engine connection closed unexpectedly", "error", err)
			} else {
				t.log.Info("engine connection closed", "error", err)
			}
			t.registry.closeAll()
			t.failAuthWaiter(newError(KindAuthFailed, "connection closed"))
			return
		}

		frame, err := decodeFrame(raw)
		if err != nil {
			t.log.Warn("dropping malformed frame", "error", err, "raw", string(raw))
			continue
		}

		t.dispatch(frame)
	}
}

// dispatch implements the per-op routing table from the Read Pump
// design: frames are handed to exactly one destination, and an
// unrecognized op is logged and ignored rather than failing the pump.
func (t *Transport) dispatch(f Frame) {
	switch f.Op {
	case opHello:
		t.log.Info("engine hello", "message", f.Message)

	case opAuthSuccess:
		if !t.completeAuthWaiter() {
			t.log.Warn("auth_success with no pending auth waiter")
		}

	case opSessionCreated:
		if !t.completeSessionWaiter(f) {
			t.log.Warn("session_created with no pending session-creation waiter", "session_id", f.SessionID)
		}

	case opToken, opEnd:
		if f.SessionID == "" || !t.registry.route(f.SessionID, f) {
			t.log.Warn("dropping frame for unknown session", "op", f.Op, "session_id", f.SessionID)
		}

	case opError:
		t.handleErrorFrame(f)

	default:
		t.log.Warn("unknown frame op, ignoring", "op", f.Op)
	}
}

func (t *Transport) handleErrorFrame(f Frame) {
	if t.failAuthWaiter(newError(KindAuthFailed, f.errorText())) {
		return
	}
	if f.SessionID != "" && t.registry.route(f.SessionID, f) {
		return
	}
	t.log.Warn("error frame with no pending auth waiter or matching session", "message", f.errorText())
}
