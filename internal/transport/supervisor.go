package transport

import (
	"context"
	"time"
)

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
	authTimeout    = 10 * time.Second
)

// supervise is the Connection Supervisor's long-lived task: dial,
// authenticate, run the Read Pump, detect disconnect, back off, retry.
// It owns the socket and the backoff delay and never surfaces
// connection errors to callers directly — they observe them via
// Health or an ENGINE_UNAVAILABLE result from a call made while not
// Ready.
func (t *Transport) supervise(ctx context.Context) {
	defer t.wg.Done()

	backoff := initialBackoff

	for {
		if ctx.Err() != nil {
			t.state.set(stateDisconnected)
			return
		}

		t.state.set(stateDialing)
		conn, err := t.dial(ctx)
		if err != nil {
			t.log.Warn("dial failed", "error", err, "next_retry", backoff)
			t.reportBackoff(backoff)
			if !t.sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		t.setConn(conn)
		t.state.set(stateAuthenticating)

		authCh := t.auth.install()
		pumpDone := make(chan struct{})
		go t.readPump(conn, pumpDone)

		if err := t.writeFrame(authFrame(t.clientID, t.apiKey, t.jotaDBURL)); err != nil {
			t.log.Warn("failed to send auth frame", "error", err)
			t.closeConn(conn)
			<-pumpDone
			t.reportBackoff(backoff)
			if !t.sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		authed, lost := t.awaitAuth(ctx, authCh, pumpDone)
		if !authed {
			t.closeConn(conn)
			<-pumpDone
			if ctx.Err() != nil {
				return
			}
			if lost {
				t.log.Warn("connection lost during authentication")
			}
			t.reportBackoff(backoff)
			if !t.sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = initialBackoff
		t.state.set(stateReady)
		t.reportReady(true)
		t.reportBackoff(0)
		t.log.Info("authenticated with inference engine")

		select {
		case <-pumpDone:
			t.state.set(stateDisconnected)
			t.reportReady(false)
			t.reportReconnect()
			t.registry.closeAll()
			if ctx.Err() != nil {
				return
			}
			t.reportBackoff(backoff)
			if !t.sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
		case <-ctx.Done():
			t.closeConn(conn)
			<-pumpDone
			return
		}
	}
}

// awaitAuth waits for the Auth Waiter to resolve, the Read Pump to
// exit (connection lost before auth resolved), the 10s auth timeout,
// or shutdown. The second return value reports whether the connection
// was lost (as opposed to an explicit auth failure or timeout).
func (t *Transport) awaitAuth(ctx context.Context, authCh chan error, pumpDone chan struct{}) (authed bool, lost bool) {
	timer := time.NewTimer(authTimeout)
	defer timer.Stop()

	select {
	case err := <-authCh:
		if err != nil {
			t.log.Warn("authentication failed", "error", err)
			return false, false
		}
		return true, false
	case <-pumpDone:
		return false, true
	case <-timer.C:
		t.log.Warn("authentication timed out")
		return false, false
	case <-ctx.Done():
		return false, false
	}
}

// sleep waits for d or ctx cancellation, reporting false if shutdown
// interrupted the sleep so the caller can exit the loop immediately.
func (t *Transport) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
