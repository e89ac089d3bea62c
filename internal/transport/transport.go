// Package transport implements the Inference Transport: a persistent,
// authenticated, multiplexed WebSocket client to the Inference Engine.
// It is the only component in this repository that talks to the
// engine directly.
package transport

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sitost/jota-orchestrator/internal/logger"
	"github.com/sitost/jota-orchestrator/internal/store"
)

const (
	sessionCreateTimeout    = 5 * time.Second
	streamInactivityTimeout = 30 * time.Second
)

// defaultParams is used whenever a caller passes nil params to Infer.
var defaultParams = map[string]float64{"temp": 0.7}

// Metrics is the optional observability hook the Transport reports
// into. A nil Metrics is valid; every call below is a no-op guarded
// on it.
type Metrics interface {
	SetEngineReady(ready bool)
	SetBackoffSeconds(seconds float64)
	SetActiveSessions(n int)
	IncReconnects()
	IncInferenceErrors(kind string)
}

// Config carries everything the Transport needs to dial and
// authenticate with the Inference Engine.
type Config struct {
	URL       string
	ClientID  string
	APIKey    string
	JotaDBURL string
	SSLVerify bool

	Store   store.Store
	Logger  *logger.Logger
	Metrics Metrics
}

// Transport is the Request API surface described by the design:
// Connect, Shutdown, Health, CreateSession, AbortSession, Infer. It is
// constructed once and its lifecycle is bound to application
// startup/shutdown — never a package-level singleton.
type Transport struct {
	url       string
	clientID  string
	apiKey    string
	jotaDBURL string
	sslVerify bool

	store   store.Store
	log     *logger.Logger
	metrics Metrics

	registry *registry
	state    atomicState

	connMu sync.Mutex
	conn   *websocket.Conn

	writeMu sync.Mutex

	auth    authState
	session sessionState

	sessionCreateMu sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	wg        sync.WaitGroup
}

// New constructs a Transport. Callers must still call Connect before
// any other method does useful work.
func New(cfg Config) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	log := cfg.Logger
	if log == nil {
		log = logger.New(logger.Config{Format: "text"})
	}
	return &Transport{
		url:       cfg.URL,
		clientID:  cfg.ClientID,
		apiKey:    cfg.APIKey,
		jotaDBURL: cfg.JotaDBURL,
		sslVerify: cfg.SSLVerify,
		store:     cfg.Store,
		log:       log.WithComponent("transport"),
		metrics:   cfg.Metrics,
		registry:  newRegistry(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Connect starts the Connection Supervisor if it isn't already
// running. Idempotent; returns without waiting for Ready.
func (t *Transport) Connect() {
	t.startOnce.Do(func() {
		t.wg.Add(1)
		go t.supervise(t.ctx)
	})
}

// Shutdown signals Draining, cancels the Supervisor, and closes the
// socket. Outstanding Infer calls observe STREAM_INTERRUPTED and run
// their partial-save path.
func (t *Transport) Shutdown() {
	t.state.set(stateDraining)
	t.cancel()
	t.closeConn(t.currentConn())
	t.registry.closeAll()
	t.wg.Wait()
	t.state.set(stateDisconnected)
	t.reportReady(false)
}

// Health reports true iff Connection State is Ready.
func (t *Transport) Health() bool {
	return t.state.get() == stateReady
}

// CreateSession requests a new engine session, serialized by the
// Session-Creation mutex because the wire protocol carries no
// correlation id between concurrent create_session calls.
func (t *Transport) CreateSession(ctx context.Context) (string, error) {
	t.sessionCreateMu.Lock()
	defer t.sessionCreateMu.Unlock()

	if t.state.get() != stateReady {
		return "", newError(KindEngineUnavailable, "engine not ready")
	}

	waiter := t.session.install()
	if err := t.writeFrame(createSessionFrame()); err != nil {
		return "", newError(KindEngineUnavailable, err.Error())
	}

	timer := time.NewTimer(sessionCreateTimeout)
	defer timer.Stop()

	select {
	case f := <-waiter:
		return f.SessionID, nil
	case <-timer.C:
		return "", newError(KindSessionCreateTimeout, "no session_created frame within timeout")
	case <-ctx.Done():
		return "", newError(KindEngineUnavailable, ctx.Err().Error())
	case <-t.ctx.Done():
		return "", newError(KindEngineUnavailable, "transport shut down")
	}
}

// AbortSession is best-effort: it sends an abort frame when Ready and
// silently no-ops otherwise.
func (t *Transport) AbortSession(sessionID string) {
	if t.state.get() != stateReady {
		return
	}
	if err := t.writeFrame(abortFrame(sessionID)); err != nil {
		t.log.Warn("failed to send abort frame", "session_id", sessionID, "error", err)
	}
}

// Infer returns a lazy, finite, single-shot, ordered, cancellable
// token sequence. Nothing happens until the caller ranges over it:
// the Delivery Channel is attached, the readiness check is performed,
// and the infer frame is sent only once iteration begins.
func (t *Transport) Infer(ctx context.Context, sessionID, prompt, conversationID string, params any) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if sessionID == "" || conversationID == "" {
			yield("", fmt.Errorf("transport: session_id and conversation_id must be non-empty"))
			return
		}

		ch := t.registry.attach(sessionID)
		defer t.registry.detach(sessionID)
		t.reportActiveSessions()
		defer t.reportActiveSessions()

		if t.state.get() != stateReady {
			yield("", newError(KindEngineUnavailable, "engine not ready"))
			return
		}

		effectiveParams := params
		if effectiveParams == nil {
			effectiveParams = defaultParams
		}

		if err := t.writeFrame(inferFrame(sessionID, prompt, effectiveParams)); err != nil {
			yield("", newError(KindEngineUnavailable, err.Error()))
			return
		}

		var accumulator strings.Builder
		timer := time.NewTimer(streamInactivityTimeout)
		defer timer.Stop()

		fail := func(err error) {
			if accumulator.Len() > 0 {
				t.journalPartial(ctx, conversationID, accumulator.String())
			}
			t.markErrored(ctx, conversationID)
			t.reportInferenceError(err)
			yield("", err)
		}

		for {
			select {
			case frame := <-ch:
				switch frame.Op {
				case opToken:
					accumulator.WriteString(frame.Content)
					if !yield(frame.Content, nil) {
						return
					}
					resetTimer(timer, streamInactivityTimeout)
				case opEnd:
					t.journalFinal(ctx, conversationID, accumulator.String())
					return
				case opError:
					fail(newError(KindEngineError, frame.errorText()))
					return
				case opDisconnected:
					fail(newError(KindStreamInterrupted, "connection lost"))
					return
				default:
					resetTimer(timer, streamInactivityTimeout)
				}
			case <-timer.C:
				fail(newError(KindStreamTimeout, "no frames received within timeout"))
				return
			case <-ctx.Done():
				fail(newError(KindStreamInterrupted, ctx.Err().Error()))
				return
			}
		}
	}
}

func (t *Transport) journalFinal(ctx context.Context, conversationID, full string) {
	if t.store == nil {
		return
	}
	if err := t.store.SaveMessage(ctx, conversationID, store.RoleAssistant, full); err != nil {
		t.log.LogError(ctx, err, "failed to save assistant message", "conversation_id", conversationID)
	}
}

// journalPartial saves whatever was accumulated before a failure. Only
// called when the accumulator is non-empty — there's no partial output
// to preserve otherwise.
func (t *Transport) journalPartial(ctx context.Context, conversationID, partial string) {
	if t.store == nil {
		return
	}
	if err := t.store.SaveMessage(ctx, conversationID, store.RoleAssistant, partial+" [INTERRUPTED]"); err != nil {
		t.log.LogError(ctx, err, "failed to save partial assistant message", "conversation_id", conversationID)
	}
}

// markErrored flags the conversation as errored. Called on every Infer
// failure regardless of whether any tokens were accumulated — even a
// failure on the very first frame leaves the conversation in a state
// downstream readers need to know is incomplete.
func (t *Transport) markErrored(ctx context.Context, conversationID string) {
	if t.store == nil {
		return
	}
	if err := t.store.MarkConversationError(ctx, conversationID); err != nil {
		t.log.LogError(ctx, err, "failed to mark conversation errored", "conversation_id", conversationID)
	}
}

func (t *Transport) reportReady(ready bool) {
	if t.metrics != nil {
		t.metrics.SetEngineReady(ready)
	}
}

func (t *Transport) reportBackoff(d time.Duration) {
	if t.metrics != nil {
		t.metrics.SetBackoffSeconds(d.Seconds())
	}
}

func (t *Transport) reportReconnect() {
	if t.metrics != nil {
		t.metrics.IncReconnects()
	}
}

func (t *Transport) reportActiveSessions() {
	if t.metrics != nil {
		t.metrics.SetActiveSessions(t.registry.activeSessionCount())
	}
}

func (t *Transport) reportInferenceError(err error) {
	if t.metrics == nil {
		return
	}
	var kind string
	if te, ok := err.(*Error); ok {
		kind = string(te.Kind)
	} else {
		kind = "unknown"
	}
	t.metrics.IncInferenceErrors(kind)
}

func resetTimer(timer *time.Timer, d time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
}
