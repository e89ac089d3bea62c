package ingress

import (
	"bufio"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	apierrors "github.com/sitost/jota-orchestrator/internal/errors"
	"github.com/sitost/jota-orchestrator/internal/logger"
	"github.com/sitost/jota-orchestrator/internal/store"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type postMessageRequest struct {
	Prompt string `json:"prompt"`
	Params any    `json:"params,omitempty"`
}

type streamChunk struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// postMessage is the REST streaming path: it validates the client key
// itself, performs the ingress-layer save of the user's message (the
// sole source of truth for that turn — the Transport never re-saves
// it), then streams Infer's tokens back as newline-delimited JSON.
func (r *Router) postMessage(c *gin.Context) {
	c.Request = c.Request.WithContext(logger.WithOperation(c.Request.Context(), "post_message"))

	clientID, conv, err := r.authenticateAndResolveConversation(c)
	if err != nil {
		return
	}
	c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), clientID))

	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Prompt == "" {
		apierrors.AbortWithBadRequest(c, "prompt is required", nil)
		return
	}

	sessionID, err := r.ensureSession(c, clientID, conv)
	if err != nil {
		apierrors.AbortWithInternal(c, "failed to establish an inference session", nil)
		return
	}

	if err := r.store.SaveMessage(c.Request.Context(), conv.ID, store.RoleUser, req.Prompt); err != nil {
		r.log.LogError(c.Request.Context(), err, "failed to save user message", "conversation_id", conv.ID)
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Writer.WriteHeader(http.StatusOK)

	writer := bufio.NewWriter(c.Writer)
	defer writer.Flush()

	flush := func(chunk streamChunk) {
		b, _ := json.Marshal(chunk)
		writer.Write(b)
		writer.WriteByte('\n')
		writer.Flush()
		if f, ok := c.Writer.(http.Flusher); ok {
			f.Flush()
		}
	}

	for content, err := range r.transport.Infer(c.Request.Context(), sessionID, req.Prompt, conv.ID, req.Params) {
		if err != nil {
			flush(streamChunk{Type: "error", Content: err.Error()})
			return
		}
		flush(streamChunk{Type: "token", Content: content})
	}
	flush(streamChunk{Type: "end"})
}

// streamChat is the WS path: one connection per call, no hub fan-out —
// that belongs to a multi-subscriber chat surface this repository does
// not implement.
func (r *Router) streamChat(c *gin.Context) {
	c.Request = c.Request.WithContext(logger.WithOperation(c.Request.Context(), "stream_chat"))

	clientID, conv, err := r.authenticateAndResolveConversation(c)
	if err != nil {
		return
	}
	c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), clientID))

	prompt := c.Query("prompt")
	if prompt == "" {
		apierrors.AbortWithBadRequest(c, "prompt query parameter is required", nil)
		return
	}

	sessionID, err := r.ensureSession(c, clientID, conv)
	if err != nil {
		apierrors.AbortWithInternal(c, "failed to establish an inference session", nil)
		return
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		r.log.LogError(c.Request.Context(), err, "failed to upgrade connection")
		return
	}
	defer conn.Close()

	if err := r.store.SaveMessage(c.Request.Context(), conv.ID, store.RoleUser, prompt); err != nil {
		r.log.LogError(c.Request.Context(), err, "failed to save user message", "conversation_id", conv.ID)
	}

	conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					r.log.Warn("websocket read error", "error", err)
				}
				return
			}
		}
	}()

	ctx := c.Request.Context()
	for content, inferErr := range r.transport.Infer(ctx, sessionID, prompt, conv.ID, nil) {
		var payload streamChunk
		if inferErr != nil {
			payload = streamChunk{Type: "error", Content: inferErr.Error()}
		} else {
			payload = streamChunk{Type: "token", Content: content}
		}
		if err := conn.WriteJSON(payload); err != nil {
			return
		}
		if inferErr != nil {
			return
		}
	}
	conn.WriteJSON(streamChunk{Type: "end"})

	<-done
}

// authenticateAndResolveConversation validates the client key and
// fetches-or-creates the client's active conversation, writing an
// error response itself on failure.
func (r *Router) authenticateAndResolveConversation(c *gin.Context) (string, store.Conversation, error) {
	ctx := c.Request.Context()

	clientID, err := r.store.ValidateClientKey(ctx, clientKey(c))
	if err != nil {
		apierrors.AbortWithUnauthorized(c, "invalid client key", nil)
		return "", store.Conversation{}, err
	}

	conv, err := r.store.GetOrCreateConversation(ctx, clientID)
	if err != nil {
		apierrors.AbortWithInternal(c, "failed to resolve conversation", nil)
		return "", store.Conversation{}, err
	}

	return clientID, conv, nil
}

// ensureSession returns the conversation's bound engine session,
// creating and persisting one if absent. active_sessions is not
// invalidated on reconnect, so a reused session id may surface
// ENGINE_ERROR on its first use after the engine restarts; that
// propagates to the caller like any other Infer failure.
func (r *Router) ensureSession(c *gin.Context, _ string, conv store.Conversation) (string, error) {
	if conv.InferenceSessionID != "" {
		return conv.InferenceSessionID, nil
	}

	var sessionID string
	err := r.log.LogOperation(c.Request.Context(), "create_session", func() error {
		var createErr error
		sessionID, createErr = r.transport.CreateSession(c.Request.Context())
		return createErr
	})
	if err != nil {
		return "", err
	}

	if err := r.store.UpdateConversationSession(c.Request.Context(), conv.ID, sessionID); err != nil {
		r.log.LogError(c.Request.Context(), err, "failed to persist session binding", "conversation_id", conv.ID)
	}
	return sessionID, nil
}
