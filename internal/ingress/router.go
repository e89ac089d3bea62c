// Package ingress is the thin reference HTTP/WS surface in front of
// the Inference Transport. It is deliberately small: request parsing,
// end-user authentication shaping, and response formatting belong to
// the ingress layer, while the Transport itself remains the only
// component in this repository that talks to the Inference Engine.
package ingress

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"github.com/sitost/jota-orchestrator/internal/logger"
	"github.com/sitost/jota-orchestrator/internal/store"
	"github.com/sitost/jota-orchestrator/internal/transport"
)

// Router wires the chat REST/WS endpoints plus health and metrics onto
// a gin.Engine.
type Router struct {
	transport *transport.Transport
	store     store.Store
	log       *logger.Logger
}

// New constructs a Router. metricsHandler is whatever promhttp.Handler
// returns; it's accepted here rather than imported so this package
// doesn't need to depend on the metrics registry directly.
func New(t *transport.Transport, s store.Store, log *logger.Logger, metricsHandler http.Handler, allowedOrigins []string) *gin.Engine {
	r := &Router{transport: t, store: s, log: log.WithComponent("ingress")}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestIDMiddleware)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	engine.Use(func(c *gin.Context) {
		corsMiddleware.HandlerFunc(c.Writer, c.Request)
		c.Next()
	})

	engine.GET("/healthz", r.healthz)
	if metricsHandler != nil {
		engine.GET("/metrics", gin.WrapH(metricsHandler))
	}

	v1 := engine.Group("/v1")
	v1.POST("/chats/:chatID/messages", r.postMessage)
	v1.GET("/chats/:chatID/stream", r.streamChat)

	return engine
}

func (r *Router) healthz(c *gin.Context) {
	storeErr := r.store.Health(c.Request.Context())
	ready := r.transport.Health()

	healthy := ready && storeErr == nil
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"engine_ready":  ready,
		"store_healthy": storeErr == nil,
	})
}

// requestIDMiddleware tags every request with a correlation id, echoed
// back as a response header and carried on the request context so every
// log line emitted while handling it (via Logger.LogError/WithContext)
// is tagged with the same id.
func requestIDMiddleware(c *gin.Context) {
	id := c.GetHeader("X-Request-Id")
	if id == "" {
		id = logger.GenerateRequestID()
	}
	c.Header("X-Request-Id", id)
	c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), id))
	c.Next()
}

// clientKey extracts the bearer token carrying the client's key.
func clientKey(c *gin.Context) string {
	const prefix = "Bearer "
	auth := c.GetHeader("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return auth
}
