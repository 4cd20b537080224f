package bridge

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"voice-concierge/internal/engine"
	"voice-concierge/internal/outcome"
	"voice-concierge/internal/registry"
	"voice-concierge/pkg/logger"
)

// Handler upgrades incoming media stream connections and runs one Session
// per connection.
type Handler struct {
	dialer    engine.Dialer
	reg       *registry.Registry
	extractor *outcome.Extractor
	cfg       Config
	upgrader  websocket.Upgrader
}

func NewHandler(d engine.Dialer, reg *registry.Registry, ex *outcome.Extractor, cfg Config) *Handler {
	return &Handler{
		dialer:    d,
		reg:       reg,
		extractor: ex,
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The telephony provider connects server-to-server; there is
			// no browser origin to check.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// HandleMediaStream is the websocket endpoint the telephony provider's
// <Stream> connects to.
func (h *Handler) HandleMediaStream(c *gin.Context) {
	log := logger.FromGin(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("media stream upgrade failed", "error", err)
		return
	}
	t := newWSTransport(conn)
	defer t.Close()

	sess := NewSession(t, h.dialer, h.reg, h.extractor, h.cfg, log)
	if err := sess.Run(c.Request.Context()); err != nil {
		log.Warn("media session ended with error", "error", err)
	}
}
