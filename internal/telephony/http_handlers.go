package telephony

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"voice-concierge/internal/registry"
	"voice-concierge/pkg/logger"
)

// TwiMLHandler serves the call instructions the provider fetches when the
// callee answers. streamURL is the public websocket endpoint for media
// streams.
func TwiMLHandler(reg *registry.Registry, streamURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		callID := c.Query("call_id")
		log := logger.FromGin(c).With("call_id", callID)

		rec, ok := reg.Get(callID)
		if !ok {
			log.Warn("twiml requested for unknown call")
			c.String(http.StatusNotFound, "unknown call")
			return
		}

		doc, err := RenderStreamTwiML(streamURL, callID, rec.Params)
		if err != nil {
			log.Error("twiml render failed", "error", err)
			c.String(http.StatusInternalServerError, "render failed")
			return
		}
		c.Data(http.StatusOK, "text/xml; charset=utf-8", []byte(doc))
	}
}
