package telephony

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"voice-concierge/internal/registry"
	"voice-concierge/pkg/logger"
)

// Provider call statuses that mean the call will never reach a media stream.
var deadCallStatuses = map[string]string{
	"busy":      "line busy",
	"no-answer": "no answer",
	"failed":    "carrier failure",
	"canceled":  "call canceled",
}

// StatusCallbackHandler consumes the provider's call progress webhooks.
// Its only job is to fail records for calls that die before their media
// stream ever connects; once a stream is bound, the bridge owns the record
// and progress webhooks are informational.
func StatusCallbackHandler(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		callID := c.Query("call_id")
		callSID := c.PostForm("CallSid")
		callStatus := c.PostForm("CallStatus")

		log := logger.FromGin(c).With(
			"call_id", callID, "call_sid", callSID, "call_status", callStatus)
		log.Info("call status callback")

		if callID == "" {
			c.Status(http.StatusOK)
			return
		}
		if callSID != "" {
			reg.SetProviderSID(callID, callSID)
		}

		rec, ok := reg.Get(callID)
		if !ok || rec.Status != registry.StatusPending {
			c.Status(http.StatusOK)
			return
		}

		if reason, dead := deadCallStatuses[callStatus]; dead {
			reg.Transition(callID, registry.StatusFailed, nil, reason)
		} else if callStatus == "completed" {
			// Completed at the provider while we never saw a stream: the
			// callee hung up before the media path opened.
			reg.Transition(callID, registry.StatusFailed, nil, "call ended before media stream connected")
		}
		c.Status(http.StatusOK)
	}
}
