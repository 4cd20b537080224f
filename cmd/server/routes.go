package main

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"voice-concierge/internal/auth"
	"voice-concierge/internal/bridge"
	"voice-concierge/internal/config"
	"voice-concierge/internal/gateway"
	"voice-concierge/internal/registry"
	"voice-concierge/internal/telephony"
)

func registerRoutes(r *gin.Engine, cfg config.Config, reg *registry.Registry,
	gw *gateway.Gateway, stream *bridge.Handler, authManager *auth.Manager) {

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Signature checks need the public URL Twilio signed against, so they
	// only run when a public domain is configured.
	webhook := r.Group("/")
	if cfg.App.PublicDomain != "" {
		webhook.Use(telephony.ValidateSignature(cfg.Twilio.AuthToken, cfg.App.PublicDomain))
	}
	// Twilio fetches TwiML with POST by default but GET is configurable.
	webhook.POST("/twiml", telephony.TwiMLHandler(reg, cfg.StreamURL()))
	webhook.GET("/twiml", telephony.TwiMLHandler(reg, cfg.StreamURL()))
	webhook.POST("/webhooks/twilio/status", telephony.StatusCallbackHandler(reg))

	r.GET("/media-stream", stream.HandleMediaStream)

	r.POST("/auth/token", issueToken(cfg, authManager))

	v1 := r.Group("/v1", auth.RequireToken(authManager))
	gateway.NewHTTP(gw).Register(v1)
}

type tokenRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	APISecret string `json:"api_secret" binding:"required"`
}

// issueToken trades the shared deployment secret for a per-session bearer
// token, so workflow services never put the secret on every request.
func issueToken(cfg config.Config, m *auth.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req tokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if subtle.ConstantTimeCompare([]byte(req.APISecret), []byte(cfg.Auth.APISecret)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		token, err := m.Issue(time.Now(), req.SessionID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"token":      token,
			"expires_in": int(cfg.Auth.TokenTTL.Seconds()),
		})
	}
}
