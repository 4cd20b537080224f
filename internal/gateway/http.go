package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"voice-concierge/internal/auth"
	"voice-concierge/internal/ratelimit"
	"voice-concierge/internal/registry"
	"voice-concierge/pkg/logger"
)

// HTTP exposes the gateway over the /v1 API.
type HTTP struct {
	gw *Gateway
}

func NewHTTP(gw *Gateway) *HTTP {
	return &HTTP{gw: gw}
}

// Register mounts the gateway routes on an authenticated group.
func (h *HTTP) Register(r gin.IRoutes) {
	r.POST("/calls", h.startCall)
	r.POST("/calls/:call_id/await", h.awaitResult)
	r.GET("/calls/:call_id", h.getCall)
}

type startCallRequest struct {
	CallType           string `json:"call_type" binding:"required"`
	RestaurantName     string `json:"restaurant_name"`
	PhoneNumber        string `json:"phone_number"`
	PartySize          int    `json:"party_size"`
	Date               string `json:"date"`
	Time               string `json:"time"`
	CustomerName       string `json:"customer_name"`
	ConfirmationNumber string `json:"confirmation_number"`
	SpecialRequests    string `json:"special_requests"`
}

func (h *HTTP) startCall(c *gin.Context) {
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params := registry.RequestParameters{
		CallType:           registry.CallType(req.CallType),
		RestaurantName:     req.RestaurantName,
		PhoneNumber:        req.PhoneNumber,
		PartySize:          req.PartySize,
		Date:               req.Date,
		Time:               req.Time,
		CustomerName:       req.CustomerName,
		ConfirmationNumber: req.ConfirmationNumber,
		SpecialRequests:    req.SpecialRequests,
	}

	callID, err := h.gw.StartCall(c.Request.Context(), auth.SessionID(c), params)
	if err != nil {
		switch {
		case errors.Is(err, ratelimit.ErrHourlyLimit), errors.Is(err, ratelimit.ErrDailyLimit):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		default:
			logger.FromGin(c).Warn("start call rejected", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"call_id": callID,
		"status":  registry.StatusPending,
	})
}

type awaitRequest struct {
	TimeoutSeconds int `json:"timeout_seconds"`
}

func (h *HTTP) awaitResult(c *gin.Context) {
	var req awaitRequest
	// An empty body means "use the default timeout".
	_ = c.ShouldBindJSON(&req)

	outcome, err := h.gw.AwaitResult(c.Request.Context(),
		c.Param("call_id"), time.Duration(req.TimeoutSeconds)*time.Second)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (h *HTTP) getCall(c *gin.Context) {
	rec, err := h.gw.GetCall(c.Param("call_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}
