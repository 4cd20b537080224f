package telephony

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"voice-concierge/internal/registry"
)

func signedRequest(t *testing.T, authToken, domain, path string, form url.Values) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	sig := computeSignature(authToken, "https://"+domain+path, form)
	req.Header.Set("X-Twilio-Signature", sig)
	return req
}

func newWebhookRouter(reg *registry.Registry, authToken, domain string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/twilio/status",
		ValidateSignature(authToken, domain),
		StatusCallbackHandler(reg))
	return r
}

func TestValidateSignature_Accepts(t *testing.T) {
	reg := registry.New(nil)
	r := newWebhookRouter(reg, "token123", "concierge.example.com")

	form := url.Values{}
	form.Set("CallSid", "CA999")
	form.Set("CallStatus", "ringing")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest(t, "token123", "concierge.example.com", "/webhooks/twilio/status", form))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestValidateSignature_RejectsBadSignature(t *testing.T) {
	reg := registry.New(nil)
	r := newWebhookRouter(reg, "token123", "concierge.example.com")

	form := url.Values{}
	form.Set("CallSid", "CA999")

	req := signedRequest(t, "wrong-token", "concierge.example.com", "/webhooks/twilio/status", form)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestValidateSignature_RejectsMissingHeader(t *testing.T) {
	reg := registry.New(nil)
	r := newWebhookRouter(reg, "token123", "concierge.example.com")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestStatusCallback_FailsDeadCall(t *testing.T) {
	reg := registry.New(nil)
	id := reg.Create(registry.RequestParameters{
		CallType:       registry.CallTypeReservation,
		RestaurantName: "Roma",
	})
	r := newWebhookRouter(reg, "token123", "concierge.example.com")

	form := url.Values{}
	form.Set("CallSid", "CA999")
	form.Set("CallStatus", "no-answer")

	path := "/webhooks/twilio/status?call_id=" + id
	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest(t, "token123", "concierge.example.com", path, form))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	c, _ := reg.Get(id)
	if c.Status != registry.StatusFailed {
		t.Fatalf("record status = %s, want failed", c.Status)
	}
	if c.Error != "no answer" {
		t.Fatalf("error = %q", c.Error)
	}
	if c.ProviderSID != "CA999" {
		t.Fatalf("provider sid = %q", c.ProviderSID)
	}
}

func TestStatusCallback_IgnoresBoundCall(t *testing.T) {
	reg := registry.New(nil)
	id := reg.Create(registry.RequestParameters{
		CallType:       registry.CallTypeReservation,
		RestaurantName: "Roma",
	})
	reg.Bind(id, "MZ1")
	r := newWebhookRouter(reg, "token123", "concierge.example.com")

	form := url.Values{}
	form.Set("CallStatus", "completed")

	path := "/webhooks/twilio/status?call_id=" + id
	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest(t, "token123", "concierge.example.com", path, form))

	c, _ := reg.Get(id)
	if c.Status != registry.StatusInProgress {
		t.Fatalf("bridge-owned record was touched: %s", c.Status)
	}
}
