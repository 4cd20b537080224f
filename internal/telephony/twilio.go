package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// Placer initiates outbound calls. The bridge never talks to the provider
// REST API; placement and streaming are separate concerns.
type Placer interface {
	// Place dials toNumber and points the answered call at twimlURL.
	// Returns the provider's call identifier.
	Place(ctx context.Context, toNumber, twimlURL, statusCallbackURL string) (string, error)
}

// TwilioPlacer places calls through the Twilio REST API using a plain HTTP
// client; no provider SDK.
type TwilioPlacer struct {
	accountSID string
	authToken  string
	fromNumber string
	httpClient *http.Client
	log        *slog.Logger
}

func NewTwilioPlacer(accountSID, authToken, fromNumber string, log *slog.Logger) *TwilioPlacer {
	if log == nil {
		log = slog.Default()
	}
	return &TwilioPlacer{
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        log,
	}
}

func (p *TwilioPlacer) Place(ctx context.Context, toNumber, twimlURL, statusCallbackURL string) (string, error) {
	if toNumber == "" {
		return "", errors.New("telephony: destination number required")
	}

	form := url.Values{}
	form.Set("To", toNumber)
	form.Set("From", p.fromNumber)
	form.Set("Url", twimlURL)
	if statusCallbackURL != "" {
		form.Set("StatusCallback", statusCallbackURL)
		for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
			form.Add("StatusCallbackEvent", ev)
		}
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", twilioAPIBase, p.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(p.accountSID, p.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("telephony: place call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("telephony: read place response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("telephony: place call: status %d: %s", resp.StatusCode, truncateBody(body))
	}

	var out struct {
		SID    string `json:"sid"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("telephony: parse place response: %w", err)
	}
	if out.SID == "" {
		return "", errors.New("telephony: place response missing call sid")
	}

	p.log.Info("call placed", "call_sid", out.SID, "status", out.Status)
	return out.SID, nil
}

func truncateBody(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
