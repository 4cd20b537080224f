// Package gateway is the synchronous face of the call pipeline. Workflow
// services ask it to place a call and block for the outcome without ever
// touching the streaming protocol; internally it polls the registry until
// the record turns terminal.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"voice-concierge/internal/ratelimit"
	"voice-concierge/internal/registry"
	"voice-concierge/internal/telephony"
)

var ErrNotFound = errors.New("call not found")

// Outcome is the caller-facing result of a finished call.
type Outcome struct {
	CallID           string                     `json:"call_id"`
	Success          bool                       `json:"success"`
	ConfirmationCode *string                    `json:"confirmation_code"`
	ResolvedDate     *string                    `json:"resolved_date"`
	ResolvedTime     *string                    `json:"resolved_time"`
	Modified         bool                       `json:"modified"`
	Notes            string                     `json:"notes,omitempty"`
	Transcript       []registry.TranscriptEntry `json:"transcript"`
	DurationSeconds  float64                    `json:"duration_seconds"`
	Error            *string                    `json:"error"`
}

// Config tunes the polling loop and supplies the public URLs the provider
// needs for each call.
type Config struct {
	// PollInterval between registry reads while waiting.
	PollInterval time.Duration
	// DefaultTimeout bounds AwaitResult when the caller passes none.
	DefaultTimeout time.Duration
	// ResultGrace tolerates a completed status whose result is still being
	// written before giving up on it.
	ResultGrace time.Duration

	// TwiMLURL returns the call-instruction URL for a call.
	TwiMLURL func(callID string) string
	// StatusCallbackURL returns the progress-webhook URL for a call.
	StatusCallbackURL func(callID string) string
}

func (c Config) withDefaults() Config {
	out := c
	if out.PollInterval <= 0 {
		out.PollInterval = 2 * time.Second
	}
	if out.DefaultTimeout <= 0 {
		out.DefaultTimeout = 3 * time.Minute
	}
	if out.ResultGrace <= 0 {
		out.ResultGrace = 10 * time.Second
	}
	return out
}

type Gateway struct {
	reg     *registry.Registry
	placer  telephony.Placer
	limiter *ratelimit.Limiter
	cfg     Config
	log     *slog.Logger
}

func New(reg *registry.Registry, placer telephony.Placer, limiter *ratelimit.Limiter, cfg Config, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		reg:     reg,
		placer:  placer,
		limiter: limiter,
		cfg:     cfg.withDefaults(),
		log:     log,
	}
}

// StartCall validates the request, reserves rate-limit budget for sessionID,
// registers a pending record, and dials out. Returns the new call_id.
func (g *Gateway) StartCall(ctx context.Context, sessionID string, params registry.RequestParameters) (string, error) {
	if err := validateParams(params); err != nil {
		return "", err
	}
	if err := g.limiter.Allow(ctx, sessionID); err != nil {
		return "", err
	}

	callID := g.reg.Create(params)
	sid, err := g.placer.Place(ctx, params.PhoneNumber,
		g.cfg.TwiMLURL(callID), g.cfg.StatusCallbackURL(callID))
	if err != nil {
		g.reg.Transition(callID, registry.StatusFailed, nil, "call placement: "+err.Error())
		return "", fmt.Errorf("place call: %w", err)
	}
	g.reg.SetProviderSID(callID, sid)

	g.log.Info("call started", "call_id", callID, "session_id", sessionID)
	return callID, nil
}

// AwaitResult blocks until the call reaches a terminal state or timeout
// elapses. On timeout the record itself is moved to timed_out, so later
// polls agree with what this caller was told. A completed status with a
// still-missing result is treated as "finalizing" for a short grace window,
// never as an empty success.
func (g *Gateway) AwaitResult(ctx context.Context, callID string, timeout time.Duration) (Outcome, error) {
	if timeout <= 0 {
		timeout = g.cfg.DefaultTimeout
	}
	deadline := time.Now().Add(timeout)
	var graceStart time.Time

	for {
		rec, ok := g.reg.Get(callID)
		if !ok {
			return Outcome{}, ErrNotFound
		}

		if rec.Status.Terminal() {
			if rec.Status == registry.StatusCompleted && rec.Result == nil {
				if graceStart.IsZero() {
					graceStart = time.Now()
				}
				if time.Since(graceStart) < g.cfg.ResultGrace {
					if err := g.sleep(ctx); err != nil {
						return Outcome{}, err
					}
					continue
				}
			}
			return g.buildOutcome(rec), nil
		}

		if time.Now().After(deadline) {
			g.reg.Transition(callID, registry.StatusTimedOut, nil, "call timed out")
			rec, _ = g.reg.Get(callID)
			return g.buildOutcome(rec), nil
		}
		if err := g.sleep(ctx); err != nil {
			return Outcome{}, err
		}
	}
}

// GetCall returns a point-in-time view without waiting.
func (g *Gateway) GetCall(callID string) (registry.CallRecord, error) {
	rec, ok := g.reg.Get(callID)
	if !ok {
		return registry.CallRecord{}, ErrNotFound
	}
	return rec, nil
}

func (g *Gateway) sleep(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(g.cfg.PollInterval):
		return nil
	}
}

func (g *Gateway) buildOutcome(rec registry.CallRecord) Outcome {
	out := Outcome{
		CallID:          rec.CallID,
		Success:         rec.Status == registry.StatusCompleted,
		Transcript:      rec.Transcript,
		DurationSeconds: rec.Duration().Seconds(),
	}
	if rec.Result != nil {
		out.ConfirmationCode = rec.Result.ConfirmationCode
		out.ResolvedDate = rec.Result.ResolvedDate
		out.ResolvedTime = rec.Result.ResolvedTime
		out.Modified = rec.Result.Modified
		out.Notes = rec.Result.Notes
	}
	if rec.Error != "" {
		e := rec.Error
		out.Error = &e
	} else if rec.Status == registry.StatusTimedOut {
		e := "call timed out"
		out.Error = &e
	}
	return out
}

func validateParams(p registry.RequestParameters) error {
	if p.PhoneNumber == "" {
		return errors.New("phone_number is required")
	}
	if p.RestaurantName == "" {
		return errors.New("restaurant_name is required")
	}
	switch p.CallType {
	case registry.CallTypeReservation:
		if p.Date == "" || p.Time == "" {
			return errors.New("date and time are required for a reservation")
		}
		if p.PartySize <= 0 {
			return errors.New("party_size must be positive")
		}
	case registry.CallTypeCancellation:
		if p.ConfirmationNumber == "" && p.CustomerName == "" {
			return errors.New("cancellation needs a confirmation_number or customer_name")
		}
	default:
		return fmt.Errorf("unknown call_type %q", p.CallType)
	}
	return nil
}
