package registry

import (
	"strconv"
	"strings"
	"time"
)

// CallStatus is the lifecycle state of a call record.
// Transitions are forward-only; terminal states are absorbing.
type CallStatus string

const (
	StatusPending    CallStatus = "pending"
	StatusInProgress CallStatus = "in_progress"
	StatusCompleted  CallStatus = "completed"
	StatusFailed     CallStatus = "failed"
	StatusTimedOut   CallStatus = "timed_out"
)

// Terminal reports whether no further transitions are allowed.
func (s CallStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut:
		return true
	default:
		return false
	}
}

func statusRank(s CallStatus) int {
	switch s {
	case StatusPending:
		return 0
	case StatusInProgress:
		return 1
	case StatusCompleted, StatusFailed, StatusTimedOut:
		return 2
	default:
		return -1
	}
}

// CallType distinguishes the two call flavors the concierge places.
type CallType string

const (
	CallTypeReservation  CallType = "reservation"
	CallTypeCancellation CallType = "cancellation"
)

// Role identifies who spoke a transcript line.
type Role string

const (
	// RoleAgent is our side of the call (the synthesized voice).
	RoleAgent Role = "agent"
	// RoleCounterpart is the human who answered (restaurant staff).
	RoleCounterpart Role = "counterpart"
)

// RequestParameters is the immutable snapshot of what a call was asked to do.
// It is set at creation and never mutated.
type RequestParameters struct {
	CallType       CallType `json:"call_type"`
	RestaurantName string   `json:"restaurant_name"`
	PhoneNumber    string   `json:"phone_number"`
	PartySize      int      `json:"party_size,omitempty"`
	Date           string   `json:"date,omitempty"`
	Time           string   `json:"time,omitempty"`
	CustomerName   string   `json:"customer_name,omitempty"`

	// ConfirmationNumber is the existing reference code for cancellations.
	ConfirmationNumber string `json:"confirmation_number,omitempty"`
	SpecialRequests    string `json:"special_requests,omitempty"`
}

// CustomParameters flattens the request into the string map carried inside
// the transport's start-of-stream event. Embedding the full request in the
// stream itself is the primary correlation path; registry lookup by call_id
// is an optimization on top of it.
func (p RequestParameters) CustomParameters(callID string) map[string]string {
	m := map[string]string{
		"call_id":         callID,
		"call_type":       string(p.CallType),
		"restaurant_name": p.RestaurantName,
	}
	if p.PartySize > 0 {
		m["party_size"] = strconv.Itoa(p.PartySize)
	}
	if p.Date != "" {
		m["date"] = p.Date
	}
	if p.Time != "" {
		m["time"] = p.Time
	}
	if p.CustomerName != "" {
		m["customer_name"] = p.CustomerName
	}
	if p.ConfirmationNumber != "" {
		m["confirmation_number"] = p.ConfirmationNumber
	}
	if p.SpecialRequests != "" {
		m["special_requests"] = p.SpecialRequests
	}
	return m
}

// ParamsFromCustomParameters rebuilds request parameters from a start event's
// custom fields. Returns ok=false when the map carries no usable request.
func ParamsFromCustomParameters(m map[string]string) (RequestParameters, bool) {
	if len(m) == 0 {
		return RequestParameters{}, false
	}
	p := RequestParameters{
		RestaurantName:     strings.TrimSpace(m["restaurant_name"]),
		PhoneNumber:        strings.TrimSpace(m["phone_number"]),
		Date:               strings.TrimSpace(m["date"]),
		Time:               strings.TrimSpace(m["time"]),
		CustomerName:       strings.TrimSpace(m["customer_name"]),
		ConfirmationNumber: strings.TrimSpace(m["confirmation_number"]),
		SpecialRequests:    strings.TrimSpace(m["special_requests"]),
	}
	switch CallType(m["call_type"]) {
	case CallTypeCancellation:
		p.CallType = CallTypeCancellation
	default:
		p.CallType = CallTypeReservation
	}
	if n, err := strconv.Atoi(m["party_size"]); err == nil && n > 0 {
		p.PartySize = n
	}
	if p.RestaurantName == "" && p.Date == "" && p.Time == "" {
		return RequestParameters{}, false
	}
	return p, true
}

// TranscriptEntry is one finalized utterance in conversational order.
type TranscriptEntry struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Result is the structured outcome derived from a finished transcript.
// Nil date/time means "unchanged from what was requested".
type Result struct {
	ConfirmationCode *string `json:"confirmation_code"`
	ResolvedDate     *string `json:"resolved_date"`
	ResolvedTime     *string `json:"resolved_time"`
	Modified         bool    `json:"modified"`
	Notes            string  `json:"notes,omitempty"`
}

// CallRecord is the registry's state object for one call attempt.
type CallRecord struct {
	CallID string `json:"call_id"`

	// ProviderSID is the telephony provider's identifier for the call.
	ProviderSID string `json:"provider_sid,omitempty"`
	// StreamSID identifies the media stream bound to this record.
	StreamSID string `json:"stream_sid,omitempty"`

	Status CallStatus        `json:"status"`
	Params RequestParameters `json:"request_parameters"`

	Transcript []TranscriptEntry `json:"transcript"`
	Result     *Result           `json:"result,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`

	Error string `json:"error,omitempty"`
}

// Duration is the wall-clock span from creation to terminal transition.
func (c CallRecord) Duration() time.Duration {
	if c.CompletedAt.IsZero() {
		return 0
	}
	return c.CompletedAt.Sub(c.CreatedAt)
}

func (c *CallRecord) clone() CallRecord {
	out := *c
	if len(c.Transcript) > 0 {
		out.Transcript = make([]TranscriptEntry, len(c.Transcript))
		copy(out.Transcript, c.Transcript)
	}
	if c.Result != nil {
		r := *c.Result
		out.Result = &r
	}
	return out
}
