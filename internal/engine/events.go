// Package engine connects to the realtime speech engine and exposes its
// event stream as a channel of tagged events. One Session maps to one live
// call; the bridge consumes Events() from a single goroutine per direction.
package engine

import (
	"context"

	"voice-concierge/internal/registry"
)

type EventType string

const (
	// EventAudio carries one chunk of synthesized agent audio.
	EventAudio EventType = "audio"
	// EventTranscript carries partial transcription text for one turn.
	EventTranscript EventType = "transcript"
	// EventTurnComplete marks a turn's transcription as final.
	EventTurnComplete EventType = "turn_complete"
	// EventHistorySnapshot carries the engine's authoritative view of the
	// whole conversation so far.
	EventHistorySnapshot EventType = "history_snapshot"
	// EventInterrupted signals the counterpart started speaking over the
	// agent's playback.
	EventInterrupted EventType = "interrupted"
	// EventStreamEnded signals the engine connection closed.
	EventStreamEnded EventType = "stream_ended"
	// EventError carries a non-fatal engine-side error.
	EventError EventType = "error"
)

// Event is the tagged union delivered on Session.Events. Only the fields
// relevant to Type are populated.
type Event struct {
	Type EventType

	Audio []byte

	Role    registry.Role
	ItemID  string
	Text    string
	IsFinal bool

	Entries []registry.TranscriptEntry

	Err error
}

// Session is one live engine connection.
type Session interface {
	// Events yields engine events until the connection ends. The channel
	// is closed after EventStreamEnded is delivered.
	Events() <-chan Event
	// SendAudio forwards one frame of caller audio to the engine.
	SendAudio(ctx context.Context, audio []byte) error
	// Truncate tells the engine how much of an item's audio was actually
	// played before an interruption, so its conversation history keeps only
	// what the caller heard.
	Truncate(ctx context.Context, itemID string, audioEndMs int) error
	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Dialer opens engine sessions configured for a specific call.
type Dialer interface {
	Dial(ctx context.Context, params registry.RequestParameters) (Session, error)
}
