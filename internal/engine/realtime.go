package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"voice-concierge/internal/registry"
)

const realtimeURL = "wss://api.openai.com/v1/realtime"

// RealtimeDialer opens sessions against the OpenAI Realtime API.
type RealtimeDialer struct {
	apiKey      string
	model       string
	voice       string
	audioFormat string
	log         *slog.Logger
}

func NewRealtimeDialer(apiKey, model, voice, audioFormat string, log *slog.Logger) *RealtimeDialer {
	if log == nil {
		log = slog.Default()
	}
	return &RealtimeDialer{
		apiKey:      apiKey,
		model:       model,
		voice:       voice,
		audioFormat: audioFormat,
		log:         log,
	}
}

func (d *RealtimeDialer) Dial(ctx context.Context, params registry.RequestParameters) (Session, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+d.apiKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, realtimeURL+"?model="+d.model, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("realtime dial: %w", err)
	}

	s := &realtimeSession{
		conn:      conn,
		events:    make(chan Event, 64),
		truncated: make(map[string]bool),
		log:       d.log,
	}

	update := map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"modalities":          []string{"text", "audio"},
			"voice":               d.voice,
			"instructions":        buildInstructions(params),
			"input_audio_format":  d.audioFormat,
			"output_audio_format": d.audioFormat,
			"input_audio_transcription": map[string]any{
				"model": "whisper-1",
			},
			"turn_detection": map[string]any{
				"type":                "server_vad",
				"threshold":           0.5,
				"prefix_padding_ms":   300,
				"silence_duration_ms": 500,
			},
		},
	}
	if err := s.writeJSON(update); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("configure realtime session: %w", err)
	}
	// The agent places the call, so it speaks first.
	if err := s.writeJSON(map[string]any{"type": "response.create"}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("trigger opening turn: %w", err)
	}

	go s.readLoop()
	return s, nil
}

type realtimeSession struct {
	conn   *websocket.Conn
	events chan Event
	log    *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once

	// Items cut short by a barge-in. Their cancelled-response completions
	// carry the full generated text and must stay out of the history.
	truncMu   sync.Mutex
	truncated map[string]bool

	// Finalized turns so far, touched only by readLoop.
	history []registry.TranscriptEntry
}

func (s *realtimeSession) Events() <-chan Event {
	return s.events
}

func (s *realtimeSession) SendAudio(_ context.Context, audio []byte) error {
	if len(audio) == 0 {
		return nil
	}
	return s.writeJSON(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(audio),
	})
}

// Truncate trims an interrupted item's audio in the engine's conversation
// history to what the caller actually heard, so later history exports do not
// carry the unheard tail.
func (s *realtimeSession) Truncate(_ context.Context, itemID string, audioEndMs int) error {
	if itemID == "" {
		return nil
	}
	s.truncMu.Lock()
	s.truncated[itemID] = true
	s.truncMu.Unlock()
	return s.writeJSON(truncateMessage(itemID, audioEndMs))
}

func truncateMessage(itemID string, audioEndMs int) map[string]any {
	return map[string]any{
		"type":          "conversation.item.truncate",
		"item_id":       itemID,
		"content_index": 0,
		"audio_end_ms":  audioEndMs,
	}
}

func (s *realtimeSession) isTruncated(itemID string) bool {
	s.truncMu.Lock()
	defer s.truncMu.Unlock()
	return s.truncated[itemID]
}

func (s *realtimeSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *realtimeSession) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// serverEvent is the superset of fields we read off the realtime wire.
type serverEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta"`
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
	Error      struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// translateServerEvent maps one wire message to a bridge-facing event.
// ok=false means the message type is not one the bridge consumes.
func translateServerEvent(data []byte) (Event, bool, error) {
	var ev serverEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, false, fmt.Errorf("unparseable realtime event: %w", err)
	}

	switch ev.Type {
	case "response.audio.delta":
		audio, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			return Event{}, false, fmt.Errorf("bad audio delta encoding: %w", err)
		}
		return Event{Type: EventAudio, Audio: audio, ItemID: ev.ItemID}, true, nil

	case "response.audio_transcript.delta":
		return Event{
			Type:   EventTranscript,
			Role:   registry.RoleAgent,
			ItemID: ev.ItemID,
			Text:   ev.Delta,
		}, true, nil

	case "response.audio_transcript.done":
		return Event{
			Type:    EventTurnComplete,
			Role:    registry.RoleAgent,
			ItemID:  ev.ItemID,
			Text:    ev.Transcript,
			IsFinal: true,
		}, true, nil

	case "conversation.item.input_audio_transcription.completed":
		return Event{
			Type:    EventTurnComplete,
			Role:    registry.RoleCounterpart,
			ItemID:  ev.ItemID,
			Text:    ev.Transcript,
			IsFinal: true,
		}, true, nil

	case "input_audio_buffer.speech_started":
		return Event{Type: EventInterrupted}, true, nil

	case "response.done":
		// Entries are filled in by the read loop, which owns the history.
		return Event{Type: EventHistorySnapshot}, true, nil

	case "error":
		return Event{Type: EventError,
			Err: fmt.Errorf("engine error %s: %s", ev.Error.Type, ev.Error.Message)}, true, nil
	}
	return Event{}, false, nil
}

func (s *realtimeSession) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.events <- Event{Type: EventStreamEnded}
			return
		}

		ev, ok, err := translateServerEvent(data)
		if err != nil {
			s.log.Warn("skipping realtime event", "error", err)
			continue
		}
		if !ok {
			continue
		}

		switch ev.Type {
		case EventTurnComplete:
			if !s.isTruncated(ev.ItemID) {
				s.recordTurn(ev.Role, ev.Text)
			}
		case EventHistorySnapshot:
			// The engine's finalized history is authoritative; ship a copy
			// so the reconciler can repair anything it missed.
			ev.Entries = make([]registry.TranscriptEntry, len(s.history))
			copy(ev.Entries, s.history)
		}
		s.events <- ev
	}
}

func (s *realtimeSession) recordTurn(role registry.Role, text string) {
	if text == "" {
		return
	}
	s.history = append(s.history, registry.TranscriptEntry{Role: role, Text: text})
}

func buildInstructions(p registry.RequestParameters) string {
	if p.CallType == registry.CallTypeCancellation {
		return fmt.Sprintf(
			"You are a polite assistant calling %s to cancel a reservation on behalf of %s. "+
				"The reservation reference is %s. State the purpose of the call right away, "+
				"confirm the cancellation went through, and thank them. Keep every turn short; "+
				"this is a phone call. If they cannot find the reservation, give the name and "+
				"date instead of the reference.",
			orUnknown(p.RestaurantName), orUnknown(p.CustomerName), orUnknown(p.ConfirmationNumber))
	}
	msg := fmt.Sprintf(
		"You are a polite assistant calling %s to book a table for %d on %s at %s under the name %s. "+
			"State the purpose of the call right away. If the requested slot is unavailable, accept the "+
			"closest alternative within an hour and clearly repeat the agreed date and time. "+
			"Always ask for a confirmation number and read it back to verify it. Keep every turn short; "+
			"this is a phone call.",
		orUnknown(p.RestaurantName), p.PartySize, orUnknown(p.Date), orUnknown(p.Time), orUnknown(p.CustomerName))
	if p.SpecialRequests != "" {
		msg += " Also mention: " + p.SpecialRequests + "."
	}
	return msg
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
