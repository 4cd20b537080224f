package engine

import (
	"strings"
	"testing"

	"voice-concierge/internal/registry"
)

func TestTranslateServerEvent(t *testing.T) {
	cases := []struct {
		name string
		wire string
		want Event
	}{
		{
			name: "audio delta",
			wire: `{"type":"response.audio.delta","item_id":"a1","delta":"AAEC"}`,
			want: Event{Type: EventAudio, ItemID: "a1", Audio: []byte{0, 1, 2}},
		},
		{
			name: "agent transcript delta",
			wire: `{"type":"response.audio_transcript.delta","item_id":"a1","delta":"Good eve"}`,
			want: Event{Type: EventTranscript, Role: registry.RoleAgent, ItemID: "a1", Text: "Good eve"},
		},
		{
			name: "agent turn complete",
			wire: `{"type":"response.audio_transcript.done","item_id":"a1","transcript":"Good evening."}`,
			want: Event{Type: EventTurnComplete, Role: registry.RoleAgent, ItemID: "a1",
				Text: "Good evening.", IsFinal: true},
		},
		{
			name: "counterpart turn complete",
			wire: `{"type":"conversation.item.input_audio_transcription.completed","item_id":"c1","transcript":"Table for two?"}`,
			want: Event{Type: EventTurnComplete, Role: registry.RoleCounterpart, ItemID: "c1",
				Text: "Table for two?", IsFinal: true},
		},
		{
			name: "barge-in",
			wire: `{"type":"input_audio_buffer.speech_started"}`,
			want: Event{Type: EventInterrupted},
		},
		{
			name: "history snapshot marker",
			wire: `{"type":"response.done"}`,
			want: Event{Type: EventHistorySnapshot},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok, err := translateServerEvent([]byte(tc.wire))
			if err != nil {
				t.Fatalf("translate failed: %v", err)
			}
			if !ok {
				t.Fatal("event was dropped")
			}
			if got.Type != tc.want.Type || got.Role != tc.want.Role ||
				got.ItemID != tc.want.ItemID || got.Text != tc.want.Text ||
				got.IsFinal != tc.want.IsFinal {
				t.Fatalf("event = %+v, want %+v", got, tc.want)
			}
			if string(got.Audio) != string(tc.want.Audio) {
				t.Fatalf("audio = %v, want %v", got.Audio, tc.want.Audio)
			}
		})
	}
}

func TestTranslateServerEvent_Error(t *testing.T) {
	got, ok, err := translateServerEvent(
		[]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad session"}}`))
	if err != nil || !ok {
		t.Fatalf("translate: ok=%v err=%v", ok, err)
	}
	if got.Type != EventError || got.Err == nil {
		t.Fatalf("event = %+v", got)
	}
	if !strings.Contains(got.Err.Error(), "bad session") {
		t.Fatalf("err = %v", got.Err)
	}
}

func TestTranslateServerEvent_UnknownTypeIgnored(t *testing.T) {
	_, ok, err := translateServerEvent([]byte(`{"type":"rate_limits.updated"}`))
	if err != nil {
		t.Fatalf("translate failed: %v", err)
	}
	if ok {
		t.Fatal("unknown event type should be dropped, not surfaced")
	}
}

func TestTranslateServerEvent_BadInput(t *testing.T) {
	if _, _, err := translateServerEvent([]byte(`{not json`)); err == nil {
		t.Fatal("malformed frame accepted")
	}
	if _, _, err := translateServerEvent(
		[]byte(`{"type":"response.audio.delta","delta":"!!not-base64!!"}`)); err == nil {
		t.Fatal("undecodable audio delta accepted")
	}
}

func TestTruncateMessage(t *testing.T) {
	m := truncateMessage("a1", 37)
	if m["type"] != "conversation.item.truncate" {
		t.Fatalf("type = %v", m["type"])
	}
	if m["item_id"] != "a1" || m["audio_end_ms"] != 37 || m["content_index"] != 0 {
		t.Fatalf("payload = %v", m)
	}
}

func TestBuildInstructions(t *testing.T) {
	res := buildInstructions(registry.RequestParameters{
		CallType:       registry.CallTypeReservation,
		RestaurantName: "Trattoria Roma",
		PartySize:      4,
		Date:           "2025-11-10",
		Time:           "19:00",
		CustomerName:   "Alex Meyer",
	})
	for _, want := range []string{"Trattoria Roma", "4", "2025-11-10", "19:00", "Alex Meyer", "confirmation number"} {
		if !strings.Contains(res, want) {
			t.Fatalf("reservation instructions missing %q:\n%s", want, res)
		}
	}

	cancel := buildInstructions(registry.RequestParameters{
		CallType:           registry.CallTypeCancellation,
		RestaurantName:     "Trattoria Roma",
		CustomerName:       "Alex Meyer",
		ConfirmationNumber: "AB1234",
	})
	for _, want := range []string{"cancel", "AB1234", "Alex Meyer"} {
		if !strings.Contains(cancel, want) {
			t.Fatalf("cancellation instructions missing %q:\n%s", want, cancel)
		}
	}
}
