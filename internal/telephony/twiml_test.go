package telephony

import (
	"strings"
	"testing"

	"voice-concierge/internal/registry"
)

func TestRenderStreamTwiML(t *testing.T) {
	params := registry.RequestParameters{
		CallType:       registry.CallTypeReservation,
		RestaurantName: "Trattoria Roma",
		PartySize:      4,
		Date:           "2025-11-10",
		Time:           "19:00",
		CustomerName:   "Dana",
	}

	out, err := RenderStreamTwiML("wss://example.com/media-stream", "call-123", params)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}

	for _, want := range []string{
		"<Response>",
		"<Connect>",
		`<Stream url="wss://example.com/media-stream">`,
		`<Parameter name="call_id" value="call-123">`,
		`<Parameter name="restaurant_name" value="Trattoria Roma">`,
		`<Parameter name="party_size" value="4">`,
		`<Parameter name="time" value="19:00">`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered TwiML missing %q:\n%s", want, out)
		}
	}
	if !strings.HasPrefix(out, "<?xml") {
		t.Error("missing XML declaration")
	}
}

func TestRenderStreamTwiML_ParametersSorted(t *testing.T) {
	params := registry.RequestParameters{
		CallType:       registry.CallTypeReservation,
		RestaurantName: "Roma",
		Date:           "2025-11-10",
	}
	a, err := RenderStreamTwiML("wss://example.com/media-stream", "c1", params)
	if err != nil {
		t.Fatal(err)
	}
	b, err := RenderStreamTwiML("wss://example.com/media-stream", "c1", params)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("rendering is not deterministic")
	}
}

func TestRenderStreamTwiML_RequiresURL(t *testing.T) {
	if _, err := RenderStreamTwiML("", "c1", registry.RequestParameters{}); err == nil {
		t.Fatal("expected error for empty stream url")
	}
}
