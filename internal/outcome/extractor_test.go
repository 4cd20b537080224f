package outcome

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"voice-concierge/internal/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAnalyzer struct {
	result SemanticResult
	err    error
	called bool
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _ []registry.TranscriptEntry, _ registry.RequestParameters) (SemanticResult, error) {
	f.called = true
	return f.result, f.err
}

func reservationParams() registry.RequestParameters {
	return registry.RequestParameters{
		CallType:       registry.CallTypeReservation,
		RestaurantName: "Trattoria Roma",
		PartySize:      4,
		Date:           "2025-11-10",
		Time:           "19:00",
	}
}

func turn(role registry.Role, text string) registry.TranscriptEntry {
	return registry.TranscriptEntry{Role: role, Text: text}
}

func TestExtract_ConfirmationPhrase(t *testing.T) {
	e := NewExtractor(nil, testLogger())
	entries := []registry.TranscriptEntry{
		turn(registry.RoleAgent, "I'd like to book a table for four on November tenth at seven."),
		turn(registry.RoleCounterpart, "Sure, that works. Your confirmation number is 0815."),
	}

	res := e.Extract(context.Background(), entries, reservationParams())
	if res.ConfirmationCode == nil || *res.ConfirmationCode != "0815" {
		t.Fatalf("code = %v, want 0815", res.ConfirmationCode)
	}
	if res.ResolvedDate != nil || res.ResolvedTime != nil {
		t.Fatalf("unchanged request should leave resolved fields nil: %+v", res)
	}
	if res.Modified {
		t.Fatal("modified should be false")
	}
}

func TestExtract_GermanConfirmationPhrase(t *testing.T) {
	e := NewExtractor(nil, testLogger())
	entries := []registry.TranscriptEntry{
		turn(registry.RoleCounterpart, "Alles klar, Ihre Bestätigungsnummer ist AB1234."),
	}
	res := e.Extract(context.Background(), entries, reservationParams())
	if res.ConfirmationCode == nil || *res.ConfirmationCode != "AB1234" {
		t.Fatalf("code = %v, want AB1234", res.ConfirmationCode)
	}
}

func TestExtract_LatestStatementWins(t *testing.T) {
	e := NewExtractor(nil, testLogger())
	entries := []registry.TranscriptEntry{
		turn(registry.RoleCounterpart, "Your confirmation number is TEMP99."),
		turn(registry.RoleCounterpart, "Actually, sorry, the confirmation number is FINAL77."),
	}
	res := e.Extract(context.Background(), entries, reservationParams())
	if res.ConfirmationCode == nil || *res.ConfirmationCode != "FINAL77" {
		t.Fatalf("code = %v, want FINAL77", res.ConfirmationCode)
	}
}

func TestExtract_AgentEchoCorrectsTranscriptionDrift(t *testing.T) {
	// Counterpart's spoken code transcribed with one wrong character; the
	// agent read it back and its version is close enough to trust.
	e := NewExtractor(nil, testLogger())
	entries := []registry.TranscriptEntry{
		turn(registry.RoleCounterpart, "The confirmation number is BX47O2."),
		turn(registry.RoleAgent, "Got it, confirmation number BX4702, thank you."),
	}
	res := e.Extract(context.Background(), entries, reservationParams())
	if res.ConfirmationCode == nil || *res.ConfirmationCode != "BX4702" {
		t.Fatalf("code = %v, want agent's echo BX4702", res.ConfirmationCode)
	}
}

func TestExtract_DistantCodesTrustCounterpart(t *testing.T) {
	e := NewExtractor(nil, testLogger())
	entries := []registry.TranscriptEntry{
		turn(registry.RoleAgent, "Is the reservation number WRONG111?"),
		turn(registry.RoleCounterpart, "No, your confirmation number is ZZ9876."),
	}
	res := e.Extract(context.Background(), entries, reservationParams())
	if res.ConfirmationCode == nil || *res.ConfirmationCode != "ZZ9876" {
		t.Fatalf("code = %v, want counterpart's ZZ9876", res.ConfirmationCode)
	}
}

func TestExtract_TimeChangeResolvedViaSemanticPass(t *testing.T) {
	fake := &fakeAnalyzer{result: SemanticResult{
		AgreedTime: "8:30",
		Modified:   true,
	}}
	e := NewExtractor(fake, testLogger())
	entries := []registry.TranscriptEntry{
		turn(registry.RoleCounterpart, "Seven is full, I can do 8:30 instead of 7."),
		turn(registry.RoleAgent, "8:30 works, let's do that."),
	}

	res := e.Extract(context.Background(), entries, reservationParams())
	if !fake.called {
		t.Fatal("semantic analyzer was not invoked")
	}
	if res.ResolvedTime == nil || *res.ResolvedTime != "20:30" {
		t.Fatalf("resolved time = %v, want 20:30", res.ResolvedTime)
	}
	if !res.Modified {
		t.Fatal("modified should be true")
	}
}

func TestExtract_PatternCodeBeatsSemanticCode(t *testing.T) {
	fake := &fakeAnalyzer{result: SemanticResult{ConfirmationCode: "GUESS1"}}
	e := NewExtractor(fake, testLogger())
	entries := []registry.TranscriptEntry{
		turn(registry.RoleCounterpart, "Your confirmation number is REAL22."),
	}
	res := e.Extract(context.Background(), entries, reservationParams())
	if res.ConfirmationCode == nil || *res.ConfirmationCode != "REAL22" {
		t.Fatalf("code = %v, pattern hit must outrank semantic guess", res.ConfirmationCode)
	}
}

func TestExtract_SemanticCodeUsedWhenPatternsMiss(t *testing.T) {
	fake := &fakeAnalyzer{result: SemanticResult{ConfirmationCode: "qr88x"}}
	e := NewExtractor(fake, testLogger())
	entries := []registry.TranscriptEntry{
		turn(registry.RoleCounterpart, "You're all set, we'll see you Friday."),
	}
	res := e.Extract(context.Background(), entries, reservationParams())
	if res.ConfirmationCode == nil || *res.ConfirmationCode != "QR88X" {
		t.Fatalf("code = %v, want semantic fallback QR88X", res.ConfirmationCode)
	}
}

func TestExtract_SemanticFailureDegradesToPatternsOnly(t *testing.T) {
	fake := &fakeAnalyzer{err: errors.New("model unavailable")}
	e := NewExtractor(fake, testLogger())
	entries := []registry.TranscriptEntry{
		turn(registry.RoleCounterpart, "Your reference number is AA1122."),
	}
	res := e.Extract(context.Background(), entries, reservationParams())
	if res.ConfirmationCode == nil || *res.ConfirmationCode != "AA1122" {
		t.Fatalf("code = %v, want AA1122 despite analyzer failure", res.ConfirmationCode)
	}
}

func TestExtract_CancellationWithoutNewCode(t *testing.T) {
	params := registry.RequestParameters{
		CallType:           registry.CallTypeCancellation,
		RestaurantName:     "Trattoria Roma",
		ConfirmationNumber: "ORIG42",
	}
	e := NewExtractor(nil, testLogger())
	entries := []registry.TranscriptEntry{
		turn(registry.RoleAgent, "I'd like to cancel the reservation under ORIG42."),
		turn(registry.RoleCounterpart, "Yes, cancelled."),
	}

	res := e.Extract(context.Background(), entries, params)
	// The original reference lives in the request parameters; a cancellation
	// that issues no new code leaves the outcome's code nil.
	if res.ConfirmationCode != nil {
		t.Fatalf("code = %v, want nil", *res.ConfirmationCode)
	}
	if res.Modified {
		t.Fatal("modified should be false")
	}
}

func TestExtract_NoSignalIsValidOutcome(t *testing.T) {
	e := NewExtractor(nil, testLogger())
	entries := []registry.TranscriptEntry{
		turn(registry.RoleCounterpart, "Sorry, we're fully booked that night."),
	}
	res := e.Extract(context.Background(), entries, reservationParams())
	if res.ConfirmationCode != nil {
		t.Fatalf("code = %v, want nil", *res.ConfirmationCode)
	}
	if res.Modified {
		t.Fatal("modified should be false")
	}
}

func TestExtract_BareCodeFallback(t *testing.T) {
	e := NewExtractor(nil, testLogger())
	entries := []registry.TranscriptEntry{
		turn(registry.RoleCounterpart, "Alright, you're booked, it's AB1234, see you then."),
	}
	res := e.Extract(context.Background(), entries, reservationParams())
	if res.ConfirmationCode == nil || *res.ConfirmationCode != "AB1234" {
		t.Fatalf("code = %v, want AB1234", res.ConfirmationCode)
	}
}

func TestNormalizeTime(t *testing.T) {
	cases := []struct {
		raw, requested, want string
	}{
		{"8:30", "19:00", "20:30"},
		{"8:30 pm", "12:00", "20:30"},
		{"8:30am", "19:00", "08:30"},
		{"20:30", "19:00", "20:30"},
		{"7", "19:00", "19:00"},
		{"9", "10:00", "09:00"},
		{"12 pm", "19:00", "12:00"},
		{"12 am", "19:00", "00:00"},
		{"19 Uhr", "19:00", "19:00"},
		{"", "19:00", ""},
		{"sometime later", "19:00", ""},
	}
	for _, c := range cases {
		if got := normalizeTime(c.raw, c.requested); got != c.want {
			t.Errorf("normalizeTime(%q, %q) = %q, want %q", c.raw, c.requested, got, c.want)
		}
	}
}
