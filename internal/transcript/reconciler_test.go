package transcript

import (
	"testing"
	"time"

	"voice-concierge/internal/registry"
)

func entryTexts(entries []registry.TranscriptEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = string(e.Role) + ": " + e.Text
	}
	return out
}

func TestDeltasAccumulatePerTurn(t *testing.T) {
	r := NewReconciler()
	r.AddDelta(registry.RoleAgent, "item1", "Hello, I'd like to ")
	r.AddDelta(registry.RoleAgent, "item1", "make a reservation.")
	r.CompleteTurn(registry.RoleAgent, "item1", "")

	got := r.Entries()
	if len(got) != 1 {
		t.Fatalf("entries = %v, want 1", entryTexts(got))
	}
	if got[0].Text != "Hello, I'd like to make a reservation." {
		t.Fatalf("text = %q", got[0].Text)
	}
	if got[0].Role != registry.RoleAgent {
		t.Fatalf("role = %s", got[0].Role)
	}
}

func TestOrderingFollowsFinalization(t *testing.T) {
	// Counterpart speech finalizes late even though it was spoken first.
	r := NewReconciler()
	r.AddDelta(registry.RoleAgent, "a1", "We can do seven thirty.")
	r.CompleteTurn(registry.RoleAgent, "a1", "")
	// Counterpart's recognizer settles afterwards.
	r.CompleteTurn(registry.RoleCounterpart, "c1", "Do you have anything earlier?")

	got := r.Entries()
	if len(got) != 2 {
		t.Fatalf("entries = %v", entryTexts(got))
	}
	if got[0].Role != registry.RoleAgent || got[1].Role != registry.RoleCounterpart {
		t.Fatalf("order = %v", entryTexts(got))
	}
}

func TestCompleteTurn_FinalTextReplacesDeltas(t *testing.T) {
	r := NewReconciler()
	r.AddDelta(registry.RoleCounterpart, "c1", "do you hav")
	r.CompleteTurn(registry.RoleCounterpart, "c1", "Do you have a table for four?")

	got := r.Entries()
	if len(got) != 1 || got[0].Text != "Do you have a table for four?" {
		t.Fatalf("entries = %v", entryTexts(got))
	}
}

func TestCompleteTurn_WithoutBufferOrTextIsNoop(t *testing.T) {
	r := NewReconciler()
	r.CompleteTurn(registry.RoleAgent, "a1", "")
	r.CompleteTurn(registry.RoleAgent, "a2", "   ")
	if got := r.Entries(); len(got) != 0 {
		t.Fatalf("entries = %v, want none", entryTexts(got))
	}
}

func TestNewItemIDFinalizesPreviousTurn(t *testing.T) {
	r := NewReconciler()
	r.AddDelta(registry.RoleAgent, "a1", "First turn.")
	r.AddDelta(registry.RoleAgent, "a2", "Second turn.")
	r.CompleteTurn(registry.RoleAgent, "a2", "")

	got := r.Entries()
	if len(got) != 2 {
		t.Fatalf("entries = %v", entryTexts(got))
	}
	if got[0].Text != "First turn." || got[1].Text != "Second turn." {
		t.Fatalf("entries = %v", entryTexts(got))
	}
}

func TestInterruptAgentTurn_TruncatesToPlayedFraction(t *testing.T) {
	r := NewReconciler()
	r.AddDelta(registry.RoleAgent, "a1", "I would be happy to confirm your reservation for Friday at seven")

	// 60% of the audio played before the caller cut in.
	r.InterruptAgentTurn(0.6)

	got := r.Entries()
	if len(got) != 1 {
		t.Fatalf("entries = %v", entryTexts(got))
	}
	full := "I would be happy to confirm your reservation for Friday at seven"
	if got[0].Text == full {
		t.Fatal("interrupted turn kept unplayed text")
	}
	if len(got[0].Text) > int(float64(len(full))*0.6)+1 {
		t.Fatalf("kept %d chars of %d, more than the played fraction: %q",
			len(got[0].Text), len(full), got[0].Text)
	}
	// Must end on a word boundary.
	if got[0].Text[len(got[0].Text)-1] == ' ' {
		t.Fatalf("trailing space in %q", got[0].Text)
	}
}

func TestInterruptAgentTurn_NothingPlayedDropsTurn(t *testing.T) {
	r := NewReconciler()
	r.AddDelta(registry.RoleAgent, "a1", "You never heard this.")
	r.InterruptAgentTurn(0)
	if got := r.Entries(); len(got) != 0 {
		t.Fatalf("entries = %v, want none", entryTexts(got))
	}
}

func TestInterruptAgentTurn_FullyPlayedKeepsWholeTurn(t *testing.T) {
	r := NewReconciler()
	r.AddDelta(registry.RoleAgent, "a1", "All of this was heard.")
	r.InterruptAgentTurn(1.0)
	got := r.Entries()
	if len(got) != 1 || got[0].Text != "All of this was heard." {
		t.Fatalf("entries = %v", entryTexts(got))
	}
}

func TestApplySnapshot_AppendsOnlyUnseenEntries(t *testing.T) {
	r := NewReconciler()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	r.now = func() time.Time { return clock }

	r.CompleteTurn(registry.RoleAgent, "a1", "Hello there.")
	clock = base.Add(time.Minute)

	r.ApplySnapshot([]registry.TranscriptEntry{
		{Role: registry.RoleAgent, Text: "Hello there."},
		{Role: registry.RoleCounterpart, Text: "Hi, who is this?"},
	})

	got := r.Entries()
	if len(got) != 2 {
		t.Fatalf("entries = %v", entryTexts(got))
	}
	if !got[0].Timestamp.Equal(base) {
		t.Fatalf("known entry lost its timestamp: %v", got[0].Timestamp)
	}
	if got[1].Timestamp.IsZero() {
		t.Fatal("new snapshot entry has no timestamp")
	}

	// Redelivering the same snapshot must not duplicate anything.
	r.ApplySnapshot([]registry.TranscriptEntry{
		{Role: registry.RoleAgent, Text: "Hello there."},
		{Role: registry.RoleCounterpart, Text: "Hi, who is this?"},
	})
	if got := r.Entries(); len(got) != 2 {
		t.Fatalf("redundant snapshot duplicated entries: %v", entryTexts(got))
	}
}

func TestApplySnapshot_DoesNotResurrectTruncatedTurn(t *testing.T) {
	r := NewReconciler()
	full := "I can seat you at seven thirty tomorrow evening if that works for you"
	r.AddDelta(registry.RoleAgent, "a1", full)
	r.InterruptAgentTurn(0.6)

	// The engine's history still holds the full generated text.
	r.ApplySnapshot([]registry.TranscriptEntry{
		{Role: registry.RoleAgent, Text: full},
	})

	got := r.Entries()
	if len(got) != 1 {
		t.Fatalf("entries = %v", entryTexts(got))
	}
	if got[0].Text == full {
		t.Fatal("snapshot resurrected unplayed text")
	}
}

func TestApplySnapshot_KeepsLocallyFinalizedEntries(t *testing.T) {
	r := NewReconciler()
	r.CompleteTurn(registry.RoleCounterpart, "c1", "Hold on a second.")

	r.ApplySnapshot([]registry.TranscriptEntry{
		{Role: registry.RoleAgent, Text: "Of course, take your time."},
	})

	got := r.Entries()
	if len(got) != 2 {
		t.Fatalf("entries = %v", entryTexts(got))
	}
	if got[0].Text != "Hold on a second." {
		t.Fatalf("locally finalized entry was dropped: %v", entryTexts(got))
	}
}

func TestCompleteTurn_AfterInterruptionIsDropped(t *testing.T) {
	r := NewReconciler()
	full := "I can seat you at seven thirty tomorrow evening if that works for you"
	r.AddDelta(registry.RoleAgent, "a1", full)
	r.InterruptAgentTurn(0.6)

	// A cancelled response still finalizes with its full generated text.
	r.CompleteTurn(registry.RoleAgent, "a1", full)

	got := r.Entries()
	if len(got) != 1 {
		t.Fatalf("entries = %v", entryTexts(got))
	}
	if got[0].Text == full {
		t.Fatal("late completion undid the truncation")
	}
}

func TestCompleteTurn_AfterZeroPlayedInterruptionStaysDropped(t *testing.T) {
	r := NewReconciler()
	r.AddDelta(registry.RoleAgent, "a1", "You never heard this.")
	r.InterruptAgentTurn(0)
	r.CompleteTurn(registry.RoleAgent, "a1", "You never heard this.")
	if got := r.Entries(); len(got) != 0 {
		t.Fatalf("entries = %v, want none", entryTexts(got))
	}
}

func TestApplySnapshot_EmptyIgnored(t *testing.T) {
	r := NewReconciler()
	r.CompleteTurn(registry.RoleAgent, "a1", "Keep me.")
	r.ApplySnapshot(nil)
	if got := r.Entries(); len(got) != 1 {
		t.Fatalf("entries = %v", entryTexts(got))
	}
}

func TestFlush_FinalizesOpenTurns(t *testing.T) {
	r := NewReconciler()
	r.AddDelta(registry.RoleCounterpart, "c1", "Wait, before you go")
	r.Flush()
	got := r.Entries()
	if len(got) != 1 || got[0].Text != "Wait, before you go" {
		t.Fatalf("entries = %v", entryTexts(got))
	}
}
