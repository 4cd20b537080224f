// Package transcript assembles the engine's out-of-order transcription
// events into a clean conversational transcript.
//
// The engine finalizes agent speech as it is synthesized and counterpart
// speech only after its recognizer settles, so raw event arrival order does
// not match conversational order. The reconciler buffers partial text per
// turn and emits entries in the order turns finalize.
package transcript

import (
	"strings"
	"sync"
	"time"

	"voice-concierge/internal/registry"
)

type turnBuffer struct {
	itemID  string
	role    registry.Role
	parts   []string
	started time.Time
}

func (b *turnBuffer) text() string {
	return strings.TrimSpace(strings.Join(b.parts, ""))
}

// Reconciler is safe for concurrent use by the bridge's event loops.
type Reconciler struct {
	mu    sync.Mutex
	final []registry.TranscriptEntry
	open  map[registry.Role]*turnBuffer
	// Item IDs of turns cut short by an interruption. The engine still
	// finalizes a cancelled response with its full generated text; those
	// completions must not undo the truncation.
	cut map[string]bool
	now func() time.Time
}

func NewReconciler() *Reconciler {
	return &Reconciler{
		open: make(map[registry.Role]*turnBuffer),
		cut:  make(map[string]bool),
		now:  time.Now,
	}
}

// AddDelta appends partial text to the open turn for role. A delta carrying a
// new itemID implicitly finalizes the previous turn for that role; the engine
// never interleaves deltas of two turns of the same speaker.
func (r *Reconciler) AddDelta(role registry.Role, itemID, text string) {
	if text == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if itemID != "" && r.cut[itemID] {
		return
	}
	b := r.open[role]
	if b != nil && itemID != "" && b.itemID != "" && b.itemID != itemID {
		r.finalizeLocked(b)
		b = nil
	}
	if b == nil {
		b = &turnBuffer{itemID: itemID, role: role, started: r.now()}
		r.open[role] = b
	}
	b.parts = append(b.parts, text)
}

// CompleteTurn finalizes the open turn for role and reports whether an entry
// was added. When the engine supplies a full final text it replaces whatever
// deltas were buffered; an empty finalText keeps the buffered text. A
// completion with no buffered turn and no text is a no-op, as is a
// completion for an interrupted turn (its played portion is already
// finalized).
func (r *Reconciler) CompleteTurn(role registry.Role, itemID, finalText string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if itemID != "" && r.cut[itemID] {
		return false
	}
	b := r.open[role]
	if b == nil {
		if strings.TrimSpace(finalText) == "" {
			return false
		}
		b = &turnBuffer{itemID: itemID, role: role, started: r.now()}
	}
	if strings.TrimSpace(finalText) != "" {
		b.parts = []string{finalText}
	}
	delete(r.open, role)
	return r.finalizeLocked(b)
}

// InterruptAgentTurn finalizes the agent's open turn truncated to the played
// fraction of its text, on a word boundary. playedRatio outside (0,1) either
// drops the turn entirely (<=0) or keeps it whole (>=1). Used when the
// counterpart barges in: text the engine produced but the caller never heard
// must not appear in the transcript.
func (r *Reconciler) InterruptAgentTurn(playedRatio float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.open[registry.RoleAgent]
	if b == nil {
		return
	}
	delete(r.open, registry.RoleAgent)
	if b.itemID != "" {
		r.cut[b.itemID] = true
	}

	if playedRatio <= 0 {
		return
	}
	if playedRatio >= 1 {
		r.finalizeLocked(b)
		return
	}
	truncated := truncateWords(b.text(), playedRatio)
	if truncated == "" {
		return
	}
	b.parts = []string{truncated}
	r.finalizeLocked(b)
}

// ApplySnapshot reconciles the engine's cumulative history against the
// finalized transcript. It is a fallback path, strictly append-only: entries
// the snapshot carries that no finalized entry accounts for are appended;
// everything already finalized stays as is. In particular a snapshot never
// resurrects the unplayed tail of an interruption-truncated turn (the
// truncated entry is a leading portion of the snapshot's full text and
// therefore accounts for it), and never drops entries the snapshot missed.
func (r *Reconciler) ApplySnapshot(entries []registry.TranscriptEntry) {
	if len(entries) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	// Ordered matching against the entries finalized before this snapshot;
	// each may account for at most one snapshot entry.
	n := len(r.final)
	j := 0
	for _, e := range entries {
		text := strings.TrimSpace(e.Text)
		if text == "" {
			continue
		}
		if k := r.matchFinalLocked(j, n, e.Role, text); k >= 0 {
			j = k + 1
			continue
		}
		ts := e.Timestamp
		if ts.IsZero() {
			ts = r.now()
		}
		r.final = append(r.final, registry.TranscriptEntry{
			Role:      e.Role,
			Text:      text,
			Timestamp: ts,
		})
	}
}

// matchFinalLocked looks for a finalized entry in [from, limit) that accounts
// for a snapshot entry: same role, with the finalized text equal to the
// snapshot text or a truncated leading portion of it.
func (r *Reconciler) matchFinalLocked(from, limit int, role registry.Role, text string) int {
	for i := from; i < limit; i++ {
		f := r.final[i]
		if f.Role != role {
			continue
		}
		if f.Text == text || strings.HasPrefix(text, f.Text) {
			return i
		}
	}
	return -1
}

// Flush finalizes any still-open turns. Called once when the stream ends so
// counterpart speech cut off mid-recognition is not lost.
func (r *Reconciler) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for role, b := range r.open {
		r.finalizeLocked(b)
		delete(r.open, role)
	}
}

// Entries returns the finalized transcript in conversational order.
func (r *Reconciler) Entries() []registry.TranscriptEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]registry.TranscriptEntry, len(r.final))
	copy(out, r.final)
	return out
}

func (r *Reconciler) finalizeLocked(b *turnBuffer) bool {
	text := b.text()
	if text == "" {
		return false
	}
	r.final = append(r.final, registry.TranscriptEntry{
		Role:      b.role,
		Text:      text,
		Timestamp: r.now(),
	})
	return true
}

// truncateWords keeps the leading ratio of text measured in characters but
// never splits a word.
func truncateWords(text string, ratio float64) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	limit := int(float64(len(text)) * ratio)
	kept := make([]string, 0, len(words))
	n := 0
	for _, w := range words {
		next := n + len(w)
		if len(kept) > 0 {
			next++ // joining space
		}
		if next > limit && len(kept) > 0 {
			break
		}
		if next > limit && len(kept) == 0 {
			// Always keep at least one word once any audio played.
			kept = append(kept, w)
			break
		}
		kept = append(kept, w)
		n = next
	}
	return strings.Join(kept, " ")
}
