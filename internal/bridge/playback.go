package bridge

import "sync"

// Mulaw telephony audio is one byte per sample at 8kHz.
const bytesPerMilli = 8

// playbackTracker counts outbound audio bytes sent versus bytes the
// transport acknowledged as played, scoped to one agent turn at a time.
// Every outbound audio chunk is followed by a named mark; the mark's
// acknowledgment means the chunk finished playing on the caller's phone.
// Counters roll over when a chunk for a new item arrives, so a fully played
// earlier turn never inflates the interrupted turn's ratio.
type playbackTracker struct {
	mu      sync.Mutex
	itemID  string
	sent    int64
	played  int64
	pending map[string]pendingChunk
}

type pendingChunk struct {
	itemID string
	bytes  int64
}

func newPlaybackTracker() *playbackTracker {
	return &playbackTracker{pending: make(map[string]pendingChunk)}
}

// TrackSent records a chunk of n bytes for itemID tagged with the given mark
// name. A new itemID starts a new turn and zeroes the counters.
func (t *playbackTracker) TrackSent(mark, itemID string, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if itemID != t.itemID {
		t.itemID = itemID
		t.sent = 0
		t.played = 0
	}
	t.sent += int64(n)
	t.pending[mark] = pendingChunk{itemID: itemID, bytes: int64(n)}
}

// Ack marks the named chunk as fully played. Unknown names are ignored (the
// transport may replay marks after a clear), as are acks for chunks of an
// already superseded turn.
func (t *playbackTracker) Ack(mark string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.pending[mark]
	if !ok {
		return
	}
	delete(t.pending, mark)
	if c.itemID == t.itemID {
		t.played += c.bytes
	}
}

// PlayedRatio reports played/sent for the current turn, in [0,1].
func (t *playbackTracker) PlayedRatio() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sent == 0 {
		return 0
	}
	return float64(t.played) / float64(t.sent)
}

// PlayedMillis reports how much of the current turn's audio was confirmed
// played, in milliseconds of telephony audio.
func (t *playbackTracker) PlayedMillis() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int(t.played / bytesPerMilli)
}

// CurrentItem returns the item whose audio is being tracked, "" before any
// audio was sent.
func (t *playbackTracker) CurrentItem() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.itemID
}

// Reset clears all counters. Called after an interruption once the unplayed
// tail has been discarded.
func (t *playbackTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.itemID = ""
	t.sent = 0
	t.played = 0
	t.pending = make(map[string]pendingChunk)
}
