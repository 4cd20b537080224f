// Package registry tracks the lifecycle and results of outbound calls.
// Records live in process memory; the registry is the single source of truth
// for call state while a call is in flight.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TerminalHook is invoked with a snapshot of a record right after it reaches
// a terminal state. Used to archive finished calls.
type TerminalHook func(CallRecord)

// Registry is a concurrency-safe in-memory store of call records.
type Registry struct {
	mu    sync.Mutex
	calls map[string]*CallRecord

	now        func() time.Time
	log        *slog.Logger
	onTerminal TerminalHook
}

// New returns an empty registry.
func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		calls: make(map[string]*CallRecord),
		now:   time.Now,
		log:   log,
	}
}

// SetTerminalHook registers a hook fired on every terminal transition.
// Must be called before the registry is shared across goroutines.
func (r *Registry) SetTerminalHook(h TerminalHook) {
	r.onTerminal = h
}

// Create registers a new pending call and returns its identifier.
func (r *Registry) Create(params RequestParameters) string {
	id := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[id] = &CallRecord{
		CallID:    id,
		Status:    StatusPending,
		Params:    params,
		CreatedAt: r.now(),
	}
	r.log.Info("call created",
		"call_id", id,
		"call_type", params.CallType,
		"restaurant", params.RestaurantName)
	return id
}

// Get returns a snapshot of the record. Mutating the returned value does not
// affect registry state.
func (r *Registry) Get(id string) (CallRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return CallRecord{}, false
	}
	return c.clone(), true
}

// MostRecentPendingOrActive returns the newest record that has not reached a
// terminal state. It is the fallback correlation path for media streams that
// arrive without identifying parameters.
func (r *Registry) MostRecentPendingOrActive() (CallRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *CallRecord
	for _, c := range r.calls {
		if c.Status.Terminal() {
			continue
		}
		if best == nil || c.CreatedAt.After(best.CreatedAt) {
			best = c
		}
	}
	if best == nil {
		return CallRecord{}, false
	}
	return best.clone(), true
}

// SetProviderSID attaches the telephony provider's call identifier.
func (r *Registry) SetProviderSID(id, sid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.calls[id]; ok && !c.Status.Terminal() {
		c.ProviderSID = sid
	}
}

// Bind claims the record for a media stream and moves it to in_progress.
// Exactly one stream can win the claim; any later Bind on the same record
// returns false and the caller must abandon the stream.
func (r *Registry) Bind(id, streamSID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.calls[id]
	if !ok {
		return false
	}
	if c.Status != StatusPending {
		r.log.Warn("rejected duplicate stream bind",
			"call_id", id,
			"status", c.Status,
			"bound_stream", c.StreamSID,
			"rejected_stream", streamSID)
		return false
	}
	c.StreamSID = streamSID
	c.Status = StatusInProgress
	r.log.Info("call bound to stream", "call_id", id, "stream_sid", streamSID)
	return true
}

// Transition moves the record to a new status. Transitions only run forward;
// requests that would move backwards, repeat the current state, or leave a
// terminal state are logged and dropped. When the target is terminal, result
// and errMsg are written under the same lock so a reader that observes the
// terminal status also observes the outcome.
func (r *Registry) Transition(id string, status CallStatus, result *Result, errMsg string) bool {
	var snapshot CallRecord
	fired := false

	r.mu.Lock()
	c, ok := r.calls[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	from, to := statusRank(c.Status), statusRank(status)
	if to <= from || to < 0 {
		r.log.Warn("ignored invalid status transition",
			"call_id", id, "from", c.Status, "to", status)
		r.mu.Unlock()
		return false
	}
	c.Status = status
	if status.Terminal() {
		c.CompletedAt = r.now()
		c.Result = result
		c.Error = errMsg
		if r.onTerminal != nil {
			snapshot = c.clone()
			fired = true
		}
	}
	r.mu.Unlock()

	r.log.Info("call status changed", "call_id", id, "status", status)
	if fired {
		r.onTerminal(snapshot)
	}
	return true
}

// AppendTranscript adds a finalized utterance. Entries are only accepted
// while the call is in_progress; anything arriving after the terminal
// transition is dropped so the stored transcript is immutable once final.
func (r *Registry) AppendTranscript(id string, e TranscriptEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.calls[id]
	if !ok || c.Status != StatusInProgress {
		return false
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now()
	}
	c.Transcript = append(c.Transcript, e)
	return true
}

// ReplaceTranscript swaps the stored transcript wholesale. The bridge uses it
// to install the reconciled transcript before the terminal transition.
func (r *Registry) ReplaceTranscript(id string, entries []TranscriptEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.calls[id]
	if !ok || c.Status.Terminal() {
		return false
	}
	c.Transcript = make([]TranscriptEntry, len(entries))
	copy(c.Transcript, entries)
	return true
}

// Sweep evicts terminal records older than maxAge and returns the count.
// Non-terminal records are never evicted.
func (r *Registry) Sweep(maxAge time.Duration) int {
	cutoff := r.now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, c := range r.calls {
		if c.Status.Terminal() && c.CompletedAt.Before(cutoff) {
			delete(r.calls, id)
			evicted++
		}
	}
	if evicted > 0 {
		r.log.Info("swept expired call records", "evicted", evicted)
	}
	return evicted
}

// StartSweeper runs Sweep on a ticker until ctx is done.
func (r *Registry) StartSweeper(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				r.Sweep(maxAge)
			}
		}
	}()
}
