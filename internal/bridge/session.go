// Package bridge owns one streaming media session per call. It demultiplexes
// inbound transport events and outbound engine events across two concurrent
// loops, tracks playback position for interruption handling, and drives the
// call record to its terminal state.
package bridge

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"voice-concierge/internal/audio"
	"voice-concierge/internal/engine"
	"voice-concierge/internal/outcome"
	"voice-concierge/internal/registry"
	"voice-concierge/internal/transcript"
)

// Consecutive engine error events tolerated before the session gives up.
// A single malformed event is skipped; a broken engine is not.
const maxEngineErrors = 3

// Config carries the per-session knobs.
type Config struct {
	// HandshakeTimeout bounds the wait for the transport's start event.
	HandshakeTimeout time.Duration
	// AudioFormat is the engine-side format, "g711_ulaw" or "pcm16".
	// With g711_ulaw the codec path is passthrough.
	AudioFormat string
}

// Session bridges one media stream to one engine session for the duration
// of one call. Run is the session's entire lifecycle.
type Session struct {
	transport Transport
	dialer    engine.Dialer
	reg       *registry.Registry
	extractor *outcome.Extractor
	cfg       Config
	log       *slog.Logger

	transcode bool
}

func NewSession(t Transport, d engine.Dialer, reg *registry.Registry, ex *outcome.Extractor, cfg Config, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	return &Session{
		transport: t,
		dialer:    d,
		reg:       reg,
		extractor: ex,
		cfg:       cfg,
		log:       log,
		transcode: cfg.AudioFormat == "pcm16",
	}
}

// Run drives the session from AwaitingStart to Closed. It returns after the
// call record has reached a terminal state (or, when no record could be
// correlated, after logging why). Errors are informational; they are already
// reflected in the record by the time Run returns.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgs := make(chan mediaMessage)
	go func() {
		defer close(msgs)
		for {
			m, err := s.transport.Read()
			if err != nil {
				return
			}
			select {
			case msgs <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	start, err := s.awaitStart(ctx, msgs)
	if err != nil {
		s.failUncorrelated(err.Error())
		return err
	}

	callID, params, err := s.correlate(start)
	if err != nil {
		s.log.Error("media stream could not be correlated to a call", "error", err,
			"stream_sid", start.StreamSID)
		return err
	}
	log := s.log.With("call_id", callID, "stream_sid", start.StreamSID)

	if !s.reg.Bind(callID, start.StreamSID) {
		// Another stream already owns this record; abandon ours without
		// touching its state.
		return fmt.Errorf("call %s already bound to a stream", callID)
	}
	log.Info("media session streaming", "audio_format", s.cfg.AudioFormat)

	eng, err := s.dialer.Dial(ctx, params)
	if err != nil {
		s.reg.Transition(callID, registry.StatusFailed, nil, "engine connect: "+err.Error())
		return err
	}
	defer eng.Close()

	rec := transcript.NewReconciler()
	tracker := newPlaybackTracker()

	// The two forwarding loops run until either side ends the call; the
	// first to finish cancels the other.
	inboundRes := make(chan string, 1)
	go func() {
		inboundRes <- s.runInbound(ctx, msgs, eng, tracker)
	}()
	outboundRes := make(chan string, 1)
	go func() {
		outboundRes <- s.runOutbound(ctx, eng, callID, start.StreamSID, rec, tracker)
	}()

	var failure string
	select {
	case failure = <-inboundRes:
		cancel()
		if f := <-outboundRes; failure == "" {
			failure = f
		}
	case failure = <-outboundRes:
		cancel()
		if f := <-inboundRes; failure == "" {
			failure = f
		}
	}

	// Draining: no more transport writes. Closing the engine unblocks its
	// event channel; consume what is left so late-settling transcription
	// finals still make the transcript.
	_ = eng.Close()
	for ev := range eng.Events() {
		s.applyTranscriptEvent(rec, ev)
	}

	s.finalize(ctx, callID, params, rec, failure)
	log.Info("media session closed", "failed", failure != "")
	return nil
}

// awaitStart consumes transport frames until the start event arrives.
func (s *Session) awaitStart(ctx context.Context, msgs <-chan mediaMessage) (*startPayload, error) {
	timer := time.NewTimer(s.cfg.HandshakeTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, errors.New("handshake timeout")
		case m, ok := <-msgs:
			if !ok {
				return nil, errors.New("transport closed before start event")
			}
			switch m.Event {
			case eventConnected:
				// Handshake only; keep waiting.
			case eventStart:
				if m.Start == nil {
					return nil, errors.New("start event without payload")
				}
				return m.Start, nil
			case eventStop:
				return nil, errors.New("stream stopped before start event")
			}
		}
	}
}

// correlate resolves which call record this stream belongs to. The start
// event's custom parameters are the primary path; the registry's
// most-recent-pending record is the fallback for transports that dropped
// them.
func (s *Session) correlate(start *startPayload) (string, registry.RequestParameters, error) {
	if callID := start.CustomParameters["call_id"]; callID != "" {
		if c, ok := s.reg.Get(callID); ok {
			return callID, c.Params, nil
		}
		// Record already evicted; the stream still carries everything
		// needed to run the call.
		if params, ok := registry.ParamsFromCustomParameters(start.CustomParameters); ok {
			return s.reg.Create(params), params, nil
		}
		return "", registry.RequestParameters{}, fmt.Errorf("unknown call_id %q with no usable parameters", callID)
	}

	if c, ok := s.reg.MostRecentPendingOrActive(); ok && c.Status == registry.StatusPending {
		return c.CallID, c.Params, nil
	}
	if params, ok := registry.ParamsFromCustomParameters(start.CustomParameters); ok {
		return s.reg.Create(params), params, nil
	}
	return "", registry.RequestParameters{}, errors.New("no call_id, no parameters, no pending call")
}

// runInbound forwards caller audio to the engine and applies playback
// acknowledgments until the stream stops. Returns a failure description, or
// "" for a clean stop.
func (s *Session) runInbound(ctx context.Context, msgs <-chan mediaMessage, eng engine.Session, tracker *playbackTracker) string {
	for {
		select {
		case <-ctx.Done():
			return ""
		case m, ok := <-msgs:
			if !ok {
				return "call disconnected"
			}
			switch m.Event {
			case eventMedia:
				if m.Media == nil {
					continue
				}
				raw, err := base64.StdEncoding.DecodeString(m.Media.Payload)
				if err != nil {
					s.log.Warn("undecodable media payload", "error", err)
					continue
				}
				if s.transcode {
					raw = audio.DecodeInbound(raw, audio.EngineRate)
				}
				if err := eng.SendAudio(ctx, raw); err != nil {
					return "engine write: " + err.Error()
				}
			case eventMark:
				if m.Mark != nil {
					tracker.Ack(m.Mark.Name)
				}
			case eventStop:
				return ""
			}
		}
	}
}

// runOutbound consumes engine events until the engine or transport ends.
// Returns a failure description, or "" for a clean end.
func (s *Session) runOutbound(ctx context.Context, eng engine.Session, callID, streamSID string, rec *transcript.Reconciler, tracker *playbackTracker) string {
	markSeq := 0
	engineErrors := 0

	for {
		select {
		case <-ctx.Done():
			return ""
		case ev, ok := <-eng.Events():
			if !ok {
				return ""
			}
			if ev.Type != engine.EventError {
				engineErrors = 0
			}

			switch ev.Type {
			case engine.EventAudio:
				out := ev.Audio
				if s.transcode {
					out = audio.EncodeOutbound(ev.Audio, audio.EngineRate)
				}
				if len(out) == 0 {
					continue
				}
				payload := base64.StdEncoding.EncodeToString(out)
				if err := s.transport.Send(mediaMessage{
					Event:     eventMedia,
					StreamSID: streamSID,
					Media:     &mediaPayload{Payload: payload},
				}); err != nil {
					return "call disconnected"
				}
				// The mark follows its chunk immediately so playback
				// acknowledgments map one to one onto byte counts.
				markSeq++
				name := strconv.Itoa(markSeq)
				if err := s.transport.Send(mediaMessage{
					Event:     eventMark,
					StreamSID: streamSID,
					Mark:      &markPayload{Name: name},
				}); err != nil {
					return "call disconnected"
				}
				tracker.TrackSent(name, ev.ItemID, len(out))

			case engine.EventTranscript:
				rec.AddDelta(ev.Role, ev.ItemID, ev.Text)

			case engine.EventTurnComplete:
				// Live view for anyone polling mid-call; the reconciled
				// transcript replaces it wholesale at finalization. Skipped
				// when the reconciler drops the completion (cancelled
				// response of an interrupted turn).
				if rec.CompleteTurn(ev.Role, ev.ItemID, ev.Text) && ev.Text != "" {
					s.reg.AppendTranscript(callID, registry.TranscriptEntry{
						Role: ev.Role,
						Text: ev.Text,
					})
				}

			case engine.EventHistorySnapshot:
				rec.ApplySnapshot(ev.Entries)

			case engine.EventInterrupted:
				// Only what the caller actually heard counts as said, on
				// both sides: truncate our transcript and the engine's own
				// conversation history.
				rec.InterruptAgentTurn(tracker.PlayedRatio())
				if item := tracker.CurrentItem(); item != "" {
					if err := eng.Truncate(ctx, item, tracker.PlayedMillis()); err != nil {
						s.log.Warn("engine truncate failed", "error", err, "item_id", item)
					}
				}
				if err := s.transport.Send(mediaMessage{
					Event:     eventClear,
					StreamSID: streamSID,
				}); err != nil {
					return "call disconnected"
				}
				tracker.Reset()

			case engine.EventError:
				engineErrors++
				s.log.Warn("engine error event", "error", ev.Err, "consecutive", engineErrors)
				if engineErrors >= maxEngineErrors {
					return "engine failed: " + ev.Err.Error()
				}

			case engine.EventStreamEnded:
				return ""
			}
		}
	}
}

// applyTranscriptEvent feeds transcript-bearing events into the reconciler
// during the drain phase, when transport writes are no longer possible.
func (s *Session) applyTranscriptEvent(rec *transcript.Reconciler, ev engine.Event) {
	switch ev.Type {
	case engine.EventTranscript:
		rec.AddDelta(ev.Role, ev.ItemID, ev.Text)
	case engine.EventTurnComplete:
		rec.CompleteTurn(ev.Role, ev.ItemID, ev.Text)
	case engine.EventHistorySnapshot:
		rec.ApplySnapshot(ev.Entries)
	}
}

// finalize installs the reconciled transcript, derives the outcome, and
// performs the terminal transition. The transition is the last mutation:
// a poller observing a terminal status always sees the full result.
func (s *Session) finalize(ctx context.Context, callID string, params registry.RequestParameters, rec *transcript.Reconciler, failure string) {
	rec.Flush()
	entries := rec.Entries()
	s.reg.ReplaceTranscript(callID, entries)

	if failure != "" {
		s.reg.Transition(callID, registry.StatusFailed, nil, failure)
		return
	}
	// The session context is already cancelled at this point; extraction
	// gets its own bounded window.
	exCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	res := s.extractor.Extract(exCtx, entries, params)
	s.reg.Transition(callID, registry.StatusCompleted, &res, "")
}

// failUncorrelated marks the newest pending call failed when the stream died
// before it could identify itself. Without a start event there is nothing
// better to attribute the failure to.
func (s *Session) failUncorrelated(reason string) {
	if c, ok := s.reg.MostRecentPendingOrActive(); ok && c.Status == registry.StatusPending {
		s.reg.Transition(c.CallID, registry.StatusFailed, nil, reason)
	}
}
