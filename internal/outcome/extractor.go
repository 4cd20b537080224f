// Package outcome derives a structured call result from a finished
// transcript. Extraction runs in two passes: a deterministic pattern pass
// over the transcript text, then an optional model-assisted semantic pass.
// Pattern hits always beat semantic guesses; within one pass the latest
// statement wins.
package outcome

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"

	"voice-concierge/internal/registry"
)

// SemanticResult is what the model-assisted pass reports.
type SemanticResult struct {
	ConfirmationCode string `json:"confirmation_number"`
	AgreedDate       string `json:"agreed_date"`
	AgreedTime       string `json:"agreed_time"`
	Modified         bool   `json:"modified"`
	Notes            string `json:"notes"`
}

// SemanticAnalyzer reads the full transcript and reports what was actually
// agreed, as opposed to what was initially requested.
type SemanticAnalyzer interface {
	Analyze(ctx context.Context, entries []registry.TranscriptEntry, params registry.RequestParameters) (SemanticResult, error)
}

// Extractor combines the pattern and semantic passes. A nil analyzer
// disables the semantic pass; the pattern pass alone still yields a valid
// outcome.
type Extractor struct {
	semantic SemanticAnalyzer
	log      *slog.Logger
}

func NewExtractor(semantic SemanticAnalyzer, log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{semantic: semantic, log: log}
}

// Extract never fails: a transcript with no confirmation signal produces a
// result with a nil code, not an error.
func (e *Extractor) Extract(ctx context.Context, entries []registry.TranscriptEntry, params registry.RequestParameters) registry.Result {
	var res registry.Result

	code := extractCode(entries)

	var sem SemanticResult
	haveSem := false
	if e.semantic != nil && len(entries) > 0 {
		var err error
		sem, err = e.semantic.Analyze(ctx, entries, params)
		if err != nil {
			e.log.Warn("semantic transcript analysis failed", "error", err)
		} else {
			haveSem = true
		}
	}

	if code == "" && haveSem && looksLikeCode(sem.ConfirmationCode) {
		code = strings.ToUpper(strings.TrimSpace(sem.ConfirmationCode))
	}
	if code != "" {
		res.ConfirmationCode = &code
	}

	if haveSem {
		if d := strings.TrimSpace(sem.AgreedDate); d != "" && d != params.Date {
			res.ResolvedDate = &d
		}
		if tm := normalizeTime(sem.AgreedTime, params.Time); tm != "" && tm != params.Time {
			res.ResolvedTime = &tm
		}
		res.Notes = strings.TrimSpace(sem.Notes)
	}
	res.Modified = res.ResolvedDate != nil || res.ResolvedTime != nil

	e.log.Info("outcome extracted",
		"call_type", params.CallType,
		"has_code", res.ConfirmationCode != nil,
		"modified", res.Modified)
	return res
}

// extractCode is the pattern pass. It scans counterpart utterances for
// confirmation phrases, keeps the most recent hit, then fuzzy-corrects it
// against codes the agent echoed back. The agent's echo was presumably read
// back and clarified, so when the two are close the echo wins outright.
func extractCode(entries []registry.TranscriptEntry) string {
	var counterpartCode, agentEcho string
	for _, e := range entries {
		codes := findCodes(e.Text)
		if len(codes) == 0 {
			continue
		}
		latest := codes[len(codes)-1]
		switch e.Role {
		case registry.RoleCounterpart:
			counterpartCode = latest
		case registry.RoleAgent:
			agentEcho = latest
		}
	}

	if counterpartCode == "" && agentEcho == "" {
		// Last resort: a standalone alphanumeric token anywhere in
		// counterpart speech.
		for i := len(entries) - 1; i >= 0; i-- {
			if entries[i].Role != registry.RoleCounterpart {
				continue
			}
			if code := findBareCode(entries[i].Text); code != "" {
				return code
			}
		}
		return ""
	}
	if counterpartCode == "" {
		return agentEcho
	}
	if agentEcho == "" {
		return counterpartCode
	}
	if counterpartCode == agentEcho {
		return counterpartCode
	}
	// Spoken alphanumerics transcribe unreliably ("B" vs "P", "0" vs "O").
	// A small edit distance means both sides said the same code and one
	// transcription drifted.
	if levenshtein.ComputeDistance(counterpartCode, agentEcho) <= 2 {
		return agentEcho
	}
	// Genuinely different tokens: trust the counterpart, they own the code.
	return counterpartCode
}

func looksLikeCode(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < 3 || len(s) > 20 {
		return false
	}
	for _, r := range s {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '-') {
			return false
		}
	}
	return true
}

// normalizeTime canonicalizes a spoken time to HH:MM. Bare hours with no
// am/pm marker inherit the requested time's half of the day, so "8:30
// instead of 7" against a 19:00 request resolves to 20:30.
func normalizeTime(raw, requested string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return ""
	}

	pm := strings.Contains(raw, "pm") || strings.Contains(raw, "p.m")
	am := strings.Contains(raw, "am") || strings.Contains(raw, "a.m")
	for _, marker := range []string{"p.m.", "a.m.", "pm", "am", "uhr", "o'clock"} {
		raw = strings.ReplaceAll(raw, marker, "")
	}
	raw = strings.TrimSpace(raw)

	hour, minute := -1, 0
	if h, m, ok := splitClock(raw); ok {
		hour, minute = h, m
	} else if h, err := strconv.Atoi(raw); err == nil {
		hour = h
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return ""
	}

	switch {
	case pm && hour < 12:
		hour += 12
	case am && hour == 12:
		hour = 0
	case !pm && !am && hour < 12:
		if reqH, _, ok := splitClock(requested); ok && reqH >= 12 {
			hour += 12
		}
	}
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

func splitClock(s string) (hour, minute int, ok bool) {
	h, m, found := strings.Cut(s, ":")
	if !found {
		return 0, 0, false
	}
	hour, err1 := strconv.Atoi(strings.TrimSpace(h))
	minute, err2 := strconv.Atoi(strings.TrimSpace(m))
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return hour, minute, true
}
