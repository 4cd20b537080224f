package outcome

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"voice-concierge/internal/registry"
)

const analysisSystemPrompt = `You analyze transcripts of phone calls made to restaurants to book or cancel reservations.
Report what was ACTUALLY AGREED by the end of the call, not what was initially requested.
Later statements supersede earlier ones: if the parties negotiate a different time or date, report the final agreement.
Respond with a JSON object with exactly these fields:
- "confirmation_number": the booking reference the restaurant gave, or "" if none was given
- "agreed_date": the final agreed date, or "" if unchanged from the request
- "agreed_time": the final agreed time, or "" if unchanged from the request
- "modified": true if the agreed date or time differs from the request
- "notes": one short sentence of anything else notable, or ""`

// OpenAIAnalyzer implements the semantic pass with a chat completion.
type OpenAIAnalyzer struct {
	client *openai.Client
	model  string
	log    *slog.Logger
}

func NewOpenAIAnalyzer(apiKey, model string, log *slog.Logger) *OpenAIAnalyzer {
	if log == nil {
		log = slog.Default()
	}
	return &OpenAIAnalyzer{
		client: openai.NewClient(apiKey),
		model:  model,
		log:    log,
	}
}

func (a *OpenAIAnalyzer) Analyze(ctx context.Context, entries []registry.TranscriptEntry, params registry.RequestParameters) (SemanticResult, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.model,
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: analysisSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildAnalysisInput(entries, params)},
		},
	})
	if err != nil {
		return SemanticResult{}, fmt.Errorf("transcript analysis request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return SemanticResult{}, fmt.Errorf("transcript analysis returned no choices")
	}

	var out SemanticResult
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		return SemanticResult{}, fmt.Errorf("parse analysis response: %w", err)
	}
	a.log.Debug("semantic analysis complete",
		"has_code", out.ConfirmationCode != "",
		"modified", out.Modified)
	return out, nil
}

func buildAnalysisInput(entries []registry.TranscriptEntry, params registry.RequestParameters) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Call type: %s\n", params.CallType)
	fmt.Fprintf(&b, "Requested: restaurant=%q date=%q time=%q party_size=%d\n",
		params.RestaurantName, params.Date, params.Time, params.PartySize)
	if params.ConfirmationNumber != "" {
		fmt.Fprintf(&b, "Existing confirmation number: %s\n", params.ConfirmationNumber)
	}
	b.WriteString("\nTranscript:\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%s: %s\n", e.Role, e.Text)
	}
	return b.String()
}
