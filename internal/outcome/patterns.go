package outcome

import (
	"regexp"
	"strings"
)

// Confirmation-phrase templates. English and German are both applied to every
// utterance; restaurants on either side of the language line answer the same
// phone number pool, so the union is cheaper and safer than detecting the
// language first.
var codePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)confirmation\s+(?:number|code|#)?\s*(?:is|:)?\s*([A-Za-z0-9]{4,})`),
	regexp.MustCompile(`(?i)reservation\s+(?:number|code|#)?\s*(?:is|:)?\s*([A-Za-z0-9]{4,})`),
	regexp.MustCompile(`(?i)reference\s+(?:number|code|#)?\s*(?:is|:)?\s*([A-Za-z0-9]{4,})`),
	regexp.MustCompile(`(?i)best[äa]tigungsnummer\s*(?:ist|lautet|:)?\s*([A-Za-z0-9]{4,})`),
	regexp.MustCompile(`(?i)reservierungsnummer\s*(?:ist|lautet|:)?\s*([A-Za-z0-9]{4,})`),
	regexp.MustCompile(`(?i)referenznummer\s*(?:ist|lautet|:)?\s*([A-Za-z0-9]{4,})`),
}

// Standalone alphanumeric code, used as a last resort when no phrase matched.
var bareCodePattern = regexp.MustCompile(`\b([A-Za-z]{2,}[0-9]{4,}|[0-9]{4,}[A-Za-z]{2,})\b`)

// findCodes returns every code token the phrase templates match in text.
// Ordinary words can slip through the capture group ("the reservation under
// Smith"), so a candidate must contain at least one digit.
func findCodes(text string) []string {
	var out []string
	for _, p := range codePatterns {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			code := strings.ToUpper(strings.TrimSpace(m[1]))
			if !strings.ContainsAny(code, "0123456789") {
				continue
			}
			out = append(out, code)
		}
	}
	return out
}

// findBareCode matches a standalone mixed alphanumeric token.
func findBareCode(text string) string {
	if m := bareCodePattern.FindStringSubmatch(text); m != nil {
		return strings.ToUpper(m[1])
	}
	return ""
}
