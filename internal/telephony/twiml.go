package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"sort"

	"voice-concierge/internal/registry"
)

// Minimal TwiML builder for the outbound call flow. It intentionally avoids
// any provider SDK dependency; the only document we ever serve connects the
// answered call to our media stream endpoint.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type twimlConnect struct {
	XMLName xml.Name     `xml:"Connect"`
	Stream  *twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// RenderStreamTwiML produces the document Twilio fetches when the callee
// answers. The full request travels inside the stream's custom parameters so
// the media session can run even if the registry record is gone by the time
// the stream connects.
func RenderStreamTwiML(streamURL, callID string, params registry.RequestParameters) (string, error) {
	if streamURL == "" {
		return "", errors.New("telephony: stream url required")
	}

	custom := params.CustomParameters(callID)
	names := make([]string, 0, len(custom))
	for name := range custom {
		names = append(names, name)
	}
	sort.Strings(names)

	stream := &twimlStream{URL: streamURL}
	for _, name := range names {
		stream.Parameters = append(stream.Parameters, twimlParameter{
			Name:  name,
			Value: custom[name],
		})
	}

	r := twimlResponse{Verbs: []any{
		twimlSay{Text: "Connecting you now."},
		twimlConnect{Stream: stream},
	}}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
