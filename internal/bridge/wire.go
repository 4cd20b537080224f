package bridge

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Media Streams event names, both directions.
const (
	eventConnected = "connected"
	eventStart     = "start"
	eventMedia     = "media"
	eventMark      = "mark"
	eventStop      = "stop"
	eventClear     = "clear"
)

// mediaMessage is the envelope for every frame on a Media Streams socket.
// Only the field matching Event is set.
type mediaMessage struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *startPayload `json:"start,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
	Mark      *markPayload  `json:"mark,omitempty"`
}

type startPayload struct {
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	AccountSID       string            `json:"accountSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters"`
	MediaFormat      mediaFormat       `json:"mediaFormat"`
}

type mediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type mediaPayload struct {
	// Payload is base64 mulaw audio.
	Payload string `json:"payload"`
}

type markPayload struct {
	Name string `json:"name"`
}

// Transport abstracts the media stream socket so session logic is testable
// without a live websocket.
type Transport interface {
	// Read blocks for the next frame; returns an error when the peer
	// disconnects.
	Read() (mediaMessage, error)
	Send(msg mediaMessage) error
	Close() error
}

// wsTransport adapts a gorilla websocket connection. The websocket allows
// one concurrent writer, so sends serialize on a mutex.
type wsTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) Read() (mediaMessage, error) {
	var msg mediaMessage
	if err := t.conn.ReadJSON(&msg); err != nil {
		return mediaMessage{}, err
	}
	return msg, nil
}

func (t *wsTransport) Send(msg mediaMessage) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteJSON(msg)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
