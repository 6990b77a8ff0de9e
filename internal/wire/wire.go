// Package wire defines the JSON envelopes exchanged with the carrier's
// media-stream socket. Inbound audio is 8kHz 8-bit μ-law, base64 in the
// media payload; outbound media/mark/clear frames carry the stream SID.
package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Ingress event names.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventMark      = "mark"
	EventDTMF      = "dtmf"
	EventStop      = "stop"
	EventClear     = "clear"
)

// Envelope is the top-level carrier message. Only the fields relevant to the
// tagged event are populated.
type Envelope struct {
	Event          string      `json:"event"`
	Protocol       string      `json:"protocol,omitempty"`
	Version        string      `json:"version,omitempty"`
	SequenceNumber string      `json:"sequenceNumber,omitempty"`
	StreamSid      string      `json:"streamSid,omitempty"`
	Start          *StartEvent `json:"start,omitempty"`
	Media          *MediaEvent `json:"media,omitempty"`
	Mark           *MarkEvent  `json:"mark,omitempty"`
	DTMF           *DTMFEvent  `json:"dtmf,omitempty"`
	Stop           *StopEvent  `json:"stop,omitempty"`
}

type StartEvent struct {
	StreamSid        string            `json:"streamSid"`
	AccountSid       string            `json:"accountSid,omitempty"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
	MediaFormat      *MediaFormat      `json:"mediaFormat,omitempty"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type MediaEvent struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"` // base64 μ-law
}

type MarkEvent struct {
	Name string `json:"name"`
}

type DTMFEvent struct {
	Track string `json:"track,omitempty"`
	Digit string `json:"digit"`
}

type StopEvent struct {
	AccountSid string `json:"accountSid,omitempty"`
	CallSid    string `json:"callSid,omitempty"`
}

// Decode parses a raw carrier frame. Unknown events still decode; callers
// switch on Event and drop what they do not recognize.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("wire: decode frame: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("wire: frame missing event tag")
	}
	return &env, nil
}

// Seq parses the envelope sequence number. The carrier sends it as a decimal
// string; media frames without one are malformed.
func (e *Envelope) Seq() (uint64, error) {
	if e.SequenceNumber == "" {
		return 0, fmt.Errorf("wire: media frame missing sequenceNumber")
	}
	n, err := strconv.ParseUint(e.SequenceNumber, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("wire: bad sequenceNumber %q: %w", e.SequenceNumber, err)
	}
	return n, nil
}

// OutboundMedia builds an egress media frame carrying base64 μ-law audio.
func OutboundMedia(streamSid, payloadB64 string) []byte {
	return mustMarshal(Envelope{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media:     &MediaEvent{Payload: payloadB64},
	})
}

// OutboundMark builds an egress mark frame.
func OutboundMark(streamSid, name string) []byte {
	return mustMarshal(Envelope{
		Event:     EventMark,
		StreamSid: streamSid,
		Mark:      &MarkEvent{Name: name},
	})
}

// OutboundClear builds the frame that purges the carrier's jitter buffer.
func OutboundClear(streamSid string) []byte {
	return mustMarshal(Envelope{Event: EventClear, StreamSid: streamSid})
}

func mustMarshal(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
