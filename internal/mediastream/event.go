// Package mediastream implements the telephony media-stream protocol: the
// JSON events exchanged over the bidirectional WebSocket that carries a call's
// audio, and the voice webhook document that tells the provider to open it.
package mediastream

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// EventType names a media-stream event.
type EventType string

const (
	EventConnected EventType = "connected"
	EventStart     EventType = "start"
	EventMedia     EventType = "media"
	EventMark      EventType = "mark"
	EventStop      EventType = "stop"
	EventDTMF      EventType = "dtmf"
	EventClear     EventType = "clear"
)

// MarkEndOfSpeech is the mark sent after the last fragment of an agent response.
const MarkEndOfSpeech = "end_of_ai_speech"

// Custom parameter keys carried in the start event.
const (
	ParamFrom        = "from"
	ParamTo          = "to"
	ParamAgentConfig = "agent_config"
	ParamOutbound    = "outbound"
)

// ErrProtocol is returned for events that cannot be decoded.
var ErrProtocol = errors.New("mediastream: protocol error")

// Event is one inbound message. Only the payload matching Type is set.
type Event struct {
	Type      EventType
	StreamSID string
	Start     *StartInfo
	Media     []byte // decoded μ-law payload
	Mark      string
	Digit     string
}

// MediaFormat describes the encoding of the inbound audio.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// StartInfo carries the identifiers and custom parameters of a stream.
type StartInfo struct {
	AccountSID       string            `json:"accountSid"`
	CallSID          string            `json:"callSid"`
	StreamSID        string            `json:"streamSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
}

// Param returns a custom parameter or "".
func (s *StartInfo) Param(key string) string {
	if s == nil {
		return ""
	}
	return s.CustomParameters[key]
}

// Outbound reports whether the call was placed by the agent.
func (s *StartInfo) Outbound() bool {
	switch s.Param(ParamOutbound) {
	case "true", "1", "yes":
		return true
	}
	return false
}

// wireEvent is the JSON envelope used in both directions.
type wireEvent struct {
	Event     EventType  `json:"event"`
	StreamSID string     `json:"streamSid,omitempty"`
	Start     *StartInfo `json:"start,omitempty"`
	Media     *wireMedia `json:"media,omitempty"`
	Mark      *wireMark  `json:"mark,omitempty"`
	DTMF      *wireDTMF  `json:"dtmf,omitempty"`
}

type wireMedia struct {
	Track   string `json:"track,omitempty"`
	Payload string `json:"payload"`
}

type wireMark struct {
	Name string `json:"name"`
}

type wireDTMF struct {
	Digit string `json:"digit"`
}

// Decode parses one inbound JSON message.
func Decode(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	ev := Event{Type: w.Event, StreamSID: w.StreamSID}
	switch w.Event {
	case EventStart:
		if w.Start == nil || w.Start.StreamSID == "" && w.StreamSID == "" {
			return Event{}, fmt.Errorf("%w: start without stream identifier", ErrProtocol)
		}
		if w.Start.StreamSID == "" {
			w.Start.StreamSID = w.StreamSID
		}
		ev.StreamSID = w.Start.StreamSID
		ev.Start = w.Start
	case EventMedia:
		if w.Media == nil {
			return Event{}, fmt.Errorf("%w: media without payload", ErrProtocol)
		}
		payload, err := base64.StdEncoding.DecodeString(w.Media.Payload)
		if err != nil {
			return Event{}, fmt.Errorf("%w: media payload: %v", ErrProtocol, err)
		}
		ev.Media = payload
	case EventMark:
		if w.Mark == nil {
			return Event{}, fmt.Errorf("%w: mark without name", ErrProtocol)
		}
		ev.Mark = w.Mark.Name
	case EventDTMF:
		if w.DTMF != nil {
			ev.Digit = w.DTMF.Digit
		}
	case EventConnected, EventStop:
	case "":
		return Event{}, fmt.Errorf("%w: missing event type", ErrProtocol)
	}
	return ev, nil
}

func encodeMedia(streamSID string, ulaw []byte) ([]byte, error) {
	return json.Marshal(wireEvent{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     &wireMedia{Payload: base64.StdEncoding.EncodeToString(ulaw)},
	})
}

func encodeMark(streamSID, name string) ([]byte, error) {
	return json.Marshal(wireEvent{Event: EventMark, StreamSID: streamSID, Mark: &wireMark{Name: name}})
}

func encodeClear(streamSID string) ([]byte, error) {
	return json.Marshal(wireEvent{Event: EventClear, StreamSID: streamSID})
}
