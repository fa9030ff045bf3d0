package copilot

import (
	"encoding/json"
	"errors"
)

// Event is one decoded backend frame. The set of implementations is closed.
type Event interface {
	Kind() string
	isEvent()
}

const (
	eventAppendText = "appendText"
	eventCitation   = "citation"
	eventDone       = "done"
	eventError      = "error"
	eventUnknown    = "unknown"
)

type AppendTextEvent struct {
	Text string
}

type CitationEvent struct {
	Citation Citation
}

type DoneEvent struct{}

type ErrorEvent struct {
	Message string
}

// UnknownEvent is any tag this proxy does not act on; Name keeps the raw tag.
type UnknownEvent struct {
	Name string
}

func (AppendTextEvent) Kind() string { return eventAppendText }
func (CitationEvent) Kind() string   { return eventCitation }
func (DoneEvent) Kind() string       { return eventDone }
func (ErrorEvent) Kind() string      { return eventError }
func (UnknownEvent) Kind() string    { return eventUnknown }

func (AppendTextEvent) isEvent() {}
func (CitationEvent) isEvent()   {}
func (DoneEvent) isEvent()       {}
func (ErrorEvent) isEvent()      {}
func (UnknownEvent) isEvent()    {}

// IsTerminal reports whether no further frames follow ev.
func IsTerminal(ev Event) bool {
	switch ev.(type) {
	case DoneEvent, ErrorEvent:
		return true
	default:
		return false
	}
}

// DecodeEvent parses one frame. Only a frame that is not a JSON object is an error:
// unknown tags are kept as UnknownEvent and fields of an unexpected type read as empty.
func DecodeEvent(data []byte) (Event, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errors.New("frame is null")
	}

	tag := stringField(fields, "event")
	switch tag {
	case eventAppendText:
		return AppendTextEvent{Text: stringField(fields, "text")}, nil
	case eventCitation:
		return CitationEvent{Citation: Citation{
			Title: stringField(fields, "title"),
			Icon:  stringField(fields, "icon"),
			URL:   stringField(fields, "url"),
		}}, nil
	case eventDone:
		return DoneEvent{}, nil
	case eventError:
		return ErrorEvent{Message: stringField(fields, "message")}, nil
	default:
		return UnknownEvent{Name: tag}, nil
	}
}

// stringField returns fields[key] when it holds a JSON string, "" otherwise.
func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v
}

// --- Outbound frames ---

// supportedCards is the UI feature list announced before any message; the backend
// rejects later frames without it.
var supportedCards = []string{
	"weather",
	"local",
	"image",
	"sports",
	"video",
	"ads",
	"safetyHelpline",
	"quiz",
	"finance",
	"recipe",
}

var supportedAdTypes = []string{
	"text",
	"product",
	"multimedia",
	"tourActivity",
	"propertyPromotion",
}

type setOptionsFrame struct {
	Event          string     `json:"event"`
	SupportedCards []string   `json:"supportedCards"`
	Ads            adsOptions `json:"ads"`
}

type adsOptions struct {
	SupportedTypes []string `json:"supportedTypes"`
}

type sendFrame struct {
	Event          string        `json:"event"`
	ConversationID string        `json:"conversationId"`
	Content        []contentPart `json:"content"`
	Mode           string        `json:"mode"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func newSetOptionsFrame() setOptionsFrame {
	return setOptionsFrame{
		Event:          "setOptions",
		SupportedCards: supportedCards,
		Ads:            adsOptions{SupportedTypes: supportedAdTypes},
	}
}

func newSendFrame(conversationID, mode, message string) sendFrame {
	return sendFrame{
		Event:          "send",
		ConversationID: conversationID,
		Content:        []contentPart{{Type: "text", Text: message}},
		Mode:           mode,
	}
}
