package livestream

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Outbound event names.
const (
	EventSubtitle = "subtitle"
	EventAudio    = "audio"
	EventError    = "error"
	EventStop     = "stop"
)

// Client facing error texts.
const (
	MsgMissingStart      = "Missing url or language"
	MsgMalformedStart    = "Start message must be a JSON object"
	MsgInvalidLanguage   = "Unsupported target language"
	MsgStartTimeout      = "No start message received"
	MsgSourceUnavailable = "Could not open the stream"
	MsgStreamFailed      = "The stream stopped unexpectedly"
	MsgRecognitionFailed = "Speech recognition failed for this segment"
	MsgTranslationFailed = "Translation failed for this segment"
	MsgSynthesisFailed   = "Speech synthesis failed for this segment"
)

// UnsupportedInputText names the allowed input languages, e.g.
// "Only English & Hindi input is supported".
func UnsupportedInputText(allowed []string) string {
	namer := display.English.Languages()
	names := make([]string, 0, len(allowed))
	for _, code := range allowed {
		name := code
		if tag, err := language.Parse(code); err == nil {
			if n := namer.Name(tag); n != "" {
				name = n
			}
		}
		names = append(names, name)
	}
	switch len(names) {
	case 0:
		return "Input language is not supported"
	case 1:
		return fmt.Sprintf("Only %s input is supported", names[0])
	default:
		return fmt.Sprintf("Only %s & %s input is supported", strings.Join(names[:len(names)-1], ", "), names[len(names)-1])
	}
}

// Message is one outbound live channel event.
type Message struct {
	Event string `json:"event"`
	Text  string `json:"text,omitempty"`
	Data  string `json:"data,omitempty"`
}

// SubtitleMessage carries translated text.
func SubtitleMessage(text string) Message {
	return Message{Event: EventSubtitle, Text: text}
}

// AudioMessage carries a base64 encoded clip.
func AudioMessage(clip []byte) Message {
	return Message{Event: EventAudio, Data: base64.StdEncoding.EncodeToString(clip)}
}

// ErrorMessage carries a human readable error or advisory.
func ErrorMessage(text string) Message {
	return Message{Event: EventError, Text: text}
}

// StartRequest is the first client message of a session.
type StartRequest struct {
	URL  string `json:"url"`
	Lang string `json:"lang"`
}

type inbound struct {
	Event string `json:"event"`
	URL   string `json:"url"`
	Lang  string `json:"lang"`
}

// ParseStart decodes and validates a start message. The returned error text
// is suitable for sending to the client.
func ParseStart(raw []byte) (StartRequest, error) {
	var msg inbound
	if err := sonic.Unmarshal(raw, &msg); err != nil {
		return StartRequest{}, errors.New(MsgMalformedStart)
	}
	req := StartRequest{URL: strings.TrimSpace(msg.URL), Lang: strings.TrimSpace(msg.Lang)}
	if req.URL == "" || req.Lang == "" {
		return StartRequest{}, errors.New(MsgMissingStart)
	}
	tag, err := language.Parse(req.Lang)
	if err != nil {
		return StartRequest{}, fmt.Errorf("%s: %s", MsgInvalidLanguage, req.Lang)
	}
	base, _ := tag.Base()
	req.Lang = base.String()
	return req, nil
}

// IsStop reports whether raw is a client stop message.
func IsStop(raw []byte) bool {
	var msg inbound
	if err := sonic.Unmarshal(raw, &msg); err != nil {
		return false
	}
	return msg.Event == EventStop
}
