package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// Minimal TwiML builder. Intentionally avoids any provider SDK dependency;
// only the verbs used at this adapter boundary are modeled.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlConnect struct {
	XMLName xml.Name     `xml:"Connect"`
	Stream  *twimlStream `xml:"Stream,omitempty"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlPlay struct {
	XMLName xml.Name `xml:"Play"`
	Digits  string   `xml:"digits,attr"`
}

// StreamDirective describes the bidirectional audio stream a connected call
// should open back to us.
type StreamDirective struct {
	// URL is the wss endpoint for the media stream.
	URL string

	// CallID and Token are passed as custom parameters so the gateway can
	// correlate and authenticate the connect.
	CallID string
	Token  string
}

// RenderStreamTwiML returns the call-instruction document: open a
// bidirectional stream to us, carrying the call reference for correlation.
func RenderStreamTwiML(d StreamDirective) (string, error) {
	if strings.TrimSpace(d.URL) == "" {
		return "", errors.New("telephony: stream url required")
	}
	if strings.TrimSpace(d.CallID) == "" {
		return "", errors.New("telephony: call id required")
	}
	r := twimlResponse{Verbs: []any{twimlConnect{Stream: &twimlStream{
		URL: d.URL,
		Parameters: []twimlParameter{
			{Name: "call_id", Value: d.CallID},
			{Name: "token", Value: d.Token},
		},
	}}}}
	return renderTwiML(r)
}

// RenderApologyTwiML speaks a short apology and hangs up cleanly. Returned
// when instruction generation fails, so the callee is never left on a
// silent connected call.
func RenderApologyTwiML() string {
	r := twimlResponse{Verbs: []any{
		twimlSay{Text: "We're sorry, this call cannot be completed right now. Goodbye."},
		twimlHangup{},
	}}
	doc, err := renderTwiML(r)
	if err != nil {
		// Static document; encoding cannot fail at runtime.
		return xml.Header + "<Response><Hangup/></Response>"
	}
	return doc
}

// RenderHangupTwiML ends the call without speech.
func RenderHangupTwiML() string {
	doc, err := renderTwiML(twimlResponse{Verbs: []any{twimlHangup{}}})
	if err != nil {
		return xml.Header + "<Response><Hangup/></Response>"
	}
	return doc
}

// RenderDTMFTwiML plays keypad digits on the line and then reconnects the
// same audio stream. Tones cannot be injected on an already-connected
// streaming leg, so the workaround is to redirect the call through this
// document; the call reference rides along so the provider routes the
// reconnect correctly.
func RenderDTMFTwiML(digits string, d StreamDirective) (string, error) {
	if err := ValidateDTMF(digits); err != nil {
		return "", err
	}
	if strings.TrimSpace(d.URL) == "" || strings.TrimSpace(d.CallID) == "" {
		return "", errors.New("telephony: stream directive required for dtmf reconnect")
	}
	r := twimlResponse{Verbs: []any{
		twimlPlay{Digits: digits},
		twimlConnect{Stream: &twimlStream{
			URL: d.URL,
			Parameters: []twimlParameter{
				{Name: "call_id", Value: d.CallID},
				{Name: "token", Value: d.Token},
			},
		}},
	}}
	return renderTwiML(r)
}

func renderTwiML(r twimlResponse) (string, error) {
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
