package telephony

import (
	"strings"
	"testing"
)

func TestRenderStreamTwiML(t *testing.T) {
	doc, err := RenderStreamTwiML(StreamDirective{
		URL:    "wss://calls.example.com/stream",
		CallID: "c1",
		Token:  "tok123",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, want := range []string{
		`<Connect>`,
		`<Stream url="wss://calls.example.com/stream">`,
		`<Parameter name="call_id" value="c1">`,
		`<Parameter name="token" value="tok123">`,
	} {
		if !strings.Contains(doc, want) {
			t.Fatalf("expected %q in document:\n%s", want, doc)
		}
	}
}

func TestRenderStreamTwiMLRequiresFields(t *testing.T) {
	if _, err := RenderStreamTwiML(StreamDirective{CallID: "c1"}); err == nil {
		t.Fatalf("expected error for missing url")
	}
	if _, err := RenderStreamTwiML(StreamDirective{URL: "wss://x"}); err == nil {
		t.Fatalf("expected error for missing call id")
	}
}

func TestRenderApologyTwiMLSpeaksThenHangsUp(t *testing.T) {
	doc := RenderApologyTwiML()
	if !strings.Contains(doc, "<Say>") || !strings.Contains(doc, "<Hangup>") {
		t.Fatalf("expected Say and Hangup:\n%s", doc)
	}
	sayIdx := strings.Index(doc, "<Say>")
	hangupIdx := strings.Index(doc, "<Hangup>")
	if sayIdx > hangupIdx {
		t.Fatalf("apology must be spoken before hangup:\n%s", doc)
	}
}

func TestRenderDTMFTwiMLPlaysThenReconnects(t *testing.T) {
	d := StreamDirective{URL: "wss://calls.example.com/stream", CallID: "c1", Token: "tok"}
	doc, err := RenderDTMFTwiML("123#", d)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(doc, `<Play digits="123#">`) {
		t.Fatalf("expected Play verb:\n%s", doc)
	}
	playIdx := strings.Index(doc, "<Play")
	connectIdx := strings.Index(doc, "<Connect>")
	if connectIdx < 0 || playIdx > connectIdx {
		t.Fatalf("digits must play before the stream reconnect:\n%s", doc)
	}
	if !strings.Contains(doc, `value="c1"`) {
		t.Fatalf("reconnect must preserve the call reference:\n%s", doc)
	}
}

func TestRenderDTMFTwiMLRejectsBadDigits(t *testing.T) {
	d := StreamDirective{URL: "wss://x", CallID: "c1"}
	if _, err := RenderDTMFTwiML("12x", d); err == nil {
		t.Fatalf("expected rejection for bad digits")
	}
}
