package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"callbridge/internal/config"
)

const defaultAPIBaseURL = "https://api.twilio.com/2010-04-01"

// Dialer places outbound calls through the provider REST API. Thin control
// plane adapter: it hands the provider the instruction webhook URL and the
// status callback URL and returns the provider call reference.
type Dialer struct {
	accountSID string
	authToken  string
	from       string

	// BaseURL is overridable for tests; defaults to the provider API.
	BaseURL string

	client *http.Client
}

func NewDialer(cfg config.TwilioConfig) *Dialer {
	return &Dialer{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.CallerNumber,
		BaseURL:    defaultAPIBaseURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// PlaceCallRequest carries what the provider needs to start dialing.
type PlaceCallRequest struct {
	To string

	// InstructionsURL is asked synchronously for TwiML once the call
	// connects.
	InstructionsURL string

	// StatusCallbackURL receives asynchronous lifecycle callbacks.
	StatusCallbackURL string
}

type placeCallResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// PlaceCall starts an outbound call and returns the provider call id.
func (d *Dialer) PlaceCall(ctx context.Context, req PlaceCallRequest) (string, error) {
	if req.To == "" || req.InstructionsURL == "" {
		return "", fmt.Errorf("telephony: to and instructions url are required")
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", d.from)
	form.Set("Url", req.InstructionsURL)
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
		form.Set("StatusCallbackEvent", "initiated ringing answered completed")
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", d.BaseURL, d.accountSID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("telephony: build dial request: %w", err)
	}
	httpReq.SetBasicAuth(d.accountSID, d.authToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("telephony: dial request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("telephony: dial rejected with status %d", resp.StatusCode)
	}

	var body placeCallResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("telephony: decode dial response: %w", err)
	}
	if body.SID == "" {
		return "", fmt.Errorf("telephony: dial response missing call sid")
	}
	return body.SID, nil
}
