// Package carrier drives the telephony provider's REST API: place the
// outbound call that dials the user, point its media stream at our socket,
// and hang it up when the session ends.
package carrier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

type Client interface {
	StartCall(ctx context.Context, toNumber, streamURL string) (string, error)
	EndCall(ctx context.Context, callSid string) error
}

type HTTPClient struct {
	http       *http.Client
	base       string
	accountSid string
	authToken  string
	fromNumber string
}

func NewClient(base, accountSid, authToken, fromNumber string) *HTTPClient {
	return &HTTPClient{
		http:       &http.Client{},
		base:       strings.TrimRight(base, "/"),
		accountSid: accountSid,
		authToken:  authToken,
		fromNumber: fromNumber,
	}
}

// StartCall dials the user and connects the call's media stream to
// streamURL. Returns the carrier's call SID.
func (c *HTTPClient) StartCall(ctx context.Context, toNumber, streamURL string) (string, error) {
	twiml := fmt.Sprintf(`<Response><Connect><Stream url=%q/></Connect></Response>`, streamURL)
	form := url.Values{
		"To":    {toNumber},
		"From":  {c.fromNumber},
		"Twiml": {twiml},
	}
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", c.base, c.accountSid)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("carrier: build request: %w", err)
	}
	req.SetBasicAuth(c.accountSid, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("carrier: start call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("carrier: start call: %s: %s", resp.Status, string(b))
	}

	var parsed struct {
		Sid string `json:"sid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("carrier: decode response: %w", err)
	}
	if parsed.Sid == "" {
		return "", fmt.Errorf("carrier: start call: empty call sid")
	}
	return parsed.Sid, nil
}

// EndCall completes an in-progress call.
func (c *HTTPClient) EndCall(ctx context.Context, callSid string) error {
	form := url.Values{"Status": {"completed"}}
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", c.base, c.accountSid, callSid)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("carrier: build request: %w", err)
	}
	req.SetBasicAuth(c.accountSid, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("carrier: end call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("carrier: end call: %s: %s", resp.Status, string(b))
	}
	return nil
}
