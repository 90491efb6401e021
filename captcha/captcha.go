// Package captcha verifies challenge tokens against an external
// Turnstile-style verification endpoint.
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotConfigured is returned when no verification secret is set.
// Operators must be able to tell "the server is misconfigured" apart
// from "the user failed the challenge".
var ErrNotConfigured = errors.New("captcha: verification secret not configured")

type Verifier struct {
	verifyURL string
	secret    string
	client    *http.Client
}

func NewVerifier(verifyURL, secret string, timeout time.Duration) *Verifier {
	return &Verifier{
		verifyURL: verifyURL,
		secret:    secret,
		client:    &http.Client{Timeout: timeout},
	}
}

type verifyResponse struct {
	Success bool `json:"success"`
}

// Verify checks a challenge token with the external service. Transport
// errors are reported as err; callers are expected to treat them as a
// failed verification.
func (v *Verifier) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	if v.secret == "" {
		return false, ErrNotConfigured
	}

	form := url.Values{
		"secret":   {v.secret},
		"response": {token},
		"remoteip": {remoteIP},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	var body verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, err
	}

	return body.Success, nil
}
