// Package auth keeps provider access tokens usable: it probes, refreshes and
// verifies them, and runs the interactive authorization-code flow that
// produces new credentials.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sleepsync/sleepsync/internal/errors"
	"github.com/sleepsync/sleepsync/internal/logging"
	"github.com/sleepsync/sleepsync/internal/models"
)

// State is the outcome of Ensure.
type State int

const (
	// Valid means the access token works as is.
	Valid State = iota
	// Refreshed means a new token was issued and verified.
	Refreshed
	// NoRefreshToken means the token is expired and cannot be renewed.
	NoRefreshToken
	// RefreshFailed means the token endpoint rejected the refresh.
	RefreshFailed
	// RefreshVerificationFailed means the refreshed token did not work.
	RefreshVerificationFailed
)

func (s State) String() string {
	switch s {
	case Valid:
		return "valid"
	case Refreshed:
		return "refreshed"
	case NoRefreshToken:
		return "no_refresh_token"
	case RefreshFailed:
		return "refresh_failed"
	case RefreshVerificationFailed:
		return "refresh_verification_failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Usable reports whether the credential can be used for API calls.
func (s State) Usable() bool {
	return s == Valid || s == Refreshed
}

// NeedsReauth reports whether only interactive authorization can recover.
func (s State) NeedsReauth() bool {
	return !s.Usable()
}

// ErrRefreshFailed is returned when the token endpoint does not issue a token.
type ErrRefreshFailed struct {
	Status int
	Body   string
	Err    error
}

func (e *ErrRefreshFailed) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token refresh failed: %v", e.Err)
	}
	return fmt.Sprintf("token refresh failed with status %d: %s", e.Status, e.Body)
}

func (e *ErrRefreshFailed) Unwrap() error {
	return e.Err
}

// ErrRefreshVerification is returned when a freshly issued token is rejected
// by the identity endpoint.
type ErrRefreshVerification struct {
	Status int
}

func (e *ErrRefreshVerification) Error() string {
	return fmt.Sprintf("refreshed token rejected by identity endpoint (status %d)", e.Status)
}

// Doer is the part of *http.Client Lifecycle needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Endpoints are the provider URLs and client settings used for refresh.
type Endpoints struct {
	TokenURL     string
	ProfileURL   string
	ClientID     string
	ClientSecret string
	RefreshScope string
}

// Lifecycle drives a credential through probe, expiry check, refresh and
// verification.
type Lifecycle struct {
	client    Doer
	endpoints Endpoints
	now       func() time.Time
	logger    *logging.Logger
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) { l.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(l *Lifecycle) { l.logger = logger }
}

// NewLifecycle creates a Lifecycle.
func NewLifecycle(client Doer, endpoints Endpoints, opts ...Option) *Lifecycle {
	if endpoints.RefreshScope == "" {
		endpoints.RefreshScope = "offline"
	}
	l := &Lifecycle{
		client:    client,
		endpoints: endpoints,
		now:       time.Now,
		logger:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Ensure makes cred usable if it can. cred is updated in place on refresh;
// identity fields are never modified. The returned error is non-nil exactly
// when the state is terminal.
func (l *Lifecycle) Ensure(ctx context.Context, cred *models.Credential) (State, error) {
	status, err := l.probe(ctx, cred)
	if err == nil && status == http.StatusOK {
		return Valid, nil
	}
	l.logger.DebugWithContext(ctx, "identity probe did not succeed", "status", status, "error", err)

	if !cred.Expired(l.now()) {
		// Local expiry wins over a failed probe.
		return Valid, nil
	}

	if !cred.HasRefreshToken() {
		return NoRefreshToken, errors.ErrNoRefreshToken
	}

	if err := l.Refresh(ctx, cred); err != nil {
		return RefreshFailed, err
	}

	status, err = l.probe(ctx, cred)
	if err != nil || status != http.StatusOK {
		return RefreshVerificationFailed, &ErrRefreshVerification{Status: status}
	}
	return Refreshed, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
}

// Refresh exchanges the refresh token for a new access token and applies it
// to cred. It does not retry.
func (l *Lifecycle) Refresh(ctx context.Context, cred *models.Credential) error {
	if !cred.HasRefreshToken() {
		return errors.ErrNoRefreshToken
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", l.endpoints.ClientID)
	form.Set("client_secret", l.endpoints.ClientSecret)
	form.Set("scope", l.endpoints.RefreshScope)
	form.Set("refresh_token", cred.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoints.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return &ErrRefreshFailed{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := l.client.Do(req)
	if err != nil {
		return &ErrRefreshFailed{Err: &errors.ErrTransport{Endpoint: "token", Err: err}}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &ErrRefreshFailed{Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &ErrRefreshFailed{Status: resp.StatusCode, Body: snippet(body)}
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return &ErrRefreshFailed{Status: resp.StatusCode, Err: fmt.Errorf("decode token response: %w", err)}
	}
	if token.AccessToken == "" {
		return &ErrRefreshFailed{Status: resp.StatusCode, Body: "response has no access_token"}
	}

	now := l.now()
	cred.ApplyGrant(models.TokenGrant{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    token.ExpiresIn,
		TokenType:    token.TokenType,
		Scope:        token.Scope,
	}, now)
	cred.LastRefreshed = now

	l.logger.InfoWithContext(ctx, "access token refreshed",
		"expires_at", models.FormatTimestamp(cred.ExpiresAt), "rotated_refresh_token", token.RefreshToken != "")
	return nil
}

// Profile fetches the basic profile of the token's owner.
func (l *Lifecycle) Profile(ctx context.Context, cred *models.Credential) (*models.Profile, error) {
	resp, err := l.getProfile(ctx, cred.AccessToken)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &errors.ErrAuth{Endpoint: "profile", Status: resp.StatusCode}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, &errors.ErrUpstream{Endpoint: "profile", Status: resp.StatusCode, Body: string(body)}
	}

	var profile models.Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, &errors.ErrUpstream{Endpoint: "profile", Status: resp.StatusCode, Body: "invalid JSON: " + err.Error()}
	}
	return &profile, nil
}

// probe returns the identity endpoint's status for cred's access token.
func (l *Lifecycle) probe(ctx context.Context, cred *models.Credential) (int, error) {
	if cred.AccessToken == "" {
		return 0, fmt.Errorf("no access token")
	}
	resp, err := l.getProfile(ctx, cred.AccessToken)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode, nil
}

func (l *Lifecycle) getProfile(ctx context.Context, accessToken string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.endpoints.ProfileURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, &errors.ErrTransport{Endpoint: "profile", Err: err}
	}
	return resp, nil
}

func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
