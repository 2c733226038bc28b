package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sleepsync/sleepsync/internal/models"
	"golang.org/x/oauth2"
)

// Exchanger builds authorization URLs and trades authorization codes for
// tokens.
type Exchanger struct {
	config *oauth2.Config
	client *http.Client
	now    func() time.Time
}

// ExchangerConfig holds the OAuth client registration.
type ExchangerConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	Scopes       []string
}

// NewExchanger creates an Exchanger. client may be nil.
func NewExchanger(cfg ExchangerConfig, client *http.Client) *Exchanger {
	return &Exchanger{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client: client,
		now:    time.Now,
	}
}

// AuthCodeURL returns the URL the user opens to grant access.
func (e *Exchanger) AuthCodeURL(state string) string {
	return e.config.AuthCodeURL(state)
}

// RedirectURL is the registered redirect URI.
func (e *Exchanger) RedirectURL() string {
	return e.config.RedirectURL
}

// Exchange trades code for a token grant.
func (e *Exchanger) Exchange(ctx context.Context, code string) (models.TokenGrant, time.Time, error) {
	if e.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client)
	}
	issuedAt := e.now()
	token, err := e.config.Exchange(ctx, code)
	if err != nil {
		return models.TokenGrant{}, time.Time{}, fmt.Errorf("authorization code exchange failed: %w", err)
	}

	grant := models.TokenGrant{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		ExpiresIn:    extraInt(token, "expires_in"),
	}
	if scope, ok := token.Extra("scope").(string); ok {
		grant.Scope = scope
	}
	if grant.ExpiresIn == 0 && !token.Expiry.IsZero() {
		grant.ExpiresIn = int64(token.Expiry.Sub(issuedAt).Round(time.Second) / time.Second)
	}
	return grant, issuedAt, nil
}

func extraInt(token *oauth2.Token, key string) int64 {
	switch v := token.Extra(key).(type) {
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

// ErrStateMismatch is returned when a redirect carries a different state than
// the one issued.
type ErrStateMismatch struct {
	Want, Got string
}

func (e *ErrStateMismatch) Error() string {
	return "authorization state mismatch, possible CSRF; restart the flow"
}

// ErrAuthorizationDenied is returned when the provider redirects with an error.
type ErrAuthorizationDenied struct {
	Code        string
	Description string
}

func (e *ErrAuthorizationDenied) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("authorization denied: %s (%s)", e.Code, e.Description)
	}
	return "authorization denied: " + e.Code
}

// CodeFromRedirect extracts the authorization code from a redirect URL or
// raw query string, checking state when want is non-empty.
func CodeFromRedirect(raw, want string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty redirect URL")
	}

	var query url.Values
	if u, err := url.Parse(raw); err == nil && u.RawQuery != "" {
		query = u.Query()
	} else {
		q, err := url.ParseQuery(strings.TrimPrefix(raw, "?"))
		if err != nil {
			return "", fmt.Errorf("parse redirect: %w", err)
		}
		query = q
	}
	return codeFromQuery(query, want)
}

func codeFromQuery(query url.Values, want string) (string, error) {
	if e := query.Get("error"); e != "" {
		return "", &ErrAuthorizationDenied{Code: e, Description: query.Get("error_description")}
	}
	if want != "" && query.Get("state") != want {
		return "", &ErrStateMismatch{Want: want, Got: query.Get("state")}
	}
	code := query.Get("code")
	if code == "" {
		return "", fmt.Errorf("redirect has no authorization code")
	}
	return code, nil
}
