package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sleepsync/sleepsync/internal/models"
)

// Authorizer runs the interactive authorization-code flow for one user and
// builds the resulting credential.
type Authorizer struct {
	exchanger *Exchanger
	codes     AuthorizationCodeProvider
	lifecycle *Lifecycle
	newState  func() string
}

// NewAuthorizer wires the flow. lifecycle is used for the profile lookup.
func NewAuthorizer(exchanger *Exchanger, codes AuthorizationCodeProvider, lifecycle *Lifecycle) *Authorizer {
	return &Authorizer{
		exchanger: exchanger,
		codes:     codes,
		lifecycle: lifecycle,
		newState:  func() string { return uuid.NewString() },
	}
}

// Authorize obtains a fresh credential for email. A failed profile lookup
// leaves the provider identity empty but still returns the credential.
func (a *Authorizer) Authorize(ctx context.Context, email string) (*models.Credential, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	state := a.newState()
	code, err := a.codes.Code(ctx, a.exchanger.AuthCodeURL(state), state)
	if err != nil {
		return nil, err
	}

	grant, issuedAt, err := a.exchanger.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	cred := &models.Credential{Email: email, AuthTimestamp: issuedAt}
	cred.ApplyGrant(grant, issuedAt)

	profile, err := a.lifecycle.Profile(ctx, cred)
	if err != nil {
		a.lifecycle.logger.WarnWithContext(ctx, "profile lookup failed after authorization", "email", email, "error", err)
		return cred, nil
	}
	cred.ApplyProfile(*profile)
	if profile.Email != "" && !strings.EqualFold(profile.Email, email) {
		a.lifecycle.logger.WarnWithContext(ctx, "authorized account email differs from requested email",
			"requested", email, "provider_email", profile.Email)
	}
	return cred, nil
}

// Reauthorize refreshes tokens on an existing credential by running the flow
// again. Stored names and unknown fields are kept.
func (a *Authorizer) Reauthorize(ctx context.Context, existing *models.Credential) (*models.Credential, error) {
	fresh, err := a.Authorize(ctx, existing.Email)
	if err != nil {
		return nil, err
	}
	merged := existing.Clone()
	merged.ApplyGrant(models.TokenGrant{
		AccessToken:  fresh.AccessToken,
		RefreshToken: fresh.RefreshToken,
		ExpiresIn:    fresh.ExpiresIn,
		TokenType:    fresh.TokenType,
		Scope:        fresh.Scope,
	}, fresh.AuthTimestamp)
	merged.AuthTimestamp = fresh.AuthTimestamp
	if fresh.WhoopUserID != "" {
		merged.WhoopUserID = fresh.WhoopUserID
		merged.WhoopFirstName = fresh.WhoopFirstName
		merged.WhoopLastName = fresh.WhoopLastName
	}
	return merged, nil
}
