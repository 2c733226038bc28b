package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// ExpiryBuffer is how far ahead of expires_at a token is already treated
	// as expired.
	ExpiryBuffer = 5 * time.Minute

	// DefaultExpiresIn is assumed when the token endpoint omits expires_in.
	DefaultExpiresIn int64 = 3600

	// DefaultTokenType is assumed when the token endpoint omits token_type.
	DefaultTokenType = "bearer"

	// TimestampLayout is the on-disk format for credential timestamps.
	TimestampLayout = "2006-01-02T15:04:05.000000-07:00"
)

// Credential is one user's token bundle plus the identity it belongs to.
// Unknown JSON keys are kept in Extra and written back unchanged.
type Credential struct {
	Email          string
	AccessToken    string
	RefreshToken   string
	ExpiresIn      int64
	ExpiresAt      time.Time
	TokenType      string
	Scope          string
	FirstName      string
	LastName       string
	WhoopUserID    UserID
	WhoopFirstName string
	WhoopLastName  string
	AuthTimestamp  time.Time
	LastRefreshed  time.Time

	Extra map[string]json.RawMessage
}

// Validate checks the fields every stored credential must carry.
func (c *Credential) Validate() error {
	if c.Email == "" {
		return fmt.Errorf("email is required")
	}
	if c.AccessToken == "" {
		return fmt.Errorf("access token is required for %s", c.Email)
	}
	if c.ExpiresIn < 0 {
		return fmt.Errorf("expires_in cannot be negative for %s", c.Email)
	}
	return nil
}

// Expired reports whether the token is absent-expiry or within ExpiryBuffer
// of expiring at now. The boundary is inclusive.
func (c *Credential) Expired(now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return true
	}
	return !now.Add(ExpiryBuffer).Before(c.ExpiresAt)
}

// Remaining returns the time left until expires_at, or zero if unknown or past.
func (c *Credential) Remaining(now time.Time) time.Duration {
	if c.ExpiresAt.IsZero() {
		return 0
	}
	if d := c.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// HasRefreshToken reports whether the credential can renew itself.
func (c *Credential) HasRefreshToken() bool {
	return strings.TrimSpace(c.RefreshToken) != ""
}

// TokenGrant is the subset of a token endpoint response that updates a credential.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	TokenType    string
	Scope        string
}

// ApplyGrant overwrites token fields from a freshly issued grant. The previous
// refresh token is kept when the grant carries none. Identity fields are untouched.
func (c *Credential) ApplyGrant(g TokenGrant, issuedAt time.Time) {
	c.AccessToken = g.AccessToken
	if g.RefreshToken != "" {
		c.RefreshToken = g.RefreshToken
	}
	c.ExpiresIn = g.ExpiresIn
	if c.ExpiresIn <= 0 {
		c.ExpiresIn = DefaultExpiresIn
	}
	c.TokenType = g.TokenType
	if c.TokenType == "" {
		c.TokenType = DefaultTokenType
	}
	if g.Scope != "" {
		c.Scope = g.Scope
	}
	c.ExpiresAt = issuedAt.Add(time.Duration(c.ExpiresIn) * time.Second)
}

// ApplyProfile copies provider identity onto the credential.
func (c *Credential) ApplyProfile(p Profile) {
	if p.UserID != "" {
		c.WhoopUserID = p.UserID
	}
	if p.FirstName != "" {
		c.WhoopFirstName = p.FirstName
		c.FirstName = p.FirstName
	}
	if p.LastName != "" {
		c.WhoopLastName = p.LastName
		c.LastName = p.LastName
	}
}

// DisplayName returns the best human name available, falling back to the email.
func (c *Credential) DisplayName() string {
	for _, pair := range [][2]string{
		{c.FirstName, c.LastName},
		{c.WhoopFirstName, c.WhoopLastName},
	} {
		name := strings.TrimSpace(pair[0] + " " + pair[1])
		if name != "" {
			return name
		}
	}
	return c.Email
}

// Clone returns a deep copy.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	out := *c
	if c.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &out
}

var knownCredentialKeys = map[string]struct{}{
	"email": {}, "access_token": {}, "refresh_token": {}, "expires_in": {},
	"expires_at": {}, "token_type": {}, "scope": {}, "first_name": {},
	"last_name": {}, "whoop_user_id": {}, "user_id": {}, "whoop_first_name": {},
	"whoop_last_name": {}, "auth_timestamp": {}, "last_refreshed": {},
}

type credentialJSON struct {
	Email          string     `json:"email,omitempty"`
	AccessToken    string     `json:"access_token"`
	RefreshToken   string     `json:"refresh_token,omitempty"`
	ExpiresIn      int64      `json:"expires_in,omitempty"`
	ExpiresAt      *Timestamp `json:"expires_at,omitempty"`
	TokenType      string     `json:"token_type,omitempty"`
	Scope          string     `json:"scope,omitempty"`
	FirstName      string     `json:"first_name,omitempty"`
	LastName       string     `json:"last_name,omitempty"`
	WhoopUserID    UserID     `json:"whoop_user_id,omitempty"`
	LegacyUserID   UserID     `json:"user_id,omitempty"`
	WhoopFirstName string     `json:"whoop_first_name,omitempty"`
	WhoopLastName  string     `json:"whoop_last_name,omitempty"`
	AuthTimestamp  *Timestamp `json:"auth_timestamp,omitempty"`
	LastRefreshed  *Timestamp `json:"last_refreshed,omitempty"`
}

// UnmarshalJSON reads the credential file format, accepting user_id as an
// alias for whoop_user_id.
func (c *Credential) UnmarshalJSON(data []byte) error {
	var raw credentialJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}

	*c = Credential{
		Email:          raw.Email,
		AccessToken:    raw.AccessToken,
		RefreshToken:   raw.RefreshToken,
		ExpiresIn:      raw.ExpiresIn,
		TokenType:      raw.TokenType,
		Scope:          raw.Scope,
		FirstName:      raw.FirstName,
		LastName:       raw.LastName,
		WhoopUserID:    raw.WhoopUserID,
		WhoopFirstName: raw.WhoopFirstName,
		WhoopLastName:  raw.WhoopLastName,
		ExpiresAt:      raw.ExpiresAt.Time(),
		AuthTimestamp:  raw.AuthTimestamp.Time(),
		LastRefreshed:  raw.LastRefreshed.Time(),
	}
	if c.WhoopUserID == "" {
		c.WhoopUserID = raw.LegacyUserID
	}

	for key, value := range all {
		if _, known := knownCredentialKeys[key]; known {
			continue
		}
		if c.Extra == nil {
			c.Extra = make(map[string]json.RawMessage)
		}
		c.Extra[key] = value
	}
	return nil
}

// MarshalJSON writes the credential with known keys taking precedence over Extra.
func (c Credential) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(credentialJSON{
		Email:          c.Email,
		AccessToken:    c.AccessToken,
		RefreshToken:   c.RefreshToken,
		ExpiresIn:      c.ExpiresIn,
		ExpiresAt:      timestampPtr(c.ExpiresAt),
		TokenType:      c.TokenType,
		Scope:          c.Scope,
		FirstName:      c.FirstName,
		LastName:       c.LastName,
		WhoopUserID:    c.WhoopUserID,
		WhoopFirstName: c.WhoopFirstName,
		WhoopLastName:  c.WhoopLastName,
		AuthTimestamp:  timestampPtr(c.AuthTimestamp),
		LastRefreshed:  timestampPtr(c.LastRefreshed),
	})
	if err != nil || len(c.Extra) == 0 {
		return known, err
	}

	merged := make(map[string]json.RawMessage, len(c.Extra)+len(knownCredentialKeys))
	for k, v := range c.Extra {
		merged[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// CredentialSet maps email to credential. It is loaded and saved as a whole.
type CredentialSet map[string]*Credential

// Emails returns the set's keys in sorted order.
func (s CredentialSet) Emails() []string {
	emails := make([]string, 0, len(s))
	for email := range s {
		emails = append(emails, email)
	}
	sort.Strings(emails)
	return emails
}

// Normalize drops nil entries and fills missing Email fields from the map key.
func (s CredentialSet) Normalize() {
	for email, cred := range s {
		if cred == nil {
			delete(s, email)
			continue
		}
		if cred.Email == "" {
			cred.Email = email
		}
	}
}

// Clone returns a deep copy of the set.
func (s CredentialSet) Clone() CredentialSet {
	out := make(CredentialSet, len(s))
	for email, cred := range s {
		out[email] = cred.Clone()
	}
	return out
}

// UserID is the provider-assigned account id. The API returns it as a number;
// older credential files stored it as a string. Both decode to the same value
// and numeric ids are written back as numbers.
type UserID string

func (id UserID) String() string { return string(id) }

func (id UserID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if isCanonicalInt(string(id)) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id *UserID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = UserID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("user id: %w", err)
	}
	*id = UserID(n.String())
	return nil
}

// isCanonicalInt reports whether s is an unsigned integer that encodes
// back to the same text, so "007" and values past uint64 stay strings.
func isCanonicalInt(s string) bool {
	if _, err := strconv.ParseUint(s, 10, 64); err != nil {
		return false
	}
	return s == "0" || s[0] != '0'
}
