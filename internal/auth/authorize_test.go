package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/sleepsync/sleepsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCodes struct {
	gotURL   string
	gotState string
	code     string
	err      error
}

func (s *staticCodes) Code(ctx context.Context, authURL, state string) (string, error) {
	s.gotURL, s.gotState = authURL, state
	return s.code, s.err
}

func newAuthServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "client-id", r.PostForm.Get("client_id"))
		assert.Equal(t, "client-secret", r.PostForm.Get("client_secret"))
		if r.PostForm.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh-access",
			"refresh_token": "fresh-refresh",
			"expires_in":    3600,
			"token_type":    "bearer",
			"scope":         "read:sleep offline",
		})
	})
	mux.HandleFunc("/profile", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"user_id": 777, "email": "a@example.com", "first_name": "Ada", "last_name": "Lovelace",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestAuthorizer(srv *httptest.Server, codes AuthorizationCodeProvider) *Authorizer {
	exchanger := NewExchanger(ExchangerConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:8080/callback",
		AuthURL:      srv.URL + "/auth",
		TokenURL:     srv.URL + "/token",
		Scopes:       []string{"read:sleep", "offline"},
	}, srv.Client())
	lifecycle := NewLifecycle(srv.Client(), Endpoints{TokenURL: srv.URL + "/token", ProfileURL: srv.URL + "/profile"})
	a := NewAuthorizer(exchanger, codes, lifecycle)
	a.newState = func() string { return "state-1" }
	return a
}

func TestAuthorizer_Authorize(t *testing.T) {
	srv := newAuthServer(t)
	codes := &staticCodes{code: "good-code"}
	a := newTestAuthorizer(srv, codes)

	cred, err := a.Authorize(context.Background(), " a@example.com ")
	require.NoError(t, err)

	u, err := url.Parse(codes.gotURL)
	require.NoError(t, err)
	assert.Equal(t, "state-1", u.Query().Get("state"))
	assert.Equal(t, "client-id", u.Query().Get("client_id"))
	assert.Equal(t, "read:sleep offline", u.Query().Get("scope"))
	assert.Equal(t, "http://localhost:8080/callback", u.Query().Get("redirect_uri"))

	assert.Equal(t, "a@example.com", cred.Email)
	assert.Equal(t, "fresh-access", cred.AccessToken)
	assert.Equal(t, "fresh-refresh", cred.RefreshToken)
	assert.Equal(t, int64(3600), cred.ExpiresIn)
	assert.Equal(t, "read:sleep offline", cred.Scope)
	assert.Equal(t, models.UserID("777"), cred.WhoopUserID)
	assert.Equal(t, "Ada", cred.WhoopFirstName)
	assert.False(t, cred.AuthTimestamp.IsZero())
	assert.WithinDuration(t, cred.AuthTimestamp.Add(time.Hour), cred.ExpiresAt, time.Second)
}

func TestAuthorizer_ExchangeFailure(t *testing.T) {
	srv := newAuthServer(t)
	a := newTestAuthorizer(srv, &staticCodes{code: "bad-code"})

	_, err := a.Authorize(context.Background(), "a@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exchange failed")
}

func TestAuthorizer_CodeProviderError(t *testing.T) {
	srv := newAuthServer(t)
	a := newTestAuthorizer(srv, &staticCodes{err: fmt.Errorf("user aborted")})

	_, err := a.Authorize(context.Background(), "a@example.com")
	assert.EqualError(t, err, "user aborted")

	_, err = a.Authorize(context.Background(), "  ")
	assert.Error(t, err)
}

func TestAuthorizer_Reauthorize(t *testing.T) {
	srv := newAuthServer(t)
	a := newTestAuthorizer(srv, &staticCodes{code: "good-code"})

	existing := &models.Credential{
		Email:       "a@example.com",
		AccessToken: "dead",
		FirstName:   "Custom",
		Extra:       map[string]json.RawMessage{"team": json.RawMessage(`"blue"`)},
	}
	cred, err := a.Reauthorize(context.Background(), existing)
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", cred.AccessToken)
	assert.Equal(t, "Custom", cred.FirstName)
	assert.Equal(t, models.UserID("777"), cred.WhoopUserID)
	assert.Contains(t, cred.Extra, "team")
	assert.Equal(t, "dead", existing.AccessToken)
}

func TestCodeFromRedirect(t *testing.T) {
	code, err := CodeFromRedirect("http://localhost:8080/callback?code=abc&state=s1", "s1")
	require.NoError(t, err)
	assert.Equal(t, "abc", code)

	code, err = CodeFromRedirect("code=xyz&state=s1", "s1")
	require.NoError(t, err)
	assert.Equal(t, "xyz", code)

	_, err = CodeFromRedirect("http://localhost/callback?code=abc&state=other", "s1")
	var mismatch *ErrStateMismatch
	assert.ErrorAs(t, err, &mismatch)

	_, err = CodeFromRedirect("http://localhost/callback?error=access_denied&error_description=nope", "s1")
	var denied *ErrAuthorizationDenied
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "access_denied", denied.Code)

	_, err = CodeFromRedirect("http://localhost/callback?state=s1", "s1")
	assert.Error(t, err)

	_, err = CodeFromRedirect("", "s1")
	assert.Error(t, err)
}

func TestPromptProvider(t *testing.T) {
	var out bytes.Buffer
	p := NewPromptProvider(&out)
	p.prompt = func(title string) (string, error) {
		return "http://localhost:8080/callback?code=pasted&state=s1", nil
	}

	code, err := p.Code(context.Background(), "https://auth.example/authorize", "s1")
	require.NoError(t, err)
	assert.Equal(t, "pasted", code)
	assert.Contains(t, out.String(), "https://auth.example/authorize")
}

func TestCallbackProvider(t *testing.T) {
	var out bytes.Buffer
	p, err := NewCallbackProvider("http://localhost:8080/callback", "127.0.0.1:0", time.Minute, &out, nil)
	require.NoError(t, err)

	addrs := make(chan string, 1)
	p.ready = func(addr string) { addrs <- addr }

	type result struct {
		code string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		code, err := p.Code(context.Background(), "https://auth.example/authorize", "s1")
		done <- result{code, err}
	}()

	addr := <-addrs
	resp, err := http.Get("http://" + addr + "/callback?code=from-browser&state=s1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "from-browser", res.code)
}

func TestCallbackProvider_StateMismatch(t *testing.T) {
	p, err := NewCallbackProvider("http://localhost:8080/callback", "127.0.0.1:0", time.Minute, &bytes.Buffer{}, nil)
	require.NoError(t, err)

	addrs := make(chan string, 1)
	p.ready = func(addr string) { addrs <- addr }

	done := make(chan error, 1)
	go func() {
		_, err := p.Code(context.Background(), "https://auth.example/authorize", "s1")
		done <- err
	}()

	resp, err := http.Get("http://" + <-addrs + "/callback?code=x&state=forged")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var mismatch *ErrStateMismatch
	assert.ErrorAs(t, <-done, &mismatch)
}

func TestCallbackProvider_ContextCancelled(t *testing.T) {
	p, err := NewCallbackProvider("http://127.0.0.1:9/cb", "127.0.0.1:0", time.Minute, &bytes.Buffer{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	p.ready = func(string) { cancel() }

	_, err = p.Code(ctx, "https://auth.example/authorize", "s1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewCodeProvider(t *testing.T) {
	assert.IsType(t, &CallbackProvider{}, NewCodeProvider("http://localhost:8080/callback", "", time.Minute, &bytes.Buffer{}, nil))
	assert.IsType(t, &PromptProvider{}, NewCodeProvider("https://example.com/callback", "", time.Minute, &bytes.Buffer{}, nil))
	assert.IsType(t, &CallbackProvider{}, NewCodeProvider("https://example.com/callback", "0.0.0.0:8080", time.Minute, &bytes.Buffer{}, nil))
}
