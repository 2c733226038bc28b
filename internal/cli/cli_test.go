package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sleepsync/sleepsync/internal/batch"
	"github.com/sleepsync/sleepsync/internal/collector"
	"github.com/sleepsync/sleepsync/internal/models"
	"github.com/sleepsync/sleepsync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	InitCLI()
	assert.Equal(t, "sleepsync", RootCmd.Use)
	assert.Contains(t, RootCmd.Long, "SleepSync")

	var names []string
	for _, c := range RootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"authorize", "check", "combine", "fetch", "token", "update", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestGetGlobalFlags(t *testing.T) {
	InitCLI()

	flags := RootCmd.PersistentFlags()
	assert.Equal(t, "config.yaml", flags.Lookup("config").DefValue)
	assert.NotNil(t, flags.Lookup("json"))
	assert.NotNil(t, flags.Lookup("verbose"))
}

func TestGetVersionInfo(t *testing.T) {
	info := GetVersionInfo()
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.GoVersion)
	assert.NotEmpty(t, info.OS)
	assert.NotEmpty(t, info.Arch)
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "SleepSync Version: "+GetVersionInfo().Version)
}

func TestNormalizeEmails(t *testing.T) {
	got := normalizeEmails([]string{" a@example.com ", "b@example.com,a@example.com", "", "c@example.com, "})
	assert.Equal(t, []string{"a@example.com", "b@example.com", "c@example.com"}, got)
	assert.Nil(t, normalizeEmails(nil))
}

func TestFetchWindow(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	reset := func() { fetchFlags.start, fetchFlags.end, fetchFlags.days = "", "", 0 }
	t.Cleanup(reset)

	reset()
	w, err := fetchWindow(now)
	require.NoError(t, err)
	assert.True(t, w.Start.IsZero(), "zero window defers to the configured default")

	reset()
	fetchFlags.days = 3
	w, err = fetchWindow(now)
	require.NoError(t, err)
	assert.Equal(t, collector.LastDays(now, 3), w)

	reset()
	fetchFlags.start, fetchFlags.end = "2025-03-01", "2025-03-02"
	w, err = fetchWindow(now)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01..2025-03-02", w.String())

	for _, tc := range []struct {
		name  string
		start string
		end   string
		days  int
	}{
		{"end without start", "", "2025-03-02", 0},
		{"days with start", "2025-03-01", "", 2},
		{"negative days", "", "", -1},
		{"bad date", "03/01/2025", "", 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fetchFlags.start, fetchFlags.end, fetchFlags.days = tc.start, tc.end, tc.days
			_, err := fetchWindow(now)
			assert.Error(t, err)
		})
	}
}

func TestTokenCheck(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	valid := &models.Credential{Email: "a@example.com", ExpiresAt: now.Add(2 * time.Hour)}
	r := tokenCheck("a@example.com", valid, now)
	assert.Equal(t, "OK", r.Status)
	assert.Contains(t, r.Message, "2h0m0s")

	refreshable := &models.Credential{ExpiresAt: now.Add(time.Minute), RefreshToken: "r"}
	assert.Equal(t, "WARNING", tokenCheck("b@example.com", refreshable, now).Status)

	dead := &models.Credential{ExpiresAt: now.Add(-time.Hour)}
	r = tokenCheck("c@example.com", dead, now)
	assert.Equal(t, "FAIL", r.Status)
	assert.Contains(t, r.Details, "--email c@example.com")
}

func TestOutputCheckResults(t *testing.T) {
	t.Cleanup(func() { globalFlags.JSON = false })

	var buf bytes.Buffer
	ok := []CheckResult{{Name: "Configuration", Status: "OK", Message: "valid"}}
	require.NoError(t, outputCheckResults(&buf, ok))
	assert.Contains(t, buf.String(), "✓ All checks passed!")

	buf.Reset()
	failed := append(ok, CheckResult{Name: "a@example.com", Status: "FAIL", Message: "expired"})
	assert.EqualError(t, outputCheckResults(&buf, failed), "health check failed")
	assert.Contains(t, buf.String(), "✗ FAIL")

	buf.Reset()
	globalFlags.JSON = true
	require.NoError(t, outputCheckResults(&buf, ok))
	var decoded []CheckResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, ok, decoded)
}

func TestOutputSummary(t *testing.T) {
	t.Cleanup(func() { globalFlags.JSON = false })

	started := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	s := &batch.Summary{
		RunID:     "run-1",
		Mode:      batch.ModeFull,
		Succeeded: []string{"a@example.com"},
		Failed:    []batch.Failure{{Email: "b@example.com", Err: errors.New("no refresh token available"), Reauth: true}},
		Records:   map[string]int{"a@example.com": 7},
		Artifacts: []string{"exports/a.csv"},
		Started:   started,
		Finished:  started.Add(3 * time.Second),
	}

	var buf bytes.Buffer
	require.NoError(t, outputSummary(&buf, s))
	out := buf.String()
	assert.Contains(t, out, "a@example.com")
	assert.Contains(t, out, "✗ REAUTH")
	assert.Contains(t, out, "full run run-1: 1 ok, 1 failed, 7 records in 3s")
	assert.Contains(t, out, "wrote exports/a.csv")
	assert.Contains(t, out, "sleepsync authorize --reauth --email b@example.com")

	buf.Reset()
	globalFlags.JSON = true
	require.NoError(t, outputSummary(&buf, s))
	var report RunReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &report))
	assert.Equal(t, 7, report.Records)
	require.Len(t, report.Users, 2)
	assert.Equal(t, "REAUTH", report.Users[1].Status)
}

// runCLI executes the root command with fresh flag values and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	InitCLI()

	globalFlags.JSON, globalFlags.Verbose = false, false
	fetchFlags.start, fetchFlags.end, fetchFlags.days, fetchFlags.emails, fetchFlags.single = "", "", 0, nil, false
	updateFlags.emails = nil
	combineFlags.watch = false
	tokenFlags.email = ""
	authorizeFlags.emails, authorizeFlags.single, authorizeFlags.reauth = nil, false, false
	checkFlags.probe = false

	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetErr(io.Discard)
	t.Cleanup(func() {
		RootCmd.SetOut(nil)
		RootCmd.SetErr(nil)
	})
	err := Execute(args)
	return out.String(), err
}

// sleepAPI accepts the token "good" and serves two sleeps in one page.
func sleepAPI(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	authorized := func(r *http.Request) bool {
		return r.Header.Get("Authorization") == "Bearer good"
	}
	mux.HandleFunc("/profile", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"user_id":42,"email":"a@example.com","first_name":"Ada","last_name":"Lovelace"}`))
	})
	mux.HandleFunc("/sleep", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"records":[
			{"id":"s1","start":"2025-03-01T22:00:00.000Z","end":"2025-03-02T06:00:00.000Z","score":{"sleep_performance_percentage":91,"stage_summary":{"total_in_bed_time_milli":28800000}}},
			{"id":"s2","start":"2025-03-02T22:30:00.000Z","end":"2025-03-03T06:30:00.000Z","score":{"sleep_performance_percentage":84,"stage_summary":{"total_in_bed_time_milli":28800000}}}
		]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeTestConfig(t *testing.T, dir, apiURL string) string {
	t.Helper()
	cfg := fmt.Sprintf(`version: "1"
provider:
  client_id: test-client
  client_secret: test-secret
  token_url: %[1]s/token
  profile_url: %[1]s/profile
  sleep_url: %[1]s/sleep
credentials:
  backend: file
  batch_path: %[2]s/credentials.json
  single_path: %[2]s/single.json
fetch:
  user_delay: 1ms
export:
  root: %[2]s/exports
  data_dir: %[2]s/data
log:
  level: error
`, apiURL, dir)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func TestFetchCombineAndCheck(t *testing.T) {
	dir := t.TempDir()
	srv := sleepAPI(t)
	cfgPath := writeTestConfig(t, dir, srv.URL)

	set := models.CredentialSet{"a@example.com": {
		Email:        "a@example.com",
		AccessToken:  "good",
		RefreshToken: "refresh",
		ExpiresIn:    3600,
		ExpiresAt:    time.Now().Add(time.Hour),
		TokenType:    "bearer",
	}}
	require.NoError(t, store.NewFileStore(filepath.Join(dir, "credentials.json")).SaveSet(context.Background(), set))

	out, err := runCLI(t, "--config", cfgPath, "fetch", "--start", "2025-03-01", "--end", "2025-03-05")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ OK")
	assert.Contains(t, out, "1 ok, 0 failed, 2 records")

	csvs, err := filepath.Glob(filepath.Join(dir, "exports", "sleep_data_batch_*.csv"))
	require.NoError(t, err)
	require.Len(t, csvs, 1)
	data, err := os.ReadFile(csvs[0])
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[0], "score.sleep_performance_percentage")
	assert.Contains(t, lines[0], "user_email")

	mirrors, err := filepath.Glob(filepath.Join(dir, "exports", "json", "*.json"))
	require.NoError(t, err)
	require.Len(t, mirrors, 1)

	stored, err := store.NewFileStore(filepath.Join(dir, "credentials.json")).LoadSet(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.UserID("42"), stored["a@example.com"].WhoopUserID)

	out, err = runCLI(t, "--config", cfgPath, "combine")
	require.NoError(t, err)
	assert.Contains(t, out, "Combined 2 records from 1 files")
	combined, err := filepath.Glob(filepath.Join(dir, "exports", "combined_csv", "combined_sleep_data_expanded_*.csv"))
	require.NoError(t, err)
	assert.Len(t, combined, 1)

	out, err = runCLI(t, "--config", cfgPath, "check")
	require.NoError(t, err)
	assert.Contains(t, out, "1 users stored")
	assert.Contains(t, out, "✓ All checks passed!")

	out, err = runCLI(t, "--config", cfgPath, "--json", "token", "status", "--email", "a@example.com")
	require.NoError(t, err)
	var info TokenInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "a@example.com", info.Email)
	assert.False(t, info.Expired)
	assert.True(t, info.HasRefreshToken)
}

func TestFetchReportsFailedUsers(t *testing.T) {
	dir := t.TempDir()
	srv := sleepAPI(t)
	cfgPath := writeTestConfig(t, dir, srv.URL)

	set := models.CredentialSet{"z@example.com": {
		Email:       "z@example.com",
		AccessToken: "revoked",
		ExpiresAt:   time.Now().Add(-time.Hour),
	}}
	require.NoError(t, store.NewFileStore(filepath.Join(dir, "credentials.json")).SaveSet(context.Background(), set))

	out, err := runCLI(t, "--config", cfgPath, "fetch", "--days", "3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 users failed")
	assert.Contains(t, out, "✗ REAUTH")
}

func TestCommandsRequireClientSettings(t *testing.T) {
	for _, key := range []string{"WHOOP_CLIENT_ID", "WHOOP_CLIENT_SECRET", "WHOOP_REDIRECT_URI", "WHOOP_BATCH_CREDENTIALS"} {
		t.Setenv(key, "")
	}
	cfgPath := filepath.Join(t.TempDir(), "missing.yaml")

	_, err := runCLI(t, "--config", cfgPath, "update")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WHOOP_CLIENT_ID")

	_, err = runCLI(t, "--config", cfgPath, "authorize", "--email", "a@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WHOOP_REDIRECT_URI")
}

func TestTokenStatusWithoutCredential(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, "http://127.0.0.1:1")

	_, err := runCLI(t, "--config", cfgPath, "token", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sleepsync authorize")
}
