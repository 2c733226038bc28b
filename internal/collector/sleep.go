package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sleepsync/sleepsync/internal/errors"
	"github.com/sleepsync/sleepsync/internal/logging"
	"github.com/sleepsync/sleepsync/internal/models"
)

const (
	// DefaultPageLimit is the largest page the sleep endpoint serves.
	DefaultPageLimit = 25

	errorBodyLimit = 200
)

// SleepFetcher walks the cursor-paginated sleep collection for one user.
type SleepFetcher struct {
	client      HTTPDoer
	endpoint    string
	pageLimit   int
	backoff     Backoff
	sleep       SleepFunc
	now         func() time.Time
	logger      *logging.Logger
	onRateLimit func(delay time.Duration)
}

// FetcherOption configures a SleepFetcher.
type FetcherOption func(*SleepFetcher)

// WithPageLimit sets the page size sent as limit.
func WithPageLimit(n int) FetcherOption {
	return func(f *SleepFetcher) {
		if n > 0 {
			f.pageLimit = n
		}
	}
}

// WithBackoff sets the 429 retry policy.
func WithBackoff(b Backoff) FetcherOption {
	return func(f *SleepFetcher) { f.backoff = b }
}

// WithSleep replaces the wait used between 429 retries.
func WithSleep(fn SleepFunc) FetcherOption {
	return func(f *SleepFetcher) { f.sleep = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) FetcherOption {
	return func(f *SleepFetcher) { f.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) FetcherOption {
	return func(f *SleepFetcher) { f.logger = l }
}

// WithRateLimitHook is called before every 429 wait.
func WithRateLimitHook(fn func(delay time.Duration)) FetcherOption {
	return func(f *SleepFetcher) { f.onRateLimit = fn }
}

// NewSleepFetcher creates a fetcher for the sleep collection at endpoint.
func NewSleepFetcher(client HTTPDoer, endpoint string, opts ...FetcherOption) *SleepFetcher {
	f := &SleepFetcher{
		client:    client,
		endpoint:  endpoint,
		pageLimit: DefaultPageLimit,
		backoff:   DefaultBackoff,
		sleep:     Sleep,
		now:       time.Now,
		logger:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type sleepPage struct {
	Records   []models.SleepRecord `json:"records"`
	NextToken string               `json:"next_token"`
}

// Fetch returns every sleep record in w, following next_token until the
// cursor is absent or a page comes back empty. A 401 or 403 stops the walk
// with *errors.ErrAuth. A 429 repeats the same page after the backoff delay;
// accumulated records are kept and the cursor is not advanced.
func (f *SleepFetcher) Fetch(ctx context.Context, cred *models.Credential, w Window) ([]models.SleepRecord, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}

	var all []models.SleepRecord
	cursor := ""
	for page := 1; ; page++ {
		resp, err := f.fetchPage(ctx, cred, w, cursor)
		if err != nil {
			return nil, err
		}

		f.logger.DebugWithContext(ctx, "fetched sleep page",
			"page", page, "records", len(resp.Records), "has_next", resp.NextToken != "")

		if len(resp.Records) == 0 {
			break
		}
		all = append(all, resp.Records...)

		if resp.NextToken == "" {
			break
		}
		cursor = resp.NextToken
	}

	return all, nil
}

// fetchPage requests one page, retrying on 429 within the backoff budget.
func (f *SleepFetcher) fetchPage(ctx context.Context, cred *models.Credential, w Window, cursor string) (*sleepPage, error) {
	for attempt := 1; ; attempt++ {
		page, err := f.doPage(ctx, cred, w, cursor)
		if err == nil {
			return page, nil
		}
		var limited *RateLimitError
		if !errors.As(err, &limited) {
			return nil, err
		}
		if attempt > f.backoff.MaxRetries {
			limited.Attempts = attempt
			limited.Message = ""
			return nil, limited
		}

		delay := f.backoff.Delay(attempt, limited.RetryAfter)
		f.logger.WarnWithContext(ctx, "rate limited, waiting before retry",
			"attempt", attempt, "delay", delay.String())
		if f.onRateLimit != nil {
			f.onRateLimit(delay)
		}
		if err := f.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// doPage performs a single request. A 429 comes back as *RateLimitError.
func (f *SleepFetcher) doPage(ctx context.Context, cred *models.Credential, w Window, cursor string) (*sleepPage, error) {
	u, err := url.Parse(f.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid sleep endpoint: %w", err)
	}
	q := u.Query()
	q.Set("start", w.StartParam())
	q.Set("end", w.EndParam())
	q.Set("limit", strconv.Itoa(f.pageLimit))
	if cursor != "" {
		q.Set("nextToken", cursor)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &errors.ErrTransport{Endpoint: "sleep", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var page sleepPage
		dec := json.NewDecoder(resp.Body)
		dec.UseNumber()
		if err := dec.Decode(&page); err != nil {
			return nil, &errors.ErrUpstream{Endpoint: "sleep", Status: resp.StatusCode, Body: "invalid JSON: " + err.Error()}
		}
		return &page, nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &errors.ErrAuth{Endpoint: "sleep", Status: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &RateLimitError{RetryAfter: retryAfterFromHeaders(resp.Header, f.now()), Message: "rate limited"}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, &errors.ErrUpstream{Endpoint: "sleep", Status: resp.StatusCode, Body: string(body)}
	}
}
