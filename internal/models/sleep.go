package models

import (
	"encoding/json"
	"time"
)

// SleepRecord is one upstream sleep object as decoded from JSON. Numbers are
// kept as json.Number so their text survives export unchanged.
type SleepRecord map[string]any

// FlatRecord is a SleepRecord after flattening: scalars or JSON text only.
type FlatRecord map[string]any

// Start returns the parsed start field, if present.
func (r SleepRecord) Start() (time.Time, bool) {
	return r.timeField("start")
}

// End returns the parsed end field, if present.
func (r SleepRecord) End() (time.Time, bool) {
	return r.timeField("end")
}

func (r SleepRecord) timeField(key string) (time.Time, bool) {
	s, ok := r[key].(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Performance returns score.sleep_performance_percentage when the record is scored.
func (r SleepRecord) Performance() (float64, bool) {
	score, ok := r["score"].(map[string]any)
	if !ok {
		return 0, false
	}
	switch v := score["sleep_performance_percentage"].(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	}
	return 0, false
}

// SleepStats is the per-user summary logged after a full export.
type SleepStats struct {
	Records        int
	AvgDuration    time.Duration
	AvgPerformance float64
	ScoredRecords  int
}

// Summarize averages duration over all records and performance over scored ones.
func Summarize(records []SleepRecord) SleepStats {
	stats := SleepStats{Records: len(records)}
	if len(records) == 0 {
		return stats
	}

	var total time.Duration
	var perf float64
	for _, r := range records {
		start, okStart := r.Start()
		end, okEnd := r.End()
		if okStart && okEnd {
			total += end.Sub(start)
		}
		if p, ok := r.Performance(); ok {
			perf += p
			stats.ScoredRecords++
		}
	}

	stats.AvgDuration = total / time.Duration(len(records))
	if stats.ScoredRecords > 0 {
		stats.AvgPerformance = perf / float64(stats.ScoredRecords)
	}
	return stats
}

// Profile is the provider's basic user profile.
type Profile struct {
	UserID    UserID `json:"user_id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Mirror is the JSON export written alongside each full CSV export.
type Mirror struct {
	UserInfo     MirrorUser    `json:"user_info"`
	FetchInfo    MirrorFetch   `json:"fetch_info"`
	SleepRecords []SleepRecord `json:"sleep_records"`
}

type MirrorUser struct {
	Email       string `json:"email"`
	WhoopUserID UserID `json:"whoop_user_id"`
	Name        string `json:"name"`
}

type MirrorFetch struct {
	Timestamp    string `json:"timestamp"`
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date"`
	TotalRecords int    `json:"total_records"`
}
