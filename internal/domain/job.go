package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobKind selects what an admin-triggered job runs.
type JobKind string

const (
	JobFull   JobKind = "full"   // every active market
	JobMarket JobKind = "market" // one market
	JobSweep  JobKind = "sweep"  // stale sweep only
)

// JobStatus is the lifecycle of a queued job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCancelled
}

// JobRequest is what an operator asks for.
type JobRequest struct {
	Kind   JobKind `json:"kind"`
	Market string  `json:"market,omitempty"`
}

// Validate normalizes and checks the request.
func (r *JobRequest) Validate() error {
	if r.Kind == "" {
		if r.Market != "" {
			r.Kind = JobMarket
		} else {
			r.Kind = JobFull
		}
	}
	switch r.Kind {
	case JobFull, JobSweep:
		return nil
	case JobMarket:
		if r.Market == "" {
			return fmt.Errorf("job kind %q requires a market", r.Kind)
		}
		return nil
	default:
		return fmt.Errorf("unknown job kind %q", r.Kind)
	}
}

// Job is the persisted record of one admin-triggered run.
type Job struct {
	ID         string     `json:"id"`
	Request    JobRequest `json:"request"`
	Status     JobStatus  `json:"status"`
	Stats      *RunStats  `json:"stats,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// MarketStats is the per-market detail of a run, used for logging.
type MarketStats struct {
	Fetched      int
	Rejected     int
	Inserted     int
	Updated      int
	Deactivated  int
	PriceChanges int
	Sales        int
}

// RunStats aggregates one run. It marshals as
// {"<market>": <synced listings>, ..., "errors": [...]}.
type RunStats struct {
	Counts  map[string]int
	Errors  []string
	Details map[string]*MarketStats
}

// NewRunStats returns empty stats.
func NewRunStats() *RunStats {
	return &RunStats{
		Counts:  map[string]int{},
		Errors:  []string{},
		Details: map[string]*MarketStats{},
	}
}

// Market returns the detail record for slug, creating it if needed.
func (s *RunStats) Market(slug string) *MarketStats {
	d, ok := s.Details[slug]
	if !ok {
		d = &MarketStats{}
		s.Details[slug] = d
		if _, ok := s.Counts[slug]; !ok {
			s.Counts[slug] = 0
		}
	}
	return d
}

// AddCount adds n synced listings for slug.
func (s *RunStats) AddCount(slug string, n int) {
	s.Market(slug)
	s.Counts[slug] += n
}

// AddError records a non-fatal failure.
func (s *RunStats) AddError(format string, args ...any) {
	s.Errors = append(s.Errors, fmt.Sprintf(format, args...))
}

// MarshalJSON implements json.Marshaler.
func (s RunStats) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Counts)+1)
	for slug, n := range s.Counts {
		out[slug] = n
	}
	errs := s.Errors
	if errs == nil {
		errs = []string{}
	}
	out["errors"] = errs
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *RunStats) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = *NewRunStats()
	for k, v := range raw {
		if k == "errors" {
			if err := json.Unmarshal(v, &s.Errors); err != nil {
				return fmt.Errorf("run stats errors: %w", err)
			}
			continue
		}
		var n int
		if err := json.Unmarshal(v, &n); err != nil {
			return fmt.Errorf("run stats count %q: %w", k, err)
		}
		s.Counts[k] = n
	}
	return nil
}
