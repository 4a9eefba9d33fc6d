// Package store persists query fingerprints, cache access metrics and cache
// recommendations. The SQLite implementation is the durable backing for the
// analyzer and the recommendation lifecycle; all aggregate mutations are
// single-statement upserts so concurrent writers cannot lose updates.
package store

import "time"

// Fingerprint is one row per distinct normalized query pattern.
type Fingerprint struct {
	Hash           string
	Query          string
	ExecutionCount int64
	TotalTime      float64 // milliseconds
	AvgTime        float64 // milliseconds
	LastExecutedAt *time.Time
}

// AccessMetric tracks hit/miss counts for a single cache key.
type AccessMetric struct {
	Key       string
	Hits      int64
	Misses    int64
	LastHitAt *time.Time
	CreatedAt time.Time
}

// Priority ranks a recommendation.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank orders priorities for threshold comparisons; higher is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// AtOrAbove returns the set of priorities at or above threshold, inclusive
// upward: a "medium" threshold admits high and medium.
func AtOrAbove(threshold Priority) []Priority {
	switch threshold {
	case PriorityMedium:
		return []Priority{PriorityHigh, PriorityMedium}
	case PriorityLow:
		return []Priority{PriorityHigh, PriorityMedium, PriorityLow}
	default:
		return []Priority{PriorityHigh}
	}
}

// Status is the lifecycle state of a recommendation.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusApplied  Status = "applied"
)

// Terminal reports whether no transition out of the status is legal.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusApplied
}

// Recommendation is a persisted suggestion to cache a fingerprint.
type Recommendation struct {
	ID               int64
	QueryHash        string
	Query            string
	Priority         Priority
	SuggestedTTL     int64 // seconds
	Reason           string
	PotentialSavings float64
	Status           Status
	AutoApplied      bool
	AppliedConfig    []byte // msgpack-encoded strategy, set at apply time
	AppliedAt        *time.Time
	CreatedAt        time.Time
}
