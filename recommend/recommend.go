// Package recommend owns the recommendation lifecycle: syncing candidates
// from the analyzer into durable pending rows, approving or rejecting
// them, and applying approved recommendations as caching strategies the
// data-access layer reads back at runtime.
package recommend

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/agentuity/smartcache/cache"
	"github.com/agentuity/smartcache/config"
	"github.com/agentuity/smartcache/eventing"
	"github.com/agentuity/smartcache/logger"
	"github.com/agentuity/smartcache/store"
)

const strategyKeyPrefix = "smartcache:strategy:"

// ErrNoIDs is returned when a bulk transition is called with no ids.
var ErrNoIDs = errors.New("no recommendation ids given")

// CandidateSource produces recommendation candidates from the current
// aggregates.
type CandidateSource interface {
	Recommendations(ctx context.Context) ([]store.Recommendation, error)
}

// Strategy is the downstream caching directive produced by applying a
// recommendation. The data-access layer reads it back via Strategy or
// ShouldCache to decide whether and how to cache a query's results.
type Strategy struct {
	QueryHash string    `msgpack:"query_hash" json:"query_hash"`
	TTL       int64     `msgpack:"ttl" json:"ttl"` // seconds
	KeyPrefix string    `msgpack:"key_prefix" json:"key_prefix"`
	Tags      []string  `msgpack:"tags" json:"tags"`
	Priority  string    `msgpack:"priority" json:"priority"`
	AppliedAt time.Time `msgpack:"applied_at" json:"applied_at"`
}

// ApplyResult is the outcome for one recommendation in an auto-apply run.
type ApplyResult struct {
	ID        int64  `json:"id"`
	QueryHash string `json:"query_hash"`
	Applied   bool   `json:"applied"`
	Error     string `json:"error,omitempty"`
}

// ApplyReport summarizes one auto-apply run.
type ApplyReport struct {
	Status    string        `json:"status"` // disabled or completed
	DryRun    bool          `json:"dry_run,omitempty"`
	Processed int           `json:"processed"`
	Total     int           `json:"total"`
	Results   []ApplyResult `json:"results,omitempty"`
}

// Service drives the recommendation state machine.
type Service struct {
	store      *store.SQLite
	source     CandidateSource
	strategies cache.Cache
	events     eventing.Client
	cfg        config.Config
	logger     logger.Logger
}

// New returns a lifecycle service. The strategies cache persists applied
// strategies; events may be a noop client when broadcasting is disabled.
func New(st *store.SQLite, source CandidateSource, strategies cache.Cache, events eventing.Client, cfg config.Config, log logger.Logger) *Service {
	return &Service{
		store:      st,
		source:     source,
		strategies: strategies,
		events:     events,
		cfg:        cfg,
		logger:     log.WithPrefix("[recommend]"),
	}
}

// Sync inserts a pending row for every candidate whose fingerprint hash
// has no recommendation yet, in any status. Existing rows are never
// touched. Returns the number inserted.
func (s *Service) Sync(ctx context.Context) (int, error) {
	candidates, err := s.source.Recommendations(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "deriving candidates")
	}

	inserted := 0
	for i := range candidates {
		rec := candidates[i]
		ok, err := s.store.InsertRecommendation(ctx, &rec)
		if err != nil {
			return inserted, errors.Wrapf(err, "inserting recommendation for %s", rec.QueryHash)
		}
		if !ok {
			continue
		}
		inserted++
		if s.cfg.Broadcasting.Enabled && s.cfg.Broadcasting.BroadcastRecommendations {
			if err := s.events.Publish(ctx, eventing.SubjectRecommendationCreated, rec); err != nil {
				s.logger.Warn("broadcasting recommendation %d: %s", rec.ID, err)
			}
		}
	}
	return inserted, nil
}

// Approve transitions pending recommendations to approved. Non-pending
// ids in the set are silently skipped. Returns the count affected.
func (s *Service) Approve(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, ErrNoIDs
	}
	return s.store.UpdateStatus(ctx, ids, store.StatusPending, store.StatusApproved)
}

// Reject transitions pending recommendations to rejected. Non-pending ids
// in the set are silently skipped. Returns the count affected.
func (s *Service) Reject(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, ErrNoIDs
	}
	return s.store.UpdateStatus(ctx, ids, store.StatusPending, store.StatusRejected)
}

// List returns recommendations, optionally filtered by status (empty
// status means all).
func (s *Service) List(ctx context.Context, status store.Status) ([]store.Recommendation, error) {
	return s.store.ListRecommendations(ctx, status)
}

// ProcessAutoApply applies eligible recommendations as caching strategies.
// Eligibility: priority at or above the configured threshold, status
// approved when approval is required or pending otherwise, ordered by
// potential savings descending, capped at max-per-run. A dry run computes
// and reports the same results without persisting anything. One item
// failing does not abort the rest.
func (s *Service) ProcessAutoApply(ctx context.Context) (ApplyReport, error) {
	if !s.cfg.AutoApply.Enabled {
		return ApplyReport{Status: "disabled"}, nil
	}

	fromStatus := store.StatusPending
	if s.cfg.AutoApply.RequireApproval {
		fromStatus = store.StatusApproved
	}
	priorities := store.AtOrAbove(store.Priority(s.cfg.AutoApply.PriorityThreshold))

	candidates, err := s.store.Candidates(ctx, priorities, fromStatus, s.cfg.AutoApply.MaxQueriesPerRun)
	if err != nil {
		return ApplyReport{}, errors.Wrap(err, "selecting auto-apply candidates")
	}

	report := ApplyReport{
		Status: "completed",
		DryRun: s.cfg.AutoApply.DryRun,
		Total:  len(candidates),
	}
	for _, rec := range candidates {
		result := ApplyResult{ID: rec.ID, QueryHash: rec.QueryHash}
		if err := s.apply(ctx, rec, fromStatus); err != nil {
			result.Error = err.Error()
			s.logger.Warn("applying recommendation %d: %s", rec.ID, err)
		} else {
			result.Applied = !s.cfg.AutoApply.DryRun
			report.Processed++
		}
		report.Results = append(report.Results, result)
	}
	return report, nil
}

func (s *Service) apply(ctx context.Context, rec store.Recommendation, fromStatus store.Status) error {
	strategy := Strategy{
		QueryHash: rec.QueryHash,
		TTL:       rec.SuggestedTTL,
		KeyPrefix: "smartcache:query:" + rec.QueryHash,
		Tags:      []string{"smartcache", "auto"},
		Priority:  string(rec.Priority),
		AppliedAt: time.Now(),
	}
	if s.cfg.AutoApply.DryRun {
		return nil
	}

	encoded, err := msgpack.Marshal(strategy)
	if err != nil {
		return errors.Wrap(err, "encoding strategy")
	}
	if err := s.strategies.Set(ctx, strategyKeyPrefix+rec.QueryHash, encoded, cache.Forever); err != nil {
		return errors.Wrap(err, "persisting strategy")
	}
	ok, err := s.store.MarkApplied(ctx, rec.ID, fromStatus, encoded, strategy.AppliedAt)
	if err != nil {
		return errors.Wrap(err, "marking recommendation applied")
	}
	if !ok {
		return errors.Newf("recommendation %d no longer %s", rec.ID, fromStatus)
	}
	return nil
}

// Strategy loads the applied strategy for a fingerprint hash, if any.
func (s *Service) Strategy(ctx context.Context, hash string) (Strategy, bool, error) {
	found, encoded, err := s.strategies.Get(ctx, strategyKeyPrefix+hash)
	if err != nil {
		return Strategy{}, false, errors.Wrap(err, "loading strategy")
	}
	if !found {
		return Strategy{}, false, nil
	}
	var strategy Strategy
	if err := msgpack.Unmarshal(encoded, &strategy); err != nil {
		return Strategy{}, false, errors.Wrap(err, "decoding strategy")
	}
	return strategy, true, nil
}

// ShouldCache reports whether an applied strategy exists for the hash.
func (s *Service) ShouldCache(ctx context.Context, hash string) (bool, error) {
	found, _, err := s.strategies.Get(ctx, strategyKeyPrefix+hash)
	if err != nil {
		return false, errors.Wrap(err, "loading strategy")
	}
	return found, nil
}
