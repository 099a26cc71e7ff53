package appointment

import (
	"context"
	"fmt"
	"sort"
	"time"
)

type RankContext struct {
	PatientID    string
	DepartmentID string
	HospitalID   string
	ScheduledAt  time.Time
	Duration     time.Duration
	Priority     Priority
}

// Ranker orders fallback candidates. Its output is advisory: the
// coordinator still checks every candidate it tries.
type Ranker interface {
	Rank(ctx context.Context, candidates []Practitioner, rc RankContext) ([]Practitioner, error)
}

// DirectoryOrder keeps candidates as the directory returned them.
type DirectoryOrder struct{}

func (DirectoryOrder) Rank(_ context.Context, candidates []Practitioner, _ RankContext) ([]Practitioner, error) {
	return candidates, nil
}

// LeastLoaded prefers practitioners with fewer occupying appointments on the
// requested day. Ties keep directory order.
type LeastLoaded struct {
	repo Repository
	loc  *time.Location
}

func NewLeastLoaded(repo Repository, loc *time.Location) *LeastLoaded {
	if loc == nil {
		loc = time.UTC
	}
	return &LeastLoaded{repo: repo, loc: loc}
}

func (l *LeastLoaded) Rank(ctx context.Context, candidates []Practitioner, rc RankContext) ([]Practitioner, error) {
	if len(candidates) < 2 {
		return candidates, nil
	}

	ids := make([]string, len(candidates))
	for i, p := range candidates {
		ids[i] = p.ID
	}

	counts, err := l.repo.CountOccupying(ctx, ids, dayWindow(rc.ScheduledAt, l.loc))
	if err != nil {
		return nil, fmt.Errorf("count occupying: %w", err)
	}

	ranked := make([]Practitioner, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return counts[ranked[i].ID] < counts[ranked[j].ID]
	})
	return ranked, nil
}

// NewRanker returns the ranker for a RANKING_STRATEGY value.
func NewRanker(strategy string, repo Repository, loc *time.Location) Ranker {
	if strategy == "least_loaded" {
		return NewLeastLoaded(repo, loc)
	}
	return DirectoryOrder{}
}
