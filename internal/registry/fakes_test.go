package registry

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
	"gorm.io/datatypes"
)

// memStore is an in-memory Store. Distances use the haversine formula, with
// zero for points inside a polygon and the nearest vertex otherwise.
type memStore struct {
	mu   sync.Mutex
	rows map[string]Instance
	now  func() time.Time
	tick time.Duration
}

func newMemStore() *memStore {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &memStore{rows: map[string]Instance{}}
	s.now = func() time.Time {
		s.tick += time.Second
		return base.Add(s.tick)
	}
	return s
}

func (s *memStore) Insert(ctx context.Context, d Detail) (Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[*d.Link]; ok {
		return Instance{}, NewConflictError(*d.Link, nil)
	}
	now := s.now()
	inst := Instance{
		ID:            uuid.New(),
		Name:          deref(d.Name),
		Link:          *d.Link,
		WebsocketLink: deref(d.WebsocketLink),
		Region:        d.Region,
		ImageURL:      deref(d.ImageURL),
		PolicyLinks:   datatypes.NewJSONType(d.mergePolicyLinks(PolicyLinks{})),
		Status:        StatusVerified,
		CreatedAt:     now,
		UpdatedAt:     d.UpdatedAt,
		LastFetchedAt: &now,
	}
	if d.UserCount != nil {
		inst.UserCount = *d.UserCount
	}
	s.rows[inst.Link] = inst
	return inst, nil
}

func (s *memStore) FindByLink(ctx context.Context, link string) (Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.rows[link]
	if !ok {
		return Instance{}, NewNotFoundError(link)
	}
	return inst, nil
}

func (s *memStore) DeleteByLink(ctx context.Context, link string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[link]; !ok {
		return NewNotFoundError(link)
	}
	delete(s.rows, link)
	return nil
}

func (s *memStore) MergeUpdate(ctx context.Context, link string, d Detail) (Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.rows[link]
	if !ok {
		return Instance{}, NewNotFoundError(link)
	}
	now := s.now()
	if d.Name != nil {
		inst.Name = *d.Name
	}
	if d.WebsocketLink != nil {
		inst.WebsocketLink = *d.WebsocketLink
	}
	if d.Region != nil {
		inst.Region = d.Region
	}
	if d.ImageURL != nil {
		inst.ImageURL = *d.ImageURL
	}
	if d.UserCount != nil {
		inst.UserCount = *d.UserCount
	}
	inst.PolicyLinks = datatypes.NewJSONType(d.mergePolicyLinks(inst.PolicyLinks.Data()))
	if d.UpdatedAt != nil {
		inst.UpdatedAt = d.UpdatedAt
	} else {
		inst.UpdatedAt = &now
	}
	inst.LastFetchedAt = &now
	s.rows[link] = inst
	return inst, nil
}

func (s *memStore) ListVerified(ctx context.Context, from Point) ([]RankedInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RankedInstance
	for _, inst := range s.rows {
		if inst.Status != StatusVerified {
			continue
		}
		ri := RankedInstance{Instance: inst}
		if inst.Region != nil {
			d := distanceTo(from.Orb(), inst.Region.Geometry)
			ri.Distance = &d
		}
		out = append(out, ri)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.Distance == nil && b.Distance != nil:
			return false
		case a.Distance != nil && b.Distance == nil:
			return true
		case a.Distance != nil && *a.Distance != *b.Distance:
			return *a.Distance < *b.Distance
		case !a.CreatedAt.Equal(b.CreatedAt):
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	return out, nil
}

func (s *memStore) count(link string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[link]; ok {
		return 1
	}
	return 0
}

func distanceTo(p orb.Point, g orb.Geometry) float64 {
	switch g := g.(type) {
	case orb.Point:
		return geo.DistanceHaversine(p, g)
	case orb.Polygon:
		if planar.PolygonContains(g, p) {
			return 0
		}
		return nearestVertex(p, g[0])
	case orb.MultiPolygon:
		best := math.Inf(1)
		for _, poly := range g {
			best = math.Min(best, distanceTo(p, poly))
		}
		return best
	case orb.Collection:
		best := math.Inf(1)
		for _, sub := range g {
			best = math.Min(best, distanceTo(p, sub))
		}
		return best
	}
	return math.Inf(1)
}

func nearestVertex(p orb.Point, ring orb.Ring) float64 {
	best := math.Inf(1)
	for _, v := range ring {
		best = math.Min(best, geo.DistanceHaversine(p, v))
	}
	return best
}

// stubProber answers from a per-link table and counts calls.
type stubProber struct {
	mu      sync.Mutex
	results map[string]Result
	calls   map[string]int
}

func newStubProber() *stubProber {
	return &stubProber{results: map[string]Result{}, calls: map[string]int{}}
}

func (p *stubProber) set(link string, res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[link] = res
}

func (p *stubProber) Verify(ctx context.Context, link string) Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[link]++
	if res, ok := p.results[link]; ok {
		return res
	}
	return Result{OK: true, Body: map[string]interface{}{}, StatusCode: 200}
}

func (p *stubProber) callCount(link string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[link]
}

type submitFunc func(Instance) error

func (f submitFunc) Submit(inst Instance) error { return f(inst) }
