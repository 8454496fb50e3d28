package registry

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Outcome is the result of the latest refresh attempt for a link.
type Outcome struct {
	Link   string
	OK     bool
	Reason Reason
	At     time.Time
}

// Outcomes remembers refresh outcomes for a limited time. A nil *Outcomes
// remembers nothing.
type Outcomes struct {
	cache *gocache.Cache
}

func NewOutcomes(ttl time.Duration) *Outcomes {
	return &Outcomes{cache: gocache.New(ttl, 2*ttl)}
}

func (o *Outcomes) Record(out Outcome) {
	if o == nil {
		return
	}
	o.cache.SetDefault(out.Link, out)
}

func (o *Outcomes) Get(link string) (Outcome, bool) {
	if o == nil {
		return Outcome{}, false
	}
	v, found := o.cache.Get(link)
	if !found {
		return Outcome{}, false
	}
	out, ok := v.(Outcome)
	return out, ok
}

func (o *Outcomes) Forget(link string) {
	if o == nil {
		return
	}
	o.cache.Delete(link)
}
