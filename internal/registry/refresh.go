package registry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/EmpoweredVote/instance-registry/internal/logging"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

var (
	ErrQueueFull = errors.New("refresh queue is full")
	ErrClosed    = errors.New("refresher is closed")
)

// RefreshConfig sizes the refresh pool.
type RefreshConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// Refresher re-fetches instance metadata in the background and merges it
// into the store. Tasks outlive the request that submitted them.
type Refresher struct {
	store    Store
	prober   Prober
	outcomes *Outcomes
	metrics  *Metrics
	logger   log.Logger
	timeout  time.Duration
	now      func() time.Time

	tasks  chan Instance
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewRefresher starts cfg.Workers workers.
func NewRefresher(cfg RefreshConfig, store Store, prober Prober, outcomes *Outcomes, metrics *Metrics, logger log.Logger) *Refresher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	r := &Refresher{
		store:    store,
		prober:   prober,
		outcomes: outcomes,
		metrics:  metrics,
		logger:   logging.Component(logger, "refresher"),
		timeout:  cfg.Timeout,
		now:      time.Now,
		tasks:    make(chan Instance, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		r.wg.Add(1)
		go r.work()
	}
	return r
}

// Submit queues a refresh of inst without blocking.
func (r *Refresher) Submit(inst Instance) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	select {
	case r.tasks <- inst:
		r.metrics.setQueueDepth(len(r.tasks))
		return nil
	default:
		r.metrics.observeRefresh("rejected")
		return ErrQueueFull
	}
}

func (r *Refresher) work() {
	defer r.wg.Done()
	for inst := range r.tasks {
		r.metrics.setQueueDepth(len(r.tasks))

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		r.Refresh(ctx, inst)
		cancel()
	}
}

// Refresh probes inst and merges the returned metadata. A failed probe leaves
// the stored record untouched.
func (r *Refresher) Refresh(ctx context.Context, inst Instance) Outcome {
	out := Outcome{Link: inst.Link}

	res := r.prober.Verify(ctx, inst.Link)
	if !res.OK {
		out.Reason = res.Reason
		r.finish(&out, string(res.Reason))
		return out
	}

	d, ignored, err := NormalizeMetadata(res.Body)
	if err != nil {
		out.Reason = ReasonInvalidMetadata
		logging.Error(r.logger, "normalize metadata", err, "link", inst.Link)
		r.finish(&out, "invalid_metadata")
		return out
	}
	if len(ignored) > 0 {
		level.Warn(r.logger).Log("msg", "ignoring unusable metadata fields", "link", inst.Link,
			"fields", strings.Join(ignored, ","))
	}

	if _, err := r.store.MergeUpdate(ctx, inst.Link, d); err != nil {
		// Not retried; the next refresh request starts over.
		logging.Error(r.logger, "merge refresh", err, "link", inst.Link)
		if IsKind(err, KindNotFound) {
			r.outcomes.Forget(inst.Link)
			r.metrics.observeRefresh("gone")
			return out
		}
		r.metrics.observeRefresh("merge_error")
		return out
	}

	out.OK = true
	level.Debug(r.logger).Log("msg", "instance refreshed", "link", inst.Link)
	r.finish(&out, "ok")
	return out
}

func (r *Refresher) finish(out *Outcome, label string) {
	out.At = r.now().UTC()
	r.outcomes.Record(*out)
	r.metrics.observeRefresh(label)
}

// Close stops accepting work and waits for queued tasks to finish or ctx to
// expire.
func (r *Refresher) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.tasks)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
