package bulk

import (
	"sync"
	"time"
)

// Registry maps job id to job record and bounds memory by dropping terminal
// jobs once their retention window has passed. It is in-memory only: a
// process restart loses every job.
type Registry struct {
	retention time.Duration
	now       func() time.Time

	mu   sync.RWMutex
	jobs map[string]*job
}

// NewRegistry creates a registry that keeps finished jobs around for
// retention before Sweep drops them. A nil clock means time.Now; tests
// inject their own.
func NewRegistry(retention time.Duration, clock func() time.Time) *Registry {
	if clock == nil {
		clock = time.Now
	}
	return &Registry{
		retention: retention,
		now:       clock,
		jobs:      map[string]*job{},
	}
}

func (r *Registry) add(j *job) {
	r.mu.Lock()
	r.jobs[j.id] = j
	r.mu.Unlock()
}

func (r *Registry) get(id string) (*job, bool) {
	r.mu.RLock()
	j, ok := r.jobs[id]
	r.mu.RUnlock()
	return j, ok
}

func (r *Registry) all() []*job {
	r.mu.RLock()
	out := make([]*job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	r.mu.RUnlock()
	return out
}

// Sweep removes terminal jobs whose retention window has passed and reports
// how many were dropped.
func (r *Registry) Sweep() int {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, j := range r.jobs {
		j.mu.Lock()
		expired := j.state.terminal() && !j.purgeAt.IsZero() && !now.Before(j.purgeAt)
		j.mu.Unlock()
		if expired {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}

// Len reports how many jobs are currently retained.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
