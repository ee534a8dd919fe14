// Package task provides the resumable wait primitives scripted content and
// protocol components use instead of coroutines: a handle is created with a
// predicate or duration and resolved by the fixed-rate update loop.
package task

import "time"

// Handle is a suspended continuation. Done reports whether the wait has
// resolved; a non-nil callback runs exactly once, on the update tick that
// resolves it.
type Handle struct {
	done     bool
	pred     func() bool
	deadline time.Time
	timed    bool
	callback func()
}

// Done reports whether the wait has resolved.
func (h *Handle) Done() bool { return h.done }

// Scheduler resolves pending handles from the update loop.
type Scheduler struct {
	pending []*Handle
}

// NewScheduler creates an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// WaitForPredicate suspends until fn reports true.
func (s *Scheduler) WaitForPredicate(fn func() bool, callback func()) *Handle {
	h := &Handle{pred: fn, callback: callback}
	s.pending = append(s.pending, h)
	return h
}

// WaitForDuration suspends for d, measured against the now passed to Update.
func (s *Scheduler) WaitForDuration(d time.Duration, now time.Time, callback func()) *Handle {
	h := &Handle{deadline: now.Add(d), timed: true, callback: callback}
	s.pending = append(s.pending, h)
	return h
}

// Update resolves any handles whose predicate holds or deadline has passed.
func (s *Scheduler) Update(now time.Time) {
	remaining := s.pending[:0]
	for _, h := range s.pending {
		resolved := false
		if h.timed {
			resolved = !now.Before(h.deadline)
		} else if h.pred != nil {
			resolved = h.pred()
		}
		if !resolved {
			remaining = append(remaining, h)
			continue
		}
		h.done = true
		if h.callback != nil {
			h.callback()
		}
	}
	s.pending = remaining
}

// Pending returns the number of unresolved handles.
func (s *Scheduler) Pending() int { return len(s.pending) }
