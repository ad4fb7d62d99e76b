package printing

import "sync"

// Race lets several detectors compete to declare one event. The first call to
// Resolve wins; every armed detector is torn down exactly once, including
// detectors armed after the race was already decided.
type Race struct {
	mu        sync.Mutex
	done      chan struct{}
	resolved  bool
	winner    string
	teardowns []func()
}

// NewRace returns an undecided race.
func NewRace() *Race {
	return &Race{done: make(chan struct{})}
}

// Arm registers a detector. arm receives the detector's resolve callback and
// returns the function that stops the detector. A nil teardown is allowed.
func (r *Race) Arm(name string, arm func(resolve func()) func()) {
	teardown := arm(func() { r.Resolve(name) })
	if teardown == nil {
		return
	}
	r.mu.Lock()
	if r.resolved {
		r.mu.Unlock()
		teardown()
		return
	}
	r.teardowns = append(r.teardowns, teardown)
	r.mu.Unlock()
}

// Resolve declares the event on behalf of name. It reports whether this call won.
func (r *Race) Resolve(name string) bool {
	r.mu.Lock()
	if r.resolved {
		r.mu.Unlock()
		return false
	}
	r.resolved = true
	r.winner = name
	teardowns := r.teardowns
	r.teardowns = nil
	close(r.done)
	r.mu.Unlock()

	for _, t := range teardowns {
		t()
	}
	return true
}

// Done is closed once the race is decided.
func (r *Race) Done() <-chan struct{} {
	return r.done
}

// Winner names the detector that resolved the race, or "" while undecided.
func (r *Race) Winner() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.winner
}

// Cancel tears every detector down without declaring a winner.
func (r *Race) Cancel() {
	r.Resolve("")
}
