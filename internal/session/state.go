package session

import (
	"sync"
	"time"

	"spy-nav-tracker/internal/series"
)

// Status is the externally visible state of the tracker.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
	StatusMock    Status = "mock"
)

// Outcome says what happened to a cycle result handed to the state.
type Outcome int

const (
	// Applied means the result changed the state.
	Applied Outcome = iota
	// Suppressed means a failure was absorbed because stale samples are still shown.
	Suppressed
	// Discarded means the result was ignored (closed, mock mode or superseded cycle).
	Discarded
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Suppressed:
		return "suppressed"
	default:
		return "discarded"
	}
}

// Cycle identifies one started sampling cycle.
type Cycle uint64

// View is a read-only copy of the session handed to renderers.
type View struct {
	Samples       []series.Sample
	Status        Status
	LastError     string
	UsingMockData bool
	Cycle         Cycle
	UpdatedAt     time.Time
}

// State owns the sliding window and the status machine for one run.
// All transitions go through its methods; it is safe for concurrent use.
type State struct {
	mu sync.Mutex

	window    *series.Window
	status    Status
	lastErr   error
	lastMsg   string
	usingMock bool
	closed    bool

	started Cycle
	applied Cycle
	updated time.Time
	now     func() time.Time

	subs   map[int]chan View
	nextID int
}

// New returns an Idle session with an empty window.
func New() *State {
	return &State{
		window: series.NewWindow(),
		status: StatusIdle,
		now:    time.Now,
		subs:   make(map[int]chan View),
	}
}

// Begin moves to Loading and returns the new cycle id. It reports false while in
// mock mode or after Close, in which case no network work should happen.
func (s *State) Begin() (Cycle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.usingMock {
		return 0, false
	}
	s.started++
	s.status = StatusLoading
	s.touchLocked()
	return s.started, true
}

// Succeed appends a fresh sample and clears the last error.
func (s *State) Succeed(c Cycle, sample series.Sample) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.acceptLocked(c) {
		return Discarded, nil
	}
	if err := s.window.Append(sample); err != nil {
		s.settleLocked()
		return Discarded, err
	}

	s.status = StatusReady
	s.lastErr = nil
	s.lastMsg = ""
	s.touchLocked()
	return Applied, nil
}

// Fail records a failed cycle. With an empty window the failure becomes visible
// (status Error); otherwise the stale samples stay on screen and status is Ready.
func (s *State) Fail(c Cycle, err error, message string) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.acceptLocked(c) {
		return Discarded
	}

	if s.window.Len() > 0 {
		s.status = StatusReady
		s.touchLocked()
		return Suppressed
	}

	s.status = StatusError
	s.lastErr = err
	s.lastMsg = message
	s.touchLocked()
	return Applied
}

// EnableMock loads the synthetic samples and switches to mock mode for the rest of the run.
func (s *State) EnableMock(samples []series.Sample) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.usingMock {
		return false
	}
	s.window.Replace(samples)
	s.usingMock = true
	s.status = StatusMock
	s.lastErr = nil
	s.lastMsg = ""
	s.touchLocked()
	return true
}

// Close tears the session down. Later results are discarded and subscribers are released.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}

// View returns a snapshot of the session.
func (s *State) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Status returns the current status.
func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastError returns the last surfaced failure, nil after a success.
func (s *State) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// UsingMockData reports whether mock mode is active.
func (s *State) UsingMockData() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usingMock
}

// Closed reports whether Close has been called.
func (s *State) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Subscribe returns a channel that receives a View after each transition.
// Only the newest view is buffered; slow readers miss intermediate ones.
func (s *State) Subscribe() (<-chan View, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan View, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextID
	s.nextID++
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if sub, ok := s.subs[id]; ok {
				close(sub)
				delete(s.subs, id)
			}
		})
	}
	return ch, cancel
}

// acceptLocked drops results after Close, in mock mode, or from a cycle older than one already applied.
func (s *State) acceptLocked(c Cycle) bool {
	if s.closed || s.usingMock {
		return false
	}
	if c <= s.applied {
		return false
	}
	s.applied = c
	return true
}

// settleLocked leaves Loading after a result that could not be stored.
func (s *State) settleLocked() {
	if s.status != StatusLoading {
		return
	}
	switch {
	case s.window.Len() > 0:
		s.status = StatusReady
	case s.lastErr != nil:
		s.status = StatusError
	default:
		s.status = StatusIdle
	}
	s.touchLocked()
}

func (s *State) touchLocked() {
	s.updated = s.now()
	s.publishLocked()
}

func (s *State) publishLocked() {
	if len(s.subs) == 0 {
		return
	}
	view := s.viewLocked()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- view:
		default:
		}
	}
}

func (s *State) viewLocked() View {
	return View{
		Samples:       s.window.Snapshot(),
		Status:        s.status,
		LastError:     s.lastMsg,
		UsingMockData: s.usingMock,
		Cycle:         s.applied,
		UpdatedAt:     s.updated,
	}
}
