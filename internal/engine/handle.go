package engine

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Snapshot is a point-in-time view of a job for polling.
type Snapshot struct {
	ID      string  `json:"id"`
	Status  Status  `json:"status"`
	Stage   Stage   `json:"stage,omitempty"`
	Percent float64 `json:"percent"`
	Message string  `json:"message,omitempty"`
	Result  *Result `json:"result,omitempty"`
}

// Handle is a job running in its own goroutine.
type Handle struct {
	ID string

	cancel context.CancelFunc
	done   chan struct{}
	events chan Event

	mu     sync.Mutex
	status Status
	last   Event
	subs   map[chan Event]struct{}
	result Result
	err    error
	ended  time.Time
}

const eventBuffer = 256

// gate blocks until the job may run and returns the release func.
type gate func(ctx context.Context) (func(), error)

// Start runs job on p without blocking. Cancel the handle or ctx to stop it.
func Start(ctx context.Context, p *Pipeline, job Job) *Handle {
	return start(ctx, p, job, nil)
}

func start(ctx context.Context, p *Pipeline, job Job, acquire gate) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		ID:     job.ID,
		cancel: cancel,
		done:   make(chan struct{}),
		events: make(chan Event, eventBuffer),
		status: StatusPending,
		last:   Event{JobID: job.ID},
		subs:   map[chan Event]struct{}{},
	}

	go func() {
		defer cancel()
		defer h.close()

		if acquire != nil {
			release, err := acquire(ctx)
			if err != nil {
				h.setResult(Result{JobID: job.ID, Status: StatusCancelled}, nil)
				return
			}
			defer release()
		}

		h.mu.Lock()
		h.status = StatusRunning
		h.mu.Unlock()

		res, err := p.Run(ctx, job, h.publish)
		h.setResult(res, err)
	}()
	return h
}

func (h *Handle) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = ev
	// Медленный читатель не должен тормозить захват
	select {
	case h.events <- ev:
	default:
	}
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *Handle) setResult(res Result, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.result, h.err = res, err
	h.status = res.Status
	if !h.status.Terminal() {
		h.status = StatusFailed
	}
}

func (h *Handle) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	close(h.events)
	for ch := range h.subs {
		close(ch)
	}
	h.subs = nil
	h.ended = time.Now()
	close(h.done)
}

// Events delivers progress in order. Events are dropped if the reader falls
// behind; the channel is closed when the job ends.
func (h *Handle) Events() <-chan Event { return h.events }

// Subscribe returns a separate event stream starting with the latest event.
// The returned func stops the subscription.
func (h *Handle) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, eventBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	ch <- h.last
	if h.subs == nil {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

// Status polls the job.
func (h *Handle) Status() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := Snapshot{
		ID:      h.ID,
		Status:  h.status,
		Stage:   h.last.Stage,
		Percent: h.last.Percent,
		Message: h.last.Message,
	}
	if h.status.Terminal() {
		res := h.result
		s.Result = &res
	}
	return s
}

// Wait blocks until the job ends or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, h.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Done is closed when the job ends.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Cancel requests a stop; the job ends with StatusCancelled.
func (h *Handle) Cancel() { h.cancel() }

// endedAt is zero while the job runs.
func (h *Handle) endedAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ended
}

// DefaultRetention is how long a Manager keeps finished jobs.
const DefaultRetention = time.Hour

// Manager tracks submitted jobs by ID and limits how many run at once.
type Manager struct {
	pipeline *Pipeline
	base     context.Context
	stop     context.CancelFunc
	slots    chan struct{}
	log      *logrus.Entry

	retention time.Duration
	now       func() time.Time

	mu   sync.Mutex
	jobs map[string]*Handle
}

func NewManager(p *Pipeline, maxParallel int) *Manager {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	base, stop := context.WithCancel(context.Background())
	return &Manager{
		pipeline: p,
		base:     base,
		stop:     stop,
		slots:    make(chan struct{}, maxParallel),
		log:      p.logger().WithField("component", "manager"),

		retention: DefaultRetention,
		now:       time.Now,

		jobs: map[string]*Handle{},
	}
}

// SetRetention changes how long finished jobs stay available to Get and List.
// Zero drops them at the next prune.
func (m *Manager) SetRetention(d time.Duration) {
	m.mu.Lock()
	m.retention = d
	m.mu.Unlock()
}

// prune forgets jobs that ended more than the retention period ago.
func (m *Manager) prune() {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-m.retention)
	for id, h := range m.jobs {
		ended := h.endedAt()
		if !ended.IsZero() && !ended.After(cutoff) {
			delete(m.jobs, id)
			m.log.WithField("job_id", id).Debug("finished job dropped")
		}
	}
}

// Submit queues job. It runs once a slot is free, independent of the caller's lifetime.
func (m *Manager) Submit(job Job) *Handle {
	m.prune()
	h := start(m.base, m.pipeline, job, m.acquire)
	m.mu.Lock()
	m.jobs[job.ID] = h
	m.mu.Unlock()
	m.log.WithField("job_id", job.ID).Info("job submitted")
	return h
}

func (m *Manager) acquire(ctx context.Context) (func(), error) {
	select {
	case m.slots <- struct{}{}:
		return func() { <-m.slots }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) Get(id string) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.jobs[id]
	return h, ok
}

// Cancel stops job id. It reports false for unknown IDs.
func (m *Manager) Cancel(id string) bool {
	h, ok := m.Get(id)
	if ok {
		h.Cancel()
	}
	return ok
}

func (m *Manager) List() []Snapshot {
	m.prune()
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.jobs))
	for _, h := range m.jobs {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	out := make([]Snapshot, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.Status())
	}
	return out
}

// Shutdown cancels every job and waits for them to clean up.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stop()
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.jobs))
	for _, h := range m.jobs {
		handles = append(handles, h)
	}
	m.mu.Unlock()
	for _, h := range handles {
		select {
		case <-h.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
