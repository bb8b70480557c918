package dispense

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pourwell/pourwell-core/internal/pump"
)

// Observer receives pour progress. Calls are made one at a time, in the
// order the changes happened, from a single delivery goroutine. A slow
// observer delays later notifications but never a pump.
type Observer interface {
	// PourUpdated is called when a pour starts running or finishes.
	PourUpdated(h *Handle, index int, status PourStatus)

	// DispenseCompleted is called once, when the last pour of h finishes.
	DispenseCompleted(h *Handle)
}

// notice is one pending observer call.
type notice struct {
	h         *Handle
	index     int
	status    PourStatus
	completed bool
}

// task is one queued job of one handle.
type task struct {
	h     *Handle
	index int
	job   Job
}

// Executor runs jobs with a global concurrency cap and per-channel exclusivity.
type Executor struct {
	cfg      Config
	motor    Motor
	logger   Logger
	observer Observer

	mu      sync.Mutex
	pending []task
	running int
	busy    map[int]bool
	closed  bool

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error

	noticeMu  sync.Mutex
	notices   []notice
	draining  bool
	wake      chan struct{}
	delivered chan struct{}
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the executor's logger.
func WithExecutorLogger(l Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver registers a progress observer.
func WithObserver(o Observer) ExecutorOption {
	return func(e *Executor) { e.observer = o }
}

// NewExecutor creates an executor driving motor.
func NewExecutor(cfg Config, motor Motor, opts ...ExecutorOption) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if motor == nil {
		return nil, fmt.Errorf("%w: motor is required", ErrInvalidConfig)
	}
	e := &Executor{
		cfg:    cfg,
		motor:  motor,
		logger: noopLogger{},
		busy:   make(map[int]bool),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.observer != nil {
		e.wake = make(chan struct{}, 1)
		e.delivered = make(chan struct{})
		go e.deliver()
	}
	return e, nil
}

// Config returns the executor's tunables.
func (e *Executor) Config() Config {
	return e.cfg
}

// Execute queues jobs and returns a handle immediately.
//
// Jobs with no run time finish as succeeded at once and are never
// queued. A batch with no jobs yields a handle that is already done.
func (e *Executor) Execute(jobs []Job) (*Handle, error) {
	return e.ExecuteWithID(GenerateID(), jobs)
}

// ExecuteWithID is Execute with a caller-chosen handle ID.
func (e *Executor) ExecuteWithID(id string, jobs []Job) (*Handle, error) {
	h := newHandle(id, e, jobs)
	now := time.Now().UTC()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrExecutorClosed
	}

	var immediate []int
	for i, j := range jobs {
		if j.Run <= 0 {
			immediate = append(immediate, i)
			continue
		}
		e.pending = append(e.pending, task{h: h, index: i, job: j})
	}
	e.dispatchLocked()
	e.mu.Unlock()

	for _, i := range immediate {
		e.finish(h, i, OutcomeSucceeded, "", now)
	}
	if len(jobs) == 0 {
		e.notify(notice{h: h, completed: true})
	}

	e.logger.Debug("dispense accepted", "dispense_id", id, "jobs", len(jobs), "immediate", len(immediate))
	return h, nil
}

// Running returns how many pumps are running now.
func (e *Executor) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Queued returns how many jobs are waiting for a slot or channel.
func (e *Executor) Queued() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// dispatchLocked starts every pending job that has a free slot and a free
// channel, scanning in submission order. Caller holds e.mu.
func (e *Executor) dispatchLocked() {
	if e.closed {
		return
	}
	kept := e.pending[:0]
	for _, t := range e.pending {
		if !t.h.queued(t.index) {
			continue
		}
		if e.running >= e.cfg.Concurrency || e.busy[t.job.Channel] {
			kept = append(kept, t)
			continue
		}
		e.running++
		e.busy[t.job.Channel] = true
		e.wg.Add(1)
		go e.run(t)
	}
	clear(e.pending[len(kept):])
	e.pending = kept
}

// run executes one job on its own goroutine and releases its slot.
func (e *Executor) run(t task) {
	defer e.wg.Done()

	if st, ok := t.h.markRunning(t.index, time.Now().UTC()); ok {
		e.notifyPour(t.h, t.index, st)

		outcome, errText := OutcomeSucceeded, ""
		if err := e.pour(t.job); err != nil {
			outcome, errText = OutcomeFailed, err.Error()
			if errors.Is(err, ErrInterrupted) {
				outcome = OutcomeCancelled
			}
			e.logger.Warn("pour did not complete",
				"dispense_id", t.h.ID(),
				"channel", t.job.Channel,
				"ingredient", t.job.Ingredient,
				"error", err,
			)
		}
		e.finish(t.h, t.index, outcome, errText, time.Now().UTC())
	}

	e.mu.Lock()
	e.running--
	delete(e.busy, t.job.Channel)
	e.dispatchLocked()
	e.mu.Unlock()
}

// pour drives one channel through forward (or the job's direction),
// optional retraction, and stop.
func (e *Executor) pour(j Job) error {
	e.logger.Info("pour started",
		"channel", j.Channel,
		"ingredient", j.Ingredient,
		"volume_oz", j.VolumeOz,
		"direction", j.Direction,
		"run", j.Run,
		"retraction", j.Retraction,
	)

	if err := e.drive(j.Channel, j.Direction, j.Run); err != nil {
		return err
	}
	if j.Retraction > 0 {
		if err := e.drive(j.Channel, opposite(j.Direction), j.Retraction); err != nil {
			return err
		}
	}
	if err := e.motor.Drive(j.Channel, pump.Stop); err != nil {
		return fmt.Errorf("stopping pump %d: %w", j.Channel, err)
	}

	e.logger.Debug("pour finished", "channel", j.Channel, "ingredient", j.Ingredient)
	return nil
}

// drive runs a channel in dir for d. On failure or shutdown the channel
// is stopped on a best-effort basis before returning.
func (e *Executor) drive(channel int, dir pump.Direction, d time.Duration) error {
	if err := e.motor.Drive(channel, dir); err != nil {
		e.motor.Drive(channel, pump.Stop) //nolint:errcheck // Best effort; the drive error is reported
		return fmt.Errorf("driving pump %d %s: %w", channel, dir, err)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-e.stop:
		e.motor.Drive(channel, pump.Stop) //nolint:errcheck // StopAll follows in Close
		return ErrInterrupted
	}
}

func opposite(dir pump.Direction) pump.Direction {
	if dir == pump.Reverse {
		return pump.Forward
	}
	return pump.Reverse
}

// cancel finishes every queued job of h as cancelled.
func (e *Executor) cancel(h *Handle) int {
	var cancelled []int

	e.mu.Lock()
	kept := e.pending[:0]
	for _, t := range e.pending {
		if t.h == h {
			cancelled = append(cancelled, t.index)
			continue
		}
		kept = append(kept, t)
	}
	clear(e.pending[len(kept):])
	e.pending = kept
	e.mu.Unlock()

	now := time.Now().UTC()
	n := 0
	for _, i := range cancelled {
		if _, changed, _ := e.finishIfQueued(h, i, now); changed {
			n++
		}
	}
	if n > 0 {
		e.logger.Info("dispense cancelled", "dispense_id", h.ID(), "cancelled", n)
	}
	return n
}

func (e *Executor) finishIfQueued(h *Handle, index int, at time.Time) (PourStatus, bool, bool) {
	if !h.queued(index) {
		return PourStatus{}, false, false
	}
	return e.finish(h, index, OutcomeCancelled, "", at)
}

// finish records a terminal outcome and notifies the observer.
func (e *Executor) finish(h *Handle, index int, outcome Outcome, errText string, at time.Time) (PourStatus, bool, bool) {
	st, changed, completed := h.finish(index, outcome, errText, at)
	if changed {
		e.notifyPour(h, index, st)
	}
	if completed {
		e.notify(notice{h: h, completed: true})
	}
	return st, changed, completed
}

func (e *Executor) notifyPour(h *Handle, index int, st PourStatus) {
	e.notify(notice{h: h, index: index, status: st})
}

// notify queues an observer call without waiting for it.
func (e *Executor) notify(n notice) {
	if e.observer == nil {
		return
	}
	e.noticeMu.Lock()
	e.notices = append(e.notices, n)
	e.noticeMu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// deliver hands queued notices to the observer until Close drains the queue.
func (e *Executor) deliver() {
	defer close(e.delivered)
	for {
		e.noticeMu.Lock()
		batch := e.notices
		e.notices = nil
		draining := e.draining
		e.noticeMu.Unlock()

		if len(batch) == 0 {
			if draining {
				return
			}
			<-e.wake
			continue
		}
		for _, n := range batch {
			if n.completed {
				e.observer.DispenseCompleted(n.h)
				continue
			}
			e.observer.PourUpdated(n.h, n.index, n.status)
		}
	}
}

// Close cancels queued jobs, interrupts running pours, waits for their
// goroutines, and commands every pump to stop. It then waits for the
// observer to receive every pending notice. Only the first call does any
// work; later calls return its result.
func (e *Executor) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		queued := e.pending
		e.pending = nil
		e.mu.Unlock()

		now := time.Now().UTC()
		for _, t := range queued {
			e.finishIfQueued(t.h, t.index, now)
		}

		close(e.stop)
		e.wg.Wait()

		if err := e.motor.StopAll(); err != nil {
			e.closeErr = fmt.Errorf("stopping pumps: %w", err)
		}
		e.logger.Info("executor closed", "cancelled", len(queued))

		if e.delivered != nil {
			e.noticeMu.Lock()
			e.draining = true
			e.noticeMu.Unlock()
			select {
			case e.wake <- struct{}{}:
			default:
			}
			<-e.delivered
		}
	})
	return e.closeErr
}
