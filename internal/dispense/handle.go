package dispense

import (
	"context"
	"sync"
	"time"
)

// Handle observes one accepted batch of jobs.
//
// Statuses are kept in submission order. Each worker writes only its own
// entry; Done becomes true once every entry is finished and never reverts.
// Safe for concurrent use.
type Handle struct {
	id   string
	exec *Executor

	mu        sync.Mutex
	statuses  []PourStatus
	remaining int
	done      chan struct{}
}

func newHandle(id string, exec *Executor, jobs []Job) *Handle {
	h := &Handle{
		id:        id,
		exec:      exec,
		statuses:  make([]PourStatus, len(jobs)),
		remaining: len(jobs),
		done:      make(chan struct{}),
	}
	for i, j := range jobs {
		h.statuses[i] = newStatus(j)
	}
	if h.remaining == 0 {
		close(h.done)
	}
	return h
}

// ID returns the dispense identifier.
func (h *Handle) ID() string {
	return h.id
}

// Len returns the number of pours.
func (h *Handle) Len() int {
	return len(h.statuses)
}

// Done reports whether every pour has finished. It never blocks.
func (h *Handle) Done() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Finished returns a channel closed when every pour has finished.
func (h *Handle) Finished() <-chan struct{} {
	return h.done
}

// Wait blocks until every pour has finished or ctx ends.
// Leaving early does not cancel anything.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of every pour status.
func (h *Handle) Snapshot() []PourStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]PourStatus, len(h.statuses))
	copy(out, h.statuses)
	return out
}

// Status returns a copy of one pour status.
func (h *Handle) Status(index int) PourStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statuses[index]
}

// Outcome summarises the finished pours. Meaningful once Done is true.
func (h *Handle) Outcome() Outcome {
	return Summarize(h.Snapshot())
}

// Cancel finishes every still-queued pour as cancelled and returns how
// many were cancelled. Running pours complete physically.
func (h *Handle) Cancel() int {
	if h.exec == nil {
		return 0
	}
	return h.exec.cancel(h)
}

// markRunning moves a queued entry to running. It reports false if the
// entry was no longer queued.
func (h *Handle) markRunning(index int, at time.Time) (PourStatus, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := &h.statuses[index]
	if st.State != StateQueued {
		return *st, false
	}
	st.State = StateRunning
	st.StartedAt = &at
	return *st, true
}

// finish moves an entry to its terminal state. It reports whether this
// made the whole handle done. Finishing an entry twice is a no-op.
func (h *Handle) finish(index int, outcome Outcome, errText string, at time.Time) (PourStatus, bool, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := &h.statuses[index]
	if st.State == StateFinished {
		return *st, false, false
	}
	st.State = StateFinished
	st.Outcome = outcome
	st.Error = errText
	st.FinishedAt = &at

	h.remaining--
	completed := h.remaining == 0
	if completed {
		close(h.done)
	}
	return *st, true, completed
}

// queued reports whether entry index is still waiting.
func (h *Handle) queued(index int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statuses[index].State == StateQueued
}
