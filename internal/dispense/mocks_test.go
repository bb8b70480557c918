package dispense

import (
	"errors"
	"sync"
	"time"

	"github.com/pourwell/pourwell-core/internal/pump"
	"github.com/pourwell/pourwell-core/internal/recipe"
)

type motorCall struct {
	channel int
	dir     pump.Direction
	at      time.Time
}

// mockMotor records every command and checks the executor's invariants:
// a channel only starts from stop, and no more than cap channels run.
type mockMotor struct {
	mu         sync.Mutex
	state      map[int]pump.Direction
	calls      []motorCall
	running    int
	maxRunning int
	overlap    bool
	failOn     map[int]error
	stopAlls   int
}

func newMockMotor() *mockMotor {
	return &mockMotor{
		state:  make(map[int]pump.Direction),
		failOn: make(map[int]error),
	}
}

func (m *mockMotor) Drive(channel int, dir pump.Direction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, motorCall{channel: channel, dir: dir, at: time.Now()})

	if err, ok := m.failOn[channel]; ok && dir != pump.Stop {
		return err
	}

	prev := m.state[channel]
	wasRunning := prev != "" && prev != pump.Stop
	isRunning := dir != pump.Stop

	if dir == pump.Forward && prev == pump.Forward {
		m.overlap = true
	}

	switch {
	case !wasRunning && isRunning:
		m.running++
		if m.running > m.maxRunning {
			m.maxRunning = m.running
		}
	case wasRunning && !isRunning:
		m.running--
	}
	m.state[channel] = dir
	return nil
}

func (m *mockMotor) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopAlls++
	for ch, dir := range m.state {
		if dir != pump.Stop {
			m.running--
		}
		m.state[ch] = pump.Stop
	}
	return nil
}

func (m *mockMotor) fail(channel int) {
	m.mu.Lock()
	m.failOn[channel] = errors.New("h-bridge fault")
	m.mu.Unlock()
}

func (m *mockMotor) callsFor(channel int) []motorCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []motorCall
	for _, c := range m.calls {
		if c.channel == channel {
			out = append(out, c)
		}
	}
	return out
}

func (m *mockMotor) stats() (maxRunning int, overlap bool, stopAlls int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxRunning, m.overlap, m.stopAlls
}

// staticPumps is a fixed PumpConfigSource.
type staticPumps struct {
	cfg recipe.PumpConfig
}

func (s staticPumps) Current() recipe.PumpConfig { return s.cfg }

// recordingObserver collects observer calls.
type recordingObserver struct {
	mu        sync.Mutex
	updates   []PourEvent
	completed []string
}

func (o *recordingObserver) PourUpdated(h *Handle, index int, st PourStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.updates = append(o.updates, PourEvent{DispenseID: h.ID(), Index: index, Status: st})
}

func (o *recordingObserver) DispenseCompleted(h *Handle) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed = append(o.completed, h.ID())
}

func (o *recordingObserver) completedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.completed)
}

// slowObserver sleeps on every notice, like a sink waiting on a broker.
type slowObserver struct {
	delay time.Duration

	mu sync.Mutex
	n  int
}

func (o *slowObserver) PourUpdated(*Handle, int, PourStatus) { o.record() }

func (o *slowObserver) DispenseCompleted(*Handle) { o.record() }

func (o *slowObserver) record() {
	time.Sleep(o.delay)
	o.mu.Lock()
	o.n++
	o.mu.Unlock()
}

func (o *slowObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.n
}

// mockHub records WebSocket broadcasts.
type mockHub struct {
	mu     sync.Mutex
	events []string
}

func (h *mockHub) Broadcast(channel string, _ any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, channel)
}

func (h *mockHub) count(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events {
		if e == channel {
			n++
		}
	}
	return n
}

// mockMQTT records published topics.
type mockMQTT struct {
	delay time.Duration

	mu     sync.Mutex
	topics []string
}

func (m *mockMQTT) Publish(topic string, _ []byte, _ byte, _ bool) error {
	time.Sleep(m.delay)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topics = append(m.topics, topic)
	return nil
}

func (m *mockMQTT) published() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.topics...)
}

// mockTelemetry records pour samples.
type mockTelemetry struct {
	mu      sync.Mutex
	samples []string
}

func (t *mockTelemetry) WritePour(_ int, ingredient, outcome string, _ float64, _ time.Duration, _ time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = append(t.samples, ingredient+":"+outcome)
}

func (t *mockTelemetry) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.samples)
}
