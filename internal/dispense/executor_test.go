package dispense

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pourwell/pourwell-core/internal/pump"
)

// testSecondsPerOz keeps wall-clock tests short: 1 oz = 50ms.
const testSecondsPerOz = 0.05

func testConfig(concurrency int) Config {
	return Config{SecondsPerOz: testSecondsPerOz, Concurrency: concurrency}
}

func newTestExecutor(t *testing.T, cfg Config, opts ...ExecutorOption) (*Executor, *mockMotor) {
	t.Helper()
	motor := newMockMotor()
	exec, err := NewExecutor(cfg, motor, opts...)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	t.Cleanup(func() { exec.Close() }) //nolint:errcheck // Test cleanup
	return exec, motor
}

func pourJob(cfg Config, channel int, oz float64) Job {
	return Job{
		Channel:    channel,
		Ingredient: "ingredient",
		VolumeOz:   oz,
		Run:        cfg.RunTime(oz),
		Retraction: cfg.Retraction(),
		Direction:  pump.Forward,
	}
}

func waitHandle(t *testing.T, h *Handle) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "defaults", cfg: DefaultConfig()},
		{name: "zero coefficient", cfg: Config{SecondsPerOz: 0, Concurrency: 1}, wantErr: true},
		{name: "zero concurrency", cfg: Config{SecondsPerOz: 1, Concurrency: 0}, wantErr: true},
		{name: "negative retraction", cfg: Config{SecondsPerOz: 1, Concurrency: 1, RetractionSeconds: -1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr != (err != nil) {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestConfig_RunTime(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		oz   float64
		want time.Duration
	}{
		{oz: 2, want: 6 * time.Second},
		{oz: 1, want: 3 * time.Second},
		{oz: 4, want: 12 * time.Second},
		{oz: 0, want: 0},
		{oz: -1, want: 0},
	}
	for _, tt := range tests {
		if got := cfg.RunTime(tt.oz); got != tt.want {
			t.Errorf("RunTime(%v) = %v, want %v", tt.oz, got, tt.want)
		}
	}
}

func TestExecutor_RunDuration(t *testing.T) {
	cfg := testConfig(5)
	exec, motor := newTestExecutor(t, cfg)

	h, err := exec.Execute([]Job{pourJob(cfg, 1, 2)})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	waitHandle(t, h)

	calls := motor.callsFor(1)
	if len(calls) != 2 || calls[0].dir != pump.Forward || calls[1].dir != pump.Stop {
		t.Fatalf("calls = %+v, want forward then stop", calls)
	}
	elapsed := calls[1].at.Sub(calls[0].at)
	if elapsed < 100*time.Millisecond || elapsed > 400*time.Millisecond {
		t.Errorf("pump ran %v, want about 100ms", elapsed)
	}

	st := h.Snapshot()[0]
	if st.Outcome != OutcomeSucceeded || st.StartedAt == nil || st.FinishedAt == nil {
		t.Errorf("status = %+v, want succeeded with times", st)
	}
}

func TestExecutor_Retraction(t *testing.T) {
	cfg := testConfig(5)
	cfg.RetractionSeconds = 0.05
	exec, motor := newTestExecutor(t, cfg)

	h, err := exec.Execute([]Job{pourJob(cfg, 3, 1)})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	waitHandle(t, h)

	calls := motor.callsFor(3)
	want := []pump.Direction{pump.Forward, pump.Reverse, pump.Stop}
	if len(calls) != len(want) {
		t.Fatalf("calls = %+v, want %v", calls, want)
	}
	for i, dir := range want {
		if calls[i].dir != dir {
			t.Errorf("call %d = %s, want %s", i, calls[i].dir, dir)
		}
	}
	if reverse := calls[2].at.Sub(calls[1].at); reverse < 50*time.Millisecond {
		t.Errorf("retraction lasted %v, want at least 50ms", reverse)
	}
}

func TestExecutor_ConcurrencyCap(t *testing.T) {
	cfg := testConfig(2)
	exec, motor := newTestExecutor(t, cfg)

	jobs := make([]Job, 6)
	for i := range jobs {
		jobs[i] = pourJob(cfg, i+1, 2)
	}

	start := time.Now()
	h, err := exec.Execute(jobs)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	// Sample statuses while pouring.
	for !h.Done() {
		running := 0
		for _, st := range h.Snapshot() {
			if st.Running() {
				running++
			}
		}
		if running > 2 {
			t.Fatalf("%d pours running, cap is 2", running)
		}
		time.Sleep(5 * time.Millisecond)
	}
	elapsed := time.Since(start)

	maxRunning, overlap, _ := motor.stats()
	if maxRunning > 2 {
		t.Errorf("motor saw %d pumps running, cap is 2", maxRunning)
	}
	if overlap {
		t.Error("a channel was started twice")
	}
	// Three batches of 100ms.
	if elapsed < 300*time.Millisecond {
		t.Errorf("6 jobs at cap 2 took %v, want at least 300ms", elapsed)
	}
}

func TestExecutor_CapSerializes(t *testing.T) {
	cfg := testConfig(1)
	exec, _ := newTestExecutor(t, cfg)

	// 4 oz + 2 oz + 2 oz at 50ms/oz = 400ms when serialized.
	start := time.Now()
	h, err := exec.Execute([]Job{pourJob(cfg, 1, 4), pourJob(cfg, 2, 2), pourJob(cfg, 3, 2)})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	waitHandle(t, h)

	if elapsed := time.Since(start); elapsed < 400*time.Millisecond || elapsed > 700*time.Millisecond {
		t.Errorf("serialized pours took %v, want about 400ms", elapsed)
	}

	snap := h.Snapshot()
	for i := 1; i < len(snap); i++ {
		if snap[i].StartedAt.Before(*snap[i-1].FinishedAt) {
			t.Errorf("pour %d started before pour %d finished", i, i-1)
		}
	}
}

func TestExecutor_ChannelExclusivityAcrossRequests(t *testing.T) {
	cfg := testConfig(5)
	exec, motor := newTestExecutor(t, cfg)

	h1, err := exec.Execute([]Job{pourJob(cfg, 1, 2)})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	h2, err := exec.Execute([]Job{pourJob(cfg, 1, 2), pourJob(cfg, 2, 2)})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	waitHandle(t, h1)
	waitHandle(t, h2)

	if _, overlap, _ := motor.stats(); overlap {
		t.Fatal("channel 1 driven by two jobs at once")
	}

	first := h1.Snapshot()[0]
	second := h2.Snapshot()[0]
	if second.StartedAt.Before(*first.FinishedAt) {
		t.Error("second pour on channel 1 started before the first finished")
	}

	// A busy channel does not hold up the jobs behind it.
	other := h2.Snapshot()[1]
	if !other.StartedAt.Before(*first.FinishedAt) {
		t.Error("channel 2 waited for channel 1")
	}
}

func TestExecutor_ZeroVolumeFinishesImmediately(t *testing.T) {
	cfg := testConfig(1)
	exec, motor := newTestExecutor(t, cfg)

	h, err := exec.Execute([]Job{pourJob(cfg, 1, 0), pourJob(cfg, 2, -1)})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !h.Done() {
		t.Fatal("zero-volume handle not done on return")
	}
	for _, st := range h.Snapshot() {
		if st.Outcome != OutcomeSucceeded {
			t.Errorf("status = %+v, want succeeded", st)
		}
	}
	if n := len(motor.callsFor(1)) + len(motor.callsFor(2)); n != 0 {
		t.Errorf("motor driven %d times for zero volume", n)
	}
}

func TestExecutor_EmptyBatch(t *testing.T) {
	obs := &recordingObserver{}
	exec, _ := newTestExecutor(t, testConfig(1), WithObserver(obs))

	h, err := exec.Execute(nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !h.Done() || h.Len() != 0 {
		t.Error("empty batch should be done with no pours")
	}
	eventually(t, "completion notice", func() bool { return obs.completedCount() == 1 })
}

func TestExecutor_FailureIsolated(t *testing.T) {
	cfg := testConfig(5)
	exec, motor := newTestExecutor(t, cfg)
	motor.fail(2)

	h, err := exec.Execute([]Job{pourJob(cfg, 1, 1), pourJob(cfg, 2, 1), pourJob(cfg, 3, 1)})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	waitHandle(t, h)

	snap := h.Snapshot()
	if snap[1].Outcome != OutcomeFailed || snap[1].Error == "" {
		t.Errorf("pour on failing channel = %+v, want failed with error", snap[1])
	}
	if snap[0].Outcome != OutcomeSucceeded || snap[2].Outcome != OutcomeSucceeded {
		t.Errorf("siblings = %s, %s; want succeeded", snap[0].Outcome, snap[2].Outcome)
	}
	if h.Outcome() != OutcomeFailed {
		t.Errorf("Outcome() = %s, want failed", h.Outcome())
	}

	// The failed channel was returned to stop.
	calls := motor.callsFor(2)
	if calls[len(calls)-1].dir != pump.Stop {
		t.Errorf("last command on failed channel = %s, want stop", calls[len(calls)-1].dir)
	}
}

func TestHandle_Cancel(t *testing.T) {
	cfg := testConfig(1)
	obs := &recordingObserver{}
	exec, motor := newTestExecutor(t, cfg, WithObserver(obs))

	h, err := exec.Execute([]Job{pourJob(cfg, 1, 2), pourJob(cfg, 2, 2), pourJob(cfg, 3, 2)})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if n := h.Cancel(); n != 2 {
		t.Errorf("Cancel() = %d, want 2", n)
	}
	if h.Done() {
		t.Error("handle done while first pour still running")
	}
	waitHandle(t, h)

	snap := h.Snapshot()
	if snap[0].Outcome != OutcomeSucceeded {
		t.Errorf("running pour outcome = %s, want succeeded", snap[0].Outcome)
	}
	for _, st := range snap[1:] {
		if st.Outcome != OutcomeCancelled || st.StartedAt != nil {
			t.Errorf("queued pour = %+v, want cancelled and never started", st)
		}
	}
	if len(motor.callsFor(2)) != 0 {
		t.Error("cancelled pour reached the motor")
	}
	if h.Cancel() != 0 {
		t.Error("second Cancel() changed something")
	}
	eventually(t, "completion notice", func() bool { return obs.completedCount() == 1 })
	time.Sleep(20 * time.Millisecond)
	if obs.completedCount() != 1 {
		t.Errorf("completed notifications = %d, want 1", obs.completedCount())
	}
}

func TestExecutor_SlowObserverDoesNotDelayPumps(t *testing.T) {
	cfg := testConfig(1)
	obs := &slowObserver{delay: 100 * time.Millisecond}
	motor := newMockMotor()
	exec, err := NewExecutor(cfg, motor, WithObserver(obs))
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}

	// Two 100ms pours at cap 1. Each pour produces two notices, so a
	// blocking observer would add at least 400ms.
	start := time.Now()
	h, err := exec.Execute([]Job{pourJob(cfg, 1, 2), pourJob(cfg, 2, 2)})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	waitHandle(t, h)
	if elapsed := time.Since(start); elapsed > 350*time.Millisecond {
		t.Errorf("two serialized 100ms pours took %v with a slow observer, want about 200ms", elapsed)
	}

	first := motor.callsFor(1)
	second := motor.callsFor(2)
	if gap := second[0].at.Sub(first[len(first)-1].at); gap > 50*time.Millisecond {
		t.Errorf("channel 2 started %v after channel 1 stopped, want immediately", gap)
	}

	start = time.Now()
	zero, err := exec.Execute([]Job{pourJob(cfg, 3, 0)})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Errorf("Execute() of a zero-volume batch took %v", elapsed)
	}
	if !zero.Done() {
		t.Error("zero-volume handle not done on return")
	}

	// Close waits for every notice: 2 pours x 2 updates, 2 completions and
	// one zero-volume update.
	if err := exec.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if n := obs.count(); n != 7 {
		t.Errorf("notices delivered by Close = %d, want 7", n)
	}
}

func TestHandle_WaitHonoursContext(t *testing.T) {
	cfg := testConfig(1)
	exec, _ := newTestExecutor(t, cfg)

	h, err := exec.Execute([]Job{pourJob(cfg, 1, 4)})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := h.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want deadline exceeded", err)
	}

	waitHandle(t, h)
	if !h.Done() {
		t.Error("Done() false after Wait returned")
	}
	select {
	case <-h.Finished():
	default:
		t.Error("Finished() channel not closed")
	}
}

func TestHandle_SnapshotIsCopy(t *testing.T) {
	cfg := testConfig(1)
	exec, _ := newTestExecutor(t, cfg)

	h, err := exec.Execute([]Job{pourJob(cfg, 1, 1)})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	snap := h.Snapshot()
	snap[0].Description = "changed"
	if h.Snapshot()[0].Description == "changed" {
		t.Error("Snapshot shares storage with the handle")
	}
	waitHandle(t, h)
}

func TestExecutor_Close(t *testing.T) {
	cfg := testConfig(1)
	motor := newMockMotor()
	exec, err := NewExecutor(cfg, motor)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}

	// 20 oz = 1s; Close must not wait for it.
	h, err := exec.Execute([]Job{pourJob(cfg, 1, 20), pourJob(cfg, 2, 20)})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	if err := exec.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Close() took %v, want running waits interrupted", elapsed)
	}

	if !h.Done() {
		t.Fatal("handle not done after Close")
	}
	for _, st := range h.Snapshot() {
		if st.Outcome != OutcomeCancelled {
			t.Errorf("status = %+v, want cancelled", st)
		}
	}
	if _, _, stopAlls := motor.stats(); stopAlls != 1 {
		t.Errorf("StopAll calls = %d, want 1", stopAlls)
	}

	if _, err := exec.Execute([]Job{pourJob(cfg, 1, 1)}); !errors.Is(err, ErrExecutorClosed) {
		t.Errorf("Execute() after Close error = %v, want ErrExecutorClosed", err)
	}
	if err := exec.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, _, stopAlls := motor.stats(); stopAlls != 1 {
		t.Errorf("StopAll calls after second Close = %d, want 1", stopAlls)
	}
}

func TestJob_Description(t *testing.T) {
	tests := []struct {
		job  Job
		want string
	}{
		{Job{Channel: 1, Ingredient: "Tequila", VolumeOz: 2}, "Tequila: 2 oz (pump 1)"},
		{Job{Channel: 4, Ingredient: "Gin", VolumeOz: 1.5}, "Gin: 1.5 oz (pump 4)"},
		{Job{Channel: 2, Ingredient: "Rum", Run: 10 * time.Second, Direction: pump.Reverse}, "Rum: 10s reverse (pump 2)"},
	}
	for _, tt := range tests {
		if got := tt.job.Description(); got != tt.want {
			t.Errorf("Description() = %q, want %q", got, tt.want)
		}
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		outcomes []Outcome
		want     Outcome
	}{
		{nil, OutcomeSucceeded},
		{[]Outcome{OutcomeSucceeded, OutcomeSucceeded}, OutcomeSucceeded},
		{[]Outcome{OutcomeSucceeded, OutcomeCancelled}, OutcomeCancelled},
		{[]Outcome{OutcomeCancelled, OutcomeFailed}, OutcomeFailed},
	}
	for _, tt := range tests {
		statuses := make([]PourStatus, len(tt.outcomes))
		for i, o := range tt.outcomes {
			statuses[i] = PourStatus{State: StateFinished, Outcome: o}
		}
		if got := Summarize(statuses); got != tt.want {
			t.Errorf("Summarize(%v) = %s, want %s", tt.outcomes, got, tt.want)
		}
	}
}
