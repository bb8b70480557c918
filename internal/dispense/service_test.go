package dispense

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/pourwell/pourwell-core/internal/pump"
	"github.com/pourwell/pourwell-core/internal/recipe"
)

func margarita() recipe.Recipe {
	return recipe.Recipe{
		NormalName: "Margarita",
		FunName:    "Salt Life",
		Ingredients: recipe.Ingredients{
			{Name: "Tequila", Amount: "2 oz"},
			{Name: "Triple Sec", Amount: "1 oz"},
			{Name: "Lime Juice", Amount: "1 oz"},
		},
	}
}

func barPumps(t *testing.T, bindings map[int]string) staticPumps {
	t.Helper()
	cfg, err := recipe.NewPumpConfig(bindings)
	if err != nil {
		t.Fatalf("NewPumpConfig() error = %v", err)
	}
	return staticPumps{cfg: cfg}
}

func newTestService(t *testing.T, cfg Config, pumps PumpConfigSource, opts ...Option) (*Service, *mockMotor) {
	t.Helper()
	motor := newMockMotor()
	svc, err := NewService(cfg, motor, pumps, opts...)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	t.Cleanup(func() { svc.Close() }) //nolint:errcheck // Test cleanup
	return svc, motor
}

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	eventuallyWithin(t, time.Second, what, cond)
}

func eventuallyWithin(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type recipeMap map[string]recipe.Recipe

func (m recipeMap) Lookup(name string) (recipe.Recipe, error) {
	r, ok := m[recipe.NormalizeName(name)]
	if !ok {
		return recipe.Recipe{}, fmt.Errorf("%q: %w", name, recipe.ErrRecipeNotFound)
	}
	return r, nil
}

func TestService_DispenseMargarita(t *testing.T) {
	tests := []struct {
		serving    recipe.Serving
		tequila    float64
		tripleSec  float64
		limeAmount string
	}{
		{serving: recipe.Single, tequila: 2, tripleSec: 1, limeAmount: "1 oz"},
		{serving: recipe.Double, tequila: 4, tripleSec: 2, limeAmount: "2 oz"},
	}

	for _, tt := range tests {
		t.Run(string(tt.serving), func(t *testing.T) {
			pumps := barPumps(t, map[int]string{1: "Tequila", 2: "Triple Sec"})
			svc, motor := newTestService(t, testConfig(5), pumps)

			h, manual, err := svc.Dispense(context.Background(), margarita(), tt.serving)
			if err != nil {
				t.Fatalf("Dispense() error = %v", err)
			}
			if len(manual) != 1 || manual[0].Name != "Lime Juice" || manual[0].Amount != tt.limeAmount {
				t.Errorf("manual = %+v, want Lime Juice %s", manual, tt.limeAmount)
			}
			waitHandle(t, h)

			snap := h.Snapshot()
			if len(snap) != 2 {
				t.Fatalf("len(Snapshot()) = %d, want 2", len(snap))
			}
			if snap[0].Channel != 1 || snap[0].VolumeOz != tt.tequila {
				t.Errorf("first pour = %+v, want %v oz on pump 1", snap[0], tt.tequila)
			}
			if snap[1].Channel != 2 || snap[1].VolumeOz != tt.tripleSec {
				t.Errorf("second pour = %+v, want %v oz on pump 2", snap[1], tt.tripleSec)
			}
			if want := tt.tequila * testSecondsPerOz; snap[0].RunSeconds != want {
				t.Errorf("RunSeconds = %v, want %v", snap[0].RunSeconds, want)
			}
			if h.Outcome() != OutcomeSucceeded {
				t.Errorf("Outcome() = %s, want succeeded", h.Outcome())
			}
			if len(motor.callsFor(3)) != 0 {
				t.Error("unbound pump was driven")
			}
		})
	}
}

func TestService_DispenseNothingPumpServable(t *testing.T) {
	svc, _ := newTestService(t, testConfig(5), barPumps(t, nil))

	h, manual, err := svc.Dispense(context.Background(), margarita(), recipe.Single)
	if err != nil {
		t.Fatalf("Dispense() error = %v", err)
	}
	if !h.Done() || h.Len() != 0 {
		t.Error("handle should be done and empty")
	}
	if len(manual) != 3 {
		t.Errorf("len(manual) = %d, want 3", len(manual))
	}
	eventually(t, "active dispense to clear", func() bool { return len(svc.Active()) == 0 })
}

func TestService_DispenseErrors(t *testing.T) {
	pumps := barPumps(t, map[int]string{1: "Tequila", 2: "Triple Sec"})
	svc, _ := newTestService(t, testConfig(5), pumps)
	ctx := context.Background()

	if _, _, err := svc.Dispense(ctx, margarita(), "triple"); !errors.Is(err, recipe.ErrInvalidServing) {
		t.Errorf("Dispense(triple) error = %v, want ErrInvalidServing", err)
	}

	collide := margarita()
	collide.Ingredients = append(collide.Ingredients, recipe.Ingredient{Name: " tequila ", Amount: "1 oz"})
	if _, _, err := svc.Dispense(ctx, collide, recipe.Single); !errors.Is(err, recipe.ErrChannelCollision) {
		t.Errorf("Dispense(collision) error = %v, want ErrChannelCollision", err)
	}

	if _, _, err := svc.DispenseByName(ctx, "Margarita", recipe.Single); !errors.Is(err, recipe.ErrRecipeNotFound) {
		t.Errorf("DispenseByName() without store error = %v, want ErrRecipeNotFound", err)
	}
}

func TestService_DispenseByName(t *testing.T) {
	pumps := barPumps(t, map[int]string{1: "Tequila", 2: "Triple Sec"})
	svc, _ := newTestService(t, testConfig(5), pumps,
		WithRecipes(recipeMap{"margarita": margarita()}))

	h, _, err := svc.DispenseByName(context.Background(), "MARGARITA", recipe.Single)
	if err != nil {
		t.Fatalf("DispenseByName() error = %v", err)
	}
	if h.Len() != 2 {
		t.Errorf("Len() = %d, want 2", h.Len())
	}
	waitHandle(t, h)
}

func TestService_PrimeBatches(t *testing.T) {
	pumps := barPumps(t, map[int]string{1: "Gin", 2: "Rum", 3: "Vodka", 4: "Tequila", 5: ""})
	svc, motor := newTestService(t, testConfig(2), pumps)

	start := time.Now()
	if err := svc.Prime(context.Background(), 100*time.Millisecond); err != nil {
		t.Fatalf("Prime() error = %v", err)
	}
	elapsed := time.Since(start)

	// Four channels at cap 2: two batches.
	if elapsed < 200*time.Millisecond || elapsed > 600*time.Millisecond {
		t.Errorf("Prime() took %v, want about 200ms", elapsed)
	}
	for ch := 1; ch <= 4; ch++ {
		calls := motor.callsFor(ch)
		if len(calls) != 2 || calls[0].dir != pump.Forward || calls[1].dir != pump.Stop {
			t.Errorf("channel %d calls = %+v, want forward then stop", ch, calls)
		}
	}
	if len(motor.callsFor(5)) != 0 {
		t.Error("unbound channel 5 was primed")
	}
	if maxRunning, _, _ := motor.stats(); maxRunning > 2 {
		t.Errorf("%d pumps ran at once, cap is 2", maxRunning)
	}
}

func TestService_CleanRunsReverse(t *testing.T) {
	cfg := testConfig(5)
	cfg.RetractionSeconds = 0.05
	svc, motor := newTestService(t, cfg, barPumps(t, map[int]string{1: "Gin", 2: "Rum"}))

	if err := svc.Clean(context.Background(), 50*time.Millisecond); err != nil {
		t.Fatalf("Clean() error = %v", err)
	}
	for ch := 1; ch <= 2; ch++ {
		calls := motor.callsFor(ch)
		// No retraction for bulk operations.
		if len(calls) != 2 || calls[0].dir != pump.Reverse || calls[1].dir != pump.Stop {
			t.Errorf("channel %d calls = %+v, want reverse then stop", ch, calls)
		}
	}
}

func TestService_BulkErrors(t *testing.T) {
	t.Run("nothing bound", func(t *testing.T) {
		svc, _ := newTestService(t, testConfig(2), barPumps(t, nil))
		if err := svc.Prime(context.Background(), time.Millisecond); !errors.Is(err, ErrNothingToPour) {
			t.Errorf("Prime() error = %v, want ErrNothingToPour", err)
		}
	})

	t.Run("failed pour", func(t *testing.T) {
		svc, motor := newTestService(t, testConfig(2), barPumps(t, map[int]string{1: "Gin", 2: "Rum"}))
		motor.fail(2)

		err := svc.Prime(context.Background(), 20*time.Millisecond)
		if !errors.Is(err, ErrPourFailed) {
			t.Fatalf("Prime() error = %v, want ErrPourFailed", err)
		}
		if calls := motor.callsFor(1); len(calls) != 2 {
			t.Errorf("healthy channel calls = %+v, want a full prime", calls)
		}
	})

	t.Run("context ends", func(t *testing.T) {
		svc, motor := newTestService(t, testConfig(1), barPumps(t, map[int]string{1: "Gin", 2: "Rum"}))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		if err := svc.Clean(ctx, 200*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Clean() error = %v, want deadline exceeded", err)
		}
		if len(motor.callsFor(2)) != 0 {
			t.Error("queued channel ran after the context ended")
		}
	})
}

func TestService_Pour(t *testing.T) {
	cfg := testConfig(5)
	cfg.RetractionSeconds = 0.02
	svc, motor := newTestService(t, cfg, barPumps(t, map[int]string{1: "Gin"}))

	h, err := svc.Pour(context.Background(), 1, 1, 0)
	if err != nil {
		t.Fatalf("Pour() error = %v", err)
	}
	waitHandle(t, h)

	st := h.Snapshot()[0]
	if st.Ingredient != "Gin" || st.VolumeOz != 1 || st.RunSeconds != testSecondsPerOz {
		t.Errorf("status = %+v", st)
	}
	dirs := []pump.Direction{}
	for _, c := range motor.callsFor(1) {
		dirs = append(dirs, c.dir)
	}
	if !slices.Equal(dirs, []pump.Direction{pump.Forward, pump.Reverse, pump.Stop}) {
		t.Errorf("directions = %v, want forward reverse stop", dirs)
	}

	h, err = svc.Pour(context.Background(), 2, 0, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("Pour() by time error = %v", err)
	}
	waitHandle(t, h)
	if st := h.Snapshot()[0]; st.RunSeconds != 0.03 || st.Outcome != OutcomeSucceeded {
		t.Errorf("timed pour status = %+v", st)
	}
}

func TestService_EventsAndHistory(t *testing.T) {
	hub := &mockHub{}
	broker := &mockMQTT{}
	telemetry := &mockTelemetry{}
	repo := NewSQLiteRepository(testDB(t).DB)

	pumps := barPumps(t, map[int]string{1: "Tequila", 2: "Triple Sec"})
	svc, _ := newTestService(t, testConfig(5), pumps,
		WithRepository(repo), WithHub(hub), WithMQTT(broker), WithTelemetry(telemetry))

	ctx := context.Background()
	h, _, err := svc.Dispense(ctx, margarita(), recipe.Single)
	if err != nil {
		t.Fatalf("Dispense() error = %v", err)
	}
	if got, ok := svc.Lookup(h.ID()); !ok || got != h {
		t.Error("Lookup() did not find the running dispense")
	}
	waitHandle(t, h)

	// Running and finished for each of two pours, then completion.
	eventually(t, "events", func() bool {
		return hub.count(EventDispenseCompleted) == 1 &&
			hub.count(EventPourUpdated) == 4 &&
			telemetry.count() == 2
	})

	if !slices.Contains(broker.published(), "pourwell/dispense/"+h.ID()+"/completed") {
		t.Errorf("published topics = %v, want completion topic", broker.published())
	}
	if _, ok := svc.Lookup(h.ID()); ok {
		t.Error("finished dispense still active")
	}

	rec, err := svc.History(ctx, h.ID())
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if rec.Status != StatusSucceeded || rec.CompletedAt == nil {
		t.Errorf("history status = %s completed = %v", rec.Status, rec.CompletedAt)
	}
	for i, p := range rec.Pours {
		if p.Outcome != OutcomeSucceeded || p.StartedAt == nil || p.FinishedAt == nil {
			t.Errorf("recorded pour %d = %+v", i, p)
		}
	}
	if len(rec.Manual) != 1 || rec.Manual[0].Name != "Lime Juice" {
		t.Errorf("recorded manual = %+v", rec.Manual)
	}

	recent, err := svc.RecentHistory(ctx, 10)
	if err != nil {
		t.Fatalf("RecentHistory() error = %v", err)
	}
	if len(recent) != 1 || recent[0].ID != h.ID() {
		t.Errorf("RecentHistory() = %v", ids(recent))
	}
}

func TestService_SlowBrokerDoesNotDelayPours(t *testing.T) {
	broker := &mockMQTT{delay: 200 * time.Millisecond}
	pumps := barPumps(t, map[int]string{1: "Tequila", 2: "Triple Sec"})
	svc, motor := newTestService(t, testConfig(1), pumps, WithMQTT(broker))

	// 2 oz + 1 oz at 50ms/oz, one at a time.
	start := time.Now()
	h, _, err := svc.Dispense(context.Background(), margarita(), recipe.Single)
	if err != nil {
		t.Fatalf("Dispense() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Dispense() returned after %v", elapsed)
	}
	waitHandle(t, h)
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Errorf("dispense took %v behind a slow broker, want about 150ms", elapsed)
	}

	if calls := motor.callsFor(1); calls[0].at.Sub(start) > 50*time.Millisecond {
		t.Errorf("pump 1 started %v after Dispense", calls[0].at.Sub(start))
	}
	// Five notices at 200ms each reach the broker after the pours.
	eventuallyWithin(t, 3*time.Second, "completion to publish", func() bool {
		return slices.Contains(broker.published(), "pourwell/dispense/"+h.ID()+"/completed")
	})
}

func TestService_CancelAll(t *testing.T) {
	svc, _ := newTestService(t, testConfig(1), barPumps(t, map[int]string{1: "Tequila", 2: "Triple Sec"}))

	h, _, err := svc.Dispense(context.Background(), margarita(), recipe.Double)
	if err != nil {
		t.Fatalf("Dispense() error = %v", err)
	}
	if active := svc.Active(); len(active) != 1 || active[0].Recipe != "Margarita" {
		t.Errorf("Active() = %+v", active)
	}
	if n := svc.CancelAll(); n != 1 {
		t.Errorf("CancelAll() = %d, want 1", n)
	}
	waitHandle(t, h)
	if h.Outcome() != OutcomeCancelled {
		t.Errorf("Outcome() = %s, want cancelled", h.Outcome())
	}
}

func TestService_HandleCommand(t *testing.T) {
	pumps := barPumps(t, map[int]string{1: "Tequila", 2: "Triple Sec"})
	cfg := testConfig(5)
	cfg.PrimeTime = 20 * time.Millisecond
	svc, motor := newTestService(t, cfg, pumps, WithRecipes(recipeMap{"margarita": margarita()}))
	ctx := context.Background()

	tests := []struct {
		name    string
		action  string
		payload string
		wantErr error
	}{
		{name: "dispense", action: CommandDispense, payload: `{"recipe":"margarita","serving":"double"}`},
		{name: "dispense unknown recipe", action: CommandDispense, payload: `{"recipe":"mojito"}`, wantErr: recipe.ErrRecipeNotFound},
		{name: "dispense bad serving", action: CommandDispense, payload: `{"recipe":"margarita","serving":"huge"}`, wantErr: recipe.ErrInvalidServing},
		{name: "pour by oz", action: CommandPour, payload: `{"channel":2,"oz":0.5}`},
		{name: "pour without channel", action: CommandPour, payload: `{"oz":1}`, wantErr: ErrInvalidCommand},
		{name: "pour without amount", action: CommandPour, payload: `{"channel":1}`, wantErr: ErrInvalidCommand},
		{name: "prime with default time", action: CommandPrime},
		{name: "clean without time", action: CommandClean, wantErr: ErrInvalidCommand},
		{name: "stop", action: CommandStop},
		{name: "malformed payload", action: CommandPour, payload: `{"channel":`, wantErr: ErrInvalidCommand},
		{name: "unknown action", action: "shake", wantErr: ErrInvalidCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.HandleCommand(ctx, tt.action, []byte(tt.payload))
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("HandleCommand() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("HandleCommand() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	eventually(t, "commands to finish", func() bool {
		return len(svc.Active()) == 0 && svc.Executor().Running() == 0
	})
	if len(motor.callsFor(2)) == 0 {
		t.Error("channel 2 never driven")
	}
}
