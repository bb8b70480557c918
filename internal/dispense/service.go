package dispense

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pourwell/pourwell-core/internal/pump"
	"github.com/pourwell/pourwell-core/internal/recipe"
)

// PumpConfigSource supplies the pump bindings in effect for a dispense.
// It is satisfied by *recipe.PumpConfigStore.
type PumpConfigSource interface {
	Current() recipe.PumpConfig
}

// RecipeSource looks up stored recipes by name.
// It is satisfied by *recipe.Store.
type RecipeSource interface {
	Lookup(name string) (recipe.Recipe, error)
}

// Service dispenses recipes and runs maintenance through one Executor.
//
// Thread Safety: all methods are safe for concurrent use.
type Service struct {
	cfg     Config
	exec    *Executor
	pumps   PumpConfigSource
	recipes RecipeSource
	repo    Repository
	events  *events
	logger  Logger

	mu     sync.Mutex
	active map[string]*activeDispense
}

type activeDispense struct {
	handle *Handle
	kind   Kind
	recipe string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRepository records dispense history.
func WithRepository(r Repository) Option {
	return func(s *Service) { s.repo = r }
}

// WithRecipes enables dispensing by recipe name.
func WithRecipes(r RecipeSource) Option {
	return func(s *Service) { s.recipes = r }
}

// WithMQTT publishes pour progress to the broker.
func WithMQTT(c MQTTClient) Option {
	return func(s *Service) { s.events.mqtt = c }
}

// WithHub broadcasts pour progress to WebSocket clients.
func WithHub(h WSHub) Option {
	return func(s *Service) { s.events.hub = h }
}

// WithTelemetry writes one point per finished pour.
func WithTelemetry(t Telemetry) Option {
	return func(s *Service) { s.events.telemetry = t }
}

// NewService creates a Service and its Executor.
//
// Parameters:
//   - cfg: Pour tunables
//   - motor: Motor driver (usually *pump.Driver)
//   - pumps: Source of the current pump bindings
//   - opts: Optional collaborators (logger, repository, publishers)
func NewService(cfg Config, motor Motor, pumps PumpConfigSource, opts ...Option) (*Service, error) {
	if pumps == nil {
		return nil, fmt.Errorf("%w: pump config source is required", ErrInvalidConfig)
	}

	s := &Service{
		cfg:    cfg,
		pumps:  pumps,
		logger: noopLogger{},
		active: make(map[string]*activeDispense),
	}
	s.events = &events{service: s}
	for _, opt := range opts {
		opt(s)
	}

	exec, err := NewExecutor(cfg, motor, WithExecutorLogger(s.logger), WithObserver(s.events))
	if err != nil {
		return nil, err
	}
	s.exec = exec
	return s, nil
}

// Config returns the service tunables.
func (s *Service) Config() Config {
	return s.cfg
}

// Executor returns the underlying executor.
func (s *Service) Executor() *Executor {
	return s.exec
}

// Dispense resolves r at the given serving size against the current pump
// bindings and starts the pours. It returns at once with a handle and the
// ingredients to add by hand. If nothing is pump-servable the handle is
// already done.
func (s *Service) Dispense(ctx context.Context, r recipe.Recipe, serving recipe.Serving) (*Handle, []recipe.ManualIngredient, error) {
	r = r.Clone()

	pours, manual, err := recipe.Resolve(r, serving, s.pumps.Current())
	if err != nil {
		return nil, nil, err
	}

	jobs := make([]Job, len(pours))
	for i, p := range pours {
		jobs[i] = Job{
			Channel:    p.Channel,
			Ingredient: p.Ingredient,
			VolumeOz:   p.VolumeOz,
			Run:        s.cfg.RunTime(p.VolumeOz),
			Retraction: s.cfg.Retraction(),
			Direction:  pump.Forward,
		}
	}

	rec := &Record{
		Kind:    KindCocktail,
		Recipe:  r.NormalName,
		Serving: string(serving),
		Manual:  manual,
	}
	h, err := s.submit(ctx, rec, jobs)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("dispense started",
		"dispense_id", h.ID(),
		"recipe", r.NormalName,
		"serving", serving,
		"pours", len(jobs),
		"manual", len(manual),
	)
	return h, manual, nil
}

// DispenseByName looks up a stored recipe and dispenses it.
func (s *Service) DispenseByName(ctx context.Context, name string, serving recipe.Serving) (*Handle, []recipe.ManualIngredient, error) {
	if s.recipes == nil {
		return nil, nil, fmt.Errorf("%q: %w", name, recipe.ErrRecipeNotFound)
	}
	r, err := s.recipes.Lookup(name)
	if err != nil {
		return nil, nil, err
	}
	return s.Dispense(ctx, r, serving)
}

// Prime runs every bound pump forward for d and waits for all of them.
func (s *Service) Prime(ctx context.Context, d time.Duration) error {
	return s.bulk(ctx, KindPrime, pump.Forward, d)
}

// Clean runs every bound pump in reverse for d and waits for all of them.
func (s *Service) Clean(ctx context.Context, d time.Duration) error {
	return s.bulk(ctx, KindClean, pump.Reverse, d)
}

// bulk runs one job per bound channel with no retraction. If ctx ends
// first, pumps not yet started are cancelled and ctx's error returned;
// running pumps finish their time.
func (s *Service) bulk(ctx context.Context, kind Kind, dir pump.Direction, d time.Duration) error {
	cfg := s.pumps.Current()
	channels := cfg.Channels()
	if len(channels) == 0 {
		return ErrNothingToPour
	}

	jobs := make([]Job, len(channels))
	for i, ch := range channels {
		jobs[i] = Job{
			Channel:    ch,
			Ingredient: cfg.Ingredient(ch),
			Run:        d,
			Direction:  dir,
		}
	}

	s.logger.Info("bulk operation started", "kind", kind, "channels", len(jobs), "duration", d)

	h, err := s.submit(ctx, &Record{Kind: kind}, jobs)
	if err != nil {
		return err
	}
	return s.await(ctx, h)
}

// Pour runs one channel: volumeOz of liquid when positive, otherwise
// forward for d. Retraction applies as for a recipe pour.
func (s *Service) Pour(ctx context.Context, channel int, volumeOz float64, d time.Duration) (*Handle, error) {
	ing := s.pumps.Current().Ingredient(channel)
	job := Job{
		Channel:    channel,
		Ingredient: ing,
		Retraction: s.cfg.Retraction(),
		Direction:  pump.Forward,
	}
	if volumeOz > 0 {
		job.VolumeOz = volumeOz
		job.Run = s.cfg.RunTime(volumeOz)
	} else {
		job.Run = d
	}
	if job.Run <= 0 {
		job.Retraction = 0
	}
	return s.submit(ctx, &Record{Kind: KindPour, Recipe: ing}, []Job{job})
}

// await waits for h and folds failed pours into one error.
func (s *Service) await(ctx context.Context, h *Handle) error {
	if err := h.Wait(ctx); err != nil {
		h.Cancel()
		return err
	}

	var errs []error
	for _, st := range h.Snapshot() {
		if st.Outcome == OutcomeFailed {
			errs = append(errs, fmt.Errorf("%w: %s: %s", ErrPourFailed, st.Description, st.Error))
		}
	}
	return errors.Join(errs...)
}

// submit records the dispense, registers it as active and hands the jobs
// to the executor.
func (s *Service) submit(ctx context.Context, rec *Record, jobs []Job) (*Handle, error) {
	rec.ID = GenerateID()
	rec.Status = StatusRunning
	rec.CreatedAt = time.Now().UTC()
	rec.Pours = make([]PourStatus, len(jobs))
	for i, j := range jobs {
		rec.Pours[i] = newStatus(j)
	}

	if s.repo != nil {
		if err := s.repo.CreateDispense(ctx, rec); err != nil {
			// History is secondary to pouring the drink.
			s.logger.Error("failed to record dispense", "dispense_id", rec.ID, "error", err)
		}
	}

	s.mu.Lock()
	s.active[rec.ID] = &activeDispense{kind: rec.Kind, recipe: rec.Recipe}
	s.mu.Unlock()

	h, err := s.exec.ExecuteWithID(rec.ID, jobs)
	if err != nil {
		s.mu.Lock()
		delete(s.active, rec.ID)
		s.mu.Unlock()
		return nil, err
	}

	s.mu.Lock()
	if a, ok := s.active[rec.ID]; ok {
		a.handle = h
	}
	s.mu.Unlock()
	return h, nil
}

// Lookup returns an in-flight dispense by ID. Finished dispenses are only
// available from the repository.
func (s *Service) Lookup(id string) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.active[id]
	if !ok || a.handle == nil {
		return nil, false
	}
	return a.handle, true
}

// ActiveSummary describes one in-flight dispense.
type ActiveSummary struct {
	ID     string       `json:"id"`
	Kind   Kind         `json:"kind"`
	Recipe string       `json:"recipe,omitempty"`
	Pours  []PourStatus `json:"pours"`
}

// Active lists in-flight dispenses ordered by ID.
func (s *Service) Active() []ActiveSummary {
	s.mu.Lock()
	out := make([]ActiveSummary, 0, len(s.active))
	for id, a := range s.active {
		if a.handle == nil {
			continue
		}
		out = append(out, ActiveSummary{ID: id, Kind: a.kind, Recipe: a.recipe, Pours: a.handle.Snapshot()})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CancelAll cancels the queued pours of every in-flight dispense.
func (s *Service) CancelAll() int {
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.active))
	for _, a := range s.active {
		if a.handle != nil {
			handles = append(handles, a.handle)
		}
	}
	s.mu.Unlock()

	n := 0
	for _, h := range handles {
		n += h.Cancel()
	}
	return n
}

// History returns a recorded dispense, live or finished.
func (s *Service) History(ctx context.Context, id string) (*Record, error) {
	if s.repo == nil {
		return nil, ErrDispenseNotFound
	}
	return s.repo.GetDispense(ctx, id)
}

// RecentHistory lists recorded dispenses, newest first.
func (s *Service) RecentHistory(ctx context.Context, limit int) ([]Record, error) {
	if s.repo == nil {
		return []Record{}, nil
	}
	return s.repo.ListDispenses(ctx, limit)
}

// Close shuts the executor down and stops every pump.
func (s *Service) Close() error {
	return s.exec.Close()
}

func (s *Service) forget(id string) (*activeDispense, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.active[id]
	delete(s.active, id)
	return a, ok
}
