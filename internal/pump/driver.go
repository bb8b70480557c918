package pump

import (
	"errors"
	"fmt"
	"sync"
)

// Driver commands pump channels through a Registry.
//
// Calls for the same channel are serialized; different channels proceed
// independently. Safe for concurrent use.
type Driver struct {
	registry *Registry
	invert   bool
	dryRun   bool
	logger   Logger

	locks map[int]*sync.Mutex

	stateMu sync.RWMutex
	state   map[int]Direction
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithInvertedPins swaps forward and reverse to correct wiring polarity.
func WithInvertedPins(invert bool) DriverOption {
	return func(d *Driver) { d.invert = invert }
}

// WithDryRun validates channels and logs commands without writing to lines.
func WithDryRun(dryRun bool) DriverOption {
	return func(d *Driver) { d.dryRun = dryRun }
}

// WithLogger sets the driver's logger.
func WithLogger(logger Logger) DriverOption {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDriver creates a Driver for every channel in registry.
func NewDriver(registry *Registry, opts ...DriverOption) *Driver {
	d := &Driver{
		registry: registry,
		logger:   noopLogger{},
		locks:    make(map[int]*sync.Mutex),
		state:    make(map[int]Direction),
	}
	for _, opt := range opts {
		opt(d)
	}
	for _, ch := range registry.Channels() {
		d.locks[ch.Number] = &sync.Mutex{}
		d.state[ch.Number] = Stop
	}
	return d
}

// DryRun reports whether the driver skips line writes.
func (d *Driver) DryRun() bool {
	return d.dryRun
}

// Drive sets channel to dir.
//
// Both lines are pulled low before a new direction is applied, so the
// H-bridge never sees both inputs high. If the forward or reverse write
// fails, the channel is returned to stop on a best-effort basis.
func (d *Driver) Drive(channel int, dir Direction) error {
	if !dir.Valid() {
		return fmt.Errorf("%q: %w", dir, ErrInvalidDirection)
	}

	lock, ok := d.locks[channel]
	if !ok {
		return fmt.Errorf("channel %d: %w", channel, ErrUnknownChannel)
	}
	lock.Lock()
	defer lock.Unlock()

	if d.dryRun {
		d.logger.Debug("dry-run pump command", "channel", channel, "direction", dir)
		d.setState(channel, dir)
		return nil
	}

	p, err := d.registry.pair(channel)
	if err != nil {
		return err
	}

	if err := stopPair(p); err != nil {
		return fmt.Errorf("stopping channel %d: %w", channel, err)
	}
	d.setState(channel, Stop)
	if dir == Stop {
		return nil
	}

	a, b := d.levels(dir)
	if err := setPair(p, a, b); err != nil {
		stopPair(p) //nolint:errcheck // Best effort; the original error is reported
		return fmt.Errorf("driving channel %d %s: %w", channel, dir, err)
	}
	d.setState(channel, dir)
	return nil
}

// StopAll commands every channel to stop. A failure on one channel does
// not prevent the others from being stopped; all failures are joined.
func (d *Driver) StopAll() error {
	var errs []error
	for _, ch := range d.registry.Channels() {
		if err := d.Drive(ch.Number, Stop); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		d.logger.Error("stopping all pumps", "error", err)
		return err
	}
	d.logger.Debug("all pumps stopped")
	return nil
}

// State returns the last direction successfully applied to channel.
func (d *Driver) State(channel int) (Direction, error) {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	dir, ok := d.state[channel]
	if !ok {
		return "", fmt.Errorf("channel %d: %w", channel, ErrUnknownChannel)
	}
	return dir, nil
}

// levels returns the A/B values for a running direction.
func (d *Driver) levels(dir Direction) (a, b int) {
	forward := dir == Forward
	if d.invert {
		forward = !forward
	}
	if forward {
		return 1, 0
	}
	return 0, 1
}

func (d *Driver) setState(channel int, dir Direction) {
	d.stateMu.Lock()
	d.state[channel] = dir
	d.stateMu.Unlock()
}

func stopPair(p linePair) error {
	return errors.Join(p.a.SetValue(0), p.b.SetValue(0))
}

// setPair raises the high line after the low one is confirmed low.
func setPair(p linePair, a, b int) error {
	if a == 1 {
		if err := p.b.SetValue(b); err != nil {
			return err
		}
		return p.a.SetValue(a)
	}
	if err := p.a.SetValue(a); err != nil {
		return err
	}
	return p.b.SetValue(b)
}
