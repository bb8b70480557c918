package pump

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

type linePair struct {
	a Line
	b Line
}

// Registry maps channel numbers to their exclusively held line pairs.
//
// Lines are requested once in NewRegistry and released once in Close,
// no matter how many times Close is called.
type Registry struct {
	channels []Channel
	lines    map[int]linePair

	closeOnce sync.Once
	closeErr  error
	mu        sync.RWMutex
	closed    bool

	logger Logger
}

// NewRegistry requests both control lines for every channel.
//
// If any request fails, lines already acquired are released and the error
// is returned; the dispenser must not start with a partial pump bank.
func NewRegistry(channels []Channel, opener Opener, logger Logger) (*Registry, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	sorted := append([]Channel(nil), channels...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })

	r := &Registry{
		channels: sorted,
		lines:    make(map[int]linePair, len(sorted)),
		logger:   logger,
	}

	claimed := make(map[int]int, len(sorted)*2)
	for _, ch := range sorted {
		if _, dup := r.lines[ch.Number]; dup {
			r.release()
			return nil, fmt.Errorf("channel %d configured twice: %w", ch.Number, ErrDuplicateLine)
		}
		for _, offset := range []int{ch.Pins.A, ch.Pins.B} {
			if owner, taken := claimed[offset]; taken {
				r.release()
				return nil, fmt.Errorf("line %d for channel %d held by channel %d: %w", offset, ch.Number, owner, ErrDuplicateLine)
			}
			claimed[offset] = ch.Number
		}

		a, err := opener.Open(ch.Pins.A)
		if err != nil {
			r.release()
			return nil, fmt.Errorf("acquiring %s: %w", ch, err)
		}
		b, err := opener.Open(ch.Pins.B)
		if err != nil {
			a.Close() //nolint:errcheck // Best effort cleanup on error path
			r.release()
			return nil, fmt.Errorf("acquiring %s: %w", ch, err)
		}
		r.lines[ch.Number] = linePair{a: a, b: b}
	}

	logger.Info("pump lines acquired", "channels", len(sorted))
	return r, nil
}

// Channels returns the configured channels in ascending order.
func (r *Registry) Channels() []Channel {
	return append([]Channel(nil), r.channels...)
}

// Has reports whether channel is configured.
func (r *Registry) Has(channel int) bool {
	_, ok := r.lines[channel]
	return ok
}

// pair returns the lines for channel.
func (r *Registry) pair(channel int) (linePair, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return linePair{}, ErrRegistryClosed
	}
	p, ok := r.lines[channel]
	if !ok {
		return linePair{}, fmt.Errorf("channel %d: %w", channel, ErrUnknownChannel)
	}
	return p, nil
}

// Close releases every line. Safe to call more than once; only the first
// call does any work and later calls return its result.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.release()
		if r.closeErr != nil {
			r.logger.Error("releasing pump lines", "error", r.closeErr)
			return
		}
		r.logger.Info("pump lines released")
	})
	return r.closeErr
}

func (r *Registry) release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true

	var errs []error
	for n, p := range r.lines {
		if err := p.a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("channel %d line A: %w", n, err))
		}
		if err := p.b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("channel %d line B: %w", n, err))
		}
	}
	return errors.Join(errs...)
}
