package pump

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// Line is one exclusively held output line.
type Line interface {
	SetValue(value int) error
	Close() error
}

// Opener requests an output line by offset, initially low.
type Opener interface {
	Open(offset int) (Line, error)
}

// GPIOOpener requests lines from a Linux GPIO character device.
type GPIOOpener struct {
	// Chip is the character device name, e.g. "gpiochip0".
	Chip string

	// Consumer labels the requested lines in the kernel.
	Consumer string
}

// Open requests offset as an output driven low.
func (o GPIOOpener) Open(offset int) (Line, error) {
	l, err := gpiocdev.RequestLine(o.Chip, offset,
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer(o.Consumer),
	)
	if err != nil {
		return nil, fmt.Errorf("requesting %s line %d: %w", o.Chip, offset, err)
	}
	return l, nil
}

// SimOpener hands out in-memory lines. It is used in dry-run mode and tests.
// Every value written is recorded per offset.
type SimOpener struct {
	mu    sync.Mutex
	lines map[int]*SimLine
}

// NewSimOpener creates an empty simulated line source.
func NewSimOpener() *SimOpener {
	return &SimOpener{lines: make(map[int]*SimLine)}
}

// Open returns a simulated line for offset, initially low.
func (o *SimOpener) Open(offset int) (Line, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	l := &SimLine{offset: offset, history: []int{0}}
	o.lines[offset] = l
	return l, nil
}

// Line returns the simulated line for offset, or nil if never opened.
func (o *SimOpener) Line(offset int) *SimLine {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lines[offset]
}

// SimLine records the values written to it.
type SimLine struct {
	mu      sync.Mutex
	offset  int
	history []int
	closed  bool
}

// SetValue records value.
func (l *SimLine) SetValue(value int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("line %d: %w", l.offset, ErrRegistryClosed)
	}
	l.history = append(l.history, value)
	return nil
}

// Close marks the line released.
func (l *SimLine) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Value returns the last value written.
func (l *SimLine) Value() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.history[len(l.history)-1]
}

// History returns a copy of every value written, starting with the initial low.
func (l *SimLine) History() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.history...)
}

// Closed reports whether Close was called.
func (l *SimLine) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
