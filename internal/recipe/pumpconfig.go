package recipe

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// MaxChannels is the highest pump number accepted in a pump configuration.
const MaxChannels = 12

// PumpConfig binds pump channels to the ingredient in their reservoir.
// An empty ingredient means the channel is unbound.
//
// The zero value is an empty configuration. PumpConfig values are not
// mutated after construction; use With to derive a changed copy.
type PumpConfig struct {
	bindings map[int]string
}

// NewPumpConfig builds a configuration from channel -> ingredient pairs.
func NewPumpConfig(bindings map[int]string) (PumpConfig, error) {
	out := make(map[int]string, len(bindings))
	for ch, ing := range bindings {
		if ch < 1 || ch > MaxChannels {
			return PumpConfig{}, fmt.Errorf("%w: channel %d out of range 1..%d", ErrInvalidPumpLabel, ch, MaxChannels)
		}
		out[ch] = strings.TrimSpace(ing)
	}
	return PumpConfig{bindings: out}, nil
}

// Ingredient returns the ingredient bound to channel ("" if unbound).
func (c PumpConfig) Ingredient(channel int) string {
	return c.bindings[channel]
}

// Bindings returns a copy of every channel -> ingredient pair.
func (c PumpConfig) Bindings() map[int]string {
	out := make(map[int]string, len(c.bindings))
	for ch, ing := range c.bindings {
		out[ch] = ing
	}
	return out
}

// Channels returns the channels with a non-empty ingredient, ascending.
func (c PumpConfig) Channels() []int {
	var out []int
	for ch, ing := range c.bindings {
		if ing != "" {
			out = append(out, ch)
		}
	}
	sort.Ints(out)
	return out
}

// ChannelFor finds the channel holding ingredient. Matching ignores case
// and surrounding whitespace. If several channels hold the same
// ingredient the lowest channel number wins.
func (c PumpConfig) ChannelFor(ingredient string) (int, bool) {
	want := NormalizeName(ingredient)
	if want == "" {
		return 0, false
	}
	for _, ch := range c.Channels() {
		if NormalizeName(c.bindings[ch]) == want {
			return ch, true
		}
	}
	return 0, false
}

// With returns a copy with channel bound to ingredient.
func (c PumpConfig) With(channel int, ingredient string) (PumpConfig, error) {
	b := c.Bindings()
	b[channel] = ingredient
	return NewPumpConfig(b)
}

// MarshalJSON writes {"Pump 1": "vodka", ...} in channel order.
func (c PumpConfig) MarshalJSON() ([]byte, error) {
	channels := make([]int, 0, len(c.bindings))
	for ch := range c.bindings {
		channels = append(channels, ch)
	}
	sort.Ints(channels)

	var buf bytes.Buffer
	buf.WriteString("{")
	for i, ch := range channels {
		if i > 0 {
			buf.WriteString(",")
		}
		val, err := json.Marshal(c.bindings[ch])
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&buf, "%q:%s", PumpLabel(ch), val)
	}
	buf.WriteString("}")
	return buf.Bytes(), nil
}

// UnmarshalJSON reads {"Pump n": "<ingredient>"}.
func (c *PumpConfig) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	bindings := make(map[int]string, len(raw))
	for label, ing := range raw {
		ch, err := ParsePumpLabel(label)
		if err != nil {
			return err
		}
		bindings[ch] = ing
	}
	cfg, err := NewPumpConfig(bindings)
	if err != nil {
		return err
	}
	*c = cfg
	return nil
}

// PumpLabel returns the configuration key for channel, e.g. "Pump 3".
func PumpLabel(channel int) string {
	return "Pump " + strconv.Itoa(channel)
}

// ParsePumpLabel parses "Pump 3" (any case, any spacing) into 3.
func ParsePumpLabel(label string) (int, error) {
	s := strings.TrimSpace(label)
	if len(s) < 4 || !strings.EqualFold(s[:4], "pump") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPumpLabel, label)
	}
	n, err := strconv.Atoi(strings.TrimSpace(s[4:]))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPumpLabel, label)
	}
	if n < 1 || n > MaxChannels {
		return 0, fmt.Errorf("%w: %q out of range 1..%d", ErrInvalidPumpLabel, label, MaxChannels)
	}
	return n, nil
}

// PumpConfigStore holds the current pump configuration backed by a JSON file.
// Safe for concurrent use.
type PumpConfigStore struct {
	path string

	mu  sync.RWMutex
	cfg PumpConfig
}

// NewPumpConfigStore creates a store for path. Call Load before use.
func NewPumpConfigStore(path string) *PumpConfigStore {
	return &PumpConfigStore{path: path}
}

// Path returns the backing file path.
func (s *PumpConfigStore) Path() string {
	return s.path
}

// Load reads the file. A missing file yields an empty configuration.
func (s *PumpConfigStore) Load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.set(PumpConfig{})
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading pump config: %w", err)
	}

	var cfg PumpConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parsing pump config %s: %w", s.path, err)
	}
	s.set(cfg)
	return nil
}

// Current returns the configuration in effect.
func (s *PumpConfigStore) Current() PumpConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Save writes cfg to the file and makes it current. Later dispenses use it.
func (s *PumpConfigStore) Save(cfg PumpConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding pump config: %w", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("saving pump config: %w", err)
	}
	s.set(cfg)
	return nil
}

func (s *PumpConfigStore) set(cfg PumpConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// writeFileAtomic replaces path via a temp file in the same directory.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()        //nolint:errcheck // Already failing
		os.Remove(tmpName) //nolint:errcheck // Already failing
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck // Already failing
		return err
	}
	return os.Rename(tmpName, path)
}
