package recipe

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"
)

// storeFile is the on-disk layout of the recipe store.
type storeFile struct {
	Cocktails []Recipe `json:"cocktails"`
}

// Store is the recipe collection backed by a cocktails JSON file.
// Safe for concurrent use; readers always get copies.
type Store struct {
	path   string
	logger Logger

	mu      sync.RWMutex
	recipes []Recipe
	skipped []Recipe // invalid entries, written back untouched on save
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the logger used to report skipped recipes.
func WithStoreLogger(l Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates a store for path. Call Load before use.
func NewStore(path string, opts ...StoreOption) *Store {
	s := &Store{path: path, logger: noopLogger{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the recipe file, replacing the in-memory collection.
// A missing file yields an empty store. A file that is not valid JSON is
// an error and leaves the current collection in place. Individual recipes
// failing validation are logged and skipped.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.set(nil, nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading recipes: %w", err)
	}

	var f storeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing recipes %s: %w", s.path, err)
	}
	valid := make([]Recipe, 0, len(f.Cocktails))
	var skipped []Recipe
	for i, r := range f.Cocktails {
		if err := r.Validate(); err != nil {
			s.logger.Warn("skipping recipe", "path", s.path, "index", i, "name", r.NormalName, "error", err)
			skipped = append(skipped, r)
			continue
		}
		valid = append(valid, r)
	}
	s.set(valid, skipped)
	return nil
}

// Skipped returns how many recipes the last Load left out as invalid.
func (s *Store) Skipped() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.skipped)
}

// List returns every recipe, favourites first, otherwise in file order.
func (s *Store) List() []Recipe {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Recipe, len(s.recipes))
	for i, r := range s.recipes {
		out[i] = r.Clone()
	}
	sortFavoritesFirst(out)
	return out
}

// Lookup finds a recipe by normal or fun name, ignoring case.
func (s *Store) Lookup(name string) (Recipe, error) {
	want := NormalizeName(name)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.recipes {
		if NormalizeName(r.NormalName) == want || NormalizeName(r.FunName) == want {
			return r.Clone(), nil
		}
	}
	return Recipe{}, fmt.Errorf("%q: %w", name, ErrRecipeNotFound)
}

// SetFavorite marks or unmarks a recipe as a favourite and saves the file.
func (s *Store) SetFavorite(name string, favorite bool) (Recipe, error) {
	want := NormalizeName(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, r := range s.recipes {
		if NormalizeName(r.NormalName) == want {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Recipe{}, fmt.Errorf("%q: %w", name, ErrRecipeNotFound)
	}

	updated := make([]Recipe, len(s.recipes))
	copy(updated, s.recipes)
	updated[idx].Favorite = favorite
	sortFavoritesFirst(updated)

	if err := s.save(updated); err != nil {
		return Recipe{}, err
	}
	s.recipes = updated

	r, _ := findByName(updated, want)
	return r.Clone(), nil
}

// save writes recipes followed by the skipped entries. Caller holds s.mu.
func (s *Store) save(recipes []Recipe) error {
	all := append(append(make([]Recipe, 0, len(recipes)+len(s.skipped)), recipes...), s.skipped...)
	data, err := json.MarshalIndent(storeFile{Cocktails: all}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding recipes: %w", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("saving recipes: %w", err)
	}
	return nil
}

func (s *Store) set(recipes, skipped []Recipe) {
	s.mu.Lock()
	s.recipes = recipes
	s.skipped = skipped
	s.mu.Unlock()
}

func findByName(recipes []Recipe, normalized string) (Recipe, bool) {
	for _, r := range recipes {
		if NormalizeName(r.NormalName) == normalized {
			return r, true
		}
	}
	return Recipe{}, false
}

func sortFavoritesFirst(recipes []Recipe) {
	sort.SliceStable(recipes, func(i, j int) bool {
		return recipes[i].Favorite && !recipes[j].Favorite
	})
}
