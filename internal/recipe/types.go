package recipe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Ingredient is one line of a recipe: a name and its stored amount string.
type Ingredient struct {
	Name   string `json:"name"`
	Amount string `json:"amount"`
}

// Ingredients is an ordered ingredient list. In JSON it is an object whose
// keys keep the order they were written in.
type Ingredients []Ingredient

// MarshalJSON writes the list as an object in list order.
func (in Ingredients) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, ing := range in {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(ing.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(ing.Amount)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object of name -> amount, preserving key order.
func (in *Ingredients) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*in = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("ingredients: expected object, got %v", tok)
	}

	var out Ingredients
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("ingredients: expected string key, got %v", keyTok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("ingredients: amount for %q: %w", key, err)
		}
		out = append(out, Ingredient{Name: key, Amount: amountText(raw)})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*in = out
	return nil
}

// Recipe is one cocktail in the recipe store.
type Recipe struct {
	NormalName  string      `json:"normal_name"`
	FunName     string      `json:"fun_name"`
	Ingredients Ingredients `json:"ingredients"`
	Favorite    bool        `json:"favorite"`
}

// amountText turns a JSON amount into its stored text. Strings are kept as
// written; numbers and anything else keep their literal JSON so the
// resolver can still pour a bare number or hand the rest over to manual.
func amountText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

// Clone returns a deep copy so callers cannot alter the stored recipe.
func (r Recipe) Clone() Recipe {
	r.Ingredients = append(Ingredients(nil), r.Ingredients...)
	return r
}

// Validate checks that a recipe has a name and at least one named ingredient.
func (r Recipe) Validate() error {
	if strings.TrimSpace(r.NormalName) == "" {
		return fmt.Errorf("%w: normal_name is required", ErrInvalidRecipe)
	}
	if len(r.Ingredients) == 0 {
		return fmt.Errorf("%w: %s has no ingredients", ErrInvalidRecipe, r.NormalName)
	}
	for _, ing := range r.Ingredients {
		if NormalizeName(ing.Name) == "" {
			return fmt.Errorf("%w: %s has an unnamed ingredient", ErrInvalidRecipe, r.NormalName)
		}
	}
	return nil
}

// Serving is the size multiplier for a drink.
type Serving string

const (
	Single Serving = "single"
	Double Serving = "double"
)

// ParseServing accepts "single" or "double" in any case. Empty means single.
func ParseServing(s string) (Serving, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(Single):
		return Single, nil
	case string(Double):
		return Double, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrInvalidServing)
}

// Multiplier returns the volume factor for the serving.
func (s Serving) Multiplier() (float64, error) {
	switch s {
	case Single:
		return 1, nil
	case Double:
		return 2, nil
	}
	return 0, fmt.Errorf("%q: %w", string(s), ErrInvalidServing)
}

// Pour is one pump-servable ingredient of a resolved recipe.
type Pour struct {
	Channel    int     `json:"channel"`
	Ingredient string  `json:"ingredient"`
	VolumeOz   float64 `json:"volume_oz"`
}

// ManualIngredient is an ingredient the dispenser cannot pour.
type ManualIngredient struct {
	Name   string `json:"name"`
	Amount string `json:"amount"`

	// Kind flags ingredients a UI should treat specially (carbonated,
	// bitters, layering). Empty for ordinary ingredients.
	Kind Kind `json:"kind,omitempty"`
}

// NormalizeName lowercases and trims an ingredient name for matching.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Logger defines the logging interface used by the recipe package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
