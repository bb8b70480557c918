package recipe

// Kind groups ingredients that need special handling at the bar.
type Kind string

const (
	// Carbonated ingredients lose fizz in a pump line and are topped by hand.
	Carbonated Kind = "carbonated"

	// Bitters are dosed in dashes, too small for a pump.
	Bitters Kind = "bitters"

	// Layering ingredients are floated on top after pouring.
	Layering Kind = "layering"
)

var (
	carbonatedIngredients = setOf(
		"club soda", "tonic water", "cola", "coca-cola", "coke", "ginger beer",
		"sparkling water", "soda water", "lemon-lime soda", "ginger ale",
		"dr. pepper", "mountain dew",
	)
	bittersIngredients = setOf(
		"angostura bitters", "orange bitters", "aromatic bitters",
		"peychaud's bitters", "bitters", "chocolate bitters", "celery bitters",
		"lemon bitters",
	)
	layeringIngredients = setOf(
		"milk", "cream", "heavy cream", "half and half",
	)
)

func setOf(names ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}

// Classify returns the special-handling kind of an ingredient, or "" if none.
func Classify(name string) Kind {
	n := NormalizeName(name)
	if _, ok := carbonatedIngredients[n]; ok {
		return Carbonated
	}
	if _, ok := bittersIngredients[n]; ok {
		return Bitters
	}
	if _, ok := layeringIngredients[n]; ok {
		return Layering
	}
	return ""
}
