package recipe

import "errors"

// Domain errors for the recipe package.
var (
	// ErrInvalidServing is returned for a serving size other than single or double.
	ErrInvalidServing = errors.New("recipe: invalid serving size")

	// ErrChannelCollision is returned when two ingredients of one recipe
	// resolve to the same pump channel.
	ErrChannelCollision = errors.New("recipe: two ingredients share a pump channel")

	// ErrRecipeNotFound is returned when no recipe has the requested name.
	ErrRecipeNotFound = errors.New("recipe: not found")

	// ErrInvalidAmount is returned when an amount is not "<number> <unit>".
	ErrInvalidAmount = errors.New("recipe: invalid amount")

	// ErrInvalidPumpLabel is returned for a pump configuration key that is not "Pump <n>".
	ErrInvalidPumpLabel = errors.New("recipe: invalid pump label")

	// ErrInvalidRecipe is returned when a stored recipe fails validation.
	ErrInvalidRecipe = errors.New("recipe: invalid")
)
