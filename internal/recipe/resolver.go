package recipe

import "fmt"

// Resolve splits a recipe into pump pours and manual ingredients.
//
// Every ingredient lands in exactly one of the two results, in recipe
// order. A bound ingredient with a parsable amount becomes a Pour of
// amount × serving multiplier ounces. An unbound ingredient is returned
// with its scaled amount formatted like a stored amount. An ingredient
// whose amount does not parse is returned as manual with the original
// string, whether or not it is bound.
//
// Two ingredients that resolve to the same channel are rejected with
// ErrChannelCollision: a pump cannot pour two things.
func Resolve(r Recipe, serving Serving, cfg PumpConfig) ([]Pour, []ManualIngredient, error) {
	factor, err := serving.Multiplier()
	if err != nil {
		return nil, nil, err
	}

	var (
		pours  []Pour
		manual []ManualIngredient
		owner  = make(map[int]string)
	)

	for _, ing := range r.Ingredients {
		amount, parseErr := ParseAmount(ing.Amount)
		if parseErr != nil {
			manual = append(manual, ManualIngredient{
				Name:   ing.Name,
				Amount: ing.Amount,
				Kind:   Classify(ing.Name),
			})
			continue
		}
		scaled := amount.Scale(factor)

		channel, bound := cfg.ChannelFor(ing.Name)
		if !bound {
			manual = append(manual, ManualIngredient{
				Name:   ing.Name,
				Amount: scaled.String(),
				Kind:   Classify(ing.Name),
			})
			continue
		}

		if prev, taken := owner[channel]; taken {
			return nil, nil, fmt.Errorf("%w: %q and %q on pump %d", ErrChannelCollision, prev, ing.Name, channel)
		}
		owner[channel] = ing.Name

		pours = append(pours, Pour{
			Channel:    channel,
			Ingredient: ing.Name,
			VolumeOz:   scaled.Value,
		})
	}

	return pours, manual, nil
}
