// Package recipe turns cocktail recipes into pump work.
//
// It loads the recipe store (cocktails.json) and the pump configuration
// (pump_config.json), and resolves a recipe plus serving size into
// ordered pump pours and the ingredients a person must add by hand.
//
// Ingredient names are matched case-insensitively with surrounding
// whitespace ignored. Amounts are "<number> <unit>", canonically ounces;
// an amount that does not parse is handed back as a manual ingredient
// rather than failing the drink.
package recipe
