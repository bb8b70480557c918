package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pourwell/pourwell-core/internal/recipe"
)

// maxRecipeNameLen bounds a recipe name taken from the URL.
const maxRecipeNameLen = 100

// RecipePreview is a recipe with what a single serving would pour now.
type RecipePreview struct {
	recipe.Recipe
	Pours  []recipe.Pour             `json:"pours"`
	Manual []recipe.ManualIngredient `json:"manual"`
}

type favoriteRequest struct {
	Favorite bool `json:"favorite"`
}

// handleListRecipes returns the recipe book, favourites first.
//
// Query parameters:
//   - favorites: "true" to return only favourites
func (s *Server) handleListRecipes(w http.ResponseWriter, r *http.Request) {
	recipes := s.recipes.List()
	if r.URL.Query().Get("favorites") == "true" {
		favs := recipes[:0:0]
		for _, rec := range recipes {
			if rec.Favorite {
				favs = append(favs, rec)
			}
		}
		recipes = favs
	}
	writeJSON(w, http.StatusOK, map[string]any{"recipes": recipes, "count": len(recipes)})
}

// handleGetRecipe returns one recipe resolved against the current pumps.
//
// Query parameters:
//   - serving: single (default) or double
func (s *Server) handleGetRecipe(w http.ResponseWriter, r *http.Request) {
	name, ok := recipeName(w, r)
	if !ok {
		return
	}
	serving, err := recipe.ParseServing(r.URL.Query().Get("serving"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	rec, err := s.recipes.Lookup(name)
	if err != nil {
		if errors.Is(err, recipe.ErrRecipeNotFound) {
			writeNotFound(w, "recipe not found")
			return
		}
		writeInternalError(w, "failed to get recipe")
		return
	}

	pours, manual, err := recipe.Resolve(rec, serving, s.pumps.Current())
	if err != nil {
		if errors.Is(err, recipe.ErrChannelCollision) {
			writeConflict(w, err.Error())
			return
		}
		writeBadRequest(w, err.Error())
		return
	}
	if pours == nil {
		pours = []recipe.Pour{}
	}
	if manual == nil {
		manual = []recipe.ManualIngredient{}
	}
	writeJSON(w, http.StatusOK, RecipePreview{Recipe: rec, Pours: pours, Manual: manual})
}

// handleSetFavorite marks or unmarks a recipe as a favourite.
func (s *Server) handleSetFavorite(w http.ResponseWriter, r *http.Request) {
	name, ok := recipeName(w, r)
	if !ok {
		return
	}

	var req favoriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	rec, err := s.recipes.SetFavorite(name, req.Favorite)
	if err != nil {
		if errors.Is(err, recipe.ErrRecipeNotFound) {
			writeNotFound(w, "recipe not found")
			return
		}
		s.logger.Error("failed to update favourite", "recipe", name, "error", err)
		writeInternalError(w, "failed to update recipe")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func recipeName(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if name == "" || len(name) > maxRecipeNameLen {
		writeBadRequest(w, "invalid recipe name")
		return "", false
	}
	return name, true
}
