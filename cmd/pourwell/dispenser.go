package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/pourwell/pourwell-core/internal/dispense"
	"github.com/pourwell/pourwell-core/internal/infrastructure/config"
	"github.com/pourwell/pourwell-core/internal/infrastructure/database"
	"github.com/pourwell/pourwell-core/internal/infrastructure/logging"
	"github.com/pourwell/pourwell-core/internal/pump"
	"github.com/pourwell/pourwell-core/internal/recipe"
	"github.com/pourwell/pourwell-core/migrations"
)

// dispenser bundles the pump hardware with the stores and the dispense
// service built on top of it. Every command that moves liquid opens one.
type dispenser struct {
	registry *pump.Registry
	driver   *pump.Driver
	pumps    *recipe.PumpConfigStore
	recipes  *recipe.Store
	db       *database.DB
	service  *dispense.Service
}

// openDispenser acquires the pump lines, loads the pump bindings and the
// recipe book, opens the history database and builds the dispense service.
// On error everything acquired so far is released.
//
// Parameters:
//   - ctx: Context for migrations
//   - cfg: Application configuration
//   - log: Logger instance
//   - opts: Extra service collaborators (MQTT, WebSocket hub, telemetry)
//
// Returns:
//   - *dispenser: Ready dispenser; call close on every exit path
//   - error: If hardware, stores or the database cannot be opened
func openDispenser(ctx context.Context, cfg *config.Config, log *logging.Logger, opts ...dispense.Option) (d *dispenser, err error) {
	d = &dispenser{}
	defer func() {
		if err != nil {
			if closeErr := d.close(log); closeErr != nil {
				log.Error("cleanup after failed start", "error", closeErr)
			}
			d = nil
		}
	}()

	dryRun := cfg.Dispenser.Debug
	d.registry, err = pump.NewRegistry(
		pump.ChannelsFromConfig(cfg.GPIO),
		pump.OpenerFromConfig(cfg.GPIO, dryRun),
		log,
	)
	if err != nil {
		return d, fmt.Errorf("acquiring pump lines: %w", err)
	}
	d.driver = pump.NewDriver(d.registry,
		pump.WithInvertedPins(cfg.Dispenser.InvertPumpPins),
		pump.WithDryRun(dryRun),
		pump.WithLogger(log),
	)
	log.Info("pumps ready",
		"channels", len(d.registry.Channels()),
		"dry_run", dryRun,
		"inverted", cfg.Dispenser.InvertPumpPins,
	)

	d.pumps = recipe.NewPumpConfigStore(cfg.Dispenser.PumpConfigFile)
	if err = d.pumps.Load(); err != nil {
		return d, fmt.Errorf("loading pump configuration: %w", err)
	}
	if err = checkBindings(d.pumps.Current(), d.registry); err != nil {
		return d, fmt.Errorf("loading pump configuration: %w", err)
	}

	// A broken recipe book leaves the dispenser running with no recipes;
	// the watcher picks up the fixed file.
	d.recipes = recipe.NewStore(cfg.Dispenser.CocktailsFile, recipe.WithStoreLogger(log))
	if loadErr := d.recipes.Load(); loadErr != nil {
		log.Warn("recipes not loaded", "path", cfg.Dispenser.CocktailsFile, "error", loadErr)
	}
	log.Info("stores loaded",
		"bound_pumps", len(d.pumps.Current().Channels()),
		"recipes", len(d.recipes.List()),
		"skipped_recipes", d.recipes.Skipped(),
	)

	d.db, err = database.Open(cfg.Database)
	if err != nil {
		return d, fmt.Errorf("opening database: %w", err)
	}
	if err = d.db.Migrate(ctx, migrations.FS); err != nil {
		return d, fmt.Errorf("running migrations: %w", err)
	}

	base := []dispense.Option{
		dispense.WithLogger(log),
		dispense.WithRepository(dispense.NewSQLiteRepository(d.db.DB)),
		dispense.WithRecipes(d.recipes),
	}
	d.service, err = dispense.NewService(dispense.ConfigFrom(cfg.Dispenser), d.driver, d.pumps, append(base, opts...)...)
	if err != nil {
		return d, fmt.Errorf("creating dispense service: %w", err)
	}
	return d, nil
}

// checkBindings fails when the pump configuration binds a channel that has
// no wired line pair.
func checkBindings(cfg recipe.PumpConfig, registry *pump.Registry) error {
	var errs []error
	for _, ch := range cfg.Channels() {
		if !registry.Has(ch) {
			errs = append(errs, fmt.Errorf("%s bound to %q: %w", recipe.PumpLabel(ch), cfg.Ingredient(ch), pump.ErrUnknownChannel))
		}
	}
	return errors.Join(errs...)
}

// close stops every pump, then releases the lines and the database.
func (d *dispenser) close(log *logging.Logger) error {
	var errs []error
	if d.service != nil {
		log.Info("stopping pumps")
		if err := d.service.Close(); err != nil {
			errs = append(errs, err)
		}
	} else if d.driver != nil {
		if err := d.driver.StopAll(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.registry != nil {
		if err := d.registry.Close(); err != nil {
			errs = append(errs, fmt.Errorf("releasing pump lines: %w", err))
		}
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}
	}
	return errors.Join(errs...)
}
