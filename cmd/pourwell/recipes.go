package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pourwell/pourwell-core/internal/recipe"
)

func newRecipesCmd(opts *rootOptions) *cobra.Command {
	var serving string
	cmd := &cobra.Command{
		Use:   "recipes",
		Short: "List recipes and what the current pumps can pour",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			size, err := recipe.ParseServing(serving)
			if err != nil {
				return err
			}
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}

			pumps := recipe.NewPumpConfigStore(cfg.Dispenser.PumpConfigFile)
			if err := pumps.Load(); err != nil {
				return err
			}
			store := recipe.NewStore(cfg.Dispenser.CocktailsFile, recipe.WithStoreLogger(log))
			if err := store.Load(); err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RECIPE\tPUMPED\tBY HAND")
			for _, r := range store.List() {
				name := r.NormalName
				if r.Favorite {
					name += " *"
				}
				pours, manual, err := recipe.Resolve(r, size, pumps.Current())
				if err != nil {
					fmt.Fprintf(tw, "%s\t-\t%v\n", name, err)
					continue
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\n", name, len(pours), manualList(manual))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&serving, "serving", "single", "serving size (single or double)")
	return cmd
}

func manualList(manual []recipe.ManualIngredient) string {
	if len(manual) == 0 {
		return "-"
	}
	parts := make([]string, len(manual))
	for i, m := range manual {
		parts[i] = m.Name + " " + m.Amount
	}
	return strings.Join(parts, ", ")
}
