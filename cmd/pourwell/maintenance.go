package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/pourwell/pourwell-core/internal/dispense"
	"github.com/pourwell/pourwell-core/internal/infrastructure/config"
	"github.com/pourwell/pourwell-core/internal/infrastructure/logging"
)

func newPrimeCmd(opts *rootOptions) *cobra.Command {
	var seconds float64
	cmd := &cobra.Command{
		Use:   "prime",
		Short: "Run every bound pump forward to fill its line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBulk(cmd, opts, dispense.KindPrime, seconds)
		},
	}
	cmd.Flags().Float64Var(&seconds, "seconds", 0, "run time per pump (default dispenser.prime_seconds)")
	return cmd
}

func newCleanCmd(opts *rootOptions) *cobra.Command {
	var seconds float64
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Run every bound pump in reverse to empty its line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBulk(cmd, opts, dispense.KindClean, seconds)
		},
	}
	cmd.Flags().Float64Var(&seconds, "seconds", 0, "run time per pump (default dispenser.clean_seconds)")
	return cmd
}

func runBulk(cmd *cobra.Command, opts *rootOptions, kind dispense.Kind, seconds float64) error {
	if seconds < 0 {
		return fmt.Errorf("--seconds must not be negative")
	}
	cfg, log, err := opts.load()
	if err != nil {
		return err
	}

	return withDispenser(cmd.Context(), cfg, log, func(ctx context.Context, d *dispenser) error {
		run, dur := d.service.Prime, d.service.Config().PrimeTime
		if kind == dispense.KindClean {
			run, dur = d.service.Clean, d.service.Config().CleanTime
		}
		if seconds > 0 {
			dur = secondsToDuration(seconds)
		}

		n := len(d.pumps.Current().Channels())
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d pumps for %s\n", kind, n, dur)
		if err := run(ctx, dur); err != nil {
			return fmt.Errorf("%s: %w", kind, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s finished\n", kind)
		return nil
	})
}

func newPourCmd(opts *rootOptions) *cobra.Command {
	var (
		channel int
		oz      float64
		seconds float64
	)
	cmd := &cobra.Command{
		Use:   "pour",
		Short: "Run one pump by volume or for a fixed time",
		Long: `Run one pump. With --oz the run time comes from the ounce coefficient and
retraction applies, which makes this the calibration pour. With --seconds the
pump runs forward for exactly that long.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if channel < 1 || channel > config.MaxPumpChannels {
				return fmt.Errorf("--channel must be 1..%d", config.MaxPumpChannels)
			}
			if oz < 0 || seconds < 0 || (oz == 0 && seconds == 0) {
				return fmt.Errorf("one of --oz or --seconds must be positive")
			}
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}

			return withDispenser(cmd.Context(), cfg, log, func(ctx context.Context, d *dispenser) error {
				h, err := d.service.Pour(ctx, channel, oz, secondsToDuration(seconds))
				if err != nil {
					return err
				}
				if err := h.Wait(ctx); err != nil {
					return err
				}
				return reportPours(cmd.OutOrStdout(), h.Snapshot())
			})
		},
	}
	cmd.Flags().IntVar(&channel, "channel", 1, "pump channel")
	cmd.Flags().Float64Var(&oz, "oz", 0, "volume to pour in ounces")
	cmd.Flags().Float64Var(&seconds, "seconds", 0, "run time when --oz is not given")
	return cmd
}

// withDispenser opens the dispenser, runs fn and always closes it, so an
// interrupted command still stops its pumps.
func withDispenser(ctx context.Context, cfg *config.Config, log *logging.Logger, fn func(context.Context, *dispenser) error) (err error) {
	d, err := openDispenser(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := d.close(log); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(ctx, d)
}

// reportPours prints one line per pour and fails if any pour failed.
func reportPours(w io.Writer, pours []dispense.PourStatus) error {
	for _, p := range pours {
		line := fmt.Sprintf("%s: %s", p.Description, p.Outcome)
		if p.Error != "" {
			line += " (" + p.Error + ")"
		}
		fmt.Fprintln(w, line)
	}
	if dispense.Summarize(pours) == dispense.OutcomeFailed {
		return dispense.ErrPourFailed
	}
	return nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
