package pump

import "github.com/pourwell/pourwell-core/internal/infrastructure/config"

// ChannelsFromConfig converts the gpio.pumps table into Channels.
func ChannelsFromConfig(cfg config.GPIOConfig) []Channel {
	channels := make([]Channel, 0, len(cfg.Pumps))
	for _, p := range cfg.Pumps {
		channels = append(channels, Channel{
			Number: p.Channel,
			Pins:   Pins{A: p.LineA, B: p.LineB},
		})
	}
	return channels
}

// OpenerFromConfig returns the line source for the configured mode: simulated
// lines in dry-run, the GPIO character device otherwise.
func OpenerFromConfig(cfg config.GPIOConfig, dryRun bool) Opener {
	if dryRun {
		return NewSimOpener()
	}
	return GPIOOpener{Chip: cfg.Chip, Consumer: cfg.Consumer}
}
