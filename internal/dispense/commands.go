package dispense

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pourwell/pourwell-core/internal/recipe"
)

// Remote command actions, the last segment of pourwell/command/{action}.
const (
	CommandDispense = "dispense"
	CommandPrime    = "prime"
	CommandClean    = "clean"
	CommandPour     = "pour"
	CommandStop     = "stop"
)

// Command is the JSON body of a remote command. Fields apply per action.
type Command struct {
	Recipe  string  `json:"recipe,omitempty"`
	Serving string  `json:"serving,omitempty"`
	Seconds float64 `json:"seconds,omitempty"`
	Channel int     `json:"channel,omitempty"`
	Oz      float64 `json:"oz,omitempty"`
}

// HandleCommand executes a remote command. It never blocks on pumps:
// dispenses and pours return once started, prime and clean run in the
// background with ctx and log their result.
func (s *Service) HandleCommand(ctx context.Context, action string, payload []byte) error {
	var cmd Command
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidCommand, action, err)
		}
	}

	s.logger.Info("remote command received", "action", action)

	switch action {
	case CommandDispense:
		serving, err := recipe.ParseServing(cmd.Serving)
		if err != nil {
			return err
		}
		_, _, err = s.DispenseByName(ctx, cmd.Recipe, serving)
		return err

	case CommandPrime, CommandClean:
		d := seconds(cmd.Seconds)
		run := s.Prime
		if action == CommandPrime {
			if d == 0 {
				d = s.cfg.PrimeTime
			}
		} else {
			run = s.Clean
			if d == 0 {
				d = s.cfg.CleanTime
			}
		}
		if d <= 0 {
			return fmt.Errorf("%w: %s needs a duration", ErrInvalidCommand, action)
		}
		go func() {
			if err := run(ctx, d); err != nil {
				s.logger.Error("remote bulk operation failed", "action", action, "error", err)
			}
		}()
		return nil

	case CommandPour:
		if cmd.Channel < 1 {
			return fmt.Errorf("%w: pour needs a channel", ErrInvalidCommand)
		}
		if cmd.Oz <= 0 && cmd.Seconds <= 0 {
			return fmt.Errorf("%w: pour needs oz or seconds", ErrInvalidCommand)
		}
		_, err := s.Pour(ctx, cmd.Channel, cmd.Oz, seconds(cmd.Seconds))
		return err

	case CommandStop:
		n := s.CancelAll()
		s.logger.Info("queued pours cancelled by remote stop", "cancelled", n)
		return nil
	}

	return fmt.Errorf("%w: unknown action %q", ErrInvalidCommand, action)
}
