package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementPours is the measurement holding one point per finished pour.
const MeasurementPours = "pours"

// WritePour records one finished pour. It never blocks; the point is
// batched and dropped silently once the client is closed.
//
// Parameters:
//   - channel: Pump channel number
//   - ingredient: Ingredient bound to the pump (empty for unbound prime/clean)
//   - outcome: succeeded, failed or cancelled
//   - volumeOz: Volume requested, 0 for timed operations
//   - run: Planned forward or reverse run time
//   - at: When the pour finished
func (c *Client) WritePour(channel int, ingredient, outcome string, volumeOz float64, run time.Duration, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(pourPoint(c.machine, channel, ingredient, outcome, volumeOz, run, at))
}

func pourPoint(machine string, channel int, ingredient, outcome string, volumeOz float64, run time.Duration, at time.Time) *write.Point {
	tags := map[string]string{
		"channel": strconv.Itoa(channel),
		"outcome": outcome,
	}
	if ingredient != "" {
		tags["ingredient"] = ingredient
	}
	if machine != "" {
		tags["machine"] = machine
	}

	return write.NewPoint(
		MeasurementPours,
		tags,
		map[string]interface{}{
			"volume_oz":   volumeOz,
			"run_seconds": run.Seconds(),
		},
		at,
	)
}
