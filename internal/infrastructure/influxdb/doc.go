// Package influxdb records pour telemetry in InfluxDB.
//
// One point is written per finished pour:
//
//	measurement: pours
//	tags:        channel, ingredient, outcome, machine
//	fields:      volume_oz, run_seconds
//
// Over time this shows how much of each ingredient was poured, which
// pumps fail, and whether the seconds-per-ounce coefficient drifts.
//
// Writes are non-blocking and batched per batch_size and flush_interval.
// Batch errors arrive asynchronously through SetOnError. Telemetry is
// optional: the dispenser runs without it.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Machine.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WritePour(1, "Tequila", "succeeded", 2, 6*time.Second, time.Now())
package influxdb
