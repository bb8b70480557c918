// Package mqtt connects Pourwell Core to an MQTT broker.
//
// The dispenser publishes pour progress and dispense results so that
// displays, home automation or a second bar station can follow along,
// and accepts a small set of remote commands:
//
//	Pourwell Core  →  pourwell/dispense/{id}/pour        (QoS 1)
//	Pourwell Core  →  pourwell/dispense/{id}/completed   (QoS 1)
//	Pourwell Core  →  pourwell/system/status             (retained, LWT)
//	Remote client  →  pourwell/command/{action}
//
// The broker is optional. When it is unreachable the dispenser still
// pours; publishing errors are logged by the caller.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.SubscribeCommands(func(action string, payload []byte) error {
//	    return svc.HandleCommand(ctx, action, payload)
//	})
package mqtt
