package mqtt

import "fmt"

// Topic prefixes for the Pourwell MQTT hierarchy.
//
//	pourwell/dispense/{id}/pour        pour progress (QoS 1)
//	pourwell/dispense/{id}/completed   final dispense result (QoS 1)
//	pourwell/command/{action}          remote commands to the dispenser
//	pourwell/system/status             online/offline, retained (LWT)
const (
	// TopicPrefix is the root of every Pourwell topic.
	TopicPrefix = "pourwell"

	// TopicPrefixDispense is the base for dispense progress topics.
	TopicPrefixDispense = "pourwell/dispense"

	// TopicPrefixCommand is the base for remote command topics.
	TopicPrefixCommand = "pourwell/command"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "pourwell/system"
)

// Topics provides builders for Pourwell MQTT topics.
//
//	topics := mqtt.Topics{}
//	topic := topics.DispensePour("7f3c...")
//	// Returns: "pourwell/dispense/7f3c.../pour"
type Topics struct{}

// DispensePour returns the topic for per-pour progress of a dispense.
//
// Example: pourwell/dispense/7f3c/pour
func (Topics) DispensePour(dispenseID string) string {
	return fmt.Sprintf("%s/%s/pour", TopicPrefixDispense, dispenseID)
}

// DispenseCompleted returns the topic for the final result of a dispense.
//
// Example: pourwell/dispense/7f3c/completed
func (Topics) DispenseCompleted(dispenseID string) string {
	return fmt.Sprintf("%s/%s/completed", TopicPrefixDispense, dispenseID)
}

// Command returns the topic for one remote command action.
//
// Example: pourwell/command/prime
func (Topics) Command(action string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixCommand, action)
}

// SystemStatus returns the system status topic.
//
// Example: pourwell/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllCommands returns a pattern matching every remote command.
//
// Pattern: pourwell/command/+
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/+", TopicPrefixCommand)
}

// AllDispenses returns a pattern matching all dispense progress.
//
// Pattern: pourwell/dispense/+/+
func (Topics) AllDispenses() string {
	return fmt.Sprintf("%s/+/+", TopicPrefixDispense)
}

// CommandAction extracts the action from a command topic.
// It returns false for topics outside pourwell/command/.
func (Topics) CommandAction(topic string) (string, bool) {
	prefix := TopicPrefixCommand + "/"
	if len(topic) <= len(prefix) || topic[:len(prefix)] != prefix {
		return "", false
	}
	action := topic[len(prefix):]
	for i := 0; i < len(action); i++ {
		if action[i] == '/' {
			return "", false
		}
	}
	return action, true
}

// AllTopics returns a pattern matching all Pourwell topics.
//
// Pattern: pourwell/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
