// Package pump owns the dispenser's motor hardware.
//
// Each pump channel (1..12) is a peristaltic pump behind an H-bridge with
// two control inputs. The Registry requests every control line exactly
// once at startup and releases them exactly once at shutdown. The Driver
// turns a channel forward, reverse, or off:
//
//	forward: A high, B low   (swapped when pins are inverted)
//	reverse: A low, B high   (swapped when pins are inverted)
//	stop:    A low, B low
//
// Both inputs are never driven high together; every direction change
// passes through stop first. In dry-run mode the Registry hands out
// simulated lines so timing behaves the same without touching GPIO.
package pump
