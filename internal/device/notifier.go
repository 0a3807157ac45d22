package device

// Notifier is the short-range uplink boundary: the base pushes every
// tracked report to it as a JSON payload augmented with rssi and toa
// fields. The firmware's BLE GPS characteristic sits behind this on
// hardware; bench runs use NopNotifier or a recording fake.
//
// Notify is called from the dispatcher's delivery goroutines and must be
// safe for concurrent use. Errors are logged and dropped; the uplink is
// best-effort.
type Notifier interface {
	Notify(payload []byte) error
}

// NopNotifier discards every payload.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify([]byte) error { return nil }
