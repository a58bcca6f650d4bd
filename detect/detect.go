// Package detect flags call storms: the same method invoked with the
// same arguments, in the same direction, far more often than a single
// caller plausibly needs, within a short window. It is the EPC analog
// of an N+1 query detector, keyed on a direction-qualified call
// signature instead of SQL text — see Signature for why direction is
// part of the key.
package detect

import (
	"sync"
	"time"
)

// Alert represents a detected call-storm pattern.
type Alert struct {
	Signature string
	Count     int
}

// Detector tracks call-signature frequency and flags storms.
type Detector struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	cooldown  time.Duration
	calls     map[string][]time.Time
	lastAlert map[string]time.Time
}

// New creates a Detector.
// threshold: number of occurrences to trigger (e.g., 20).
// window: time window to count within (e.g., 1s).
// cooldown: minimum time between alerts for the same signature (e.g., 10s).
func New(threshold int, window, cooldown time.Duration) *Detector {
	return &Detector{
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		calls:     make(map[string][]time.Time),
		lastAlert: make(map[string]time.Time),
	}
}

// Result holds the outcome of a Record call.
type Result struct {
	// Matched is true when the call count is at or above the threshold
	// within the time window. Use this to mark every event in the pattern.
	Matched bool
	// Alert is non-nil only when the threshold is first crossed (respecting
	// cooldown). Use this to trigger a one-time notification.
	Alert *Alert
}

// Record registers one call occurrence under signature and returns a
// Result. signature should combine the method name with a rendering of
// its arguments (Signature does this); an empty signature never
// matches.
func (d *Detector) Record(signature string, t time.Time) Result {
	if signature == "" {
		return Result{}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := t.Add(-d.window)

	times := d.calls[signature]
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	times = append(times[start:], t)
	d.calls[signature] = times

	if len(times) < d.threshold {
		return Result{}
	}

	res := Result{Matched: true}

	if last, ok := d.lastAlert[signature]; !ok || t.Sub(last) >= d.cooldown {
		d.lastAlert[signature] = t
		res.Alert = &Alert{Signature: signature, Count: len(times)}
	}

	return res
}

// Signature combines a call's direction, method name, and rendered
// argument S-expression into the string Record keys on. Direction is
// part of the key, not just the method and args, because an EPC
// connection is symmetric: the same method+args pair can occur as a
// call this side is making outbound or as a call the peer is making
// inbound, and those are different operational patterns deserving
// separate storm tracking. A peer hammering us with inbound "echo"
// calls is a misbehaving-client problem; us hammering the peer with
// outbound "echo" calls is a bug in our own code — conflating the two
// counts would mask whichever pattern is smaller and misattribute the
// alert's cause. "add (1 2)" and "add (3 4)" remain distinct
// signatures regardless of direction, and repeats of the same call in
// the same direction accumulate together.
func Signature(dir, method, renderedArgs string) string {
	if method == "" {
		return ""
	}
	return dir + " " + method + " " + renderedArgs
}
