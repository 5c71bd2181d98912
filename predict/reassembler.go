package predict

import (
	"time"

	"github.com/BaSui01/promptflow/signature"
)

// State is the phase of a Reassembler.
type State int

const (
	// StateWaiting: nothing emitted yet.
	StateWaiting State = iota
	// StateEmitting: at least one partial map emitted.
	StateEmitting
	// StateDone: the stream ended and the final map was produced.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateEmitting:
		return "emitting"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Reassembler turns a growing reply into a sequence of output maps. It is a
// plain state machine driven by the caller's clock; it starts no goroutines
// and is not safe for concurrent use.
//
// After every chunk the whole buffer is re-parsed. A field that once held a
// value keeps it until a later parse yields a new non-nil value. A changed
// map is released at most once per debounce window; a change that arrives
// inside the window stays pending until Flush.
type Reassembler struct {
	outputs  []signature.Field
	debounce time.Duration
	sc       *signature.Scanner

	current  *signature.Values
	last     *signature.Values
	lastEmit time.Time
	emitted  bool
	pending  bool
	state    State
}

// NewReassembler creates a reassembler for the given output fields.
func NewReassembler(outputs []signature.Field, debounce time.Duration) *Reassembler {
	names := make([]string, 0, len(outputs))
	for _, f := range outputs {
		names = append(names, f.Name)
	}
	if debounce < 0 {
		debounce = 0
	}
	return &Reassembler{
		outputs:  outputs,
		debounce: debounce,
		sc:       signature.NewScanner(),
		current:  signature.NewValues(names...),
	}
}

// Feed appends chunk and returns the map to emit, if any. The caller reports
// the delivery with Emitted.
func (r *Reassembler) Feed(chunk string, now time.Time) (*signature.Values, bool) {
	if r.state == StateDone {
		return nil, false
	}
	r.sc.Write(chunk)
	r.merge(signature.ParseScanner(r.sc, r.outputs, true).Values)
	return r.poll(now)
}

// Flush releases a pending change once its window has passed.
func (r *Reassembler) Flush(now time.Time) (*signature.Values, bool) {
	if r.state == StateDone || !r.pending {
		return nil, false
	}
	return r.poll(now)
}

// Emitted records that the map last returned by Feed or Flush reached the
// consumer at t. The debounce window runs from t.
func (r *Reassembler) Emitted(t time.Time) {
	r.lastEmit = t
	r.emitted = true
}

// Pending reports whether a change is being held back by the debounce window.
func (r *Reassembler) Pending() bool {
	return r.pending
}

// NextEmit returns the earliest time a pending change may be released.
func (r *Reassembler) NextEmit() time.Time {
	if !r.emitted {
		return time.Time{}
	}
	return r.lastEmit.Add(r.debounce)
}

// Finish parses the complete buffer and returns the final result. The final
// map is always meant to be emitted, debounce window or not.
func (r *Reassembler) Finish() signature.Result {
	res := signature.ParseScanner(r.sc, r.outputs, false)
	if r.state != StateDone {
		r.merge(res.Values)
		r.state = StateDone
		r.pending = false
	}
	final := signature.Result{Values: r.current.Clone(), Fallbacks: res.Fallbacks}
	for _, f := range r.outputs {
		if v, _ := final.Values.Get(f.Name); v == nil {
			final.Missing = append(final.Missing, f.Name)
		}
	}
	return final
}

// State returns the current phase.
func (r *Reassembler) State() State {
	return r.state
}

// Text returns the reply received so far.
func (r *Reassembler) Text() string {
	return r.sc.Text()
}

// Current returns a copy of the merged map.
func (r *Reassembler) Current() *signature.Values {
	return r.current.Clone()
}

func (r *Reassembler) merge(parsed *signature.Values) {
	for _, name := range parsed.Keys() {
		v, _ := parsed.Get(name)
		if v == nil {
			continue
		}
		r.current.Set(name, v)
	}
}

func (r *Reassembler) poll(now time.Time) (*signature.Values, bool) {
	if r.last != nil && r.current.Equal(r.last) {
		r.pending = false
		return nil, false
	}
	if r.last == nil && allNil(r.current) {
		return nil, false
	}
	if r.emitted && now.Sub(r.lastEmit) < r.debounce {
		r.pending = true
		return nil, false
	}
	r.pending = false
	r.last = r.current.Clone()
	if r.state == StateWaiting {
		r.state = StateEmitting
	}
	return r.last.Clone(), true
}

func allNil(v *signature.Values) bool {
	for _, k := range v.Keys() {
		if val, _ := v.Get(k); val != nil {
			return false
		}
	}
	return true
}
