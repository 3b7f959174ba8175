// Package fsm implements the bulk-copy heuristic: a per-directory state
// machine fed with readdir and open events that recognizes the strict
// readdir/open interleave of a file-copy tool and signals when to precache.
package fsm

// State of the detector. The names count the real readdir results and the
// in-directory opens observed so far along the one accepted interleave;
// any other ordering drops to Skip.
type State int

const (
	// Start is the state of a freshly opened (or rewound) directory.
	Start State = iota
	// Read1: one readdir seen.
	Read1
	// Read1Open1: readdir, open.
	Read1Open1
	// Read2Open1: readdir, open, readdir.
	Read2Open1
	// Read2Open2: readdir, open, readdir, open.
	Read2Open2
	// Read3Open2: readdir, open, readdir, open, readdir.
	Read3Open2
	// Trigger is reached by the third open; precaching fires on the
	// transition into it. Absorbing.
	Trigger
	// Skip means the event stream does not look like a bulk copy.
	// Absorbing until rewinddir.
	Skip
)

// Event is one observation on an open directory.
type Event int

const (
	// Readdir is a directory read returning a real entry ("." and ".."
	// do not drive the machine).
	Readdir Event = iota
	// Open is an open of a direct child of the directory.
	Open
)

// transitions[state] = {next on Readdir, next on Open}.
var transitions = [...][2]State{
	Start:      {Read1, Skip},
	Read1:      {Skip, Read1Open1},
	Read1Open1: {Read2Open1, Skip},
	Read2Open1: {Skip, Read2Open2},
	Read2Open2: {Read3Open2, Skip},
	Read3Open2: {Skip, Trigger},
	Trigger:    {Trigger, Trigger},
	Skip:       {Skip, Skip},
}

// Next returns the state after observing e.
func (s State) Next(e Event) State {
	return transitions[s][e]
}

func (s State) String() string {
	switch s {
	case Start:
		return "start"
	case Read1:
		return "r1"
	case Read1Open1:
		return "r1o1"
	case Read2Open1:
		return "r2o1"
	case Read2Open2:
		return "r2o2"
	case Read3Open2:
		return "r3o2"
	case Trigger:
		return "trigger"
	case Skip:
		return "skip"
	}
	return "unknown"
}

// Tracker couples the state with the window of files already queued by a
// precache run. A new precache fires only on the transition into Trigger
// while no queued window is outstanding.
type Tracker struct {
	state     State
	remaining int
}

// Observe advances the machine and reports whether this event should fire a
// precache.
func (t *Tracker) Observe(e Event) bool {
	prev := t.state
	t.state = prev.Next(e)
	return t.state == Trigger && prev != Trigger && t.remaining == 0
}

// State returns the current state.
func (t *Tracker) State() State {
	return t.state
}

// SetQueued records how many files the precache run queued; subsequent real
// readdir results consume the window.
func (t *Tracker) SetQueued(n int) {
	t.remaining = n
}

// ConsumeDirent burns one entry of the queued window, if any.
func (t *Tracker) ConsumeDirent() {
	if t.remaining > 0 {
		t.remaining--
	}
}

// Remaining returns the unconsumed queued window.
func (t *Tracker) Remaining() int {
	return t.remaining
}

// Rewind resets the machine to Start, as rewinddir does. The queued window
// is kept: an exhausted window stays exhausted until a new precache fires.
func (t *Tracker) Rewind() {
	t.state = Start
}
