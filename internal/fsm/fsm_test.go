package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitions(t *testing.T) {
	tests := []struct {
		name   string
		events []Event
		want   State
	}{
		{"fresh", nil, Start},
		{"single readdir", []Event{Readdir}, Read1},
		{"open before any readdir", []Event{Open}, Skip},
		{"double readdir vetoes", []Event{Readdir, Readdir}, Skip},
		{"double open vetoes", []Event{Readdir, Open, Open}, Skip},
		{"copy interleave reaches trigger", []Event{Readdir, Open, Readdir, Open, Readdir, Open}, Trigger},
		{"trigger absorbs readdir", []Event{Readdir, Open, Readdir, Open, Readdir, Open, Readdir}, Trigger},
		{"trigger absorbs open", []Event{Readdir, Open, Readdir, Open, Readdir, Open, Open}, Trigger},
		{"skip absorbs everything", []Event{Open, Readdir, Open, Readdir}, Skip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Start
			for _, e := range tt.events {
				s = s.Next(e)
			}
			assert.Equal(t, tt.want, s)
		})
	}
}

// Replaying the same event sequence against a fresh machine must land in
// the same state every time.
func TestDeterminism(t *testing.T) {
	events := []Event{Readdir, Open, Readdir, Readdir, Open}
	run := func() State {
		s := Start
		for _, e := range events {
			s = s.Next(e)
		}
		return s
	}
	first := run()
	for i := 0; i < 10; i++ {
		require.Equal(t, first, run())
	}
}

func TestTrackerFiresOnThirdOpen(t *testing.T) {
	var tr Tracker
	fired := 0
	for _, e := range []Event{Readdir, Open, Readdir, Open, Readdir, Open} {
		if tr.Observe(e) {
			fired++
		}
	}
	assert.Equal(t, 1, fired)
	assert.Equal(t, Trigger, tr.State())

	// Absorbed events never re-fire.
	assert.False(t, tr.Observe(Open))
	assert.False(t, tr.Observe(Readdir))
}

func TestTrackerVetoedStreamNeverFires(t *testing.T) {
	var tr Tracker
	for _, e := range []Event{Readdir, Readdir, Open, Open, Open} {
		assert.False(t, tr.Observe(e))
	}
	assert.Equal(t, Skip, tr.State())
}

// drive feeds events the way the engine does: every real readdir result
// also consumes one entry of the queued window.
func drive(tr *Tracker, events []Event) bool {
	fired := false
	for _, e := range events {
		if tr.Observe(e) {
			fired = true
		}
		if e == Readdir {
			tr.ConsumeDirent()
		}
	}
	return fired
}

func TestTrackerQueuedWindowBlocksRetrigger(t *testing.T) {
	copyRun := []Event{Readdir, Open, Readdir, Open, Readdir, Open}

	var tr Tracker
	require.True(t, drive(&tr, copyRun))
	tr.SetQueued(5)

	// Rewind resets the machine but the outstanding window still blocks
	// the next trigger: only three of the five queued entries have been
	// re-read by the time the third open arrives.
	tr.Rewind()
	assert.False(t, drive(&tr, copyRun))
	assert.Equal(t, 2, tr.Remaining())

	// Drain the window; a rewound machine can then fire again.
	tr.ConsumeDirent()
	tr.ConsumeDirent()
	tr.Rewind()
	assert.True(t, drive(&tr, copyRun))
}

func TestConsumeDirentStopsAtZero(t *testing.T) {
	var tr Tracker
	tr.SetQueued(1)
	tr.ConsumeDirent()
	tr.ConsumeDirent()
	assert.Equal(t, 0, tr.Remaining())
}
