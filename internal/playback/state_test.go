package playback_test

import (
	"testing"

	"github.com/dgnsrekt/chaptervoice/internal/playback"
)

func TestMachineValidTransitions(t *testing.T) {
	m := playback.NewMachine()

	steps := []playback.StateType{
		playback.StateLoading,
		playback.StateReady,
		playback.StateGenerating,
		playback.StatePlaying,
		playback.StatePaused,
		playback.StatePlaying,
		playback.StateStopped,
		playback.StateLoading,
	}
	for _, to := range steps {
		if !m.Transition(to) {
			t.Fatalf("transition %s -> %s rejected", m.Current(), to)
		}
	}
}

func TestMachineRejectsInvalidTransitions(t *testing.T) {
	m := playback.NewMachine()

	if m.Transition(playback.StatePlaying) {
		t.Fatal("idle -> playing must be rejected")
	}
	if m.Current() != playback.StateIdle {
		t.Fatalf("state mutated on rejected transition: %s", m.Current())
	}

	m.Transition(playback.StateLoading)
	if m.Transition(playback.StatePaused) {
		t.Fatal("loading -> paused must be rejected")
	}
}

func TestMachineCallbacks(t *testing.T) {
	m := playback.NewMachine()

	var entered, exited []playback.StateType
	m.OnEnter(playback.StateLoading, func() { entered = append(entered, playback.StateLoading) })
	m.OnExit(playback.StateIdle, func() { exited = append(exited, playback.StateIdle) })

	m.Transition(playback.StateLoading)

	if len(exited) != 1 || exited[0] != playback.StateIdle {
		t.Fatalf("exit callbacks = %v", exited)
	}
	if len(entered) != 1 || entered[0] != playback.StateLoading {
		t.Fatalf("enter callbacks = %v", entered)
	}
}

func TestStateTypeString(t *testing.T) {
	cases := map[playback.StateType]string{
		playback.StateIdle:       "idle",
		playback.StateLoading:    "loading",
		playback.StateReady:      "ready",
		playback.StatePlaying:    "playing",
		playback.StatePaused:     "paused",
		playback.StateGenerating: "generating",
		playback.StateStopped:    "stopped",
		playback.StateType(99):   "unknown",
	}
	for st, want := range cases {
		if got := st.String(); got != want {
			t.Errorf("String(%d) = %q, want %q", int(st), got, want)
		}
	}

	if !playback.StatePlaying.IsActive() || !playback.StatePaused.IsActive() {
		t.Error("playing/paused must be active")
	}
	if playback.StateReady.IsActive() {
		t.Error("ready must not be active")
	}
}
