package study

import (
	"fmt"
	"time"

	"github.com/kfilewski/conversbot/internal/models"
)

// TimerState is the disposition of the conversation window.
type TimerState string

const (
	// TimerIdle means the timer has not started: no user message yet.
	TimerIdle TimerState = "idle"
	// TimerBlocked means the minimum duration has not elapsed; the
	// participant cannot end the conversation yet.
	TimerBlocked TimerState = "blocked"
	// TimerEligible means the participant may end the conversation or
	// keep messaging, up to the maximum duration.
	TimerEligible TimerState = "eligible"
	// TimerForcedEnd means the maximum duration has elapsed; input is
	// disabled and only ending the conversation remains.
	TimerForcedEnd TimerState = "forced_end"
)

// TimerGate evaluates the conversation window against wall-clock time. It
// stores no derived state: every answer is recomputed from the session's
// timer, so it is safe to query on every render tick.
type TimerGate struct {
	min time.Duration
	max time.Duration
}

func NewTimerGate(min, max time.Duration) *TimerGate {
	return &TimerGate{min: min, max: max}
}

// GateView is a pure snapshot of the gate for one instant.
type GateView struct {
	State TimerState `json:"state"`
	// Display is the original countdown format: remaining "MM:SS" while
	// blocked, overtime "+MM:SS" once eligible, frozen at the cap after
	// forced end.
	Display    string `json:"display"`
	CanEnd     bool   `json:"can_end"`
	CanMessage bool   `json:"can_message"`
}

// Evaluate derives the gate state from the timer and the given instant.
func (g *TimerGate) Evaluate(now time.Time, timer *models.Timer) GateView {
	if timer == nil {
		return GateView{State: TimerIdle, Display: "--:--", CanEnd: false, CanMessage: true}
	}
	elapsed := now.Sub(timer.StartedAt)
	switch {
	case elapsed < g.min:
		return GateView{
			State:      TimerBlocked,
			Display:    clock(g.min - elapsed),
			CanEnd:     false,
			CanMessage: true,
		}
	case elapsed < g.max:
		return GateView{
			State:      TimerEligible,
			Display:    "+" + clock(elapsed-g.min),
			CanEnd:     true,
			CanMessage: true,
		}
	default:
		return GateView{
			State:      TimerForcedEnd,
			Display:    "+" + clock(g.max-g.min),
			CanEnd:     true,
			CanMessage: false,
		}
	}
}

// Start returns a timer anchored at now. ForcedEndAt is derived once so the
// persisted row records the cap the participant actually faced.
func (g *TimerGate) Start(now time.Time) *models.Timer {
	return &models.Timer{StartedAt: now, ForcedEndAt: now.Add(g.max)}
}

func clock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Round(time.Second).Seconds())
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
