// Package activity normalizes raw idle, focus and interaction signals into a
// single edge-triggered user-activity state.
package activity

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// IdleState is the host-level idle detector state.
type IdleState string

const (
	IdleStateActive IdleState = "active"
	IdleStateIdle   IdleState = "idle"
	IdleStateLocked IdleState = "locked"
)

const (
	// DefaultInactivityWindow is how long a surface may stay silent before it
	// is treated as idle even without an explicit idle signal.
	DefaultInactivityWindow = 60 * time.Second

	// DefaultInteractionThrottle collapses interaction reports arriving
	// within this window so event storms cost one state evaluation.
	DefaultInteractionThrottle = 5 * time.Second
)

// Coordinator merges three independent signal families into one boolean
// activity state. Inputs may arrive at any time, in any order, arbitrarily
// often; duplicates and stale timestamps are absorbed. The onChange callback
// fires exactly once per transition.
type Coordinator struct {
	mu sync.Mutex

	hostIdle bool
	focused  bool

	lastActivity    time.Time
	lastIdleSignal  time.Time
	lastFocusSignal time.Time
	lastInteraction time.Time

	active bool

	inactivityWindow    time.Duration
	interactionThrottle time.Duration

	onChange func(active bool, at time.Time)
}

// New creates a Coordinator. The initial state is active-with-focus, matching
// a host that just started in the foreground.
func New(inactivityWindow, interactionThrottle time.Duration, onChange func(active bool, at time.Time)) *Coordinator {
	if inactivityWindow <= 0 {
		inactivityWindow = DefaultInactivityWindow
	}
	if interactionThrottle <= 0 {
		interactionThrottle = DefaultInteractionThrottle
	}
	return &Coordinator{
		focused:             true,
		active:              true,
		lastActivity:        time.Now(),
		inactivityWindow:    inactivityWindow,
		interactionThrottle: interactionThrottle,
		onChange:            onChange,
	}
}

// ReportIdleSignal applies a host idle-detector state change. Signals at or
// before the last applied idle signal are dropped (last-writer-wins).
func (c *Coordinator) ReportIdleSignal(state IdleState, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if at.Before(c.lastIdleSignal) {
		return
	}
	c.lastIdleSignal = at

	c.hostIdle = state == IdleStateIdle || state == IdleStateLocked
	if !c.hostIdle {
		c.touch(at)
	}
	c.evaluate(at)
}

// ReportFocusSignal applies a window/application focus change.
func (c *Coordinator) ReportFocusSignal(focused bool, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if at.Before(c.lastFocusSignal) {
		return
	}
	c.lastFocusSignal = at

	c.focused = focused
	if focused {
		c.touch(at)
	}
	c.evaluate(at)
}

// ReportInteraction records a content-level user interaction (pointer, key,
// scroll). Reports within the throttle window after the previous one are
// collapsed.
func (c *Coordinator) ReportInteraction(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lastInteraction.IsZero() && at.Sub(c.lastInteraction) < c.interactionThrottle {
		c.touch(at)
		return
	}
	c.lastInteraction = at

	c.touch(at)
	c.evaluate(at)
}

// CheckInactivity is the redundant safety net: invoked periodically, it
// demotes a silent-but-active surface to idle once the inactivity window has
// passed without any interaction.
func (c *Coordinator) CheckInactivity(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active && now.Sub(c.lastActivity) > c.inactivityWindow {
		c.setActive(false, now)
	}
}

// Active returns the current derived activity state.
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// LastActivity returns the most recent evidence of user activity.
func (c *Coordinator) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// touch advances lastActivity, never backward.
func (c *Coordinator) touch(at time.Time) {
	if at.After(c.lastActivity) {
		c.lastActivity = at
	}
}

// evaluate recomputes the derived state. Callers hold the mutex.
func (c *Coordinator) evaluate(now time.Time) {
	derived := c.focused && !c.hostIdle && now.Sub(c.lastActivity) <= c.inactivityWindow
	if derived != c.active {
		c.setActive(derived, now)
	}
}

// setActive records a transition and fires the callback. Callers hold the
// mutex; the callback runs inline, so it must not call back into the
// Coordinator.
func (c *Coordinator) setActive(active bool, at time.Time) {
	c.active = active
	log.Debug().Bool("active", active).Time("at", at).Msg("Activity state changed")
	if c.onChange != nil {
		c.onChange(active, at)
	}
}
