// Package respawn governs when dead clients rejoin the round: a shuttle is
// dispatched after a countdown, carries the respawned crew for a bounded
// transport time, then returns and the cycle re-arms.
package respawn

import (
	"time"

	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// State is the stage of the respawn cycle.
type State int

const (
	// StateIdle means respawning is disabled for the current round.
	StateIdle State = iota
	StateWaiting
	StateDispatching
	StateTransporting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StateDispatching:
		return "dispatching"
	case StateTransporting:
		return "transporting"
	}
	return "unknown"
}

// Coordinator is the timer-driven respawn state machine. It is ticked by
// the round update loop; eligibility ("enough dead clients, minimum
// interval elapsed") is decided externally and pushed in through
// SetCountdownStarted.
type Coordinator struct {
	state State

	dispatchDelay time.Duration
	transportTime time.Duration

	dispatchRemaining  time.Duration
	transportRemaining time.Duration

	countdownStarted bool

	onDispatch func()
	onReturn   func()
}

// Cfg configures a Coordinator.
type Cfg func(*Coordinator)

// WithOnDispatch sets the callback fired when the shuttle launches.
func WithOnDispatch(fn func()) Cfg {
	return func(c *Coordinator) { c.onDispatch = fn }
}

// WithOnReturn sets the callback fired when the shuttle is recalled.
func WithOnReturn(fn func()) Cfg {
	return func(c *Coordinator) { c.onReturn = fn }
}

// New creates an idle Coordinator.
func New(dispatchDelay, transportTime time.Duration, cfgs ...Cfg) *Coordinator {
	c := &Coordinator{
		dispatchDelay: dispatchDelay,
		transportTime: transportTime,
	}
	for _, cfg := range cfgs {
		cfg(c)
	}
	return c
}

// State returns the current stage.
func (c *Coordinator) State() State { return c.state }

// DispatchRemaining returns the time left on the dispatch countdown.
func (c *Coordinator) DispatchRemaining() time.Duration { return c.dispatchRemaining }

// CountdownStarted reports whether the dispatch countdown is running.
func (c *Coordinator) CountdownStarted() bool { return c.countdownStarted }

// Arm starts a round's respawn cycle in the waiting stage.
func (c *Coordinator) Arm() {
	c.state = StateWaiting
	c.dispatchRemaining = c.dispatchDelay
	c.transportRemaining = 0
	c.countdownStarted = false
}

// Disarm stops the cycle, used at round end.
func (c *Coordinator) Disarm() {
	c.state = StateIdle
	c.countdownStarted = false
}

// SetCountdownStarted pauses or resumes the dispatch countdown. Clearing
// eligibility stops the clock but does not rewind it.
func (c *Coordinator) SetCountdownStarted(started bool) {
	c.countdownStarted = started
}

// ForceDispatch skips the rest of the countdown, used when the dead-client
// predicate crosses its own bound.
func (c *Coordinator) ForceDispatch() {
	if c.state == StateWaiting {
		c.dispatchRemaining = 0
		c.countdownStarted = true
	}
}

// ShuttleArrived recalls the shuttle early, e.g. when the simulation
// reports it docked back at its origin.
func (c *Coordinator) ShuttleArrived() {
	if c.state == StateTransporting {
		c.transportRemaining = 0
	}
}

// Update advances the machine by dt.
func (c *Coordinator) Update(dt time.Duration) {
	switch c.state {
	case StateWaiting:
		if !c.countdownStarted {
			return
		}
		c.dispatchRemaining -= dt
		if c.dispatchRemaining > 0 {
			return
		}
		c.state = StateDispatching
		logger.WithField("state", c.state.String()).Debug("respawn shuttle dispatching")
		if c.onDispatch != nil {
			c.onDispatch()
		}
		c.state = StateTransporting
		c.transportRemaining = c.transportTime

	case StateTransporting:
		c.transportRemaining -= dt
		if c.transportRemaining > 0 {
			return
		}
		logger.Debug("respawn shuttle returning")
		if c.onReturn != nil {
			c.onReturn()
		}
		c.state = StateWaiting
		c.dispatchRemaining = c.dispatchDelay
		c.countdownStarted = false
	}
}
