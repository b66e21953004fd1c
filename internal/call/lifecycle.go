package call

import "time"

// State is the lifecycle phase of a call.
type State int

const (
	StateSettling State = iota
	StateGreeting
	StateListening
	StateSpeaking
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateSettling:
		return "settling"
	case StateGreeting:
		return "greeting"
	case StateListening:
		return "listening"
	case StateSpeaking:
		return "speaking"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// WatchAction is what the [Watchdog] asks the session to do.
type WatchAction int

const (
	ActionNone WatchAction = iota
	ActionPrompt
	ActionHangupInactive
	ActionHangupMaxDuration
)

func (a WatchAction) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionPrompt:
		return "prompt"
	case ActionHangupInactive:
		return "hangup_inactive"
	case ActionHangupMaxDuration:
		return "hangup_max_duration"
	default:
		return "unknown"
	}
}

// WatchState is the session's activity as seen by the watchdog.
type WatchState struct {
	// Busy is true while a pipeline runs, the caller is mid-utterance or
	// agent audio is playing.
	Busy bool

	// Listening is true when the call is in [StateListening].
	Listening bool
}

// Watchdog implements the inactivity and max-duration timers. It is owned
// by the session loop.
type Watchdog struct {
	cfg          LifecycleConfig
	started      time.Time
	lastActivity time.Time
	prompted     bool
	maxFired     bool
}

// NewWatchdog returns a Watchdog whose clocks start at now.
func NewWatchdog(cfg LifecycleConfig, now time.Time) *Watchdog {
	return &Watchdog{cfg: cfg, started: now, lastActivity: now}
}

// Touch restarts the silence period.
func (w *Watchdog) Touch(now time.Time) {
	w.lastActivity = now
	w.prompted = false
}

// Silence returns how long the call has been silent at now.
func (w *Watchdog) Silence(now time.Time) time.Duration {
	return now.Sub(w.lastActivity)
}

// Check evaluates both timers. Nothing fires while st.Busy, so a live
// exchange is never cut off; an expired timer fires on the first check after
// the exchange ends.
func (w *Watchdog) Check(now time.Time, st WatchState) WatchAction {
	if st.Busy {
		return ActionNone
	}
	if !w.maxFired && w.cfg.MaxCallDuration > 0 && now.Sub(w.started) >= w.cfg.MaxCallDuration {
		w.maxFired = true
		return ActionHangupMaxDuration
	}
	if !st.Listening {
		return ActionNone
	}
	silence := now.Sub(w.lastActivity)
	if w.cfg.InactivityHangup > 0 && silence >= w.cfg.InactivityHangup {
		return ActionHangupInactive
	}
	if !w.prompted && w.cfg.InactivityPrompt > 0 && silence >= w.cfg.InactivityPrompt {
		w.prompted = true
		return ActionPrompt
	}
	return ActionNone
}
