// Package turn implements the timing side of conversational turn-taking: the
// [SilenceMonitor] watches the listening and speech-detected signals of a
// session and escalates through staged prompts while the learner stays quiet.
package turn

import (
	"context"
	"sync"
	"time"
)

// Default thresholds and tick interval.
const (
	DefaultWarningAfter       = 8 * time.Second
	DefaultEncouragementAfter = 15 * time.Second
	DefaultTimeoutAfter       = 20 * time.Second
	DefaultTick               = 100 * time.Millisecond
)

// Stage is the escalation level of a silence episode.
type Stage int

const (
	// StageActive means no threshold has been crossed in this episode.
	StageActive Stage = iota

	// StageWarned follows the warning threshold.
	StageWarned

	// StageEncouraged follows the encouragement threshold.
	StageEncouraged

	// StageTimedOut follows the timeout threshold. Elapsed time keeps growing
	// but nothing further fires.
	StageTimedOut
)

// String returns the stage name used in events and metrics.
func (s Stage) String() string {
	switch s {
	case StageActive:
		return "active"
	case StageWarned:
		return "warned"
	case StageEncouraged:
		return "encouraged"
	case StageTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// SilenceState is a snapshot of the monitor.
type SilenceState struct {
	Elapsed time.Duration
	Stage   Stage
}

// SilenceConfig configures a [SilenceMonitor]. Zero durations select the
// defaults. Callbacks may be nil; they run on the goroutine that advanced the
// monitor, outside its lock, so they may call back into the monitor.
type SilenceConfig struct {
	WarningAfter       time.Duration
	EncouragementAfter time.Duration
	TimeoutAfter       time.Duration

	// Tick is the re-evaluation period used by [SilenceMonitor.Run].
	Tick time.Duration

	OnWarning       func()
	OnEncouragement func()
	OnTimeout       func()
}

// SilenceMonitor is a timer state machine. The timer runs only while the
// monitor is listening and no speech is detected; leaving that condition
// resets the episode to {0, StageActive}. A stage fires once elapsed time
// exceeds its threshold, at most once per episode, in ascending order.
//
// All methods are safe for concurrent use.
type SilenceMonitor struct {
	thresholds [3]time.Duration
	callbacks  [3]func()
	tick       time.Duration

	mu        sync.Mutex
	listening bool
	speech    bool
	state     SilenceState

	// episode increments on every reset so callbacks collected for an
	// ended episode are dropped.
	episode uint64
}

// NewSilenceMonitor creates a monitor. Thresholds that are not strictly
// increasing fall back to the defaults as a set.
func NewSilenceMonitor(cfg SilenceConfig) *SilenceMonitor {
	th := [3]time.Duration{cfg.WarningAfter, cfg.EncouragementAfter, cfg.TimeoutAfter}
	defaults := [3]time.Duration{DefaultWarningAfter, DefaultEncouragementAfter, DefaultTimeoutAfter}
	for i := range th {
		if th[i] <= 0 {
			th[i] = defaults[i]
		}
	}
	if !(th[0] < th[1] && th[1] < th[2]) {
		th = defaults
	}
	tick := cfg.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	return &SilenceMonitor{
		thresholds: th,
		callbacks:  [3]func(){cfg.OnWarning, cfg.OnEncouragement, cfg.OnTimeout},
		tick:       tick,
	}
}

// SetListening updates the listening signal.
func (m *SilenceMonitor) SetListening(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listening = v
	m.resetIfInactiveLocked()
}

// SetSpeechDetected updates the speech signal.
func (m *SilenceMonitor) SetSpeechDetected(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.speech = v
	m.resetIfInactiveLocked()
}

// Reset ends the current episode without touching the input signals.
func (m *SilenceMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = SilenceState{}
	m.episode++
}

// State returns a snapshot of the current episode.
func (m *SilenceMonitor) State() SilenceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Tick advances the episode by d and fires any stage callbacks whose
// threshold has now been exceeded. It is a no-op unless the monitor is
// listening without speech. A callback is skipped when the episode ended
// after Tick collected it.
func (m *SilenceMonitor) Tick(d time.Duration) {
	m.mu.Lock()
	if !m.listening || m.speech {
		m.mu.Unlock()
		return
	}
	m.state.Elapsed += d
	episode := m.episode

	var fire []func()
	for k := int(m.state.Stage); k < len(m.thresholds); k++ {
		if m.state.Elapsed <= m.thresholds[k] {
			break
		}
		m.state.Stage = Stage(k + 1)
		if cb := m.callbacks[k]; cb != nil {
			fire = append(fire, cb)
		}
	}
	m.mu.Unlock()

	for _, cb := range fire {
		if !m.inEpisode(episode) {
			return
		}
		cb()
	}
}

func (m *SilenceMonitor) inEpisode(episode uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.episode == episode
}

// Run drives [SilenceMonitor.Tick] from a ticker until ctx is cancelled.
func (m *SilenceMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Tick(now.Sub(last))
			last = now
		}
	}
}

// resetIfInactiveLocked clears the episode when the timer condition no longer
// holds. Must be called with m.mu held.
func (m *SilenceMonitor) resetIfInactiveLocked() {
	if !m.listening || m.speech {
		m.state = SilenceState{}
		m.episode++
	}
}
