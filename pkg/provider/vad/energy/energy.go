// Package energy provides a dependency-free VAD engine based on the smoothed
// RMS energy of each PCM16 frame.
//
// The engine maps frame RMS to a pseudo-probability, then applies two
// thresholds with hysteresis: a session enters speech once the probability
// has stayed above SpeechThreshold for the start hangover, and leaves it once
// the probability has stayed below SilenceThreshold for the stop hangover.
// Hangovers are counted in frames, so results do not depend on wall-clock
// time.
package energy

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/provider/vad"
)

const (
	defaultMinRMS   = 0.01
	defaultMaxRMS   = 0.25
	defaultAlpha    = 0.5
	defaultStartDur = 60 * time.Millisecond
	defaultStopDur  = 600 * time.Millisecond
)

// ErrClosed is returned by ProcessFrame after the session has been closed.
var ErrClosed = errors.New("energy vad: session closed")

// Option configures an [Engine].
type Option func(*Engine)

// WithRMSRange sets the RMS values mapped to probability 0 and 1. Normalised
// speech RMS is typically 0.05–0.3.
func WithRMSRange(lo, hi float64) Option {
	return func(e *Engine) {
		if lo >= 0 && hi > lo {
			e.minRMS, e.maxRMS = lo, hi
		}
	}
}

// WithSmoothing sets the exponential smoothing factor in (0, 1]. 1 disables
// smoothing.
func WithSmoothing(alpha float64) Option {
	return func(e *Engine) {
		if alpha > 0 && alpha <= 1 {
			e.alpha = alpha
		}
	}
}

// WithHangover sets how long the probability must stay above (start) or below
// (stop) the thresholds before the session changes state.
func WithHangover(start, stop time.Duration) Option {
	return func(e *Engine) {
		if start >= 0 {
			e.startDur = start
		}
		if stop >= 0 {
			e.stopDur = stop
		}
	}
}

// Engine implements [vad.Engine]. It is stateless and safe for concurrent use.
type Engine struct {
	minRMS, maxRMS    float64
	alpha             float64
	startDur, stopDur time.Duration
}

var _ vad.Engine = (*Engine)(nil)

// New returns an Engine with the given options applied.
func New(opts ...Option) *Engine {
	e := &Engine{
		minRMS:   defaultMinRMS,
		maxRMS:   defaultMaxRMS,
		alpha:    defaultAlpha,
		startDur: defaultStartDur,
		stopDur:  defaultStopDur,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	frame := time.Duration(cfg.FrameSizeMs) * time.Millisecond
	return &session{
		eng:         e,
		cfg:         cfg,
		startFrames: framesFor(e.startDur, frame),
		stopFrames:  framesFor(e.stopDur, frame),
	}, nil
}

// framesFor converts d into a whole number of frames, at least one.
func framesFor(d, frame time.Duration) int {
	n := int((d + frame - 1) / frame)
	return max(n, 1)
}

type session struct {
	eng         *Engine
	cfg         vad.Config
	startFrames int
	stopFrames  int

	mu       sync.Mutex
	smoothed float64
	speaking bool
	run      int // consecutive frames pulling toward the other state
	closed   bool
}

// ProcessFrame implements [vad.SessionHandle].
func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Event{}, ErrClosed
	}

	s.smoothed = s.eng.alpha*rms(frame) + (1-s.eng.alpha)*s.smoothed
	p := s.probability(s.smoothed)

	if !s.speaking {
		if p >= s.cfg.SpeechThreshold {
			s.run++
		} else {
			s.run = 0
		}
		if s.run >= s.startFrames {
			s.speaking, s.run = true, 0
			return vad.Event{Type: vad.SpeechStart, Probability: p}, nil
		}
		return vad.Event{Type: vad.Silence, Probability: p}, nil
	}

	if p < s.cfg.SilenceThreshold {
		s.run++
	} else {
		s.run = 0
	}
	if s.run >= s.stopFrames {
		s.speaking, s.run = false, 0
		return vad.Event{Type: vad.SpeechEnd, Probability: p}, nil
	}
	return vad.Event{Type: vad.SpeechContinue, Probability: p}, nil
}

func (s *session) probability(r float64) float64 {
	if r <= s.eng.minRMS {
		return 0
	}
	p := (r - s.eng.minRMS) / (s.eng.maxRMS - s.eng.minRMS)
	return math.Min(p, 1)
}

// Reset implements [vad.SessionHandle].
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.smoothed, s.speaking, s.run = 0, false, 0
}

// Close implements [vad.SessionHandle].
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// rms returns the root mean square of little-endian PCM16 samples normalised
// to [-1, 1].
func rms(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(frame[i*2:]))) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
