package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/conversation"
	"github.com/MrWong99/parley/internal/filler"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/summary"
	"github.com/MrWong99/parley/internal/transcript"
	"github.com/MrWong99/parley/pkg/audio"
)

var (
	// ErrSessionExists is returned by [Sessions.Open] for an id that is
	// already live.
	ErrSessionExists = errors.New("app: session already exists")

	// ErrSessionNotFound is returned for an id that is not live.
	ErrSessionNotFound = errors.New("app: session not found")

	// ErrShuttingDown is returned by [Sessions.Open] after
	// [Sessions.CloseAll].
	ErrShuttingDown = errors.New("app: shutting down")
)

// SessionInfo holds metadata about a live session.
type SessionInfo struct {
	SessionID string    `json:"session_id"`
	Language  string    `json:"language"`
	StartedAt time.Time `json:"started_at"`
}

// SessionsConfig holds the shared collaborators handed to every session.
type SessionsConfig struct {
	// Config returns the configuration new sessions are built from. It is
	// called once per Open so reloaded settings apply to the next session.
	Config func() *config.Config

	Providers *Providers

	// Corrector returns the transcript corrector for a correction mode.
	// May return nil.
	Corrector func(config.CorrectionMode) transcript.Corrector

	Fillers    *filler.Bank
	Summaries  *summary.Cache
	Summariser summary.Summariser
	Metrics    *observe.Metrics
}

type liveSession struct {
	sess *conversation.Session
	info SessionInfo
	gone bool
}

// Sessions is the registry of live conversation sessions. Each session owns
// its own capture, playback and silence components; only the filler bank and
// the summary cache are shared. All methods are safe for concurrent use.
type Sessions struct {
	cfg SessionsConfig

	mu       sync.Mutex
	sessions map[string]*liveSession
	closed   bool
}

// NewSessions creates an empty registry.
func NewSessions(cfg SessionsConfig) *Sessions {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Corrector == nil {
		cfg.Corrector = func(config.CorrectionMode) transcript.Corrector { return nil }
	}
	return &Sessions{
		cfg:      cfg,
		sessions: make(map[string]*liveSession),
	}
}

// Open builds a session from the current configuration, applies opts and
// starts it. An empty id selects a random one. The session leaves the
// registry when it closes, whether through [Sessions.Close], its own silence
// timeout, or the end of ctx.
func (s *Sessions) Open(ctx context.Context, id string, opts conversation.Options) (*conversation.Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	ls := &liveSession{info: SessionInfo{SessionID: id, StartedAt: time.Now().UTC()}}

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return nil, ErrShuttingDown
	case s.sessions[id] != nil:
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	s.sessions[id] = ls
	s.mu.Unlock()

	cfg := s.sessionConfig(id)
	opts.Apply(&cfg)
	onEvent := cfg.OnEvent
	cfg.OnEvent = func(ev conversation.Event) {
		if onEvent != nil {
			onEvent(ev)
		}
		if ev.Type == conversation.EventClosed {
			s.forget(id, ls)
		}
	}

	sess, err := conversation.New(cfg)
	if err != nil {
		s.forget(id, ls)
		return nil, fmt.Errorf("app: open session %s: %w", id, err)
	}
	if err := sess.Start(ctx); err != nil {
		s.forget(id, ls)
		_ = sess.Close()
		return nil, fmt.Errorf("app: start session %s: %w", id, err)
	}

	s.mu.Lock()
	ls.sess = sess
	ls.info.Language = sess.Language()
	live := !ls.gone
	s.mu.Unlock()

	if live {
		s.cfg.Metrics.ActiveSessions.Add(ctx, 1)
	}
	slog.Info("session opened",
		"session_id", id,
		"language", sess.Language(),
		"vocabulary", len(sess.Vocabulary()),
	)
	return sess, nil
}

// forget removes ls from the registry once.
func (s *Sessions) forget(id string, ls *liveSession) {
	s.mu.Lock()
	if s.sessions[id] == ls {
		delete(s.sessions, id)
	}
	counted := ls.sess != nil && !ls.gone
	ls.gone = true
	s.mu.Unlock()

	if counted {
		s.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)
		slog.Info("session closed", "session_id", id, "duration", time.Since(ls.info.StartedAt).Round(time.Second))
	}
}

// Get returns the live session with the given id.
func (s *Sessions) Get(id string) (*conversation.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.sessions[id]
	if !ok || ls.sess == nil {
		return nil, false
	}
	return ls.sess, true
}

// List returns metadata of every live session, oldest first.
func (s *Sessions) List() []SessionInfo {
	s.mu.Lock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for _, ls := range s.sessions {
		if ls.sess != nil {
			out = append(out, ls.info)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close ends the session with the given id.
func (s *Sessions) Close(id string) error {
	sess, ok := s.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess.Close()
}

// CloseAll rejects further opens and closes every live session
// concurrently. It returns ctx's error if ctx ends first.
func (s *Sessions) CloseAll(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	live := make([]*conversation.Session, 0, len(s.sessions))
	for _, ls := range s.sessions {
		if ls.sess != nil {
			live = append(live, ls.sess)
		}
	}
	s.mu.Unlock()

	var g errgroup.Group
	for _, sess := range live {
		g.Go(sess.Close)
	}
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sessionConfig maps the current configuration onto a session config.
func (s *Sessions) sessionConfig(id string) conversation.Config {
	c := s.cfg.Config()
	p := s.cfg.Providers

	overflow, err := audio.ParseOverflowPolicy(c.Capture.Overflow)
	if err != nil {
		overflow = audio.DropOldest
	}

	cc := conversation.Config{
		ID:                   id,
		Language:             c.Conversation.TargetLanguage,
		Persona:              c.Conversation.Persona,
		Vocabulary:           c.Conversation.Vocabulary,
		MaxReplyTokens:       c.Conversation.MaxReplyTokens,
		MaxHistory:           c.Conversation.MaxHistory,
		TranscriptionTimeout: c.Conversation.TranscriptionTimeout,
		CompletionTimeout:    c.Conversation.CompletionTimeout,

		BufferSize: c.Capture.BufferSize,
		SampleRate: c.Capture.SampleRate,
		QueueDepth: c.Capture.QueueDepth,
		Overflow:   overflow,

		Silence: conversation.SilenceConfig{
			WarningAfter:        c.Silence.WarningAfter,
			EncouragementAfter:  c.Silence.EncouragementAfter,
			TimeoutAfter:        c.Silence.TimeoutAfter,
			Tick:                c.Silence.Tick,
			WarningPrompt:       c.Silence.WarningPrompt,
			EncouragementPrompt: c.Silence.EncouragementPrompt,
			TimeoutPrompt:       c.Silence.TimeoutPrompt,
			EndOnTimeout:        c.Silence.EndOnTimeout,
		},

		Voice:            c.Playback.Voice,
		PlaybackRate:     c.Playback.SampleRate,
		SynthesisTimeout: c.Playback.SynthesisTimeout,

		Corrector:    s.cfg.Corrector(c.Conversation.Correction),
		Fillers:      s.cfg.Fillers,
		Summaries:    s.cfg.Summaries,
		Summariser:   s.cfg.Summariser,
		SummaryEvery: c.Summary.EveryTurns,
		Metrics:      s.cfg.Metrics,
	}
	if p != nil {
		cc.STT = p.STT
		cc.LLM = p.LLM
		cc.TTS = p.TTS
		cc.TTSName = c.Providers.TTS.Name
		cc.Local = p.LocalTTS
		cc.VAD = p.VAD
	}
	return cc
}
