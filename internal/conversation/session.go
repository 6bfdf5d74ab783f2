// Package conversation drives one learner's spoken practice session.
//
// A [Session] owns every per-learner component: the capture framer, the VAD
// session, the silence monitor, the reply player, the filler player, the
// message history and the summary tracker. Audio enters through
// [Session.PushSamples]; speech segments are cut into utterances and each
// utterance runs one turn:
//
//	transcribe → correct vocabulary → complete (filler masks the wait) → speak
//
// Results are published to the subscriber as [Event] values. Sessions share
// nothing mutable with each other except the read-only filler bank and the
// summary cache, so any number of them can run side by side.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/parley/internal/filler"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/playback"
	"github.com/MrWong99/parley/internal/summary"
	"github.com/MrWong99/parley/internal/transcript"
	"github.com/MrWong99/parley/internal/turn"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/localtts"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

// Defaults applied by [New] to zero-valued fields.
const (
	DefaultLanguage             = "es"
	DefaultMaxReplyTokens       = 150
	DefaultTranscriptionTimeout = 15 * time.Second
	DefaultCompletionTimeout    = 30 * time.Second
)

const (
	// maxUtterance cuts an unbroken speech segment into several turns.
	maxUtterance = 30 * time.Second

	replyTemperature = 0.7

	vadSpeechThreshold  = 0.5
	vadSilenceThreshold = 0.35
)

var (
	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("conversation: session closed")

	// ErrAlreadyStarted is returned by a second [Session.Start].
	ErrAlreadyStarted = errors.New("conversation: session already started")
)

// SilenceConfig configures the silence escalation of a session. Zero
// durations select the [turn] defaults; empty prompts publish the event
// without speaking.
type SilenceConfig struct {
	WarningAfter       time.Duration
	EncouragementAfter time.Duration
	TimeoutAfter       time.Duration
	Tick               time.Duration

	WarningPrompt       string
	EncouragementPrompt string
	TimeoutPrompt       string

	// EndOnTimeout speaks TimeoutPrompt and closes the session at the
	// timeout stage. When false the timeout is only published.
	EndOnTimeout bool
}

// Config configures a [Session].
type Config struct {
	// ID identifies the session in logs, events and the summary cache.
	// Default: a random UUID.
	ID string

	// Language is the BCP-47 code of the practised language. Default: "es".
	Language string

	Persona    string
	Vocabulary []string

	MaxReplyTokens       int
	MaxHistory           int
	TranscriptionTimeout time.Duration
	CompletionTimeout    time.Duration

	// Capture framing of the incoming sample stream.
	BufferSize int
	SampleRate int
	QueueDepth int
	Overflow   audio.OverflowPolicy

	Silence SilenceConfig

	// Reply synthesis.
	Voice            string
	PlaybackRate     int
	SynthesisTimeout time.Duration

	// STT, LLM, TTS and Sink are required.
	STT     stt.Provider
	LLM     llm.Provider
	TTS     tts.Provider
	TTSName string
	Sink    playback.Sink

	// Local speaks replies when remote synthesis fails. May be nil.
	Local localtts.Engine

	// VAD segments speech on the server. When nil, segmentation follows
	// the client's [Session.SetSpeechDetected] calls.
	VAD vad.Engine

	// Corrector applies lesson vocabulary to transcripts. May be nil.
	Corrector transcript.Corrector

	// Fillers is the shared filler bank. May be nil.
	Fillers *filler.Bank

	// Summaries and Summariser enable the rolling summary. Both may be nil.
	Summaries    *summary.Cache
	Summariser   summary.Summariser
	SummaryEvery int

	// Metrics may be nil.
	Metrics *observe.Metrics

	// OnEvent receives every published event. It is called from several
	// goroutines, must not block, and must not call [Session.Close].
	OnEvent func(Event)
}

// Session is one learner's conversation. All methods are safe for
// concurrent use.
type Session struct {
	cfg    Config
	prompt string
	log    *slog.Logger

	capturer *audio.Capturer
	vad      vad.SessionHandle
	silence  *turn.SilenceMonitor
	player   *playback.Player
	filler   *filler.Player
	history  *History
	tracker  *summary.Tracker

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error

	// signals carries client speech changes to the frame loop, the only
	// consumer of capture frames once the session has started.
	signals chan speechSignal
	dropped uint64

	// prompting is set while a silence prompt plays. Prompts do not pause
	// the silence monitor; replies do.
	prompting atomic.Bool

	// inTurn is set while a queued turn runs. The learner is not expected
	// to speak while the tutor transcribes and thinks.
	inTurn atomic.Bool

	mu        sync.Mutex
	started   bool
	closed    bool
	stopAfter func() bool
	inSpeech  bool
	utterance []int16
	lastTurn  chan struct{}
	active    context.CancelFunc
}

type speechSignal struct {
	detected bool
	done     chan struct{}
}

// New creates a session. Nothing runs until [Session.Start].
func New(cfg Config) (*Session, error) {
	var errs []error
	if cfg.STT == nil {
		errs = append(errs, errors.New("conversation: stt provider is required"))
	}
	if cfg.LLM == nil {
		errs = append(errs, errors.New("conversation: llm provider is required"))
	}
	if cfg.TTS == nil {
		errs = append(errs, errors.New("conversation: tts provider is required"))
	}
	if cfg.Sink == nil {
		errs = append(errs, errors.New("conversation: sink is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.MaxReplyTokens <= 0 {
		cfg.MaxReplyTokens = DefaultMaxReplyTokens
	}
	if cfg.TranscriptionTimeout <= 0 {
		cfg.TranscriptionTimeout = DefaultTranscriptionTimeout
	}
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = DefaultCompletionTimeout
	}
	cfg.Vocabulary = slices.Clone(cfg.Vocabulary)

	s := &Session{
		cfg:     cfg,
		prompt:  FormatSystemPrompt(cfg.Persona, cfg.Language, cfg.Vocabulary),
		log:     slog.With("session_id", cfg.ID),
		history: NewHistory(cfg.MaxHistory),
		signals: make(chan speechSignal),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.capturer = audio.NewCapturer(cfg.BufferSize,
		audio.WithSampleRate(cfg.SampleRate),
		audio.WithQueueDepth(cfg.QueueDepth),
		audio.WithOverflowPolicy(cfg.Overflow),
	)

	if cfg.VAD != nil {
		frameMs := audio.SamplesDuration(s.capturer.BufferSize(), s.capturer.SampleRate()) / time.Millisecond
		h, err := cfg.VAD.NewSession(vad.Config{
			SampleRate:       s.capturer.SampleRate(),
			FrameSizeMs:      max(int(frameMs), 1),
			SpeechThreshold:  vadSpeechThreshold,
			SilenceThreshold: vadSilenceThreshold,
		})
		if err != nil {
			s.cancel()
			return nil, fmt.Errorf("conversation: vad session: %w", err)
		}
		s.vad = h
	}

	player, err := playback.New(playback.Config{
		Provider:         cfg.TTS,
		ProviderName:     cfg.TTSName,
		Sink:             cfg.Sink,
		Local:            cfg.Local,
		SampleRate:       cfg.PlaybackRate,
		Voice:            cfg.Voice,
		Language:         cfg.Language,
		SynthesisTimeout: cfg.SynthesisTimeout,
		OnBargeIn:        s.onBargeIn,
		OnSpeaking:       s.onSpeaking,
		Metrics:          cfg.Metrics,
	})
	if err != nil {
		s.cancel()
		if s.vad != nil {
			_ = s.vad.Close()
		}
		return nil, fmt.Errorf("conversation: %w", err)
	}
	s.player = player

	if cfg.Fillers != nil {
		s.filler = filler.NewPlayer(cfg.Fillers, cfg.Sink, filler.WithMetrics(cfg.Metrics))
	}

	sc := cfg.Silence
	s.silence = turn.NewSilenceMonitor(turn.SilenceConfig{
		WarningAfter:       sc.WarningAfter,
		EncouragementAfter: sc.EncouragementAfter,
		TimeoutAfter:       sc.TimeoutAfter,
		Tick:               sc.Tick,
		OnWarning:          func() { s.onSilence("warning", sc.WarningPrompt) },
		OnEncouragement:    func() { s.onSilence("encouragement", sc.EncouragementPrompt) },
		OnTimeout:          s.onSilenceTimeout,
	})

	if cfg.Summaries != nil && cfg.Summariser != nil {
		s.tracker = summary.NewTracker(summary.TrackerConfig{
			SessionID:  cfg.ID,
			Cache:      cfg.Summaries,
			Summariser: cfg.Summariser,
			Every:      cfg.SummaryEvery,
			OnUpdate:   s.onSummary,
		})
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.cfg.ID }

// Language returns the practised language code.
func (s *Session) Language() string { return s.cfg.Language }

// Vocabulary returns a copy of the lesson vocabulary.
func (s *Session) Vocabulary() []string { return slices.Clone(s.cfg.Vocabulary) }

// History returns the messages that would accompany the next completion.
func (s *Session) History() []llm.Message { return s.history.Messages() }

// Speaking reports whether the tutor is currently speaking.
func (s *Session) Speaking() bool { return s.player.Speaking() }

// Start begins frame processing and silence monitoring. The session closes
// itself when ctx ends.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	s.stopAfter = context.AfterFunc(ctx, func() { _ = s.Close() })

	s.wg.Go(s.frameLoop)
	s.wg.Go(func() { s.silence.Run(s.ctx) })
	s.silence.SetListening(true)

	s.log.Info("conversation started",
		"language", s.cfg.Language,
		"vocabulary", len(s.cfg.Vocabulary),
		"server_vad", s.vad != nil,
	)
	return nil
}

// PushSamples feeds one block of float samples from the learner's
// microphone. With the block overflow policy it waits while the frame queue
// is full.
func (s *Session) PushSamples(samples []float32) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	s.capturer.Process(samples)
	return nil
}

// SetSpeechDetected reports a speech state change detected by the client.
// With a server VAD it only feeds the silence monitor and barge-in;
// otherwise it also delimits utterances. Samples pushed before the call
// belong to the previous state; it returns once the change is applied.
func (s *Session) SetSpeechDetected(detected bool) {
	if s.vad != nil {
		s.silence.SetSpeechDetected(detected)
		if detected {
			s.BargeIn()
		}
		return
	}

	s.mu.Lock()
	started, closed := s.started, s.closed
	s.mu.Unlock()
	switch {
	case closed:
		return
	case !started:
		// No frame loop yet: the caller is the only consumer.
		s.applySpeech(detected)
		return
	}

	sig := speechSignal{detected: detected, done: make(chan struct{})}
	select {
	case s.signals <- sig:
	case <-s.ctx.Done():
		return
	}
	select {
	case <-sig.done:
	case <-s.ctx.Done():
	}
}

// applySpeech handles every queued frame, then switches the speech state.
func (s *Session) applySpeech(detected bool) {
	s.drainFrames()
	if detected {
		s.speechStarted()
	} else {
		s.speechEnded()
	}
}

// BargeIn stops the tutor mid-reply and discards the rest of the turn. It
// reports whether anything was interrupted.
func (s *Session) BargeIn() bool {
	return s.player.TriggerBargeIn()
}

// Turn runs one full turn for an encoded utterance. An empty transcript ends
// the turn without a completion.
func (s *Session) Turn(ctx context.Context, clip audio.Clip) error {
	ctx, span := observe.StartSessionSpan(ctx, "conversation.turn", s.cfg.ID, s.cfg.Language)
	defer span.End()

	start := time.Now()
	tctx, cancel := context.WithTimeout(ctx, s.cfg.TranscriptionTimeout)
	res, err := s.cfg.STT.Transcribe(tctx, stt.Request{
		Audio:    clip,
		Language: s.cfg.Language,
		Keywords: s.cfg.Vocabulary,
	})
	cancel()
	if m := s.cfg.Metrics; m != nil {
		m.STTDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.publishError("transcribe", err)
		return fmt.Errorf("conversation: transcribe: %w", err)
	}

	text := strings.TrimSpace(res.Text)
	if text == "" {
		s.log.Debug("empty transcript, turn dropped", "audio_bytes", len(clip.Data))
		return nil
	}
	return s.respond(ctx, text, start)
}

// Respond runs a turn for text the learner typed or the client transcribed.
// Blank text is ignored.
func (s *Session) Respond(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if s.isClosed() {
		return ErrSessionClosed
	}
	return s.respond(ctx, text, time.Now())
}

// SubmitText queues a text turn behind any turn in flight and returns
// immediately.
func (s *Session) SubmitText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if !s.enqueue(func(ctx context.Context) error { return s.respond(ctx, text, time.Now()) }) {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) respond(ctx context.Context, text string, start time.Time) error {
	ev := Event{Type: EventTranscript, Text: text, Original: text}
	if s.cfg.Corrector != nil && len(s.cfg.Vocabulary) > 0 {
		res, err := s.cfg.Corrector.Correct(ctx, text, s.cfg.Vocabulary)
		if err != nil {
			s.log.Warn("vocabulary correction failed", "error", err)
		}
		if res != nil {
			ev.Text = res.Text
			ev.Corrections = res.Corrections
		}
	}
	s.publish(ev)
	s.history.Append(llm.Message{Role: llm.RoleUser, Content: ev.Text})

	reply, err := s.complete(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.publishError("complete", err)
		return fmt.Errorf("conversation: complete: %w", err)
	}
	s.publish(Event{Type: EventReply, Text: reply})
	if m := s.cfg.Metrics; m != nil {
		m.TurnDuration.Record(ctx, time.Since(start).Seconds())
	}

	s.prompting.Store(false)
	if err := s.player.Speak(ctx, reply); err != nil {
		if errors.Is(err, playback.ErrInterrupted) || ctx.Err() != nil {
			s.log.Debug("reply interrupted")
			return err
		}
		// The reply text already reached the client, which can speak it
		// itself, so the turn still counts.
		s.publishError("speak", err)
		s.log.Warn("reply playback failed", "error", err)
	}

	s.history.Append(llm.Message{Role: llm.RoleAssistant, Content: reply})
	if m := s.cfg.Metrics; m != nil {
		m.Turns.Add(ctx, 1)
	}
	if s.tracker != nil {
		msgs := s.history.Messages()
		s.spawn(func() { s.tracker.RecordTurn(s.ctx, msgs) })
	}
	return nil
}

// complete asks the model for the next reply while a filler plays.
func (s *Session) complete(ctx context.Context) (string, error) {
	if s.filler != nil {
		s.filler.PlayRandom()
		defer s.filler.Stop()
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.CompletionTimeout)
	defer cancel()

	start := time.Now()
	resp, err := s.cfg.LLM.Complete(cctx, llm.CompletionRequest{
		SystemPrompt: s.prompt,
		Messages:     s.history.Messages(),
		Temperature:  replyTemperature,
		MaxTokens:    s.cfg.MaxReplyTokens,
	})
	if m := s.cfg.Metrics; m != nil {
		m.LLMDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		return "", err
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", llm.ErrEmptyResponse
	}
	return strings.TrimSpace(resp.Content), nil
}

// Close ends the session: playback stops, in-flight turns are cancelled and
// every goroutine is awaited. It is idempotent.
func (s *Session) Close() error {
	return s.closeWithReason("closed")
}

func (s *Session) closeWithReason(reason string) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		stop := s.stopAfter
		s.mu.Unlock()
		if stop != nil {
			stop()
		}

		s.silence.SetListening(false)
		s.cancel()
		s.player.Stop()
		if s.filler != nil {
			s.filler.Stop()
		}
		_ = s.capturer.Close()
		s.wg.Wait()

		if s.vad != nil {
			s.closeErr = s.vad.Close()
		}
		if s.cfg.Summaries != nil {
			s.cfg.Summaries.Delete(s.cfg.ID)
		}
		s.publish(Event{Type: EventClosed, Stage: reason})
		s.log.Info("conversation closed", "reason", reason, "messages", s.history.Len())
	})
	return s.closeErr
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// frameLoop consumes capture frames and client speech signals in arrival
// order until the capturer is closed.
func (s *Session) frameLoop() {
	frames := s.capturer.Frames()
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return
			}
			s.handleFrame(frame)
		case sig := <-s.signals:
			s.applySpeech(sig.detected)
			close(sig.done)
		}
	}
}

// drainFrames handles every frame already queued without waiting for more.
func (s *Session) drainFrames() {
	for {
		select {
		case frame, ok := <-s.capturer.Frames():
			if !ok {
				return
			}
			s.handleFrame(frame)
		default:
			return
		}
	}
}

func (s *Session) handleFrame(frame audio.AudioFrame) {
	s.recordDrops()
	if s.vad != nil {
		ev, err := s.vad.ProcessFrame(frame.Bytes())
		if err != nil {
			s.log.Warn("vad frame failed", "seq", frame.Seq, "error", err)
		} else if ev.InSpeech() {
			s.speechStarted()
		} else {
			s.speechEnded()
		}
	}
	s.appendFrame(frame)
}

func (s *Session) recordDrops() {
	d := s.capturer.Dropped()
	if d == s.dropped {
		return
	}
	if m := s.cfg.Metrics; m != nil {
		m.FramesDropped.Add(s.ctx, int64(d-s.dropped))
	}
	s.log.Debug("capture frames dropped", "total", d)
	s.dropped = d
}

func (s *Session) speechStarted() {
	s.mu.Lock()
	if s.inSpeech {
		s.mu.Unlock()
		return
	}
	s.inSpeech = true
	s.utterance = nil
	s.mu.Unlock()

	s.silence.SetSpeechDetected(true)
	s.BargeIn()
}

func (s *Session) speechEnded() {
	s.mu.Lock()
	if !s.inSpeech {
		s.mu.Unlock()
		return
	}
	s.inSpeech = false
	samples := s.utterance
	s.utterance = nil
	s.mu.Unlock()

	s.silence.SetSpeechDetected(false)
	s.submit(samples)
}

func (s *Session) appendFrame(f audio.AudioFrame) {
	limit := int(int64(f.SampleRate) * int64(maxUtterance) / int64(time.Second))

	s.mu.Lock()
	if !s.inSpeech {
		s.mu.Unlock()
		return
	}
	s.utterance = append(s.utterance, f.Samples...)
	var full []int16
	if len(s.utterance) >= limit {
		full = s.utterance
		s.utterance = nil
	}
	s.mu.Unlock()

	if full != nil {
		s.submit(full)
	}
}

// submit queues a turn for a finished utterance.
func (s *Session) submit(samples []int16) {
	if len(samples) == 0 {
		return
	}
	clip := audio.Clip{
		Data:     audio.EncodeWAV(samples, s.capturer.SampleRate()),
		MIMEType: "audio/wav",
	}
	s.enqueue(func(ctx context.Context) error { return s.Turn(ctx, clip) })
}

// enqueue runs fn after every previously queued turn has finished. The
// running turn's context is cancelled by barge-in and Close.
func (s *Session) enqueue(fn func(ctx context.Context) error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	prev := s.lastTurn
	done := make(chan struct{})
	s.lastTurn = done

	s.wg.Go(func() {
		defer close(done)
		if prev != nil {
			select {
			case <-prev:
			case <-s.ctx.Done():
				return
			}
		}

		ctx, cancel := context.WithCancel(s.ctx)
		defer cancel()
		s.mu.Lock()
		s.active = cancel
		s.mu.Unlock()
		s.inTurn.Store(true)
		s.silence.SetListening(false)

		err := fn(ctx)

		s.mu.Lock()
		s.active = nil
		s.mu.Unlock()
		s.inTurn.Store(false)
		s.updateListening(s.player.Speaking())
		if err != nil && ctx.Err() == nil && !errors.Is(err, playback.ErrInterrupted) {
			s.log.Warn("turn failed", "error", err)
		}
	})
	return true
}

// spawn runs fn on a tracked goroutine unless the session is closed.
func (s *Session) spawn(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.wg.Go(fn)
}

func (s *Session) say(text string) {
	s.prompting.Store(true)
	defer s.prompting.Store(false)
	err := s.player.Speak(s.ctx, text)
	if err != nil && s.ctx.Err() == nil && !errors.Is(err, playback.ErrInterrupted) {
		s.log.Warn("prompt playback failed", "error", err)
	}
}

func (s *Session) onBargeIn() {
	s.mu.Lock()
	cancel := s.active
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.log.Debug("barge-in")
}

// onSpeaking runs with the player's lock held.
func (s *Session) onSpeaking(speaking bool) {
	if !speaking || !s.prompting.Load() {
		s.updateListening(speaking)
	}
	s.publish(Event{Type: EventSpeaking, Speaking: speaking})
}

// updateListening runs the silence timer only while the session waits for
// the learner: open, not speaking and no turn in flight.
func (s *Session) updateListening(speaking bool) {
	s.silence.SetListening(!speaking && !s.inTurn.Load() && !s.isClosed())
}

func (s *Session) onSilence(stage, prompt string) {
	s.log.Info("learner silent", "stage", stage)
	if m := s.cfg.Metrics; m != nil {
		m.RecordSilenceStage(s.ctx, stage)
	}
	s.publish(Event{Type: EventSilence, Stage: stage})
	if prompt != "" {
		s.spawn(func() { s.say(prompt) })
	}
}

func (s *Session) onSilenceTimeout() {
	s.onSilence("timeout", "")
	if !s.cfg.Silence.EndOnTimeout {
		return
	}
	// Untracked: closing waits for every tracked goroutine.
	go func() {
		if p := s.cfg.Silence.TimeoutPrompt; p != "" {
			s.say(p)
		}
		_ = s.closeWithReason("silence_timeout")
	}()
}

func (s *Session) onSummary(e summary.Entry) {
	s.history.SetSummary(e.Summary)
	s.publish(Event{Type: EventSummary, Text: e.Summary, Turns: e.Turns})
}

func (s *Session) publishError(stage string, err error) {
	s.publish(Event{Type: EventError, Stage: stage, Text: err.Error()})
}

func (s *Session) publish(ev Event) {
	if s.cfg.OnEvent != nil {
		s.cfg.OnEvent(ev)
	}
}
