package conversation

import (
	"github.com/MrWong99/parley/internal/playback"
	"github.com/MrWong99/parley/internal/transcript"
)

// EventType identifies what an [Event] reports.
type EventType string

const (
	// EventTranscript carries the corrected learner utterance.
	EventTranscript EventType = "transcript"

	// EventReply carries the tutor's reply text before it is spoken.
	EventReply EventType = "reply"

	// EventSpeaking reports a flip of the tutor's speaking state.
	EventSpeaking EventType = "speaking"

	// EventSilence reports a silence-monitor escalation.
	EventSilence EventType = "silence"

	// EventSummary carries a refreshed rolling summary.
	EventSummary EventType = "summary"

	// EventError reports a failed turn stage.
	EventError EventType = "error"

	// EventClosed is the last event of a session.
	EventClosed EventType = "closed"
)

// Event is published to the session subscriber. Only the fields relevant to
// Type are set.
type Event struct {
	Type EventType

	// Text is the transcript, reply, summary or error message.
	Text string

	// Original is the uncorrected transcript of an EventTranscript.
	Original string

	// Corrections lists vocabulary substitutions of an EventTranscript.
	Corrections []transcript.Correction

	// Speaking is the new state of an EventSpeaking.
	Speaking bool

	// Stage is "warning", "encouragement" or "timeout" for EventSilence, the
	// failing stage ("transcribe", "complete", "speak") for EventError, and
	// the close reason for EventClosed.
	Stage string

	// Turns is the learner turn count of an EventSummary.
	Turns int
}

// Options are the per-session settings a transport supplies when it opens a
// session on behalf of a client.
type Options struct {
	// Language and Vocabulary override the configured defaults when set.
	Language   string
	Vocabulary []string

	// Sink renders the tutor's audio to the client.
	Sink playback.Sink

	// OnEvent receives the session's events.
	OnEvent func(Event)
}

// Apply copies the non-zero options into cfg.
func (o Options) Apply(cfg *Config) {
	if o.Language != "" {
		cfg.Language = o.Language
	}
	if len(o.Vocabulary) > 0 {
		cfg.Vocabulary = o.Vocabulary
	}
	if o.Sink != nil {
		cfg.Sink = o.Sink
	}
	if o.OnEvent != nil {
		cfg.OnEvent = o.OnEvent
	}
}
