package config

import (
	"fmt"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only settings that apply to sessions opened after the reload are tracked;
// everything else needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ConversationChanged is true when the persona, target language,
	// vocabulary, correction mode or reply limits changed.
	ConversationChanged bool

	// SilencePromptsChanged is true when any silence threshold or prompt
	// changed.
	SilencePromptsChanged bool

	// RestartRequired lists the top-level sections that changed but cannot
	// be hot-reloaded.
	RestartRequired []string
}

// IsEmpty reports whether d describes no change at all.
func (d ConfigDiff) IsEmpty() bool {
	return !d.LogLevelChanged && !d.ConversationChanged && !d.SilencePromptsChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oc, nc := old.Conversation, new.Conversation
	if oc.TargetLanguage != nc.TargetLanguage ||
		oc.Persona != nc.Persona ||
		oc.Correction != nc.Correction ||
		oc.MaxReplyTokens != nc.MaxReplyTokens ||
		oc.MaxHistory != nc.MaxHistory ||
		oc.TranscriptionTimeout != nc.TranscriptionTimeout ||
		oc.CompletionTimeout != nc.CompletionTimeout ||
		!slices.Equal(oc.Vocabulary, nc.Vocabulary) {
		d.ConversationChanged = true
	}

	if old.Silence != new.Silence {
		d.SilencePromptsChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) ||
		!sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !sameProviders(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Capture != new.Capture {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	if old.Playback != new.Playback {
		d.RestartRequired = append(d.RestartRequired, "playback")
	}
	if old.Filler.Disabled != new.Filler.Disabled || !slices.Equal(old.Filler.Phrases, new.Filler.Phrases) {
		d.RestartRequired = append(d.RestartRequired, "filler")
	}
	if old.Summary != new.Summary {
		d.RestartRequired = append(d.RestartRequired, "summary")
	}
	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameProviders(a, b ProvidersConfig) bool {
	return sameEntry(a.LLM, b.LLM) && sameEntry(a.STT, b.STT) && sameEntry(a.TTS, b.TTS) &&
		sameEntry(a.LocalTTS, b.LocalTTS) && sameEntry(a.VAD, b.VAD) &&
		slices.EqualFunc(a.Fallbacks.LLM, b.Fallbacks.LLM, sameEntry) &&
		slices.EqualFunc(a.Fallbacks.STT, b.Fallbacks.STT, sameEntry) &&
		slices.EqualFunc(a.Fallbacks.TTS, b.Fallbacks.TTS, sameEntry)
}

// sameEntry compares entries field by field. Options are compared by key
// set and formatted value, which is enough to notice edits in YAML.
func sameEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, av := range a.Options {
		bv, ok := b.Options[k]
		if !ok || !sameValue(av, bv) {
			return false
		}
	}
	return true
}

func sameValue(a, b any) bool {
	return fmt.Sprintf("%#v", a) == fmt.Sprintf("%#v", b)
}
