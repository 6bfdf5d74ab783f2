package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{
		Providers: config.ProvidersConfig{
			LLM: config.ProviderEntry{Name: "openai", Options: map[string]any{"temperature": 0.7}},
		},
		Conversation: config.ConversationConfig{
			Persona:    "Friendly tutor",
			Vocabulary: []string{"la biblioteca"},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		mutate       func(*config.Config)
		wantLog      bool
		wantConv     bool
		wantSilence  bool
		wantRestarts []string
	}{
		{
			name:   "no changes",
			mutate: func(*config.Config) {},
		},
		{
			name:    "log level",
			mutate:  func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			wantLog: true,
		},
		{
			name:     "vocabulary",
			mutate:   func(c *config.Config) { c.Conversation.Vocabulary = append(c.Conversation.Vocabulary, "el mercado") },
			wantConv: true,
		},
		{
			name:     "correction mode",
			mutate:   func(c *config.Config) { c.Conversation.Correction = config.CorrectionOff },
			wantConv: true,
		},
		{
			name:        "silence prompt",
			mutate:      func(c *config.Config) { c.Silence.WarningPrompt = "¿Sigues ahí?" },
			wantSilence: true,
		},
		{
			name:        "silence threshold",
			mutate:      func(c *config.Config) { c.Silence.TimeoutAfter = 30 * time.Second },
			wantSilence: true,
		},
		{
			name:         "provider option",
			mutate:       func(c *config.Config) { c.Providers.LLM.Options = map[string]any{"temperature": 0.2} },
			wantRestarts: []string{"providers"},
		},
		{
			name:         "fallback added",
			mutate:       func(c *config.Config) { c.Providers.Fallbacks.LLM = []config.ProviderEntry{{Name: "ollama"}} },
			wantRestarts: []string{"providers"},
		},
		{
			name: "listen addr and filler",
			mutate: func(c *config.Config) {
				c.Server.ListenAddr = ":9090"
				c.Filler.Phrases = []string{"Mmm..."}
			},
			wantRestarts: []string{"server", "filler"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := baseConfig(), baseConfig()
			tt.mutate(new)

			d := config.Diff(old, new)
			if d.LogLevelChanged != tt.wantLog {
				t.Errorf("LogLevelChanged = %v, want %v", d.LogLevelChanged, tt.wantLog)
			}
			if d.ConversationChanged != tt.wantConv {
				t.Errorf("ConversationChanged = %v, want %v", d.ConversationChanged, tt.wantConv)
			}
			if d.SilencePromptsChanged != tt.wantSilence {
				t.Errorf("SilencePromptsChanged = %v, want %v", d.SilencePromptsChanged, tt.wantSilence)
			}
			if !slices.Equal(d.RestartRequired, tt.wantRestarts) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tt.wantRestarts)
			}
			wantEmpty := !tt.wantLog && !tt.wantConv && !tt.wantSilence && len(tt.wantRestarts) == 0
			if d.IsEmpty() != wantEmpty {
				t.Errorf("IsEmpty = %v, want %v", d.IsEmpty(), wantEmpty)
			}
		})
	}
}
