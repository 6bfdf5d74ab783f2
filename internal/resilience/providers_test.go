package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/llm"
	llmmock "github.com/MrWong99/parley/pkg/provider/llm/mock"
	"github.com/MrWong99/parley/pkg/provider/stt"
	sttmock "github.com/MrWong99/parley/pkg/provider/stt/mock"
	"github.com/MrWong99/parley/pkg/provider/tts"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
)

var testCfg = FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour}}

func TestLLMFallback_Complete(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{CompleteErr: errors.New("429 rate limited")}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "¡Muy bien!"}}
	fb := NewLLMFallback(primary, "openai", testCfg)
	fb.AddFallback("ollama", secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{MaxTokens: 150})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "¡Muy bien!" {
		t.Errorf("Content = %q", resp.Content)
	}
	if primary.CompleteCallCount() != 1 || secondary.CompleteCallCount() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primary.CompleteCallCount(), secondary.CompleteCallCount())
	}
	if req, _ := secondary.LastCompleteRequest(); req.MaxTokens != 150 {
		t.Errorf("fallback received MaxTokens %d, want the original request", req.MaxTokens)
	}
}

func TestLLMFallback_NilResponseFailsOver(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	fb := NewLLMFallback(primary, "a", testCfg)
	fb.AddFallback("b", secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil || resp.Content != "ok" {
		t.Fatalf("got (%+v, %v)", resp, err)
	}
}

func TestLLMFallback_Capabilities(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{ModelCapabilities: llm.ModelCapabilities{ContextWindow: 128000}}
	fb := NewLLMFallback(primary, "openai", testCfg)
	fb.AddFallback("other", &llmmock.Provider{})
	if got := fb.Capabilities().ContextWindow; got != 128000 {
		t.Errorf("ContextWindow = %d, want the primary's", got)
	}
}

func TestSTTFallback_Transcribe(t *testing.T) {
	t.Parallel()

	clip := audio.Clip{Data: audio.EncodeWAV(make([]int16, 160), 16000), MIMEType: "audio/wav"}

	t.Run("failover", func(t *testing.T) {
		t.Parallel()
		primary := &sttmock.Provider{Err: errors.New("503")}
		secondary := &sttmock.Provider{Result: stt.Result{Text: "hola"}}
		fb := NewSTTFallback(primary, "whisper", testCfg)
		fb.AddFallback("deepgram", secondary)

		res, err := fb.Transcribe(context.Background(), stt.Request{Audio: clip, Language: "es"})
		if err != nil || res.Text != "hola" {
			t.Fatalf("got (%+v, %v)", res, err)
		}
		if req, _ := secondary.LastRequest(); req.Language != "es" {
			t.Errorf("fallback Language = %q", req.Language)
		}
	})

	t.Run("empty transcript is an answer", func(t *testing.T) {
		t.Parallel()
		primary := &sttmock.Provider{Result: stt.Result{}}
		secondary := &sttmock.Provider{Result: stt.Result{Text: "never"}}
		fb := NewSTTFallback(primary, "whisper", testCfg)
		fb.AddFallback("deepgram", secondary)

		res, err := fb.Transcribe(context.Background(), stt.Request{Audio: clip})
		if err != nil || res.Text != "" {
			t.Fatalf("got (%+v, %v)", res, err)
		}
		if secondary.CallCount() != 0 {
			t.Error("fallback consulted for an empty transcript")
		}
	})

	t.Run("no audio", func(t *testing.T) {
		t.Parallel()
		primary := &sttmock.Provider{}
		fb := NewSTTFallback(primary, "whisper", testCfg)

		_, err := fb.Transcribe(context.Background(), stt.Request{})
		if !errors.Is(err, stt.ErrNoAudio) {
			t.Fatalf("err = %v, want ErrNoAudio", err)
		}
		if primary.CallCount() != 0 {
			t.Error("provider called without audio")
		}
	})
}

func TestTTSFallback_Synthesize(t *testing.T) {
	t.Parallel()

	good := ttsmock.WAVResult(200*time.Millisecond, 24000)

	t.Run("non-audio payload fails over", func(t *testing.T) {
		t.Parallel()
		primary := &ttsmock.Provider{Result: tts.Result{Audio: []byte(`{"detail":"quota"}`), MIMEType: "application/json"}}
		secondary := &ttsmock.Provider{Result: good}
		fb := NewTTSFallback(primary, "elevenlabs", testCfg)
		fb.AddFallback("openai", secondary)

		res, err := fb.Synthesize(context.Background(), tts.Request{Text: "Hola"})
		if err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
		if res.MIMEType != good.MIMEType {
			t.Errorf("MIMEType = %q", res.MIMEType)
		}
		if got := secondary.Texts(); len(got) != 1 || got[0] != "Hola" {
			t.Errorf("fallback texts = %v", got)
		}
	})

	t.Run("all fail", func(t *testing.T) {
		t.Parallel()
		fb := NewTTSFallback(&ttsmock.Provider{Err: errors.New("down")}, "a", testCfg)
		fb.AddFallback("b", &ttsmock.Provider{Err: errors.New("also down")})

		_, err := fb.Synthesize(context.Background(), tts.Request{Text: "Hola"})
		if !errors.Is(err, ErrAllFailed) {
			t.Fatalf("err = %v, want ErrAllFailed", err)
		}
		if !fb.Group().Healthy() {
			t.Error("one failure each must not open a breaker with MaxFailures 2")
		}
	})
}

// plainTTS implements tts.Provider without listing voices.
type plainTTS struct{}

func (plainTTS) Synthesize(context.Context, tts.Request) (tts.Result, error) {
	return tts.Result{}, errors.New("unused")
}

func TestTTSFallback_ListVoices(t *testing.T) {
	t.Parallel()

	voices := []tts.Voice{{ID: "rachel", Name: "Rachel", Provider: "elevenlabs"}}
	fb := NewTTSFallback(plainTTS{}, "coqui", testCfg)
	fb.AddFallback("elevenlabs", &ttsmock.Provider{Voices: voices})

	got, err := fb.ListVoices(context.Background())
	if err != nil || len(got) != 1 || got[0].ID != "rachel" {
		t.Fatalf("got (%+v, %v)", got, err)
	}

	only := NewTTSFallback(plainTTS{}, "coqui", testCfg)
	if _, err := only.ListVoices(context.Background()); !errors.Is(err, ErrNoVoiceList) {
		t.Errorf("err = %v, want ErrNoVoiceList", err)
	}
}
