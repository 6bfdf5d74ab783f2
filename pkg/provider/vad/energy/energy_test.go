package energy

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

var testCfg = vad.Config{SampleRate: 16000, FrameSizeMs: 20, SpeechThreshold: 0.5, SilenceThreshold: 0.3}

// tone returns a 20 ms PCM16 sine frame at 16 kHz with the given peak amplitude.
func tone(amp float64) []byte {
	s := make([]int16, 320)
	for i := range s {
		s[i] = int16(amp * 32767 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return audio.EncodePCM16LE(s)
}

func TestSession_SpeechLifecycle(t *testing.T) {
	t.Parallel()

	e := New(WithSmoothing(1), WithHangover(40*time.Millisecond, 100*time.Millisecond))
	h, err := e.NewSession(testCfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer h.Close()

	loud, quiet := tone(0.5), tone(0)
	var got []vad.EventType
	feed := func(frame []byte, n int) {
		for range n {
			ev, err := h.ProcessFrame(frame)
			if err != nil {
				t.Fatalf("ProcessFrame: %v", err)
			}
			got = append(got, ev.Type)
		}
	}
	feed(quiet, 2)
	feed(loud, 3)
	feed(quiet, 5)

	want := []vad.EventType{
		vad.Silence, vad.Silence,
		vad.Silence, vad.SpeechStart, vad.SpeechContinue,
		vad.SpeechContinue, vad.SpeechContinue, vad.SpeechContinue, vad.SpeechContinue, vad.SpeechEnd,
	}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSession_ShortBlipIgnored(t *testing.T) {
	t.Parallel()

	e := New(WithSmoothing(1), WithHangover(60*time.Millisecond, 100*time.Millisecond))
	h, _ := e.NewSession(testCfg)

	for _, f := range [][]byte{tone(0.5), tone(0), tone(0.5), tone(0)} {
		ev, _ := h.ProcessFrame(f)
		if ev.Type != vad.Silence {
			t.Fatalf("blip triggered %v", ev.Type)
		}
	}
}

func TestSession_ResetAndClose(t *testing.T) {
	t.Parallel()

	e := New(WithSmoothing(1), WithHangover(0, 100*time.Millisecond))
	h, _ := e.NewSession(testCfg)
	if ev, _ := h.ProcessFrame(tone(0.5)); ev.Type != vad.SpeechStart {
		t.Fatalf("got %v, want SpeechStart", ev.Type)
	}
	h.Reset()
	if ev, _ := h.ProcessFrame(tone(0)); ev.Type != vad.Silence {
		t.Errorf("after Reset got %v, want Silence", ev.Type)
	}

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := h.ProcessFrame(tone(0)); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestNewSession_InvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  vad.Config
	}{
		{"zero rate", vad.Config{FrameSizeMs: 20, SpeechThreshold: 0.5}},
		{"zero frame", vad.Config{SampleRate: 16000, SpeechThreshold: 0.5}},
		{"silence above speech", vad.Config{SampleRate: 16000, FrameSizeMs: 20, SpeechThreshold: 0.3, SilenceThreshold: 0.5}},
		{"speech above one", vad.Config{SampleRate: 16000, FrameSizeMs: 20, SpeechThreshold: 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New().NewSession(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}
