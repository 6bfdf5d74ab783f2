package llm_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

func TestCollectStream(t *testing.T) {
	t.Parallel()

	ch := make(chan llm.Chunk, 3)
	ch <- llm.Chunk{Text: "¡Hola, "}
	ch <- llm.Chunk{Text: "amigo!"}
	ch <- llm.Chunk{FinishReason: "stop"}
	close(ch)

	got, err := llm.CollectStream(ch)
	if err != nil {
		t.Fatalf("CollectStream: %v", err)
	}
	if got != "¡Hola, amigo!" {
		t.Errorf("got %q", got)
	}
}

func TestCollectStream_Error(t *testing.T) {
	t.Parallel()

	ch := make(chan llm.Chunk, 2)
	ch <- llm.Chunk{Text: "partial"}
	ch <- llm.Chunk{FinishReason: "error", Text: "connection reset"}
	close(ch)

	got, err := llm.CollectStream(ch)
	var se *llm.StreamError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StreamError", err)
	}
	if se.Message != "connection reset" || got != "partial" {
		t.Errorf("got (%q, %q)", got, se.Message)
	}
}
