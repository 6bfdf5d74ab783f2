package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/parley/internal/conversation"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/playback"
	"github.com/MrWong99/parley/internal/transcript"
	"github.com/MrWong99/parley/pkg/audio"
)

const (
	// wsReadLimit bounds a single client message. A second of 48kHz float32
	// audio is 192KiB.
	wsReadLimit = 1 << 20

	wsWriteTimeout = 5 * time.Second

	// wsOutbox is the number of outbound messages queued per client.
	wsOutbox = 256
)

var errClientGone = errors.New("web: client gone")

// clientMessage is a JSON control message sent by the client.
type clientMessage struct {
	// Type is "start", "stop", "barge_in", "speech" or "text".
	Type string `json:"type"`

	Language   string   `json:"language,omitempty"`
	Vocabulary []string `json:"vocabulary,omitempty"`
	Detected   bool     `json:"detected,omitempty"`
	Text       string   `json:"text,omitempty"`
}

// serverEvent is a JSON event sent to the client.
type serverEvent struct {
	Type        string                  `json:"type"`
	SessionID   string                  `json:"session_id,omitempty"`
	SampleRate  int                     `json:"sample_rate,omitempty"`
	Text        string                  `json:"text,omitempty"`
	Original    string                  `json:"original,omitempty"`
	Corrections []transcript.Correction `json:"corrections,omitempty"`
	Speaking    *bool                   `json:"speaking,omitempty"`
	Stage       string                  `json:"stage,omitempty"`
	Turns       int                     `json:"turns,omitempty"`
}

func toServerEvent(ev conversation.Event) serverEvent {
	out := serverEvent{
		Type:        string(ev.Type),
		Text:        ev.Text,
		Corrections: ev.Corrections,
		Stage:       ev.Stage,
		Turns:       ev.Turns,
	}
	if ev.Original != ev.Text {
		out.Original = ev.Original
	}
	if ev.Type == conversation.EventSpeaking {
		v := ev.Speaking
		out.Speaking = &v
	}
	return out
}

type outMessage struct {
	typ   websocket.MessageType
	data  []byte
	final bool

	// closeStatus, when set, closes the connection instead of writing.
	closeStatus websocket.StatusCode
	reason      string
}

// wsClient serialises every outbound message of one connection through a
// single writer goroutine.
type wsClient struct {
	conn *websocket.Conn
	log  *slog.Logger
	out  chan outMessage
	done chan struct{}
}

func newWSClient(conn *websocket.Conn, log *slog.Logger) *wsClient {
	return &wsClient{
		conn: conn,
		log:  log,
		out:  make(chan outMessage, wsOutbox),
		done: make(chan struct{}),
	}
}

// writeLoop runs until out is closed, a final message is written, or a
// write fails.
func (c *wsClient) writeLoop() {
	defer close(c.done)
	for m := range c.out {
		if m.closeStatus != 0 {
			_ = c.conn.Close(m.closeStatus, m.reason)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
		err := c.conn.Write(ctx, m.typ, m.data)
		cancel()
		if err != nil {
			c.log.Debug("websocket write failed", "error", err)
			return
		}
		if m.final {
			_ = c.conn.Close(websocket.StatusNormalClosure, "session ended")
			return
		}
	}
}

// send queues an event. Non-final events are dropped when the client lags
// behind; a final event waits for room.
func (c *wsClient) send(ev serverEvent, final bool) {
	data, err := json.Marshal(ev)
	if err != nil {
		c.log.Error("encode event", "type", ev.Type, "error", err)
		return
	}
	m := outMessage{typ: websocket.MessageText, data: data, final: final}
	if final {
		select {
		case c.out <- m:
		case <-c.done:
		}
		return
	}
	select {
	case c.out <- m:
	case <-c.done:
	default:
		c.log.Warn("client lagging, event dropped", "type", ev.Type)
	}
}

// closeWith queues a close frame behind any pending messages.
func (c *wsClient) closeWith(status websocket.StatusCode, reason string) {
	select {
	case c.out <- outMessage{closeStatus: status, reason: reason}:
	case <-c.done:
	}
}

func (c *wsClient) sendError(msg string) {
	c.send(serverEvent{Type: string(conversation.EventError), Text: msg}, false)
}

// sendAudio queues one chunk of reply audio, waiting for room.
func (c *wsClient) sendAudio(ctx context.Context, samples []int16) error {
	select {
	case c.out <- outMessage{typ: websocket.MessageBinary, data: audio.EncodePCM16LE(samples)}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return errClientGone
	}
}

// flush tells the client to discard the audio it has buffered.
func (c *wsClient) flush() {
	c.send(serverEvent{Type: "flush"}, false)
}

func (c *wsClient) forward(ev conversation.Event) {
	c.send(toServerEvent(ev), ev.Type == conversation.EventClosed)
}

// handleConversation upgrades to a WebSocket and bridges it to a
// conversation session.
//
// Client binary messages are little-endian float32 mono samples; text
// messages are [clientMessage] controls. The server answers with
// little-endian PCM16 reply audio and [serverEvent] JSON.
func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		observe.Logger(r.Context()).Warn("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(wsReadLimit)

	id := r.URL.Query().Get("session_id")
	if id == "" {
		id = uuid.NewString()
	}
	log := observe.Logger(r.Context()).With("session_id", id)
	ctx := r.Context()

	c := newWSClient(conn, log)
	go c.writeLoop()

	var sess *conversation.Session
	defer func() {
		if sess != nil {
			// Publishes the final event, which closes the connection.
			if err := s.cfg.Sessions.Close(id); err != nil {
				log.Debug("session close", "error", err)
			}
		}
		close(c.out)
		<-c.done
		_ = conn.CloseNow()
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			log.Debug("websocket read ended", "status", websocket.CloseStatus(err), "error", err)
			return
		}

		if typ == websocket.MessageBinary {
			if sess == nil {
				log.Debug("audio before start")
				c.closeWith(websocket.StatusPolicyViolation, "send a start message first")
				return
			}
			if err := sess.PushSamples(audio.DecodeFloat32LE(data)); err != nil {
				return
			}
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("invalid control message")
			continue
		}

		switch msg.Type {
		case "start":
			if sess != nil {
				c.sendError("session already started")
				continue
			}
			sink := playback.NewPacedSink(c.sendAudio, s.cfg.Chunk, playback.WithFlush(c.flush))
			sess, err = s.cfg.Sessions.Open(ctx, id, conversation.Options{
				Language:   msg.Language,
				Vocabulary: msg.Vocabulary,
				Sink:       sink,
				OnEvent:    c.forward,
			})
			if err != nil {
				log.Warn("open session failed", "error", err)
				c.send(serverEvent{Type: string(conversation.EventError), Stage: "start", Text: err.Error()}, true)
				return
			}
			c.send(serverEvent{
				Type:       "ready",
				SessionID:  id,
				SampleRate: s.cfg.PlaybackRate,
			}, false)

		case "stop":
			return

		case "barge_in", "speech", "text":
			if sess == nil {
				c.sendError("send a start message first")
				continue
			}
			switch msg.Type {
			case "barge_in":
				sess.BargeIn()
			case "speech":
				sess.SetSpeechDetected(msg.Detected)
			case "text":
				if err := sess.SubmitText(msg.Text); err != nil {
					return
				}
			}

		default:
			c.sendError("unknown message type " + msg.Type)
		}
	}
}
