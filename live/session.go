// Package live holds the remote conversational session: a Dialer opens a
// Session, a Handler receives its lifecycle signals and server messages.
//
// Two providers implement the boundary over gorilla/websocket. Gemini Live is
// the default, OpenAI Realtime is the alternative.
package live

import (
	"context"
	"errors"

	"github.com/bt-bridge/chronovoice/tools"
)

// ModalityAudio asks the model to answer with synthesized speech.
const ModalityAudio = "AUDIO"

var (
	ErrNotOpen        = errors.New("live session is not open yet")
	ErrClosed         = errors.New("live session closed")
	ErrAlreadyStarted = errors.New("live session already started")
	ErrNoHandler      = errors.New("no live session handler provided")
)

// Config describes one live session.
type Config struct {
	APIKey      string
	Model       string
	Voice       string
	Instruction string
	// Greeting, when set, is sent as the first user turn once the session
	// is open so that the model speaks first.
	Greeting   string
	Modalities []string
	InputRate  int
	OutputRate int
}

// Message is one server message reduced to what the audio path needs.
type Message struct {
	Audio        []tools.Blob
	Text         []string
	Interrupted  bool
	TurnComplete bool
	// GoAway carries the time left before the server drops the
	// connection, when it announced one.
	GoAway string
}

// Handler receives session signals. All calls for a session come from a
// single goroutine, in order. Exactly one of OnClose or OnError ends the
// sequence.
type Handler interface {
	OnOpen()
	OnMessage(msg *Message)
	OnClose(reason error)
	OnError(err error)
}

type Session interface {
	// Start registers h and begins delivering server messages.
	Start(h Handler) error
	// SendRealtimeInput streams one encoded microphone block.
	SendRealtimeInput(ctx context.Context, blob tools.Blob) error
	// Close ends the session. It is safe to call more than once.
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Session, error)
}
