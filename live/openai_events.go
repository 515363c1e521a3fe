package live

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/openai/openai-go/v3/realtime"
)

type EventType string

type ServerEventType EventType

type ClientEventType EventType

// Server event types the session reacts to
const (
	ServerEventTypeError                          ServerEventType = "error"
	ServerEventTypeSessionCreated                 ServerEventType = "session.created"
	ServerEventTypeSessionUpdated                 ServerEventType = "session.updated"
	ServerEventTypeInputAudioBufferSpeechStarted  ServerEventType = "input_audio_buffer.speech_started"
	ServerEventTypeInputAudioBufferSpeechStopped  ServerEventType = "input_audio_buffer.speech_stopped"
	ServerEventTypeResponseCreated                ServerEventType = "response.created"
	ServerEventTypeResponseDone                   ServerEventType = "response.done"
	ServerEventTypeResponseOutputTextDone         ServerEventType = "response.output_text.done"
	ServerEventTypeResponseOutputAudioTranscrDone ServerEventType = "response.output_audio_transcript.done"
	ServerEventTypeResponseOutputAudioDelta       ServerEventType = "response.output_audio.delta"
	ServerEventTypeResponseOutputAudioDone        ServerEventType = "response.output_audio.done"
	ServerEventTypeRatelimitsUpdated              ServerEventType = "rate_limits.updated"
)

// Client event types
const (
	ClientEventTypeSessionUpdate          ClientEventType = "session.update"
	ClientEventTypeInputAudioBufferAppend ClientEventType = "input_audio_buffer.append"
	ClientEventTypeResponseCreate         ClientEventType = "response.create"
)

type ClientEvent struct {
	Type     ClientEventType                             `json:"type"`
	Session  *realtime.RealtimeSessionCreateRequestParam `json:"session,omitempty"`
	Response *ResponseCreateParam                        `json:"response,omitempty"`
	Audio    string                                      `json:"audio,omitempty"`
}

type ResponseCreateParam struct {
	Instructions string `json:"instructions,omitempty"`
}

type ServerEvent struct {
	EventId    string          `json:"event_id"`
	Type       ServerEventType `json:"type"`
	Delta      string          `json:"delta,omitempty"`
	Text       string          `json:"text,omitempty"`
	Transcript string          `json:"transcript,omitempty"`
	Error      *ServerError    `json:"error,omitempty"`
}

type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param"`
	EventId string `json:"event_id"`
}

func (e *ServerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *ServerEvent) UnmarshalJSON(data []byte) error {
	type shadow ServerEvent
	if err := sonic.Unmarshal(data, (*shadow)(e)); err != nil {
		return err
	}
	if e.Type == "" {
		return errors.New("missing type")
	}
	if e.Type == ServerEventTypeError && e.Error == nil {
		return errors.New("missing error")
	}
	return nil
}
