package live

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bt-bridge/chronovoice/shared"
	"github.com/bt-bridge/chronovoice/tools"
	"github.com/gorilla/websocket"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/realtime"
	"go.uber.org/zap"
)

const (
	openaiDefaultBaseURL = "wss://api.openai.com/v1/realtime"
	// The realtime API takes and returns pcm16 at 24 kHz only.
	openaiAudioRate = 24000
)

// NewSessionParam builds the session.update payload for cfg.
func NewSessionParam(cfg Config) *realtime.RealtimeSessionCreateRequestParam {
	pcm := func() realtime.RealtimeAudioFormatsUnionParam {
		return realtime.RealtimeAudioFormatsUnionParam{
			OfAudioPCM: &realtime.RealtimeAudioFormatsAudioPCMParam{
				Rate: openaiAudioRate,
				Type: "audio/pcm",
			},
		}
	}
	modalities := make([]string, 0, len(cfg.Modalities))
	for _, m := range cfg.Modalities {
		modalities = append(modalities, strings.ToLower(m))
	}
	if len(modalities) == 0 {
		modalities = []string{strings.ToLower(ModalityAudio)}
	}
	session := &realtime.RealtimeSessionCreateRequestParam{
		Model:            cfg.Model,
		OutputModalities: modalities,
		Audio: realtime.RealtimeAudioConfigParam{
			Input: realtime.RealtimeAudioConfigInputParam{
				TurnDetection: realtime.RealtimeAudioInputTurnDetectionUnionParam{
					OfSemanticVad: &realtime.RealtimeAudioInputTurnDetectionSemanticVadParam{
						CreateResponse:    param.NewOpt(true),
						InterruptResponse: param.NewOpt(true),
					},
				},
				Format: pcm(),
			},
			Output: realtime.RealtimeAudioConfigOutputParam{
				Format: pcm(),
				Voice:  realtime.RealtimeAudioConfigOutputVoice(cfg.Voice),
			},
		},
	}
	if cfg.Instruction != "" {
		session.Instructions = param.NewOpt(cfg.Instruction)
	}
	return session
}

// OpenAIDialer opens OpenAI Realtime sessions over websocket.
type OpenAIDialer struct {
	logger  shared.LoggerAdapter
	baseURL *url.URL
	ws      *websocket.Dialer
}

var _ Dialer = (*OpenAIDialer)(nil)

func NewOpenAIDialer(logger shared.LoggerAdapter, baseURL string) (*OpenAIDialer, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if baseURL == "" {
		baseURL = openaiDefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	return &OpenAIDialer{
		logger:  logger.With(zap.String("provider", "openai")),
		baseURL: u,
		ws: &websocket.Dialer{
			HandshakeTimeout: writeWait,
			ReadBufferSize:   64 << 10,
			WriteBufferSize:  64 << 10,
		},
	}, nil
}

func (d *OpenAIDialer) Dial(ctx context.Context, cfg Config) (Session, error) {
	if cfg.APIKey == "" {
		return nil, shared.ErrNoAPIKey
	}
	if cfg.Model == "" {
		return nil, shared.ErrNoConfig
	}
	u := *d.baseURL
	q := u.Query()
	q.Set("model", cfg.Model)
	u.RawQuery = q.Encode()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.APIKey)

	d.logger.Info("dialing live session", zap.String("model", cfg.Model), zap.String("voice", cfg.Voice))
	ws, resp, err := d.ws.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, dialError(resp, err)
	}
	inputRate := cfg.InputRate
	if inputRate <= 0 {
		inputRate = openaiAudioRate
	}
	s := &openaiSession{
		conn:      newConn(ws, d.logger),
		greeting:  cfg.Greeting,
		inputRate: inputRate,
	}
	err = s.writeJSON(ctx, ClientEvent{
		Type:    ClientEventTypeSessionUpdate,
		Session: NewSessionParam(cfg),
	})
	if err != nil {
		_ = s.close()
		return nil, fmt.Errorf("sending session update: %w", err)
	}
	return s, nil
}

type openaiSession struct {
	*conn
	greeting  string
	inputRate int
}

func (s *openaiSession) Start(h Handler) error {
	return s.start(h, s.onFrame)
}

// SendRealtimeInput converts blob to 24 kHz pcm16 and appends it to the
// server's input buffer.
func (s *openaiSession) SendRealtimeInput(ctx context.Context, blob tools.Blob) error {
	if err := s.ready(); err != nil {
		return err
	}
	chunk, err := tools.DecodeBlob(blob, s.inputRate, 1)
	if err != nil {
		return fmt.Errorf("decoding input block: %w", err)
	}
	samples := tools.Resample(chunk.Samples, chunk.SampleRate, openaiAudioRate)
	return s.writeJSON(ctx, ClientEvent{
		Type:  ClientEventTypeInputAudioBufferAppend,
		Audio: base64.StdEncoding.EncodeToString(tools.EncodePCM(samples)),
	})
}

func (s *openaiSession) Close() error {
	return s.close()
}

func (s *openaiSession) onFrame(h Handler, data []byte) {
	event := new(ServerEvent)
	if err := event.UnmarshalJSON(data); err != nil {
		s.logger.Warn("dropping undecodable server event", zap.Error(err), zap.ByteString("data", data))
		return
	}
	s.logger.Trace("received event", zap.String("type", string(event.Type)), zap.String("event_id", event.EventId))
	switch event.Type {
	case ServerEventTypeSessionUpdated:
		if s.markOpen() {
			s.logger.Info("live session open")
			h.OnOpen()
			s.sendGreeting()
		}
	case ServerEventTypeResponseOutputAudioDelta:
		if event.Delta == "" {
			return
		}
		h.OnMessage(&Message{Audio: []tools.Blob{{
			MimeType: tools.MimeType(openaiAudioRate),
			Data:     event.Delta,
		}}})
	case ServerEventTypeInputAudioBufferSpeechStarted:
		h.OnMessage(&Message{Interrupted: true})
	case ServerEventTypeResponseOutputAudioTranscrDone:
		h.OnMessage(&Message{Text: []string{event.Transcript}})
	case ServerEventTypeResponseOutputTextDone:
		h.OnMessage(&Message{Text: []string{event.Text}})
	case ServerEventTypeResponseDone:
		h.OnMessage(&Message{TurnComplete: true})
	case ServerEventTypeError:
		s.logger.Error("server reported an error", event.Error, zap.String("code", event.Error.Code))
	default:
		s.logger.Debug("ignoring server event", zap.String("type", string(event.Type)))
	}
}

func (s *openaiSession) sendGreeting() {
	if s.greeting == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	err := s.writeJSON(ctx, ClientEvent{
		Type:     ClientEventTypeResponseCreate,
		Response: &ResponseCreateParam{Instructions: s.greeting},
	})
	if err != nil {
		s.logger.Error("sending greeting failed", err)
	}
}
