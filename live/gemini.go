package live

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bt-bridge/chronovoice/shared"
	"github.com/bt-bridge/chronovoice/tools"
	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	geminiDefaultBaseURL = "wss://generativelanguage.googleapis.com"
	geminiPath           = "/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
)

type geminiClientMessage struct {
	Setup         *geminiSetup         `json:"setup,omitempty"`
	ClientContent *geminiClientContent `json:"clientContent,omitempty"`
	RealtimeInput *geminiRealtimeInput `json:"realtimeInput,omitempty"`
}

type geminiSetup struct {
	Model             string                 `json:"model"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string            `json:"responseModalities,omitempty"`
	SpeechConfig       *geminiSpeechConfig `json:"speechConfig,omitempty"`
}

type geminiSpeechConfig struct {
	VoiceConfig struct {
		PrebuiltVoiceConfig struct {
			VoiceName string `json:"voiceName"`
		} `json:"prebuiltVoiceConfig"`
	} `json:"voiceConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *tools.Blob `json:"inlineData,omitempty"`
	Thought    bool        `json:"thought,omitempty"`
}

type geminiClientContent struct {
	Turns        []geminiContent `json:"turns"`
	TurnComplete bool            `json:"turnComplete"`
}

type geminiRealtimeInput struct {
	Audio *tools.Blob `json:"audio,omitempty"`
}

type geminiSetupComplete struct{}

type geminiServerMessage struct {
	SetupComplete *geminiSetupComplete `json:"setupComplete,omitempty"`
	ServerContent *geminiServerContent `json:"serverContent,omitempty"`
	GoAway        *geminiGoAway        `json:"goAway,omitempty"`
}

type geminiServerContent struct {
	ModelTurn    *geminiContent `json:"modelTurn,omitempty"`
	TurnComplete bool           `json:"turnComplete,omitempty"`
	Interrupted  bool           `json:"interrupted,omitempty"`
}

type geminiGoAway struct {
	TimeLeft string `json:"timeLeft"`
}

func newGeminiSetup(cfg Config) *geminiSetup {
	model := cfg.Model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	modalities := cfg.Modalities
	if len(modalities) == 0 {
		modalities = []string{ModalityAudio}
	}
	setup := &geminiSetup{
		Model: model,
		GenerationConfig: geminiGenerationConfig{
			ResponseModalities: modalities,
		},
	}
	if cfg.Voice != "" {
		speech := new(geminiSpeechConfig)
		speech.VoiceConfig.PrebuiltVoiceConfig.VoiceName = cfg.Voice
		setup.GenerationConfig.SpeechConfig = speech
	}
	if cfg.Instruction != "" {
		setup.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: cfg.Instruction}},
		}
	}
	return setup
}

// message reduces a server message to a Message, or nil when it carries
// nothing for the audio path.
func (m *geminiServerMessage) message() *Message {
	if m.ServerContent == nil && m.GoAway == nil {
		return nil
	}
	out := new(Message)
	if sc := m.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.InlineData != nil && part.InlineData.Data != "" {
					out.Audio = append(out.Audio, *part.InlineData)
				}
				if part.Text != "" && !part.Thought {
					out.Text = append(out.Text, part.Text)
				}
			}
		}
		out.Interrupted = sc.Interrupted
		out.TurnComplete = sc.TurnComplete
	}
	if m.GoAway != nil {
		out.GoAway = m.GoAway.TimeLeft
		if out.GoAway == "" {
			out.GoAway = "0s"
		}
	}
	return out
}

// GeminiDialer opens Gemini Live sessions over the BidiGenerateContent
// websocket.
type GeminiDialer struct {
	logger  shared.LoggerAdapter
	baseURL *url.URL
	ws      *websocket.Dialer
}

var _ Dialer = (*GeminiDialer)(nil)

func NewGeminiDialer(logger shared.LoggerAdapter, baseURL string) (*GeminiDialer, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if baseURL == "" {
		baseURL = geminiDefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	return &GeminiDialer{
		logger:  logger.With(zap.String("provider", "gemini")),
		baseURL: u,
		ws: &websocket.Dialer{
			HandshakeTimeout: writeWait,
			ReadBufferSize:   64 << 10,
			WriteBufferSize:  64 << 10,
		},
	}, nil
}

// Dial connects and sends the setup message. The session opens once the
// server acknowledges the setup.
func (d *GeminiDialer) Dial(ctx context.Context, cfg Config) (Session, error) {
	if cfg.APIKey == "" {
		return nil, shared.ErrNoAPIKey
	}
	if cfg.Model == "" {
		return nil, shared.ErrNoConfig
	}
	u := d.baseURL.JoinPath(geminiPath)
	q := u.Query()
	q.Set("key", cfg.APIKey)
	u.RawQuery = q.Encode()

	d.logger.Info("dialing live session", zap.String("model", cfg.Model), zap.String("voice", cfg.Voice))
	ws, resp, err := d.ws.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, dialError(resp, err)
	}
	s := &geminiSession{
		conn:     newConn(ws, d.logger),
		greeting: cfg.Greeting,
	}
	if err := s.writeJSON(ctx, geminiClientMessage{Setup: newGeminiSetup(cfg)}); err != nil {
		_ = s.close()
		return nil, fmt.Errorf("sending setup: %w", err)
	}
	return s, nil
}

type geminiSession struct {
	*conn
	greeting string
}

func (s *geminiSession) Start(h Handler) error {
	return s.start(h, s.onFrame)
}

func (s *geminiSession) SendRealtimeInput(ctx context.Context, blob tools.Blob) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.writeJSON(ctx, geminiClientMessage{
		RealtimeInput: &geminiRealtimeInput{Audio: &blob},
	})
}

func (s *geminiSession) Close() error {
	return s.close()
}

func (s *geminiSession) onFrame(h Handler, data []byte) {
	var msg geminiServerMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("dropping undecodable server message", zap.Error(err))
		return
	}
	if msg.SetupComplete != nil && s.markOpen() {
		s.logger.Info("live session open")
		h.OnOpen()
		s.sendGreeting()
	}
	if out := msg.message(); out != nil {
		if out.GoAway != "" {
			s.logger.Warn("server announced disconnect", zap.String("time_left", out.GoAway))
		}
		h.OnMessage(out)
	}
}

func (s *geminiSession) sendGreeting() {
	if s.greeting == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	err := s.writeJSON(ctx, geminiClientMessage{
		ClientContent: &geminiClientContent{
			Turns: []geminiContent{{
				Role:  "user",
				Parts: []geminiPart{{Text: s.greeting}},
			}},
			TurnComplete: true,
		},
	})
	if err != nil {
		s.logger.Error("sending greeting failed", err)
	}
}
