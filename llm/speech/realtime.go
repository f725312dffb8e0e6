package speech

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/aibridge/aibridge/llm"
	"github.com/aibridge/aibridge/llm/providers"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

const defaultRealtimeModel = "gpt-4o-transcribe"

// Realtime event types on the transcription websocket.
const (
	eventAppendAudio         = "input_audio_buffer.append"
	eventCommitAudio         = "input_audio_buffer.commit"
	eventTranscriptDelta     = "conversation.item.input_audio_transcription.delta"
	eventTranscriptCompleted = "conversation.item.input_audio_transcription.completed"
	eventError               = "error"
)

// TranscriptEvent is one event from a live transcription session.
type TranscriptEvent struct {
	// Delta is an incremental transcript fragment.
	Delta string
	// Text is the full transcript of a completed segment.
	Text string
	// Final marks a completed segment.
	Final bool
	// Err terminates the session when set.
	Err error
}

// RealtimeTranscriber opens live transcription sessions over the realtime
// websocket protocol.
type RealtimeTranscriber struct {
	apiKey  string
	baseURL string
	model   string
	logger  *zap.Logger
}

// NewRealtime creates a realtime transcriber. BaseURL accepts http(s)
// endpoints and is rewritten to the websocket scheme.
func NewRealtime(cfg providers.OpenAIConfig, logger *zap.Logger) *RealtimeTranscriber {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "wss://api.openai.com"
	}
	model := cfg.Model
	if model == "" {
		model = defaultRealtimeModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL = strings.TrimRight(baseURL, "/")
	baseURL = strings.Replace(baseURL, "http://", "ws://", 1)
	baseURL = strings.Replace(baseURL, "https://", "wss://", 1)
	return &RealtimeTranscriber{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		model:   model,
		logger:  logger,
	}
}

// RealtimeSession is one live transcription connection.
type RealtimeSession struct {
	conn   *websocket.Conn
	events chan TranscriptEvent
	logger *zap.Logger
}

type wireEvent struct {
	Type       string `json:"type"`
	Audio      string `json:"audio,omitempty"`
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Error      *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Connect dials the realtime endpoint and starts the read loop. Close the
// session to release the connection.
func (r *RealtimeTranscriber) Connect(ctx context.Context) (*RealtimeSession, error) {
	url := fmt.Sprintf("%s/v1/realtime?intent=transcription&model=%s", r.baseURL, r.model)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+r.apiKey)

	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if resp != nil && resp.Body != nil {
		providers.SafeCloseBody(resp.Body)
	}
	if err != nil {
		return nil, &llm.Error{
			Code: llm.ErrProviderUnavailable, Message: err.Error(),
			Retryable: true, Provider: "openai",
		}
	}

	s := &RealtimeSession{
		conn:   conn,
		events: make(chan TranscriptEvent, 16),
		logger: r.logger,
	}
	go s.readLoop(ctx)
	return s, nil
}

// SendAudio appends raw audio bytes to the input buffer.
func (s *RealtimeSession) SendAudio(ctx context.Context, audio []byte) error {
	return wsjson.Write(ctx, s.conn, wireEvent{
		Type:  eventAppendAudio,
		Audio: base64.StdEncoding.EncodeToString(audio),
	})
}

// Commit flushes the input buffer, asking the backend to transcribe what it
// has.
func (s *RealtimeSession) Commit(ctx context.Context) error {
	return wsjson.Write(ctx, s.conn, wireEvent{Type: eventCommitAudio})
}

// Events returns the transcript event stream. The channel closes when the
// connection ends.
func (s *RealtimeSession) Events() <-chan TranscriptEvent {
	return s.events
}

// Close ends the session.
func (s *RealtimeSession) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "done")
}

func (s *RealtimeSession) readLoop(ctx context.Context) {
	defer close(s.events)
	for {
		var ev wireEvent
		if err := wsjson.Read(ctx, s.conn, &ev); err != nil {
			// Normal closure ends the stream silently.
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || ctx.Err() != nil {
				return
			}
			select {
			case s.events <- TranscriptEvent{Err: err}:
			case <-ctx.Done():
			}
			return
		}

		switch ev.Type {
		case eventTranscriptDelta:
			select {
			case s.events <- TranscriptEvent{Delta: ev.Delta}:
			case <-ctx.Done():
				return
			}
		case eventTranscriptCompleted:
			select {
			case s.events <- TranscriptEvent{Text: ev.Transcript, Final: true}:
			case <-ctx.Done():
				return
			}
		case eventError:
			msg := "realtime error"
			if ev.Error != nil {
				msg = ev.Error.Message
			}
			select {
			case s.events <- TranscriptEvent{Err: fmt.Errorf("%s", msg)}:
			case <-ctx.Done():
			}
			return
		default:
			s.logger.Debug("ignoring realtime event", zap.String("type", ev.Type))
		}
	}
}
