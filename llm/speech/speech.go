// Package speech provides audio transcription, translation and synthesis.
// Batch STT and TTS ride the OpenAI-dialect HTTP endpoints; live
// transcription uses the realtime websocket protocol.
package speech

import (
	"context"
	"io"
)

// Transcription response formats.
const (
	FormatJSON        = "json"
	FormatText        = "text"
	FormatSRT         = "srt"
	FormatVTT         = "vtt"
	FormatVerboseJSON = "verbose_json"
)

// TranscribeRequest converts speech audio to text in the source language.
type TranscribeRequest struct {
	Model          string // defaults to whisper-1
	Audio          io.Reader
	Filename       string // extension selects the decoder, e.g. "clip.mp3"
	Language       string // ISO 639-1 hint, optional
	Prompt         string // optional context for the decoder
	Temperature    float32
	ResponseFormat string

	// TimestampGranularities requests word or segment timestamps; values are
	// "word" and "segment" and require the verbose_json format.
	TimestampGranularities []string
}

// Segment is one timed span of a verbose transcription.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Word is one word-level timestamp of a verbose transcription.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// TranscribeResponse is the transcription result.
type TranscribeResponse struct {
	Provider string    `json:"provider"`
	Text     string    `json:"text"`
	Language string    `json:"language,omitempty"`
	Duration float64   `json:"duration,omitempty"`
	Segments []Segment `json:"segments,omitempty"`
	Words    []Word    `json:"words,omitempty"`
}

// SpeechRequest synthesizes audio from text.
type SpeechRequest struct {
	Model  string // defaults to tts-1
	Input  string
	Voice  string  // e.g. "alloy"
	Format string  // e.g. "mp3", "wav"
	Speed  float32 // 0.25 to 4.0, 0 keeps the default
}

// Transcriber is the uniform speech-to-text interface. Translate produces
// English text regardless of the source language.
type Transcriber interface {
	Transcribe(ctx context.Context, req *TranscribeRequest) (*TranscribeResponse, error)
	Translate(ctx context.Context, req *TranscribeRequest) (*TranscribeResponse, error)
	Name() string
}

// Synthesizer is the uniform text-to-speech interface. The returned reader
// streams encoded audio; the caller must close it.
type Synthesizer interface {
	Synthesize(ctx context.Context, req *SpeechRequest) (io.ReadCloser, error)
	Name() string
}
