// Package image provides image generation across backends behind one
// interface: prompt in, image URLs or base64 payloads out. Edits and
// variations ride the OpenAI multipart endpoints.
package image

import (
	"context"
	"io"
)

// Response formats accepted by Request.ResponseFormat.
const (
	FormatURL     = "url"
	FormatB64JSON = "b64_json"
)

// Request is the backend-neutral image generation request.
type Request struct {
	Model          string `json:"model,omitempty"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n,omitempty"`
	Size           string `json:"size,omitempty"`    // e.g. "1024x1024"
	Quality        string `json:"quality,omitempty"` // e.g. "standard", "hd"
	Style          string `json:"style,omitempty"`   // e.g. "vivid", "natural"
	ResponseFormat string `json:"response_format,omitempty"`
	User           string `json:"user,omitempty"`
}

// EditRequest edits an input image per the prompt, optionally constrained by
// a mask.
type EditRequest struct {
	Model          string
	Prompt         string
	Image          io.Reader
	ImageName      string
	Mask           io.Reader
	MaskName       string
	N              int
	Size           string
	ResponseFormat string
}

// VariationRequest generates variations of an input image.
type VariationRequest struct {
	Model          string
	Image          io.Reader
	ImageName      string
	N              int
	Size           string
	ResponseFormat string
}

// Image is one generated image.
type Image struct {
	URL           string `json:"url,omitempty"`
	B64JSON       string `json:"b64_json,omitempty"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

// Response is the backend-neutral image generation response.
type Response struct {
	Provider string  `json:"provider"`
	Created  int64   `json:"created"`
	Images   []Image `json:"images"`
}

// Generator is the uniform image generation interface. SupportedSizes lists
// the size strings the default model accepts.
type Generator interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
	SupportedSizes() []string
	Name() string
}

// Editor is implemented by backends that support image edits and variations.
type Editor interface {
	Edit(ctx context.Context, req *EditRequest) (*Response, error)
	Vary(ctx context.Context, req *VariationRequest) (*Response, error)
}
