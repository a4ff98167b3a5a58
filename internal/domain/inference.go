package domain

import "errors"

// Image is an uploaded image passed through to the model untouched.
type Image struct {
	Data        []byte
	ContentType string
	Filename    string
}

// InferenceRequest is the provider-agnostic shape of a single vision call.
type InferenceRequest struct {
	Prompt      string
	Image       Image
	MaxTokens   int
	Temperature float32
}

// ErrInferenceNotConfigured marks failures caused by a missing inference
// credential rather than by the remote service.
var ErrInferenceNotConfigured = errors.New("inference client not configured")
