// Package provider talks to the generative text service.
package provider

import "context"

// Request carries every sampling parameter of one completion call.
type Request struct {
	Prompt           string      `json:"prompt"`
	Model            string      `json:"model"`
	MaxTokens        int         `json:"max_tokens"`
	Temperature      float64     `json:"temperature"`
	TopP             float64     `json:"top_p"`
	FrequencyPenalty float64     `json:"frequency_penalty"`
	PresencePenalty  float64     `json:"presence_penalty"`
	Stop             []string    `json:"stop,omitempty"`
	LogitBias        map[int]int `json:"logit_bias,omitempty"`
}

// Response is the outcome of a call that reached the provider. A non-2xx
// StatusCode is not an error at this layer; Message carries the provider's
// explanation.
type Response struct {
	StatusCode   int    `json:"status_code"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
	Message      string `json:"message,omitempty"`
	Raw          []byte `json:"-"`
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Provider generates text. Transport failures are returned as errors.
type Provider interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Tokenizer maps a word to the provider's token ids. Unknown words map to
// nothing.
type Tokenizer interface {
	Encode(word string) []int
}
