// Package llm drives chat-completion calls against an OpenAI-wire-
// compatible completion service, in blocking and streaming form.
package llm

import "github.com/docuchat/docuchat/internal/models"

// Request is one completion call. Deployment selects the remote model
// deployment; MaxTokens is the generation budget computed by the caller.
type Request struct {
	Deployment  string
	Messages    []models.Turn
	Temperature float64
	MaxTokens   int
}

// Usage is the token accounting a completion reports. Streaming calls may
// not report usage; the caller re-estimates from accumulated text then.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the result of a blocking completion call.
type Response struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// Fragment is one streamed piece of generated text. Done marks the end of
// the stream; a non-nil Err reports a mid-stream failure, after which no
// further fragments arrive.
type Fragment struct {
	Text string
	Done bool
	Err  error
}

// wire types for the chat completions endpoint

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	N           int           `json:"n"`
	Stream      bool          `json:"stream,omitempty"`
}

type wireChoice struct {
	Index        int         `json:"index"`
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type wireResponse struct {
	ID      string       `json:"id"`
	Choices []wireChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
}

type wireStreamChoice struct {
	Index        int         `json:"index"`
	Delta        wireMessage `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type wireStreamResponse struct {
	ID      string             `json:"id"`
	Choices []wireStreamChoice `json:"choices"`
}
