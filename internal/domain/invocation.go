package domain

import "encoding/json"

// Envelope is the HTTP-shaped response returned to the Lambda runtime.
type Envelope struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// Event is the raw inbound Lambda event. Body may be a JSON string or an object.
type Event struct {
	Body            json.RawMessage `json:"body,omitempty"`
	IsBase64Encoded bool            `json:"isBase64Encoded,omitempty"`
	Prompt          any             `json:"prompt,omitempty"`
}

// InboundRequest is the parsed request body.
type InboundRequest struct {
	Prompt      any            `json:"prompt"`
	ModelConfig map[string]any `json:"model_config,omitempty"`
}
