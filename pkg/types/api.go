package types

// Input kinds accepted by POST /infer.
const (
	InputTokens = "tokens"
	InputHidden = "hidden"
)

// Output kinds returned by POST /infer.
const (
	OutputToken  = "token"
	OutputHidden = "hidden"
)

// TensorPayload is a dense float32 tensor in row-major order.
type TensorPayload struct {
	// Dimensions, outermost first.
	// example: [1,3,64]
	Shape []int `json:"shape" example:"1,3,64"`
	// Row-major values; len(Data) must equal the product of Shape.
	Data []float32 `json:"data"`
}

// StepInput is the explicitly tagged forward-pass input.
type StepInput struct {
	// Either "tokens" or "hidden".
	// example: tokens
	Kind string `json:"kind" example:"tokens"`
	// Token ids for kind=tokens. A prompt may carry several ids; decode steps carry one.
	// example: [7]
	Tokens []int `json:"tokens,omitempty" example:"7"`
	// Hidden state relayed from the upstream shard for kind=hidden (rank 3).
	Hidden *TensorPayload `json:"hidden,omitempty"`
}

// InferRequest represents one generation step for a session.
type InferRequest struct {
	// Session identifier. If empty, the server mints one and returns it.
	// example: 6a1f5c1e-3b7d-4d7c-9a51-0d3c2c4f9d11
	RequestID string `json:"request_id,omitempty" example:"6a1f5c1e-3b7d-4d7c-9a51-0d3c2c4f9d11"`
	// Shard this node should run the step on.
	Shard Shard `json:"shard"`
	// Explicitly tagged input. Takes precedence over Tensor.
	Input *StepInput `json:"input,omitempty"`
	// Untagged tensor; the mode is inferred from its shape: (1,1) is a token,
	// rank 3 is a hidden state.
	Tensor *TensorPayload `json:"tensor,omitempty"`
}

// InferResponse carries either a sampled token (terminal shard) or a hidden
// state for the next shard.
type InferResponse struct {
	// Session identifier used for this step.
	RequestID string `json:"request_id"`
	// Either "token" or "hidden".
	// example: token
	Kind string `json:"kind" example:"token"`
	// Sampled token id when kind=token.
	// example: 42
	Token *int `json:"token,omitempty" example:"42"`
	// Hidden state when kind=hidden.
	Hidden *TensorPayload `json:"hidden,omitempty"`
}

// EncodeRequest asks the shard's tokenizer to encode text.
type EncodeRequest struct {
	Shard Shard `json:"shard"`
	// example: Hello world
	Text string `json:"text" example:"Hello world"`
}

// EncodeResponse returns token ids.
type EncodeResponse struct {
	// example: [9906,1917]
	Tokens []int `json:"tokens" example:"9906,1917"`
}

// DecodeRequest asks the shard's tokenizer to decode token ids.
type DecodeRequest struct {
	Shard Shard `json:"shard"`
	// example: [9906,1917]
	Tokens []int `json:"tokens" example:"9906,1917"`
}

// DecodeResponse returns decoded text.
type DecodeResponse struct {
	// example: Hello world
	Text string `json:"text" example:"Hello world"`
}

// SampleRequest samples one token per batch row from the final position of
// the logits.
type SampleRequest struct {
	// Logits of shape [batch, vocab] or [batch, seq, vocab].
	Logits TensorPayload `json:"logits"`
	// Sampling temperature; server default when omitted.
	// example: 0.6
	Temperature *float64 `json:"temperature,omitempty" example:"0.6"`
	// Top-K candidates; server default when omitted.
	// example: 25
	TopK *int `json:"top_k,omitempty" example:"25"`
}

// SampleResponse returns one token id per batch row.
type SampleResponse struct {
	// example: [42]
	Tokens []int `json:"tokens" example:"42"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// List of available models.
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: shard unavailable: llama[0:8)/16
	Error string `json:"error" example:"shard unavailable: llama[0:8)/16"`
	// HTTP status code.
	// example: 503
	Code int `json:"code" example:"503"`
	// Error class, one of shard_unavailable, shard_load, tokenization,
	// inference, sampling, bad_request, internal.
	// example: shard_unavailable
	Kind string `json:"kind,omitempty" example:"shard_unavailable"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Engine state: idle, loading, ready or error.
	// example: ready
	State string `json:"state" example:"ready"`
	// Currently loaded shard, if any.
	Shard *Shard `json:"shard,omitempty"`
	// When the current shard was committed (unix seconds).
	// example: 1700000000
	LoadedAt int64 `json:"loaded_at_unix,omitempty" example:"1700000000"`
	// Compute device handed to the model builder.
	// example: cpu
	Device string `json:"device" example:"cpu"`
	// Number of live sessions in the token table.
	// example: 2
	Sessions int `json:"sessions" example:"2"`
	// Blocking operations waiting for the execution worker.
	// example: 0
	QueueDepth int `json:"queue_depth" example:"0"`
	// Successful shard loads since start.
	// example: 3
	LoadsTotal uint64 `json:"loads_total" example:"3"`
	// Failed shard loads since start.
	// example: 0
	LoadFailuresTotal uint64 `json:"load_failures_total" example:"0"`
	// Last error observed by the engine (if any).
	LastError string `json:"last_error,omitempty"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// SessionResponse is returned by GET /sessions/{id}.
type SessionResponse struct {
	// example: 6a1f5c1e-3b7d-4d7c-9a51-0d3c2c4f9d11
	RequestID string `json:"request_id" example:"6a1f5c1e-3b7d-4d7c-9a51-0d3c2c4f9d11"`
	// Token history accumulated on this node, oldest first.
	// example: [9906,1917]
	Tokens []int `json:"tokens" example:"9906,1917"`
}
