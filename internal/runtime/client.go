package runtime

import "context"

// #region request

// Request is the structured prompt handed to a model backend: system
// instructions derived from persona + context + anchors, user content
// derived from the step, an output schema from the declared output type,
// and a token budget.
type Request struct {
	System         string
	User           string
	FailureContext string
	OutputSchema   map[string]interface{}
	MaxTokens      int
	Temperature    float64
	Effort         string
	StepID         string
	StepName       string
}

// Response is the normalised model output. Confidence is nil when the
// backend does not surface one; the executor then substitutes the
// documented default instead of inventing a value.
type Response struct {
	Content    string
	Structured map[string]interface{}
	Confidence *float64
	TokensUsed int
	Raw        interface{}
}

// #endregion request

// #region client

// ModelClient is the single interface between the runtime and LLM
// providers. Concrete adapters (Anthropic/OpenAI/Gemini/local) live
// outside the core.
type ModelClient interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// #endregion client

// #region stub-client

// StubClient is a scripted ModelClient for tests and offline runs. It
// replays queued responses in order, or delegates to Handler when set,
// and records every request it receives.
type StubClient struct {
	Responses []Response
	Handler   func(req Request) (Response, error)

	next  int
	Calls []Request
}

// Complete replays the next scripted response.
func (s *StubClient) Complete(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	s.Calls = append(s.Calls, req)
	if s.Handler != nil {
		return s.Handler(req)
	}
	if s.next < len(s.Responses) {
		resp := s.Responses[s.next]
		s.next++
		return resp, nil
	}
	return Response{Content: "stub response for " + req.StepName, TokensUsed: len(req.User)}, nil
}

// #endregion stub-client
