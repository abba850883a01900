// Package oracle abstracts the LLM collaborator consulted by the
// AtomicityDetector and DecompositionEngine: a single opaque Ask(prompt,
// kind) -> text call, kept deliberately narrow so neither caller needs to
// know which model or transport sits behind it. Grounded on the teacher's
// infrastructure/httputil client conventions (context-bound HTTP calls,
// structured error wrapping) and wired through resilience.TimeoutManager and
// resilience.CircuitBreaker the same way the teacher wraps its chain-RPC
// clients.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vibeorch/engine/internal/config"
	"github.com/vibeorch/engine/internal/metrics"
	"github.com/vibeorch/engine/internal/orcherr"
	"github.com/vibeorch/engine/internal/resilience"
)

// Kind identifies the shape of response a prompt expects, so the extractor
// knows what to look for in the reply.
type Kind string

const (
	KindAtomicityVerdict Kind = "atomicity_verdict"
	KindDecomposition    Kind = "decomposition"
	KindFreeform         Kind = "freeform"
)

// Client is the narrow surface every consumer depends on.
type Client interface {
	Ask(ctx context.Context, prompt string, kind Kind) (string, error)
}

// HTTPClient calls an OpenAI-compatible chat completion endpoint, guarded by
// a TimeoutManager (per-call timeout + retry) and a CircuitBreaker (fail
// fast once the endpoint is clearly down).
type HTTPClient struct {
	endpoint string
	apiKey   string
	model    string
	http     *http.Client
	timeouts *resilience.TimeoutManager
	breaker  *resilience.CircuitBreaker
}

// NewHTTPClient builds an HTTPClient. breaker may be nil to disable
// circuit-breaking (useful in tests).
func NewHTTPClient(endpoint, apiKey, model string, timeouts *resilience.TimeoutManager, breaker *resilience.CircuitBreaker) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		http:     &http.Client{},
		timeouts: timeouts,
		breaker:  breaker,
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Ask sends prompt to the model and returns the raw text reply. kind is not
// used: the HTTP request is the same for every kind.
func (c *HTTPClient) Ask(ctx context.Context, prompt string, kind Kind) (string, error) {
	if c.breaker != nil && !c.breaker.Allow() {
		return "", orcherr.OracleError("circuit breaker open", nil)
	}

	result := c.timeouts.Run(ctx, config.OpLLMRequest, func(ctx context.Context) (interface{}, error) {
		return c.doRequest(ctx, prompt)
	})

	if c.breaker != nil {
		c.breaker.Report(result.OK)
	}
	if !result.OK {
		outcome := "error"
		if orcherr.IsKind(result.Err, orcherr.KindTimeout) {
			outcome = "timeout"
		}
		metrics.OracleRequests.WithLabelValues(outcome).Inc()
		return "", result.Err
	}
	metrics.OracleRequests.WithLabelValues("ok").Inc()
	return result.Value.(string), nil
}

func (c *HTTPClient) doRequest(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", orcherr.OracleError("marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", orcherr.OracleError("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", orcherr.OracleError("request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", orcherr.OracleError("read response", err)
	}
	if resp.StatusCode >= 500 {
		return "", orcherr.OracleError(fmt.Sprintf("oracle returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 400 {
		return "", orcherr.Wrap(orcherr.KindValidation, fmt.Sprintf("oracle rejected request: %d", resp.StatusCode), nil)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || len(parsed.Choices) == 0 {
		return "", orcherr.OracleError("malformed oracle response", err)
	}
	return parsed.Choices[0].Message.Content, nil
}

// StubClient is an in-process deterministic Client used for tests and replay
// verification: it maps prompts to canned responses by prefix lookup. The
// reply is deterministic when at most one prefix matches a prompt; when
// several match, which one answers is not defined. A non-zero Delay waits
// on the wall clock before answering.
type StubClient struct {
	Responses map[string]string
	Err       error
	Delay     time.Duration
}

func (s *StubClient) Ask(ctx context.Context, prompt string, kind Kind) (string, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.Err != nil {
		return "", s.Err
	}
	for prefix, resp := range s.Responses {
		if len(prompt) >= len(prefix) && prompt[:len(prefix)] == prefix {
			return resp, nil
		}
	}
	return "", orcherr.OracleError("no stubbed response for prompt", nil)
}
