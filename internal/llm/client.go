// Package llm defines the external LLM collaborator boundary (spec §1,
// §6): vex never embeds model weights or bundles a local inference
// engine, it hands the structural facts of one RootCause to an
// HTTP-reachable model and forwards back whatever prose it returns,
// verbatim, as Diagnosis.Narrative. Grounded on the teacher's
// *http.Client wiring in internal/packagemanager/httpregistry.go: a
// purpose-built transport with explicit timeouts, a bearer token read
// from the environment, context-scoped per-call.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/hooop/vex/internal/errs"
	"github.com/hooop/vex/internal/owner"
)

// Request is everything the model needs to narrate one RootCause: the
// original checker excerpt for this record and the source text around
// the allocation, scope-exit, and witness lines (spec §6).
type Request struct {
	CheckerExcerpt string
	SourceExcerpts []string
	RootCause      owner.RootCause
}

// Client is the external collaborator interface. The engine never
// inspects or parses the returned string — it is opaque prose, forwarded
// onto Diagnosis.Narrative or dropped entirely on error (spec §7: LLM
// failure must never block the structural diagnosis already computed).
type Client interface {
	Explain(ctx context.Context, req Request) (string, error)
}

// HTTPClient is the default Client, talking to an OpenAI-compatible
// chat-completions endpoint over HTTPS.
type HTTPClient struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
}

// NewHTTPClient builds a Client against endpoint (e.g.
// "https://api.openai.com/v1/chat/completions") using model and apiKey.
// timeout bounds each individual Explain call, not the process lifetime.
func NewHTTPClient(endpoint, model, apiKey string, timeout time.Duration) *HTTPClient {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       60 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &HTTPClient{
		endpoint: endpoint,
		model:    model,
		apiKey:   apiKey,
		client:   &http.Client{Transport: tr, Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Explain sends req's facts as a single prompt and returns the model's
// prose. A per-call context.WithTimeout backstops the client's own
// timeout so one slow call can't stall an entire analysis run.
func (c *HTTPClient) Explain(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.client.Timeout)
	defer cancel()

	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You explain C memory-leak root causes to a developer, concisely."},
			{Role: "user", Content: prompt(req)},
		},
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return "", errs.LLMError("LLM_ENCODE", "failed to encode request", nil)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return "", errs.LLMError("LLM_REQUEST", err.Error(), nil)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", errs.LLMError("LLM_TRANSPORT", err.Error(), map[string]interface{}{"endpoint": c.endpoint})
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errs.LLMError("LLM_BODY", err.Error(), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return "", errs.LLMError("LLM_STATUS", fmt.Sprintf("endpoint returned %d", resp.StatusCode),
			map[string]interface{}{"status": resp.StatusCode})
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", errs.LLMError("LLM_DECODE", err.Error(), nil)
	}
	if len(parsed.Choices) == 0 {
		return "", errs.LLMError("LLM_EMPTY", "endpoint returned no choices", nil)
	}
	return parsed.Choices[0].Message.Content, nil
}

func prompt(req Request) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "Leak kind: %s at %s:%d\n", req.RootCause.Kind, req.RootCause.File, req.RootCause.Line)
	if req.CheckerExcerpt != "" {
		fmt.Fprintf(&b, "\nChecker report:\n%s\n", req.CheckerExcerpt)
	}
	for _, s := range req.SourceExcerpts {
		fmt.Fprintf(&b, "\nSource:\n%s\n", s)
	}
	return b.String()
}
