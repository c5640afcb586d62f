package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bumble/internal/memory"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint
// (OpenAI, DeepSeek, Ollama, vLLM, LiteLLM).
type OpenAIClient struct {
	usageCounter

	baseURL string
	apiKey  string
	model   string
	// client caps whole non-streaming calls via its Timeout; streamClient
	// carries no body deadline so long streams are bounded by
	// streamTimeout on the call context instead.
	client        *http.Client
	streamClient  *http.Client
	streamTimeout time.Duration
}

// NewOpenAIClient creates an OpenAI-compatible client. requestTimeout caps
// non-streaming calls; streamTimeout caps a whole streaming call.
func NewOpenAIClient(baseURL, apiKey, model string, requestTimeout, streamTimeout time.Duration) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if requestTimeout <= 0 {
		requestTimeout = 2 * time.Minute
	}
	if streamTimeout <= 0 {
		streamTimeout = 5 * time.Minute
	}
	return &OpenAIClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		apiKey:        apiKey,
		model:         model,
		client:        &http.Client{Timeout: requestTimeout},
		streamClient:  &http.Client{},
		streamTimeout: streamTimeout,
	}
}

type oaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaRequest struct {
	Model    string      `json:"model"`
	Messages []oaMessage `json:"messages"`
	Stream   bool        `json:"stream"`
}

type oaUsage struct {
	PromptTokens     uint64 `json:"prompt_tokens"`
	CompletionTokens uint64 `json:"completion_tokens"`
}

type oaResponse struct {
	Choices []struct {
		Message oaMessage `json:"message"`
		Delta   oaMessage `json:"delta"`
	} `json:"choices"`
	Usage *oaUsage `json:"usage"`
}

func toOAMessages(messages []memory.Message) []oaMessage {
	out := make([]oaMessage, 0, len(messages))
	for _, m := range messages {
		role := string(m.Role)
		if m.Role == memory.RoleTool {
			// OpenAI tool messages need call IDs we do not carry; fold
			// observations into user turns instead.
			role = "user"
		}
		out = append(out, oaMessage{Role: role, Content: m.Content})
	}
	return out
}

// Complete performs a non-streaming chat completion.
func (c *OpenAIClient) Complete(ctx context.Context, messages []memory.Message) (string, error) {
	body, err := json.Marshal(oaRequest{Model: c.model, Messages: toOAMessages(messages)})
	if err != nil {
		return "", &Error{Kind: KindInternal, Message: err.Error(), Err: err}
	}
	resp, err := c.post(ctx, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := c.checkStatus(resp); err != nil {
		return "", err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", netErr(err)
	}
	var parsed oaResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", &Error{Kind: KindInternal, Message: "malformed completion response", Err: err}
	}
	if parsed.Usage != nil {
		c.record(parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens)
	}
	if len(parsed.Choices) == 0 {
		return "", &Error{Kind: KindInternal, Message: "no choices in completion response"}
	}
	return parsed.Choices[0].Message.Content, nil
}

// CompleteStream performs a streaming chat completion, invoking onDelta per
// SSE text delta and returning the assembled response.
func (c *OpenAIClient) CompleteStream(ctx context.Context, messages []memory.Message, onDelta func(string)) (string, error) {
	body, err := json.Marshal(oaRequest{Model: c.model, Messages: toOAMessages(messages), Stream: true})
	if err != nil {
		return "", &Error{Kind: KindInternal, Message: err.Error(), Err: err}
	}
	ctx, cancel := context.WithTimeout(ctx, c.streamTimeout)
	defer cancel()
	resp, err := c.postWith(ctx, c.streamClient, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := c.checkStatus(resp); err != nil {
		return "", err
	}

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return full.String(), ctxError(ctx)
		}
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}
		var chunk oaResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // tolerate keep-alive noise between events
		}
		if chunk.Usage != nil {
			c.record(chunk.Usage.PromptTokens, chunk.Usage.CompletionTokens)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return full.String(), ctxError(ctx)
		}
		return full.String(), netErr(err)
	}
	return full.String(), nil
}

func (c *OpenAIClient) post(ctx context.Context, body []byte) (*http.Response, error) {
	return c.postWith(ctx, c.client, body)
}

func (c *OpenAIClient) postWith(ctx context.Context, client *http.Client, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindInternal, Message: err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctxError(ctx)
		}
		return nil, netErr(err)
	}
	return resp, nil
}

// checkStatus maps HTTP failures to typed errors. The body is consumed on
// error paths.
func (c *OpenAIClient) checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &Error{Kind: KindAuth, Message: msg}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, Message: msg, RetryAfter: parseRetryAfter(resp)}
	case resp.StatusCode == http.StatusBadRequest && looksLikeOverflow(data):
		return &Error{Kind: KindContextOverflow, Message: msg}
	case resp.StatusCode >= 500:
		return &Error{Kind: KindNetwork, Message: msg}
	default:
		return &Error{Kind: KindInternal, Message: msg}
	}
}

func parseRetryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func looksLikeOverflow(body []byte) bool {
	s := strings.ToLower(string(body))
	return strings.Contains(s, "context_length") || strings.Contains(s, "maximum context") ||
		strings.Contains(s, "too many tokens")
}

func ctxError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: KindNetwork, Message: "request timed out", Err: ctx.Err()}
	}
	return ctx.Err()
}
