package llm

import (
	"context"
	"strings"

	"google.golang.org/genai"

	"bumble/internal/memory"
)

// GeminiClient backs the planner with Google's Gemini API via the genai SDK.
type GeminiClient struct {
	usageCounter

	client *genai.Client
	model  string
}

// NewGeminiClient creates the Gemini backend. Default model is
// gemini-2.0-flash.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, &Error{Kind: KindAuth, Message: "Gemini API key is required"}
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, &Error{Kind: KindInternal, Message: err.Error(), Err: err}
	}
	return &GeminiClient{client: client, model: model}, nil
}

// toGenaiContents splits the messages into a system instruction and the
// dialogue contents. Tool observations become user turns; Gemini has no
// free-form tool role without call plumbing.
func toGenaiContents(messages []memory.Message) (*genai.Content, []*genai.Content) {
	var system *genai.Content
	var contents []*genai.Content
	var systemParts []string
	for _, m := range messages {
		switch m.Role {
		case memory.RoleSystem:
			systemParts = append(systemParts, m.Content)
		case memory.RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: m.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: m.Content}},
			})
		}
	}
	if len(systemParts) > 0 {
		system = &genai.Content{Parts: []*genai.Part{{Text: strings.Join(systemParts, "\n\n")}}}
	}
	return system, contents
}

// Complete performs a non-streaming generation.
func (c *GeminiClient) Complete(ctx context.Context, messages []memory.Message) (string, error) {
	system, contents := toGenaiContents(messages)
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: system,
	})
	if err != nil {
		return "", c.mapError(ctx, err)
	}
	c.recordUsage(resp.UsageMetadata)
	return collectText(resp), nil
}

// CompleteStream performs a streaming generation, invoking onDelta per text
// part.
func (c *GeminiClient) CompleteStream(ctx context.Context, messages []memory.Message, onDelta func(string)) (string, error) {
	system, contents := toGenaiContents(messages)
	var full strings.Builder
	for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: system,
	}) {
		if err != nil {
			return full.String(), c.mapError(ctx, err)
		}
		if resp == nil {
			continue
		}
		c.recordUsage(resp.UsageMetadata)
		if text := collectText(resp); text != "" {
			full.WriteString(text)
			if onDelta != nil {
				onDelta(text)
			}
		}
	}
	return full.String(), nil
}

func (c *GeminiClient) recordUsage(u *genai.GenerateContentResponseUsageMetadata) {
	if u == nil {
		return
	}
	c.record(uint64(u.PromptTokenCount), uint64(u.CandidatesTokenCount))
}

func collectText(resp *genai.GenerateContentResponse) string {
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				b.WriteString(part.Text)
			}
		}
	}
	return b.String()
}

// mapError classifies genai SDK failures by message inspection; the SDK does
// not expose typed status errors uniformly.
func (c *GeminiClient) mapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "api key") || strings.Contains(lower, "401") || strings.Contains(lower, "permission"):
		return &Error{Kind: KindAuth, Message: msg, Err: err}
	case strings.Contains(lower, "429") || strings.Contains(lower, "quota") || strings.Contains(lower, "rate"):
		return &Error{Kind: KindRateLimited, Message: msg, Err: err}
	case strings.Contains(lower, "token") && strings.Contains(lower, "exceed"):
		return &Error{Kind: KindContextOverflow, Message: msg, Err: err}
	default:
		return &Error{Kind: KindNetwork, Message: msg, Err: err}
	}
}
