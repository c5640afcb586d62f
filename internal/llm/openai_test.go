package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bumble/internal/memory"
)

func TestOpenAIComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("missing auth header, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"pong"}}],"usage":{"prompt_tokens":12,"completion_tokens":3}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "key", "test-model", time.Second, time.Second)
	out, err := c.Complete(context.Background(), []memory.Message{memory.User("ping")})
	if err != nil {
		t.Fatal(err)
	}
	if out != "pong" {
		t.Errorf("got %q", out)
	}
	u := c.Usage()
	if u.PromptTokens != 12 || u.CompletionTokens != 3 {
		t.Errorf("usage not recorded: %+v", u)
	}
}

func TestOpenAICompleteStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
			`data: {"choices":[{"delta":{"content":"lo"}}]}`,
			`data: [DONE]`,
		}
		for _, c := range chunks {
			_, _ = w.Write([]byte(c + "\n\n"))
		}
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "", "m", time.Second, time.Second)
	var deltas []string
	out, err := c.CompleteStream(context.Background(), []memory.Message{memory.User("hi")}, func(d string) {
		deltas = append(deltas, d)
	})
	if err != nil {
		t.Fatal(err)
	}
	if out != "Hello" {
		t.Errorf("assembled %q", out)
	}
	if len(deltas) != 2 {
		t.Errorf("expected 2 deltas, got %v", deltas)
	}
}

func TestOpenAIStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header map[string]string
		body   string
		want   ErrorKind
	}{
		{"auth", http.StatusUnauthorized, nil, `{"error":"bad key"}`, KindAuth},
		{"rate limited", http.StatusTooManyRequests, map[string]string{"Retry-After": "2"}, "slow down", KindRateLimited},
		{"overflow", http.StatusBadRequest, nil, `{"error":{"code":"context_length_exceeded"}}`, KindContextOverflow},
		{"server error", http.StatusBadGateway, nil, "upstream", KindNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewOpenAIClient(srv.URL, "k", "m", time.Second, time.Second)
			_, err := c.Complete(context.Background(), []memory.Message{memory.User("x")})
			var lerr *Error
			if !errors.As(err, &lerr) {
				t.Fatalf("expected typed error, got %v", err)
			}
			if lerr.Kind != tt.want {
				t.Errorf("kind = %v, want %v", lerr.Kind, tt.want)
			}
			if tt.want == KindRateLimited && lerr.RetryAfter != 2*time.Second {
				t.Errorf("retry-after not parsed: %v", lerr.RetryAfter)
			}
		})
	}
}

func TestOpenAIToolRoleFoldedToUser(t *testing.T) {
	msgs := toOAMessages([]memory.Message{
		memory.System("s"),
		memory.Tool("cat", "obs"),
	})
	if msgs[0].Role != "system" || msgs[1].Role != "user" {
		t.Errorf("unexpected roles: %+v", msgs)
	}
}

func TestMockClientScriptAndEcho(t *testing.T) {
	m := NewMockClient("first", "second")
	for i, want := range []string{"first", "second", "second"} {
		got, err := m.Complete(context.Background(), nil)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("call %d = %q, want %q", i, got, want)
		}
	}

	echo := NewMockClient()
	out, err := echo.Complete(context.Background(), []memory.Message{memory.User("hi")})
	if err != nil {
		t.Fatal(err)
	}
	if out != `{"tool": "echo", "args": {"text": "Echo from Mock: hi"}}` {
		t.Errorf("got %q", out)
	}
}

func TestMockClientStreamEmitsOneDelta(t *testing.T) {
	m := NewMockClient("hello")
	n := 0
	out, err := m.CompleteStream(context.Background(), nil, func(string) { n++ })
	if err != nil {
		t.Fatal(err)
	}
	if out != "hello" || n != 1 {
		t.Errorf("out=%q deltas=%d", out, n)
	}
}
