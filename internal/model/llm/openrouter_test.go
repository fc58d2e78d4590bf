// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func sseServer(t *testing.T, lines []string, capture *map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			var body map[string]interface{}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode request: %v", err)
			}
			*capture = body
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			fmt.Fprintf(w, "data: %s\n\n", l)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestOpenRouterStreamingContent(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"content":"Hello"}}]}`,
		`{"choices":[{"delta":{"content":" world"}}]}`,
	}, nil)
	defer srv.Close()

	c := NewOpenRouterClient("key", srv.URL)
	res, err := c.Call(context.Background(), CallRequest{Prompt: "p", Model: "m", ReasoningBudgetPercent: 0.5})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "Hello world" {
		t.Fatalf("text = %q", res.Text)
	}
}

func TestOpenRouterReasoningDetailsDedup(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"content":"answer","reasoning_details":[{"id":"r1","text":"partial"}]}}]}`,
		`{"choices":[{"delta":{"reasoning_details":[{"id":"r1","text":"partial grown much longer"}]}}]}`,
	}, nil)
	defer srv.Close()

	c := NewOpenRouterClient("key", srv.URL)
	res, err := c.Call(context.Background(), CallRequest{Prompt: "p", Model: "m", ReasoningBudgetPercent: 0.5})
	if err != nil {
		t.Fatal(err)
	}
	if res.Reasoning != "partial grown much longer" {
		t.Fatalf("reasoning = %q", res.Reasoning)
	}
}

func TestOpenRouterFinalMessageAuthoritative(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"content":"a","reasoning_details":[{"id":"r1","text":"delta text"}]}}]}`,
		`{"choices":[{"message":{"content":"a","reasoning_details":[{"id":"r1","text":"authoritative complete text"}]},"finish_reason":"stop"}]}`,
	}, nil)
	defer srv.Close()

	c := NewOpenRouterClient("key", srv.URL)
	res, err := c.Call(context.Background(), CallRequest{Prompt: "p", Model: "m", ReasoningBudgetPercent: 1})
	if err != nil {
		t.Fatal(err)
	}
	if res.Reasoning != "authoritative complete text" {
		t.Fatalf("reasoning = %q", res.Reasoning)
	}
}

func TestOpenRouterThinkTagFallback(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"content":"<think>hidden</think>visible"}}]}`,
	}, nil)
	defer srv.Close()

	c := NewOpenRouterClient("key", srv.URL)
	res, err := c.Call(context.Background(), CallRequest{Prompt: "p", Model: "m", ReasoningBudgetPercent: 1})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "visible" || res.Reasoning != "hidden" {
		t.Fatalf("got %+v", res)
	}
}

func TestOpenRouterBudgetZeroExcludesReasoning(t *testing.T) {
	var captured map[string]interface{}
	srv := sseServer(t, []string{`{"choices":[{"delta":{"content":"x"}}]}`}, &captured)
	defer srv.Close()

	c := NewOpenRouterClient("key", srv.URL)
	if _, err := c.Call(context.Background(), CallRequest{Prompt: "p", Model: "m", ReasoningBudgetPercent: 0}); err != nil {
		t.Fatal(err)
	}
	reasoning, ok := captured["reasoning"].(map[string]interface{})
	if !ok {
		t.Fatalf("reasoning field missing in request: %v", captured)
	}
	if reasoning["exclude"] != true {
		t.Fatalf("budget 0 must request exclude, got %v", reasoning)
	}
}

func TestOpenRouterProviderError(t *testing.T) {
	srv := sseServer(t, []string{`{"error":{"message":"model overloaded"}}`}, nil)
	defer srv.Close()

	c := NewOpenRouterClient("key", srv.URL)
	_, err := c.Call(context.Background(), CallRequest{Prompt: "p", Model: "m"})
	if err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("err = %v", err)
	}
}

func TestOpenRouterHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewOpenRouterClient("key", srv.URL)
	_, err := c.Call(context.Background(), CallRequest{Prompt: "p", Model: "m"})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("err = %v", err)
	}
}
