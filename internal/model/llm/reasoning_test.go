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

import "testing"

func TestSplitThinkTags(t *testing.T) {
	tests := []struct {
		name          string
		in            string
		wantAnswer    string
		wantReasoning string
		wantOK        bool
	}{
		{
			name:          "full tags",
			in:            "<think>step by step</think>the answer",
			wantAnswer:    "the answer",
			wantReasoning: "step by step",
			wantOK:        true,
		},
		{
			name:          "closing tag only",
			in:            "implicit reasoning</think>final",
			wantAnswer:    "final",
			wantReasoning: "implicit reasoning",
			wantOK:        true,
		},
		{
			name:       "no tags",
			in:         "plain answer",
			wantAnswer: "plain answer",
			wantOK:     false,
		},
		{
			name:          "tags mid-text",
			in:            "prefix <think>r</think> suffix",
			wantAnswer:    "prefix  suffix",
			wantReasoning: "r",
			wantOK:        true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			answer, reasoning, ok := splitThinkTags(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if answer != tt.wantAnswer {
				t.Errorf("answer = %q, want %q", answer, tt.wantAnswer)
			}
			if reasoning != tt.wantReasoning {
				t.Errorf("reasoning = %q, want %q", reasoning, tt.wantReasoning)
			}
		})
	}
}

func TestDetailSetDedupKeepsLongest(t *testing.T) {
	s := newDetailSet()
	s.add(reasoningDetail{ID: "a", Text: "short"})
	s.add(reasoningDetail{ID: "a", Text: "a much longer fragment"})
	s.add(reasoningDetail{ID: "a", Text: "mid"})
	s.add(reasoningDetail{ID: "b", Text: "other"})
	got := s.join()
	want := "a much longer fragment\nother"
	if got != want {
		t.Fatalf("join = %q, want %q", got, want)
	}
}

func TestDetailSetAnonymousEntriesAccumulate(t *testing.T) {
	s := newDetailSet()
	s.addAll([]reasoningDetail{{Text: "first"}, {Text: "second"}})
	s.addAll([]reasoningDetail{{Text: "third"}})
	// 跨 chunk 的无 id 条目不得互相覆盖
	if got, want := s.join(), "first\nsecond\nthird"; got != want {
		t.Fatalf("join = %q, want %q", got, want)
	}
}

func TestDetailBodyFallsBackToSummary(t *testing.T) {
	d := reasoningDetail{Summary: "summary only"}
	if d.body() != "summary only" {
		t.Fatalf("body = %q", d.body())
	}
}
