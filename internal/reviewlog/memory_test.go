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

package reviewlog

import (
	"context"
	"testing"
)

func TestAppendAndListOrdered(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	transitions := []struct{ from, to string }{
		{"draft", "submitted"},
		{"submitted", "returned"},
		{"returned", "submitted"},
		{"submitted", "approved"},
	}
	for _, tr := range transitions {
		if err := s.Append(ctx, Entry{SessionID: "s1", From: tr.from, To: tr.to, Reviewer: "alice@example.com"}); err != nil {
			t.Fatal(err)
		}
	}
	_ = s.Append(ctx, Entry{SessionID: "other", From: "draft", To: "submitted"})

	got, err := s.List(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(transitions) {
		t.Fatalf("len = %d, want %d", len(got), len(transitions))
	}
	for i, tr := range transitions {
		if got[i].From != tr.from || got[i].To != tr.to {
			t.Errorf("entry %d = %s→%s, want %s→%s", i, got[i].From, got[i].To, tr.from, tr.to)
		}
		if got[i].At.IsZero() {
			t.Errorf("entry %d has zero timestamp", i)
		}
	}
}

func TestListUnknownSessionEmpty(t *testing.T) {
	s := NewMemoryStore()
	got, err := s.List(context.Background(), "nope")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("got %v", got)
	}
}
