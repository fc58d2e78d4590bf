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

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) (*MemoryStore, context.Context) {
	t.Helper()
	return NewMemoryStore(), context.Background()
}

func TestCreateIdempotent(t *testing.T) {
	s, ctx := newTestStore(t)
	nb := Notebook{Prompt: "p", Response: "r"}
	if err := s.Create(ctx, "s1", nb, Config{}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := s.Create(ctx, "s1", nb, Config{})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("second create: want ErrAlreadyExists, got %v", err)
	}
}

func TestGetFullMissingSession(t *testing.T) {
	s, ctx := newTestStore(t)
	sess, err := s.GetFull(ctx, "nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess != nil {
		t.Fatalf("want nil session for miss, got %+v", sess)
	}
}

func TestCreateNormalizesConfig(t *testing.T) {
	s, ctx := newTestStore(t)
	cfg := Config{ParallelWorkers: 99, TargetBreaks: 50, ReasoningBudgetPercent: 2.5}
	if err := s.Create(ctx, "s1", Notebook{}, cfg); err != nil {
		t.Fatal(err)
	}
	sess, _ := s.GetFull(ctx, "s1")
	if sess.Config.ParallelWorkers != 16 {
		t.Errorf("parallel_workers = %d, want 16", sess.Config.ParallelWorkers)
	}
	if sess.Config.TargetBreaks != 16 {
		t.Errorf("target_breaks = %d, want 16", sess.Config.TargetBreaks)
	}
	if sess.Config.ReasoningBudgetPercent != 1 {
		t.Errorf("reasoning_budget = %f, want 1", sess.Config.ReasoningBudgetPercent)
	}
	if sess.Config.MaxRetries != 3 {
		t.Errorf("max_retries = %d, want 3", sess.Config.MaxRetries)
	}
}

func TestAppendAllResultDedup(t *testing.T) {
	s, ctx := newTestStore(t)
	if err := s.Create(ctx, "s1", Notebook{}, Config{}); err != nil {
		t.Fatal(err)
	}
	r := HuntResult{HuntID: 7, Model: "m", Status: HuntCompleted}
	for i := 0; i < 3; i++ {
		if err := s.AppendAllResult(ctx, "s1", r); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := s.AppendAllResult(ctx, "s1", HuntResult{HuntID: 8, Model: "m"}); err != nil {
		t.Fatal(err)
	}
	sess, _ := s.GetFull(ctx, "s1")
	if len(sess.AllResults) != 2 {
		t.Fatalf("all_results len = %d, want 2", len(sess.AllResults))
	}
	if sess.AllResults[0].HuntID != 7 || sess.AllResults[1].HuntID != 8 {
		t.Fatalf("unexpected order: %+v", sess.AllResults)
	}
}

func TestClearResultsKeepsAllResults(t *testing.T) {
	s, ctx := newTestStore(t)
	if err := s.Create(ctx, "s1", Notebook{}, Config{}); err != nil {
		t.Fatal(err)
	}
	_ = s.AppendResult(ctx, "s1", HuntResult{HuntID: 1})
	_ = s.AppendAllResult(ctx, "s1", HuntResult{HuntID: 1})
	if err := s.ClearResults(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	sess, _ := s.GetFull(ctx, "s1")
	if len(sess.Results) != 0 {
		t.Errorf("results not cleared: %+v", sess.Results)
	}
	if len(sess.AllResults) != 1 {
		t.Errorf("all_results must survive clear, got %+v", sess.AllResults)
	}
}

func TestIncrCountersConcurrent(t *testing.T) {
	s, ctx := newTestStore(t)
	if err := s.Create(ctx, "s1", Notebook{}, Config{}); err != nil {
		t.Fatal(err)
	}
	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.IncrCompletedHunts(ctx, "s1"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	sess, _ := s.GetFull(ctx, "s1")
	if sess.Counters.CompletedHunts != n {
		t.Fatalf("completed = %d, want %d", sess.Counters.CompletedHunts, n)
	}
}

func TestCASReviewStatus(t *testing.T) {
	s, ctx := newTestStore(t)
	if err := s.Create(ctx, "s1", Notebook{}, Config{}); err != nil {
		t.Fatal(err)
	}

	res, err := s.CASReviewStatus(ctx, "s1", ReviewDraft, ReviewSubmitted)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.Actual != ReviewSubmitted {
		t.Fatalf("cas draft->submitted: %+v", res)
	}

	// mismatch: already submitted
	res, err = s.CASReviewStatus(ctx, "s1", ReviewDraft, ReviewSubmitted)
	if err != nil {
		t.Fatal(err)
	}
	if res.OK {
		t.Fatal("cas with stale expected must fail")
	}
	if res.Actual != ReviewSubmitted {
		t.Fatalf("actual = %s, want submitted", res.Actual)
	}

	// missing session
	_, err = s.CASReviewStatus(ctx, "nope", ReviewDraft, ReviewSubmitted)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	sess, _ := s.GetFull(ctx, "s1")
	if sess.Version != 1 {
		t.Fatalf("version = %d, want 1 after one successful cas", sess.Version)
	}
}

func TestSetTurnsAndReviews(t *testing.T) {
	s, ctx := newTestStore(t)
	if err := s.Create(ctx, "s1", Notebook{}, Config{}); err != nil {
		t.Fatal(err)
	}
	turns := []TurnData{{TurnNumber: 1, Prompt: "q1", Status: TurnCompleted}}
	if err := s.SetTurns(ctx, "s1", turns, 2); err != nil {
		t.Fatal(err)
	}
	if err := s.SetHumanReviews(ctx, "s1", map[int]HumanReview{1: {Basis: "c1", Explanation: "ok"}}); err != nil {
		t.Fatal(err)
	}
	sess, _ := s.GetFull(ctx, "s1")
	if sess.CurrentTurn != 2 || len(sess.Turns) != 1 {
		t.Fatalf("turns view: current=%d len=%d", sess.CurrentTurn, len(sess.Turns))
	}
	if sess.HumanReviews[1].Basis != "c1" {
		t.Fatalf("reviews view: %+v", sess.HumanReviews)
	}
}

func TestListSessionsDedup(t *testing.T) {
	s, ctx := newTestStore(t)
	for _, id := range []string{"b", "a", "c"} {
		if err := s.Create(ctx, id, Notebook{}, Config{}); err != nil {
			t.Fatal(err)
		}
	}
	ids, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Fatalf("ids = %v", ids)
	}
}

func TestListForReviewerScoping(t *testing.T) {
	s, ctx := newTestStore(t)
	s.SetReviewACL(ReviewACL{
		Admins: []string{"Lead@example.com"},
		Pods: map[string][]string{
			"reviewer@example.com": {"trainer-a@example.com"},
		},
	})
	create := func(id, trainer string) {
		nb := Notebook{Prompt: "p"}
		if trainer != "" {
			nb.Metadata = map[string]string{MetadataTrainerKey: trainer}
		}
		if err := s.Create(ctx, id, nb, Config{}); err != nil {
			t.Fatal(err)
		}
	}
	create("s-a", "Trainer-A@example.com")
	create("s-b", "trainer-b@example.com")
	create("s-orphan", "")

	tests := []struct {
		name     string
		reviewer string
		want     []string
	}{
		{"admin sees all, case-insensitive", "lead@example.com", []string{"s-a", "s-b", "s-orphan"}},
		{"pod reviewer sees allowed trainers only", "reviewer@example.com", []string{"s-a"}},
		{"unknown reviewer sees nothing", "stranger@example.com", nil},
		{"empty reviewer sees nothing", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, err := s.ListForReviewer(ctx, tt.reviewer)
			if err != nil {
				t.Fatal(err)
			}
			if len(ids) != len(tt.want) {
				t.Fatalf("ids = %v, want %v", ids, tt.want)
			}
			for i := range tt.want {
				if ids[i] != tt.want[i] {
					t.Fatalf("ids = %v, want %v", ids, tt.want)
				}
			}
		})
	}
}
