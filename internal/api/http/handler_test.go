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

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"

	appcore "hunt-platform/internal/app"
	"hunt-platform/internal/eventbus"
	"hunt-platform/internal/reviewlog"
	"hunt-platform/internal/session"
	"hunt-platform/pkg/log"
)

// newTestHandler 进程内后端装配：MemoryStore + MemoryBus + 内存审计日志，
// Pipeline/Orch 留空（不触发执行路径的用例用）
func newTestHandler(t *testing.T) (*Handler, *session.MemoryStore, *reviewlog.MemoryStore) {
	t.Helper()
	logger, err := log.NewLogger(nil)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	store := session.NewMemoryStore()
	rlog := reviewlog.NewMemoryStore()
	defaults := session.Config{Models: []string{"m1"}, JudgeModel: "j1"}
	defaults.Normalize()
	handler := NewHandler(Deps{
		Sessions:    appcore.NewSessionService(store),
		Store:       store,
		Bus:         eventbus.NewMemoryBus(0),
		ReviewLog:   rlog,
		Models:      []string{"m1", "m2"},
		JudgeModels: []string{"j1"},
		Defaults:    defaults,
		Logger:      logger,
	})
	return handler, store, rlog
}

func performJSON(t *testing.T, h *server.Hertz, method, path string, body []byte) *ut.ResponseRecorder {
	t.Helper()
	return ut.PerformRequest(h.Engine, method, path,
		&ut.Body{Body: bytes.NewReader(body), Len: len(body)},
		ut.Header{Key: "Content-Type", Value: "application/json"})
}

func mustCreateSession(t *testing.T, store *session.MemoryStore, id string) {
	t.Helper()
	cfg := session.Config{Models: []string{"m1"}}
	cfg.Normalize()
	nb := session.Notebook{Prompt: "p", Response: "golden", ResponseReference: `["c1"]`}
	if err := store.Create(context.Background(), id, nb, cfg); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	h := server.Default(server.WithHostPorts(":0"))
	h.GET("/health", handler.HealthCheck)
	w := ut.PerformRequest(h.Engine, "GET", "/health", &ut.Body{Body: bytes.NewReader(nil), Len: 0})
	resp := w.Result()
	if resp.StatusCode() != 200 {
		t.Errorf("HealthCheck status: got %d", resp.StatusCode())
	}
	if !bytes.Contains(resp.Body(), []byte("ok")) {
		t.Errorf("HealthCheck body: %s", resp.Body())
	}
}

func TestCreateSession_Validation(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	h := server.Default(server.WithHostPorts(":0"))
	h.POST("/sessions", handler.CreateSession)

	w := performJSON(t, h, "POST", "/sessions", []byte(`{"notebook":{"prompt":"p"}}`))
	if got := w.Result().StatusCode(); got != 400 {
		t.Errorf("missing session_id: status = %d, want 400", got)
	}

	w = performJSON(t, h, "POST", "/sessions", []byte(`{"session_id":"s1","notebook":{}}`))
	if got := w.Result().StatusCode(); got != 400 {
		t.Errorf("missing prompt: status = %d, want 400", got)
	}
	if !bytes.Contains(w.Result().Body(), []byte("notebook.prompt")) {
		t.Errorf("missing prompt body: %s", w.Result().Body())
	}
}

func TestCreateSession_Conflict(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	h := server.Default(server.WithHostPorts(":0"))
	h.POST("/sessions", handler.CreateSession)

	body := []byte(`{"session_id":"s1","notebook":{"prompt":"p"}}`)
	w := performJSON(t, h, "POST", "/sessions", body)
	if got := w.Result().StatusCode(); got != 201 {
		t.Fatalf("first create: status = %d, want 201, body %s", got, w.Result().Body())
	}
	w = performJSON(t, h, "POST", "/sessions", body)
	if got := w.Result().StatusCode(); got != 409 {
		t.Errorf("second create: status = %d, want 409", got)
	}
}

func TestResults_MergeDedupesByHuntID(t *testing.T) {
	handler, store, _ := newTestHandler(t)
	mustCreateSession(t, store, "s1")
	ctx := context.Background()
	// hunt 1 已并入累积集，hunt 2 只在当前 Run：合并后应各出现一次
	_ = store.AppendAllResult(ctx, "s1", session.HuntResult{HuntID: 1, Status: session.HuntCompleted})
	_ = store.AppendResult(ctx, "s1", session.HuntResult{HuntID: 1, Status: session.HuntCompleted})
	_ = store.AppendResult(ctx, "s1", session.HuntResult{HuntID: 2, Status: session.HuntCompleted, IsBreaking: true})

	h := server.Default(server.WithHostPorts(":0"))
	h.GET("/results/:session_id", handler.Results)
	w := ut.PerformRequest(h.Engine, "GET", "/results/s1", &ut.Body{Body: bytes.NewReader(nil), Len: 0})
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("Results status = %d, body %s", got, w.Result().Body())
	}
	var out struct {
		Count   int                  `json:"count"`
		Results []session.HuntResult `json:"results"`
	}
	if err := json.Unmarshal(w.Result().Body(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Count != 2 || len(out.Results) != 2 {
		t.Errorf("merged count = %d (results %d), want 2", out.Count, len(out.Results))
	}
}

func TestBreakingResults_FiltersBreaking(t *testing.T) {
	handler, store, _ := newTestHandler(t)
	mustCreateSession(t, store, "s1")
	ctx := context.Background()
	_ = store.AppendAllResult(ctx, "s1", session.HuntResult{HuntID: 1, Status: session.HuntCompleted})
	_ = store.AppendAllResult(ctx, "s1", session.HuntResult{HuntID: 2, Status: session.HuntCompleted, IsBreaking: true})

	h := server.Default(server.WithHostPorts(":0"))
	h.GET("/breaking-results/:session_id", handler.BreakingResults)
	w := ut.PerformRequest(h.Engine, "GET", "/breaking-results/s1", &ut.Body{Body: bytes.NewReader(nil), Len: 0})
	var out struct {
		Count   int                  `json:"count"`
		Results []session.HuntResult `json:"results"`
	}
	if err := json.Unmarshal(w.Result().Body(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Count != 1 || len(out.Results) != 1 || out.Results[0].HuntID != 2 {
		t.Errorf("breaking results = %+v, want only hunt 2", out)
	}
}

func TestStartHunt_UnknownSession(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	h := server.Default(server.WithHostPorts(":0"))
	h.POST("/hunt/start", handler.StartHunt)
	w := performJSON(t, h, "POST", "/hunt/start", []byte(`{"session_id":"nope"}`))
	if got := w.Result().StatusCode(); got != 404 {
		t.Errorf("StartHunt unknown session: status = %d, want 404", got)
	}
}

func TestReviewStatus_CAS(t *testing.T) {
	handler, store, rlog := newTestHandler(t)
	mustCreateSession(t, store, "s1")
	h := server.Default(server.WithHostPorts(":0"))
	h.POST("/review/:session_id/status", handler.ReviewStatus)

	// 期望状态不匹配：409 并带当前实际状态
	w := performJSON(t, h, "POST", "/review/s1/status",
		[]byte(`{"expected":"submitted","new":"approved"}`))
	if got := w.Result().StatusCode(); got != 409 {
		t.Fatalf("CAS mismatch: status = %d, want 409, body %s", got, w.Result().Body())
	}
	if !bytes.Contains(w.Result().Body(), []byte(`"actual":"draft"`)) {
		t.Errorf("CAS mismatch body missing actual: %s", w.Result().Body())
	}

	w = performJSON(t, h, "POST", "/review/s1/status",
		[]byte(`{"expected":"draft","new":"submitted","reviewer":"alice"}`))
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("CAS ok: status = %d, body %s", got, w.Result().Body())
	}

	entries, err := rlog.List(context.Background(), "s1")
	if err != nil {
		t.Fatalf("List review log: %v", err)
	}
	if len(entries) != 1 || entries[0].Reviewer != "alice" || entries[0].To != "submitted" {
		t.Errorf("review log entries = %+v, want one draft->submitted by alice", entries)
	}

	w = performJSON(t, h, "POST", "/review/missing/status",
		[]byte(`{"expected":"draft","new":"submitted"}`))
	if got := w.Result().StatusCode(); got != 404 {
		t.Errorf("CAS unknown session: status = %d, want 404", got)
	}
}

func TestSetReviews_SlotRangeAndMerge(t *testing.T) {
	handler, store, _ := newTestHandler(t)
	mustCreateSession(t, store, "s1")
	h := server.Default(server.WithHostPorts(":0"))
	h.POST("/review/:session_id/reviews", handler.SetReviews)

	w := performJSON(t, h, "POST", "/review/s1/reviews",
		[]byte(`{"reviews":{"5":{"basis":"c1","explanation":"x"}}}`))
	if got := w.Result().StatusCode(); got != 400 {
		t.Errorf("slot out of range: status = %d, want 400", got)
	}

	w = performJSON(t, h, "POST", "/review/s1/reviews",
		[]byte(`{"reviews":{"1":{"basis":"c1","explanation":"first"}}}`))
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("set slot 1: status = %d, body %s", got, w.Result().Body())
	}
	w = performJSON(t, h, "POST", "/review/s1/reviews",
		[]byte(`{"reviews":{"2":{"basis":"c2","explanation":"second"}}}`))
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("set slot 2: status = %d, body %s", got, w.Result().Body())
	}

	sess, err := store.GetFull(context.Background(), "s1")
	if err != nil || sess == nil {
		t.Fatalf("GetFull: %v", err)
	}
	if len(sess.HumanReviews) != 2 {
		t.Errorf("human reviews = %+v, want slots 1 and 2 merged", sess.HumanReviews)
	}
	if sess.HumanReviews[1].Explanation != "first" {
		t.Errorf("slot 1 overwritten: %+v", sess.HumanReviews[1])
	}
}

func TestAdvanceTurn(t *testing.T) {
	handler, store, _ := newTestHandler(t)
	mustCreateSession(t, store, "s1")
	ctx := context.Background()
	_ = store.AppendAllResult(ctx, "s1", session.HuntResult{
		HuntID: 3, Status: session.HuntCompleted, Response: "broken answer", IsBreaking: true,
	})

	h := server.Default(server.WithHostPorts(":0"))
	h.POST("/turn/:session_id/advance", handler.AdvanceTurn)

	w := performJSON(t, h, "POST", "/turn/s1/advance",
		[]byte(`{"selected_hunt_id":99}`))
	if got := w.Result().StatusCode(); got != 404 {
		t.Errorf("advance unknown hunt: status = %d, want 404", got)
	}

	w = performJSON(t, h, "POST", "/turn/s1/advance",
		[]byte(`{"selected_hunt_id":3,"next_prompt":"follow up","response_reference":"[\"c2\"]"}`))
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("advance: status = %d, body %s", got, w.Result().Body())
	}

	sess, err := store.GetFull(ctx, "s1")
	if err != nil || sess == nil {
		t.Fatalf("GetFull: %v", err)
	}
	if sess.CurrentTurn != 2 {
		t.Errorf("current_turn = %d, want 2", sess.CurrentTurn)
	}
	if len(sess.Turns) != 2 {
		t.Fatalf("turns = %+v, want locked turn 1 + pending turn 2", sess.Turns)
	}
	if sess.Turns[0].Status != session.TurnBreaking || sess.Turns[0].SelectedHuntID != 3 {
		t.Errorf("turn 1 = %+v, want breaking with hunt 3", sess.Turns[0])
	}
	if sess.Turns[1].Status != session.TurnPending || sess.Turns[1].Prompt != "follow up" {
		t.Errorf("turn 2 = %+v, want pending with next prompt", sess.Turns[1])
	}
	if sess.Notebook.Prompt != "follow up" || sess.Notebook.ResponseReference != `["c2"]` {
		t.Errorf("notebook = %+v, want next turn prompt/reference", sess.Notebook)
	}
	// 对话历史锁定 本轮题面 + 选中回答
	hist := sess.Config.ConversationHistory
	if len(hist) != 2 || hist[0].Content != "p" || hist[1].Content != "broken answer" {
		t.Errorf("conversation history = %+v", hist)
	}
}

func TestModels(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	h := server.Default(server.WithHostPorts(":0"))
	h.GET("/models", handler.Models)
	w := ut.PerformRequest(h.Engine, "GET", "/models", &ut.Body{Body: bytes.NewReader(nil), Len: 0})
	var out struct {
		Models      []string `json:"models"`
		JudgeModels []string `json:"judge_models"`
	}
	if err := json.Unmarshal(w.Result().Body(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.Models) != 2 || len(out.JudgeModels) != 1 {
		t.Errorf("models = %+v", out)
	}
}

func TestReviewSessions_ScopedByReviewer(t *testing.T) {
	handler, store, _ := newTestHandler(t)
	store.SetReviewACL(session.ReviewACL{
		Admins: []string{"lead@example.com"},
		Pods:   map[string][]string{"alice@example.com": {"trainer-a@example.com"}},
	})
	create := func(id, trainer string) {
		nb := session.Notebook{Prompt: "p", Metadata: map[string]string{session.MetadataTrainerKey: trainer}}
		if err := store.Create(context.Background(), id, nb, session.Config{}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	create("s-a", "trainer-a@example.com")
	create("s-b", "trainer-b@example.com")

	h := server.Default(server.WithHostPorts(":0"))
	h.GET("/review/sessions", handler.ReviewSessions)

	get := func(reviewer string) []string {
		w := ut.PerformRequest(h.Engine, "GET", "/review/sessions?reviewer="+reviewer,
			&ut.Body{Body: bytes.NewReader(nil), Len: 0})
		if got := w.Result().StatusCode(); got != 200 {
			t.Fatalf("status = %d", got)
		}
		var out struct {
			Sessions []string `json:"sessions"`
		}
		if err := json.Unmarshal(w.Result().Body(), &out); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return out.Sessions
	}

	if ids := get("lead@example.com"); len(ids) != 2 {
		t.Errorf("admin sessions = %v", ids)
	}
	if ids := get("alice@example.com"); len(ids) != 1 || ids[0] != "s-a" {
		t.Errorf("pod reviewer sessions = %v", ids)
	}
	if ids := get("stranger@example.com"); len(ids) != 0 {
		t.Errorf("stranger sessions = %v", ids)
	}
}

func TestAdminStatus_ModeStandalone(t *testing.T) {
	handler, store, _ := newTestHandler(t)
	mustCreateSession(t, store, "s1")
	h := server.Default(server.WithHostPorts(":0"))
	h.GET("/admin/status", handler.AdminStatus)
	w := ut.PerformRequest(h.Engine, "GET", "/admin/status", &ut.Body{Body: bytes.NewReader(nil), Len: 0})
	if !bytes.Contains(w.Result().Body(), []byte(`"mode":"standalone"`)) {
		t.Errorf("AdminStatus body: %s", w.Result().Body())
	}
}
