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

// Package http 提供 hunt 平台的 HTTP 接口层。
// Handler 只依赖 SessionService/Store/Bus 等门面，不直接拼 Redis 命令；
// 错误响应统一为 {detail} 形式。
package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/redis/go-redis/v9"

	appcore "hunt-platform/internal/app"
	"hunt-platform/internal/api/http/middleware"
	"hunt-platform/internal/eventbus"
	"hunt-platform/internal/hunt"
	"hunt-platform/internal/model/llm"
	"hunt-platform/internal/reviewlog"
	"hunt-platform/internal/session"
	"hunt-platform/pkg/log"
	"hunt-platform/pkg/metrics"
)

// Deps Handler 依赖集合；Pipeline 为 nil 时 /hunt/start 走同步执行（单进程模式）
type Deps struct {
	Sessions    appcore.SessionService
	Store       session.Store
	Bus         eventbus.Bus
	Orch        *hunt.Orchestrator
	Pipeline    *hunt.Pipeline
	ReviewLog   reviewlog.Store
	Redis       *redis.Client // 仅 admin 诊断用；内存模式为 nil
	Models      []string
	JudgeModels []string
	Defaults    session.Config
	Logger      *log.Logger
}

// Handler HTTP 处理器
type Handler struct {
	deps Deps
}

// NewHandler 创建新的 HTTP 处理器
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps}
}

func respondError(c *app.RequestContext, code int, detail string) {
	c.JSON(code, map[string]string{"detail": detail})
}

// loadSession 加载 Session；miss 时写 404 并返回 nil
func (h *Handler) loadSession(ctx context.Context, c *app.RequestContext, id string) *session.Session {
	sess, err := h.deps.Store.GetFull(ctx, id)
	if err != nil {
		respondError(c, consts.StatusInternalServerError, fmt.Sprintf("load session: %v", err))
		return nil
	}
	if sess == nil {
		respondError(c, consts.StatusNotFound, fmt.Sprintf("session %s not found", id))
		return nil
	}
	return sess
}

// mergeResults 合并累积结果与当前 Run 尚未并入累积集的结果（按 hunt_id 去重）
func mergeResults(sess *session.Session) []session.HuntResult {
	merged := append([]session.HuntResult(nil), sess.AllResults...)
	seen := make(map[int64]struct{}, len(merged))
	for _, r := range merged {
		seen[r.HuntID] = struct{}{}
	}
	for _, r := range sess.Results {
		if _, ok := seen[r.HuntID]; !ok {
			merged = append(merged, r)
			seen[r.HuntID] = struct{}{}
		}
	}
	return merged
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, map[string]interface{}{
		"status":    "ok",
		"service":   "hunt-api",
		"timestamp": time.Now().Unix(),
	})
}

type startHuntRequest struct {
	SessionID string          `json:"session_id"`
	Config    *session.Config `json:"config,omitempty"`
}

// StartHunt 接受一次 hunt：更新配置、把 hunt_offset 推到历史最大 hunt_id，
// 然后提交 Job（共享日志模式）或同步执行到完成（单进程模式）
func (h *Handler) StartHunt(ctx context.Context, c *app.RequestContext) {
	var req startHuntRequest
	if err := c.BindJSON(&req); err != nil {
		respondError(c, consts.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.SessionID == "" {
		respondError(c, consts.StatusBadRequest, "session_id is required")
		return
	}
	sess := h.loadSession(ctx, c, req.SessionID)
	if sess == nil {
		return
	}

	cfg := sess.Config
	if req.Config != nil {
		cfg = *req.Config
	}
	cfg.Normalize()
	// Run 窗口起点固定为累积集的最大 hunt_id，接管重放时窗口因此稳定
	cfg.HuntOffset = sess.MaxHuntID()
	if err := h.deps.Store.SetConfig(ctx, req.SessionID, cfg); err != nil {
		respondError(c, consts.StatusInternalServerError, fmt.Sprintf("save config: %v", err))
		return
	}

	if h.deps.Pipeline != nil {
		jobID, err := h.deps.Pipeline.Submit(ctx, req.SessionID)
		if err != nil {
			respondError(c, consts.StatusInternalServerError, fmt.Sprintf("submit job: %v", err))
			return
		}
		c.JSON(consts.StatusAccepted, map[string]string{
			"session_id": req.SessionID,
			"job_id":     jobID,
			"status":     "accepted",
		})
		return
	}

	// 同步模式：执行完返回最终 Session
	if err := h.deps.Orch.Run(ctx, req.SessionID); err != nil {
		respondError(c, consts.StatusInternalServerError, fmt.Sprintf("run hunt: %v", err))
		return
	}
	final := h.loadSession(ctx, c, req.SessionID)
	if final == nil {
		return
	}
	c.JSON(consts.StatusOK, final)
}

// Results 累积结果 + 当前 Run 结果（合并、去重）
func (h *Handler) Results(ctx context.Context, c *app.RequestContext) {
	id := c.Param("session_id")
	sess := h.loadSession(ctx, c, id)
	if sess == nil {
		return
	}
	merged := mergeResults(sess)
	c.JSON(consts.StatusOK, map[string]interface{}{
		"count":             len(merged),
		"results":           merged,
		"accumulated_count": sess.Counters.AccumulatedHuntCount,
	})
}

// BreakingResults 仅 breaking 结果
func (h *Handler) BreakingResults(ctx context.Context, c *app.RequestContext) {
	id := c.Param("session_id")
	sess := h.loadSession(ctx, c, id)
	if sess == nil {
		return
	}
	var breaking []session.HuntResult
	for _, r := range mergeResults(sess) {
		if r.IsBreaking {
			breaking = append(breaking, r)
		}
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"count":   len(breaking),
		"results": breaking,
	})
}

// ReviewResults 审核视图：breaking 优先，最多 4 条。审核端读取顺带续期 Session。
func (h *Handler) ReviewResults(ctx context.Context, c *app.RequestContext) {
	id := c.Param("session_id")
	sess := h.loadSession(ctx, c, id)
	if sess == nil {
		return
	}
	if err := h.deps.Store.RefreshTTL(ctx, id); err != nil {
		h.deps.Logger.Warn("refresh ttl", "session_id", id, "err", err)
	}
	selected := session.SelectForReview(mergeResults(sess))
	c.JSON(consts.StatusOK, map[string]interface{}{
		"count":   len(selected),
		"results": selected,
	})
}

// Models 已知模型 id（静态配置）
func (h *Handler) Models(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, map[string]interface{}{
		"models":       h.deps.Models,
		"judge_models": h.deps.JudgeModels,
	})
}

type createSessionRequest struct {
	SessionID string           `json:"session_id"`
	Notebook  session.Notebook `json:"notebook"`
	Config    *session.Config  `json:"config,omitempty"`
}

// CreateSession ingestion 协作方建会话：带 notebook，配置缺省取服务端默认
func (h *Handler) CreateSession(ctx context.Context, c *app.RequestContext) {
	var req createSessionRequest
	if err := c.BindJSON(&req); err != nil {
		respondError(c, consts.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.SessionID == "" {
		respondError(c, consts.StatusBadRequest, "session_id is required")
		return
	}
	if req.Notebook.Prompt == "" {
		respondError(c, consts.StatusBadRequest, "notebook.prompt is required")
		return
	}
	cfg := h.deps.Defaults
	if req.Config != nil {
		cfg = *req.Config
	}
	if err := h.deps.Sessions.Create(ctx, req.SessionID, req.Notebook, cfg); err != nil {
		if errors.Is(err, session.ErrAlreadyExists) {
			respondError(c, consts.StatusConflict, fmt.Sprintf("session %s already exists", req.SessionID))
			return
		}
		respondError(c, consts.StatusInternalServerError, fmt.Sprintf("create session: %v", err))
		return
	}
	c.JSON(consts.StatusCreated, map[string]string{
		"session_id": req.SessionID,
		"status":     "created",
	})
}

// ListSessions 列出全部 Session 摘要
func (h *Handler) ListSessions(ctx context.Context, c *app.RequestContext) {
	infos, err := h.deps.Sessions.List(ctx)
	if err != nil {
		respondError(c, consts.StatusInternalServerError, fmt.Sprintf("list sessions: %v", err))
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"count":    len(infos),
		"sessions": infos,
	})
}

// ReviewSessions 审核端可见的 session 列表：范围由 reviewer 角色与
// trainer pod 允许名单决定，无主 session 仅 admin 可见
func (h *Handler) ReviewSessions(ctx context.Context, c *app.RequestContext) {
	reviewer := middleware.ReviewerFromContext(ctx, c)
	if reviewer == "" {
		reviewer = c.Query("reviewer")
	}
	ids, err := h.deps.Store.ListForReviewer(ctx, reviewer)
	if err != nil {
		respondError(c, consts.StatusInternalServerError, fmt.Sprintf("list for reviewer: %v", err))
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"reviewer": reviewer,
		"count":    len(ids),
		"sessions": ids,
	})
}

// GetSession 读取单个 Session 全量视图
func (h *Handler) GetSession(ctx context.Context, c *app.RequestContext) {
	id := c.Param("session_id")
	sess := h.loadSession(ctx, c, id)
	if sess == nil {
		return
	}
	c.JSON(consts.StatusOK, sess)
}

type reviewStatusRequest struct {
	Expected string `json:"expected"`
	New      string `json:"new"`
	Reviewer string `json:"reviewer,omitempty"`
}

// ReviewStatus 审核状态 CAS 流转。竞争失败返回 409 与当前实际状态，
// 由调用端刷新后重试；成功后追加审计日志。
func (h *Handler) ReviewStatus(ctx context.Context, c *app.RequestContext) {
	id := c.Param("session_id")
	var req reviewStatusRequest
	if err := c.BindJSON(&req); err != nil {
		respondError(c, consts.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Expected == "" || req.New == "" {
		respondError(c, consts.StatusBadRequest, "expected and new are required")
		return
	}

	res, err := h.deps.Store.CASReviewStatus(ctx, id,
		session.ReviewStatus(req.Expected), session.ReviewStatus(req.New))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(c, consts.StatusNotFound, fmt.Sprintf("session %s not found", id))
			return
		}
		respondError(c, consts.StatusInternalServerError, fmt.Sprintf("review status cas: %v", err))
		return
	}
	if !res.OK {
		c.JSON(consts.StatusConflict, map[string]string{
			"detail": "review status changed concurrently",
			"actual": string(res.Actual),
		})
		return
	}

	reviewer := req.Reviewer
	if reviewer == "" {
		reviewer = middleware.ReviewerFromContext(ctx, c)
	}
	if h.deps.ReviewLog != nil {
		entry := reviewlog.Entry{
			SessionID: id,
			From:      req.Expected,
			To:        req.New,
			Reviewer:  reviewer,
			At:        time.Now(),
		}
		if err := h.deps.ReviewLog.Append(ctx, entry); err != nil {
			h.deps.Logger.Error("append review log", "session_id", id, "err", err)
		}
	}
	c.JSON(consts.StatusOK, map[string]string{
		"session_id":    id,
		"review_status": req.New,
	})
}

type setReviewsRequest struct {
	Reviews map[int]session.HumanReview `json:"reviews"`
}

// SetReviews 写人工审核槽位（1..4），与已有槽位合并
func (h *Handler) SetReviews(ctx context.Context, c *app.RequestContext) {
	id := c.Param("session_id")
	var req setReviewsRequest
	if err := c.BindJSON(&req); err != nil {
		respondError(c, consts.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	for slot := range req.Reviews {
		if slot < 1 || slot > session.MaxReviewSlots {
			respondError(c, consts.StatusBadRequest,
				fmt.Sprintf("review slot %d out of range [1,%d]", slot, session.MaxReviewSlots))
			return
		}
	}
	sess := h.loadSession(ctx, c, id)
	if sess == nil {
		return
	}
	merged := sess.HumanReviews
	if merged == nil {
		merged = make(map[int]session.HumanReview, len(req.Reviews))
	}
	for slot, review := range req.Reviews {
		merged[slot] = review
	}
	if err := h.deps.Store.SetHumanReviews(ctx, id, merged); err != nil {
		respondError(c, consts.StatusInternalServerError, fmt.Sprintf("save reviews: %v", err))
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"session_id":    id,
		"human_reviews": merged,
	})
}

type advanceTurnRequest struct {
	SelectedHuntID    int64  `json:"selected_hunt_id"`
	NextPrompt        string `json:"next_prompt,omitempty"`
	ResponseReference string `json:"response_reference,omitempty"`
}

// AdvanceTurn 多轮推进：锁定本轮选中的回答，把 本轮 prompt + 选中回答
// 追加进对话历史，再推进 current_turn。带 next_prompt 时登记下一轮题面。
func (h *Handler) AdvanceTurn(ctx context.Context, c *app.RequestContext) {
	id := c.Param("session_id")
	var req advanceTurnRequest
	if err := c.BindJSON(&req); err != nil {
		respondError(c, consts.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	sess := h.loadSession(ctx, c, id)
	if sess == nil {
		return
	}

	var selected *session.HuntResult
	for _, r := range mergeResults(sess) {
		if r.HuntID == req.SelectedHuntID {
			selected = &r
			break
		}
	}
	if selected == nil {
		respondError(c, consts.StatusNotFound,
			fmt.Sprintf("hunt result %d not found in session %s", req.SelectedHuntID, id))
		return
	}

	cur := sess.CurrentTurn
	if cur < 1 {
		cur = 1
	}
	turns := append([]session.TurnData(nil), sess.Turns...)
	idx := -1
	for i := range turns {
		if turns[i].TurnNumber == cur {
			idx = i
			break
		}
	}
	if idx < 0 {
		turns = append(turns, session.TurnData{TurnNumber: cur, Prompt: sess.Notebook.Prompt})
		idx = len(turns) - 1
	}
	turns[idx].SelectedResponse = selected.Response
	turns[idx].SelectedHuntID = selected.HuntID
	turns[idx].JudgeResult = selected.JudgeExplanation
	if selected.IsBreaking {
		turns[idx].Status = session.TurnBreaking
	} else {
		turns[idx].Status = session.TurnCompleted
	}

	turnPrompt := turns[idx].Prompt
	if turnPrompt == "" {
		turnPrompt = sess.Notebook.Prompt
	}
	history := append([]llm.Message(nil), sess.Config.ConversationHistory...)
	history = append(history,
		llm.Message{Role: llm.RoleUser, Content: turnPrompt},
		llm.Message{Role: llm.RoleAssistant, Content: selected.Response},
	)

	next := cur + 1
	if req.NextPrompt != "" {
		turns = append(turns, session.TurnData{
			TurnNumber:        next,
			Prompt:            req.NextPrompt,
			ResponseReference: req.ResponseReference,
			Status:            session.TurnPending,
		})
		nb := sess.Notebook
		nb.Prompt = req.NextPrompt
		if req.ResponseReference != "" {
			nb.ResponseReference = req.ResponseReference
		}
		if err := h.deps.Store.SetNotebook(ctx, id, nb); err != nil {
			respondError(c, consts.StatusInternalServerError, fmt.Sprintf("save notebook: %v", err))
			return
		}
	}

	if err := h.deps.Store.SetConversationHistory(ctx, id, history); err != nil {
		respondError(c, consts.StatusInternalServerError, fmt.Sprintf("save history: %v", err))
		return
	}
	if err := h.deps.Store.SetTurns(ctx, id, turns, next); err != nil {
		respondError(c, consts.StatusInternalServerError, fmt.Sprintf("save turns: %v", err))
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"session_id":   id,
		"current_turn": next,
		"turns":        turns,
	})
}

// AdminStatus 服务诊断概览
func (h *Handler) AdminStatus(ctx context.Context, c *app.RequestContext) {
	ids, err := h.deps.Store.ListSessions(ctx)
	if err != nil {
		respondError(c, consts.StatusInternalServerError, fmt.Sprintf("list sessions: %v", err))
		return
	}
	mode := "shared"
	if h.deps.Pipeline == nil {
		mode = "standalone"
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"status":   "ok",
		"mode":     mode,
		"sessions": len(ids),
	})
}

// ActiveHunts 当前活跃的 Run：共享模式按心跳 key 枚举（含执行者），
// 单进程模式退化为 status=running 的 Session 列表
func (h *Handler) ActiveHunts(ctx context.Context, c *app.RequestContext) {
	type activeHunt struct {
		SessionID string `json:"session_id"`
		Consumer  string `json:"consumer,omitempty"`
	}
	var active []activeHunt

	if h.deps.Redis != nil {
		iter := h.deps.Redis.Scan(ctx, 0, "hunt_active:*", 100).Iterator()
		for iter.Next(ctx) {
			key := iter.Val()
			consumer, _ := h.deps.Redis.Get(ctx, key).Result()
			active = append(active, activeHunt{
				SessionID: key[len("hunt_active:"):],
				Consumer:  consumer,
			})
		}
		if err := iter.Err(); err != nil {
			respondError(c, consts.StatusInternalServerError, fmt.Sprintf("scan heartbeats: %v", err))
			return
		}
	} else {
		ids, err := h.deps.Store.ListSessions(ctx)
		if err != nil {
			respondError(c, consts.StatusInternalServerError, fmt.Sprintf("list sessions: %v", err))
			return
		}
		for _, id := range ids {
			sess, err := h.deps.Store.GetFull(ctx, id)
			if err == nil && sess != nil && sess.Status == session.StatusRunning {
				active = append(active, activeHunt{SessionID: id})
			}
		}
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"count":  len(active),
		"active": active,
	})
}

// ReviewLogEntries 审核状态流转审计记录
func (h *Handler) ReviewLogEntries(ctx context.Context, c *app.RequestContext) {
	id := c.Param("session_id")
	if h.deps.ReviewLog == nil {
		c.JSON(consts.StatusOK, map[string]interface{}{"count": 0, "entries": []reviewlog.Entry{}})
		return
	}
	entries, err := h.deps.ReviewLog.List(ctx, id)
	if err != nil {
		respondError(c, consts.StatusInternalServerError, fmt.Sprintf("list review log: %v", err))
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"count":   len(entries),
		"entries": entries,
	})
}

// Metrics Prometheus 文本格式指标
func (h *Handler) Metrics(ctx context.Context, c *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		respondError(c, consts.StatusInternalServerError, fmt.Sprintf("gather metrics: %v", err))
		return
	}
	c.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}
