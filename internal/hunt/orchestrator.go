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

// Package hunt 实现评测运行的编排：进程内的 Run Loop（并行 hunt 扇出）
// 与跨进程的 Job Pipeline（消费组 + 心跳接管）。
package hunt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hunt-platform/internal/eventbus"
	"hunt-platform/internal/judge"
	"hunt-platform/internal/model/llm"
	"hunt-platform/internal/rategate"
	"hunt-platform/internal/session"
	"hunt-platform/pkg/log"
	"hunt-platform/pkg/metrics"
	"hunt-platform/pkg/tracing"
)

// CallerFactory 按 provider 名解析模型客户端
type CallerFactory func(provider string) (llm.Caller, error)

// Config 编排器运行参数
type Config struct {
	ModelTimeout  time.Duration // 缓冲家族单次调用超时
	StreamTimeout time.Duration // 流式家族单次调用超时
	JudgeTimeout  time.Duration // 单 criterion 评审超时
	JudgeModel    string        // session 未指定时的评审模型
	JudgeProvider string        // 评审调用在限流门里占用的 provider 桶
}

func (c *Config) withDefaults() {
	if c.ModelTimeout <= 0 {
		c.ModelTimeout = llm.DefaultBufferedTimeout
	}
	if c.StreamTimeout <= 0 {
		c.StreamTimeout = llm.DefaultStreamingTimeout
	}
	if c.JudgeTimeout <= 0 {
		c.JudgeTimeout = 120 * time.Second
	}
	if c.JudgeProvider == "" {
		c.JudgeProvider = "openai"
	}
}

// Orchestrator 一次 Run 的执行者。进程启动时构造一份，显式传给 HTTP 层与
// worker，不做包级单例。
type Orchestrator struct {
	store   session.Store
	bus     eventbus.Bus
	gate    *rategate.Gate
	callers CallerFactory
	judge   *judge.Judge
	cfg     Config
	logger  *log.Logger
}

// New 创建编排器
func New(store session.Store, bus eventbus.Bus, gate *rategate.Gate,
	callers CallerFactory, j *judge.Judge, cfg Config, logger *log.Logger) *Orchestrator {
	cfg.withDefaults()
	return &Orchestrator{
		store: store, bus: bus, gate: gate,
		callers: callers, judge: j, cfg: cfg, logger: logger,
	}
}

// huntOutcome 单个 hunt 任务的落库结果
type huntOutcome struct {
	result session.HuntResult
}

// Run 执行一次完整的 Run Loop。对 all_results 幂等：当前窗口内已有的
// hunt_id 不会重跑，接管后的重放只补剩余部分。单个 hunt 的失败被吸收进
// HuntResult，只有加载 config/notebook 失败才会让整个 Run 失败。
func (o *Orchestrator) Run(ctx context.Context, sessionID string) error {
	start := time.Now()
	ctx, span := tracing.StartRunSpan(ctx, sessionID)
	defer span.End()
	err := o.run(ctx, sessionID)
	if err != nil {
		metrics.RunTotal.WithLabelValues("failed").Inc()
		if setErr := o.store.SetStatus(ctx, sessionID, session.StatusFailed); setErr != nil {
			o.logger.Error("set failed status", "session_id", sessionID, "err", setErr)
		}
		if _, pubErr := o.bus.Publish(ctx, sessionID, eventbus.TypeError,
			map[string]string{"detail": err.Error()}); pubErr != nil {
			o.logger.Error("publish error event", "session_id", sessionID, "err", pubErr)
		}
		return err
	}
	metrics.RunTotal.WithLabelValues("completed").Inc()
	metrics.RunDuration.Observe(time.Since(start).Seconds())
	return nil
}

func (o *Orchestrator) run(ctx context.Context, sessionID string) error {
	sess, err := o.store.GetFull(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return fmt.Errorf("session %s: %w", sessionID, session.ErrNotFound)
	}
	cfg := sess.Config
	cfg.Normalize()
	nb := sess.Notebook
	if nb.Prompt == "" {
		return fmt.Errorf("session %s has no notebook prompt", sessionID)
	}
	if len(cfg.Models) == 0 {
		return fmt.Errorf("session %s has no models configured", sessionID)
	}
	caller, err := o.callers(cfg.Provider)
	if err != nil {
		return fmt.Errorf("resolve provider %s: %w", cfg.Provider, err)
	}

	base := cfg.HuntOffset
	total := cfg.ParallelWorkers

	// 幂等窗口：当前窗口 (base, base+total] 内已有的结果视为完成，接管时只补余量
	done := make(map[int64]session.HuntResult)
	inWindow := func(id int64) bool { return id > base && id <= base+int64(total) }
	for _, r := range sess.AllResults {
		if inWindow(r.HuntID) {
			done[r.HuntID] = r
		}
	}
	for _, r := range sess.Results {
		if inWindow(r.HuntID) {
			done[r.HuntID] = r
		}
	}

	if len(done) == 0 {
		// 全新 Run：清掉上一窗口的残留
		if err := o.store.ClearResults(ctx, sessionID); err != nil {
			return fmt.Errorf("clear results: %w", err)
		}
	}
	var doneBreaks int64
	for _, r := range done {
		if r.IsBreaking {
			doneBreaks++
		}
	}
	if err := o.store.SetHuntCounters(ctx, sessionID, total, int64(len(done)), doneBreaks); err != nil {
		return fmt.Errorf("reset counters: %w", err)
	}
	if err := o.store.SetStatus(ctx, sessionID, session.StatusRunning); err != nil {
		return fmt.Errorf("set running: %w", err)
	}
	if _, err := o.bus.Publish(ctx, sessionID, eventbus.TypeStart, map[string]interface{}{
		"session_id":    sessionID,
		"total_hunts":   total,
		"target_breaks": cfg.TargetBreaks,
		"run_start_id":  base,
	}); err != nil {
		o.logger.Warn("publish start event", "session_id", sessionID, "err", err)
	}

	o.logger.Info("run started", "session_id", sessionID,
		"total", total, "resumed", len(done), "offset", base)

	// 扇出：每个剩余 hunt 一个任务；无提前取消，全部跑完
	results := make(chan huntOutcome, total)
	spawned := 0
	for i := 0; i < total; i++ {
		huntID := base + int64(i) + 1
		if _, ok := done[huntID]; ok {
			continue
		}
		model := cfg.Models[i%len(cfg.Models)]
		spawned++
		go func(huntID int64, model string) {
			results <- huntOutcome{result: o.runHunt(ctx, sessionID, huntID, model, caller, cfg, nb)}
		}(huntID, model)
	}
	for i := 0; i < spawned; i++ {
		<-results
	}

	// 合并：当前 Run 里 completed 的结果并入累积集（按 hunt_id 去重）
	final, err := o.store.GetFull(ctx, sessionID)
	if err != nil || final == nil {
		return fmt.Errorf("reload session after run: %w", err)
	}
	for _, r := range final.Results {
		if r.Status == session.HuntCompleted {
			if err := o.store.AppendAllResult(ctx, sessionID, r); err != nil {
				return fmt.Errorf("merge result %d: %w", r.HuntID, err)
			}
		}
	}
	accumulated := base + int64(total)
	if err := o.store.SetAccumulatedCount(ctx, sessionID, accumulated); err != nil {
		return fmt.Errorf("set accumulated: %w", err)
	}
	if err := o.store.SetStatus(ctx, sessionID, session.StatusCompleted); err != nil {
		return fmt.Errorf("set completed: %w", err)
	}

	completed := final.Counters.CompletedHunts
	breaks := final.Counters.BreaksFound
	if _, err := o.bus.Publish(ctx, sessionID, eventbus.TypeComplete, map[string]interface{}{
		"session_id":        sessionID,
		"completed":         completed,
		"breaks":            breaks,
		"success":           breaks >= int64(cfg.TargetBreaks),
		"total_accumulated": accumulated,
	}); err != nil {
		o.logger.Warn("publish complete event", "session_id", sessionID, "err", err)
	}
	o.logger.Info("run finished", "session_id", sessionID,
		"completed", completed, "breaks", breaks)
	return nil
}

// runHunt 一次 hunt：模型调用 + 评审 + 落库 + 事件。panic 被兜住转为失败结果。
func (o *Orchestrator) runHunt(ctx context.Context, sessionID string, huntID int64,
	model string, caller llm.Caller, cfg session.Config, nb session.Notebook) (result session.HuntResult) {

	ctx, span := tracing.StartHuntSpan(ctx, sessionID, huntID, model)
	defer span.End()

	result = session.HuntResult{HuntID: huntID, Model: model, Status: session.HuntRunning}
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("hunt task panicked", "session_id", sessionID,
				"hunt_id", huntID, "panic", rec)
			result.Status = session.HuntFailed
			result.Error = fmt.Sprintf("internal error: %v", rec)
			o.finishHunt(ctx, sessionID, &result, cfg.ParallelWorkers)
		}
	}()

	if _, err := o.bus.Publish(ctx, sessionID, eventbus.TypeHuntStart, map[string]interface{}{
		"session_id": sessionID,
		"hunt_id":    huntID,
		"model":      model,
	}); err != nil {
		o.logger.Warn("publish hunt_start", "session_id", sessionID, "err", err)
	}

	res, err := o.callModel(ctx, caller, model, cfg, nb)
	if err != nil || res.Text == "" {
		if err == nil {
			err = errors.New("empty response after retries")
		}
		metrics.HuntTotal.WithLabelValues("failed").Inc()
		result.Status = session.HuntFailed
		result.Error = err.Error()
		o.finishHunt(ctx, sessionID, &result, cfg.ParallelWorkers)
		return result
	}
	result.Response = res.Text
	result.ReasoningTrace = res.Reasoning

	o.judgeHunt(ctx, &result, cfg, nb)
	o.finishHunt(ctx, sessionID, &result, cfg.ParallelWorkers)
	return result
}

// callModel 在限流门下调用模型网关
func (o *Orchestrator) callModel(ctx context.Context, caller llm.Caller, model string,
	cfg session.Config, nb session.Notebook) (llm.CallResult, error) {

	release, err := o.gate.Acquire(ctx, caller.Provider())
	if err != nil {
		return llm.CallResult{}, err
	}
	defer release()

	timeout := o.cfg.ModelTimeout
	if caller.Provider() == "openrouter" {
		timeout = o.cfg.StreamTimeout
	}
	start := time.Now()
	res, err := llm.CallWithRetry(ctx, caller, llm.CallRequest{
		Prompt:                 nb.Prompt,
		Model:                  model,
		History:                cfg.ConversationHistory,
		ReasoningBudgetPercent: cfg.ReasoningBudgetPercent,
		Timeout:                timeout,
	}, cfg.MaxRetries)
	metrics.LLMCallDuration.WithLabelValues(caller.Provider()).Observe(time.Since(start).Seconds())
	return res, err
}

// judgeHunt 在限流门下评审回答并填充结果字段。
// 参考答案非法 → hunt 失败；其它评审错误保留回答、score 置空。
func (o *Orchestrator) judgeHunt(ctx context.Context, result *session.HuntResult,
	cfg session.Config, nb session.Notebook) {

	release, err := o.gate.Acquire(ctx, o.cfg.JudgeProvider)
	if err != nil {
		result.Status = session.HuntCompleted
		result.Error = fmt.Sprintf("judge gate: %v", err)
		return
	}
	defer release()

	judgeModel := cfg.JudgeModel
	if judgeModel == "" {
		judgeModel = o.cfg.JudgeModel
	}
	ctx, span := tracing.StartJudgeSpan(ctx, judgeModel)
	defer span.End()
	verdict, err := o.judge.Score(ctx, result.Response, nb.ResponseReference, judge.Options{
		Model:          judgeModel,
		SystemPrompt:   nb.JudgeSystemPrompt,
		PromptTemplate: nb.JudgePromptTemplate,
		Timeout:        o.cfg.JudgeTimeout,
	})
	if err != nil {
		if errors.Is(err, judge.ErrInvalidReference) {
			metrics.HuntTotal.WithLabelValues("failed").Inc()
			result.Status = session.HuntFailed
			result.Error = err.Error()
			return
		}
		metrics.HuntTotal.WithLabelValues("completed").Inc()
		result.Status = session.HuntCompleted
		result.Error = fmt.Sprintf("judge: %v", err)
		return
	}

	result.Status = session.HuntCompleted
	result.JudgeScore = verdict.Score
	result.JudgeExplanation = verdict.Explanation
	result.JudgeOutput = verdict.RawOutput
	if len(verdict.Criteria) > 0 {
		result.JudgeCriteria = make(map[string]session.CriterionVerdict, len(verdict.Criteria))
		for id, v := range verdict.Criteria {
			result.JudgeCriteria[id] = session.CriterionVerdict(v)
			metrics.JudgeVerdictTotal.WithLabelValues(string(v)).Inc()
		}
	}
	if verdict.Score == nil {
		result.Error = "judge produced no verdict"
	} else {
		result.IsBreaking = *verdict.Score == 0
	}
	metrics.HuntTotal.WithLabelValues("completed").Inc()
	if result.IsBreaking {
		metrics.BreaksTotal.Inc()
	}
}

// finishHunt 落库、推进计数器并发布 hunt_result 事件；
// 事件里的 completed/breaks 是本任务自增后的值
func (o *Orchestrator) finishHunt(ctx context.Context, sessionID string, result *session.HuntResult, total int) {
	if err := o.store.AppendResult(ctx, sessionID, *result); err != nil {
		o.logger.Error("append result", "session_id", sessionID,
			"hunt_id", result.HuntID, "err", err)
	}
	completed, err := o.store.IncrCompletedHunts(ctx, sessionID)
	if err != nil {
		o.logger.Error("incr completed", "session_id", sessionID, "err", err)
	}
	var breaks int64
	if result.IsBreaking {
		if breaks, err = o.store.IncrBreaksFound(ctx, sessionID); err != nil {
			o.logger.Error("incr breaks", "session_id", sessionID, "err", err)
		}
	} else {
		if sess, err := o.store.GetFull(ctx, sessionID); err == nil && sess != nil {
			breaks = sess.Counters.BreaksFound
		}
	}

	payload := map[string]interface{}{
		"session_id":      sessionID,
		"hunt_id":         result.HuntID,
		"status":          result.Status,
		"score":           result.JudgeScore,
		"is_breaking":     result.IsBreaking,
		"model":           result.Model,
		"response":        result.Response,
		"reasoning_trace": result.ReasoningTrace,
		"completed":       completed,
		"total":           total,
		"breaks":          breaks,
	}
	if result.Error != "" {
		payload["error"] = result.Error
	}
	if _, err := o.bus.Publish(ctx, sessionID, eventbus.TypeHuntResult, payload); err != nil {
		o.logger.Warn("publish hunt_result", "session_id", sessionID, "err", err)
	}
}
