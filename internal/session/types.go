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

// Package session 定义 hunt 会话的状态模型与跨进程存储。
// 一个 Session 对应一次被评测的任务：notebook（题面+参考答案）、运行配置、
// 当前 Run 的结果、跨 Run 累积结果、多轮对话轮次与人工审核状态。
package session

import (
	"hunt-platform/internal/model/llm"
	"hunt-platform/pkg/utils"
)

// Status Session 运行状态
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ReviewStatus 人工审核状态
type ReviewStatus string

const (
	ReviewDraft     ReviewStatus = "draft"
	ReviewSubmitted ReviewStatus = "submitted"
	ReviewReturned  ReviewStatus = "returned"
	ReviewApproved  ReviewStatus = "approved"
	ReviewRejected  ReviewStatus = "rejected"
	ReviewEscalated ReviewStatus = "escalated"
)

// HuntStatus 单次 hunt 的状态
type HuntStatus string

const (
	HuntPending   HuntStatus = "pending"
	HuntRunning   HuntStatus = "running"
	HuntCompleted HuntStatus = "completed"
	HuntFailed    HuntStatus = "failed"
)

// TurnStatus 多轮会话中单轮的状态
type TurnStatus string

const (
	TurnPending   TurnStatus = "pending"
	TurnCompleted TurnStatus = "completed"
	TurnBreaking  TurnStatus = "breaking"
)

// Notebook 任务题面：由 ingestion 协作方创建 Session 时写入
type Notebook struct {
	Prompt              string            `json:"prompt"`
	Response            string            `json:"response"`           // 金标答案
	ResponseReference   string            `json:"response_reference"` // 严格 JSON 数组的 criteria 文本
	JudgeSystemPrompt   string            `json:"judge_system_prompt,omitempty"`
	JudgePromptTemplate string            `json:"judge_prompt_template,omitempty"`
	ModelSlots          []string          `json:"model_slots,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

// Config Hunt 运行配置
type Config struct {
	ParallelWorkers        int           `json:"parallel_workers"`         // [1,16]
	TargetBreaks           int           `json:"target_breaks"`            // [1,parallel_workers]
	Models                 []string      `json:"models"`                   // 有序模型 id 列表
	Provider               string        `json:"provider"`                 // openrouter | fireworks
	JudgeModel             string        `json:"judge_model"`
	MaxRetries             int           `json:"max_retries"`
	ReasoningBudgetPercent float64       `json:"reasoning_budget_percent"` // [0,1]，0 表示不请求 reasoning
	ConversationHistory    []llm.Message `json:"conversation_history,omitempty"`
	HuntOffset             int64         `json:"hunt_offset"` // 当前 Run 起始 id（历史最大 hunt_id）
}

// Normalize 钳制配置到合法区间；零值填默认
func (c *Config) Normalize() {
	c.ParallelWorkers = utils.ClampInt(c.ParallelWorkers, 1, 16)
	c.TargetBreaks = utils.ClampInt(c.TargetBreaks, 1, c.ParallelWorkers)
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.ReasoningBudgetPercent < 0 {
		c.ReasoningBudgetPercent = 0
	}
	if c.ReasoningBudgetPercent > 1 {
		c.ReasoningBudgetPercent = 1
	}
	if c.HuntOffset < 0 {
		c.HuntOffset = 0
	}
}

// CriterionVerdict 单 criterion 判定
type CriterionVerdict string

const (
	VerdictPass    CriterionVerdict = "PASS"
	VerdictFail    CriterionVerdict = "FAIL"
	VerdictMissing CriterionVerdict = "MISSING"
)

// HuntResult 单次 hunt（模型调用 + 评审）的结果；hunt_id 在 Session 内跨 Run 严格递增
type HuntResult struct {
	HuntID           int64                       `json:"hunt_id"`
	Model            string                      `json:"model"`
	Status           HuntStatus                  `json:"status"`
	Response         string                      `json:"response,omitempty"`
	ReasoningTrace   string                      `json:"reasoning_trace,omitempty"`
	JudgeScore       *int                        `json:"judge_score"` // nil | 0 | 1
	JudgeCriteria    map[string]CriterionVerdict `json:"judge_criteria,omitempty"`
	JudgeExplanation string                      `json:"judge_explanation,omitempty"`
	JudgeOutput      string                      `json:"judge_output,omitempty"`
	IsBreaking       bool                        `json:"is_breaking"` // judge_score == 0
	Error            string                      `json:"error,omitempty"`
}

// TurnData 多轮会话中的一轮
type TurnData struct {
	TurnNumber        int        `json:"turn_number"`
	Prompt            string     `json:"prompt"`
	ResponseReference string     `json:"response_reference,omitempty"`
	SelectedResponse  string     `json:"selected_response,omitempty"`
	SelectedHuntID    int64      `json:"selected_hunt_id,omitempty"`
	JudgeResult       string     `json:"judge_result,omitempty"`
	Status            TurnStatus `json:"status"`
}

// HumanReview 人工审核槽位（1..4）的评定
type HumanReview struct {
	Basis       string `json:"basis"`       // 评定依据（criteria id 等）
	Explanation string `json:"explanation"` // 自由文本说明
}

// Counters Run 计数器；completed/breaks 由存储端原子自增
type Counters struct {
	TotalHunts           int   `json:"total_hunts"`
	CompletedHunts       int64 `json:"completed_hunts"`
	BreaksFound          int64 `json:"breaks_found"`
	AccumulatedHuntCount int64 `json:"accumulated_hunt_count"`
}

// Session hunt 会话全量视图（GetFull 返回；各字段在存储端独立成 key）
type Session struct {
	ID           string              `json:"id"`
	Notebook     Notebook            `json:"notebook"`
	Config       Config              `json:"config"`
	Status       Status              `json:"status"`
	Counters     Counters            `json:"counters"`
	CurrentTurn  int                 `json:"current_turn"`
	Turns        []TurnData          `json:"turns,omitempty"`
	Results      []HuntResult        `json:"results,omitempty"`     // 当前 Run，Run 开始时清空
	AllResults   []HuntResult        `json:"all_results,omitempty"` // 跨 Run 累积，按 hunt_id 去重，只增不改
	HumanReviews map[int]HumanReview `json:"human_reviews,omitempty"`
	ReviewStatus ReviewStatus        `json:"review_status"`
	Version      int64               `json:"version"` // 审核状态 CAS 成功时自增
}

// BreakingResults 返回累积结果中 is_breaking 的子集
func (s *Session) BreakingResults() []HuntResult {
	var out []HuntResult
	for _, r := range s.AllResults {
		if r.IsBreaking {
			out = append(out, r)
		}
	}
	return out
}

// MaxHuntID 返回累积结果中的最大 hunt_id，无结果时为 0
func (s *Session) MaxHuntID() int64 {
	var max int64
	for _, r := range s.AllResults {
		if r.HuntID > max {
			max = r.HuntID
		}
	}
	return max
}
