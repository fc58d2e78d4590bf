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

package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"hunt-platform/internal/model/llm"
	"hunt-platform/pkg/log"
)

// Verdict 单 criterion 判定
type Verdict string

const (
	VerdictPass    Verdict = "PASS"
	VerdictFail    Verdict = "FAIL"
	VerdictMissing Verdict = "MISSING"
)

// Result 整体评审结果
type Result struct {
	// Score 1 通过 / 0 breaking；nil 表示评审未得出结论
	Score       *int
	Criteria    map[string]Verdict
	Explanation string
	// RawOutput 各 criterion 原始判定 JSON 拼接，用于排查
	RawOutput string
}

// Options 一次评审的参数；SystemPrompt/PromptTemplate 来自任务 notebook，可为空
type Options struct {
	Model          string
	SystemPrompt   string
	PromptTemplate string
	Timeout        time.Duration // 单 criterion 超时；0 用默认 120s
}

const (
	defaultCriterionTimeout = 120 * time.Second
	criterionRetries        = 3
	overallRetries          = 3
)

// Judge 按 criteria 列表评审模型回答
type Judge struct {
	caller llm.Caller
	logger *log.Logger
}

// New 创建评审器；caller 指向评审模型所在 provider
func New(caller llm.Caller, logger *log.Logger) *Judge {
	return &Judge{caller: caller, logger: logger}
}

// criterionVerdict 评审模型必须返回的严格 JSON
type criterionVerdict struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// Score 评审一份回答。reference 必须含合法 criteria 数组，否则直接失败不重试。
// 整体结论为空时重发整轮评审，最多 overallRetries 次。
func (j *Judge) Score(ctx context.Context, response, reference string, opts Options) (Result, error) {
	criteria, err := ParseReference(reference)
	if err != nil {
		return Result{}, err
	}

	var last Result
	for pass := 0; pass < overallRetries; pass++ {
		last = j.scoreOnce(ctx, response, criteria, opts)
		if last.Score != nil {
			return last, nil
		}
		if ctx.Err() != nil {
			return last, ctx.Err()
		}
	}
	if j.logger != nil {
		j.logger.Warn("judge produced no overall verdict",
			"model", opts.Model, "raw_output", last.RawOutput)
	}
	return last, nil
}

// scoreOnce 一轮完整评审：每个 criterion 独立并行调用评审模型
func (j *Judge) scoreOnce(ctx context.Context, response string, criteria []Criterion, opts Options) Result {
	type verdictEntry struct {
		id      string
		verdict Verdict
		reason  string
		raw     string
	}
	entries := make([]verdictEntry, len(criteria))

	var wg sync.WaitGroup
	for i, c := range criteria {
		wg.Add(1)
		go func(i int, c Criterion) {
			defer wg.Done()
			v, reason, raw := j.evalCriterion(ctx, response, c, opts)
			entries[i] = verdictEntry{id: c.ID, verdict: v, reason: reason, raw: raw}
		}(i, c)
	}
	wg.Wait()

	res := Result{Criteria: make(map[string]Verdict, len(criteria))}
	var (
		pass, fail int
		rawParts   []string
		passing    []string
		failing    []string
		missing    []string
	)
	for _, e := range entries {
		res.Criteria[e.id] = e.verdict
		if e.raw != "" {
			rawParts = append(rawParts, e.raw)
		}
		line := fmt.Sprintf("- %s: %s", e.id, e.reason)
		switch e.verdict {
		case VerdictPass:
			pass++
			passing = append(passing, line)
		case VerdictFail:
			fail++
			failing = append(failing, line)
		default:
			missing = append(missing, fmt.Sprintf("- %s: not evaluated", e.id))
		}
	}
	res.RawOutput = strings.Join(rawParts, "\n")

	// MISSING 不计入分子分母
	evaluated := pass + fail
	if evaluated > 0 {
		score := 0
		if float64(pass)/float64(evaluated) > 0.5 {
			score = 1
		}
		res.Score = &score
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Passing Criteria: %d/%d", pass, len(criteria))
	writeSection := func(title string, lines []string) {
		if len(lines) == 0 {
			return
		}
		sort.Strings(lines)
		b.WriteString("\n\n" + title + "\n")
		b.WriteString(strings.Join(lines, "\n"))
	}
	writeSection("Passing:", passing)
	writeSection("Failing:", failing)
	writeSection("Missing:", missing)
	res.Explanation = b.String()
	return res
}

// evalCriterion 单 criterion 评审；传输失败在退避重试耗尽后判 FAIL，
// 错误文本作为 reason
func (j *Judge) evalCriterion(ctx context.Context, response string, c Criterion, opts Options) (Verdict, string, string) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultCriterionTimeout
	}
	prompt := buildCriterionPrompt(response, c, opts.PromptTemplate)

	var lastErr error
	for attempt := 0; attempt < criterionRetries; attempt++ {
		if attempt > 0 {
			if err := backoff(ctx, attempt); err != nil {
				lastErr = err
				break
			}
		}
		raw, err := j.caller.Call(ctx, llm.CallRequest{
			Prompt:  prompt,
			Model:   opts.Model,
			History: systemHistory(opts.SystemPrompt),
			// 评审链路不需要 reasoning
			ReasoningBudgetPercent: 0,
			Timeout:                timeout,
		})
		if err != nil {
			lastErr = err
			continue
		}
		v, ok := parseVerdict(raw.Text)
		if !ok {
			lastErr = fmt.Errorf("unparseable verdict: %s", truncate(raw.Text, 200))
			continue
		}
		switch strings.ToUpper(v.Status) {
		case "PASS":
			return VerdictPass, v.Reason, raw.Text
		case "FAIL":
			return VerdictFail, v.Reason, raw.Text
		default:
			lastErr = fmt.Errorf("unknown verdict status %q", v.Status)
		}
	}
	return VerdictFail, fmt.Sprintf("judge call failed: %v", lastErr), ""
}

func systemHistory(system string) []llm.Message {
	if system == "" {
		return nil
	}
	return []llm.Message{{Role: llm.RoleSystem, Content: system}}
}

var backoff = func(ctx context.Context, attempt int) error {
	t := time.NewTimer(time.Duration(1<<uint(attempt)) * time.Second)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

const defaultCriterionPrompt = `You are grading one evaluation criterion against a model response.

Criterion %s: %s

Model response:
%s

Respond with strict JSON only: {"status": "PASS"|"FAIL", "reason": "<short explanation>"}`

// buildCriterionPrompt 组装单 criterion 评审提示词；
// 模板支持 {response}、{criterion_id}、{criterion} 占位符
func buildCriterionPrompt(response string, c Criterion, template string) string {
	if template == "" {
		return fmt.Sprintf(defaultCriterionPrompt, c.ID, c.Description, response)
	}
	r := strings.NewReplacer(
		"{response}", response,
		"{criterion_id}", c.ID,
		"{criterion}", c.Description,
	)
	return r.Replace(template)
}

// parseVerdict 从评审输出中提取 {status, reason} 对象；允许被包裹在其它文本里
func parseVerdict(s string) (criterionVerdict, bool) {
	for start := 0; start < len(s); start++ {
		if s[start] != '{' {
			continue
		}
		depth := 0
		inStr := false
		escaped := false
		for i := start; i < len(s); i++ {
			ch := s[i]
			if inStr {
				switch {
				case escaped:
					escaped = false
				case ch == '\\':
					escaped = true
				case ch == '"':
					inStr = false
				}
				continue
			}
			switch ch {
			case '"':
				inStr = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					var v criterionVerdict
					if json.Unmarshal([]byte(s[start:i+1]), &v) == nil && v.Status != "" {
						return v, true
					}
					i = len(s)
				}
			}
		}
	}
	return criterionVerdict{}, false
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
