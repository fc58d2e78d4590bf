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
	"fmt"
	"strings"
)

// reasoningDetail provider 返回的 reasoning_details 数组元素
type reasoningDetail struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type,omitempty"`
	Text    string `json:"text,omitempty"`
	Summary string `json:"summary,omitempty"`
}

func (d reasoningDetail) body() string {
	if d.Text != "" {
		return d.Text
	}
	return d.Summary
}

// detailSet 按 id 累积 reasoning_details：同 id 保留最长文本，无 id 的
// 按到达顺序各占一个条目（流式 delta 不能互相覆盖）；保持首次出现的顺序
type detailSet struct {
	order []string
	texts map[string]string
	anon  int
}

func newDetailSet() *detailSet {
	return &detailSet{texts: make(map[string]string)}
}

func (s *detailSet) add(d reasoningDetail) {
	key := d.ID
	if key == "" {
		key = fmt.Sprintf("#%d", s.anon)
		s.anon++
	}
	body := d.body()
	prev, seen := s.texts[key]
	if !seen {
		s.order = append(s.order, key)
		s.texts[key] = body
		return
	}
	if len(body) > len(prev) {
		s.texts[key] = body
	}
}

func (s *detailSet) addAll(details []reasoningDetail) {
	for _, d := range details {
		s.add(d)
	}
}

func (s *detailSet) empty() bool {
	return len(s.order) == 0
}

func (s *detailSet) join() string {
	parts := make([]string, 0, len(s.order))
	for _, key := range s.order {
		if t := s.texts[key]; t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// joinDetails 拼接一组完整的 reasoning_details（最终消息场景，不去重）
func joinDetails(details []reasoningDetail) string {
	parts := make([]string, 0, len(details))
	for _, d := range details {
		if b := d.body(); b != "" {
			parts = append(parts, b)
		}
	}
	return strings.Join(parts, "\n")
}

// splitThinkTags 从文本中拆出 <think>…</think> 片段。
// 只有闭合标签时，</think> 之前算 reasoning、之后算回答。
// 返回 (回答, reasoning, 是否发生拆分)。
func splitThinkTags(text string) (answer, reasoning string, ok bool) {
	const (
		openTag  = "<think>"
		closeTag = "</think>"
	)
	start := strings.Index(text, openTag)
	end := strings.Index(text, closeTag)
	switch {
	case start >= 0 && end > start:
		reasoning = strings.TrimSpace(text[start+len(openTag) : end])
		answer = strings.TrimSpace(text[:start] + text[end+len(closeTag):])
		return answer, reasoning, true
	case start < 0 && end >= 0:
		reasoning = strings.TrimSpace(text[:end])
		answer = strings.TrimSpace(text[end+len(closeTag):])
		return answer, reasoning, true
	default:
		return text, "", false
	}
}
