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

// Package judge 依据 criteria 列表给模型回答打分。
// 参考答案是嵌在任意文本里的严格 JSON 数组；每个 criterion 独立并行评审，
// 多数通过则整体判 PASS。
package judge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidReference 参考答案不是合法 JSON criteria 数组
var ErrInvalidReference = errors.New("CRITICAL: Reference Answer must be VALID JSON")

// Criterion 参考答案中的单条评审标准
type Criterion struct {
	ID          string
	Description string
}

// ParseReference 从文本中提取第一个可解析的 JSON 数组并转为 criteria 列表。
// 每个元素必须是带 id 字段、且至少一个以 "criteria" 开头字段的对象；
// 数组无效或为空时返回 ErrInvalidReference。
func ParseReference(s string) ([]Criterion, error) {
	raw, ok := firstJSONArray(s)
	if !ok {
		return nil, fmt.Errorf("%w: no parseable array found", ErrInvalidReference)
	}
	var items []map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: empty criteria array", ErrInvalidReference)
	}
	out := make([]Criterion, 0, len(items))
	for i, item := range items {
		var c Criterion
		idRaw, ok := item["id"]
		if !ok {
			return nil, fmt.Errorf("%w: element %d has no id", ErrInvalidReference, i)
		}
		if err := json.Unmarshal(idRaw, &c.ID); err != nil {
			// id 可能是数字
			var n json.Number
			if json.Unmarshal(idRaw, &n) != nil {
				return nil, fmt.Errorf("%w: element %d id not a scalar", ErrInvalidReference, i)
			}
			c.ID = n.String()
		}
		if c.ID == "" {
			return nil, fmt.Errorf("%w: element %d has empty id", ErrInvalidReference, i)
		}
		for field, v := range item {
			if strings.HasPrefix(field, "criteria") {
				var desc string
				if json.Unmarshal(v, &desc) == nil && desc != "" {
					c.Description = desc
					break
				}
			}
		}
		if c.Description == "" {
			return nil, fmt.Errorf("%w: element %d (id %s) has no criteria field", ErrInvalidReference, i, c.ID)
		}
		out = append(out, c)
	}
	return out, nil
}

// firstJSONArray 扫描文本找出第一个整体可解析的 [ … ] 片段。
// 从每个 '[' 起，用括号配额找到平衡的 ']'（跳过字符串字面量），再尝试解析。
func firstJSONArray(s string) (string, bool) {
	for start := 0; start < len(s); start++ {
		if s[start] != '[' {
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
			case '[':
				depth++
			case ']':
				depth--
				if depth == 0 {
					candidate := s[start : i+1]
					if json.Valid([]byte(candidate)) {
						return candidate, true
					}
					i = len(s) // 这个起点失败，换下一个 '['
				}
			}
		}
	}
	return "", false
}
