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

// Package llm 封装对上游模型 provider 的调用。两个 provider 家族：
// 流式带 reasoning（OpenRouter 类）与缓冲式提示格式（Fireworks 类）。
// 调用方通过 Caller 接口使用单次调用，通过 CallWithRetry 获得完整的
// 空响应回退阶梯。
package llm

import (
	"context"
	"time"
)

// 消息角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 聊天消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CallRequest 单次模型调用请求
type CallRequest struct {
	Prompt string
	Model  string
	// History 多轮对话历史，原样置于当前 prompt 之前
	History []Message
	// ReasoningBudgetPercent [0,1]；0 表示请求 provider 省略 reasoning
	ReasoningBudgetPercent float64
	// DisableReasoning 强制关闭 reasoning（重试阶梯的最后一档）
	DisableReasoning bool
	// Timeout 单次调用超时；0 用 provider 家族默认值
	Timeout time.Duration
}

// CallResult 单次模型调用结果
type CallResult struct {
	Text      string // 最终回答文本
	Reasoning string // reasoning trace，可为空
}

// Caller 单次模型调用；重试与回退由 CallWithRetry 负责
type Caller interface {
	// Call 执行一次调用；传输、HTTP 或 provider 上报的错误都以 error 返回
	Call(ctx context.Context, req CallRequest) (CallResult, error)
	// Provider 返回 provider 名称（限流门按它分桶）
	Provider() string
}

// 单次调用默认超时
const (
	DefaultBufferedTimeout  = 120 * time.Second
	DefaultStreamingTimeout = 180 * time.Second
)

// messages 组装请求消息列表：history 原样在前，当前 prompt 作为 user 消息收尾
func (r CallRequest) messages(system string) []Message {
	msgs := make([]Message, 0, len(r.History)+2)
	if system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	}
	msgs = append(msgs, r.History...)
	msgs = append(msgs, Message{Role: RoleUser, Content: r.Prompt})
	return msgs
}
