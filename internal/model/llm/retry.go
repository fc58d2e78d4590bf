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
	"context"
	"fmt"
	"strings"
	"time"
)

// NewCaller 按 provider 名创建客户端；未知 provider 当作 OpenRouter 兼容端点
func NewCaller(provider, apiKey, baseURL string) (Caller, error) {
	switch provider {
	case "openrouter", "":
		return NewOpenRouterClient(apiKey, baseURL), nil
	case "fireworks":
		return NewFireworksClient(apiKey, baseURL), nil
	default:
		return NewOpenRouterClient(apiKey, baseURL), nil
	}
}

// sleep 重试间隔；测试里替换为 no-op
var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CallWithRetry 带空响应回退阶梯的模型调用：
//  1. 正常调用，响应文本非空直接返回
//  2. 文本空但 reasoning 非空：注入 reasoning 追问「只给最终答案」，
//     追问失败则把 reasoning 当作回答返回（thinking-only 模型）
//  3. 文本与 reasoning 全空：最后一次重试改为关闭 reasoning 再调
//  4. 每次失败之间指数退避 2^attempt 秒；耗尽后返回最后一个错误
func CallWithRetry(ctx context.Context, caller Caller, req CallRequest, maxRetries int) (CallResult, error) {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	var (
		lastErr        error
		sawOnlyEmpty   = true
		accumReasoning strings.Builder
	)
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, time.Duration(1<<uint(attempt))*time.Second); err != nil {
				return CallResult{}, err
			}
		}

		attemptReq := req
		if attempt == maxRetries-1 && attempt > 0 && sawOnlyEmpty {
			// 前面每次都两头皆空：最后一档关闭 reasoning 重试
			attemptReq.DisableReasoning = true
		}

		res, err := caller.Call(ctx, attemptReq)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return CallResult{}, lastErr
			}
			continue
		}
		if res.Reasoning != "" {
			sawOnlyEmpty = false
			if accumReasoning.Len() > 0 {
				accumReasoning.WriteString("\n")
			}
			accumReasoning.WriteString(res.Reasoning)
		}
		if res.Text != "" {
			return res, nil
		}
		if res.Reasoning != "" {
			// 有 reasoning 没回答：带上下文追问最终答案
			if final, ok := askFinalAnswer(ctx, caller, req, accumReasoning.String()); ok {
				return final, nil
			}
			return CallResult{Text: res.Reasoning, Reasoning: res.Reasoning}, nil
		}
		lastErr = fmt.Errorf("model %s returned an empty response", req.Model)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("model %s returned an empty response after %d attempts", req.Model, maxRetries)
	}
	return CallResult{}, lastErr
}

// askFinalAnswer 把已累积的 reasoning 作为上下文，追问一次最终答案
func askFinalAnswer(ctx context.Context, caller Caller, req CallRequest, reasoning string) (CallResult, bool) {
	followup := req
	followup.DisableReasoning = true
	followup.History = append(append([]Message(nil), req.History...),
		Message{Role: RoleUser, Content: req.Prompt},
		Message{Role: RoleAssistant, Content: reasoning},
	)
	followup.Prompt = "Based on your reasoning above, provide the final answer only."
	res, err := caller.Call(ctx, followup)
	if err != nil || res.Text == "" {
		return CallResult{}, false
	}
	res.Reasoning = reasoning
	return res, true
}
