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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
)

const defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenRouterClient 流式带 reasoning 的 provider 家族。
// 内容走增量 delta；reasoning 优先取 reasoning_details（按 id 去重保最长），
// 退化取增量 reasoning/thinking 字段；最终消息携带完整 reasoning_details 时
// 以它为准；两处都没有时从内容里拆 <think> 标签。
type OpenRouterClient struct {
	apiKey  string
	baseURL string
	client  *resty.Client
}

// NewOpenRouterClient 创建 OpenRouter 客户端；baseURL 为空用官方端点
func NewOpenRouterClient(apiKey, baseURL string) *OpenRouterClient {
	if baseURL == "" {
		baseURL = defaultOpenRouterBaseURL
	}
	client := resty.New()
	client.SetTransport(&http.Transport{
		MaxConnsPerHost:     20,
		MaxIdleConnsPerHost: 10,
		ForceAttemptHTTP2:   true,
	})
	return &OpenRouterClient{apiKey: apiKey, baseURL: baseURL, client: client}
}

func (c *OpenRouterClient) Provider() string { return "openrouter" }

type orStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string            `json:"content"`
			Reasoning        string            `json:"reasoning"`
			Thinking         string            `json:"thinking"`
			ReasoningDetails []reasoningDetail `json:"reasoning_details"`
		} `json:"delta"`
		Message *struct {
			Content          string            `json:"content"`
			ReasoningDetails []reasoningDetail `json:"reasoning_details"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Call 发起流式聊天请求并聚合增量结果
func (c *OpenRouterClient) Call(ctx context.Context, req CallRequest) (CallResult, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultStreamingTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body := map[string]interface{}{
		"model":    req.Model,
		"messages": req.messages(""),
		"stream":   true,
	}
	if req.DisableReasoning || req.ReasoningBudgetPercent == 0 {
		body["reasoning"] = map[string]interface{}{"exclude": true}
	} else {
		body["reasoning"] = map[string]interface{}{"effort": "high"}
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+c.apiKey).
		SetBody(body).
		SetDoNotParseResponse(true).
		Post(c.baseURL + "/chat/completions")
	if err != nil {
		return CallResult{}, fmt.Errorf("openrouter request: %w", err)
	}
	raw := resp.RawBody()
	defer raw.Close()

	if resp.StatusCode() != http.StatusOK {
		buf := new(strings.Builder)
		_, _ = copyBounded(buf, raw, 8<<10)
		return CallResult{}, fmt.Errorf("openrouter http %d: %s", resp.StatusCode(), strings.TrimSpace(buf.String()))
	}

	var (
		content       strings.Builder
		incremental   strings.Builder
		details       = newDetailSet()
		finalDetails  []reasoningDetail
		providerError string
	)

	scanner := bufio.NewScanner(raw)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}
		var chunk orStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			// 个别坏块跳过，不中断流
			continue
		}
		if chunk.Error != nil && chunk.Error.Message != "" {
			providerError = chunk.Error.Message
			break
		}
		for _, ch := range chunk.Choices {
			content.WriteString(ch.Delta.Content)
			incremental.WriteString(ch.Delta.Reasoning)
			incremental.WriteString(ch.Delta.Thinking)
			details.addAll(ch.Delta.ReasoningDetails)
			if ch.Message != nil && len(ch.Message.ReasoningDetails) > 0 {
				finalDetails = ch.Message.ReasoningDetails
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return CallResult{}, fmt.Errorf("openrouter stream: %w", ctx.Err())
		}
		return CallResult{}, fmt.Errorf("openrouter stream: %w", err)
	}
	if providerError != "" {
		return CallResult{}, fmt.Errorf("openrouter provider error: %s", providerError)
	}

	res := CallResult{Text: strings.TrimSpace(content.String())}
	switch {
	case len(finalDetails) > 0:
		res.Reasoning = joinDetails(finalDetails)
	case !details.empty():
		res.Reasoning = details.join()
	default:
		res.Reasoning = strings.TrimSpace(incremental.String())
	}
	if res.Reasoning == "" {
		if answer, reasoning, ok := splitThinkTags(res.Text); ok {
			res.Text, res.Reasoning = answer, reasoning
		}
	}
	return res, nil
}

func copyBounded(dst *strings.Builder, src io.Reader, max int64) (int64, error) {
	return io.Copy(dst, io.LimitReader(src, max))
}

var _ Caller = (*OpenRouterClient)(nil)
