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
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
)

const defaultFireworksBaseURL = "https://api.fireworks.ai/inference/v1"

// fireworksSystemPrompt 缓冲家族靠提示词约定 reasoning 格式
const fireworksSystemPrompt = "First reason about the problem inside <think></think> tags, " +
	"then give your final answer after the closing tag."

// FireworksClient 缓冲式提示格式的 provider 家族：一次性返回完整响应，
// reasoning 依提取优先级从响应字段或 <think> 标签中取出；不使用 reasoning 预算。
type FireworksClient struct {
	apiKey  string
	baseURL string
	client  *resty.Client
}

// NewFireworksClient 创建 Fireworks 客户端；baseURL 为空用官方端点
func NewFireworksClient(apiKey, baseURL string) *FireworksClient {
	if baseURL == "" {
		baseURL = defaultFireworksBaseURL
	}
	client := resty.New()
	client.SetTransport(&http.Transport{
		MaxConnsPerHost:     20,
		MaxIdleConnsPerHost: 10,
		ForceAttemptHTTP2:   true,
	})
	return &FireworksClient{apiKey: apiKey, baseURL: baseURL, client: client}
}

func (c *FireworksClient) Provider() string { return "fireworks" }

type fwResponse struct {
	Choices []struct {
		Message struct {
			Content          string            `json:"content"`
			ReasoningContent string            `json:"reasoning_content"`
			ReasoningDetails []reasoningDetail `json:"reasoning_details"`
			Reasoning        string            `json:"reasoning"`
			Thinking         string            `json:"thinking"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Call 发起缓冲聊天请求；reasoning 提取优先级：
// reasoning_content → reasoning_details[].text → reasoning/thinking →
// <think> 标签 → 仅闭合标签时按 </think> 切分
func (c *FireworksClient) Call(ctx context.Context, req CallRequest) (CallResult, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultBufferedTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	system := fireworksSystemPrompt
	if req.DisableReasoning {
		system = ""
	}
	body := map[string]interface{}{
		"model":    req.Model,
		"messages": req.messages(system),
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+c.apiKey).
		SetBody(body).
		Post(c.baseURL + "/chat/completions")
	if err != nil {
		return CallResult{}, fmt.Errorf("fireworks request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return CallResult{}, fmt.Errorf("fireworks http %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	var out fwResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return CallResult{}, fmt.Errorf("fireworks decode: %w", err)
	}
	if out.Error != nil && out.Error.Message != "" {
		return CallResult{}, fmt.Errorf("fireworks provider error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return CallResult{}, fmt.Errorf("fireworks: empty choices")
	}

	msg := out.Choices[0].Message
	res := CallResult{Text: strings.TrimSpace(msg.Content)}
	switch {
	case msg.ReasoningContent != "":
		res.Reasoning = strings.TrimSpace(msg.ReasoningContent)
	case len(msg.ReasoningDetails) > 0:
		res.Reasoning = joinDetails(msg.ReasoningDetails)
	case msg.Reasoning != "":
		res.Reasoning = strings.TrimSpace(msg.Reasoning)
	case msg.Thinking != "":
		res.Reasoning = strings.TrimSpace(msg.Thinking)
	default:
		if answer, reasoning, ok := splitThinkTags(res.Text); ok {
			res.Text, res.Reasoning = answer, reasoning
		}
	}
	return res, nil
}

var _ Caller = (*FireworksClient)(nil)
