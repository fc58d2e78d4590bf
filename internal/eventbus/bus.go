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

// Package eventbus 提供每 Session 的进度事件流：发布端（worker）追加事件，
// 订阅端（SSE handler）从任意事件 id 续读，先回放历史再转实时。
package eventbus

import (
	"context"
	"encoding/json"
)

// 事件类型（闭集）；complete 与 error 是终止事件，订阅方收到后停止消费
const (
	TypeStart        = "start"
	TypeHuntStart    = "hunt_start"
	TypeHuntProgress = "hunt_progress"
	TypeHuntResult   = "hunt_result"
	TypeComplete     = "complete"
	TypeError        = "error"
	TypePing         = "ping"
)

// Terminal 判断事件是否终止逻辑流
func Terminal(eventType string) bool {
	return eventType == TypeComplete || eventType == TypeError
}

// Event 单条进度事件；ID 在同一 Session 流内严格递增，可作为 SSE 续读游标
type Event struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Bus 事件流抽象。Publish 追加并返回事件 id；Subscribe 从 afterID 之后开始读
// （afterID 为空表示从头），channel 在 ctx 取消后关闭。
type Bus interface {
	Publish(ctx context.Context, sessionID, eventType string, payload interface{}) (string, error)
	Subscribe(ctx context.Context, sessionID, afterID string) (<-chan Event, error)
}

func marshalPayload(payload interface{}) (json.RawMessage, error) {
	if payload == nil {
		return json.RawMessage("{}"), nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
