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

// Package reviewlog 记录审核状态流转的只追加审计日志。
// 由 CAS 成功后的审核端点写入，管理端查询；不在 Run 热路径上。
package reviewlog

import (
	"context"
	"time"
)

// Entry 一次审核状态流转
type Entry struct {
	SessionID string    `json:"session_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reviewer  string    `json:"reviewer"`
	At        time.Time `json:"at"`
}

// Store 审计日志存储
type Store interface {
	// Append 追加一条流转记录
	Append(ctx context.Context, e Entry) error
	// List 按时间升序返回某 session 的全部记录
	List(ctx context.Context, sessionID string) ([]Entry, error)
}
