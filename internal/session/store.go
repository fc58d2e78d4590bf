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

package session

import (
	"context"

	"hunt-platform/internal/model/llm"
	pkgerrors "hunt-platform/pkg/errors"
)

// 存储层哨兵错误
var (
	ErrNotFound      = pkgerrors.ErrNotFound
	ErrAlreadyExists = pkgerrors.ErrAlreadyExists
)

// CASResult 审核状态 CAS 的三态结果
type CASResult struct {
	OK     bool         // CAS 是否成功
	Actual ReviewStatus // 失败时的当前状态；成功时等于新状态
}

// Store Session 跨进程存储抽象。
// 约束：所有变更是存储端原子操作；读 miss 返回 (nil, nil)；后端故障直接返回错误，
// 不做进程内缓存与静默回退。
type Store interface {
	// Create 幂等创建；已存在时返回 ErrAlreadyExists
	Create(ctx context.Context, id string, nb Notebook, cfg Config) error
	// GetFull 读取全量视图；不存在时返回 (nil, nil)
	GetFull(ctx context.Context, id string) (*Session, error)

	SetConfig(ctx context.Context, id string, cfg Config) error
	SetNotebook(ctx context.Context, id string, nb Notebook) error
	SetStatus(ctx context.Context, id string, st Status) error
	// SetHuntCounters 写整组计数器（Run 开始时 total/completed/breaks 归位）
	SetHuntCounters(ctx context.Context, id string, total int, completed, breaks int64) error
	SetAccumulatedCount(ctx context.Context, id string, n int64) error
	SetHuntOffset(ctx context.Context, id string, offset int64) error
	SetConversationHistory(ctx context.Context, id string, history []llm.Message) error
	SetTurns(ctx context.Context, id string, turns []TurnData, currentTurn int) error
	SetHumanReviews(ctx context.Context, id string, reviews map[int]HumanReview) error

	// AppendResult 追加当前 Run 结果
	AppendResult(ctx context.Context, id string, r HuntResult) error
	// AppendAllResult 追加累积结果；同 hunt_id 的第二次追加是 no-op
	AppendAllResult(ctx context.Context, id string, r HuntResult) error
	// ClearResults 清空当前 Run 结果；不触碰累积结果
	ClearResults(ctx context.Context, id string) error

	// IncrCompletedHunts / IncrBreaksFound 存储端原子自增，返回自增后的值
	IncrCompletedHunts(ctx context.Context, id string) (int64, error)
	IncrBreaksFound(ctx context.Context, id string) (int64, error)

	// CASReviewStatus 审核状态比较交换；session 不存在返回 ErrNotFound；
	// 成功时刷新 TTL 并自增 version
	CASReviewStatus(ctx context.Context, id string, expected, next ReviewStatus) (CASResult, error)

	// RefreshTTL 将该 Session 的全部 key 统一续期（审核相关读取路径调用）
	RefreshTTL(ctx context.Context, id string) error

	// ListSessions 枚举全部 session id（扫描 status key；重复必须去除）
	ListSessions(ctx context.Context) ([]string, error)

	// ListForReviewer 按 reviewer 角色与 trainer pod 允许名单过滤的 session 列表；
	// admin 可见全部，无主 session（notebook 元数据缺 trainer）仅 admin 可见
	ListForReviewer(ctx context.Context, reviewerEmail string) ([]string, error)
}
