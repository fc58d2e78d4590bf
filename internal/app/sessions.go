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

package app

import (
	"context"

	"hunt-platform/internal/session"
)

// SessionInfo Session 摘要 DTO，供列表接口使用，不携带全量结果
type SessionInfo struct {
	ID             string               `json:"id"`
	Status         session.Status       `json:"status"`
	ReviewStatus   session.ReviewStatus `json:"review_status"`
	Prompt         string               `json:"prompt"`
	TotalHunts     int                  `json:"total_hunts"`
	CompletedHunts int64                `json:"completed_hunts"`
	BreaksFound    int64                `json:"breaks_found"`
	Accumulated    int64                `json:"accumulated_hunt_count"`
	CurrentTurn    int                  `json:"current_turn"`
}

// SessionService Session 门面：API 层通过它做 ingestion 建会话与列表查询，
// 不直接拼 Store 调用
type SessionService interface {
	Create(ctx context.Context, id string, nb session.Notebook, cfg session.Config) error
	Get(ctx context.Context, id string) (*session.Session, error)
	List(ctx context.Context) ([]*SessionInfo, error)
}

type sessionService struct {
	store session.Store
}

// NewSessionService 创建 Session 门面（由 app 装配时调用）
func NewSessionService(store session.Store) SessionService {
	return &sessionService{store: store}
}

func (s *sessionService) Create(ctx context.Context, id string, nb session.Notebook, cfg session.Config) error {
	cfg.Normalize()
	return s.store.Create(ctx, id, nb, cfg)
}

func (s *sessionService) Get(ctx context.Context, id string) (*session.Session, error) {
	return s.store.GetFull(ctx, id)
}

func (s *sessionService) List(ctx context.Context) ([]*SessionInfo, error) {
	ids, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*SessionInfo, 0, len(ids))
	for _, id := range ids {
		sess, err := s.store.GetFull(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess == nil {
			continue
		}
		out = append(out, sessToInfo(sess))
	}
	return out, nil
}

func sessToInfo(sess *session.Session) *SessionInfo {
	return &SessionInfo{
		ID:             sess.ID,
		Status:         sess.Status,
		ReviewStatus:   sess.ReviewStatus,
		Prompt:         sess.Notebook.Prompt,
		TotalHunts:     sess.Counters.TotalHunts,
		CompletedHunts: sess.Counters.CompletedHunts,
		BreaksFound:    sess.Counters.BreaksFound,
		Accumulated:    sess.Counters.AccumulatedHuntCount,
		CurrentTurn:    sess.CurrentTurn,
	}
}
