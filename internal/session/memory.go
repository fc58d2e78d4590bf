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
	"fmt"
	"sort"
	"sync"

	"hunt-platform/internal/model/llm"
)

// MemoryStore 进程内 Session 存储，语义与 RedisStore 对齐，用于测试与本地开发
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memSession
	acl      ReviewACL
}

type memSession struct {
	notebook     Notebook
	config       Config
	status       Status
	reviewStatus ReviewStatus
	version      int64
	counters     Counters
	results      []HuntResult
	allResults   []HuntResult
	allIDs       map[int64]struct{}
	turns        []TurnData
	currentTurn  int
	reviews      map[int]HumanReview
}

// NewMemoryStore 创建进程内存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*memSession)}
}

func (s *MemoryStore) get(id string) (*memSession, bool) {
	m, ok := s.sessions[id]
	return m, ok
}

func (s *MemoryStore) Create(_ context.Context, id string, nb Notebook, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; ok {
		return fmt.Errorf("session %s: %w", id, ErrAlreadyExists)
	}
	cfg.Normalize()
	s.sessions[id] = &memSession{
		notebook:     nb,
		config:       cfg,
		status:       StatusPending,
		reviewStatus: ReviewDraft,
		allIDs:       make(map[int64]struct{}),
		currentTurn:  1,
		reviews:      make(map[int]HumanReview),
	}
	return nil
}

func (s *MemoryStore) GetFull(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.get(id)
	if !ok {
		return nil, nil
	}
	sess := &Session{
		ID:           id,
		Notebook:     m.notebook,
		Config:       m.config,
		Status:       m.status,
		ReviewStatus: m.reviewStatus,
		Version:      m.version,
		Counters:     m.counters,
		Results:      append([]HuntResult(nil), m.results...),
		AllResults:   append([]HuntResult(nil), m.allResults...),
		Turns:        append([]TurnData(nil), m.turns...),
		CurrentTurn:  m.currentTurn,
	}
	if len(m.reviews) > 0 {
		sess.HumanReviews = make(map[int]HumanReview, len(m.reviews))
		for k, v := range m.reviews {
			sess.HumanReviews[k] = v
		}
	}
	return sess, nil
}

func (s *MemoryStore) mutate(id string, fn func(*memSession)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.get(id)
	if !ok {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	fn(m)
	return nil
}

func (s *MemoryStore) SetConfig(_ context.Context, id string, cfg Config) error {
	cfg.Normalize()
	return s.mutate(id, func(m *memSession) { m.config = cfg })
}

func (s *MemoryStore) SetNotebook(_ context.Context, id string, nb Notebook) error {
	return s.mutate(id, func(m *memSession) { m.notebook = nb })
}

func (s *MemoryStore) SetStatus(_ context.Context, id string, st Status) error {
	return s.mutate(id, func(m *memSession) { m.status = st })
}

func (s *MemoryStore) SetHuntCounters(_ context.Context, id string, total int, completed, breaks int64) error {
	return s.mutate(id, func(m *memSession) {
		m.counters.TotalHunts = total
		m.counters.CompletedHunts = completed
		m.counters.BreaksFound = breaks
	})
}

func (s *MemoryStore) SetAccumulatedCount(_ context.Context, id string, n int64) error {
	return s.mutate(id, func(m *memSession) { m.counters.AccumulatedHuntCount = n })
}

func (s *MemoryStore) SetHuntOffset(_ context.Context, id string, offset int64) error {
	return s.mutate(id, func(m *memSession) { m.config.HuntOffset = offset })
}

func (s *MemoryStore) SetConversationHistory(_ context.Context, id string, history []llm.Message) error {
	return s.mutate(id, func(m *memSession) {
		m.config.ConversationHistory = append([]llm.Message(nil), history...)
	})
}

func (s *MemoryStore) SetTurns(_ context.Context, id string, turns []TurnData, currentTurn int) error {
	if currentTurn < 1 {
		currentTurn = 1
	}
	return s.mutate(id, func(m *memSession) {
		m.turns = append([]TurnData(nil), turns...)
		m.currentTurn = currentTurn
	})
}

func (s *MemoryStore) SetHumanReviews(_ context.Context, id string, reviews map[int]HumanReview) error {
	return s.mutate(id, func(m *memSession) {
		m.reviews = make(map[int]HumanReview, len(reviews))
		for k, v := range reviews {
			m.reviews[k] = v
		}
	})
}

func (s *MemoryStore) AppendResult(_ context.Context, id string, r HuntResult) error {
	return s.mutate(id, func(m *memSession) { m.results = append(m.results, r) })
}

func (s *MemoryStore) AppendAllResult(_ context.Context, id string, r HuntResult) error {
	return s.mutate(id, func(m *memSession) {
		if _, dup := m.allIDs[r.HuntID]; dup {
			return
		}
		m.allIDs[r.HuntID] = struct{}{}
		m.allResults = append(m.allResults, r)
	})
}

func (s *MemoryStore) ClearResults(_ context.Context, id string) error {
	return s.mutate(id, func(m *memSession) { m.results = nil })
}

func (s *MemoryStore) IncrCompletedHunts(_ context.Context, id string) (int64, error) {
	var n int64
	err := s.mutate(id, func(m *memSession) {
		m.counters.CompletedHunts++
		n = m.counters.CompletedHunts
	})
	return n, err
}

func (s *MemoryStore) IncrBreaksFound(_ context.Context, id string) (int64, error) {
	var n int64
	err := s.mutate(id, func(m *memSession) {
		m.counters.BreaksFound++
		n = m.counters.BreaksFound
	})
	return n, err
}

func (s *MemoryStore) CASReviewStatus(_ context.Context, id string, expected, next ReviewStatus) (CASResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.get(id)
	if !ok {
		return CASResult{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if m.reviewStatus != expected {
		return CASResult{OK: false, Actual: m.reviewStatus}, nil
	}
	m.reviewStatus = next
	m.version++
	return CASResult{OK: true, Actual: next}, nil
}

// RefreshTTL 进程内存储没有过期，仅校验存在性
func (s *MemoryStore) RefreshTTL(_ context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.get(id); !ok {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *MemoryStore) ListSessions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// SetReviewACL 设置审核可见范围
func (s *MemoryStore) SetReviewACL(acl ReviewACL) {
	s.mu.Lock()
	s.acl = acl
	s.mu.Unlock()
}

func (s *MemoryStore) ListForReviewer(_ context.Context, reviewerEmail string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	allowed, admin := s.acl.allowedTrainers(reviewerEmail)
	ids := make([]string, 0, len(s.sessions))
	for id, m := range s.sessions {
		if visibleNotebook(admin, allowed, m.notebook) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

var _ Store = (*MemoryStore)(nil)
