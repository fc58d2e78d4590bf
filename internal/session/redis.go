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
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"hunt-platform/internal/model/llm"
)

const keyPrefix = "sess:"

// 每个 Session 的 key 后缀；TTL 统一作用于全部后缀
var sessionKeySuffixes = []string{
	"status", "notebook", "config", "review_status", "version",
	"counters:total", "counters:completed", "counters:breaks", "counters:accumulated",
	"results", "all_results", "all_ids", "turns", "history", "reviews",
}

// RedisStore 基于 Redis 的 Session 存储：每个字段组独立 key，计数器 INCR，
// 去重追加与审核状态 CAS 用 Lua 在服务端原子完成
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
	acl ReviewACL
}

// NewRedisStore 创建 Redis Session 存储；ttl <= 0 时默认 24h
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func key(id, suffix string) string {
	return keyPrefix + id + ":" + suffix
}

// appendAllScript 按 hunt_id 去重追加累积结果。
// KEYS[1]=all_ids KEYS[2]=all_results ARGV[1]=hunt_id ARGV[2]=json ARGV[3]=ttl_sec
var appendAllScript = redis.NewScript(`
if redis.call("SADD", KEYS[1], ARGV[1]) == 1 then
  redis.call("RPUSH", KEYS[2], ARGV[2])
end
redis.call("EXPIRE", KEYS[1], ARGV[3])
redis.call("EXPIRE", KEYS[2], ARGV[3])
return redis.call("LLEN", KEYS[2])
`)

// casScript 审核状态 CAS：status key 缺失 → "missing"；状态不符 → "mismatch:<actual>"；
// 成功 → "ok"，写新状态、自增 version 并续期全部 key。
// KEYS[1]=status KEYS[2]=review_status KEYS[3]=version
// ARGV[1]=expected ARGV[2]=next ARGV[3]=ttl_sec ARGV[4..]=续期的其余 key
var casScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return "missing"
end
local cur = redis.call("GET", KEYS[2])
if not cur or cur == "" then
  cur = "draft"
end
if cur ~= ARGV[1] then
  return "mismatch:" .. cur
end
redis.call("SET", KEYS[2], ARGV[2])
redis.call("INCR", KEYS[3])
for i = 1, 3 do
  redis.call("EXPIRE", KEYS[i], ARGV[3])
end
for i = 4, #ARGV do
  redis.call("EXPIRE", ARGV[i], ARGV[3])
end
return "ok"
`)

func (s *RedisStore) ttlSec() int64 {
	return int64(s.ttl / time.Second)
}

// Create 幂等创建：SETNX status 占位，已存在返回 ErrAlreadyExists
func (s *RedisStore) Create(ctx context.Context, id string, nb Notebook, cfg Config) error {
	ok, err := s.rdb.SetNX(ctx, key(id, "status"), string(StatusPending), s.ttl).Result()
	if err != nil {
		return fmt.Errorf("session create: %w", err)
	}
	if !ok {
		return fmt.Errorf("session %s: %w", id, ErrAlreadyExists)
	}
	nbJSON, err := json.Marshal(nb)
	if err != nil {
		return err
	}
	cfg.Normalize()
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, key(id, "notebook"), nbJSON, s.ttl)
		p.Set(ctx, key(id, "config"), cfgJSON, s.ttl)
		p.Set(ctx, key(id, "review_status"), string(ReviewDraft), s.ttl)
		p.Set(ctx, key(id, "version"), 0, s.ttl)
		p.Set(ctx, key(id, "counters:total"), 0, s.ttl)
		p.Set(ctx, key(id, "counters:completed"), 0, s.ttl)
		p.Set(ctx, key(id, "counters:breaks"), 0, s.ttl)
		p.Set(ctx, key(id, "counters:accumulated"), 0, s.ttl)
		p.Set(ctx, key(id, "turns"), `{"current_turn":1,"turns":[]}`, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session create pipeline: %w", err)
	}
	return nil
}

// GetFull 读取全量视图；status key 缺失视为不存在，返回 (nil, nil)
func (s *RedisStore) GetFull(ctx context.Context, id string) (*Session, error) {
	pipe := s.rdb.Pipeline()
	statusCmd := pipe.Get(ctx, key(id, "status"))
	nbCmd := pipe.Get(ctx, key(id, "notebook"))
	cfgCmd := pipe.Get(ctx, key(id, "config"))
	reviewCmd := pipe.Get(ctx, key(id, "review_status"))
	versionCmd := pipe.Get(ctx, key(id, "version"))
	totalCmd := pipe.Get(ctx, key(id, "counters:total"))
	completedCmd := pipe.Get(ctx, key(id, "counters:completed"))
	breaksCmd := pipe.Get(ctx, key(id, "counters:breaks"))
	accumCmd := pipe.Get(ctx, key(id, "counters:accumulated"))
	resultsCmd := pipe.LRange(ctx, key(id, "results"), 0, -1)
	allCmd := pipe.LRange(ctx, key(id, "all_results"), 0, -1)
	turnsCmd := pipe.Get(ctx, key(id, "turns"))
	historyCmd := pipe.Get(ctx, key(id, "history"))
	reviewsCmd := pipe.Get(ctx, key(id, "reviews"))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("session get: %w", err)
	}

	statusVal, err := statusCmd.Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session get status: %w", err)
	}

	sess := &Session{
		ID:           id,
		Status:       Status(statusVal),
		ReviewStatus: ReviewDraft,
		CurrentTurn:  1,
	}
	if v, err := nbCmd.Result(); err == nil {
		_ = json.Unmarshal([]byte(v), &sess.Notebook)
	}
	if v, err := cfgCmd.Result(); err == nil {
		_ = json.Unmarshal([]byte(v), &sess.Config)
	}
	if v, err := reviewCmd.Result(); err == nil && v != "" {
		sess.ReviewStatus = ReviewStatus(v)
	}
	sess.Version, _ = versionCmd.Int64()
	if v, err := totalCmd.Int64(); err == nil {
		sess.Counters.TotalHunts = int(v)
	}
	sess.Counters.CompletedHunts, _ = completedCmd.Int64()
	sess.Counters.BreaksFound, _ = breaksCmd.Int64()
	sess.Counters.AccumulatedHuntCount, _ = accumCmd.Int64()
	for _, raw := range resultsCmd.Val() {
		var r HuntResult
		if json.Unmarshal([]byte(raw), &r) == nil {
			sess.Results = append(sess.Results, r)
		}
	}
	for _, raw := range allCmd.Val() {
		var r HuntResult
		if json.Unmarshal([]byte(raw), &r) == nil {
			sess.AllResults = append(sess.AllResults, r)
		}
	}
	if v, err := turnsCmd.Result(); err == nil {
		var t turnsDoc
		if json.Unmarshal([]byte(v), &t) == nil {
			sess.Turns = t.Turns
			if t.CurrentTurn >= 1 {
				sess.CurrentTurn = t.CurrentTurn
			}
		}
	}
	if v, err := historyCmd.Result(); err == nil {
		_ = json.Unmarshal([]byte(v), &sess.Config.ConversationHistory)
	}
	if v, err := reviewsCmd.Result(); err == nil {
		_ = json.Unmarshal([]byte(v), &sess.HumanReviews)
	}
	return sess, nil
}

// turnsDoc turns key 的存储格式
type turnsDoc struct {
	CurrentTurn int        `json:"current_turn"`
	Turns       []TurnData `json:"turns"`
}

func (s *RedisStore) setJSON(ctx context.Context, id, suffix string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, key(id, suffix), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("session set %s: %w", suffix, err)
	}
	return nil
}

// SetConfig 覆盖写运行配置（先钳制到合法区间）
func (s *RedisStore) SetConfig(ctx context.Context, id string, cfg Config) error {
	cfg.Normalize()
	return s.setJSON(ctx, id, "config", cfg)
}

// SetNotebook 覆盖写 notebook
func (s *RedisStore) SetNotebook(ctx context.Context, id string, nb Notebook) error {
	return s.setJSON(ctx, id, "notebook", nb)
}

// SetStatus 覆盖写运行状态
func (s *RedisStore) SetStatus(ctx context.Context, id string, st Status) error {
	if err := s.rdb.Set(ctx, key(id, "status"), string(st), s.ttl).Err(); err != nil {
		return fmt.Errorf("session set status: %w", err)
	}
	return nil
}

// SetHuntCounters 写整组计数器（Run 开始时归位）
func (s *RedisStore) SetHuntCounters(ctx context.Context, id string, total int, completed, breaks int64) error {
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, key(id, "counters:total"), total, s.ttl)
		p.Set(ctx, key(id, "counters:completed"), completed, s.ttl)
		p.Set(ctx, key(id, "counters:breaks"), breaks, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session set counters: %w", err)
	}
	return nil
}

// SetAccumulatedCount 写累积 hunt 总数
func (s *RedisStore) SetAccumulatedCount(ctx context.Context, id string, n int64) error {
	if err := s.rdb.Set(ctx, key(id, "counters:accumulated"), n, s.ttl).Err(); err != nil {
		return fmt.Errorf("session set accumulated: %w", err)
	}
	return nil
}

// SetHuntOffset 更新 config 中的 hunt_offset（读改写 config key；仅 Run 所有者调用）
func (s *RedisStore) SetHuntOffset(ctx context.Context, id string, offset int64) error {
	raw, err := s.rdb.Get(ctx, key(id, "config")).Result()
	if err == redis.Nil {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("session get config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return err
	}
	cfg.HuntOffset = offset
	return s.setJSON(ctx, id, "config", cfg)
}

// SetConversationHistory 覆盖写多轮对话历史
func (s *RedisStore) SetConversationHistory(ctx context.Context, id string, history []llm.Message) error {
	return s.setJSON(ctx, id, "history", history)
}

// SetTurns 覆盖写轮次数据与当前轮号
func (s *RedisStore) SetTurns(ctx context.Context, id string, turns []TurnData, currentTurn int) error {
	if currentTurn < 1 {
		currentTurn = 1
	}
	return s.setJSON(ctx, id, "turns", turnsDoc{CurrentTurn: currentTurn, Turns: turns})
}

// SetHumanReviews 覆盖写人工审核槽位
func (s *RedisStore) SetHumanReviews(ctx context.Context, id string, reviews map[int]HumanReview) error {
	return s.setJSON(ctx, id, "reviews", reviews)
}

// AppendResult 追加当前 Run 结果（RPUSH + 续期）
func (s *RedisStore) AppendResult(ctx context.Context, id string, r HuntResult) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key(id, "results"), raw)
		p.Expire(ctx, key(id, "results"), s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session append result: %w", err)
	}
	return nil
}

// AppendAllResult 按 hunt_id 去重追加累积结果（Lua 服务端原子）
func (s *RedisStore) AppendAllResult(ctx context.Context, id string, r HuntResult) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	err = appendAllScript.Run(ctx, s.rdb,
		[]string{key(id, "all_ids"), key(id, "all_results")},
		r.HuntID, raw, s.ttlSec(),
	).Err()
	if err != nil {
		return fmt.Errorf("session append all result: %w", err)
	}
	return nil
}

// ClearResults 清空当前 Run 结果
func (s *RedisStore) ClearResults(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, key(id, "results")).Err(); err != nil {
		return fmt.Errorf("session clear results: %w", err)
	}
	return nil
}

func (s *RedisStore) incr(ctx context.Context, id, suffix string) (int64, error) {
	pipe := s.rdb.Pipeline()
	incrCmd := pipe.Incr(ctx, key(id, suffix))
	pipe.Expire(ctx, key(id, suffix), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("session incr %s: %w", suffix, err)
	}
	return incrCmd.Val(), nil
}

// IncrCompletedHunts 原子自增 completed_hunts，返回自增后的值
func (s *RedisStore) IncrCompletedHunts(ctx context.Context, id string) (int64, error) {
	return s.incr(ctx, id, "counters:completed")
}

// IncrBreaksFound 原子自增 breaks_found，返回自增后的值
func (s *RedisStore) IncrBreaksFound(ctx context.Context, id string) (int64, error) {
	return s.incr(ctx, id, "counters:breaks")
}

// CASReviewStatus 审核状态比较交换（服务端 Lua；三态结果）
func (s *RedisStore) CASReviewStatus(ctx context.Context, id string, expected, next ReviewStatus) (CASResult, error) {
	extra := make([]interface{}, 0, len(sessionKeySuffixes))
	for _, suffix := range sessionKeySuffixes {
		switch suffix {
		case "status", "review_status", "version":
			continue
		}
		extra = append(extra, key(id, suffix))
	}
	args := append([]interface{}{string(expected), string(next), s.ttlSec()}, extra...)
	res, err := casScript.Run(ctx, s.rdb,
		[]string{key(id, "status"), key(id, "review_status"), key(id, "version")},
		args...,
	).Text()
	if err != nil {
		return CASResult{}, fmt.Errorf("session review cas: %w", err)
	}
	switch {
	case res == "ok":
		return CASResult{OK: true, Actual: next}, nil
	case res == "missing":
		return CASResult{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	case strings.HasPrefix(res, "mismatch:"):
		return CASResult{OK: false, Actual: ReviewStatus(strings.TrimPrefix(res, "mismatch:"))}, nil
	default:
		return CASResult{}, fmt.Errorf("session review cas: unexpected result %q", res)
	}
}

// RefreshTTL 将该 Session 的全部 key 统一续期
func (s *RedisStore) RefreshTTL(ctx context.Context, id string) error {
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, suffix := range sessionKeySuffixes {
			p.Expire(ctx, key(id, suffix), s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("session refresh ttl: %w", err)
	}
	return nil
}

// ListSessions SCAN status key 枚举 session id；SCAN 可能重复返回，必须去重
func (s *RedisStore) ListSessions(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var ids []string
	iter := s.rdb.Scan(ctx, 0, keyPrefix+"*:status", 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		id := strings.TrimSuffix(strings.TrimPrefix(k, keyPrefix), ":status")
		if id == "" || id == k {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("session list: %w", err)
	}
	return ids, nil
}

// SetReviewACL 设置审核可见范围
func (s *RedisStore) SetReviewACL(acl ReviewACL) {
	s.acl = acl
}

func (s *RedisStore) ListForReviewer(ctx context.Context, reviewerEmail string) ([]string, error) {
	ids, err := s.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	allowed, admin := s.acl.allowedTrainers(reviewerEmail)
	if admin {
		return ids, nil
	}
	if len(allowed) == 0 || len(ids) == 0 {
		return []string{}, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, key(id, "notebook"))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("session list notebooks: %w", err)
	}

	out := make([]string, 0, len(ids))
	for i, id := range ids {
		raw, err := cmds[i].Result()
		if err != nil {
			continue
		}
		var nb Notebook
		if json.Unmarshal([]byte(raw), &nb) != nil {
			continue
		}
		if visibleNotebook(false, allowed, nb) {
			out = append(out, id)
		}
	}
	return out, nil
}

var _ Store = (*RedisStore)(nil)
