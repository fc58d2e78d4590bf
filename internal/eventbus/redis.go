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

package eventbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hunt-platform/pkg/log"
	"hunt-platform/pkg/metrics"
)

const (
	streamPrefix = "hunt_events:"

	// 默认流长度上限（近似裁剪）；覆盖一次完整 Run 的事件量
	defaultMaxLen = 512

	// 订阅端单次 XREAD 的阻塞时长；到期后空转重试，便于响应 ctx 取消
	readBlock = 5 * time.Second
)

// RedisBus 基于 Redis Stream 的事件流；每个 Session 一条流，
// MAXLEN ~ 近似裁剪控制内存
type RedisBus struct {
	rdb    *redis.Client
	maxLen int64
	ttl    time.Duration
	logger *log.Logger
}

// NewRedisBus 创建 Redis 事件流；maxLen <= 0 用默认值，ttl <= 0 表示不过期
func NewRedisBus(rdb *redis.Client, maxLen int64, ttl time.Duration, logger *log.Logger) *RedisBus {
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	return &RedisBus{rdb: rdb, maxLen: maxLen, ttl: ttl, logger: logger}
}

func streamKey(sessionID string) string {
	return streamPrefix + sessionID
}

// Publish 追加事件并返回流内 id
func (b *RedisBus) Publish(ctx context.Context, sessionID, eventType string, payload interface{}) (string, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return "", fmt.Errorf("eventbus marshal: %w", err)
	}
	id, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(sessionID),
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]interface{}{"type": eventType, "data": string(raw)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("eventbus publish: %w", err)
	}
	if b.ttl > 0 {
		// 续期失败不影响发布结果
		_ = b.rdb.Expire(ctx, streamKey(sessionID), b.ttl).Err()
	}
	metrics.EventsPublished.WithLabelValues(eventType).Inc()
	return id, nil
}

// Subscribe 从 afterID 之后开始读事件。先用 XRANGE 回放已有历史，
// 再用 XREAD BLOCK 跟读实时事件；ctx 取消后关闭 channel。
func (b *RedisBus) Subscribe(ctx context.Context, sessionID, afterID string) (<-chan Event, error) {
	if afterID == "" {
		afterID = "0"
	}
	ch := make(chan Event, 64)
	go func() {
		defer close(ch)
		last := afterID
		// 回放阶段
		msgs, err := b.rdb.XRange(ctx, streamKey(sessionID), incrID(last), "+").Result()
		if err != nil && !errors.Is(err, context.Canceled) {
			if b.logger != nil {
				b.logger.Warn("event replay failed", "session_id", sessionID, "err", err)
			}
			return
		}
		for _, m := range msgs {
			if !send(ctx, ch, toEvent(m)) {
				return
			}
			last = m.ID
		}
		// 实时阶段
		for {
			streams, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{streamKey(sessionID), last},
				Block:   readBlock,
				Count:   64,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					// BLOCK 超时，检查取消后继续
					select {
					case <-ctx.Done():
						return
					default:
						continue
					}
				}
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if b.logger != nil {
					b.logger.Warn("event read failed", "session_id", sessionID, "err", err)
				}
				return
			}
			for _, st := range streams {
				for _, m := range st.Messages {
					if !send(ctx, ch, toEvent(m)) {
						return
					}
					last = m.ID
				}
			}
		}
	}()
	return ch, nil
}

func send(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func toEvent(m redis.XMessage) Event {
	ev := Event{ID: m.ID}
	if v, ok := m.Values["type"].(string); ok {
		ev.Type = v
	}
	if v, ok := m.Values["data"].(string); ok {
		ev.Data = []byte(v)
	}
	return ev
}

// incrID 把 "之后" 语义转为 XRANGE 起点：开区间前缀排除 afterID 自身
func incrID(id string) string {
	if id == "0" || id == "" {
		return "-"
	}
	return "(" + id
}

var _ Bus = (*RedisBus)(nil)
