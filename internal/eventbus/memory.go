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
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// MemoryBus 进程内事件流，语义与 RedisBus 对齐：每 Session 一个有界环形缓冲，
// 事件 id 单调递增，订阅先回放后实时
type MemoryBus struct {
	mu      sync.Mutex
	maxLen  int
	streams map[string]*memStream
}

type memStream struct {
	nextSeq int64
	events  []Event // 最多 maxLen 条，旧的被丢弃
	waiters []chan struct{}
}

// NewMemoryBus 创建进程内事件流；maxLen <= 0 用默认值
func NewMemoryBus(maxLen int) *MemoryBus {
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	return &MemoryBus{maxLen: maxLen, streams: make(map[string]*memStream)}
}

func (b *MemoryBus) stream(sessionID string) *memStream {
	st, ok := b.streams[sessionID]
	if !ok {
		st = &memStream{nextSeq: 1}
		b.streams[sessionID] = st
	}
	return st
}

func (b *MemoryBus) Publish(_ context.Context, sessionID, eventType string, payload interface{}) (string, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return "", fmt.Errorf("eventbus marshal: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.stream(sessionID)
	id := strconv.FormatInt(st.nextSeq, 10) + "-0"
	st.nextSeq++
	st.events = append(st.events, Event{ID: id, Type: eventType, Data: raw})
	if len(st.events) > b.maxLen {
		st.events = st.events[len(st.events)-b.maxLen:]
	}
	for _, w := range st.waiters {
		close(w)
	}
	st.waiters = nil
	return id, nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, sessionID, afterID string) (<-chan Event, error) {
	after := parseSeq(afterID)
	ch := make(chan Event, 64)
	go func() {
		defer close(ch)
		last := after
		for {
			b.mu.Lock()
			st := b.stream(sessionID)
			var pending []Event
			for _, ev := range st.events {
				if parseSeq(ev.ID) > last {
					pending = append(pending, ev)
				}
			}
			var wait chan struct{}
			if len(pending) == 0 {
				wait = make(chan struct{})
				st.waiters = append(st.waiters, wait)
			}
			b.mu.Unlock()

			for _, ev := range pending {
				select {
				case ch <- ev:
					last = parseSeq(ev.ID)
				case <-ctx.Done():
					return
				}
			}
			if wait != nil {
				select {
				case <-wait:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func parseSeq(id string) int64 {
	if id == "" {
		return 0
	}
	if i := strings.IndexByte(id, '-'); i >= 0 {
		id = id[:i]
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

var _ Bus = (*MemoryBus)(nil)
