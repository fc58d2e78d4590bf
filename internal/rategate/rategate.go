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

// Package rategate 限制对上游模型 provider 的调用压力：
// 每个 provider 一个并发上限（信号量）加可选的每分钟请求数整形。
// 限制是进程本地的，多 worker 部署时每个进程各自持有配额。
package rategate

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Limit 单个 provider 的限制配置
type Limit struct {
	MaxConcurrent     int // <= 0 表示不限并发
	RequestsPerMinute int // <= 0 表示不整形
}

// Gate 进程本地的 provider 限流门。并发席位用带缓冲 channel 实现，
// RPS 整形用 token bucket；Acquire 阻塞期间随 ctx 取消。
type Gate struct {
	mu        sync.Mutex
	limits    map[string]Limit
	sems      map[string]chan struct{}
	shapers   map[string]*rate.Limiter
	defLimit  Limit
}

// New 创建限流门；limits 按 provider 名索引，def 是未配置 provider 的兜底
func New(limits map[string]Limit, def Limit) *Gate {
	g := &Gate{
		limits:   make(map[string]Limit, len(limits)),
		sems:     make(map[string]chan struct{}),
		shapers:  make(map[string]*rate.Limiter),
		defLimit: def,
	}
	for name, l := range limits {
		g.limits[name] = l
	}
	return g
}

func (g *Gate) limitFor(provider string) Limit {
	if l, ok := g.limits[provider]; ok {
		return l
	}
	return g.defLimit
}

func (g *Gate) semFor(provider string, max int) chan struct{} {
	sem, ok := g.sems[provider]
	if !ok {
		sem = make(chan struct{}, max)
		g.sems[provider] = sem
	}
	return sem
}

func (g *Gate) shaperFor(provider string, rpm int) *rate.Limiter {
	sh, ok := g.shapers[provider]
	if !ok {
		sh = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
		g.shapers[provider] = sh
	}
	return sh
}

// Acquire 占用一个 provider 席位，返回释放函数。ctx 取消时返回错误且不泄漏席位。
// release 幂等，可安全多次调用。
func (g *Gate) Acquire(ctx context.Context, provider string) (release func(), err error) {
	l := g.limitFor(provider)

	var sem chan struct{}
	var shaper *rate.Limiter
	g.mu.Lock()
	if l.MaxConcurrent > 0 {
		sem = g.semFor(provider, l.MaxConcurrent)
	}
	if l.RequestsPerMinute > 0 {
		shaper = g.shaperFor(provider, l.RequestsPerMinute)
	}
	g.mu.Unlock()

	if sem != nil {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil, fmt.Errorf("rategate %s: %w", provider, ctx.Err())
		}
	}
	if shaper != nil {
		if err := shaper.Wait(ctx); err != nil {
			if sem != nil {
				<-sem
			}
			return nil, fmt.Errorf("rategate %s: %w", provider, err)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if sem != nil {
				<-sem
			}
		})
	}, nil
}

// InFlight 当前被占用的席位数（仅用于指标与测试）
func (g *Gate) InFlight(provider string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if sem, ok := g.sems[provider]; ok {
		return len(sem)
	}
	return 0
}
