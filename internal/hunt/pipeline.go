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

package hunt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"hunt-platform/pkg/log"
	"hunt-platform/pkg/metrics"
)

const (
	jobStream       = "hunt_jobs"
	jobGroup        = "hunt_workers"
	jobActionRun    = "run_hunt"
	heartbeatPrefix = "hunt_active:"

	defaultJobMaxLen     = 500
	defaultBlockTimeout  = 5 * time.Second
	defaultStaleInterval = 10 * time.Second
	defaultHeartbeatTTL  = 30 * time.Second

	// XCLAIM 的最小空闲时间：接管竞态下保证恰好一个赢家
	reclaimMinIdle = 5 * time.Second
)

// DefaultConsumerID 消费者标识：hostname-pid
func DefaultConsumerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// PipelineConfig 管道参数；零值字段用默认值
type PipelineConfig struct {
	ConsumerID    string
	MaxLen        int64
	BlockTimeout  time.Duration
	StaleInterval time.Duration
	HeartbeatTTL  time.Duration
	Concurrency   int
}

// Pipeline 跨进程任务管道：共享流 hunt_jobs 上的消费组分发，
// 配合 hunt_active:{session_id} 心跳 key 做崩溃接管。
// 接管只看心跳缺失，绝不用“挂起时间过长”推断死亡——长 hunt 是合法的。
type Pipeline struct {
	rdb    *redis.Client
	orch   *Orchestrator
	cfg    PipelineConfig
	logger *log.Logger

	limiter chan struct{}
	wg      sync.WaitGroup
}

// NewPipeline 创建任务管道
func NewPipeline(rdb *redis.Client, orch *Orchestrator, cfg PipelineConfig, logger *log.Logger) *Pipeline {
	if cfg.ConsumerID == "" {
		cfg.ConsumerID = DefaultConsumerID()
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = defaultJobMaxLen
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = defaultBlockTimeout
	}
	if cfg.StaleInterval <= 0 {
		cfg.StaleInterval = defaultStaleInterval
	}
	if cfg.HeartbeatTTL <= 0 {
		cfg.HeartbeatTTL = defaultHeartbeatTTL
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	return &Pipeline{
		rdb:     rdb,
		orch:    orch,
		cfg:     cfg,
		logger:  logger,
		limiter: make(chan struct{}, cfg.Concurrency),
	}
}

func heartbeatKey(sessionID string) string {
	return heartbeatPrefix + sessionID
}

// Submit 投递一个 run_hunt 任务，立即返回流分配的 entry id；
// 接收进程不做任何同步工作
func (p *Pipeline) Submit(ctx context.Context, sessionID string) (string, error) {
	entryID, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: jobStream,
		MaxLen: p.cfg.MaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"job_id":     uuid.NewString(),
			"session_id": sessionID,
			"action":     jobActionRun,
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}
	return entryID, nil
}

// EnsureGroup 创建消费组（流不存在时一并创建）；组已存在视为成功
func (p *Pipeline) EnsureGroup(ctx context.Context) error {
	err := p.rdb.XGroupCreateMkStream(ctx, jobStream, jobGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Run 启动 worker 循环，阻塞到 ctx 取消。主循环做组读取，
// 伴随一个周期触发的滞留检查。
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.EnsureGroup(ctx); err != nil {
		return err
	}
	p.logger.Info("worker started", "consumer_id", p.cfg.ConsumerID,
		"concurrency", p.cfg.Concurrency)

	staleTicker := time.NewTicker(p.cfg.StaleInterval)
	defer staleTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			return ctx.Err()
		case <-staleTicker.C:
			p.checkStale(ctx)
		default:
		}

		streams, err := p.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    jobGroup,
			Consumer: p.cfg.ConsumerID,
			Streams:  []string{jobStream, ">"},
			Count:    1,
			Block:    p.cfg.BlockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				p.wg.Wait()
				return ctx.Err()
			}
			p.logger.Error("group read failed", "err", err)
			time.Sleep(p.cfg.BlockTimeout)
			continue
		}
		for _, st := range streams {
			for _, msg := range st.Messages {
				p.dispatch(ctx, msg)
			}
		}
	}
}

// dispatch 占一个并发槽位后异步执行任务
func (p *Pipeline) dispatch(ctx context.Context, msg redis.XMessage) {
	select {
	case p.limiter <- struct{}{}:
	case <-ctx.Done():
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.limiter }()
		p.execute(ctx, msg)
	}()
}

// execute 在心跳保护下执行 Run Loop，完成后才 ack；
// 中途崩溃会让任务保持 pending，可被接管
func (p *Pipeline) execute(ctx context.Context, msg redis.XMessage) {
	sessionID, _ := msg.Values["session_id"].(string)
	action, _ := msg.Values["action"].(string)
	jobID, _ := msg.Values["job_id"].(string)
	if sessionID == "" || action != jobActionRun {
		p.logger.Warn("skip malformed job", "entry_id", msg.ID, "values", msg.Values)
		p.ack(ctx, msg.ID)
		return
	}

	metrics.WorkerBusy.WithLabelValues(p.cfg.ConsumerID).Inc()
	defer metrics.WorkerBusy.WithLabelValues(p.cfg.ConsumerID).Dec()

	stop := p.startHeartbeat(ctx, sessionID)
	defer stop()

	p.logger.Info("job claimed", "entry_id", msg.ID, "job_id", jobID, "session_id", sessionID)
	if err := p.orch.Run(ctx, sessionID); err != nil {
		// Run 内部已把失败写进 session 与事件流；任务本身算消费完成
		p.logger.Error("run failed", "session_id", sessionID, "err", err)
	}
	p.ack(ctx, msg.ID)
}

func (p *Pipeline) ack(ctx context.Context, entryID string) {
	if err := p.rdb.XAck(ctx, jobStream, jobGroup, entryID).Err(); err != nil {
		p.logger.Error("ack failed", "entry_id", entryID, "err", err)
	}
}

// startHeartbeat 写入 hunt_active:{session_id} 并按 TTL/3 续期；
// 返回的 stop 停止续期并删除 key
func (p *Pipeline) startHeartbeat(ctx context.Context, sessionID string) (stop func()) {
	key := heartbeatKey(sessionID)
	if err := p.rdb.Set(ctx, key, p.cfg.ConsumerID, p.cfg.HeartbeatTTL).Err(); err != nil {
		p.logger.Error("heartbeat set failed", "session_id", sessionID, "err", err)
	}

	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(p.cfg.HeartbeatTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := p.rdb.Set(hbCtx, key, p.cfg.ConsumerID, p.cfg.HeartbeatTTL).Err(); err != nil && hbCtx.Err() == nil {
					p.logger.Warn("heartbeat refresh failed", "session_id", sessionID, "err", err)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
		// 用独立 ctx 删除，避免外层取消吞掉清理
		delCtx, delCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer delCancel()
		if err := p.rdb.Del(delCtx, key).Err(); err != nil {
			p.logger.Warn("heartbeat delete failed", "session_id", sessionID, "err", err)
		}
	}
}

// checkStale 巡检组内 pending 任务。别人名下的任务只有在其 session 心跳
// 缺失时才接管；心跳在场说明所有者活着，哪怕挂起很久也不碰。
// XCLAIM 的 min-idle-time 保证两个巡检者竞争时恰好一个成功。
func (p *Pipeline) checkStale(ctx context.Context) {
	pending, err := p.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: jobStream,
		Group:  jobGroup,
		Start:  "-",
		End:    "+",
		Count:  32,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			p.logger.Warn("pending inspect failed", "err", err)
		}
		return
	}

	for _, entry := range pending {
		if entry.Consumer == p.cfg.ConsumerID {
			continue
		}
		// 取 entry 的 session_id 需要读流内容
		msgs, err := p.rdb.XRange(ctx, jobStream, entry.ID, entry.ID).Result()
		if err != nil || len(msgs) == 0 {
			continue
		}
		sessionID, _ := msgs[0].Values["session_id"].(string)
		if sessionID == "" {
			continue
		}

		alive, err := p.rdb.Exists(ctx, heartbeatKey(sessionID)).Result()
		if err != nil {
			p.logger.Warn("heartbeat probe failed", "session_id", sessionID, "err", err)
			continue
		}
		if alive > 0 {
			// 所有者活着：长任务不是故障
			continue
		}

		claimed, err := p.rdb.XClaim(ctx, &redis.XClaimArgs{
			Stream:   jobStream,
			Group:    jobGroup,
			Consumer: p.cfg.ConsumerID,
			MinIdle:  reclaimMinIdle,
			Messages: []string{entry.ID},
		}).Result()
		if err != nil || len(claimed) == 0 {
			// 竞争失败或已被处理
			continue
		}
		p.logger.Info("job reclaimed", "entry_id", entry.ID,
			"session_id", sessionID, "previous_owner", entry.Consumer)
		p.dispatch(ctx, claimed[0])
	}
}
