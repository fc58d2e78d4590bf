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
	"time"

	"hunt-platform/internal/hunt"
	"hunt-platform/internal/rategate"
	"hunt-platform/internal/reviewlog"
	"hunt-platform/internal/session"
	"hunt-platform/pkg/utils"
)

// JobLogMaxLen Job 流近似截断长度
func JobLogMaxLen(b *Bootstrap) int64 {
	if b.Config == nil {
		return 500
	}
	return utils.DefaultInt64(b.Config.JobLog.MaxLen, 500)
}

// NewRateGate 按 rate_limits 配置创建进程本地限流门
func NewRateGate(b *Bootstrap) *rategate.Gate {
	limits := make(map[string]rategate.Limit)
	if b.Config != nil {
		for name, pc := range b.Config.RateLimits.Providers {
			limits[name] = rategate.Limit{
				MaxConcurrent:     pc.MaxConcurrent,
				RequestsPerMinute: int(pc.RequestsPerMinute),
			}
		}
	}
	// 未配置 provider 的兜底并发上限，与 HTTP 连接池规格对齐
	return rategate.New(limits, rategate.Limit{MaxConcurrent: 20})
}

// JudgeProvider 评审调用走的 provider；默认与响应生成同族
func JudgeProvider(b *Bootstrap) string {
	if b.Config == nil {
		return "openrouter"
	}
	return utils.CoalesceString(b.Config.Model.Defaults.Provider, "openrouter")
}

// OrchestratorConfig 由应用配置推导编排器参数
func OrchestratorConfig(b *Bootstrap) hunt.Config {
	cfg := hunt.Config{JudgeProvider: JudgeProvider(b)}
	if b.Config == nil {
		return cfg
	}
	cfg.ModelTimeout = parseDuration(b.Config.Hunt.ModelTimeout, 0)
	cfg.StreamTimeout = parseDuration(b.Config.Hunt.StreamTimeout, 0)
	cfg.JudgeTimeout = parseDuration(b.Config.Hunt.JudgeTimeout, 0)
	cfg.JudgeModel = b.Config.Model.Defaults.JudgeModel
	return cfg
}

// NewReviewLog 按 reviewlog 配置创建审计存储；默认内存实现
func NewReviewLog(b *Bootstrap) (reviewlog.Store, error) {
	if b.Config != nil && b.Config.ReviewLog.Type == "postgres" {
		return reviewlog.NewPostgresStore(context.Background(), b.Config.ReviewLog.DSN)
	}
	return reviewlog.NewMemoryStore(), nil
}

// DefaultSessionConfig 建会话时的缺省 Hunt 配置；模型列表取默认 provider 下的配置
func DefaultSessionConfig(b *Bootstrap) session.Config {
	cfg := session.Config{}
	if b.Config != nil {
		cfg.ParallelWorkers = b.Config.Hunt.DefaultParallelWorkers
		cfg.TargetBreaks = b.Config.Hunt.DefaultTargetBreaks
		cfg.MaxRetries = b.Config.Hunt.DefaultMaxRetries
		cfg.Provider = utils.CoalesceString(b.Config.Model.Defaults.Provider, "openrouter")
		cfg.JudgeModel = b.Config.Model.Defaults.JudgeModel
		if pc, ok := b.Config.Model.Providers[cfg.Provider]; ok {
			cfg.Models = append([]string(nil), pc.Models...)
		}
	}
	cfg.Normalize()
	return cfg
}

func parseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}
