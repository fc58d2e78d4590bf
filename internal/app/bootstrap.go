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
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hunt-platform/pkg/config"
	"hunt-platform/pkg/log"
	"hunt-platform/pkg/secrets"
)

// Bootstrap 统一初始化：供 api 与 worker 复用，避免在 cmd 内写业务装配
type Bootstrap struct {
	Config  *config.Config
	Logger  *log.Logger
	Redis   *redis.Client // store.addr 未配置时为 nil（内存模式）
	Secrets secrets.Store
}

// NewBootstrap 根据配置创建 Bootstrap（日志/Redis/Secrets）
func NewBootstrap(cfg *config.Config) (*Bootstrap, error) {
	logCfg := &log.Config{}
	if cfg != nil {
		logCfg.Level = cfg.Log.Level
		logCfg.Format = cfg.Log.Format
		logCfg.File = cfg.Log.File
	}
	logger, err := log.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	var rdb *redis.Client
	if cfg != nil && cfg.Store.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Addr,
			DB:       cfg.Store.DB,
			Password: cfg.Store.Password,
		})
	}

	var secretStore secrets.Store
	if cfg != nil {
		secretStore, err = secrets.NewStore(secrets.Config{
			Provider:     cfg.Secrets.Provider,
			VaultAddress: cfg.Secrets.VaultAddress,
			VaultToken:   cfg.Secrets.VaultToken,
			VaultPath:    cfg.Secrets.VaultPath,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化 Secret Store 失败: %w", err)
		}
	}

	return &Bootstrap{
		Config:  cfg,
		Logger:  logger,
		Redis:   rdb,
		Secrets: secretStore,
	}, nil
}

// SessionTTL 解析 Session key 续期时长，默认 24h
func (b *Bootstrap) SessionTTL() time.Duration {
	if b.Config != nil && b.Config.Store.SessionTTL != "" {
		if d, err := time.ParseDuration(b.Config.Store.SessionTTL); err == nil && d > 0 {
			return d
		}
	}
	return 24 * time.Hour
}

// JobLogEnabled 是否启用共享 Job 日志（需要 Redis；显式 enabled=false 可关闭）
func (b *Bootstrap) JobLogEnabled() bool {
	if b.Redis == nil {
		return false
	}
	if b.Config != nil && b.Config.JobLog.Enabled != nil {
		return *b.Config.JobLog.Enabled
	}
	return true
}

// Close 释放连接资源
func (b *Bootstrap) Close() error {
	if b.Redis != nil {
		return b.Redis.Close()
	}
	return nil
}
