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

// Package worker 组装 hunt Worker 进程：从共享 Job 流消费 Run 任务，
// 在心跳保护下执行编排器，并接管心跳缺失的滞留任务。
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	appcore "hunt-platform/internal/app"
	"hunt-platform/internal/eventbus"
	"hunt-platform/internal/hunt"
	"hunt-platform/internal/judge"
	"hunt-platform/internal/session"
	"hunt-platform/pkg/config"
	"hunt-platform/pkg/tracing"
)

// App Worker 应用
type App struct {
	bootstrap *appcore.Bootstrap
	pipeline  *hunt.Pipeline
	tracer    *sdktrace.TracerProvider
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewApp 创建新的 Worker 应用；Worker 是数据面，必须有共享 Redis
func NewApp(cfg *config.Config) (*App, error) {
	bootstrap, err := appcore.NewBootstrap(cfg)
	if err != nil {
		return nil, err
	}
	if bootstrap.Redis == nil {
		return nil, fmt.Errorf("worker 需要共享 Redis，请配置 store.addr")
	}

	store := session.NewRedisStore(bootstrap.Redis, bootstrap.SessionTTL())
	bus := eventbus.NewRedisBus(bootstrap.Redis, 0, bootstrap.SessionTTL(), bootstrap.Logger)
	gate := appcore.NewRateGate(bootstrap)
	callers := appcore.NewCallerFactoryFromConfig(cfg, bootstrap.Secrets)
	judgeCaller, err := callers(appcore.JudgeProvider(bootstrap))
	if err != nil {
		return nil, fmt.Errorf("初始化评审模型客户端失败: %w", err)
	}
	j := judge.New(judgeCaller, bootstrap.Logger)
	orch := hunt.New(store, bus, gate, callers, j, appcore.OrchestratorConfig(bootstrap), bootstrap.Logger)

	pipelineCfg := hunt.PipelineConfig{
		MaxLen: appcore.JobLogMaxLen(bootstrap),
	}
	if cfg != nil {
		pipelineCfg.BlockTimeout = parseDuration(cfg.Worker.BlockTimeout)
		pipelineCfg.StaleInterval = parseDuration(cfg.Worker.StaleCheckInterval)
		pipelineCfg.HeartbeatTTL = parseDuration(cfg.Worker.HeartbeatTTL)
		pipelineCfg.Concurrency = cfg.Worker.Concurrency
	}
	pipeline := hunt.NewPipeline(bootstrap.Redis, orch, pipelineCfg, bootstrap.Logger)

	app := &App{bootstrap: bootstrap, pipeline: pipeline}

	// 可选：启用链路追踪（OpenTelemetry）
	if cfg != nil && cfg.Monitoring.Tracing.Enable {
		serviceName := cfg.Monitoring.Tracing.ServiceName
		if serviceName == "" {
			serviceName = "hunt-worker"
		}
		exportEndpoint := cfg.Monitoring.Tracing.ExportEndpoint
		if exportEndpoint == "" {
			exportEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		if exportEndpoint != "" {
			tp, err := tracing.InitTracer(tracing.OTelConfig{
				ServiceName:    serviceName,
				ExportEndpoint: exportEndpoint,
				Insecure:       cfg.Monitoring.Tracing.Insecure,
			})
			if err != nil {
				bootstrap.Logger.Warn("链路追踪初始化失败，已跳过", "err", err)
			} else {
				app.tracer = tp
				bootstrap.Logger.Info("链路追踪已启用", "service_name", serviceName, "endpoint", exportEndpoint)
			}
		}
	}

	return app, nil
}

// Start 启动消费循环（非阻塞）
func (a *App) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	if err := a.pipeline.EnsureGroup(ctx); err != nil {
		cancel()
		return err
	}
	a.cancel = cancel
	a.done = make(chan struct{})
	go func() {
		defer close(a.done)
		if err := a.pipeline.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.bootstrap.Logger.Error("job pipeline 退出", "err", err)
		}
	}()
	return nil
}

// Shutdown 优雅关闭：停止取新任务，等在跑的 Run 收尾或 ctx 超时
func (a *App) Shutdown(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.done != nil {
		select {
		case <-a.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.bootstrap.Logger.Warn("链路追踪关闭失败", "err", err)
		}
	}
	return a.bootstrap.Close()
}

func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
