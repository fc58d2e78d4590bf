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

package api

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	"github.com/hertz-contrib/obs-opentelemetry/provider"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"

	apphttp "hunt-platform/internal/api/http"
	"hunt-platform/internal/api/http/middleware"
	appcore "hunt-platform/internal/app"
	"hunt-platform/internal/eventbus"
	"hunt-platform/internal/hunt"
	"hunt-platform/internal/judge"
	"hunt-platform/internal/reviewlog"
	"hunt-platform/internal/session"
)

// otelProviderShutdown 用于优雅关闭时关闭 OpenTelemetry provider
type otelProviderShutdown interface {
	Shutdown(ctx context.Context) error
}

// App API 应用（装配 Store/Bus/Orchestrator 与 HTTP Router）。
// 共享模式（Redis + Job 日志）下 API 只做控制面：提交 Job、读状态、审核；
// Run 一律由 Worker 执行。单进程内存模式下 API 自己同步执行。
type App struct {
	config       *appcore.Bootstrap
	router       *apphttp.Router
	hertz        *server.Hertz
	reviewLog    reviewlog.Store
	otelProvider otelProviderShutdown
}

// NewApp 根据 Bootstrap 装配 API 应用
func NewApp(bootstrap *appcore.Bootstrap) (*App, error) {
	cfg := bootstrap.Config
	logger := bootstrap.Logger

	acl := session.ReviewACL{Admins: cfg.Review.Admins, Pods: cfg.Review.Pods}
	var store session.Store
	var bus eventbus.Bus
	if bootstrap.Redis != nil {
		rs := session.NewRedisStore(bootstrap.Redis, bootstrap.SessionTTL())
		rs.SetReviewACL(acl)
		store = rs
		bus = eventbus.NewRedisBus(bootstrap.Redis, 0, bootstrap.SessionTTL(), logger)
	} else {
		ms := session.NewMemoryStore()
		ms.SetReviewACL(acl)
		store = ms
		bus = eventbus.NewMemoryBus(0)
		logger.Warn("store.addr 未配置，使用进程内存储（仅限单进程开发模式）")
	}

	gate := appcore.NewRateGate(bootstrap)
	callers := appcore.NewCallerFactoryFromConfig(cfg, bootstrap.Secrets)
	judgeCaller, err := callers(appcore.JudgeProvider(bootstrap))
	if err != nil {
		return nil, fmt.Errorf("初始化评审模型客户端失败: %w", err)
	}
	j := judge.New(judgeCaller, logger)

	orch := hunt.New(store, bus, gate, callers, j, appcore.OrchestratorConfig(bootstrap), logger)

	// 单一执行权 / Control vs Data Plane：Job 日志启用时 API 不执行 Run，
	// 仅 XADD 提交；Worker 通过消费组 Claim 执行
	var pipeline *hunt.Pipeline
	if bootstrap.JobLogEnabled() {
		pipeline = hunt.NewPipeline(bootstrap.Redis, orch, hunt.PipelineConfig{
			MaxLen: appcore.JobLogMaxLen(bootstrap),
		}, logger)
	}

	reviewLog, err := appcore.NewReviewLog(bootstrap)
	if err != nil {
		return nil, err
	}

	models, judgeModels := appcore.KnownModels(cfg)
	var allowOrigins []string
	if cfg != nil && cfg.API.CORS.Enable {
		allowOrigins = cfg.API.CORS.AllowOrigins
	}
	handler := apphttp.NewHandler(apphttp.Deps{
		Sessions:    appcore.NewSessionService(store),
		Store:       store,
		Bus:         bus,
		Orch:        orch,
		Pipeline:    pipeline,
		ReviewLog:   reviewLog,
		Redis:       bootstrap.Redis,
		Models:      models,
		JudgeModels: judgeModels,
		Defaults:    appcore.DefaultSessionConfig(bootstrap),
		Logger:      logger,
	})
	mw := middleware.NewMiddleware(allowOrigins)
	router := apphttp.NewRouter(handler, mw)

	if cfg != nil && cfg.API.Middleware.Auth && cfg.API.Middleware.JWTKey != "" {
		timeout := parseDuration(cfg.API.Middleware.JWTTimeout, time.Hour)
		maxRefresh := parseDuration(cfg.API.Middleware.JWTMaxRefresh, time.Hour)
		jwtAuth, err := middleware.NewJWTAuth([]byte(cfg.API.Middleware.JWTKey), timeout, maxRefresh)
		if err != nil {
			logger.Warn("JWT 初始化失败，将跳过认证", "error", err)
		} else {
			router.SetJWT(jwtAuth)
			logger.Info("JWT 认证已启用")
		}
	}

	return &App{
		config:    bootstrap,
		router:    router,
		reviewLog: reviewLog,
	}, nil
}

// Run 启动 HTTP 服务，addr 如 ":8080"
func (a *App) Run(addr string) error {
	a.config.Logger.Info("API 服务启动", "addr", addr)

	// 使用 Hertz slog 扩展，与 bootstrap 配置对齐
	output := os.Stdout
	if a.config.Config != nil && a.config.Config.Log.File != "" {
		f, err := os.OpenFile(a.config.Config.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("打开日志文件失败: %w", err)
		}
		output = f
	}
	levelVar := &slog.LevelVar{}
	levelVar.Set(slog.LevelInfo)
	if a.config.Config != nil && a.config.Config.Log.Level != "" {
		switch a.config.Config.Log.Level {
		case "debug":
			levelVar.Set(slog.LevelDebug)
		case "warn":
			levelVar.Set(slog.LevelWarn)
		case "error":
			levelVar.Set(slog.LevelError)
		}
	}
	hertzLogger := hertzslog.NewLogger(
		hertzslog.WithOutput(output),
		hertzslog.WithLevel(levelVar),
	)
	hlog.SetLogger(hertzLogger)

	// 可选：启用链路追踪（OpenTelemetry）
	if a.config.Config != nil && a.config.Config.Monitoring.Tracing.Enable {
		serviceName := a.config.Config.Monitoring.Tracing.ServiceName
		if serviceName == "" {
			serviceName = "hunt-api"
		}
		exportEndpoint := a.config.Config.Monitoring.Tracing.ExportEndpoint
		if exportEndpoint == "" {
			exportEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		if exportEndpoint != "" {
			opts := []provider.Option{
				provider.WithServiceName(serviceName),
				provider.WithExportEndpoint(exportEndpoint),
			}
			if a.config.Config.Monitoring.Tracing.Insecure {
				opts = append(opts, provider.WithInsecure())
			}
			p := provider.NewOpenTelemetryProvider(opts...)
			a.otelProvider = p
			tracerOpt, tracerCfg := hertztracing.NewServerTracer()
			a.hertz = a.router.Build(addr, tracerOpt)
			a.hertz.Use(hertztracing.ServerMiddleware(tracerCfg))
			a.config.Logger.Info("链路追踪已启用", "service_name", serviceName, "endpoint", exportEndpoint)
		} else {
			a.hertz = a.router.Build(addr)
		}
	} else {
		a.hertz = a.router.Build(addr)
	}
	return a.hertz.Run()
}

// Shutdown 优雅关闭（传入 ctx 以支持超时，如 cmd 层 WithTimeout）
func (a *App) Shutdown(ctx context.Context) error {
	if a.otelProvider != nil {
		_ = a.otelProvider.Shutdown(ctx)
	}
	if a.hertz != nil {
		if err := a.hertz.Shutdown(ctx); err != nil {
			return err
		}
	}
	if closer, ok := a.reviewLog.(interface{ Close() }); ok {
		closer.Close()
	}
	return a.config.Close()
}

// parseDuration 解析时长字符串，无效或空时返回 defaultVal
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
