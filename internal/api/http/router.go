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

package http

import (
	"github.com/cloudwego/hertz/pkg/app/server"
	hertzconfig "github.com/cloudwego/hertz/pkg/common/config"
	"github.com/hertz-contrib/jwt"

	"hunt-platform/internal/api/http/middleware"
)

// Router HTTP 路由器
type Router struct {
	handler    *Handler
	middleware *middleware.Middleware
	jwtAuth    *jwt.HertzJWTMiddleware
}

// NewRouter 创建新的 HTTP 路由器
func NewRouter(handler *Handler, mw *middleware.Middleware) *Router {
	return &Router{handler: handler, middleware: mw}
}

// SetJWT 启用审核/管理路由的 JWT 认证
func (r *Router) SetJWT(auth *jwt.HertzJWTMiddleware) {
	r.jwtAuth = auth
}

// Build 创建 Hertz server 并注册路由；opts 供链路追踪等注入
func (r *Router) Build(addr string, opts ...hertzconfig.Option) *server.Hertz {
	h := server.Default(append([]hertzconfig.Option{server.WithHostPorts(addr)}, opts...)...)
	r.setupRoutes(h)
	return h
}

func (r *Router) setupRoutes(h *server.Hertz) {
	cors := r.middleware.CORS()
	noCache := r.middleware.NoCache()

	h.GET("/health", r.handler.HealthCheck)
	h.GET("/metrics", r.handler.Metrics)
	h.GET("/models", cors, r.handler.Models)

	huntGroup := h.Group("/hunt", cors)
	{
		huntGroup.POST("/start", r.handler.StartHunt)
		huntGroup.GET("/stream/:session_id", r.handler.StreamHunt)
	}

	// 结果类只读接口：审核端要看到最新状态，禁用中间缓存
	h.GET("/results/:session_id", cors, noCache, r.handler.Results)
	h.GET("/breaking-results/:session_id", cors, noCache, r.handler.BreakingResults)
	h.GET("/review-results/:session_id", cors, noCache, r.handler.ReviewResults)

	sessions := h.Group("/sessions", cors)
	{
		sessions.POST("", r.handler.CreateSession)
		sessions.GET("", r.handler.ListSessions)
		sessions.GET("/:session_id", r.handler.GetSession)
	}

	h.POST("/turn/:session_id/advance", cors, r.handler.AdvanceTurn)

	review := h.Group("/review", cors)
	admin := h.Group("/admin", cors)
	if r.jwtAuth != nil {
		h.POST("/login", r.jwtAuth.LoginHandler)
		review.Use(r.jwtAuth.MiddlewareFunc())
		admin.Use(r.jwtAuth.MiddlewareFunc())
	}
	review.GET("/sessions", noCache, r.handler.ReviewSessions)
	review.POST("/:session_id/status", noCache, r.handler.ReviewStatus)
	review.POST("/:session_id/reviews", r.handler.SetReviews)
	admin.GET("/status", r.handler.AdminStatus)
	admin.GET("/active-hunts", noCache, r.handler.ActiveHunts)
	admin.GET("/review-log/:session_id", r.handler.ReviewLogEntries)
}
