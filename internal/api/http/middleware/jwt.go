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

package middleware

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/hertz-contrib/jwt"
)

// ReviewerIdentityKey JWT claims 中审核人标识的 key
const ReviewerIdentityKey = "reviewer"

// loginRequest /login 请求体：reviewer 为审核人标识，key 为共享接入密钥
type loginRequest struct {
	Reviewer string `json:"reviewer"`
	Key      string `json:"key"`
}

// NewJWTAuth 创建审核/管理路由的 JWT 中间件。
// 换取 token 需持有与服务端一致的共享密钥；签发后 claims 携带 reviewer 标识，
// 供审核流转日志记录操作人。
func NewJWTAuth(key []byte, timeout, maxRefresh time.Duration) (*jwt.HertzJWTMiddleware, error) {
	return jwt.New(&jwt.HertzJWTMiddleware{
		Realm:       "hunt-review",
		Key:         key,
		Timeout:     timeout,
		MaxRefresh:  maxRefresh,
		IdentityKey: ReviewerIdentityKey,
		Authenticator: func(ctx context.Context, c *app.RequestContext) (interface{}, error) {
			var req loginRequest
			if err := c.BindAndValidate(&req); err != nil {
				return nil, jwt.ErrMissingLoginValues
			}
			if req.Reviewer == "" {
				return nil, jwt.ErrMissingLoginValues
			}
			if subtle.ConstantTimeCompare([]byte(req.Key), key) != 1 {
				return nil, jwt.ErrFailedAuthentication
			}
			return req.Reviewer, nil
		},
		PayloadFunc: func(data interface{}) jwt.MapClaims {
			if reviewer, ok := data.(string); ok {
				return jwt.MapClaims{ReviewerIdentityKey: reviewer}
			}
			return jwt.MapClaims{}
		},
		IdentityHandler: func(ctx context.Context, c *app.RequestContext) interface{} {
			claims := jwt.ExtractClaims(ctx, c)
			reviewer, _ := claims[ReviewerIdentityKey].(string)
			return reviewer
		},
		Unauthorized: func(ctx context.Context, c *app.RequestContext, code int, message string) {
			c.JSON(code, map[string]string{"detail": message})
		},
	})
}

// ReviewerFromContext 取出 JWT 身份中的 reviewer；未启用认证时返回空串
func ReviewerFromContext(ctx context.Context, c *app.RequestContext) string {
	claims := jwt.ExtractClaims(ctx, c)
	reviewer, _ := claims[ReviewerIdentityKey].(string)
	return reviewer
}
