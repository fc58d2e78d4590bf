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
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/network"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/cloudwego/hertz/pkg/protocol/http1/resp"

	"hunt-platform/internal/eventbus"
)

const (
	sseContentType = "text/event-stream; charset=utf-8"

	// 连接建立后先发 ~2KB 注释，顶掉中间层（nginx 等）的响应缓冲
	ssePaddingSize = 2048

	// 空闲时的 ping 间隔，保住代理与浏览器的超时
	ssePingInterval = 15 * time.Second
)

// sseStream 基于 Hertz 劫持 chunked writer 的 SSE 编码器。
// 现成的 sse 扩展不能输出注释行，padding 需要注释行，所以自己编码。
type sseStream struct {
	w network.ExtWriter
}

func newSSEStream(c *app.RequestContext) *sseStream {
	c.Response.Header.SetContentType(sseContentType)
	c.Response.Header.Set("Cache-Control", "no-cache")
	c.Response.Header.Set("X-Accel-Buffering", "no")
	writer := resp.NewChunkedBodyWriter(&c.Response, c.GetWriter())
	c.Response.HijackWriter(writer)
	return &sseStream{w: writer}
}

// comment 输出一条注释行并立即刷出
func (s *sseStream) comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	return s.w.Flush()
}

// event 输出一条事件；id/event 为空时省略对应字段
func (s *sseStream) event(id, event string, data []byte) error {
	if id != "" {
		if _, err := fmt.Fprintf(s.w, "id: %s\n", id); err != nil {
			return err
		}
	}
	if event != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
			return err
		}
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		if _, err := fmt.Fprintf(s.w, "data: %s\n", line); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprint(s.w, "\n"); err != nil {
		return err
	}
	return s.w.Flush()
}

// StreamHunt SSE 流。带 Last-Event-ID 的重连只做回放+跟读；全新连接先提交
// 一个 Run Job 再订阅。事件 id 即总线 id，终态事件后关闭流。
func (h *Handler) StreamHunt(ctx context.Context, c *app.RequestContext) {
	id := c.Param("session_id")
	sess := h.loadSession(ctx, c, id)
	if sess == nil {
		return
	}

	lastID := string(c.GetHeader("Last-Event-ID"))
	if lastID == "" {
		cfg := sess.Config
		cfg.Normalize()
		cfg.HuntOffset = sess.MaxHuntID()
		if err := h.deps.Store.SetConfig(ctx, id, cfg); err != nil {
			respondError(c, consts.StatusInternalServerError, fmt.Sprintf("save config: %v", err))
			return
		}
		if h.deps.Pipeline != nil {
			if _, err := h.deps.Pipeline.Submit(ctx, id); err != nil {
				respondError(c, consts.StatusInternalServerError, fmt.Sprintf("submit job: %v", err))
				return
			}
		} else {
			// 单进程模式：后台执行，流上实时观察
			go func() {
				if err := h.deps.Orch.Run(context.Background(), id); err != nil {
					h.deps.Logger.Error("background run", "session_id", id, "err", err)
				}
			}()
		}
	}

	c.SetStatusCode(consts.StatusOK)
	stream := newSSEStream(c)
	if err := stream.comment(strings.Repeat(" ", ssePaddingSize)); err != nil {
		return
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events, err := h.deps.Bus.Subscribe(subCtx, id, lastID)
	if err != nil {
		_ = stream.event("", eventbus.TypeError,
			[]byte(fmt.Sprintf(`{"detail":%q}`, err.Error())))
		return
	}

	ping := time.NewTicker(ssePingInterval)
	defer ping.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := stream.event(ev.ID, ev.Type, ev.Data); err != nil {
				return
			}
			if eventbus.Terminal(ev.Type) {
				return
			}
			ping.Reset(ssePingInterval)
		case <-ping.C:
			// ping 不带 id，不推进客户端的 Last-Event-ID
			if err := stream.event("", eventbus.TypePing, []byte("{}")); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
