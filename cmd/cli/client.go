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

package main

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

func apiBaseURL() string {
	if u := os.Getenv("HUNT_API_URL"); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func newClient() *resty.Client {
	return resty.New().
		SetBaseURL(apiBaseURL()).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json")
}

func startHunt(sessionID string) (map[string]interface{}, error) {
	var out map[string]interface{}
	resp, err := newClient().R().
		SetBody(map[string]string{"session_id": sessionID}).
		SetResult(&out).
		Post("/hunt/start")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusAccepted {
		return nil, fmt.Errorf("POST /hunt/start: %s", resp.String())
	}
	return out, nil
}

func getResults(sessionID string) (map[string]interface{}, error) {
	var out map[string]interface{}
	resp, err := newClient().R().
		SetResult(&out).
		Get("/results/" + sessionID)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("GET /results/%s: %s", sessionID, resp.String())
	}
	return out, nil
}

func listSessions() ([]map[string]interface{}, error) {
	var out struct {
		Sessions []map[string]interface{} `json:"sessions"`
	}
	resp, err := newClient().R().
		SetResult(&out).
		Get("/sessions")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("GET /sessions: %s", resp.String())
	}
	return out.Sessions, nil
}

// sseEvent 一条 SSE 事件（CLI 侧只需要 id/type/data）
type sseEvent struct {
	ID   string
	Type string
	Data string
}

// streamEvents 连接 SSE 流并逐事件回调；返回最后收到的事件 id。
// lastID 非空时带 Last-Event-ID 头，服务端只回放其后的事件。
func streamEvents(sessionID, lastID string, onEvent func(sseEvent)) (string, error) {
	client := resty.New().
		SetBaseURL(apiBaseURL()).
		SetDoNotParseResponse(true)
	req := client.R()
	if lastID != "" {
		req.SetHeader("Last-Event-ID", lastID)
	}
	resp, err := req.Get("/hunt/stream/" + sessionID)
	if err != nil {
		return lastID, err
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.StatusCode() != http.StatusOK {
		return lastID, fmt.Errorf("GET /hunt/stream/%s: HTTP %d", sessionID, resp.StatusCode())
	}

	var cur sseEvent
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if cur.Type != "" || cur.Data != "" {
				if cur.ID != "" {
					lastID = cur.ID
				}
				onEvent(cur)
			}
			cur = sseEvent{}
		case strings.HasPrefix(line, ":"):
			// padding 注释，忽略
		case strings.HasPrefix(line, "id: "):
			cur.ID = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			cur.Type = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if cur.Data != "" {
				cur.Data += "\n"
			}
			cur.Data += strings.TrimPrefix(line, "data: ")
		}
	}
	return lastID, scanner.Err()
}
