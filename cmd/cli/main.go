package main

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"hunt-platform/pkg/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}
	cmd := os.Args[1]
	args := os.Args[2:]
	switch cmd {
	case "version":
		fmt.Println("hunt-platform cli 0.1.0")
	case "config":
		runConfig()
	case "server":
		if len(args) > 0 && args[0] == "start" {
			runServerStart()
		} else {
			fmt.Fprintf(os.Stderr, "Usage: huntctl server start\n")
			os.Exit(1)
		}
	case "worker":
		if len(args) > 0 && args[0] == "start" {
			runWorkerStart()
		} else {
			fmt.Fprintf(os.Stderr, "Usage: huntctl worker start\n")
			os.Exit(1)
		}
	case "start":
		if len(args) < 1 {
			fmt.Fprintf(os.Stderr, "Usage: huntctl start <session_id>\n")
			os.Exit(1)
		}
		runStart(args[0])
	case "watch":
		if len(args) < 1 {
			fmt.Fprintf(os.Stderr, "Usage: huntctl watch <session_id>\n")
			os.Exit(1)
		}
		runWatch(args[0])
	case "results":
		if len(args) < 1 {
			fmt.Fprintf(os.Stderr, "Usage: huntctl results <session_id>\n")
			os.Exit(1)
		}
		runResults(args[0])
	case "sessions":
		runSessions()
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: huntctl <command> [args]")
	fmt.Println("  version              - 显示版本")
	fmt.Println("  config               - 显示配置概要")
	fmt.Println("  server start         - 启动 API 服务（go run ./cmd/api）")
	fmt.Println("  worker start         - 启动 Worker 服务（go run ./cmd/worker）")
	fmt.Println("  start <session_id>   - 提交一次 hunt Run")
	fmt.Println("  watch <session_id>   - 订阅 SSE 事件流（断线用 Last-Event-ID 续读）")
	fmt.Println("  results <session_id> - 输出累积结果概要")
	fmt.Println("  sessions             - 列出全部 Session")
}

func runConfig() {
	cfg, err := config.LoadAPIConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if cfg != nil {
		fmt.Printf("api.port=%d\n", cfg.API.Port)
		fmt.Printf("store.addr=%s\n", cfg.Store.Addr)
	}
}

func runServerStart() {
	c := exec.Command("go", "run", "./cmd/api")
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	c.Dir = "."
	if err := c.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "server start: %v\n", err)
		os.Exit(1)
	}
}

func runWorkerStart() {
	c := exec.Command("go", "run", "./cmd/worker")
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	c.Dir = "."
	if err := c.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "worker start: %v\n", err)
		os.Exit(1)
	}
}

func runStart(sessionID string) {
	out, err := startHunt(sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start: %v\n", err)
		os.Exit(1)
	}
	if jobID, ok := out["job_id"].(string); ok {
		fmt.Printf("accepted job_id=%s\n", jobID)
		return
	}
	fmt.Printf("completed session=%s\n", sessionID)
}

// runWatch 跟读事件流直到终态；断线后带 Last-Event-ID 重连，不重复输出
func runWatch(sessionID string) {
	lastID := ""
	for {
		terminal := false
		newLast, err := streamEvents(sessionID, lastID, func(ev sseEvent) {
			if ev.Type == "ping" {
				return
			}
			fmt.Printf("[%s] %s %s\n", ev.ID, ev.Type, ev.Data)
			if ev.Type == "complete" || ev.Type == "error" {
				terminal = true
			}
		})
		lastID = newLast
		if terminal {
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "stream断开，3s 后重连: %v\n", err)
		}
		time.Sleep(3 * time.Second)
	}
}

func runResults(sessionID string) {
	out, err := getResults(sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "results: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("count=%v accumulated=%v\n", out["count"], out["accumulated_count"])
	results, _ := out["results"].([]interface{})
	for _, r := range results {
		m, _ := r.(map[string]interface{})
		if m == nil {
			continue
		}
		fmt.Printf("  hunt_id=%v model=%v status=%v breaking=%v\n",
			m["hunt_id"], m["model"], m["status"], m["is_breaking"])
	}
}

func runSessions() {
	sessions, err := listSessions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sessions: %v\n", err)
		os.Exit(1)
	}
	for _, s := range sessions {
		fmt.Printf("%v status=%v review=%v breaks=%v\n",
			s["id"], s["status"], s["review_status"], s["breaks_found"])
	}
}
