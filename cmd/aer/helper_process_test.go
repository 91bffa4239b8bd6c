package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"testing"
)

// TestHelperProcess is not a real test. It stands in for the worker binary
// when the CLI spawns os.Args[0] with GO_WANT_HELPER_PROCESS=1.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	runFakeWorker()
	os.Exit(0)
}

func runFakeWorker() {
	out := json.NewEncoder(os.Stdout)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		var req struct {
			ID     int64           `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		reply := func(result any) {
			_ = out.Encode(map[string]any{"id": req.ID, "result": result})
		}
		switch req.Method {
		case "ping":
			reply(map[string]any{
				"message":     "pong",
				"gpu_enabled": true,
				"gpu_name":    "Fake GPU",
				"gpu_backend": "vulkan",
				"gpu_type":    "discrete",
			})
		case "list_devices":
			reply(map[string]any{"devices": []map[string]any{{
				"name": "Fake GPU", "vendor": 4318, "device": 8708,
				"device_type": "DiscreteGpu", "backend": "vulkan",
				"driver": "fake", "driver_info": "1.0",
			}}})
		case "smoke_test":
			reply(map[string]any{"ok": true, "elapsed_ms": 12})
		case "transcribe":
			var p struct {
				InputPath string `json:"input_path"`
				ModelPath string `json:"model_path"`
				Language  string `json:"language"`
				Threads   *int   `json:"threads"`
			}
			_ = json.Unmarshal(req.Params, &p)
			threads := "default"
			if p.Threads != nil {
				threads = fmt.Sprint(*p.Threads)
			}
			_ = out.Encode(map[string]any{
				"event":   "log",
				"payload": fmt.Sprintf("language=%s model=%s threads=%s", p.Language, p.ModelPath, threads),
			})
			reply(map[string]any{"jobs": 1, "outputs": []string{p.InputPath + ".srt"}})
		default:
			_ = out.Encode(map[string]any{"id": req.ID, "error": map[string]any{"message": "unknown method " + req.Method}})
		}
	}
}
