package worker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"testing"
	"time"
)

// TestHelperProcess stands in for the worker binary when the test binary is
// re-executed with GO_WANT_HELPER_PROCESS=1.
func TestHelperProcess(_ *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)
	runFakeWorker(os.Stdin, os.Stdout, os.Stderr, os.Getenv("WORKER_HELPER_MODE"))
}

type fakeRequest struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func runFakeWorker(stdin io.Reader, stdout, stderr io.Writer, mode string) {
	if mode == "crash-on-start" {
		fmt.Fprintln(stderr, "fatal: no compatible adapter")
		os.Exit(3)
	}
	fmt.Fprintln(stderr, "fake worker ready")
	if mode == "deaf" {
		time.Sleep(time.Hour)
	}

	write := func(v any) {
		data, _ := json.Marshal(v)
		fmt.Fprintf(stdout, "%s\n", data)
	}
	result := func(id int64, v any) {
		write(map[string]any{"id": id, "result": v})
	}

	var held []fakeRequest
	scanner := bufio.NewScanner(stdin)
	for scanner.Scan() {
		var req fakeRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			write(map[string]any{"id": 0, "error": map[string]string{"message": "Invalid request: " + err.Error()}})
			continue
		}
		switch req.Method {
		case "ping":
			result(req.ID, map[string]any{
				"message":     "Runtime ready",
				"gpu_enabled": true,
				"gpu_name":    "Test Adapter",
				"gpu_backend": "Vulkan",
				"gpu_type":    "DiscreteGpu",
			})
		case "list_devices":
			result(req.ID, map[string]any{"devices": []map[string]any{{
				"name": "Test Adapter", "vendor": 4098, "device": 29695,
				"device_type": "DiscreteGpu", "backend": "Vulkan",
				"driver": "radv", "driver_info": "Mesa 24.0",
			}}})
		case "smoke_test":
			result(req.ID, map[string]any{"message": "Smoke test ok on Test Adapter (Vulkan)"})
		case "transcribe":
			var params map[string]any
			_ = json.Unmarshal(req.Params, &params)
			write(map[string]any{"event": "log", "payload": fmt.Sprintf("Processing %v", params["input_path"])})
			write(map[string]any{"event": "log", "payload": fmt.Sprintf("language=%v", params["language"])})
			result(req.ID, map[string]any{"jobs": 1, "outputs": []string{"/out/a.srt"}})
		case "whoami":
			result(req.ID, map[string]any{"id": req.ID})
		case "hold":
			held = append(held, req)
			if len(held) == 2 {
				for i := len(held) - 1; i >= 0; i-- {
					result(held[i].ID, json.RawMessage(held[i].Params))
				}
				held = nil
			}
		case "garbage":
			fmt.Fprintln(stdout, "this is not json")
			fmt.Fprint(stdout, `{"id":`+"\n")
			write(map[string]any{"id": 999999, "result": map[string]any{}})
			write(map[string]any{"event": 7})
			result(req.ID, map[string]any{"ok": true})
		case "fail":
			write(map[string]any{"id": req.ID, "error": map[string]string{"message": "Unknown method: fail"}})
		case "fail-empty":
			write(map[string]any{"id": req.ID, "error": map[string]any{}})
		case "stderr":
			fmt.Fprintln(stderr, "diagnostic line from worker")
			result(req.ID, map[string]any{})
		case "exit":
			var params struct {
				Code int `json:"code"`
			}
			_ = json.Unmarshal(req.Params, &params)
			os.Exit(params.Code)
		case "hang":
		default:
			write(map[string]any{"id": req.ID, "error": map[string]string{"message": "Unknown method: " + req.Method}})
		}
	}

	if mode == "ignore-eof" {
		time.Sleep(time.Hour)
	}
}
