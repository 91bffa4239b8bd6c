package worker

import (
	"context"
	"encoding/json"
	"fmt"
)

// Caller sends one RPC call. *Supervisor satisfies it.
type Caller interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Worker method names.
const (
	MethodPing        = "ping"
	MethodListDevices = "list_devices"
	MethodSmokeTest   = "smoke_test"
	MethodTranscribe  = "transcribe"
)

// EventLog is emitted by transcribe with a human-readable string payload.
const EventLog = "log"

// PingResult describes the worker's readiness and primary GPU adapter.
type PingResult struct {
	Message    string `json:"message"`
	GPUEnabled bool   `json:"gpu_enabled"`
	GPUName    string `json:"gpu_name"`
	GPUBackend string `json:"gpu_backend"`
	GPUType    string `json:"gpu_type"`
}

// Device is one GPU adapter reported by list_devices.
type Device struct {
	Name       string `json:"name"`
	Vendor     uint32 `json:"vendor"`
	Device     uint32 `json:"device"`
	DeviceType string `json:"device_type"`
	Backend    string `json:"backend"`
	Driver     string `json:"driver"`
	DriverInfo string `json:"driver_info"`
}

// TranscribeResult lists the subtitle files written or found up to date.
type TranscribeResult struct {
	Jobs    int      `json:"jobs"`
	Outputs []string `json:"outputs"`
}

// Client exposes the worker's methods with typed results.
type Client struct {
	caller Caller
}

// NewClient wraps caller.
func NewClient(caller Caller) *Client {
	return &Client{caller: caller}
}

// Ping checks that the worker responds and reports GPU availability.
func (c *Client) Ping(ctx context.Context) (PingResult, error) {
	var out PingResult
	err := c.call(ctx, MethodPing, nil, &out)
	return out, err
}

// ListDevices enumerates GPU adapters visible to the worker.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	var out struct {
		Devices []Device `json:"devices"`
	}
	if err := c.call(ctx, MethodListDevices, nil, &out); err != nil {
		return nil, err
	}
	return out.Devices, nil
}

// SmokeTest asks the worker to allocate a device buffer and returns its report.
func (c *Client) SmokeTest(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	err := c.call(ctx, MethodSmokeTest, nil, &out)
	return out, err
}

// Transcribe validates params and runs a transcription job. Progress arrives
// as log events on the supervisor.
func (c *Client) Transcribe(ctx context.Context, params TranscribeParams) (TranscribeResult, error) {
	var out TranscribeResult
	normalized, err := params.Normalize()
	if err != nil {
		return out, err
	}
	err = c.call(ctx, MethodTranscribe, normalized, &out)
	return out, err
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	raw, err := c.caller.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}
