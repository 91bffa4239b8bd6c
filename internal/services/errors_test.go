package services_test

import (
	"errors"
	"strings"
	"testing"

	"aer/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "worker", "call", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	var svcErr *services.Error
	if !errors.As(err, &svcErr) || svcErr.Component != "worker" || svcErr.Operation != "call" {
		t.Fatalf("expected *services.Error with component and operation, got %#v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"worker", "call", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsMarkerAndDetail(t *testing.T) {
	err := services.Wrap(nil, " ", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected default detail, got %q", err.Error())
	}
}

func TestHint(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		empty bool
	}{
		{"nil", nil, true},
		{"configuration", services.Wrap(services.ErrConfiguration, "worker", "start", "missing", nil), false},
		{"not found", services.Wrap(services.ErrNotFound, "assets", "resolve", "", nil), false},
		{"timeout", services.Wrap(services.ErrTimeout, "worker", "call", "", nil), false},
		{"untagged", errors.New("plain"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hint := services.Hint(tt.err)
			if tt.empty && hint != "" {
				t.Fatalf("expected no hint, got %q", hint)
			}
			if !tt.empty && hint == "" {
				t.Fatal("expected a hint")
			}
		})
	}
}
