package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDoctorReportsMissingRequiredAsset(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, env, "doctor")
	if err == nil {
		t.Fatal("expected doctor to fail while alpha is missing")
	}
	requireContains(t, err.Error(), "1 problem")
	requireContains(t, out, "Required assets:")
	requireContains(t, out, "missing: alpha")
	requireContains(t, out, "Worker ping:")
	requireContains(t, out, "pong (gpu: Fake GPU)")
}

func TestDoctorPassesWithAssetsInstalled(t *testing.T) {
	env := setupCLITestEnv(t)
	if err := os.MkdirAll(env.assetDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(env.assetDir, "alpha.bin"), []byte("ABCD"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, _, err := runCLI(t, env, "doctor", "--skip-ping")
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}
	requireContains(t, out, "[OK]")
	requireContains(t, out, "== Helper binaries ==")
}
